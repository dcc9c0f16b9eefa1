package service

import (
	"errors"

	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
)

// internalError keeps typed errors intact and wraps everything else as INTERNAL_ERROR.
func internalError(err error, message string) error {
	var typed *appErrors.Error
	if errors.As(err, &typed) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func validationError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}
