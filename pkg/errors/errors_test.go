package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneMatchesSentinel(t *testing.T) {
	err := Clone(ErrNoComputedResults, "nothing to publish for class c1")
	assert.True(t, errors.Is(err, ErrNoComputedResults))
	assert.False(t, errors.Is(err, ErrNoPublishedResults))
	assert.Equal(t, "nothing to publish for class c1", err.Error())
}

func TestFromErrorWrapsUntyped(t *testing.T) {
	appErr := FromError(fmt.Errorf("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Nil(t, FromError(nil))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("connection reset")))
	assert.True(t, IsTransient(Clone(ErrResultsLocked, "")))
	assert.True(t, IsTransient(Wrap(fmt.Errorf("db down"), ErrInternal.Code, ErrInternal.Status, "load scores")))
	assert.False(t, IsTransient(Clone(ErrValidation, "bad term")))
	assert.False(t, IsTransient(Clone(ErrPreconditionFailed, "published")))
	assert.False(t, IsTransient(nil))
}
