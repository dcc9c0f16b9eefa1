package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-results-api/internal/middleware"
	"github.com/noah-isme/sma-results-api/internal/models"
	"github.com/noah-isme/sma-results-api/internal/service"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
	"github.com/noah-isme/sma-results-api/pkg/response"
)

type gradingSchemes interface {
	Scheme(ctx context.Context, tenantID string) (*models.GradingScheme, error)
	Replace(ctx context.Context, tenantID string, req service.ReplaceGradingSchemeRequest) (*models.GradingScheme, error)
}

// GradingSchemeHandler manages a tenant's grade bands.
type GradingSchemeHandler struct {
	schemes gradingSchemes
}

// NewGradingSchemeHandler constructs handler.
func NewGradingSchemeHandler(schemes gradingSchemes) *GradingSchemeHandler {
	return &GradingSchemeHandler{schemes: schemes}
}

// Get returns the active table, which is the default one until the tenant configures its own.
func (h *GradingSchemeHandler) Get(c *gin.Context) {
	scheme, err := h.schemes.Scheme(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, scheme)
}

// Replace stores a new table for the tenant.
func (h *GradingSchemeHandler) Replace(c *gin.Context) {
	var req service.ReplaceGradingSchemeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid grading scheme payload"))
		return
	}
	scheme, err := h.schemes.Replace(c.Request.Context(), middleware.TenantID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, scheme)
}
