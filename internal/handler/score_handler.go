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

type scoreEntryService interface {
	BulkUpsert(ctx context.Context, tenantID string, req service.BulkScoresRequest) (*service.BulkScoresResult, error)
	StudentScores(ctx context.Context, tenantID, studentID, termID, classID string) ([]models.ScoreEntry, error)
}

// ScoreHandler accepts teacher score entry.
type ScoreHandler struct {
	scores scoreEntryService
}

// NewScoreHandler constructs handler.
func NewScoreHandler(scores scoreEntryService) *ScoreHandler {
	return &ScoreHandler{scores: scores}
}

// BulkUpsert godoc
// @Summary Save assessment scores for a class
// @Tags Scores
// @Accept json
// @Produce json
// @Param payload body service.BulkScoresRequest true "Scores"
// @Success 200 {object} response.Envelope
// @Router /scores/bulk [post]
func (h *ScoreHandler) BulkUpsert(c *gin.Context) {
	var req service.BulkScoresRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid score payload"))
		return
	}
	result, err := h.scores.BulkUpsert(c.Request.Context(), middleware.TenantID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// StudentScores lists a student's raw scores for a term.
func (h *ScoreHandler) StudentScores(c *gin.Context) {
	entries, err := h.scores.StudentScores(c.Request.Context(), middleware.TenantID(c), c.Param("studentId"), c.Query("term_id"), c.Query("class_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, map[string]interface{}{"count": len(entries)})
}
