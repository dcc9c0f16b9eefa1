package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-results-api/internal/middleware"
	"github.com/noah-isme/sma-results-api/internal/models"
	"github.com/noah-isme/sma-results-api/internal/service"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
	"github.com/noah-isme/sma-results-api/pkg/response"
)

type computationJobs interface {
	Submit(ctx context.Context, tenantID string, req models.ComputationRequest) (*models.ComputationJob, error)
	GetProgress(ctx context.Context, id string) (*models.ComputationJob, error)
}

type resultPublisher interface {
	Publish(ctx context.Context, tenantID string, req service.PublishRequest) (*service.PublishOutcome, error)
	Unpublish(ctx context.Context, tenantID string, req service.PublishRequest) (*service.PublishOutcome, error)
}

type resultQueries interface {
	ClassStatistics(ctx context.Context, scope models.ResultScope, subjectID string) (*models.ClassStatistics, error)
	Positions(ctx context.Context, scope models.ResultScope) (map[string]int, error)
	SubjectPositions(ctx context.Context, scope models.ResultScope, subjectID string) (map[string]int, error)
	StudentResult(ctx context.Context, tenantID, studentID, termID string, publishedOnly bool) (*models.StudentTermReport, error)
	Broadsheet(ctx context.Context, scope models.ResultScope) (*models.Broadsheet, error)
	ExportBroadsheet(ctx context.Context, scope models.ResultScope, format string) (*service.ExportedDocument, error)
}

// ResultHandler exposes result computation, publication and read endpoints.
type ResultHandler struct {
	jobs      computationJobs
	publisher resultPublisher
	queries   resultQueries
}

// NewResultHandler constructs handler.
func NewResultHandler(jobs computationJobs, publisher resultPublisher, queries resultQueries) *ResultHandler {
	return &ResultHandler{jobs: jobs, publisher: publisher, queries: queries}
}

// Compute godoc
// @Summary Queue result computation for a class
// @Tags Results
// @Accept json
// @Produce json
// @Param payload body models.ComputationRequest true "Computation request"
// @Success 202 {object} response.Envelope
// @Router /results/compute [post]
func (h *ResultHandler) Compute(c *gin.Context) {
	var req models.ComputationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid computation payload"))
		return
	}
	job, err := h.jobs.Submit(c.Request.Context(), middleware.TenantID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, job)
}

// JobStatus godoc
// @Summary Computation job progress
// @Tags Results
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /results/jobs/{id} [get]
func (h *ResultHandler) JobStatus(c *gin.Context) {
	job, err := h.jobs.GetProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if job.TenantID != middleware.TenantID(c) {
		response.Error(c, appErrors.ErrJobNotFound)
		return
	}
	response.JSON(c, http.StatusOK, job)
}

// Publish godoc
// @Summary Publish computed results for a class
// @Tags Results
// @Accept json
// @Produce json
// @Param payload body service.PublishRequest true "Class and term"
// @Success 200 {object} response.Envelope
// @Router /results/publish [post]
func (h *ResultHandler) Publish(c *gin.Context) {
	h.transition(c, h.publisher.Publish)
}

// Unpublish godoc
// @Summary Return published results to computed
// @Tags Results
// @Accept json
// @Produce json
// @Param payload body service.PublishRequest true "Class and term"
// @Success 200 {object} response.Envelope
// @Router /results/unpublish [post]
func (h *ResultHandler) Unpublish(c *gin.Context) {
	h.transition(c, h.publisher.Unpublish)
}

func (h *ResultHandler) transition(c *gin.Context, apply func(context.Context, string, service.PublishRequest) (*service.PublishOutcome, error)) {
	var req service.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid publish payload"))
		return
	}
	outcome, err := apply(c.Request.Context(), middleware.TenantID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome)
}

// Statistics godoc
// @Summary Class statistics for the term, or for one subject
// @Tags Results
// @Produce json
// @Param classId path string true "Class ID"
// @Param term_id query string true "Term ID"
// @Param subject_id query string false "Subject ID"
// @Success 200 {object} response.Envelope
// @Router /results/classes/{classId}/statistics [get]
func (h *ResultHandler) Statistics(c *gin.Context) {
	scope, ok := classScope(c)
	if !ok {
		return
	}
	stats, err := h.queries.ClassStatistics(c.Request.Context(), scope, c.Query("subject_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats)
}

// Positions godoc
// @Summary Class positions by term average
// @Tags Results
// @Produce json
// @Param classId path string true "Class ID"
// @Param term_id query string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /results/classes/{classId}/positions [get]
func (h *ResultHandler) Positions(c *gin.Context) {
	scope, ok := classScope(c)
	if !ok {
		return
	}
	positions, err := h.queries.Positions(c.Request.Context(), scope)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, positions)
}

// SubjectPositions ranks the class within one subject.
func (h *ResultHandler) SubjectPositions(c *gin.Context) {
	scope, ok := classScope(c)
	if !ok {
		return
	}
	positions, err := h.queries.SubjectPositions(c.Request.Context(), scope, c.Param("subjectId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, positions)
}

// Broadsheet returns every stored result of the class.
func (h *ResultHandler) Broadsheet(c *gin.Context) {
	scope, ok := classScope(c)
	if !ok {
		return
	}
	sheet, err := h.queries.Broadsheet(c.Request.Context(), scope)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sheet)
}

// ExportBroadsheet godoc
// @Summary Download the class broadsheet
// @Tags Results
// @Produce text/csv,application/pdf
// @Param classId path string true "Class ID"
// @Param term_id query string true "Term ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /results/classes/{classId}/broadsheet/export [get]
func (h *ResultHandler) ExportBroadsheet(c *gin.Context) {
	scope, ok := classScope(c)
	if !ok {
		return
	}
	doc, err := h.queries.ExportBroadsheet(c.Request.Context(), scope, c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	c.Data(http.StatusOK, doc.ContentType, doc.Body)
}

// StudentResult godoc
// @Summary Student term result with subject breakdown
// @Tags Results
// @Produce json
// @Param studentId path string true "Student ID"
// @Param term_id query string true "Term ID"
// @Param published_only query bool false "Hide unpublished results"
// @Success 200 {object} response.Envelope
// @Router /results/students/{studentId} [get]
func (h *ResultHandler) StudentResult(c *gin.Context) {
	termID := c.Query("term_id")
	if termID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "term_id required"))
		return
	}
	publishedOnly, err := strconv.ParseBool(c.DefaultQuery("published_only", "false"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "published_only must be a boolean"))
		return
	}
	report, err := h.queries.StudentResult(c.Request.Context(), middleware.TenantID(c), c.Param("studentId"), termID, publishedOnly)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report)
}

func classScope(c *gin.Context) (models.ResultScope, bool) {
	termID := c.Query("term_id")
	if termID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "term_id required"))
		return models.ResultScope{}, false
	}
	return models.ResultScope{TenantID: middleware.TenantID(c), TermID: termID, ClassID: c.Param("classId")}, true
}
