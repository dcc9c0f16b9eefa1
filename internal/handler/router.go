package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-results-api/internal/middleware"
	"github.com/noah-isme/sma-results-api/internal/service"
	"github.com/noah-isme/sma-results-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-results-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-results-api/pkg/middleware/requestid"
)

// RouterConfig carries everything NewRouter mounts.
type RouterConfig struct {
	APIPrefix      string
	AllowedOrigins []string
	Logger         *zap.Logger
	Metrics        *service.MetricsService

	Results       *ResultHandler
	Scores        *ScoreHandler
	GradingScheme *GradingSchemeHandler
	Observability *MetricsHandler
}

// NewRouter builds the gin engine. Tenant-scoped routes live under the API prefix;
// /metrics and /health stay at the root for scrapers and probes.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	if cfg.Logger != nil {
		r.Use(logger.GinMiddleware(cfg.Logger))
	}
	r.Use(corsmiddleware.New(cfg.AllowedOrigins))
	r.Use(middleware.Metrics(cfg.Metrics))

	if cfg.Observability != nil {
		r.GET("/metrics", cfg.Observability.Prometheus)
		r.GET("/health", cfg.Observability.Health)
	}

	api := r.Group(cfg.APIPrefix, middleware.Tenant())

	results := api.Group("/results")
	results.POST("/compute", cfg.Results.Compute)
	results.GET("/jobs/:id", cfg.Results.JobStatus)
	results.POST("/publish", cfg.Results.Publish)
	results.POST("/unpublish", cfg.Results.Unpublish)
	results.GET("/classes/:classId/statistics", cfg.Results.Statistics)
	results.GET("/classes/:classId/positions", cfg.Results.Positions)
	results.GET("/classes/:classId/subjects/:subjectId/positions", cfg.Results.SubjectPositions)
	results.GET("/classes/:classId/broadsheet", cfg.Results.Broadsheet)
	results.GET("/classes/:classId/broadsheet/export", cfg.Results.ExportBroadsheet)
	results.GET("/students/:studentId", cfg.Results.StudentResult)

	scores := api.Group("/scores")
	scores.POST("/bulk", cfg.Scores.BulkUpsert)
	scores.GET("/students/:studentId", cfg.Scores.StudentScores)

	api.GET("/grading-scheme", cfg.GradingScheme.Get)
	api.PUT("/grading-scheme", cfg.GradingScheme.Replace)

	return r
}
