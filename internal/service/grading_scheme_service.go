package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-results-api/internal/grading"
	"github.com/noah-isme/sma-results-api/internal/models"
)

type gradingRuleStore interface {
	ListByTenant(ctx context.Context, tenantID string) ([]models.GradeRule, error)
	Replace(ctx context.Context, tenantID string, rules []models.GradeRule) error
}

// GradeRuleInput is one band of a submitted grading table.
type GradeRuleInput struct {
	MinScore int     `json:"min_score" validate:"min=0,max=100"`
	MaxScore int     `json:"max_score" validate:"min=0,max=100,gtefield=MinScore"`
	Grade    string  `json:"grade" validate:"required,max=8"`
	Remark   string  `json:"remark" validate:"max=64"`
	Points   float64 `json:"points" validate:"min=0"`
}

// ReplaceGradingSchemeRequest replaces a tenant's whole grading table.
type ReplaceGradingSchemeRequest struct {
	Rules []GradeRuleInput `json:"rules" validate:"required,min=1,dive"`
}

// GradingSchemeService resolves the grading table a tenant computes with.
type GradingSchemeService struct {
	store     gradingRuleStore
	validator *validator.Validate
	logger    *zap.Logger
}

// NewGradingSchemeService constructs GradingSchemeService.
func NewGradingSchemeService(store gradingRuleStore, validate *validator.Validate, logger *zap.Logger) *GradingSchemeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradingSchemeService{store: store, validator: validate, logger: logger}
}

// Scheme returns the tenant's table, or the built-in default when none is configured.
func (s *GradingSchemeService) Scheme(ctx context.Context, tenantID string) (*models.GradingScheme, error) {
	rules, err := s.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, internalError(err, "failed to load grading scheme")
	}
	if len(rules) == 0 {
		return &models.GradingScheme{TenantID: tenantID, IsDefault: true, Rules: models.DefaultGradingScheme()}, nil
	}
	if err := grading.ValidateScheme(rules); err != nil {
		s.logger.Sugar().Warnw("stored grading scheme is invalid", "tenant_id", tenantID, "error", err)
		return nil, err
	}
	return &models.GradingScheme{TenantID: tenantID, Rules: rules}, nil
}

// Replace validates and stores a new table. Results already computed keep their grades until recomputed.
func (s *GradingSchemeService) Replace(ctx context.Context, tenantID string, req ReplaceGradingSchemeRequest) (*models.GradingScheme, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid grading scheme payload")
	}
	rules := make([]models.GradeRule, 0, len(req.Rules))
	for _, in := range req.Rules {
		rules = append(rules, models.GradeRule{TenantID: tenantID, MinScore: in.MinScore, MaxScore: in.MaxScore, Grade: in.Grade, Remark: in.Remark, Points: in.Points})
	}
	if err := grading.ValidateScheme(rules); err != nil {
		return nil, err
	}
	if err := s.store.Replace(ctx, tenantID, rules); err != nil {
		return nil, internalError(err, "failed to store grading scheme")
	}
	s.logger.Sugar().Infow("grading scheme replaced", "tenant_id", tenantID, "bands", len(rules))
	return &models.GradingScheme{TenantID: tenantID, Rules: rules}, nil
}
