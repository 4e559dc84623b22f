package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kovancilartr/learnapp-api/internal/dto"
	"github.com/kovancilartr/learnapp-api/internal/models"
	appErrors "github.com/kovancilartr/learnapp-api/pkg/errors"
)

const (
	defaultBulkConcurrency = 1
	defaultBulkMaxItems    = 100
)

type requestDecider interface {
	Decide(ctx context.Context, id string, outcome models.EnrollmentRequestStatus, adminNote *string, reviewerID string) (*models.EnrollmentRequest, error)
}

// BulkConfig bounds a bulk review call.
type BulkConfig struct {
	// Concurrency is the number of requests decided at once; 1 keeps input order.
	Concurrency int
	MaxItems    int
}

// EnrollmentBulkService applies one decision to many requests, each in its own
// transaction, and reports per-request outcomes.
type EnrollmentBulkService struct {
	decider   requestDecider
	cfg       BulkConfig
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewEnrollmentBulkService constructs the coordinator.
func NewEnrollmentBulkService(decider requestDecider, cfg BulkConfig, metrics *MetricsService, logger *zap.Logger) *EnrollmentBulkService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultBulkConcurrency
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = defaultBulkMaxItems
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentBulkService{decider: decider, cfg: cfg, validator: validator.New(), metrics: metrics, logger: logger}
}

// BulkDecide runs Decide for every id. A failure on one id never aborts the
// others and committed items are not rolled back.
func (s *EnrollmentBulkService) BulkDecide(ctx context.Context, req dto.BulkReviewRequest, reviewerID string) (*dto.BulkResult, error) {
	if len(req.RequestIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "no request IDs provided")
	}
	var outcome models.EnrollmentRequestStatus
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case dto.ReviewActionApprove:
		outcome = models.EnrollmentRequestApproved
	case dto.ReviewActionReject:
		outcome = models.EnrollmentRequestRejected
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "action must be approve or reject")
	}
	if len(req.RequestIDs) > s.cfg.MaxItems {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, fmt.Sprintf("at most %d request IDs may be reviewed at once", s.cfg.MaxItems))
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk review payload")
	}

	outcomes := make([]error, len(req.RequestIDs))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, id := range req.RequestIDs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = err
				return nil
			}
			_, outcomes[i] = s.decider.Decide(ctx, strings.TrimSpace(id), outcome, req.AdminNote, reviewerID)
			return nil
		})
	}
	_ = g.Wait()

	result := &dto.BulkResult{
		Successful:     make([]string, 0, len(req.RequestIDs)),
		Failed:         make([]dto.BulkFailure, 0),
		TotalProcessed: len(req.RequestIDs),
	}
	for i, id := range req.RequestIDs {
		if outcomes[i] == nil {
			result.Successful = append(result.Successful, id)
			continue
		}
		appErr := appErrors.FromError(outcomes[i])
		result.Failed = append(result.Failed, dto.BulkFailure{
			RequestID: id,
			Code:      appErr.Code,
			Error:     appErr.Message,
		})
	}
	result.SuccessCount = len(result.Successful)
	result.FailureCount = len(result.Failed)

	s.metrics.ObserveBulkReview(result.TotalProcessed, result.SuccessCount, result.FailureCount)
	s.logger.Info("bulk enrollment review finished",
		zap.String("action", string(outcome)),
		zap.String("reviewer_id", reviewerID),
		zap.Int("total", result.TotalProcessed),
		zap.Int("succeeded", result.SuccessCount),
		zap.Int("failed", result.FailureCount),
	)
	return result, nil
}
