package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kovancilartr/learnapp-api/internal/dto"
	"github.com/kovancilartr/learnapp-api/internal/models"
	appErrors "github.com/kovancilartr/learnapp-api/pkg/errors"
	"github.com/kovancilartr/learnapp-api/pkg/jobs"
	"github.com/kovancilartr/learnapp-api/pkg/mailer"
	"github.com/kovancilartr/learnapp-api/pkg/webhook"
)

// Delivery channels beyond the in-app row.
const (
	ChannelInApp   = "in_app"
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
)

const webhookEventEnrollmentReviewed = "enrollment_request.reviewed"

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, userID, id string, at time.Time) error
}

// MailSender delivers a single email.
type MailSender interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// WebhookPoster publishes an outbound event.
type WebhookPoster interface {
	Post(ctx context.Context, event webhook.Event) error
}

// NotificationConfig configures the delivery worker pool.
type NotificationConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// NotificationService stores in-app notifications and fans decisions out to
// email and webhook channels through a background queue.
type NotificationService struct {
	store   notificationStore
	mail    MailSender
	hook    WebhookPoster
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewNotificationService wires the service. mail and hook may be nil to
// disable those channels.
func NewNotificationService(store notificationStore, mail MailSender, hook WebhookPoster, cfg NotificationConfig, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{
		store:   store,
		mail:    mail,
		hook:    hook,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	svc.queue = jobs.NewQueue("notifications", svc.deliver, jobs.Config{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		OnDead: func(job jobs.Job, _ error) {
			svc.metrics.RecordNotificationFailure(job.Kind)
		},
	})
	return svc
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains queued deliveries until ctx expires.
func (s *NotificationService) Stop(ctx context.Context) {
	s.queue.Stop(ctx)
}

// NotifyEnrollmentOutcome records the in-app notification and schedules the
// external channels. Only the in-app write is reported to the caller.
func (s *NotificationService) NotifyEnrollmentOutcome(ctx context.Context, notice dto.EnrollmentOutcomeNotice) error {
	n := outcomeNotification(notice)
	n.CreatedAt = s.now()
	if err := s.store.Create(ctx, n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}

	if s.mail != nil && notice.Email != "" {
		s.enqueue(ChannelEmail, notice)
	}
	if s.hook != nil {
		s.enqueue(ChannelWebhook, notice)
	}
	return nil
}

// List returns the caller's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, query dto.NotificationQuery) ([]models.Notification, *models.Pagination, error) {
	if query.Page < 0 || query.Limit < 0 || query.Limit > maxListLimit {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid pagination parameters")
	}
	filter := models.NotificationFilter{UserID: userID, UnreadOnly: query.UnreadOnly, Page: query.Page, Limit: query.Limit}
	if filter.Page == 0 {
		filter.Page = 1
	}
	if filter.Limit == 0 {
		filter.Limit = 20
	}
	items, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	if items == nil {
		items = []models.Notification{}
	}
	return items, models.NewPagination(filter.Page, filter.Limit, total), nil
}

// MarkRead flags one of the caller's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	if err := s.store.MarkRead(ctx, userID, id, s.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update notification")
	}
	return nil
}

func (s *NotificationService) enqueue(kind string, notice dto.EnrollmentOutcomeNotice) {
	job := jobs.Job{ID: uuid.NewString(), Kind: kind, Payload: notice}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("notification not scheduled",
			zap.String("channel", kind),
			zap.String("request_id", notice.RequestID),
			zap.Error(err),
		)
		s.metrics.RecordNotificationFailure(kind)
	}
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	notice, ok := job.Payload.(dto.EnrollmentOutcomeNotice)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	switch job.Kind {
	case ChannelEmail:
		return s.mail.Send(ctx, outcomeEmail(notice))
	case ChannelWebhook:
		return s.hook.Post(ctx, webhook.Event{
			Type:       webhookEventEnrollmentReviewed,
			OccurredAt: s.now(),
			Data: map[string]interface{}{
				"requestId":   notice.RequestID,
				"userId":      notice.UserID,
				"courseTitle": notice.CourseTitle,
				"outcome":     notice.Outcome,
			},
		})
	default:
		return fmt.Errorf("unknown notification channel %q", job.Kind)
	}
}

func outcomeNotification(notice dto.EnrollmentOutcomeNotice) *models.Notification {
	n := &models.Notification{UserID: notice.UserID}
	if notice.Outcome == "approved" {
		n.Type = models.NotificationEnrollmentApproved
		n.Title = "Enrollment approved"
		n.Message = fmt.Sprintf("Your request to join %s was approved.", notice.CourseTitle)
	} else {
		n.Type = models.NotificationEnrollmentRejected
		n.Title = "Enrollment rejected"
		n.Message = fmt.Sprintf("Your request to join %s was rejected.", notice.CourseTitle)
	}
	if notice.AdminNote != nil && strings.TrimSpace(*notice.AdminNote) != "" {
		n.Message += " Note: " + strings.TrimSpace(*notice.AdminNote)
	}
	return n
}

func outcomeEmail(notice dto.EnrollmentOutcomeNotice) mailer.Message {
	n := outcomeNotification(notice)
	greeting := "Hello"
	if notice.FullName != "" {
		greeting += " " + notice.FullName
	}
	return mailer.Message{
		ToName:   notice.FullName,
		ToEmail:  notice.Email,
		Subject:  n.Title + ": " + notice.CourseTitle,
		Text:     greeting + ",\n\n" + n.Message + "\n",
		Category: "enrollment-" + notice.Outcome,
	}
}
