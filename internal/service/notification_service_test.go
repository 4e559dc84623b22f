package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kovancilartr/learnapp-api/internal/dto"
	"github.com/kovancilartr/learnapp-api/internal/models"
	appErrors "github.com/kovancilartr/learnapp-api/pkg/errors"
	"github.com/kovancilartr/learnapp-api/pkg/mailer"
	"github.com/kovancilartr/learnapp-api/pkg/webhook"
)

type memNotificationStore struct {
	mu        sync.Mutex
	created   []models.Notification
	createErr error
	filter    models.NotificationFilter
}

func (m *memNotificationStore) Create(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	n.ID = "notif-1"
	m.created = append(m.created, *n)
	return nil
}

func (m *memNotificationStore) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	m.filter = filter
	return nil, 0, nil
}

func (m *memNotificationStore) MarkRead(ctx context.Context, userID, id string, at time.Time) error {
	if id != "notif-1" || userID != "user-1" {
		return sql.ErrNoRows
	}
	return nil
}

type captureMailer struct {
	sent chan mailer.Message
	err  error
}

func (c *captureMailer) Send(ctx context.Context, msg mailer.Message) error {
	c.sent <- msg
	return c.err
}

type captureHook struct {
	events chan webhook.Event
}

func (c *captureHook) Post(ctx context.Context, event webhook.Event) error {
	c.events <- event
	return nil
}

func TestNotificationServiceNotifyEnrollmentOutcome(t *testing.T) {
	store := &memNotificationStore{}
	mail := &captureMailer{sent: make(chan mailer.Message, 1)}
	hook := &captureHook{events: make(chan webhook.Event, 1)}
	svc := NewNotificationService(store, mail, hook, NotificationConfig{Workers: 1}, nil, zap.NewNop())

	ctx := context.Background()
	svc.Start(ctx)
	defer svc.Stop(ctx)

	err := svc.NotifyEnrollmentOutcome(ctx, dto.EnrollmentOutcomeNotice{
		RequestID:   "req-1",
		UserID:      "user-1",
		Email:       "ada@example.com",
		FullName:    "Ada Lovelace",
		CourseTitle: "Algorithms",
		Outcome:     "approved",
		AdminNote:   strPtr("welcome aboard"),
	})
	require.NoError(t, err)

	require.Len(t, store.created, 1)
	n := store.created[0]
	assert.Equal(t, models.NotificationEnrollmentApproved, n.Type)
	assert.Equal(t, "user-1", n.UserID)
	assert.Contains(t, n.Message, "Algorithms")
	assert.Contains(t, n.Message, "welcome aboard")
	assert.False(t, n.Read)

	select {
	case msg := <-mail.sent:
		assert.Equal(t, "ada@example.com", msg.ToEmail)
		assert.Equal(t, "enrollment-approved", msg.Category)
	case <-time.After(2 * time.Second):
		t.Fatal("email was not delivered")
	}
	select {
	case event := <-hook.events:
		assert.Equal(t, "enrollment_request.reviewed", event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestNotificationServiceRejectedNotice(t *testing.T) {
	store := &memNotificationStore{}
	svc := NewNotificationService(store, nil, nil, NotificationConfig{}, nil, zap.NewNop())

	require.NoError(t, svc.NotifyEnrollmentOutcome(context.Background(), dto.EnrollmentOutcomeNotice{UserID: "user-1", CourseTitle: "Compilers", Outcome: "rejected"}))
	require.Len(t, store.created, 1)
	assert.Equal(t, models.NotificationEnrollmentRejected, store.created[0].Type)
}

func TestNotificationServiceStoreFailure(t *testing.T) {
	store := &memNotificationStore{createErr: errors.New("db down")}
	svc := NewNotificationService(store, nil, nil, NotificationConfig{}, nil, zap.NewNop())

	err := svc.NotifyEnrollmentOutcome(context.Background(), dto.EnrollmentOutcomeNotice{UserID: "user-1", Outcome: "approved"})
	assert.Error(t, err)
}

func TestNotificationServiceFailedDeliveryIsCounted(t *testing.T) {
	metrics := NewMetricsService()
	mail := &captureMailer{sent: make(chan mailer.Message, 4), err: errors.New("sendgrid 500")}
	svc := NewNotificationService(&memNotificationStore{}, mail, nil, NotificationConfig{Workers: 1, MaxRetries: 1, RetryDelay: 10 * time.Millisecond}, metrics, zap.NewNop())

	ctx := context.Background()
	svc.Start(ctx)
	require.NoError(t, svc.NotifyEnrollmentOutcome(ctx, dto.EnrollmentOutcomeNotice{UserID: "user-1", Email: "ada@example.com", Outcome: "approved"}))

	assert.Eventually(t, func() bool {
		return metrics.Snapshot().NotificationFailures == 1
	}, 2*time.Second, 10*time.Millisecond)
	svc.Stop(ctx)
	assert.Len(t, mail.sent, 2)
}

func TestNotificationServiceListAndMarkRead(t *testing.T) {
	store := &memNotificationStore{}
	svc := NewNotificationService(store, nil, nil, NotificationConfig{}, nil, zap.NewNop())
	ctx := context.Background()

	items, pagination, err := svc.List(ctx, "user-1", dto.NotificationQuery{UnreadOnly: true})
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Equal(t, 20, pagination.Limit)
	assert.Equal(t, models.NotificationFilter{UserID: "user-1", UnreadOnly: true, Page: 1, Limit: 20}, store.filter)

	_, _, err = svc.List(ctx, "user-1", dto.NotificationQuery{Limit: 500})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	require.NoError(t, svc.MarkRead(ctx, "user-1", "notif-1"))
	assert.ErrorIs(t, svc.MarkRead(ctx, "user-2", "notif-1"), appErrors.ErrNotFound)
}
