package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/kovancilartr/learnapp-api/internal/dto"
	"github.com/kovancilartr/learnapp-api/internal/models"
	"github.com/kovancilartr/learnapp-api/internal/repository"
	appErrors "github.com/kovancilartr/learnapp-api/pkg/errors"
)

type enrollmentRequestStore interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.EnrollmentRequest, error)
	FindByStudentAndCourse(ctx context.Context, exec sqlx.ExtContext, studentID, courseID string) (*models.EnrollmentRequest, error)
	Create(ctx context.Context, exec sqlx.ExtContext, req *models.EnrollmentRequest) error
	Resubmit(ctx context.Context, exec sqlx.ExtContext, id string, message *string, at time.Time) error
	UpdateDecision(ctx context.Context, exec sqlx.ExtContext, params repository.DecisionParams) error
}

type enrollmentStore interface {
	Exists(ctx context.Context, exec sqlx.ExtContext, studentID, courseID string) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error
}

type txRunner interface {
	WithinTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) error
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type outcomeNotifier interface {
	NotifyEnrollmentOutcome(ctx context.Context, notice dto.EnrollmentOutcomeNotice) error
}

// EnrollmentRequestService owns the request lifecycle: submission, resubmission
// after rejection and the PENDING to APPROVED/REJECTED transition.
type EnrollmentRequestService struct {
	requests    enrollmentRequestStore
	enrollments enrollmentStore
	tx          txRunner
	students    studentReader
	courses     courseReader
	notifier    outcomeNotifier
	cache       *CacheService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// EnrollmentRequestServiceOption configures optional collaborators.
type EnrollmentRequestServiceOption func(*EnrollmentRequestService)

// WithOutcomeNotifier sets the dispatcher informed after each decision commits.
func WithOutcomeNotifier(notifier outcomeNotifier) EnrollmentRequestServiceOption {
	return func(s *EnrollmentRequestService) {
		s.notifier = notifier
	}
}

// WithRequestCache sets the cache invalidated on every write.
func WithRequestCache(cache *CacheService) EnrollmentRequestServiceOption {
	return func(s *EnrollmentRequestService) {
		s.cache = cache
	}
}

// WithRequestMetrics sets the metrics sink for decisions.
func WithRequestMetrics(metrics *MetricsService) EnrollmentRequestServiceOption {
	return func(s *EnrollmentRequestService) {
		s.metrics = metrics
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EnrollmentRequestServiceOption {
	return func(s *EnrollmentRequestService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewEnrollmentRequestService constructs the lifecycle service.
func NewEnrollmentRequestService(
	requests enrollmentRequestStore,
	enrollments enrollmentStore,
	tx txRunner,
	students studentReader,
	courses courseReader,
	validate *validator.Validate,
	logger *zap.Logger,
	opts ...EnrollmentRequestServiceOption,
) *EnrollmentRequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &EnrollmentRequestService{
		requests:    requests,
		enrollments: enrollments,
		tx:          tx,
		students:    students,
		courses:     courses,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit is the transport entry point for new requests. Students always submit
// for their own profile; administrators name the student explicitly.
func (s *EnrollmentRequestService) Submit(ctx context.Context, actor models.Actor, req dto.CreateEnrollmentRequest) (*models.EnrollmentRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment request payload")
	}

	studentID := strings.TrimSpace(req.StudentID)
	switch {
	case actor.Role == models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, actor.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "student profile not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
		}
		if studentID != "" && studentID != student.ID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only request enrollment for themselves")
		}
		studentID = student.ID
	case actor.Role.IsAdmin():
		if studentID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "studentId is required")
		}
	default:
		return nil, appErrors.ErrForbidden
	}

	return s.Create(ctx, studentID, strings.TrimSpace(req.CourseID), normalizeNote(req.Message))
}

// Create files a request for the pair, reviving a previously rejected one.
func (s *EnrollmentRequestService) Create(ctx context.Context, studentID, courseID string, message *string) (*models.EnrollmentRequest, error) {
	if err := s.ensureStudent(ctx, studentID); err != nil {
		return nil, err
	}
	if err := s.ensureCourse(ctx, courseID); err != nil {
		return nil, err
	}

	var result *models.EnrollmentRequest
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		enrolled, err := s.enrollments.Exists(ctx, exec, studentID, courseID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}
		if enrolled {
			return appErrors.ErrAlreadyEnrolled
		}

		existing, err := s.requests.FindByStudentAndCourse(ctx, exec, studentID, courseID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment request")
		}
		if existing != nil {
			result, err = s.resubmit(ctx, exec, existing, message)
			return err
		}

		req := &models.EnrollmentRequest{
			StudentID: studentID,
			CourseID:  courseID,
			Status:    models.EnrollmentRequestPending,
			Message:   message,
			CreatedAt: s.now(),
		}
		if err := s.requests.Create(ctx, exec, req); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return appErrors.ErrRequestAlreadyPending
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment request")
		}
		result = req
		return nil
	})
	if err != nil {
		return nil, asAppError(err, "failed to create enrollment request")
	}

	s.invalidate(ctx)
	s.logger.Info("enrollment request submitted",
		zap.String("request_id", result.ID),
		zap.String("student_id", studentID),
		zap.String("course_id", courseID),
	)
	return result, nil
}

func (s *EnrollmentRequestService) resubmit(ctx context.Context, exec sqlx.ExtContext, existing *models.EnrollmentRequest, message *string) (*models.EnrollmentRequest, error) {
	switch existing.Status {
	case models.EnrollmentRequestPending:
		return nil, appErrors.ErrRequestAlreadyPending
	case models.EnrollmentRequestApproved:
		return nil, appErrors.ErrRequestAlreadyApproved
	}

	now := s.now()
	if err := s.requests.Resubmit(ctx, exec, existing.ID, message, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrRequestAlreadyPending
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resubmit enrollment request")
	}
	existing.Status = models.EnrollmentRequestPending
	existing.Message = message
	existing.AdminNote = nil
	existing.ReviewedBy = nil
	existing.ReviewedAt = nil
	existing.UpdatedAt = now
	return existing, nil
}

// Approve accepts a pending request and enrolls the student.
func (s *EnrollmentRequestService) Approve(ctx context.Context, id string, adminNote *string, reviewerID string) (*models.EnrollmentRequest, error) {
	return s.Decide(ctx, id, models.EnrollmentRequestApproved, adminNote, reviewerID)
}

// Reject declines a pending request.
func (s *EnrollmentRequestService) Reject(ctx context.Context, id string, adminNote *string, reviewerID string) (*models.EnrollmentRequest, error) {
	return s.Decide(ctx, id, models.EnrollmentRequestRejected, adminNote, reviewerID)
}

// Decide records the review outcome. On approval the enrollment is created in
// the same transaction. The student is notified after commit on a best-effort basis.
func (s *EnrollmentRequestService) Decide(ctx context.Context, id string, outcome models.EnrollmentRequestStatus, adminNote *string, reviewerID string) (req *models.EnrollmentRequest, err error) {
	defer func() {
		s.recordDecision(outcome, err)
	}()

	if outcome != models.EnrollmentRequestApproved && outcome != models.EnrollmentRequestRejected {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "outcome must be APPROVED or REJECTED")
	}
	if err := s.validator.Struct(dto.ReviewEnrollmentRequest{AdminNote: adminNote}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}

	req, err = s.requests.FindByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment request")
	}
	if !req.Status.Reviewable() {
		return nil, appErrors.ErrInvalidTransition
	}

	note := normalizeNote(adminNote)
	reviewedAt := s.now()
	txStart := time.Now()
	err = s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		if outcome == models.EnrollmentRequestApproved {
			enrolled, err := s.enrollments.Exists(ctx, exec, req.StudentID, req.CourseID)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
			}
			if enrolled {
				return appErrors.ErrAlreadyEnrolled
			}
		}

		if err := s.requests.UpdateDecision(ctx, exec, repository.DecisionParams{
			ID:         req.ID,
			Status:     outcome,
			AdminNote:  note,
			ReviewedBy: reviewerID,
			ReviewedAt: reviewedAt,
		}); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.ErrInvalidTransition
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment request")
		}

		if outcome == models.EnrollmentRequestApproved {
			if err := s.enrollments.Create(ctx, exec, &models.Enrollment{
				StudentID: req.StudentID,
				CourseID:  req.CourseID,
				CreatedAt: reviewedAt,
			}); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					return appErrors.ErrAlreadyEnrolled
				}
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
			}
		}
		return nil
	})
	s.metrics.ObserveDBQuery("enrollment_decide_tx", time.Since(txStart))
	if err != nil {
		return nil, asAppError(err, "failed to review enrollment request")
	}

	req.Status = outcome
	req.AdminNote = note
	req.ReviewedBy = &reviewerID
	req.ReviewedAt = &reviewedAt
	req.UpdatedAt = reviewedAt

	s.invalidate(ctx)
	s.logger.Info("enrollment request reviewed",
		zap.String("request_id", req.ID),
		zap.String("outcome", string(outcome)),
		zap.String("reviewer_id", reviewerID),
	)
	s.notify(ctx, req)
	return req, nil
}

// notify informs the student of the decision. Failures are logged and swallowed:
// the decision is already durable.
func (s *EnrollmentRequestService) notify(ctx context.Context, req *models.EnrollmentRequest) {
	if s.notifier == nil {
		return
	}
	logger := s.logger.With(zap.String("request_id", req.ID))

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		logger.Warn("skip outcome notification: student lookup failed", zap.Error(err))
		return
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		logger.Warn("skip outcome notification: course lookup failed", zap.Error(err))
		return
	}

	outcome := "rejected"
	if req.Status == models.EnrollmentRequestApproved {
		outcome = "approved"
	}
	if err := s.notifier.NotifyEnrollmentOutcome(ctx, dto.EnrollmentOutcomeNotice{
		RequestID:   req.ID,
		UserID:      student.UserID,
		Email:       student.Email,
		FullName:    student.FullName,
		CourseTitle: course.Title,
		Outcome:     outcome,
		AdminNote:   req.AdminNote,
	}); err != nil {
		logger.Warn("enrollment outcome notification failed", zap.Error(err))
		s.metrics.RecordNotificationFailure("in_app")
	}
}

func (s *EnrollmentRequestService) ensureStudent(ctx context.Context, id string) error {
	if _, err := s.students.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return nil
}

func (s *EnrollmentRequestService) ensureCourse(ctx context.Context, id string) error {
	if _, err := s.courses.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return nil
}

func (s *EnrollmentRequestService) invalidate(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, enrollmentCachePattern)
}

func (s *EnrollmentRequestService) recordDecision(outcome models.EnrollmentRequestStatus, err error) {
	result := "ok"
	if err != nil {
		result = appErrors.FromError(err).Code
	}
	s.metrics.RecordReviewDecision(outcome, result)
}

// asAppError keeps typed errors raised inside a transaction and wraps anything
// else (begin/commit failures) as internal.
func asAppError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func normalizeNote(note *string) *string {
	if note == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*note)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
