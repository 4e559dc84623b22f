package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kovancilartr/learnapp-api/internal/dto"
	"github.com/kovancilartr/learnapp-api/internal/models"
	appErrors "github.com/kovancilartr/learnapp-api/pkg/errors"
	"github.com/kovancilartr/learnapp-api/pkg/export"
)

const (
	defaultListLimit   = 10
	maxListLimit       = 100
	statsMonths        = 6
	statsTopCourses    = 10
	statsRecent        = 10
	defaultExportLimit = 1000
	exportTimeLayout   = "2006-01-02 15:04"
)

var allowedRequestSorts = map[string]struct{}{
	"createdAt":   {},
	"updatedAt":   {},
	"reviewedAt":  {},
	"status":      {},
	"studentName": {},
	"courseTitle": {},
}

type enrollmentRequestReader interface {
	List(ctx context.Context, filter models.EnrollmentRequestFilter) ([]models.EnrollmentRequestDetail, int, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentRequestDetail, error)
	Delete(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (models.EnrollmentRequestStatusCounts, error)
	CountPending(ctx context.Context, courseID string) (int, error)
	CountByMonth(ctx context.Context, since time.Time) ([]models.MonthlyRequestCount, error)
	TopCourses(ctx context.Context, limit int) ([]models.CourseRequestCount, error)
	Recent(ctx context.Context, limit int) ([]models.EnrollmentRequestDetail, error)
}

type studentProfileReader interface {
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

// TableRenderer turns an export table into a downloadable document.
type TableRenderer interface {
	Render(table export.Table) ([]byte, error)
	ContentType() string
	Extension() string
}

// QueryConfig tunes the read side.
type QueryConfig struct {
	StatsTTL      time.Duration
	ExportMaxRows int
}

// EnrollmentRequestQueryService serves listings, details, statistics and exports.
// It never changes request state apart from administrative deletion.
type EnrollmentRequestQueryService struct {
	repo      enrollmentRequestReader
	students  studentProfileReader
	cache     *CacheService
	renderers map[string]TableRenderer
	cfg       QueryConfig
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewEnrollmentRequestQueryService constructs the read service.
func NewEnrollmentRequestQueryService(repo enrollmentRequestReader, students studentProfileReader, cache *CacheService, renderers map[string]TableRenderer, cfg QueryConfig, metrics *MetricsService, logger *zap.Logger) *EnrollmentRequestQueryService {
	if cfg.ExportMaxRows <= 0 {
		cfg.ExportMaxRows = defaultExportLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if renderers == nil {
		renderers = map[string]TableRenderer{}
	}
	return &EnrollmentRequestQueryService{
		repo:      repo,
		students:  students,
		cache:     cache,
		renderers: renderers,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns a filtered page of requests. Students only ever see their own.
func (s *EnrollmentRequestQueryService) List(ctx context.Context, actor models.Actor, query dto.EnrollmentRequestQuery) ([]models.EnrollmentRequestDetail, *models.Pagination, error) {
	filter, err := s.buildFilter(ctx, actor, query)
	if err != nil {
		return nil, nil, err
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollment requests")
	}
	if items == nil {
		items = []models.EnrollmentRequestDetail{}
	}
	return items, models.NewPagination(filter.Page, filter.Limit, total), nil
}

// GetByID returns one request. Students may only read their own.
func (s *EnrollmentRequestQueryService) GetByID(ctx context.Context, actor models.Actor, id string) (*models.EnrollmentRequestDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment request")
	}
	switch {
	case actor.Role.IsAdmin():
	case actor.Role == models.RoleStudent && detail.StudentUserID == actor.UserID:
	default:
		return nil, appErrors.ErrForbidden
	}
	return detail, nil
}

// Delete removes a request as administrative cleanup.
func (s *EnrollmentRequestQueryService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment request not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment request")
	}
	_ = s.cache.Invalidate(ctx, enrollmentCachePattern)
	s.logger.Info("enrollment request deleted", zap.String("request_id", id))
	return nil
}

// PendingCount reports how many requests await review, optionally for one course.
func (s *EnrollmentRequestQueryService) PendingCount(ctx context.Context, courseID string) (*dto.PendingCountResponse, error) {
	courseID = strings.TrimSpace(courseID)
	count, err := s.repo.CountPending(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count pending enrollment requests")
	}
	return &dto.PendingCountResponse{CourseID: courseID, Count: count}, nil
}

// Statistics aggregates the request store, served from cache when available.
// The flag reports whether the cache answered.
func (s *EnrollmentRequestQueryService) Statistics(ctx context.Context) (*models.EnrollmentRequestStatistics, bool, error) {
	return cachedLoad(ctx, s.cache, enrollmentStatsKey, s.cfg.StatsTTL, s.computeStatistics)
}

func (s *EnrollmentRequestQueryService) computeStatistics(ctx context.Context) (*models.EnrollmentRequestStatistics, error) {
	internal := func(err error, msg string) error {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msg)
	}

	start := time.Now()
	defer func() {
		s.metrics.ObserveDBQuery("enrollment_statistics", time.Since(start))
	}()

	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, internal(err, "failed to count enrollment requests")
	}

	now := s.now()
	months := lastMonths(now, statsMonths)
	since, _ := time.Parse("2006-01", months[0])
	monthly, err := s.repo.CountByMonth(ctx, since)
	if err != nil {
		return nil, internal(err, "failed to group enrollment requests by month")
	}
	byMonth := make(map[string]int, len(monthly))
	for _, m := range monthly {
		byMonth[m.Month] = m.Count
	}
	series := make([]models.MonthlyRequestCount, len(months))
	for i, month := range months {
		series[i] = models.MonthlyRequestCount{Month: month, Count: byMonth[month]}
	}

	top, err := s.repo.TopCourses(ctx, statsTopCourses)
	if err != nil {
		return nil, internal(err, "failed to group enrollment requests by course")
	}
	recent, err := s.repo.Recent(ctx, statsRecent)
	if err != nil {
		return nil, internal(err, "failed to load recent enrollment requests")
	}
	if top == nil {
		top = []models.CourseRequestCount{}
	}
	if recent == nil {
		recent = []models.EnrollmentRequestDetail{}
	}

	return &models.EnrollmentRequestStatistics{
		TotalRequests:    counts.Total,
		PendingRequests:  counts.Pending,
		ApprovedRequests: counts.Approved,
		RejectedRequests: counts.Rejected,
		RequestsByMonth:  series,
		RequestsByCourse: top,
		RecentRequests:   recent,
		GeneratedAt:      now,
	}, nil
}

// Export renders the filtered listing, capped at the configured row limit.
func (s *EnrollmentRequestQueryService) Export(ctx context.Context, actor models.Actor, query dto.EnrollmentRequestQuery, format string) (*dto.ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "csv"
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	query.Page = 1
	query.Limit = 0
	filter, err := s.buildFilter(ctx, actor, query)
	if err != nil {
		return nil, err
	}
	filter.Limit = s.cfg.ExportMaxRows

	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment requests for export")
	}
	if total > len(items) {
		s.logger.Warn("enrollment request export truncated", zap.Int("total", total), zap.Int("exported", len(items)))
	}

	payload, err := renderer.Render(requestTable(items))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &dto.ExportFile{
		Filename:    fmt.Sprintf("enrollment-requests-%s.%s", s.now().Format("20060102-150405"), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Payload:     payload,
	}, nil
}

func (s *EnrollmentRequestQueryService) buildFilter(ctx context.Context, actor models.Actor, query dto.EnrollmentRequestQuery) (models.EnrollmentRequestFilter, error) {
	filter := models.EnrollmentRequestFilter{
		CourseID:  strings.TrimSpace(query.CourseID),
		StudentID: strings.TrimSpace(query.StudentID),
		Search:    strings.TrimSpace(query.Search),
		Page:      query.Page,
		Limit:     query.Limit,
		SortBy:    strings.TrimSpace(query.SortBy),
		SortOrder: strings.ToLower(strings.TrimSpace(query.SortOrder)),
	}

	if status := strings.ToUpper(strings.TrimSpace(query.Status)); status != "" {
		filter.Status = models.EnrollmentRequestStatus(status)
		if !filter.Status.Valid() {
			return filter, appErrors.Clone(appErrors.ErrValidation, "status must be PENDING, APPROVED or REJECTED")
		}
	}

	switch {
	case filter.Page == 0:
		filter.Page = 1
	case filter.Page < 0:
		return filter, appErrors.Clone(appErrors.ErrValidation, "page must be at least 1")
	}
	switch {
	case filter.Limit == 0:
		filter.Limit = defaultListLimit
	case filter.Limit < 0 || filter.Limit > maxListLimit:
		return filter, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
	}
	if filter.SortBy == "" {
		filter.SortBy = "createdAt"
	} else if _, ok := allowedRequestSorts[filter.SortBy]; !ok {
		return filter, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported sortBy %q", filter.SortBy))
	}
	switch filter.SortOrder {
	case "":
		filter.SortOrder = "desc"
	case "asc", "desc":
	default:
		return filter, appErrors.Clone(appErrors.ErrValidation, "sortOrder must be asc or desc")
	}

	var err error
	if filter.DateFrom, err = parseDateBound(query.DateFrom, false); err != nil {
		return filter, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid dateFrom")
	}
	if filter.DateTo, err = parseDateBound(query.DateTo, true); err != nil {
		return filter, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid dateTo")
	}
	if filter.DateFrom != nil && filter.DateTo != nil && !filter.DateFrom.Before(*filter.DateTo) {
		return filter, appErrors.Clone(appErrors.ErrValidation, "dateFrom must be before dateTo")
	}

	switch {
	case actor.Role.IsAdmin():
	case actor.Role == models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, actor.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return filter, appErrors.Clone(appErrors.ErrForbidden, "student profile not found")
			}
			return filter, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
		}
		filter.StudentID = student.ID
	default:
		return filter, appErrors.ErrForbidden
	}
	return filter, nil
}

// parseDateBound accepts RFC 3339 timestamps or plain dates. A plain upper
// bound covers the whole day, so it is moved to the next midnight.
func parseDateBound(raw string, upper bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	if upper {
		t = t.AddDate(0, 0, 1)
	}
	return &t, nil
}

// lastMonths lists the n calendar months ending with the month of now, oldest first.
func lastMonths(now time.Time, n int) []string {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = first.AddDate(0, i-(n-1), 0).Format("2006-01")
	}
	return out
}

func requestTable(items []models.EnrollmentRequestDetail) export.Table {
	table := export.Table{
		Title: "Enrollment Requests",
		Columns: []export.Column{
			{Label: "Request ID", Width: 1.6},
			{Label: "Student", Width: 1.4},
			{Label: "Email", Width: 1.6},
			{Label: "Course", Width: 1.6},
			{Label: "Status", Width: 0.9},
			{Label: "Message", Width: 1.6},
			{Label: "Admin Note", Width: 1.4},
			{Label: "Reviewer", Width: 1.2},
			{Label: "Created At", Width: 1.1},
			{Label: "Reviewed At", Width: 1.1},
		},
		Rows: make([][]string, 0, len(items)),
	}
	for _, item := range items {
		table.Rows = append(table.Rows, []string{
			item.ID,
			item.StudentName,
			item.StudentEmail,
			item.CourseTitle,
			string(item.Status),
			deref(item.Message),
			deref(item.AdminNote),
			deref(item.ReviewerName),
			item.CreatedAt.UTC().Format(exportTimeLayout),
			formatOptionalTime(item.ReviewedAt),
		})
	}
	return table
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(exportTimeLayout)
}
