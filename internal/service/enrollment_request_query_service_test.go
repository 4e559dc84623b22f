package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kovancilartr/learnapp-api/internal/dto"
	"github.com/kovancilartr/learnapp-api/internal/models"
	appErrors "github.com/kovancilartr/learnapp-api/pkg/errors"
	"github.com/kovancilartr/learnapp-api/pkg/export"
)

type stubRequestReader struct {
	items      []models.EnrollmentRequestDetail
	total      int
	lastFilter models.EnrollmentRequestFilter
	details    map[string]models.EnrollmentRequestDetail
	deleted    []string
	counts     models.EnrollmentRequestStatusCounts
	monthly    []models.MonthlyRequestCount
	since      time.Time
	statsCalls int
	listErr    error
}

func (s *stubRequestReader) List(ctx context.Context, filter models.EnrollmentRequestFilter) ([]models.EnrollmentRequestDetail, int, error) {
	s.lastFilter = filter
	return s.items, s.total, s.listErr
}

func (s *stubRequestReader) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentRequestDetail, error) {
	if d, ok := s.details[id]; ok {
		return &d, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubRequestReader) Delete(ctx context.Context, id string) error {
	if _, ok := s.details[id]; !ok {
		return sql.ErrNoRows
	}
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubRequestReader) CountByStatus(ctx context.Context) (models.EnrollmentRequestStatusCounts, error) {
	s.statsCalls++
	return s.counts, nil
}

func (s *stubRequestReader) CountPending(ctx context.Context, courseID string) (int, error) {
	if courseID == "course-1" {
		return 2, nil
	}
	return s.counts.Pending, nil
}

func (s *stubRequestReader) CountByMonth(ctx context.Context, since time.Time) ([]models.MonthlyRequestCount, error) {
	s.since = since
	return s.monthly, nil
}

func (s *stubRequestReader) TopCourses(ctx context.Context, limit int) ([]models.CourseRequestCount, error) {
	return []models.CourseRequestCount{{CourseID: "course-1", CourseTitle: "Algorithms", Count: 4}}, nil
}

func (s *stubRequestReader) Recent(ctx context.Context, limit int) ([]models.EnrollmentRequestDetail, error) {
	return nil, nil
}

type stubProfiles map[string]models.Student

func (p stubProfiles) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	if st, ok := p[userID]; ok {
		return &st, nil
	}
	return nil, sql.ErrNoRows
}

type memoryCacheRepo struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{items: map[string][]byte{}}
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = raw
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			delete(m.items, key)
		}
	}
	return nil
}

func newQueryFixture(reader *stubRequestReader, cache *CacheService) *EnrollmentRequestQueryService {
	profiles := stubProfiles{"user-stu-1": {ID: "stu-1", UserID: "user-stu-1"}}
	renderers := map[string]TableRenderer{"csv": export.NewCSVExporter(), "pdf": export.NewPDFExporter()}
	svc := NewEnrollmentRequestQueryService(reader, profiles, cache, renderers, QueryConfig{ExportMaxRows: 50}, nil, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }
	return svc
}

var (
	adminActor   = models.Actor{UserID: "admin-1", Role: models.RoleAdmin}
	studentActor = models.Actor{UserID: "user-stu-1", Role: models.RoleStudent}
)

func TestEnrollmentRequestQueryServiceListDefaults(t *testing.T) {
	reader := &stubRequestReader{items: []models.EnrollmentRequestDetail{{}}, total: 21}
	svc := newQueryFixture(reader, nil)

	items, pagination, err := svc.List(context.Background(), adminActor, dto.EnrollmentRequestQuery{Status: "pending"})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, models.EnrollmentRequestPending, reader.lastFilter.Status)
	assert.Equal(t, 1, reader.lastFilter.Page)
	assert.Equal(t, 10, reader.lastFilter.Limit)
	assert.Equal(t, "createdAt", reader.lastFilter.SortBy)
	assert.Equal(t, "desc", reader.lastFilter.SortOrder)
	assert.Equal(t, 3, pagination.TotalPages)
	assert.True(t, pagination.HasNext)
	assert.False(t, pagination.HasPrev)
}

func TestEnrollmentRequestQueryServiceListScopesStudents(t *testing.T) {
	reader := &stubRequestReader{}
	svc := newQueryFixture(reader, nil)

	items, _, err := svc.List(context.Background(), studentActor, dto.EnrollmentRequestQuery{StudentID: "stu-2"})
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Equal(t, "stu-1", reader.lastFilter.StudentID)

	_, _, err = svc.List(context.Background(), models.Actor{UserID: "t", Role: models.RoleTeacher}, dto.EnrollmentRequestQuery{})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, _, err = svc.List(context.Background(), models.Actor{UserID: "orphan", Role: models.RoleStudent}, dto.EnrollmentRequestQuery{})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestEnrollmentRequestQueryServiceListValidation(t *testing.T) {
	svc := newQueryFixture(&stubRequestReader{}, nil)
	cases := map[string]dto.EnrollmentRequestQuery{
		"status":     {Status: "ARCHIVED"},
		"page":       {Page: -1},
		"limit":      {Limit: 101},
		"sortBy":     {SortBy: "password"},
		"sortOrder":  {SortOrder: "sideways"},
		"dateFrom":   {DateFrom: "yesterday"},
		"date range": {DateFrom: "2026-03-10", DateTo: "2026-03-01"},
	}
	for name, query := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := svc.List(context.Background(), adminActor, query)
			assert.ErrorIs(t, err, appErrors.ErrValidation)
		})
	}
}

func TestEnrollmentRequestQueryServiceDateBounds(t *testing.T) {
	reader := &stubRequestReader{}
	svc := newQueryFixture(reader, nil)

	_, _, err := svc.List(context.Background(), adminActor, dto.EnrollmentRequestQuery{DateFrom: "2026-03-01", DateTo: "2026-03-01"})
	require.NoError(t, err)
	require.NotNil(t, reader.lastFilter.DateFrom)
	require.NotNil(t, reader.lastFilter.DateTo)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *reader.lastFilter.DateFrom)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), *reader.lastFilter.DateTo)

	_, _, err = svc.List(context.Background(), adminActor, dto.EnrollmentRequestQuery{DateTo: "2026-03-01T12:30:00Z"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC), *reader.lastFilter.DateTo)
}

func TestEnrollmentRequestQueryServiceListStoreFailure(t *testing.T) {
	svc := newQueryFixture(&stubRequestReader{listErr: errors.New("boom")}, nil)
	_, _, err := svc.List(context.Background(), adminActor, dto.EnrollmentRequestQuery{})
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}

func TestEnrollmentRequestQueryServiceGetByID(t *testing.T) {
	detail := models.EnrollmentRequestDetail{StudentUserID: "user-stu-1"}
	detail.ID = "req-1"
	reader := &stubRequestReader{details: map[string]models.EnrollmentRequestDetail{"req-1": detail}}
	svc := newQueryFixture(reader, nil)
	ctx := context.Background()

	got, err := svc.GetByID(ctx, studentActor, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", got.ID)

	_, err = svc.GetByID(ctx, adminActor, "req-1")
	require.NoError(t, err)

	_, err = svc.GetByID(ctx, models.Actor{UserID: "user-stu-2", Role: models.RoleStudent}, "req-1")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.GetByID(ctx, adminActor, "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestEnrollmentRequestQueryServiceStatistics(t *testing.T) {
	reader := &stubRequestReader{
		counts:  models.EnrollmentRequestStatusCounts{Total: 7, Pending: 3, Approved: 3, Rejected: 1},
		monthly: []models.MonthlyRequestCount{{Month: "2025-11", Count: 2}, {Month: "2026-03", Count: 5}},
	}
	cache := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, zap.NewNop(), true)
	svc := newQueryFixture(reader, cache)
	ctx := context.Background()

	stats, hit, err := svc.Statistics(ctx)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 7, stats.TotalRequests)
	assert.Equal(t, stats.TotalRequests, stats.PendingRequests+stats.ApprovedRequests+stats.RejectedRequests)
	assert.Equal(t, time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC), reader.since)

	months := make([]string, 0, len(stats.RequestsByMonth))
	for _, m := range stats.RequestsByMonth {
		months = append(months, m.Month)
	}
	assert.Equal(t, []string{"2025-10", "2025-11", "2025-12", "2026-01", "2026-02", "2026-03"}, months)
	assert.Equal(t, 2, stats.RequestsByMonth[1].Count)
	assert.Equal(t, 0, stats.RequestsByMonth[2].Count)
	assert.Equal(t, 5, stats.RequestsByMonth[5].Count)
	assert.NotNil(t, stats.RecentRequests)

	cached, hit, err := svc.Statistics(ctx)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, stats.RequestsByMonth, cached.RequestsByMonth)
	assert.Equal(t, 1, reader.statsCalls)

	require.NoError(t, cache.Invalidate(ctx, enrollmentCachePattern))
	_, hit, err = svc.Statistics(ctx)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, reader.statsCalls)
}

func TestEnrollmentRequestQueryServiceDeleteInvalidatesCache(t *testing.T) {
	detail := models.EnrollmentRequestDetail{}
	detail.ID = "req-1"
	reader := &stubRequestReader{details: map[string]models.EnrollmentRequestDetail{"req-1": detail}}
	repo := newMemoryCacheRepo()
	cache := NewCacheService(repo, nil, time.Minute, zap.NewNop(), true)
	svc := newQueryFixture(reader, cache)
	ctx := context.Background()

	_, _, err := svc.Statistics(ctx)
	require.NoError(t, err)
	require.Len(t, repo.items, 1)

	require.NoError(t, svc.Delete(ctx, "req-1"))
	assert.Equal(t, []string{"req-1"}, reader.deleted)
	assert.Empty(t, repo.items)

	assert.ErrorIs(t, svc.Delete(ctx, "req-2"), appErrors.ErrNotFound)
}

func TestEnrollmentRequestQueryServicePendingCount(t *testing.T) {
	svc := newQueryFixture(&stubRequestReader{counts: models.EnrollmentRequestStatusCounts{Pending: 9}}, nil)

	all, err := svc.PendingCount(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 9, all.Count)

	course, err := svc.PendingCount(context.Background(), " course-1 ")
	require.NoError(t, err)
	assert.Equal(t, "course-1", course.CourseID)
	assert.Equal(t, 2, course.Count)
}

func TestEnrollmentRequestQueryServiceExport(t *testing.T) {
	note := "seats left"
	reviewed := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	item := models.EnrollmentRequestDetail{StudentName: "Ada Lovelace", StudentEmail: "ada@example.com", CourseTitle: "Algorithms"}
	item.ID = "req-1"
	item.Status = models.EnrollmentRequestApproved
	item.AdminNote = &note
	item.ReviewedAt = &reviewed
	item.CreatedAt = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	reader := &stubRequestReader{items: []models.EnrollmentRequestDetail{item}, total: 1}
	svc := newQueryFixture(reader, nil)

	file, err := svc.Export(context.Background(), adminActor, dto.EnrollmentRequestQuery{Page: 4, Limit: 5}, "CSV")
	require.NoError(t, err)
	assert.Equal(t, 50, reader.lastFilter.Limit)
	assert.Equal(t, 1, reader.lastFilter.Page)
	assert.Equal(t, "text/csv; charset=utf-8", file.ContentType)
	assert.True(t, strings.HasSuffix(file.Filename, ".csv"))

	lines := strings.Split(strings.TrimSpace(string(file.Payload)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Request ID,Student,Email,Course,Status"))
	assert.Contains(t, lines[1], "req-1,Ada Lovelace,ada@example.com,Algorithms,APPROVED")
	assert.Contains(t, lines[1], "seats left")
	assert.Contains(t, lines[1], "2026-03-02 10:00")

	pdf, err := svc.Export(context.Background(), adminActor, dto.EnrollmentRequestQuery{}, "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdf.ContentType)
	assert.True(t, strings.HasPrefix(string(pdf.Payload), "%PDF"))

	_, err = svc.Export(context.Background(), adminActor, dto.EnrollmentRequestQuery{}, "xlsx")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
