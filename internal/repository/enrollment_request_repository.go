package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kovancilartr/learnapp-api/internal/models"
)

const requestColumns = `er.id, er.student_id, er.course_id, er.status, er.message, er.admin_note,
        er.reviewed_by, er.reviewed_at, er.created_at, er.updated_at`

const requestDetailColumns = requestColumns + `,
        s.user_id AS student_user_id, u.full_name AS student_name, u.email AS student_email,
        c.title AS course_title, rv.full_name AS reviewer_name`

const requestDetailJoins = `FROM enrollment_requests er
JOIN students s ON s.id = er.student_id
JOIN users u ON u.id = s.user_id
JOIN courses c ON c.id = er.course_id
LEFT JOIN users rv ON rv.id = er.reviewed_by`

var requestSortColumns = map[string]string{
	"createdAt":   "er.created_at",
	"updatedAt":   "er.updated_at",
	"reviewedAt":  "er.reviewed_at",
	"status":      "er.status",
	"studentName": "u.full_name",
	"courseTitle": "c.title",
}

// EnrollmentRequestRepository persists enrollment requests.
type EnrollmentRequestRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRequestRepository constructs the repository.
func NewEnrollmentRequestRepository(db *sqlx.DB) *EnrollmentRequestRepository {
	return &EnrollmentRequestRepository{db: db}
}

func (r *EnrollmentRequestRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByID fetches a request row. Missing rows surface as sql.ErrNoRows.
func (r *EnrollmentRequestRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.EnrollmentRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM enrollment_requests er WHERE er.id = $1`
	var req models.EnrollmentRequest
	if err := sqlx.GetContext(ctx, r.exec(exec), &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// FindByStudentAndCourse fetches the single request for a pair, if any.
func (r *EnrollmentRequestRepository) FindByStudentAndCourse(ctx context.Context, exec sqlx.ExtContext, studentID, courseID string) (*models.EnrollmentRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM enrollment_requests er WHERE er.student_id = $1 AND er.course_id = $2`
	var req models.EnrollmentRequest
	if err := sqlx.GetContext(ctx, r.exec(exec), &req, query, studentID, courseID); err != nil {
		return nil, err
	}
	return &req, nil
}

// FindDetailByID returns a request enriched with student, course and reviewer names.
func (r *EnrollmentRequestRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentRequestDetail, error) {
	query := `SELECT ` + requestDetailColumns + ` ` + requestDetailJoins + ` WHERE er.id = $1`
	var detail models.EnrollmentRequestDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Create inserts a new PENDING request. A second row for the same pair fails with ErrDuplicate.
func (r *EnrollmentRequestRepository) Create(ctx context.Context, exec sqlx.ExtContext, req *models.EnrollmentRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.EnrollmentRequestPending
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = req.CreatedAt
	const query = `INSERT INTO enrollment_requests
	(id, student_id, course_id, status, message, admin_note, reviewed_by, reviewed_at, created_at, updated_at)
	VALUES (:id, :student_id, :course_id, :status, :message, :admin_note, :reviewed_by, :reviewed_at, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, req); err != nil {
		return wrapWrite("create enrollment request", err)
	}
	return nil
}

// Resubmit revives a REJECTED request as PENDING, replacing the message and
// clearing the review fields. It returns sql.ErrNoRows when the row is no longer REJECTED.
func (r *EnrollmentRequestRepository) Resubmit(ctx context.Context, exec sqlx.ExtContext, id string, message *string, at time.Time) error {
	const query = `UPDATE enrollment_requests
	SET status = $2, message = $3, admin_note = NULL, reviewed_by = NULL, reviewed_at = NULL, updated_at = $4
	WHERE id = $1 AND status = $5`
	result, err := r.exec(exec).ExecContext(ctx, query, id, models.EnrollmentRequestPending, message, at, models.EnrollmentRequestRejected)
	if err != nil {
		return fmt.Errorf("resubmit enrollment request: %w", err)
	}
	return expectAffected(result, "resubmit enrollment request")
}

// DecisionParams groups the review columns written by UpdateDecision.
type DecisionParams struct {
	ID         string
	Status     models.EnrollmentRequestStatus
	AdminNote  *string
	ReviewedBy string
	ReviewedAt time.Time
}

// UpdateDecision records a review outcome on a PENDING request. It returns
// sql.ErrNoRows when the row is missing or already reviewed.
func (r *EnrollmentRequestRepository) UpdateDecision(ctx context.Context, exec sqlx.ExtContext, params DecisionParams) error {
	const query = `UPDATE enrollment_requests
	SET status = $2, admin_note = $3, reviewed_by = $4, reviewed_at = $5, updated_at = $5
	WHERE id = $1 AND status = $6`
	result, err := r.exec(exec).ExecContext(ctx, query,
		params.ID,
		params.Status,
		params.AdminNote,
		params.ReviewedBy,
		params.ReviewedAt,
		models.EnrollmentRequestPending,
	)
	if err != nil {
		return fmt.Errorf("update enrollment request decision: %w", err)
	}
	return expectAffected(result, "update enrollment request decision")
}

// Delete removes a request. It returns sql.ErrNoRows when nothing was deleted.
func (r *EnrollmentRequestRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM enrollment_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete enrollment request: %w", err)
	}
	return expectAffected(result, "delete enrollment request")
}

// PurgeReviewedBefore deletes reviewed requests in the given states last updated before cutoff.
func (r *EnrollmentRequestRepository) PurgeReviewedBefore(ctx context.Context, cutoff time.Time, statuses []models.EnrollmentRequestStatus) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	values := make([]string, len(statuses))
	for i, status := range statuses {
		values[i] = string(status)
	}
	const query = `DELETE FROM enrollment_requests WHERE status = ANY($1) AND status <> $2 AND updated_at < $3`
	result, err := r.db.ExecContext(ctx, query, pq.Array(values), models.EnrollmentRequestPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge enrollment requests: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check purge rows: %w", err)
	}
	return rows, nil
}

// List returns a page of request details and the total number of matches.
func (r *EnrollmentRequestRepository) List(ctx context.Context, filter models.EnrollmentRequestFilter) ([]models.EnrollmentRequestDetail, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("er.status = $%d", len(args)))
	}
	if filter.CourseID != "" {
		args = append(args, filter.CourseID)
		conditions = append(conditions, fmt.Sprintf("er.course_id = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("er.student_id = $%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		conditions = append(conditions, fmt.Sprintf("u.full_name ILIKE $%d", len(args)))
	}
	if filter.DateFrom != nil {
		args = append(args, *filter.DateFrom)
		conditions = append(conditions, fmt.Sprintf("er.created_at >= $%d", len(args)))
	}
	if filter.DateTo != nil {
		args = append(args, *filter.DateTo)
		conditions = append(conditions, fmt.Sprintf("er.created_at < $%d", len(args)))
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	orderBy := requestSortColumns[filter.SortBy]
	if orderBy == "" {
		orderBy = "er.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := (page - 1) * limit

	query := fmt.Sprintf(`SELECT %s
        %s%s ORDER BY %s %s NULLS LAST, er.id %s LIMIT %d OFFSET %d`,
		requestDetailColumns, requestDetailJoins, clause, orderBy, order, order, limit, offset)

	var items []models.EnrollmentRequestDetail
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollment requests: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s%s", requestDetailJoins, clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollment requests: %w", err)
	}
	return items, total, nil
}

// CountByStatus returns the overall and per-status totals.
func (r *EnrollmentRequestRepository) CountByStatus(ctx context.Context) (models.EnrollmentRequestStatusCounts, error) {
	const query = `SELECT COUNT(*) AS total,
        COUNT(*) FILTER (WHERE status = 'PENDING') AS pending,
        COUNT(*) FILTER (WHERE status = 'APPROVED') AS approved,
        COUNT(*) FILTER (WHERE status = 'REJECTED') AS rejected
        FROM enrollment_requests`
	var counts models.EnrollmentRequestStatusCounts
	if err := r.db.GetContext(ctx, &counts, query); err != nil {
		return counts, fmt.Errorf("count enrollment requests by status: %w", err)
	}
	return counts, nil
}

// CountPending returns the number of PENDING requests, optionally for one course.
func (r *EnrollmentRequestRepository) CountPending(ctx context.Context, courseID string) (int, error) {
	query := `SELECT COUNT(*) FROM enrollment_requests WHERE status = $1`
	args := []interface{}{models.EnrollmentRequestPending}
	if courseID != "" {
		args = append(args, courseID)
		query += fmt.Sprintf(" AND course_id = $%d", len(args))
	}
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count pending enrollment requests: %w", err)
	}
	return count, nil
}

// CountByMonth groups requests created since the given instant by UTC calendar
// month, independent of the session time zone.
func (r *EnrollmentRequestRepository) CountByMonth(ctx context.Context, since time.Time) ([]models.MonthlyRequestCount, error) {
	const query = `SELECT to_char(date_trunc('month', created_at AT TIME ZONE 'UTC'), 'YYYY-MM') AS month, COUNT(*) AS count
        FROM enrollment_requests WHERE created_at >= $1
        GROUP BY 1 ORDER BY 1`
	var rows []models.MonthlyRequestCount
	if err := r.db.SelectContext(ctx, &rows, query, since.UTC()); err != nil {
		return nil, fmt.Errorf("count enrollment requests by month: %w", err)
	}
	return rows, nil
}

// TopCourses returns the courses with the most requests.
func (r *EnrollmentRequestRepository) TopCourses(ctx context.Context, limit int) ([]models.CourseRequestCount, error) {
	const query = `SELECT er.course_id, c.title AS course_title, COUNT(*) AS count
        FROM enrollment_requests er
        JOIN courses c ON c.id = er.course_id
        GROUP BY er.course_id, c.title
        ORDER BY count DESC, c.title ASC
        LIMIT $1`
	var rows []models.CourseRequestCount
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("count enrollment requests by course: %w", err)
	}
	return rows, nil
}

// Recent returns the most recently created requests.
func (r *EnrollmentRequestRepository) Recent(ctx context.Context, limit int) ([]models.EnrollmentRequestDetail, error) {
	query := `SELECT ` + requestDetailColumns + ` ` + requestDetailJoins + ` ORDER BY er.created_at DESC, er.id DESC LIMIT $1`
	var rows []models.EnrollmentRequestDetail
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("list recent enrollment requests: %w", err)
	}
	return rows, nil
}

func expectAffected(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
