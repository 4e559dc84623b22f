package models

import "time"

// EnrollmentRequestStatus is the review state of an enrollment request.
type EnrollmentRequestStatus string

// Enrollment request states. APPROVED is terminal; REJECTED may be resubmitted.
const (
	EnrollmentRequestPending  EnrollmentRequestStatus = "PENDING"
	EnrollmentRequestApproved EnrollmentRequestStatus = "APPROVED"
	EnrollmentRequestRejected EnrollmentRequestStatus = "REJECTED"
)

// Valid reports whether s is a known status.
func (s EnrollmentRequestStatus) Valid() bool {
	switch s {
	case EnrollmentRequestPending, EnrollmentRequestApproved, EnrollmentRequestRejected:
		return true
	}
	return false
}

// Reviewable reports whether a decision may be recorded for s.
func (s EnrollmentRequestStatus) Reviewable() bool {
	return s == EnrollmentRequestPending
}

// EnrollmentRequest is a student's petition to join a course.
type EnrollmentRequest struct {
	ID         string                  `db:"id" json:"id"`
	StudentID  string                  `db:"student_id" json:"studentId"`
	CourseID   string                  `db:"course_id" json:"courseId"`
	Status     EnrollmentRequestStatus `db:"status" json:"status"`
	Message    *string                 `db:"message" json:"message"`
	AdminNote  *string                 `db:"admin_note" json:"adminNote"`
	ReviewedBy *string                 `db:"reviewed_by" json:"reviewedBy"`
	ReviewedAt *time.Time              `db:"reviewed_at" json:"reviewedAt"`
	CreatedAt  time.Time               `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time               `db:"updated_at" json:"updatedAt"`
}

// EnrollmentRequestDetail enriches a request with student, course and reviewer names.
type EnrollmentRequestDetail struct {
	EnrollmentRequest
	StudentUserID string  `db:"student_user_id" json:"studentUserId"`
	StudentName   string  `db:"student_name" json:"studentName"`
	StudentEmail  string  `db:"student_email" json:"studentEmail"`
	CourseTitle   string  `db:"course_title" json:"courseTitle"`
	ReviewerName  *string `db:"reviewer_name" json:"reviewerName,omitempty"`
}

// EnrollmentRequestFilter narrows request listings. All set fields are AND-combined.
type EnrollmentRequestFilter struct {
	Status    EnrollmentRequestStatus
	CourseID  string
	StudentID string
	Search    string
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

// EnrollmentRequestStatistics aggregates the request store for dashboards.
type EnrollmentRequestStatistics struct {
	TotalRequests    int                       `json:"totalRequests"`
	PendingRequests  int                       `json:"pendingRequests"`
	ApprovedRequests int                       `json:"approvedRequests"`
	RejectedRequests int                       `json:"rejectedRequests"`
	RequestsByMonth  []MonthlyRequestCount     `json:"requestsByMonth"`
	RequestsByCourse []CourseRequestCount      `json:"requestsByCourse"`
	RecentRequests   []EnrollmentRequestDetail `json:"recentRequests"`
	GeneratedAt      time.Time                 `json:"generatedAt"`
}

// EnrollmentRequestStatusCounts holds per-status totals.
type EnrollmentRequestStatusCounts struct {
	Total    int `db:"total"`
	Pending  int `db:"pending"`
	Approved int `db:"approved"`
	Rejected int `db:"rejected"`
}

// MonthlyRequestCount is the number of requests created in a calendar month (YYYY-MM).
type MonthlyRequestCount struct {
	Month string `db:"month" json:"month"`
	Count int    `db:"count" json:"count"`
}

// CourseRequestCount is the number of requests filed against a course.
type CourseRequestCount struct {
	CourseID    string `db:"course_id" json:"courseId"`
	CourseTitle string `db:"course_title" json:"courseTitle"`
	Count       int    `db:"count" json:"count"`
}
