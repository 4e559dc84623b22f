package dto

import (
	"github.com/kovancilartr/learnapp-api/internal/models"
)

// Review actions accepted by the bulk endpoint.
const (
	ReviewActionApprove = "approve"
	ReviewActionReject  = "reject"
)

// CreateEnrollmentRequest is the submission payload. StudentID is only honoured
// for administrators; students always submit for themselves.
type CreateEnrollmentRequest struct {
	StudentID string  `json:"studentId" validate:"omitempty,max=64"`
	CourseID  string  `json:"courseId" validate:"required,max=64"`
	Message   *string `json:"message" validate:"omitempty,max=1000"`
}

// ReviewEnrollmentRequest carries the reviewer's optional note.
type ReviewEnrollmentRequest struct {
	AdminNote *string `json:"adminNote" validate:"omitempty,max=1000"`
}

// BulkReviewRequest asks for one decision applied to many requests.
type BulkReviewRequest struct {
	RequestIDs []string `json:"requestIds"`
	Action     string   `json:"action"`
	AdminNote  *string  `json:"adminNote" validate:"omitempty,max=1000"`
}

// BulkFailure describes one request that could not be decided.
type BulkFailure struct {
	RequestID string `json:"requestId"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

// BulkResult aggregates independent per-request outcomes.
type BulkResult struct {
	Successful     []string      `json:"successful"`
	Failed         []BulkFailure `json:"failed"`
	TotalProcessed int           `json:"totalProcessed"`
	SuccessCount   int           `json:"successCount"`
	FailureCount   int           `json:"failureCount"`
}

// EnrollmentRequestQuery mirrors the listing query string.
type EnrollmentRequestQuery struct {
	Status    string `form:"status"`
	CourseID  string `form:"courseId"`
	StudentID string `form:"studentId"`
	Search    string `form:"search"`
	DateFrom  string `form:"dateFrom"`
	DateTo    string `form:"dateTo"`
	Page      int    `form:"page"`
	Limit     int    `form:"limit"`
	SortBy    string `form:"sortBy"`
	SortOrder string `form:"sortOrder"`
}

// EnrollmentRequestList is a page of request details.
type EnrollmentRequestList struct {
	Items      []models.EnrollmentRequestDetail
	Pagination *models.Pagination
}

// PendingCountResponse reports the number of requests awaiting review.
type PendingCountResponse struct {
	CourseID string `json:"courseId,omitempty"`
	Count    int    `json:"count"`
}

// ExportFile is a rendered listing ready to stream.
type ExportFile struct {
	Filename    string
	ContentType string
	Payload     []byte
}
