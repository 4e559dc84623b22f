package models

import "time"

// Audit actions recorded for administrative changes to enrollment requests.
const (
	AuditActionRequestApprove = "ENROLLMENT_REQUEST_APPROVE"
	AuditActionRequestReject  = "ENROLLMENT_REQUEST_REJECT"
	AuditActionBulkReview     = "ENROLLMENT_REQUEST_BULK_REVIEW"
	AuditActionRequestDelete  = "ENROLLMENT_REQUEST_DELETE"
)

// AuditResourceEnrollmentRequest names the audited resource.
const AuditResourceEnrollmentRequest = "enrollment_request"

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"userId,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resourceId,omitempty"`
	Details    []byte    `db:"details" json:"details,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ipAddress"`
	UserAgent  string    `db:"user_agent" json:"userAgent"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}
