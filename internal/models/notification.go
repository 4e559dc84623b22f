package models

import "time"

// NotificationType categorises in-app notifications.
type NotificationType string

const (
	NotificationEnrollmentApproved NotificationType = "ENROLLMENT_APPROVED"
	NotificationEnrollmentRejected NotificationType = "ENROLLMENT_REJECTED"
)

// Notification is an in-app message addressed to a user.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"userId"`
	Type      NotificationType `db:"type" json:"type"`
	Title     string           `db:"title" json:"title"`
	Message   string           `db:"message" json:"message"`
	Read      bool             `db:"read" json:"read"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
	ReadAt    *time.Time       `db:"read_at" json:"readAt,omitempty"`
}

// NotificationFilter scopes a user's notification listing.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Page       int
	Limit      int
}
