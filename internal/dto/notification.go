package dto

// NotificationQuery mirrors the notification listing query string.
type NotificationQuery struct {
	UnreadOnly bool `form:"unreadOnly"`
	Page       int  `form:"page"`
	Limit      int  `form:"limit"`
}

// EnrollmentOutcomeNotice is handed to the notification dispatcher after a decision commits.
type EnrollmentOutcomeNotice struct {
	RequestID   string
	UserID      string
	Email       string
	FullName    string
	CourseTitle string
	Outcome     string
	AdminNote   *string
}
