package models

// NotificationKind identifies why a notification fires.
type NotificationKind string

// Notification kinds emitted by the core.
const (
	NotificationSessionUpdated   NotificationKind = "SESSION_UPDATED"
	NotificationReminder         NotificationKind = "REMINDER"
	NotificationWaitlistPromoted NotificationKind = "WAITLIST_PROMOTED"
)

// RecipientRole distinguishes who a notification addresses.
type RecipientRole string

// Recipient roles.
const (
	RecipientRoleTeacher  RecipientRole = "teacher"
	RecipientRoleGuardian RecipientRole = "guardian"
	RecipientRoleStudent  RecipientRole = "student"
)

// Recipient is a deduplicated notification target.
type Recipient struct {
	ID    string        `json:"id"`
	Role  RecipientRole `json:"role"`
	Name  string        `json:"name"`
	Email string        `json:"email"`
}

// Notification is the payload handed to the delivery collaborator.
// Occurrence is nil except for reminders.
type Notification struct {
	Kind       NotificationKind        `json:"kind"`
	Session    *StudySession           `json:"session"`
	Occurrence *StudySessionOccurrence `json:"occurrence,omitempty"`
	Recipients []Recipient             `json:"recipients"`
}
