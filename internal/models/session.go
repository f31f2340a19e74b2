package models

import "time"

// SessionStatus represents the lifecycle of a study session.
type SessionStatus string

// Possible session statuses.
const (
	SessionStatusScheduled SessionStatus = "SCHEDULED"
	SessionStatusCancelled SessionStatus = "CANCELLED"
)

// StudySession is a scheduled teaching event, possibly recurring.
// Cancellation is a status change; sessions are never hard-deleted.
type StudySession struct {
	ID             string        `db:"id" json:"id"`
	TeacherID      string        `db:"teacher_id" json:"teacher_id"`
	Title          string        `db:"title" json:"title"`
	Description    string        `db:"description" json:"description,omitempty"`
	StartsAt       time.Time     `db:"starts_at" json:"starts_at"`
	EndsAt         time.Time     `db:"ends_at" json:"ends_at"`
	Location       string        `db:"location" json:"location,omitempty"`
	MeetingURL     string        `db:"meeting_url" json:"meeting_url,omitempty"`
	Capacity       int           `db:"capacity" json:"capacity"`
	Timezone       string        `db:"timezone" json:"timezone"`
	RecurrenceRule *string       `db:"recurrence_rule" json:"recurrence_rule,omitempty"`
	Status         SessionStatus `db:"status" json:"status"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// StudySessionDetail enriches StudySession with teacher info and seat counts.
type StudySessionDetail struct {
	StudySession
	TeacherName    string `db:"teacher_name" json:"teacher_name"`
	EnrolledCount  int    `db:"enrolled_count" json:"enrolled_count"`
	WaitlistLength int    `db:"waitlist_length" json:"waitlist_length"`
}

// SessionFilter provides filters for listing sessions.
type SessionFilter struct {
	TeacherID string
	Status    SessionStatus
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
