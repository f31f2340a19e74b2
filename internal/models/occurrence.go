package models

import "time"

// OccurrenceStatus represents the lifecycle of a session occurrence.
type OccurrenceStatus string

// Possible occurrence statuses.
const (
	OccurrenceStatusScheduled OccurrenceStatus = "scheduled"
	OccurrenceStatusCancelled OccurrenceStatus = "cancelled"
)

// StudySessionOccurrence is one concrete time instance of a session.
// Occurrences are materialized when the session is created and are the
// unit reminders fire against.
type StudySessionOccurrence struct {
	ID             string           `db:"id" json:"id"`
	SessionID      string           `db:"session_id" json:"session_id"`
	StartsAt       time.Time        `db:"starts_at" json:"starts_at"`
	EndsAt         time.Time        `db:"ends_at" json:"ends_at"`
	Status         OccurrenceStatus `db:"status" json:"status"`
	ReminderSentAt *time.Time       `db:"reminder_sent_at" json:"reminder_sent_at,omitempty"`
}
