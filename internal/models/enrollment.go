package models

import "time"

// EnrollmentStatus represents the seat state of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusEnrolled   EnrollmentStatus = "ENROLLED"
	EnrollmentStatusWaitlisted EnrollmentStatus = "WAITLISTED"
)

// StudySessionEnrollment captures a student's claim on a seat in a session.
// WaitlistPosition is set iff the status is WAITLISTED; positions for a
// session form a contiguous 1..N sequence in FIFO order.
type StudySessionEnrollment struct {
	ID               string           `db:"id" json:"id"`
	SessionID        string           `db:"session_id" json:"session_id"`
	StudentID        string           `db:"student_id" json:"student_id"`
	Status           EnrollmentStatus `db:"status" json:"status"`
	WaitlistPosition *int             `db:"waitlist_position" json:"waitlist_position,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
}

// EnrollmentDetail enriches an enrollment with student info for rosters.
type EnrollmentDetail struct {
	StudySessionEnrollment
	StudentName  string `db:"student_name" json:"student_name"`
	StudentEmail string `db:"student_email" json:"student_email"`
}

// SessionRoster groups a session's enrollments by seat state.
type SessionRoster struct {
	SessionID  string             `json:"session_id"`
	Capacity   int                `json:"capacity"`
	Enrolled   []EnrollmentDetail `json:"enrolled"`
	Waitlisted []EnrollmentDetail `json:"waitlisted"`
}
