package models

// Student is an opaque enrollment target; profile management lives in
// another bounded context.
type Student struct {
	ID       string `db:"id" json:"id"`
	FullName string `db:"full_name" json:"full_name"`
	Email    string `db:"email" json:"email"`
	Active   bool   `db:"active" json:"active"`
}

// Guardian is a parent/guardian contact attached to a student. Guardians
// only receive notifications when NotifyOptIn is true.
type Guardian struct {
	ID          string `db:"id" json:"id"`
	StudentID   string `db:"student_id" json:"student_id"`
	FullName    string `db:"full_name" json:"full_name"`
	Email       string `db:"email" json:"email"`
	NotifyOptIn bool   `db:"notify_opt_in" json:"notify_opt_in"`
}
