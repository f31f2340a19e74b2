package models

// Teacher owns study sessions.
type Teacher struct {
	ID       string `db:"id" json:"id"`
	FullName string `db:"full_name" json:"full_name"`
	Email    string `db:"email" json:"email"`
	Active   bool   `db:"active" json:"active"`
}
