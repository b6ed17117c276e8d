package domain

import "strings"

// User is the subset of an account needed for display and notifications.
type User struct {
	ID        int64  `db:"id"`
	FirstName string `db:"first_name"`
	LastName  string `db:"last_name"`
	Email     string `db:"email"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Course is the teaching unit a doubt is raised against.
type Course struct {
	ID        int64  `db:"id"`
	FullName  string `db:"full_name"`
	ShortName string `db:"short_name"`
	ContextID int64  `db:"context_id"`
}

// Notification is a best-effort message to a user.
type Notification struct {
	Name       string `json:"name"`
	ToUserID   int64  `json:"to_user_id"`
	FromUserID int64  `json:"from_user_id"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	ContextURL string `json:"context_url"`
}
