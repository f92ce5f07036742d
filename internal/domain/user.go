package domain

import (
	"time"
)

// User represents an account in the demo login system.
type User struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email,omitempty"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// Feedback is a user rating of one assistant message.
type Feedback struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	MessageID int64     `json:"message_id"`
	UserID    string    `json:"user_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidRating reports whether a feedback rating is within the 1..5 scale.
func ValidRating(rating int) bool {
	return rating >= 1 && rating <= 5
}
