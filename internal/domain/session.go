package domain

import (
	"time"
)

// SessionStatus tracks the lifecycle of a chat session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionArchived SessionStatus = "archived"
)

// Session represents one chat conversation owned by a user.
type Session struct {
	SessionID    string        `json:"session_id"`
	UserID       string        `json:"user_id"`
	Title        string        `json:"title"`
	Status       SessionStatus `json:"status"`
	MessageCount int           `json:"message_count"`
	LastMessage  string        `json:"last_message,omitempty"`
	CreatedAt    time.Time     `json:"start_time"`
	LastActivity time.Time     `json:"end_time"`
}

// Touch updates the last activity timestamp.
func (s *Session) Touch() {
	s.LastActivity = time.Now()
}
