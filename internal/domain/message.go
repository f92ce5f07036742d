// Package domain contains core domain types for the Careline application.
package domain

import (
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is a persisted message within a chat session.
type ChatMessage struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  string    `json:"metadata,omitempty"`
}

// Citation is a (source label, preview snippet) pair extracted from the
// reference trailer of an assistant reply.
type Citation struct {
	Source         string `json:"source"`
	ContentPreview string `json:"content_preview"`
}
