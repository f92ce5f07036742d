// Package protocol defines the JSON envelopes exchanged over the chat
// WebSocket. Every frame carries a type tag; unknown tags are ignored
// by receivers.
package protocol

import (
	"time"

	"github.com/careline/careline/internal/domain"
)

// Frame type tags.
const (
	TypeConnected     = "connected"
	TypeMessage       = "message"
	TypeResponse      = "response"
	TypeStreamStart   = "stream_start"
	TypeStreamMessage = "stream_message"
	TypeStreamEnd     = "stream_end"
	TypeError         = "error"
	TypePing          = "ping"
	TypePong          = "pong"
)

// ClientMessage is the client -> server envelope.
type ClientMessage struct {
	Type             string `json:"type"`
	Content          string `json:"content,omitempty"`
	Timestamp        string `json:"timestamp,omitempty"`
	EnableMultiAgent bool   `json:"enable_multi_agent,omitempty"`
}

// ServerFrame is the server -> client envelope. Fields are populated
// according to Type; absent fields are omitted on the wire.
type ServerFrame struct {
	Type          string            `json:"type"`
	Content       string            `json:"content,omitempty"`
	Message       string            `json:"message,omitempty"`
	Sender        string            `json:"sender,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	StreamID      string            `json:"stream_id,omitempty"`
	ChunkIndex    int               `json:"chunk_index,omitempty"`
	TotalChunks   int               `json:"total_chunks,omitempty"`
	IsFinal       bool              `json:"is_final,omitempty"`
	HasReferences bool              `json:"has_references,omitempty"`
	References    []domain.Citation `json:"references,omitempty"`
	Timestamp     string            `json:"timestamp,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
}

// Now returns the wire timestamp format used by both sides.
func Now() string {
	return time.Now().Format(time.RFC3339)
}
