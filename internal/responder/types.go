// Package responder implements AI reply generation for the chat service.
package responder

import (
	"context"
	"iter"

	"github.com/careline/careline/internal/domain"
)

// Request carries one user message plus the conversation context needed
// to answer it.
type Request struct {
	SessionID string
	UserID    string
	Message   string
	History   []*domain.ChatMessage
}

// Responder produces a reply as a sequence of text fragments. A reply
// yielded as a single fragment is treated by the transport layer as a
// complete (non-streamed) answer.
type Responder interface {
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}

// Collect drains a responder stream into the full reply text.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var sb []byte
	for fragment, err := range seq {
		if err != nil {
			return string(sb), err
		}
		sb = append(sb, fragment...)
	}
	return string(sb), nil
}
