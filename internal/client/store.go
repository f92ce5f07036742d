package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careline/careline/internal/domain"
	"github.com/careline/careline/internal/protocol"
)

// Message is the client-side render model: finalized messages are
// immutable, the single streaming message mutates in place until
// completion.
type Message struct {
	ID                string
	Role              domain.Role
	Content           string
	Timestamp         time.Time
	References        []domain.Citation
	Streaming         bool
	FeedbackSubmitted bool
}

// MessageStore holds an ordered list of finalized messages plus at
// most one in-progress streaming entry.
type MessageStore struct {
	mu        sync.Mutex
	messages  []Message
	streaming *Message
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

// Add appends a finalized message and returns it.
func (s *MessageStore) Add(role domain.Role, content string, references []domain.Citation) Message {
	msg := Message{
		ID:         uuid.NewString(),
		Role:       role,
		Content:    content,
		Timestamp:  time.Now(),
		References: references,
	}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	return msg
}

// UpsertStreaming creates the streaming slot on first call or mutates
// it in place. On complete it extracts the citation trailer, appends a
// finalized message, and clears the slot.
func (s *MessageStore) UpsertStreaming(content string, complete bool, references []domain.Citation) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streaming == nil {
		s.streaming = &Message{
			ID:        uuid.NewString(),
			Role:      domain.RoleAssistant,
			Timestamp: time.Now(),
			Streaming: true,
		}
	}
	s.streaming.Content = content
	if len(references) > 0 {
		s.streaming.References = references
	}

	if !complete {
		return *s.streaming
	}

	visible, extracted := protocol.ExtractReferences(content)
	final := *s.streaming
	final.Content = visible
	final.Streaming = false
	if len(extracted) > 0 {
		final.References = extracted
	}
	s.messages = append(s.messages, final)
	s.streaming = nil
	return final
}

// Streaming returns a copy of the in-progress message, if any.
func (s *MessageStore) Streaming() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming == nil {
		return Message{}, false
	}
	return *s.streaming, true
}

// Messages returns a snapshot of finalized messages, with the streaming
// entry (if any) appended last the way the UI renders it.
func (s *MessageStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages), len(s.messages)+1)
	copy(out, s.messages)
	if s.streaming != nil {
		out = append(out, *s.streaming)
	}
	return out
}

// MarkFeedback flags a finalized message as rated.
func (s *MessageStore) MarkFeedback(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].FeedbackSubmitted = true
			return true
		}
	}
	return false
}

// Clear empties both the list and the streaming slot.
func (s *MessageStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.streaming = nil
}
