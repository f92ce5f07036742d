package client

import (
	"testing"

	"github.com/careline/careline/internal/domain"
	"github.com/careline/careline/internal/protocol"
)

func TestMessageStore_AddAppends(t *testing.T) {
	s := NewMessageStore()

	first := s.Add(domain.RoleUser, "你好", nil)
	second := s.Add(domain.RoleAssistant, "您好，请问有什么可以帮您？", nil)

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != first.ID || msgs[1].ID != second.ID {
		t.Error("Messages out of order")
	}
	if first.ID == second.ID {
		t.Error("Expected unique message IDs")
	}
}

func TestMessageStore_StreamingLifecycle(t *testing.T) {
	s := NewMessageStore()

	s.UpsertStreaming("部分", false, nil)
	s.UpsertStreaming("部分回复", false, nil)
	final := s.UpsertStreaming("部分回复完成", true, nil)

	if final.Streaming {
		t.Error("Finalized message still flagged streaming")
	}
	if final.Content != "部分回复完成" {
		t.Errorf("Unexpected final content: %q", final.Content)
	}

	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("Expected exactly 1 finalized message, got %d", len(msgs))
	}
	if _, ok := s.Streaming(); ok {
		t.Error("Streaming slot should be empty after completion")
	}
}

func TestMessageStore_SingleStreamingSlot(t *testing.T) {
	s := NewMessageStore()

	a := s.UpsertStreaming("a", false, nil)
	b := s.UpsertStreaming("ab", false, nil)

	if a.ID != b.ID {
		t.Error("Expected updates to mutate the same streaming entry")
	}

	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 rendered message (the streaming slot), got %d", len(msgs))
	}
	if !msgs[0].Streaming {
		t.Error("Expected the rendered entry to be the streaming one")
	}
}

func TestMessageStore_CompletionExtractsReferences(t *testing.T) {
	s := NewMessageStore()

	content := "答案正文\n\n" + protocol.ReferenceMarker + "\n1. faq.md\n   预览内容"
	final := s.UpsertStreaming(content, true, nil)

	if final.Content != "答案正文" {
		t.Errorf("Expected trailer stripped, got %q", final.Content)
	}
	if len(final.References) != 1 || final.References[0].Source != "faq.md" {
		t.Fatalf("Expected extracted citation, got %+v", final.References)
	}
}

func TestMessageStore_Clear(t *testing.T) {
	s := NewMessageStore()
	s.Add(domain.RoleUser, "hi", nil)
	s.UpsertStreaming("partial", false, nil)

	s.Clear()

	if len(s.Messages()) != 0 {
		t.Error("Expected empty store after Clear")
	}
	if _, ok := s.Streaming(); ok {
		t.Error("Expected empty streaming slot after Clear")
	}
}

func TestMessageStore_MarkFeedback(t *testing.T) {
	s := NewMessageStore()
	msg := s.Add(domain.RoleAssistant, "回复", nil)

	if !s.MarkFeedback(msg.ID) {
		t.Fatal("MarkFeedback failed for existing message")
	}
	if s.MarkFeedback("missing") {
		t.Error("MarkFeedback succeeded for unknown ID")
	}
	if msgs := s.Messages(); !msgs[0].FeedbackSubmitted {
		t.Error("Expected feedback flag set")
	}
}
