package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/careline/careline/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestEnsureUser(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	user, err := repo.EnsureUser(ctx, "alice")
	if err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	if user.Username != "alice" || !user.IsActive {
		t.Errorf("Unexpected user: %+v", user)
	}
	if user.LastLogin == nil {
		t.Error("Expected last_login stamped")
	}

	// Second login updates the stamp without duplicating the row.
	again, err := repo.EnsureUser(ctx, "alice")
	if err != nil {
		t.Fatalf("EnsureUser (second) failed: %v", err)
	}
	if again.ID != user.ID {
		t.Errorf("Expected same row, got IDs %d and %d", user.ID, again.ID)
	}
}

func TestGetUserMissing(t *testing.T) {
	repo := newTestStore(t)

	user, err := repo.GetUser(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user != nil {
		t.Errorf("Expected nil for missing user, got %+v", user)
	}
}

func TestSessionLifecycle(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.CreateSessionIfNotExists(ctx, "s1", "alice"); err != nil {
		t.Fatalf("CreateSessionIfNotExists failed: %v", err)
	}
	// Idempotent on repeat.
	if err := repo.CreateSessionIfNotExists(ctx, "s1", "alice"); err != nil {
		t.Fatalf("CreateSessionIfNotExists (repeat) failed: %v", err)
	}

	owner, err := repo.SessionOwner(ctx, "s1")
	if err != nil || owner != "alice" {
		t.Fatalf("SessionOwner = %q, %v", owner, err)
	}

	if err := repo.RenameSession(ctx, "s1", "售后咨询"); err != nil {
		t.Fatalf("RenameSession failed: %v", err)
	}
	session, err := repo.GetSession(ctx, "s1")
	if err != nil || session == nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.Title != "售后咨询" {
		t.Errorf("Expected renamed title, got %q", session.Title)
	}

	if err := repo.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if owner, _ := repo.SessionOwner(ctx, "s1"); owner != "" {
		t.Errorf("Expected no owner after delete, got %q", owner)
	}
}

func TestRenameMissingSession(t *testing.T) {
	repo := newTestStore(t)

	err := repo.RenameSession(context.Background(), "nope", "title")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMessagesAndSessionList(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.CreateSessionIfNotExists(ctx, "s1", "alice"); err != nil {
		t.Fatal(err)
	}

	id1, err := repo.SaveMessage(ctx, &domain.ChatMessage{
		SessionID: "s1", UserID: "alice", Role: domain.RoleUser,
		Content: "你好", Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	id2, err := repo.SaveMessage(ctx, &domain.ChatMessage{
		SessionID: "s1", Role: domain.RoleAssistant,
		Content: "您好，请问有什么可以帮您？", Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	if id2 <= id1 {
		t.Errorf("Expected increasing message IDs, got %d then %d", id1, id2)
	}

	messages, err := repo.ListMessages(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != domain.RoleUser || messages[1].Role != domain.RoleAssistant {
		t.Error("Messages out of chronological order")
	}

	limited, err := repo.ListMessages(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("ListMessages with limit failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("Expected 1 message with limit, got %d", len(limited))
	}
	if limited[0].Role != domain.RoleAssistant {
		t.Errorf("Expected the most recent message, got role %s", limited[0].Role)
	}

	sessions, err := repo.ListSessions(ctx, "alice")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}
	if sessions[0].MessageCount != 2 {
		t.Errorf("Expected message_count 2, got %d", sessions[0].MessageCount)
	}
	if sessions[0].LastMessage == "" {
		t.Error("Expected last message preview populated")
	}
}

func TestListMessagesLimitKeepsRecentTail(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.CreateSessionIfNotExists(ctx, "s1", "alice"); err != nil {
		t.Fatal(err)
	}
	for _, content := range []string{"oldest", "middle", "newest"} {
		if _, err := repo.SaveMessage(ctx, &domain.ChatMessage{
			SessionID: "s1", Role: domain.RoleUser, Content: content, Timestamp: time.Now(),
		}); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	tail, err := repo.ListMessages(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(tail))
	}
	if tail[0].Content != "middle" || tail[1].Content != "newest" {
		t.Errorf("Expected recent tail in order, got %q then %q", tail[0].Content, tail[1].Content)
	}
}

func TestDeleteSessionCascadesMessages(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.CreateSessionIfNotExists(ctx, "s1", "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.SaveMessage(ctx, &domain.ChatMessage{
		SessionID: "s1", Role: domain.RoleUser, Content: "hi", Timestamp: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	if err := repo.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	messages, err := repo.ListMessages(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("Expected cascade delete of messages, got %d", len(messages))
	}
}

func TestSaveFeedback(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.CreateSessionIfNotExists(ctx, "s1", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveFeedback(ctx, &domain.Feedback{
		SessionID: "s1", MessageID: 1, UserID: "alice", Rating: 5, Comment: "很有帮助",
	}); err != nil {
		t.Fatalf("SaveFeedback failed: %v", err)
	}
}

func TestListLowRatingFeedback(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.CreateSessionIfNotExists(ctx, "s1", "alice"); err != nil {
		t.Fatal(err)
	}
	for _, rating := range []int{1, 2, 3, 5} {
		if err := repo.SaveFeedback(ctx, &domain.Feedback{
			SessionID: "s1", MessageID: 1, UserID: "alice", Rating: rating,
		}); err != nil {
			t.Fatalf("SaveFeedback failed: %v", err)
		}
	}

	low, err := repo.ListLowRatingFeedback(ctx, time.Now().Add(-time.Hour), 2)
	if err != nil {
		t.Fatalf("ListLowRatingFeedback failed: %v", err)
	}
	if len(low) != 2 {
		t.Fatalf("Expected 2 low ratings, got %d", len(low))
	}
	for _, fb := range low {
		if fb.Rating > 2 {
			t.Errorf("Expected rating <= 2, got %d", fb.Rating)
		}
		if fb.CreatedAt.IsZero() {
			t.Error("Expected created_at populated")
		}
	}

	// A future cutoff excludes everything.
	none, err := repo.ListLowRatingFeedback(ctx, time.Now().Add(time.Hour), 2)
	if err != nil {
		t.Fatalf("ListLowRatingFeedback failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no feedback past a future cutoff, got %d", len(none))
	}
}

func TestTokenBlacklist(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	revoked, err := repo.IsTokenRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("Expected fresh jti not revoked, got %v, %v", revoked, err)
	}

	if err := repo.RevokeToken(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	revoked, err = repo.IsTokenRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("Expected jti revoked, got %v, %v", revoked, err)
	}

	// An already expired entry purges away.
	if err := repo.RevokeToken(ctx, "jti-old", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	purged, err := repo.PurgeExpiredTokens(ctx)
	if err != nil {
		t.Fatalf("PurgeExpiredTokens failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("Expected 1 purged entry, got %d", purged)
	}
}

func TestChunkCRUD(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	chunks := []domain.Chunk{
		{ID: "c1", Collection: "kb", Source: "a.md", Content: "第一段", ChunkIndex: 0, TotalChunks: 2},
		{ID: "c2", Collection: "kb", Source: "a.md", Content: "第二段", ChunkIndex: 1, TotalChunks: 2},
		{ID: "c3", Collection: "kb", Source: "b.md", Content: "另一个文件", ChunkIndex: 0, TotalChunks: 1},
	}
	if err := repo.UpsertChunks(ctx, chunks); err != nil {
		t.Fatalf("UpsertChunks failed: %v", err)
	}

	info, err := repo.CollectionInfo(ctx, "kb")
	if err != nil || info == nil {
		t.Fatalf("CollectionInfo failed: %v", err)
	}
	if info.ChunkCount != 3 {
		t.Errorf("Expected 3 chunks, got %d", info.ChunkCount)
	}

	if err := repo.UpdateChunk(ctx, "kb", "c1", "改写后的第一段"); err != nil {
		t.Fatalf("UpdateChunk failed: %v", err)
	}
	got, err := repo.GetChunk(ctx, "kb", "c1")
	if err != nil || got == nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if got.Content != "改写后的第一段" {
		t.Errorf("Expected updated content, got %q", got.Content)
	}

	deleted, err := repo.DeleteBySource(ctx, "kb", "a.md")
	if err != nil {
		t.Fatalf("DeleteBySource failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", deleted)
	}

	if err := repo.RenameCollection(ctx, "kb", "kb2"); err != nil {
		t.Fatalf("RenameCollection failed: %v", err)
	}
	if c, _ := repo.GetChunk(ctx, "kb2", "c3"); c == nil {
		t.Error("Expected chunk moved to renamed collection")
	}

	if _, err := repo.DeleteCollection(ctx, "kb2"); err != nil {
		t.Fatalf("DeleteCollection failed: %v", err)
	}
	cols, err := repo.ListCollections(ctx)
	if err != nil {
		t.Fatalf("ListCollections failed: %v", err)
	}
	if len(cols) != 0 {
		t.Errorf("Expected no collections, got %d", len(cols))
	}
}

func TestChunkNotFound(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetChunk(ctx, "kb", "missing")
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for missing chunk, got %+v", got)
	}

	if err := repo.UpdateChunk(ctx, "kb", "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound from UpdateChunk, got %v", err)
	}
	if err := repo.DeleteChunk(ctx, "kb", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound from DeleteChunk, got %v", err)
	}
}

func TestOrderSeeding(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := SeedOrdersIfEmpty(ctx, repo); err != nil {
		t.Fatalf("SeedOrdersIfEmpty failed: %v", err)
	}
	count, err := repo.CountOrders(ctx)
	if err != nil {
		t.Fatalf("CountOrders failed: %v", err)
	}
	if count != int64(len(SyntheticOrders())) {
		t.Errorf("Expected %d orders, got %d", len(SyntheticOrders()), count)
	}

	// Idempotent.
	if err := SeedOrdersIfEmpty(ctx, repo); err != nil {
		t.Fatalf("SeedOrdersIfEmpty (repeat) failed: %v", err)
	}
	again, _ := repo.CountOrders(ctx)
	if again != count {
		t.Errorf("Expected seeding to be idempotent, got %d then %d", count, again)
	}

	order, err := repo.GetOrder(ctx, SyntheticOrders()[0].OrderID)
	if err != nil || order == nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if order.ProductName == "" {
		t.Error("Expected product name populated")
	}

	missing, err := repo.GetOrder(ctx, "ORD-00000000-0000")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for missing order, got %+v", missing)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.CreateSessionIfNotExists(ctx, "old", "alice"); err != nil {
		t.Fatal(err)
	}

	// Nothing is stale yet.
	archived, err := repo.CleanupExpiredSessions(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions failed: %v", err)
	}
	if archived != 0 {
		t.Errorf("Expected no archived sessions, got %d", archived)
	}

	// A negative TTL makes every session stale.
	archived, err = repo.CleanupExpiredSessions(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions failed: %v", err)
	}
	if archived != 1 {
		t.Errorf("Expected 1 archived session, got %d", archived)
	}

	session, err := repo.GetSession(ctx, "old")
	if err != nil || session == nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.Status != domain.SessionArchived {
		t.Errorf("Expected archived status, got %s", session.Status)
	}
}
