// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/careline/careline/internal/domain"
)

// ErrNotFound is returned by mutating operations that matched no row.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting chat, user, feedback,
// knowledge-base, and order data.
type Repository interface {
	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// EnsureUser creates the user on first login and stamps last_login.
	EnsureUser(ctx context.Context, username string) (*domain.User, error)

	// GetUser retrieves a user by username. Returns nil, nil when absent.
	GetUser(ctx context.Context, username string) (*domain.User, error)

	// CreateSessionIfNotExists inserts a session row unless one already
	// exists for the given session ID.
	CreateSessionIfNotExists(ctx context.Context, sessionID, userID string) error

	// GetSession retrieves one session. Returns nil, nil when absent.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// ListSessions returns all sessions owned by a user, most recent first,
	// with message counts and last message previews populated.
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)

	// SessionOwner returns the user ID owning a session, or "" when the
	// session does not exist.
	SessionOwner(ctx context.Context, sessionID string) (string, error)

	// RenameSession updates the session title.
	RenameSession(ctx context.Context, sessionID, title string) error

	// DeleteSession removes a session and, via cascade, its messages.
	DeleteSession(ctx context.Context, sessionID string) error

	// UpdateSessionActivity stamps last_activity with the current time.
	UpdateSessionActivity(ctx context.Context, sessionID string) error

	// CleanupExpiredSessions archives sessions idle longer than ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// SaveMessage persists a chat message and returns its row ID.
	SaveMessage(ctx context.Context, msg *domain.ChatMessage) (int64, error)

	// ListMessages returns up to limit messages of a session in
	// chronological order. limit <= 0 means no limit.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*domain.ChatMessage, error)

	// SaveFeedback persists a feedback record.
	SaveFeedback(ctx context.Context, fb *domain.Feedback) error

	// ListLowRatingFeedback returns feedback at or below maxRating
	// created since the given time, most recent first.
	ListLowRatingFeedback(ctx context.Context, since time.Time, maxRating int) ([]*domain.Feedback, error)

	// RevokeToken adds a JWT ID to the blacklist until expiresAt.
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error

	// IsTokenRevoked reports whether a JWT ID is blacklisted.
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)

	// PurgeExpiredTokens drops blacklist entries past their expiry.
	PurgeExpiredTokens(ctx context.Context) (int64, error)

	// UpsertChunks inserts or replaces knowledge-base chunks.
	UpsertChunks(ctx context.Context, chunks []domain.Chunk) error

	// ListCollections returns all knowledge-base collections.
	ListCollections(ctx context.Context) ([]*domain.Collection, error)

	// CollectionInfo returns one collection. Returns nil, nil when absent.
	CollectionInfo(ctx context.Context, name string) (*domain.Collection, error)

	// ListChunks returns up to limit chunks of a collection.
	ListChunks(ctx context.Context, collection string, limit int) ([]domain.Chunk, error)

	// GetChunk retrieves one chunk. Returns nil, nil when absent.
	GetChunk(ctx context.Context, collection, chunkID string) (*domain.Chunk, error)

	// UpdateChunk replaces the content of an existing chunk.
	UpdateChunk(ctx context.Context, collection, chunkID, content string) error

	// DeleteChunk removes one chunk.
	DeleteChunk(ctx context.Context, collection, chunkID string) error

	// DeleteBySource removes all chunks ingested from one source file.
	DeleteBySource(ctx context.Context, collection, source string) (int64, error)

	// DeleteCollection removes a collection and all its chunks.
	DeleteCollection(ctx context.Context, name string) (int64, error)

	// RenameCollection moves all chunks to a new collection name.
	RenameCollection(ctx context.Context, oldName, newName string) error

	// GetOrder retrieves a synthetic order. Returns nil, nil when absent.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// CountOrders returns the number of seeded orders.
	CountOrders(ctx context.Context) (int64, error)

	// SeedOrders bulk-inserts synthetic orders, ignoring duplicates.
	SeedOrders(ctx context.Context, orders []domain.Order) error
}
