package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/careline/careline/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	PRAGMA foreign_keys = ON;

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		email TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		last_login INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '新会话',
		status TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL,
		last_activity INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON chat_sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_activity ON chat_sessions(last_activity);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES chat_sessions(session_id) ON DELETE CASCADE,
		user_id TEXT,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON chat_messages(session_id);
	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON chat_messages(timestamp);

	CREATE TABLE IF NOT EXISTS user_feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES chat_sessions(session_id) ON DELETE CASCADE,
		message_id INTEGER,
		user_id TEXT,
		rating INTEGER NOT NULL,
		comment TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_session ON user_feedback(session_id);

	CREATE TABLE IF NOT EXISTS kb_chunks (
		id TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		source TEXT NOT NULL,
		content TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		total_chunks INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_collection ON kb_chunks(collection);
	CREATE INDEX IF NOT EXISTS idx_chunks_source ON kb_chunks(collection, source);

	CREATE TABLE IF NOT EXISTS revoked_tokens (
		jti TEXT PRIMARY KEY,
		expires_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		product_name TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		amount_cents INTEGER NOT NULL,
		status TEXT NOT NULL,
		carrier TEXT,
		tracking_no TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_username ON orders(username);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// EnsureUser creates the user on first login and stamps last_login.
func (s *SQLiteStore) EnsureUser(ctx context.Context, username string) (*domain.User, error) {
	now := time.Now().Unix()
	query := `
	INSERT INTO users (username, created_at, last_login)
	VALUES (?, ?, ?)
	ON CONFLICT(username) DO UPDATE SET last_login = excluded.last_login`

	if _, err := s.db.ExecContext(ctx, query, username, now, now); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return s.GetUser(ctx, username)
}

// GetUser retrieves a user by username.
func (s *SQLiteStore) GetUser(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT id, username, COALESCE(email, ''), is_active, created_at, last_login
		FROM users WHERE username = ?`

	row := s.db.QueryRowContext(ctx, query, username)

	var user domain.User
	var createdAt int64
	var lastLogin sql.NullInt64

	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.IsActive, &createdAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.CreatedAt = time.Unix(createdAt, 0)
	if lastLogin.Valid {
		ts := time.Unix(lastLogin.Int64, 0)
		user.LastLogin = &ts
	}

	return &user, nil
}

// CreateSessionIfNotExists inserts a session row unless it already exists.
func (s *SQLiteStore) CreateSessionIfNotExists(ctx context.Context, sessionID, userID string) error {
	now := time.Now().Unix()
	query := `
	INSERT INTO chat_sessions (session_id, user_id, created_at, last_activity)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(session_id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, sessionID, userID, now, now); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

const sessionColumns = `
	s.session_id, s.user_id, s.title, s.status, s.created_at, s.last_activity,
	(SELECT COUNT(*) FROM chat_messages m WHERE m.session_id = s.session_id),
	COALESCE((SELECT m.content FROM chat_messages m WHERE m.session_id = s.session_id
		ORDER BY m.id DESC LIMIT 1), '')`

func scanSession(row interface{ Scan(...any) error }) (*domain.Session, error) {
	var sess domain.Session
	var createdAt, lastActivity int64

	err := row.Scan(
		&sess.SessionID, &sess.UserID, &sess.Title, &sess.Status,
		&createdAt, &lastActivity, &sess.MessageCount, &sess.LastMessage,
	)
	if err != nil {
		return nil, err
	}

	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.LastActivity = time.Unix(lastActivity, 0)
	return &sess, nil
}

// GetSession retrieves one session.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions s WHERE s.session_id = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return sess, nil
}

// ListSessions returns all sessions owned by a user, most recent first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM chat_sessions s WHERE s.user_id = ? ORDER BY s.last_activity DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// SessionOwner returns the user ID owning a session.
func (s *SQLiteStore) SessionOwner(ctx context.Context, sessionID string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM chat_sessions WHERE session_id = ?`, sessionID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query session owner: %w", err)
	}
	return owner, nil
}

// RenameSession updates the session title.
func (s *SQLiteStore) RenameSession(ctx context.Context, sessionID, title string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET title = ?, last_activity = ? WHERE session_id = ?`,
		title, time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	return requireRowsAffected(result, "session not found")
}

// DeleteSession removes a session and its messages.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return requireRowsAffected(result, "session not found")
}

// UpdateSessionActivity stamps last_activity with the current time.
func (s *SQLiteStore) UpdateSessionActivity(ctx context.Context, sessionID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET last_activity = ? WHERE session_id = ?`,
		time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("update session activity: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateSessionActivity affected 0 rows", "session_id", sessionID)
	}
	return nil
}

// CleanupExpiredSessions archives sessions idle longer than ttl.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET status = ? WHERE status = ? AND last_activity < ?`,
		domain.SessionArchived, domain.SessionActive, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return result.RowsAffected()
}

// SaveMessage persists a chat message and returns its row ID.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *domain.ChatMessage) (int64, error) {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var metadata interface{}
	if msg.Metadata != "" {
		metadata = msg.Metadata
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (session_id, user_id, role, content, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.SessionID, msg.UserID, msg.Role, msg.Content, ts.Unix(), metadata)
	if err != nil {
		return 0, fmt.Errorf("save message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message insert id: %w", err)
	}
	return id, nil
}

// ListMessages returns messages of a session in chronological order.
// A positive limit keeps the most recent messages, not the oldest.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]*domain.ChatMessage, error) {
	query := `SELECT id, session_id, COALESCE(user_id, ''), role, content, timestamp, COALESCE(metadata, '')
		FROM chat_messages WHERE session_id = ? ORDER BY id ASC`
	args := []interface{}{sessionID}
	if limit > 0 {
		query = `SELECT * FROM (
			SELECT id, session_id, COALESCE(user_id, ''), role, content, timestamp, COALESCE(metadata, '')
			FROM chat_messages WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []*domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var ts int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.UserID, &msg.Role,
			&msg.Content, &ts, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Timestamp = time.Unix(ts, 0)
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// SaveFeedback persists a feedback record.
func (s *SQLiteStore) SaveFeedback(ctx context.Context, fb *domain.Feedback) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_feedback (session_id, message_id, user_id, rating, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		fb.SessionID, fb.MessageID, fb.UserID, fb.Rating, fb.Comment, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	return nil
}

// ListLowRatingFeedback returns feedback at or below maxRating created
// since the given time, most recent first.
func (s *SQLiteStore) ListLowRatingFeedback(ctx context.Context, since time.Time, maxRating int) ([]*domain.Feedback, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, COALESCE(message_id, 0), COALESCE(user_id, ''), rating, COALESCE(comment, ''), created_at
		FROM user_feedback WHERE rating <= ? AND created_at >= ? ORDER BY created_at DESC`,
		maxRating, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("query low rating feedback: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close feedback rows", "error", closeErr)
		}
	}()

	var out []*domain.Feedback
	for rows.Next() {
		var fb domain.Feedback
		var createdAt int64
		if err := rows.Scan(&fb.ID, &fb.SessionID, &fb.MessageID, &fb.UserID, &fb.Rating, &fb.Comment, &createdAt); err != nil {
			return nil, fmt.Errorf("scan feedback row: %w", err)
		}
		fb.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &fb)
	}
	return out, rows.Err()
}

// RevokeToken adds a JWT ID to the blacklist until expiresAt.
func (s *SQLiteStore) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (jti, expires_at) VALUES (?, ?)
		ON CONFLICT(jti) DO UPDATE SET expires_at = excluded.expires_at`,
		jti, expiresAt.Unix())
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether a JWT ID is blacklisted.
func (s *SQLiteStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM revoked_tokens WHERE jti = ?`, jti).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query revoked token: %w", err)
	}
	// A stale blacklist entry means the token has expired anyway.
	return expiresAt >= time.Now().Unix(), nil
}

// PurgeExpiredTokens drops blacklist entries past their expiry.
func (s *SQLiteStore) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE expires_at < ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("purge expired tokens: %w", err)
	}
	return result.RowsAffected()
}

// UpsertChunks inserts or replaces knowledge-base chunks.
func (s *SQLiteStore) UpsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk upsert: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO kb_chunks (id, collection, source, content, chunk_index, total_chunks, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content`)
	if err != nil {
		return fmt.Errorf("prepare chunk upsert: %w", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			slog.Warn("failed to close chunk statement", "error", closeErr)
		}
	}()

	now := time.Now().Unix()
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.Collection, c.Source,
			c.Content, c.ChunkIndex, c.TotalChunks, now); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk upsert: %w", err)
	}
	return nil
}

// ListCollections returns all knowledge-base collections.
func (s *SQLiteStore) ListCollections(ctx context.Context) ([]*domain.Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT collection, COUNT(*), MIN(created_at) FROM kb_chunks GROUP BY collection ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("query collections: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close collection rows", "error", closeErr)
		}
	}()

	var collections []*domain.Collection
	for rows.Next() {
		var col domain.Collection
		var createdAt int64
		if err := rows.Scan(&col.Name, &col.ChunkCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan collection row: %w", err)
		}
		col.CreatedAt = time.Unix(createdAt, 0)
		collections = append(collections, &col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}

	return collections, nil
}

// CollectionInfo returns one collection.
func (s *SQLiteStore) CollectionInfo(ctx context.Context, name string) (*domain.Collection, error) {
	var col domain.Collection
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT collection, COUNT(*), MIN(created_at) FROM kb_chunks WHERE collection = ? GROUP BY collection`,
		name).Scan(&col.Name, &col.ChunkCount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan collection info: %w", err)
	}
	col.CreatedAt = time.Unix(createdAt, 0)
	return &col, nil
}

// ListChunks returns up to limit chunks of a collection.
func (s *SQLiteStore) ListChunks(ctx context.Context, collection string, limit int) ([]domain.Chunk, error) {
	query := `SELECT id, collection, source, content, chunk_index, total_chunks, created_at
		FROM kb_chunks WHERE collection = ? ORDER BY source, chunk_index`
	args := []interface{}{collection}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close chunk rows", "error", closeErr)
		}
	}()

	var chunks []domain.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	return chunks, nil
}

func scanChunk(row interface{ Scan(...any) error }) (*domain.Chunk, error) {
	var c domain.Chunk
	var createdAt int64
	if err := row.Scan(&c.ID, &c.Collection, &c.Source, &c.Content,
		&c.ChunkIndex, &c.TotalChunks, &createdAt); err != nil {
		return nil, fmt.Errorf("scan chunk row: %w", err)
	}
	c.CreatedAt = time.Unix(createdAt, 0)
	return &c, nil
}

// GetChunk retrieves one chunk.
func (s *SQLiteStore) GetChunk(ctx context.Context, collection, chunkID string) (*domain.Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, collection, source, content, chunk_index, total_chunks, created_at
		FROM kb_chunks WHERE collection = ? AND id = ?`, collection, chunkID)

	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateChunk replaces the content of an existing chunk.
func (s *SQLiteStore) UpdateChunk(ctx context.Context, collection, chunkID, content string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE kb_chunks SET content = ? WHERE collection = ? AND id = ?`,
		content, collection, chunkID)
	if err != nil {
		return fmt.Errorf("update chunk: %w", err)
	}
	return requireRowsAffected(result, "chunk not found")
}

// DeleteChunk removes one chunk.
func (s *SQLiteStore) DeleteChunk(ctx context.Context, collection, chunkID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM kb_chunks WHERE collection = ? AND id = ?`, collection, chunkID)
	if err != nil {
		return fmt.Errorf("delete chunk: %w", err)
	}
	return requireRowsAffected(result, "chunk not found")
}

// DeleteBySource removes all chunks ingested from one source file.
func (s *SQLiteStore) DeleteBySource(ctx context.Context, collection, source string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM kb_chunks WHERE collection = ? AND source = ?`, collection, source)
	if err != nil {
		return 0, fmt.Errorf("delete by source: %w", err)
	}
	return result.RowsAffected()
}

// DeleteCollection removes a collection and all its chunks.
func (s *SQLiteStore) DeleteCollection(ctx context.Context, name string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM kb_chunks WHERE collection = ?`, name)
	if err != nil {
		return 0, fmt.Errorf("delete collection: %w", err)
	}
	return result.RowsAffected()
}

// RenameCollection moves all chunks to a new collection name.
func (s *SQLiteStore) RenameCollection(ctx context.Context, oldName, newName string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE kb_chunks SET collection = ? WHERE collection = ?`, newName, oldName)
	if err != nil {
		return fmt.Errorf("rename collection: %w", err)
	}
	return requireRowsAffected(result, "collection not found")
}

// GetOrder retrieves a synthetic order.
func (s *SQLiteStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT order_id, username, product_name, quantity, amount_cents, status,
			COALESCE(carrier, ''), COALESCE(tracking_no, ''), created_at
		FROM orders WHERE order_id = ?`, orderID)

	var o domain.Order
	var createdAt int64
	err := row.Scan(&o.OrderID, &o.Username, &o.ProductName, &o.Quantity,
		&o.AmountCents, &o.Status, &o.Carrier, &o.TrackingNo, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan order row: %w", err)
	}
	o.CreatedAt = time.Unix(createdAt, 0)
	return &o, nil
}

// CountOrders returns the number of seeded orders.
func (s *SQLiteStore) CountOrders(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

// SeedOrders bulk-inserts synthetic orders, ignoring duplicates.
func (s *SQLiteStore) SeedOrders(ctx context.Context, orders []domain.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin order seed: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, o := range orders {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO orders (order_id, username, product_name, quantity, amount_cents, status, carrier, tracking_no, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(order_id) DO NOTHING`,
			o.OrderID, o.Username, o.ProductName, o.Quantity, o.AmountCents,
			o.Status, o.Carrier, o.TrackingNo, o.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("seed order %s: %w", o.OrderID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order seed: %w", err)
	}
	return nil
}

func requireRowsAffected(result sql.Result, notFoundMsg string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, notFoundMsg)
	}
	return nil
}
