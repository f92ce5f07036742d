package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/careline/careline/internal/domain"
)

// SyncState tracks whether a locally mutated session entry has been
// written through to the server.
type SyncState string

const (
	SyncPending SyncState = "pending"
	SyncSynced  SyncState = "synced"
)

// SessionEntry is a cached session plus its write-through state.
type SessionEntry struct {
	domain.Session
	Sync SyncState
}

// APIClient is a thin client for the Careline REST surface.
type APIClient struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// NewAPIClient creates a client for the given server base URL.
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Token returns the current access token.
func (c *APIClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken installs the access token sent on subsequent requests.
func (c *APIClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// LoginResult is the token pair returned by the login endpoint.
type LoginResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Username     string `json:"username"`
}

// Login performs the demo login and installs the access token.
func (c *APIClient) Login(ctx context.Context, username string) (*LoginResult, error) {
	var result LoginResult
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"username": username}, &result)
	if err != nil {
		return nil, err
	}
	c.SetToken(result.AccessToken)
	return &result, nil
}

// Logout revokes the access token server side and clears it locally.
func (c *APIClient) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/logout", struct{}{}, nil)
	c.SetToken("")
	return err
}

// ListSessions fetches the caller's sessions.
func (c *APIClient) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	var result struct {
		Sessions []*domain.Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions", nil, &result); err != nil {
		return nil, err
	}
	return result.Sessions, nil
}

// CreateSession allocates a new session server side.
func (c *APIClient) CreateSession(ctx context.Context) (*domain.Session, error) {
	var session domain.Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", struct{}{}, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// RenameSession updates a session title server side.
func (c *APIClient) RenameSession(ctx context.Context, sessionID, title string) error {
	return c.do(ctx, http.MethodPut, "/api/v1/sessions/"+sessionID,
		map[string]string{"title": title}, nil)
}

// DeleteSession removes a session server side.
func (c *APIClient) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/sessions/"+sessionID, nil, nil)
}

// Messages fetches the history of a session.
func (c *APIClient) Messages(ctx context.Context, sessionID string, limit int) ([]*domain.ChatMessage, error) {
	path := "/api/v1/sessions/" + sessionID + "/messages"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var result struct {
		Messages []*domain.ChatMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// SubmitFeedback rates an assistant message.
func (c *APIClient) SubmitFeedback(ctx context.Context, sessionID string, messageID int64, rating int, comment string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/feedback", map[string]interface{}{
		"session_id": sessionID,
		"message_id": messageID,
		"rating":     rating,
		"comment":    comment,
	}, nil)
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// SessionList is a client-side cache of the user's sessions. Mutations
// apply locally first and are written through to the server; entries
// that have not confirmed yet carry SyncPending.
type SessionList struct {
	api *APIClient

	mu      sync.Mutex
	entries []*SessionEntry
	current string
}

// NewSessionList creates an empty cache over the API client.
func NewSessionList(api *APIClient) *SessionList {
	return &SessionList{api: api}
}

// Refresh replaces the cache with the server's session list.
func (l *SessionList) Refresh(ctx context.Context) error {
	sessions, err := l.api.ListSessions(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make([]*SessionEntry, 0, len(sessions))
	for _, s := range sessions {
		l.entries = append(l.entries, &SessionEntry{Session: *s, Sync: SyncSynced})
	}
	return nil
}

// Create allocates a session server side and prepends it to the cache.
func (l *SessionList) Create(ctx context.Context) (*SessionEntry, error) {
	session, err := l.api.CreateSession(ctx)
	if err != nil {
		return nil, err
	}

	entry := &SessionEntry{Session: *session, Sync: SyncSynced}
	l.mu.Lock()
	l.entries = append([]*SessionEntry{entry}, l.entries...)
	l.current = entry.SessionID
	l.mu.Unlock()
	return entry, nil
}

// Rename updates the title locally first, then writes through. On
// failure the entry keeps its new title but stays SyncPending so the
// caller can retry or refresh.
func (l *SessionList) Rename(ctx context.Context, sessionID, title string) error {
	l.mu.Lock()
	entry := l.find(sessionID)
	if entry == nil {
		l.mu.Unlock()
		return fmt.Errorf("session %s not in cache", sessionID)
	}
	entry.Title = title
	entry.Sync = SyncPending
	l.mu.Unlock()

	if err := l.api.RenameSession(ctx, sessionID, title); err != nil {
		return err
	}

	l.mu.Lock()
	if entry := l.find(sessionID); entry != nil {
		entry.Sync = SyncSynced
	}
	l.mu.Unlock()
	return nil
}

// Delete removes the session locally first, then writes through. On
// failure the entry is restored with SyncPending.
func (l *SessionList) Delete(ctx context.Context, sessionID string) error {
	l.mu.Lock()
	var removed *SessionEntry
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.SessionID == sessionID {
			removed = e
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	if l.current == sessionID {
		l.current = ""
	}
	l.mu.Unlock()

	if removed == nil {
		return fmt.Errorf("session %s not in cache", sessionID)
	}

	if err := l.api.DeleteSession(ctx, sessionID); err != nil {
		l.mu.Lock()
		removed.Sync = SyncPending
		l.entries = append(l.entries, removed)
		l.mu.Unlock()
		return err
	}
	return nil
}

// Select marks a session as current.
func (l *SessionList) Select(sessionID string) {
	l.mu.Lock()
	l.current = sessionID
	l.mu.Unlock()
}

// Current returns the selected session entry, if any.
func (l *SessionList) Current() (*SessionEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == "" {
		return nil, false
	}
	if entry := l.find(l.current); entry != nil {
		copied := *entry
		return &copied, true
	}
	return nil, false
}

// Entries returns a snapshot of the cached sessions.
func (l *SessionList) Entries() []SessionEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SessionEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	return out
}

func (l *SessionList) find(sessionID string) *SessionEntry {
	for _, e := range l.entries {
		if e.SessionID == sessionID {
			return e
		}
	}
	return nil
}
