package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/careline/careline/internal/auth"
	"github.com/careline/careline/internal/chatws"
	"github.com/careline/careline/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	tokens := auth.NewManager("test-secret", 30*time.Minute, 7*24*time.Hour, repo)
	base := NewHandler(repo)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		NewAuthHandler(base, tokens, chatws.NewConnectionManager()).RegisterRoutes(r)
		NewSessionHandler(base).RegisterRoutes(r, tokens)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	fields := map[string]json.RawMessage{}
	_ = json.NewDecoder(resp.Body).Decode(&fields)
	return resp, fields
}

func stringField(t *testing.T, fields map[string]json.RawMessage, key string) string {
	t.Helper()
	var s string
	if raw, ok := fields[key]; ok {
		if err := json.Unmarshal(raw, &s); err != nil {
			t.Fatalf("Field %q is not a string: %v", key, err)
		}
	}
	return s
}

func login(t *testing.T, srv *httptest.Server, username string) (access, refresh string) {
	t.Helper()

	resp, fields := doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/login", "",
		map[string]string{"username": username})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Login returned status %d", resp.StatusCode)
	}
	access = stringField(t, fields, "access_token")
	refresh = stringField(t, fields, "refresh_token")
	if access == "" || refresh == "" {
		t.Fatal("Expected both tokens in login response")
	}
	return access, refresh
}

func TestLoginValidation(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/login", "",
		map[string]string{"username": "a"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for short username, got %d", resp.StatusCode)
	}

	resp, fields := doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/login", "",
		map[string]string{"username": "张三"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if got := stringField(t, fields, "token_type"); got != "bearer" {
		t.Errorf("Expected token_type bearer, got %q", got)
	}
	if got := stringField(t, fields, "username"); got != "张三" {
		t.Errorf("Expected username echoed back, got %q", got)
	}
}

func TestSessionsRequireAuth(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions", "not-a-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 with garbage token, got %d", resp.StatusCode)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	access, _ := login(t, srv, "alice")

	resp, fields := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", access, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201 from create, got %d", resp.StatusCode)
	}
	sessionID := stringField(t, fields, "session_id")
	if sessionID == "" {
		t.Fatal("Expected session_id in create response")
	}

	resp, fields = doJSON(t, http.MethodPut, srv.URL+"/api/v1/sessions/"+sessionID, access,
		map[string]string{"title": "退货咨询"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from rename, got %d", resp.StatusCode)
	}
	if got := stringField(t, fields, "title"); got != "退货咨询" {
		t.Errorf("Expected renamed title, got %q", got)
	}

	resp, fields = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from list, got %d", resp.StatusCode)
	}
	var sessions []map[string]interface{}
	if err := json.Unmarshal(fields["sessions"], &sessions); err != nil {
		t.Fatalf("Failed to decode sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/sessions/"+sessionID, access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from delete, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+sessionID+"/messages", access, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for deleted session, got %d", resp.StatusCode)
	}
}

func TestSessionOwnership(t *testing.T) {
	srv := newTestServer(t)
	aliceToken, _ := login(t, srv, "alice")
	bobToken, _ := login(t, srv, "bobby")

	_, fields := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", aliceToken, nil)
	sessionID := stringField(t, fields, "session_id")

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+sessionID+"/messages", bobToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 for foreign session, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/sessions/"+sessionID, bobToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 for foreign delete, got %d", resp.StatusCode)
	}
}

func TestFeedbackValidation(t *testing.T) {
	srv := newTestServer(t)
	access, _ := login(t, srv, "alice")

	_, fields := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", access, nil)
	sessionID := stringField(t, fields, "session_id")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/feedback", access,
		map[string]interface{}{"session_id": sessionID, "message_id": 1, "rating": 6})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for out-of-range rating, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/feedback", access,
		map[string]interface{}{"session_id": sessionID, "message_id": 1, "rating": 5, "comment": "很有帮助"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for valid feedback, got %d", resp.StatusCode)
	}
}

func TestRefreshRotation(t *testing.T) {
	srv := newTestServer(t)
	_, refresh := login(t, srv, "alice")

	resp, fields := doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/refresh", "",
		map[string]string{"refresh_token": refresh})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from refresh, got %d", resp.StatusCode)
	}
	if stringField(t, fields, "access_token") == "" {
		t.Error("Expected fresh access token")
	}

	// The old refresh token was revoked during rotation.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/refresh", "",
		map[string]string{"refresh_token": refresh})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 reusing rotated token, got %d", resp.StatusCode)
	}
}

func TestLogoutRevokesAccess(t *testing.T) {
	srv := newTestServer(t)
	access, refresh := login(t, srv, "alice")

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/v1/auth/verify", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from verify, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/logout", access,
		map[string]string{"refresh_token": refresh})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from logout, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/auth/verify", access, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 after logout, got %d", resp.StatusCode)
	}

	// Logging out again with the revoked token is a friendly no-op.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/logout", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from repeated logout, got %d", resp.StatusCode)
	}
}
