package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/careline/careline/internal/domain"
)

func newFakeServer(t *testing.T, renameStatus int) (*httptest.Server, *APIClient) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "fake-access",
			"refresh_token": "fake-refresh",
			"token_type":    "bearer",
			"expires_in":    1800,
			"username":      "tester",
		})
	})
	mux.HandleFunc("GET /api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fake-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"sessions": []domain.Session{
				{SessionID: "s1", UserID: "tester", Title: "第一个会话"},
				{SessionID: "s2", UserID: "tester", Title: "第二个会话"},
			},
		})
	})
	mux.HandleFunc("PUT /api/v1/sessions/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(renameStatus)
		json.NewEncoder(w).Encode(map[string]string{"error": "boom"})
	})
	mux.HandleFunc("DELETE /api/v1/sessions/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, NewAPIClient(srv.URL)
}

func TestAPIClient_LoginInstallsToken(t *testing.T) {
	_, api := newFakeServer(t, http.StatusOK)

	result, err := api.Login(context.Background(), "tester")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.Username != "tester" {
		t.Errorf("Unexpected username: %q", result.Username)
	}
	if api.Token() != "fake-access" {
		t.Errorf("Expected token installed, got %q", api.Token())
	}
}

func TestSessionList_RefreshMarksSynced(t *testing.T) {
	_, api := newFakeServer(t, http.StatusOK)
	if _, err := api.Login(context.Background(), "tester"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	list := NewSessionList(api)
	if err := list.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	entries := list.Entries()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Sync != SyncSynced {
			t.Errorf("Entry %s not synced: %s", e.SessionID, e.Sync)
		}
	}
}

func TestSessionList_RenameWriteThrough(t *testing.T) {
	_, api := newFakeServer(t, http.StatusOK)
	if _, err := api.Login(context.Background(), "tester"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	list := NewSessionList(api)
	if err := list.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if err := list.Rename(context.Background(), "s1", "新标题"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	for _, e := range list.Entries() {
		if e.SessionID == "s1" {
			if e.Title != "新标题" {
				t.Errorf("Expected renamed title, got %q", e.Title)
			}
			if e.Sync != SyncSynced {
				t.Errorf("Expected synced after write-through, got %s", e.Sync)
			}
		}
	}
}

func TestSessionList_RenameFailureStaysPending(t *testing.T) {
	_, api := newFakeServer(t, http.StatusInternalServerError)
	if _, err := api.Login(context.Background(), "tester"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	list := NewSessionList(api)
	if err := list.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if err := list.Rename(context.Background(), "s1", "新标题"); err == nil {
		t.Fatal("Expected rename error")
	}

	for _, e := range list.Entries() {
		if e.SessionID == "s1" {
			// Optimistic: the local title changed, but it is not confirmed.
			if e.Title != "新标题" {
				t.Errorf("Expected optimistic title, got %q", e.Title)
			}
			if e.Sync != SyncPending {
				t.Errorf("Expected pending after failed write-through, got %s", e.Sync)
			}
		}
	}
}

func TestSessionList_DeleteRemovesLocally(t *testing.T) {
	_, api := newFakeServer(t, http.StatusOK)
	if _, err := api.Login(context.Background(), "tester"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	list := NewSessionList(api)
	if err := list.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	list.Select("s1")

	if err := list.Delete(context.Background(), "s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if len(list.Entries()) != 1 {
		t.Errorf("Expected 1 remaining entry, got %d", len(list.Entries()))
	}
	if _, ok := list.Current(); ok {
		t.Error("Expected current selection cleared after deleting it")
	}
}
