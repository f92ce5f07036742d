package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/careline/careline/internal/auth"
	"github.com/careline/careline/internal/domain"
)

// SessionHandler serves the session list and feedback endpoints. All
// routes require a valid access token.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates the session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session and feedback routes behind the auth
// middleware.
func (h *SessionHandler) RegisterRoutes(r chi.Router, tokens *auth.Manager) {
	r.Group(func(r chi.Router) {
		r.Use(tokens.Middleware)
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.List)
			r.Post("/", h.Create)
			r.Get("/{sessionID}/messages", h.Messages)
			r.Put("/{sessionID}", h.Rename)
			r.Delete("/{sessionID}", h.Delete)
		})
		r.Post("/feedback", h.Feedback)
	})
}

// List returns the caller's sessions, most recent first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	username := auth.UsernameFromContext(r.Context())

	sessions, err := h.repo.ListSessions(r.Context(), username)
	if err != nil {
		slog.Error("Failed to list sessions", "error", err, "user_id", username)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// Create allocates a fresh session ID and returns the new session.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	username := auth.UsernameFromContext(r.Context())
	sessionID := uuid.NewString()

	if err := h.repo.CreateSessionIfNotExists(r.Context(), sessionID, username); err != nil {
		slog.Error("Failed to create session", "error", err, "user_id", username)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	session, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil || session == nil {
		slog.Error("Failed to load created session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	JSON(w, http.StatusCreated, session)
}

// Messages returns the chronological history of one owned session. An
// optional limit query parameter caps the result.
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !h.requireOwner(w, r, sessionID) {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	messages, err := h.repo.ListMessages(r.Context(), sessionID, limit)
	if err != nil {
		slog.Error("Failed to list messages", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if messages == nil {
		messages = []*domain.ChatMessage{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"messages":   messages,
	})
}

type renameRequest struct {
	Title string `json:"title"`
}

// Rename updates the display title of an owned session.
func (h *SessionHandler) Rename(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !h.requireOwner(w, r, sessionID) {
		return
	}

	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		Error(w, http.StatusBadRequest, "title required")
		return
	}

	if err := h.repo.RenameSession(r.Context(), sessionID, title); err != nil {
		slog.Error("Failed to rename session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to rename session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "title": title})
}

// Delete removes an owned session and its messages.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !h.requireOwner(w, r, sessionID) {
		return
	}

	if err := h.repo.DeleteSession(r.Context(), sessionID); err != nil {
		slog.Error("Failed to delete session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "会话已删除"})
}

type feedbackRequest struct {
	SessionID string `json:"session_id"`
	MessageID int64  `json:"message_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
}

// Feedback records a 1..5 rating of an assistant message.
func (h *SessionHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	username := auth.UsernameFromContext(r.Context())

	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !domain.ValidRating(req.Rating) {
		Error(w, http.StatusBadRequest, "rating must be between 1 and 5")
		return
	}
	if req.SessionID == "" {
		Error(w, http.StatusBadRequest, "session_id required")
		return
	}

	owner, err := h.repo.SessionOwner(r.Context(), req.SessionID)
	if err != nil {
		slog.Error("Failed to check session owner", "error", err, "session_id", req.SessionID)
		Error(w, http.StatusInternalServerError, "failed to save feedback")
		return
	}
	if owner != username {
		Error(w, http.StatusForbidden, "not your session")
		return
	}

	if err := h.repo.SaveFeedback(r.Context(), &domain.Feedback{
		SessionID: req.SessionID,
		MessageID: req.MessageID,
		UserID:    username,
		Rating:    req.Rating,
		Comment:   req.Comment,
	}); err != nil {
		slog.Error("Failed to save feedback", "error", err, "session_id", req.SessionID)
		Error(w, http.StatusInternalServerError, "failed to save feedback")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "感谢您的反馈"})
}

// requireOwner checks that the caller owns the session, writing the
// error response itself when not.
func (h *SessionHandler) requireOwner(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	username := auth.UsernameFromContext(r.Context())

	owner, err := h.repo.SessionOwner(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to check session owner", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return false
	}
	if owner == "" {
		Error(w, http.StatusNotFound, "session not found")
		return false
	}
	if owner != username {
		Error(w, http.StatusForbidden, "not your session")
		return false
	}
	return true
}
