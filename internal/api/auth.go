package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/careline/careline/internal/auth"
	"github.com/careline/careline/internal/chatws"
)

// AuthHandler serves the demo login and token lifecycle endpoints.
type AuthHandler struct {
	*Handler
	tokens *auth.Manager
	cm     *chatws.ConnectionManager
}

// NewAuthHandler creates the auth handler.
func NewAuthHandler(base *Handler, tokens *auth.Manager, cm *chatws.ConnectionManager) *AuthHandler {
	return &AuthHandler{Handler: base, tokens: tokens, cm: cm}
}

// RegisterRoutes registers auth routes.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)
		r.Get("/verify", h.Verify)
	})
}

type loginRequest struct {
	Username string `json:"username"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Username     string `json:"username"`
}

// Login accepts any username of two or more characters. This is demo
// scaffolding, not real authentication.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := auth.ValidateUsername(req.Username); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.repo.EnsureUser(r.Context(), req.Username)
	if err != nil {
		slog.Error("Failed to ensure user", "error", err, "username", req.Username)
		Error(w, http.StatusInternalServerError, "login failed")
		return
	}

	resp, err := h.issueTokens(user.Username)
	if err != nil {
		slog.Error("Failed to issue tokens", "error", err, "username", user.Username)
		Error(w, http.StatusInternalServerError, "login failed")
		return
	}
	JSON(w, http.StatusOK, resp)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh rotates a refresh token: the old one is revoked and a fresh
// access/refresh pair is issued.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		Error(w, http.StatusBadRequest, "refresh_token required")
		return
	}

	username, err := h.tokens.VerifyToken(r.Context(), req.RefreshToken, auth.TokenTypeRefresh)
	if err != nil {
		Error(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	if err := h.tokens.Revoke(r.Context(), req.RefreshToken); err != nil {
		slog.Warn("Failed to revoke refresh token", "error", err, "username", username)
	}

	resp, err := h.issueTokens(username)
	if err != nil {
		slog.Error("Failed to issue tokens", "error", err, "username", username)
		Error(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	JSON(w, http.StatusOK, resp)
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Logout blacklists the presented access token (and, when supplied,
// the refresh token) and closes the user's live chat connections.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	access := auth.BearerToken(r)
	if access == "" {
		Error(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	username, err := h.tokens.VerifyToken(r.Context(), access, auth.TokenTypeAccess)
	if err != nil {
		if errors.Is(err, auth.ErrTokenRevoked) {
			JSON(w, http.StatusOK, map[string]string{"message": "已退出登录"})
			return
		}
		Error(w, http.StatusUnauthorized, "invalid token")
		return
	}

	if err := h.tokens.Revoke(r.Context(), access); err != nil {
		slog.Error("Failed to revoke access token", "error", err, "username", username)
		Error(w, http.StatusInternalServerError, "logout failed")
		return
	}

	var req logoutRequest
	if err := decodeJSON(r, &req); err == nil && req.RefreshToken != "" {
		if err := h.tokens.Revoke(r.Context(), req.RefreshToken); err != nil {
			slog.Warn("Failed to revoke refresh token", "error", err, "username", username)
		}
	}

	h.cm.CloseUser(username)
	JSON(w, http.StatusOK, map[string]string{"message": "已退出登录"})
}

// Verify reports whether the presented access token is still valid.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	access := auth.BearerToken(r)
	if access == "" {
		Error(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	username, err := h.tokens.VerifyToken(r.Context(), access, auth.TokenTypeAccess)
	if err != nil {
		Error(w, http.StatusUnauthorized, "invalid or revoked token")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"valid":    true,
		"username": username,
	})
}

func (h *AuthHandler) issueTokens(username string) (*tokenResponse, error) {
	access, err := h.tokens.CreateAccessToken(username)
	if err != nil {
		return nil, err
	}
	refresh, err := h.tokens.CreateRefreshToken(username)
	if err != nil {
		return nil, err
	}
	return &tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(h.tokens.AccessTTL().Seconds()),
		Username:     username,
	}, nil
}
