package chatws

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/careline/careline/internal/auth"
	"github.com/careline/careline/internal/domain"
	"github.com/careline/careline/internal/metrics"
	"github.com/careline/careline/internal/protocol"
	"github.com/careline/careline/internal/responder"
	"github.com/careline/careline/internal/shared"
	"github.com/careline/careline/internal/store"
)

// historyLimit bounds how much session history is loaded per reply.
const historyLimit = 20

// saveAttempts is how many times a message write is retried when the
// database reports a transient busy/locked error.
const saveAttempts = 3

// Handler upgrades chat connections and drives the message loop.
type Handler struct {
	repo          store.Repository
	auth          *auth.Manager
	cm            *ConnectionManager
	resp          responder.Responder
	metrics       *metrics.Metrics
	allowedOrigin string
	isDev         bool
	chunkRunes    int
}

// NewHandler creates the chat WebSocket handler. A nil metrics handle
// disables instrumentation.
func NewHandler(repo store.Repository, authMgr *auth.Manager, cm *ConnectionManager, resp responder.Responder, m *metrics.Metrics, allowedOrigin string, isDev bool, chunkRunes int) *Handler {
	return &Handler{
		repo:          repo,
		auth:          authMgr,
		cm:            cm,
		resp:          resp,
		metrics:       m,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		chunkRunes:    chunkRunes,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade. The
// access token arrives as a "token" query parameter because browser
// WebSocket clients cannot set an Authorization header.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	username, err := h.auth.VerifyToken(r.Context(), r.URL.Query().Get("token"), auth.TokenTypeAccess)
	if err != nil {
		slog.Warn("WebSocket auth rejected", "error", err, "ip", r.RemoteAddr)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	slog.Info("WebSocket connection request", "user_id", username, "session_id", sessionID, "ip", r.RemoteAddr)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", username)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", username)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if _, err := h.repo.EnsureUser(ctx, username); err != nil {
		slog.Error("Failed to ensure user", "error", err, "user_id", username)
		return
	}
	if err := h.repo.CreateSessionIfNotExists(ctx, sessionID, username); err != nil {
		slog.Error("Failed to create session", "error", err, "session_id", sessionID)
		return
	}

	h.cm.Register(username, sessionID, ws)
	defer h.cm.Unregister(username, sessionID, ws)
	h.metrics.ConnectionOpened()
	defer h.metrics.ConnectionClosed()

	if err := h.writeFrame(ctx, ws, protocol.ServerFrame{
		Type:      protocol.TypeConnected,
		SessionID: sessionID,
		Message:   "连接成功",
		Timestamp: protocol.Now(),
	}); err != nil {
		slog.Debug("Failed to send connected frame", "error", err)
		return
	}

	h.messageLoop(ctx, ws, username, sessionID)
	h.touchSession(sessionID)
	slog.Info("Chat session ended", "user_id", username, "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) messageLoop(ctx context.Context, ws *websocket.Conn, username, sessionID string) {
	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", username)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", username)
			}
			return
		}

		var msg protocol.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("Malformed chat frame", "error", err, "user_id", username)
			h.sendError(ctx, ws, "消息格式错误")
			continue
		}
		h.metrics.Message(msg.Type, "inbound")

		switch msg.Type {
		case protocol.TypePing:
			if err := h.writeFrame(ctx, ws, protocol.ServerFrame{
				Type:      protocol.TypePong,
				Timestamp: protocol.Now(),
			}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		case protocol.TypeMessage:
			h.handleChat(ctx, ws, username, sessionID, msg)
		default:
			slog.Debug("Ignoring unknown frame type", "type", msg.Type, "user_id", username)
		}
	}
}

func (h *Handler) handleChat(ctx context.Context, ws *websocket.Conn, username, sessionID string, msg protocol.ClientMessage) {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		h.sendError(ctx, ws, "消息内容不能为空")
		return
	}

	if err := h.saveMessage(ctx, &domain.ChatMessage{
		SessionID: sessionID,
		UserID:    username,
		Role:      domain.RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}); err != nil {
		slog.Error("Failed to save user message", "error", err, "session_id", sessionID)
		h.sendError(ctx, ws, "消息保存失败，请重试")
		return
	}

	// Echo confirms receipt; the client already rendered the message
	// locally and drops the echo.
	if err := h.writeFrame(ctx, ws, protocol.ServerFrame{
		Type:      protocol.TypeMessage,
		Content:   content,
		Sender:    "user",
		SessionID: sessionID,
		Timestamp: protocol.Now(),
	}); err != nil {
		slog.Debug("Failed to echo message", "error", err)
	}

	history, err := h.repo.ListMessages(ctx, sessionID, historyLimit)
	if err != nil {
		slog.Warn("Failed to load history", "error", err, "session_id", sessionID)
	}

	full, ok := h.respond(ctx, ws, responder.Request{
		SessionID: sessionID,
		UserID:    username,
		Message:   content,
		History:   history,
	})
	if ok && full != "" {
		if err := h.saveMessage(ctx, &domain.ChatMessage{
			SessionID: sessionID,
			UserID:    username,
			Role:      domain.RoleAssistant,
			Content:   full,
			Timestamp: time.Now(),
		}); err != nil {
			slog.Error("Failed to save assistant message", "error", err, "session_id", sessionID)
		}
	}

	h.touchSession(sessionID)
}

// respond pulls fragments from the responder. A reply the responder
// yields in one piece goes out as a single response frame; anything
// longer is streamed as start/chunk/end frames. It returns the full
// reply text and whether generation succeeded.
func (h *Handler) respond(ctx context.Context, ws *websocket.Conn, req responder.Request) (string, bool) {
	next, stop := iter.Pull2(h.resp.Stream(ctx, req))
	defer stop()

	first, err, ok := next()
	if err != nil {
		slog.Error("Responder failed", "error", err, "session_id", req.SessionID)
		h.sendError(ctx, ws, "回复生成失败，请稍后重试")
		return "", false
	}
	if !ok {
		h.sendError(ctx, ws, "服务暂时不可用")
		return "", false
	}

	second, err2, more := next()
	if !more && err2 == nil {
		_, citations := protocol.ExtractReferences(first)
		if writeErr := h.writeFrame(ctx, ws, protocol.ServerFrame{
			Type:          protocol.TypeResponse,
			Content:       first,
			Sender:        "assistant",
			SessionID:     req.SessionID,
			HasReferences: len(citations) > 0,
			Timestamp:     protocol.Now(),
		}); writeErr != nil {
			slog.Debug("Failed to send response frame", "error", writeErr)
		}
		return first, true
	}

	streamID := uuid.NewString()
	if writeErr := h.writeFrame(ctx, ws, protocol.ServerFrame{
		Type:      protocol.TypeStreamStart,
		StreamID:  streamID,
		SessionID: req.SessionID,
		Timestamp: protocol.Now(),
	}); writeErr != nil {
		slog.Debug("Failed to send stream_start", "error", writeErr)
	}

	var sb strings.Builder
	chunkIndex := 0
	send := func(fragment string) {
		for _, piece := range splitRunes(fragment, h.chunkRunes) {
			sb.WriteString(piece)
			if writeErr := h.writeFrame(ctx, ws, protocol.ServerFrame{
				Type:       protocol.TypeStreamMessage,
				StreamID:   streamID,
				Content:    piece,
				ChunkIndex: chunkIndex,
				Timestamp:  protocol.Now(),
			}); writeErr != nil {
				slog.Debug("Failed to send stream chunk", "error", writeErr)
			}
			chunkIndex++
		}
	}

	send(first)
	fragment, fragErr := second, err2
	for more && fragErr == nil {
		send(fragment)
		fragment, fragErr, more = next()
	}

	full := sb.String()
	if fragErr != nil {
		slog.Error("Responder failed mid-stream", "error", fragErr, "session_id", req.SessionID)
		h.sendError(ctx, ws, "回复生成中断")
	}

	_, citations := protocol.ExtractReferences(full)
	if writeErr := h.writeFrame(ctx, ws, protocol.ServerFrame{
		Type:          protocol.TypeStreamEnd,
		StreamID:      streamID,
		Content:       full,
		SessionID:     req.SessionID,
		TotalChunks:   chunkIndex,
		IsFinal:       true,
		HasReferences: len(citations) > 0,
		References:    citations,
		Timestamp:     protocol.Now(),
	}); writeErr != nil {
		slog.Debug("Failed to send stream_end", "error", writeErr)
	}

	return full, fragErr == nil
}

// saveMessage retries transient SQLite busy/locked failures before
// giving up.
func (h *Handler) saveMessage(ctx context.Context, msg *domain.ChatMessage) error {
	var err error
	for attempt := 1; attempt <= saveAttempts; attempt++ {
		if _, err = h.repo.SaveMessage(ctx, msg); err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		}
	}
	return err
}

// touchSession stamps session activity asynchronously so a slow write
// does not stall the message loop.
func (h *Handler) touchSession(sessionID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.UpdateSessionActivity(ctx, sessionID); err != nil {
			slog.Warn("Failed to update session activity", "error", err, "session_id", sessionID)
		}
	}()
}

func (h *Handler) sendError(ctx context.Context, ws *websocket.Conn, message string) {
	if err := h.writeFrame(ctx, ws, protocol.ServerFrame{
		Type:      protocol.TypeError,
		Message:   message,
		Timestamp: protocol.Now(),
	}); err != nil {
		slog.Debug("Failed to send error frame", "error", err)
	}
}

func (h *Handler) writeFrame(ctx context.Context, ws *websocket.Conn, frame protocol.ServerFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		return err
	}
	h.metrics.Message(frame.Type, "outbound")
	return nil
}

// splitRunes cuts s into pieces of at most size runes. size <= 0 means
// no splitting.
func splitRunes(s string, size int) []string {
	if size <= 0 || len([]rune(s)) <= size {
		return []string{s}
	}
	runes := []rune(s)
	pieces := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}
