// Package client implements the chat client side: a WebSocket transport
// with capped linear reconnect, a stream reassembler, a message store,
// and a REST session cache.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/careline/careline/internal/protocol"
)

// Status describes the transport connection state. Only the transport
// itself transitions it.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
)

// Reconnect policy defaults: up to maxReconnectAttempts tries with a
// delay of reconnectBaseInterval * attempt before each.
const (
	reconnectBaseInterval = 3 * time.Second
	maxReconnectAttempts  = 5
)

// Conn is the minimal connection surface the transport needs. The
// default implementation wraps a coder/websocket connection; tests
// substitute fakes.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a connection to a WebSocket URL.
type Dialer func(ctx context.Context, wsURL string) (Conn, error)

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(code websocket.StatusCode, reason string) error {
	return c.conn.Close(code, reason)
}

func defaultDialer(ctx context.Context, wsURL string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// StatusListener receives status transitions.
type StatusListener func(Status)

// FrameListener receives every parsed server frame.
type FrameListener func(protocol.ServerFrame)

// TransportOptions configures a Transport. Zero values select the
// defaults above.
type TransportOptions struct {
	BaseInterval time.Duration
	MaxAttempts  int
	Dialer       Dialer
}

// Transport owns one live chat connection and its reconnect policy.
// Construct one per session and pass it by handle; it is safe for
// concurrent use.
type Transport struct {
	wsURL        string
	baseInterval time.Duration
	maxAttempts  int
	dial         Dialer

	mu              sync.Mutex
	conn            Conn
	status          Status
	closing         bool
	attempts        int
	reconnectTimer  *time.Timer
	readCancel      context.CancelFunc
	statusListeners []StatusListener
	frameListeners  []FrameListener
}

// NewTransport creates a disconnected transport for the given
// WebSocket URL.
func NewTransport(wsURL string, opts TransportOptions) *Transport {
	if opts.BaseInterval <= 0 {
		opts.BaseInterval = reconnectBaseInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = maxReconnectAttempts
	}
	if opts.Dialer == nil {
		opts.Dialer = defaultDialer
	}
	return &Transport{
		wsURL:        wsURL,
		baseInterval: opts.BaseInterval,
		maxAttempts:  opts.MaxAttempts,
		dial:         opts.Dialer,
		status:       StatusDisconnected,
	}
}

// WSURL builds the chat endpoint URL with the access token as a query
// parameter.
func WSURL(base, sessionID, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u = u.JoinPath("api", "v1", "chat", "ws", sessionID)
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// OnStatus registers a status listener.
func (t *Transport) OnStatus(fn StatusListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusListeners = append(t.statusListeners, fn)
}

// OnFrame registers a frame listener.
func (t *Transport) OnFrame(fn FrameListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frameListeners = append(t.frameListeners, fn)
}

// RemoveListeners drops all listeners. Any in-flight stream is
// abandoned without notification.
func (t *Transport) RemoveListeners() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusListeners = nil
	t.frameListeners = nil
}

// Status returns the current connection status.
func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Connect establishes the connection. It returns once the channel is
// open, or with the dial error if the first attempt fails outright.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return errors.New("already connected")
	}
	t.closing = false
	t.attempts = 0
	t.mu.Unlock()

	return t.connect(ctx)
}

func (t *Transport) connect(ctx context.Context) error {
	t.setStatus(StatusConnecting)

	conn, err := t.dial(ctx, t.wsURL)
	if err != nil {
		t.setStatus(StatusError)
		return err
	}

	readCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	if t.closing {
		// Disconnect landed while the dial was in flight. The
		// deliberate close wins.
		t.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return errors.New("disconnected during connect")
	}
	t.conn = conn
	t.readCancel = cancel
	t.attempts = 0
	t.mu.Unlock()

	t.setStatus(StatusConnected)
	go t.readLoop(readCtx, conn)
	return nil
}

// SendText transmits a user message envelope. The boolean is a
// synchronous capability check, not a delivery guarantee: false means
// there was no open connection or the write failed immediately.
func (t *Transport) SendText(body string) bool {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return false
	}

	data, err := json.Marshal(protocol.ClientMessage{
		Type:             protocol.TypeMessage,
		Content:          body,
		Timestamp:        protocol.Now(),
		EnableMultiAgent: true,
	})
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Write(ctx, data); err != nil {
		slog.Debug("send failed", "error", err)
		return false
	}
	return true
}

// Disconnect closes deliberately and suppresses auto-reconnect.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.closing = true
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	conn := t.conn
	t.conn = nil
	cancel := t.readCancel
	t.readCancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	t.setStatus(StatusDisconnected)
}

// Reconnect forces teardown and a fresh connect, resetting the attempt
// budget.
func (t *Transport) Reconnect(ctx context.Context) error {
	t.Disconnect()
	t.mu.Lock()
	t.closing = false
	t.attempts = 0
	t.mu.Unlock()
	return t.connect(ctx)
}

func (t *Transport) readLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			t.handleClose(conn)
			return
		}

		var frame protocol.ServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Debug("dropping malformed frame", "error", err)
			continue
		}

		for _, fn := range t.snapshotFrameListeners() {
			fn(frame)
		}
	}
}

// handleClose reacts to the read loop ending. A deliberate disconnect
// already reset state; anything else schedules a reconnect attempt.
func (t *Transport) handleClose(conn Conn) {
	t.mu.Lock()
	if t.closing || t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.readCancel = nil
	t.mu.Unlock()

	t.setStatus(StatusDisconnected)
	t.scheduleReconnect()
}

func (t *Transport) scheduleReconnect() {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return
	}
	if t.attempts >= t.maxAttempts {
		t.mu.Unlock()
		slog.Warn("reconnect attempts exhausted", "attempts", t.attempts)
		t.setStatus(StatusError)
		return
	}
	t.attempts++
	attempt := t.attempts
	delay := time.Duration(attempt) * t.baseInterval

	t.reconnectTimer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		if t.closing {
			t.mu.Unlock()
			return
		}
		t.reconnectTimer = nil
		t.mu.Unlock()

		t.setStatus(StatusReconnecting)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := t.connect(ctx); err != nil {
			slog.Debug("reconnect attempt failed", "attempt", attempt, "error", err)
			t.scheduleReconnect()
		}
	})
	t.mu.Unlock()
	slog.Debug("reconnect scheduled", "attempt", attempt, "delay", delay)
}

func (t *Transport) setStatus(status Status) {
	t.mu.Lock()
	if t.status == status {
		t.mu.Unlock()
		return
	}
	t.status = status
	listeners := make([]StatusListener, len(t.statusListeners))
	copy(listeners, t.statusListeners)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(status)
	}
}

func (t *Transport) snapshotFrameListeners() []FrameListener {
	t.mu.Lock()
	defer t.mu.Unlock()
	listeners := make([]FrameListener, len(t.frameListeners))
	copy(listeners, t.frameListeners)
	return listeners
}
