package client

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/careline/careline/internal/domain"
	"github.com/careline/careline/internal/protocol"
)

// bufferGraceWindow is how long a completed stream buffer is retained
// so late duplicate frames are absorbed instead of re-notifying.
const bufferGraceWindow = 5 * time.Second

// StreamUpdate is what the reassembler reports to its listener on every
// fragment: the full accumulated text so far, and Complete on the final
// notification.
type StreamUpdate struct {
	StreamID      string
	Content       string
	Complete      bool
	HasReferences bool
	References    []domain.Citation
}

type streamBuffer struct {
	content       strings.Builder
	chunks        int
	hasReferences bool
	references    []domain.Citation
	finalized     bool
	updatedAt     time.Time
	expiry        *time.Timer
}

// Reassembler collects chunked response frames into complete replies,
// keyed by stream identifier. One connection feeds it, so buffers never
// race across streams; the mutex guards the expiry timers.
type Reassembler struct {
	mu       sync.Mutex
	grace    time.Duration
	buffers  map[string]*streamBuffer
	onUpdate func(StreamUpdate)
}

// NewReassembler creates a reassembler delivering updates to onUpdate.
// grace <= 0 selects the default 5s window.
func NewReassembler(grace time.Duration, onUpdate func(StreamUpdate)) *Reassembler {
	if grace <= 0 {
		grace = bufferGraceWindow
	}
	return &Reassembler{
		grace:    grace,
		buffers:  make(map[string]*streamBuffer),
		onUpdate: onUpdate,
	}
}

// Handle dispatches one server frame. Non-stream frames are ignored.
func (r *Reassembler) Handle(frame protocol.ServerFrame) {
	switch frame.Type {
	case protocol.TypeStreamStart:
		r.handleStart(frame)
	case protocol.TypeStreamMessage:
		r.handleChunk(frame)
	case protocol.TypeStreamEnd:
		r.handleEnd(frame)
	}
}

func (r *Reassembler) handleStart(frame protocol.ServerFrame) {
	r.mu.Lock()
	r.buffers[frame.StreamID] = &streamBuffer{updatedAt: time.Now()}
	notify := r.onUpdate
	r.mu.Unlock()

	if notify != nil {
		notify(StreamUpdate{StreamID: frame.StreamID})
	}
}

func (r *Reassembler) handleChunk(frame protocol.ServerFrame) {
	r.mu.Lock()
	buf, ok := r.buffers[frame.StreamID]
	if !ok {
		// A lost start frame is tolerated: the first chunk creates
		// the buffer implicitly.
		buf = &streamBuffer{}
		r.buffers[frame.StreamID] = buf
	}
	if buf.finalized {
		r.mu.Unlock()
		slog.Debug("ignoring chunk for finalized stream", "stream_id", frame.StreamID)
		return
	}

	buf.content.WriteString(frame.Content)
	buf.chunks++
	buf.updatedAt = time.Now()
	mergeReferences(buf, frame)

	update := StreamUpdate{
		StreamID:      frame.StreamID,
		Content:       buf.content.String(),
		HasReferences: buf.hasReferences,
		References:    buf.references,
	}
	notify := r.onUpdate
	r.mu.Unlock()

	if notify != nil {
		notify(update)
	}
}

func (r *Reassembler) handleEnd(frame protocol.ServerFrame) {
	r.mu.Lock()
	buf, ok := r.buffers[frame.StreamID]
	if ok && buf.finalized {
		r.mu.Unlock()
		slog.Debug("dropping duplicate end frame", "stream_id", frame.StreamID)
		return
	}
	if !ok {
		buf = &streamBuffer{}
		r.buffers[frame.StreamID] = buf
	}

	// The end frame's content is authoritative when present; otherwise
	// the accumulated buffer stands.
	final := frame.Content
	if final == "" {
		final = buf.content.String()
	}
	mergeReferences(buf, frame)

	buf.finalized = true
	buf.updatedAt = time.Now()
	buf.expiry = time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		delete(r.buffers, frame.StreamID)
		r.mu.Unlock()
	})

	update := StreamUpdate{
		StreamID:      frame.StreamID,
		Content:       final,
		Complete:      true,
		HasReferences: buf.hasReferences,
		References:    buf.references,
	}
	notify := r.onUpdate
	r.mu.Unlock()

	if notify != nil {
		notify(update)
	}
}

// Pending reports whether a buffer exists for the stream identifier.
func (r *Reassembler) Pending(streamID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.buffers[streamID]
	return ok
}

// Reset drops all buffers and cancels their expiry timers without
// notifying the listener.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, buf := range r.buffers {
		if buf.expiry != nil {
			buf.expiry.Stop()
		}
		delete(r.buffers, id)
	}
}

func mergeReferences(buf *streamBuffer, frame protocol.ServerFrame) {
	if frame.HasReferences {
		buf.hasReferences = true
	}
	if len(frame.References) > 0 {
		buf.references = frame.References
		buf.hasReferences = true
	}
}
