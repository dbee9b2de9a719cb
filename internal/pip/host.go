// Package pip is the floating mini-player surface. It takes over a session's live channel
// from the full-screen view model and hands it back on restore.
package pip

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/aura-live/commerce/internal/models"
	"github.com/aura-live/commerce/internal/realtime"
	"github.com/aura-live/commerce/internal/session"
)

var _ session.PiPHost = (*Host)(nil)

// Owner is the owner id the mini-player attaches handles under.
const Owner realtime.OwnerID = "mini-player"

var (
	ErrActive   = session.ErrPiPActive
	ErrInactive = session.ErrPiPInactive
)

// Host owns at most one handle at a time. It exits on its own when the stream ends.
type Host struct {
	client *realtime.Client
	logger *zap.Logger

	mu       sync.Mutex
	session  models.Identity
	handle   *realtime.Handle
	previous realtime.Handler // streamStatusUpdate handler in place before Enter
	onExit   func(streamID string)
}

// NewHost creates a PiP host that attaches handles through client.
func NewHost(client *realtime.Client, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{client: client, logger: logger.Named("pip")}
}

// OnExit registers fn to run when the mini-player closes itself (stream ended) or Exit is called.
func (h *Host) OnExit(fn func(streamID string)) {
	h.mu.Lock()
	h.onExit = fn
	h.mu.Unlock()
}

// Enter implements session.PiPHost: it attaches the handed-off handle exactly once.
func (h *Host) Enter(handoff session.Handoff) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handle != nil {
		return ErrActive
	}
	h.session = handoff.Session
	h.handle = handoff.Handle

	// Chain onto the existing status handler so the view model still sees the update. The
	// wrapper goes in before Attach so buffered events replayed on attach reach it.
	handle := handoff.Handle
	h.previous = handle.Handler(realtime.EventStreamStatusUpdate)
	prev := h.previous
	handle.On(realtime.EventStreamStatusUpdate, func(ev realtime.Event) {
		if prev != nil {
			prev(ev)
		}
		var p realtime.StreamStatusPayload
		if err := ev.Decode(&p); err == nil && p.Status == models.StreamStatusEnded {
			h.logger.Info("stream ended, closing mini-player", zap.String("stream_id", handle.SessionID()))
			go h.exitHandle(context.Background(), handle)
		}
	})

	if err := h.client.Attach(handle, Owner); err != nil {
		handle.On(realtime.EventStreamStatusUpdate, prev)
		h.reset()
		return err
	}

	h.logger.Info("entered picture-in-picture", zap.String("stream_id", handoff.Session.ID))
	return nil
}

// Restore implements session.PiPHost: it detaches the handle and returns its stream id so
// the caller can navigate back to the full view.
func (h *Host) Restore() (string, *realtime.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handle == nil {
		return "", nil, ErrInactive
	}
	handle := h.handle
	handle.On(realtime.EventStreamStatusUpdate, h.previous)
	moved, err := h.client.Detach(handle, Owner)
	if err != nil {
		return "", nil, err
	}
	streamID := h.session.ID
	h.reset()
	h.logger.Info("restored from picture-in-picture", zap.String("stream_id", streamID))
	return streamID, moved, nil
}

// Exit closes the mini-player and leaves the stream.
func (h *Host) Exit(ctx context.Context) error {
	h.mu.Lock()
	handle := h.handle
	h.mu.Unlock()
	if handle == nil {
		return ErrInactive
	}
	return h.exitHandle(ctx, handle)
}

func (h *Host) exitHandle(ctx context.Context, handle *realtime.Handle) error {
	h.mu.Lock()
	if h.handle != handle {
		h.mu.Unlock()
		return nil
	}
	streamID := h.session.ID
	h.reset()
	fn := h.onExit
	h.mu.Unlock()

	err := h.client.Disconnect(ctx, handle, Owner)
	if fn != nil {
		fn(streamID)
	}
	return err
}

// Session returns the identity of the stream being shown and whether PiP is active.
func (h *Host) Session() (models.Identity, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session, h.handle != nil
}

func (h *Host) reset() {
	h.session = models.Identity{}
	h.handle = nil
	h.previous = nil
}
