// Package realtime owns the live channel connection of each stream session and the
// ownership handoff between UI surfaces.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-live/commerce/internal/metrics"
)

var (
	ErrHandleClosed    = errors.New("channel handle closed")
	ErrHandleNotOwned  = errors.New("channel handle not owned by caller")
	ErrAlreadyAttached = errors.New("channel handle already attached")
	ErrHandleOwned     = errors.New("channel handle owned by another context")
	ErrInvalidOwner    = errors.New("owner id required")
)

const defaultPendingLimit = 256

// Client keeps at most one live handle per stream session. Connecting to a session that
// already has a handle reuses it, so the server never sees a second join from this app.
type Client struct {
	dialer       Dialer
	logger       *zap.Logger
	pendingLimit int

	connectMu sync.Mutex // serializes dial + join
	mu        sync.RWMutex
	handles   map[string]*Handle
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPendingLimit bounds the number of events buffered while a handle is detached.
func WithPendingLimit(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.pendingLimit = n
		}
	}
}

// NewClient creates a channel client that opens connections through dialer.
func NewClient(dialer Dialer, logger *zap.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		dialer:       dialer,
		logger:       logger,
		pendingLimit: defaultPendingLimit,
		handles:      make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect returns the live handle for sessionID, dialing and emitting a join only when none
// exists. An existing unattached handle is attached to owner; one held by a different owner
// yields ErrHandleOwned (use Detach/Attach to move it).
func (c *Client) Connect(ctx context.Context, sessionID string, identity Identity, owner OwnerID) (*Handle, error) {
	if owner == "" {
		return nil, ErrInvalidOwner
	}
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if h := c.lookup(sessionID); h != nil {
		h.mu.Lock()
		switch {
		case h.closed:
			h.mu.Unlock()
		case h.owner == owner:
			h.mu.Unlock()
			c.logger.Debug("reusing channel handle", zap.String("stream_id", sessionID))
			return h, nil
		case h.owner == "":
			h.owner = owner
			h.mu.Unlock()
			h.signalAttached()
			metrics.Handoffs.WithLabelValues("attach").Inc()
			return h, nil
		default:
			h.mu.Unlock()
			return nil, fmt.Errorf("connect %s: %w", sessionID, ErrHandleOwned)
		}
	}

	if identity.SessionID == "" {
		identity = NewIdentity(identity.UserID)
	}
	t, err := c.dialer.Dial(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", sessionID, err)
	}
	join, err := newMessage(controlJoin, joinPayload{StreamID: sessionID, SessionID: identity.SessionID, UserID: identity.UserID})
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	if err := t.Send(ctx, join); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("join %s: %w", sessionID, err)
	}
	metrics.ControlSent.WithLabelValues(controlJoin).Inc()

	h := newHandle(c, uuid.NewString(), sessionID, identity, t, owner)
	c.mu.Lock()
	c.handles[sessionID] = h
	c.mu.Unlock()
	metrics.OpenHandles.Inc()
	go h.run()

	c.logger.Info("joined stream", zap.String("stream_id", sessionID), zap.String("viewer_session", identity.SessionID))
	return h, nil
}

// Disconnect emits a leave and closes the transport. It is a no-op when owner no longer holds
// the handle (it was handed off) or the handle is already closed.
func (c *Client) Disconnect(ctx context.Context, h *Handle, owner OwnerID) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	if h.closed || h.owner != owner {
		h.mu.Unlock()
		h.logger.Debug("ignoring disconnect from non-owner", zap.String("owner", string(owner)))
		return nil
	}
	h.closed = true
	h.owner = ""
	h.pending = nil
	h.mu.Unlock()

	c.forget(h)

	var sendErr error
	if leave, err := newMessage(controlLeave, leavePayload{StreamID: h.sessionID}); err == nil {
		sendErr = h.transport.Send(ctx, leave)
		if sendErr == nil {
			metrics.ControlSent.WithLabelValues(controlLeave).Inc()
		}
	}
	if err := h.transport.Close(); err != nil {
		h.logger.Warn("close transport", zap.Error(err))
	}
	h.logger.Info("left stream")
	if sendErr != nil && !errors.Is(sendErr, ErrTransportClosed) {
		return fmt.Errorf("leave %s: %w", h.sessionID, sendErr)
	}
	return nil
}

// Detach releases owner's hold on h without touching the connection. The caller must stop
// using h; whoever receives it calls Attach.
func (c *Client) Detach(h *Handle, owner OwnerID) (*Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHandleClosed
	}
	if h.owner == "" || h.owner != owner {
		return nil, ErrHandleNotOwned
	}
	h.owner = ""
	metrics.Handoffs.WithLabelValues("detach").Inc()
	h.logger.Debug("handle detached", zap.String("from", string(owner)))
	return h, nil
}

// Attach makes owner the holder of an unattached handle and replays buffered events.
func (c *Client) Attach(h *Handle, owner OwnerID) error {
	if owner == "" {
		return ErrInvalidOwner
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHandleClosed
	}
	if h.owner != "" {
		h.mu.Unlock()
		return ErrAlreadyAttached
	}
	h.owner = owner
	h.mu.Unlock()

	h.signalAttached()
	metrics.Handoffs.WithLabelValues("attach").Inc()
	h.logger.Debug("handle attached", zap.String("to", string(owner)))
	return nil
}

// Handle returns the live handle for sessionID, if any.
func (c *Client) Handle(sessionID string) *Handle {
	return c.lookup(sessionID)
}

// Close disconnects every handle regardless of owner. Used on shutdown.
func (c *Client) Close(ctx context.Context) {
	c.mu.RLock()
	all := make([]*Handle, 0, len(c.handles))
	for _, h := range c.handles {
		all = append(all, h)
	}
	c.mu.RUnlock()
	for _, h := range all {
		_ = c.Disconnect(ctx, h, h.Owner())
	}
}

func (c *Client) lookup(sessionID string) *Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handles[sessionID]
}

func (c *Client) forget(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handles[h.sessionID] == h {
		delete(c.handles, h.sessionID)
		metrics.OpenHandles.Dec()
	}
}

func (h *Handle) signalAttached() {
	select {
	case h.attached <- struct{}{}:
	default:
	}
}
