package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-live/commerce/internal/metrics"
)

// ConnectionLost is the error event message emitted when a transport ends without Disconnect.
const ConnectionLost = "connection lost"

// OwnerID names the UI context currently holding a handle (full-screen player, mini-player, ...).
type OwnerID string

// Handle is the single-owner live connection of one stream session. It is either attached to
// exactly one owner or unattached while a handoff is in flight. Handlers survive handoffs;
// events that arrive while unattached are buffered and replayed on attach.
type Handle struct {
	id        string
	sessionID string
	identity  Identity
	transport Transport
	client    *Client
	logger    *zap.Logger

	mu           sync.Mutex
	owner        OwnerID
	closed       bool
	handlers     map[EventType]Handler
	pending      []Event
	pendingLimit int

	attached chan struct{}
	done     chan struct{}
}

func newHandle(c *Client, id, sessionID string, identity Identity, t Transport, owner OwnerID) *Handle {
	return &Handle{
		id:           id,
		sessionID:    sessionID,
		identity:     identity,
		transport:    t,
		client:       c,
		logger:       c.logger.With(zap.String("stream_id", sessionID), zap.String("handle_id", id)),
		owner:        owner,
		handlers:     make(map[EventType]Handler),
		pendingLimit: c.pendingLimit,
		attached:     make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// ID returns the handle's unique id.
func (h *Handle) ID() string { return h.id }

// SessionID returns the stream this handle is joined to.
func (h *Handle) SessionID() string { return h.sessionID }

// Identity returns the viewer identity sent with the join.
func (h *Handle) Identity() Identity { return h.identity }

// Owner returns the current owner, or "" while unattached.
func (h *Handle) Owner() OwnerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.owner
}

// Closed reports whether the handle was disconnected or lost its transport.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Done is closed once the dispatch loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// On registers fn for an event type, replacing any previous handler for that type.
func (h *Handle) On(t EventType, fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fn == nil {
		delete(h.handlers, t)
		return
	}
	h.handlers[t] = fn
}

// Off removes the handler for an event type.
func (h *Handle) Off(t EventType) {
	h.On(t, nil)
}

// Handler returns the handler currently registered for t, if any.
func (h *Handle) Handler(t EventType) Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handlers[t]
}

// SendChat posts a chat message on behalf of owner. Empty text is ignored.
func (h *Handle) SendChat(ctx context.Context, owner OwnerID, username, text string) error {
	if text == "" {
		return nil
	}
	if err := h.checkOwner(owner); err != nil {
		return err
	}
	msg, err := newMessage(controlSendMessage, chatPayload{StreamID: h.sessionID, Username: username, Message: text})
	if err != nil {
		return err
	}
	if err := h.transport.Send(ctx, msg); err != nil {
		return err
	}
	metrics.ControlSent.WithLabelValues(controlSendMessage).Inc()
	return nil
}

func (h *Handle) checkOwner(owner OwnerID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHandleClosed
	}
	if h.owner == "" || h.owner != owner {
		return ErrHandleNotOwned
	}
	return nil
}

// run dispatches transport events until the transport ends.
func (h *Handle) run() {
	defer close(h.done)
	events := h.transport.Events()
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				h.lost()
				return
			}
			metrics.EventsReceived.WithLabelValues(msg.Event).Inc()
			h.dispatch(Event{Type: EventType(msg.Event), Data: msg.Data, ReceivedAt: time.Now()})
		case <-h.attached:
			h.deliver(h.takePending())
		}
	}
}

// dispatch delivers ev, or buffers it while unattached. Buffered events are always delivered
// first so arrival order is kept across a handoff.
func (h *Handle) dispatch(ev Event) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if h.owner == "" {
		if len(h.pending) >= h.pendingLimit {
			h.pending = h.pending[1:]
			h.logger.Debug("handoff buffer full, dropping oldest event")
		}
		h.pending = append(h.pending, ev)
		h.mu.Unlock()
		return
	}
	batch := append(h.pending, ev)
	h.pending = nil
	h.mu.Unlock()
	h.deliver(batch)
}

func (h *Handle) takePending() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.owner == "" || h.closed {
		return nil
	}
	batch := h.pending
	h.pending = nil
	return batch
}

func (h *Handle) deliver(batch []Event) {
	for _, ev := range batch {
		if fn := h.Handler(ev.Type); fn != nil {
			fn(ev)
		}
	}
}

// lost handles a transport that ended without Disconnect: the owner gets an error event
// and the handle is dropped from the registry so the next Connect dials again.
func (h *Handle) lost() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	fn := h.handlers[EventError]
	attached := h.owner != ""
	h.mu.Unlock()

	h.logger.Warn("channel connection lost")
	h.client.forget(h)
	if fn != nil && attached {
		data, _ := json.Marshal(ErrorPayload{Message: ConnectionLost})
		fn(Event{Type: EventError, Data: data, ReceivedAt: time.Now()})
	}
}
