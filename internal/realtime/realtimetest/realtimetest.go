// Package realtimetest provides an in-memory channel transport for tests of packages built on
// the realtime client.
package realtimetest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/aura-live/commerce/internal/realtime"
)

// Transport records sent control messages and lets tests push events.
type Transport struct {
	SessionID string

	mu     sync.Mutex
	sent   []realtime.WSMessage
	events chan realtime.WSMessage
	closed bool
}

func newTransport(sessionID string) *Transport {
	return &Transport{SessionID: sessionID, events: make(chan realtime.WSMessage, 256)}
}

// Send records msg.
func (t *Transport) Send(_ context.Context, msg realtime.WSMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return realtime.ErrTransportClosed
	}
	t.sent = append(t.sent, msg)
	return nil
}

// Events implements realtime.Transport.
func (t *Transport) Events() <-chan realtime.WSMessage { return t.events }

// Close ends the event stream.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.events)
	}
	return nil
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Push delivers an event as if the server sent it. It panics if payload cannot be marshaled.
func (t *Transport) Push(event realtime.EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.events <- realtime.WSMessage{Event: string(event), Data: data}
}

// Sent returns the event names of every control message sent so far.
func (t *Transport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.sent))
	for _, m := range t.sent {
		out = append(out, m.Event)
	}
	return out
}

// Count returns how many control messages named event were sent.
func (t *Transport) Count(event string) int {
	n := 0
	for _, e := range t.Sent() {
		if e == event {
			n++
		}
	}
	return n
}

// Dialer hands out Transports and remembers them.
type Dialer struct {
	mu    sync.Mutex
	dials []*Transport
	Err   error
}

// Dial implements realtime.Dialer.
func (d *Dialer) Dial(_ context.Context, sessionID string) (realtime.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	t := newTransport(sessionID)
	d.dials = append(d.dials, t)
	return t, nil
}

// Dials returns how many transports were opened.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

// Last returns the most recently opened transport for sessionID, or nil.
func (d *Dialer) Last(sessionID string) *Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.dials) - 1; i >= 0; i-- {
		if d.dials[i].SessionID == sessionID {
			return d.dials[i]
		}
	}
	return nil
}
