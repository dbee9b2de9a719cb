package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Defaults used when WSDialer leaves a field zero.
	defaultPingInterval = 30 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultWriteWait    = 10 * time.Second
	defaultSendBuffer   = 64
	maxMessageSize      = 1 << 20
)

// WSDialer dials the channel over a websocket. The stream id and optional token travel in the query.
type WSDialer struct {
	URL          string
	Token        string
	Header       http.Header
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	SendBuffer   int
	Logger       *zap.Logger
}

// Dial connects and starts the read and write pumps.
func (d *WSDialer) Dial(ctx context.Context, sessionID string) (Transport, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse channel url: %w", err)
	}
	q := u.Query()
	q.Set("stream_id", sessionID)
	if d.Token != "" {
		q.Set("token", d.Token)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), d.Header)
	if err != nil {
		return nil, fmt.Errorf("dial channel: %w", err)
	}

	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &wsTransport{
		conn:         conn,
		send:         make(chan WSMessage, orDefault(d.SendBuffer, defaultSendBuffer)),
		events:       make(chan WSMessage, orDefault(d.SendBuffer, defaultSendBuffer)),
		done:         make(chan struct{}),
		pingInterval: orDefaultDuration(d.PingInterval, defaultPingInterval),
		pongWait:     orDefaultDuration(d.PongWait, defaultPongWait),
		writeWait:    orDefaultDuration(d.WriteWait, defaultWriteWait),
		logger:       logger.With(zap.String("stream_id", sessionID)),
	}
	go t.writePump()
	go t.readPump()
	return t, nil
}

type wsTransport struct {
	conn   *websocket.Conn
	send   chan WSMessage
	events chan WSMessage
	done   chan struct{} // closed when writePump exits

	mu     sync.RWMutex
	closed bool

	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
	logger       *zap.Logger
}

func (t *wsTransport) Send(ctx context.Context, msg WSMessage) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrTransportClosed
	}
	select {
	case t.send <- msg:
		return nil
	case <-t.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *wsTransport) Events() <-chan WSMessage {
	return t.events
}

// Close flushes queued sends, writes a close frame and tears the connection down.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.send)
	t.mu.Unlock()

	select {
	case <-t.done:
	case <-time.After(t.writeWait):
		_ = t.conn.Close()
	}
	return nil
}

func (t *wsTransport) readPump() {
	defer func() {
		close(t.events)
		_ = t.conn.Close()
	}()

	t.conn.SetReadLimit(maxMessageSize)
	_ = t.conn.SetReadDeadline(time.Now().Add(t.pongWait))
	t.conn.SetPongHandler(func(string) error {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.pongWait))
		return nil
	})

	for {
		var msg WSMessage
		if err := t.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn("channel read failed", zap.Error(err))
			}
			return
		}
		_ = t.conn.SetReadDeadline(time.Now().Add(t.pongWait))
		t.events <- msg
	}
}

func (t *wsTransport) writePump() {
	ticker := time.NewTicker(t.pingInterval)
	defer func() {
		ticker.Stop()
		_ = t.conn.Close()
		close(t.done)
	}()

	for {
		select {
		case msg, ok := <-t.send:
			_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if !ok {
				_ = t.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := t.conn.WriteJSON(msg); err != nil {
				t.logger.Warn("channel write failed", zap.String("event", msg.Event), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func orDefault(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func orDefaultDuration(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
