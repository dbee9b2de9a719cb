package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// channelServer is a minimal stand-in for the live channel: it records control messages
// and lets the test push events to every connected socket.
type channelServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu       sync.Mutex
	received []WSMessage
	conns    []*websocket.Conn
	query    string
}

func (s *channelServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.query = r.URL.RawQuery
	s.mu.Unlock()
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, msg)
		s.mu.Unlock()
	}
}

func (s *channelServer) broadcast(msg WSMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.WriteJSON(msg)
	}
}

func (s *channelServer) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.received))
	for _, m := range s.received {
		out = append(out, m.Event)
	}
	return out
}

func (s *channelServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func TestWSDialer_JoinEventsLeave(t *testing.T) {
	srv := &channelServer{t: t}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	dialer := &WSDialer{
		URL:          "ws" + strings.TrimPrefix(ts.URL, "http") + "/live",
		Token:        "tok",
		PingInterval: time.Second,
		PongWait:     2 * time.Second,
		WriteWait:    time.Second,
	}
	c := NewClient(dialer, nil)
	ctx := context.Background()

	h, err := c.Connect(ctx, "s1", Identity{}, fullScreen)
	require.NoError(t, err)
	_, err = c.Connect(ctx, "s1", Identity{}, fullScreen)
	require.NoError(t, err)

	got := make(chan int, 1)
	h.On(EventViewerCountUpdate, func(ev Event) {
		var p ViewerCountPayload
		if ev.Decode(&p) == nil {
			got <- p.Count
		}
	})

	require.Eventually(t, func() bool { return len(srv.events()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, srv.connCount())
	srv.mu.Lock()
	assert.Contains(t, srv.query, "stream_id=s1")
	assert.Contains(t, srv.query, "token=tok")
	srv.mu.Unlock()

	srv.broadcast(WSMessage{Event: string(EventViewerCountUpdate), Data: []byte(`{"count":17}`)})
	select {
	case n := <-got:
		assert.Equal(t, 17, n)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	require.NoError(t, c.Disconnect(ctx, h, fullScreen))
	require.Eventually(t, func() bool { return len(srv.events()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{controlJoin, controlLeave}, srv.events())
}
