package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "live:"
	controlChannel = "live:control"
	publishTimeout = 5 * time.Second
)

// redisPayload is the message published to and received from Redis.
type redisPayload struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	SessionID string          `json:"sessionId,omitempty"`
	At        int64           `json:"at"`
}

// RedisDialer relays the channel through Redis pub/sub: events arrive on "live:<streamId>",
// control messages are published to "live:control". Used when the app talks to an edge relay
// instead of the socket server directly.
type RedisDialer struct {
	Client *redis.Client
	Logger *zap.Logger
}

// Dial subscribes to the stream channel and returns a transport bound to it.
func (d *RedisDialer) Dial(ctx context.Context, sessionID string) (Transport, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	subCtx, cancel := context.WithCancel(context.Background())
	pubsub := d.Client.Subscribe(subCtx, channelPrefix+sessionID)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	t := &redisTransport{
		client:    d.Client,
		sessionID: sessionID,
		events:    make(chan WSMessage, defaultSendBuffer),
		cancel:    cancel,
		logger:    logger.With(zap.String("stream_id", sessionID)),
	}
	go t.loop(subCtx, pubsub)
	return t, nil
}

type redisTransport struct {
	client    *redis.Client
	sessionID string
	events    chan WSMessage
	cancel    context.CancelFunc

	mu     sync.RWMutex
	closed bool
	logger *zap.Logger
}

func (t *redisTransport) loop(ctx context.Context, pubsub *redis.PubSub) {
	defer func() {
		_ = pubsub.Close()
		close(t.events)
	}()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var p redisPayload
			if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
				t.logger.Debug("dropping malformed relay message", zap.Error(err))
				continue
			}
			select {
			case t.events <- WSMessage{Event: p.Event, Data: p.Data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (t *redisTransport) Send(ctx context.Context, msg WSMessage) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrTransportClosed
	}
	body, err := json.Marshal(redisPayload{Event: msg.Event, Data: msg.Data, SessionID: t.sessionID, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return t.client.Publish(ctx, controlChannel, body).Err()
}

func (t *redisTransport) Events() <-chan WSMessage {
	return t.events
}

func (t *redisTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.cancel()
	return nil
}
