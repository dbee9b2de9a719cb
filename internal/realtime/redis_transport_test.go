package realtime

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// nextControl returns the next control message published for streamID.
func nextControl(t *testing.T, ch <-chan *redis.Message, streamID string) redisPayload {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-ch:
			var p redisPayload
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &p))
			if p.SessionID == streamID {
				return p
			}
		case <-deadline:
			t.Fatalf("no control message for %s", streamID)
		}
	}
}

func TestRedisDialer_JoinEventsLeave(t *testing.T) {
	rdb := redisClient(t)
	ctx := context.Background()
	streamID := "redis-test-" + uuid.NewString()

	control := rdb.Subscribe(ctx, controlChannel)
	defer control.Close()
	_, err := control.Receive(ctx)
	require.NoError(t, err)
	controlCh := control.Channel()

	client := NewClient(&RedisDialer{Client: rdb}, nil)
	h, err := client.Connect(ctx, streamID, Identity{SessionID: "viewer_1", UserID: "u-1"}, fullScreen)
	require.NoError(t, err)

	join := nextControl(t, controlCh, streamID)
	assert.Equal(t, controlJoin, join.Event)
	var jp joinPayload
	require.NoError(t, json.Unmarshal(join.Data, &jp))
	assert.Equal(t, joinPayload{StreamID: streamID, SessionID: "viewer_1", UserID: "u-1"}, jp)

	counts := make(chan int, 1)
	h.On(EventViewerCountUpdate, func(ev Event) {
		var p ViewerCountPayload
		require.NoError(t, ev.Decode(&p))
		counts <- p.Count
	})

	// A malformed relay message is dropped and the stream keeps flowing.
	require.NoError(t, rdb.Publish(ctx, channelPrefix+streamID, "{not json").Err())
	body, err := json.Marshal(redisPayload{Event: string(EventViewerCountUpdate), Data: json.RawMessage(`{"count":11}`)})
	require.NoError(t, err)
	require.NoError(t, rdb.Publish(ctx, channelPrefix+streamID, body).Err())

	select {
	case n := <-counts:
		assert.Equal(t, 11, n)
	case <-time.After(2 * time.Second):
		t.Fatal("relayed event not delivered")
	}

	require.NoError(t, client.Disconnect(ctx, h, fullScreen))
	assert.Equal(t, controlLeave, nextControl(t, controlCh, streamID).Event)

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("events did not end after disconnect")
	}
}

func TestRedisDialer_CloseEndsEvents(t *testing.T) {
	rdb := redisClient(t)
	ctx := context.Background()

	tr, err := (&RedisDialer{Client: rdb}).Dial(ctx, "redis-test-"+uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	select {
	case _, ok := <-tr.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
	assert.ErrorIs(t, tr.Send(ctx, WSMessage{Event: controlLeave}), ErrTransportClosed)
}
