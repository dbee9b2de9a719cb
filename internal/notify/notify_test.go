package notify

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-live/commerce/internal/clock"
)

func fastOptions() Options {
	return Options{
		DisplayDuration:        15 * time.Millisecond,
		FadeOutDuration:        3 * time.Millisecond,
		MaxVisible:             3,
		CelebrationDuration:    40 * time.Millisecond,
		CelebrationMinQuantity: 2,
	}
}

func TestQueue_BurstIsSerializedAndBounded(t *testing.T) {
	q := NewQueue(fastOptions(), nil)

	var (
		mu         sync.Mutex
		maxVisible int
		seen       = map[string]bool{}
	)
	q.Subscribe(func(v View) {
		mu.Lock()
		defer mu.Unlock()
		if len(v.Visible) > maxVisible {
			maxVisible = len(v.Visible)
		}
		for _, p := range v.Visible {
			seen[p.ID] = true
		}
	})
	started := time.Now()
	q.Start()
	defer q.Stop()

	for i := 0; i < 10; i++ {
		q.Enqueue(Pending{ID: string(rune('a' + i)), ProductName: "Lamp", Quantity: 1})
	}

	require.Eventually(t, func() bool { return q.Retired() == 10 }, 3*time.Second, 5*time.Millisecond)

	// Strictly serialized: ten full display windows back to back.
	assert.GreaterOrEqual(t, time.Since(started), 10*fastOptions().DisplayDuration)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxVisible, 3)
	assert.Len(t, seen, 10, "every item shown")
	v := q.View()
	assert.Empty(t, v.Visible)
	assert.Zero(t, v.Queued)
}

func TestQueue_VisibleCapDropsOldest(t *testing.T) {
	q := NewQueue(Options{MaxVisible: 2, DisplayDuration: time.Hour}, nil)
	q.show(Pending{ID: "1"})
	q.show(Pending{ID: "2"})
	q.show(Pending{ID: "3"})

	v := q.View()
	require.Len(t, v.Visible, 2)
	assert.Equal(t, "2", v.Visible[0].ID)
	assert.Equal(t, "3", v.Visible[1].ID)
}

func TestQueue_EnqueueBeforeStart(t *testing.T) {
	q := NewQueue(fastOptions(), nil)
	q.Enqueue(Pending{ID: "x"})
	assert.Equal(t, 1, q.View().Queued)

	q.Start()
	defer q.Stop()
	require.Eventually(t, func() bool { return q.Retired() == 1 }, time.Second, 5*time.Millisecond)
}

func TestQueue_StopIsIdempotent(t *testing.T) {
	q := NewQueue(fastOptions(), nil)
	q.Start()
	q.Start()
	q.Stop()
	q.Stop()
}

func TestQueue_StopRequeuesInFlight(t *testing.T) {
	opts := fastOptions()
	opts.DisplayDuration = time.Minute
	q := NewQueue(opts, nil)
	q.Enqueue(Pending{ID: "a"})
	q.Enqueue(Pending{ID: "b"})
	q.Start()
	require.Eventually(t, func() bool { return len(q.View().Visible) == 1 }, time.Second, time.Millisecond)

	q.Stop()
	v := q.View()
	assert.Empty(t, v.Visible)
	assert.Equal(t, 2, v.Queued)
	assert.Zero(t, v.Retired)

	// After a restart the cut-off item is shown again, first.
	q.Start()
	defer q.Stop()
	require.Eventually(t, func() bool { return len(q.View().Visible) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "a", q.View().Visible[0].ID)
}

func TestCelebration_ReplaceAndAutoDismiss(t *testing.T) {
	c := NewCelebration(50*time.Millisecond, nil)
	var (
		mu      sync.Mutex
		changes []string
	)
	c.OnChange(func(p *Pending) {
		mu.Lock()
		defer mu.Unlock()
		if p == nil {
			changes = append(changes, "-")
			return
		}
		changes = append(changes, p.ID)
	})

	c.Trigger(Pending{ID: "a", Quantity: 2})
	time.Sleep(30 * time.Millisecond)
	c.Trigger(Pending{ID: "b", Quantity: 3})
	time.Sleep(30 * time.Millisecond)

	// The first trigger's timer must not dismiss the replacement.
	cur := c.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "b", cur.ID)

	require.Eventually(t, func() bool { return c.Current() == nil }, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "-"}, changes)
}

func TestCelebration_Dismiss(t *testing.T) {
	c := NewCelebration(time.Hour, nil)
	c.Trigger(Pending{ID: "a"})
	c.Dismiss()
	assert.Nil(t, c.Current())
	c.Dismiss()
}

func TestNotifier_Trigger(t *testing.T) {
	clk := clock.NewManual(time.UnixMilli(1700000000000))
	n := NewNotifier(fastOptions(), clk, nil)

	single := n.Trigger(Purchase{ProductName: "Mug", BuyerName: "ana", Quantity: 1})
	assert.True(t, strings.HasPrefix(single.ID, "purchase_1700000000000_"), single.ID)
	assert.Nil(t, n.Celebration().Current(), "single unit does not celebrate")

	multi := n.Trigger(Purchase{ProductName: "Mug", BuyerName: "bo", Quantity: 3})
	assert.NotEqual(t, single.ID, multi.ID)
	cur := n.Celebration().Current()
	require.NotNil(t, cur)
	assert.Equal(t, multi.ID, cur.ID)
	assert.Equal(t, clk.Now(), multi.Timestamp)
	assert.Equal(t, 2, n.Queue().View().Queued)

	n.Start()
	require.Eventually(t, func() bool { return n.Queue().Retired() == 2 }, time.Second, 5*time.Millisecond)
	n.Stop()
	assert.Nil(t, n.Celebration().Current())
}

func TestSinkFunc(t *testing.T) {
	var got Purchase
	var s Sink = SinkFunc(func(p Purchase) { got = p })
	s.Notify(Purchase{ProductID: "p1", Quantity: 4})
	assert.Equal(t, "p1", got.ProductID)
}
