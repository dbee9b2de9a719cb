// Package notify turns bursts of purchase events into a calm, bounded presentation: a
// strictly serialized toast queue plus an independent one-at-a-time celebration banner.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-live/commerce/internal/metrics"
)

// Pending is one purchase waiting to be shown.
type Pending struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"productId,omitempty"`
	ProductName string    `json:"productName"`
	BuyerName   string    `json:"buyerName"`
	Quantity    int       `json:"quantity"`
	Timestamp   time.Time `json:"timestamp"`
}

// Options tunes presentation timing.
type Options struct {
	DisplayDuration        time.Duration
	FadeOutDuration        time.Duration
	MaxVisible             int
	CelebrationDuration    time.Duration
	CelebrationMinQuantity int
}

// DefaultOptions matches the app's animation timings.
func DefaultOptions() Options {
	return Options{
		DisplayDuration:        2500 * time.Millisecond,
		FadeOutDuration:        300 * time.Millisecond,
		MaxVisible:             3,
		CelebrationDuration:    3 * time.Second,
		CelebrationMinQuantity: 2,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DisplayDuration <= 0 {
		o.DisplayDuration = d.DisplayDuration
	}
	if o.FadeOutDuration < 0 {
		o.FadeOutDuration = 0
	}
	if o.MaxVisible <= 0 {
		o.MaxVisible = d.MaxVisible
	}
	if o.CelebrationDuration <= 0 {
		o.CelebrationDuration = d.CelebrationDuration
	}
	if o.CelebrationMinQuantity <= 0 {
		o.CelebrationMinQuantity = d.CelebrationMinQuantity
	}
	return o
}

// View is what a UI surface renders from the queue.
type View struct {
	Visible []Pending `json:"visible"`
	Fading  string    `json:"fading,omitempty"` // id of the item fading out, if any
	Queued  int       `json:"queued"`
	Retired int       `json:"retired"`
}

// Queue shows one purchase at a time: pull, show for the display duration, fade, retire,
// then pull the next. The visible set is capped and drops its oldest entry on overflow.
type Queue struct {
	opts   Options
	logger *zap.Logger

	mu        sync.Mutex
	queue     []Pending
	visible   []Pending
	current   *Pending // in flight between show and retire
	fading    string
	retired   int
	observers map[int]func(View)
	nextObs   int

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewQueue creates a notification queue. Call Start to begin processing.
func NewQueue(opts Options, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		opts:      opts.withDefaults(),
		logger:    logger,
		observers: make(map[int]func(View)),
		wake:      make(chan struct{}, 1),
	}
}

// Start begins the processor loop. Call Stop to release it.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.cancel != nil {
		q.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.done = make(chan struct{})
	done := q.done
	q.mu.Unlock()

	go q.run(ctx, done)
	q.logger.Debug("notification queue started")
}

// Stop halts processing. Items still queued stay queued and an item cut off mid-display goes
// back to the head of the queue; the visible set is cleared.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel, done := q.cancel, q.done
	q.cancel = nil
	q.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	q.mu.Lock()
	if q.current != nil {
		q.queue = append([]Pending{*q.current}, q.queue...)
		q.current = nil
	}
	q.visible = nil
	q.fading = ""
	q.mu.Unlock()
	q.publish()
	q.logger.Debug("notification queue stopped")
}

// Enqueue appends p to the FIFO. It never blocks.
func (q *Queue) Enqueue(p Pending) {
	q.mu.Lock()
	q.queue = append(q.queue, p)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.publish()
}

// View returns the current presentation state.
func (q *Queue) View() View {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.viewLocked()
}

// Retired returns how many notifications have completed their display.
func (q *Queue) Retired() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.retired
}

// Subscribe registers fn to receive every view change. The returned func unsubscribes.
// Observers run on the caller's goroutine and must not block.
func (q *Queue) Subscribe(fn func(View)) func() {
	q.mu.Lock()
	id := q.nextObs
	q.nextObs++
	q.observers[id] = fn
	q.mu.Unlock()
	return func() {
		q.mu.Lock()
		delete(q.observers, id)
		q.mu.Unlock()
	}
}

func (q *Queue) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		p, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		q.show(p)
		if !sleep(ctx, q.opts.DisplayDuration) {
			return
		}
		q.setFading(p.ID)
		if !sleep(ctx, q.opts.FadeOutDuration) {
			return
		}
		q.retire(p.ID)
	}
}

func (q *Queue) next() (Pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return Pending{}, false
	}
	p := q.queue[0]
	q.queue = q.queue[1:]
	return p, true
}

func (q *Queue) show(p Pending) {
	q.mu.Lock()
	if len(q.visible) >= q.opts.MaxVisible {
		q.visible = append([]Pending(nil), q.visible[len(q.visible)-q.opts.MaxVisible+1:]...)
	}
	q.visible = append(q.visible, p)
	q.current = &p
	q.mu.Unlock()
	metrics.NotificationsShown.Inc()
	q.logger.Debug("showing purchase", zap.String("id", p.ID), zap.String("product", p.ProductName))
	q.publish()
}

func (q *Queue) setFading(id string) {
	q.mu.Lock()
	q.fading = id
	q.mu.Unlock()
	q.publish()
}

func (q *Queue) retire(id string) {
	q.mu.Lock()
	for i, v := range q.visible {
		if v.ID == id {
			q.visible = append(q.visible[:i:i], q.visible[i+1:]...)
			break
		}
	}
	q.fading = ""
	q.current = nil
	q.retired++
	q.mu.Unlock()
	q.publish()
}

func (q *Queue) viewLocked() View {
	return View{
		Visible: append([]Pending(nil), q.visible...),
		Fading:  q.fading,
		Queued:  len(q.queue),
		Retired: q.retired,
	}
}

func (q *Queue) publish() {
	q.mu.Lock()
	v := q.viewLocked()
	obs := make([]func(View), 0, len(q.observers))
	for _, fn := range q.observers {
		obs = append(obs, fn)
	}
	q.mu.Unlock()
	for _, fn := range obs {
		fn(v)
	}
}

// sleep waits d or until ctx ends; it reports whether the full duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
