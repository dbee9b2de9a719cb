package notify

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aura-live/commerce/internal/clock"
)

// Purchase is a purchase announcement before it gets a notification id.
type Purchase struct {
	ProductID   string    `json:"productId"`
	ProductName string    `json:"productName"`
	BuyerName   string    `json:"buyerName"`
	Quantity    int       `json:"quantity"`
	Timestamp   time.Time `json:"timestamp"`
}

// Sink accepts purchase announcements. The session view model owns one and injects it into
// whichever surface presents notifications.
type Sink interface {
	Notify(p Purchase)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Purchase)

// Notify calls f(p).
func (f SinkFunc) Notify(p Purchase) { f(p) }

// Notifier feeds the queue and, for multi-unit purchases, the celebration banner.
type Notifier struct {
	queue       *Queue
	celebration *Celebration
	clock       clock.Clock
	minQuantity int
	seq         atomic.Uint64
}

// NewNotifier wires a queue and a celebration banner with the given timings.
func NewNotifier(opts Options, clk clock.Clock, logger *zap.Logger) *Notifier {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	logger = logger.Named("notify")
	return &Notifier{
		queue:       NewQueue(opts, logger),
		celebration: NewCelebration(opts.CelebrationDuration, logger),
		clock:       clk,
		minQuantity: opts.CelebrationMinQuantity,
	}
}

// Notify implements Sink.
func (n *Notifier) Notify(p Purchase) {
	n.Trigger(p)
}

// Trigger assigns an id, enqueues the toast and celebrates large purchases.
func (n *Notifier) Trigger(p Purchase) Pending {
	now := n.clock.Now()
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	}
	pending := Pending{
		ID:          fmt.Sprintf("purchase_%d_%d", now.UnixMilli(), n.seq.Add(1)),
		ProductID:   p.ProductID,
		ProductName: p.ProductName,
		BuyerName:   p.BuyerName,
		Quantity:    p.Quantity,
		Timestamp:   p.Timestamp,
	}
	n.queue.Enqueue(pending)
	if p.Quantity >= n.minQuantity {
		n.celebration.Trigger(pending)
	}
	return pending
}

// Start begins queue processing.
func (n *Notifier) Start() { n.queue.Start() }

// Stop halts queue processing and dismisses the banner.
func (n *Notifier) Stop() {
	n.queue.Stop()
	n.celebration.Dismiss()
}

// Queue returns the toast queue.
func (n *Notifier) Queue() *Queue { return n.queue }

// Celebration returns the banner.
func (n *Notifier) Celebration() *Celebration { return n.celebration }
