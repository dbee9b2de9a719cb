package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-live/commerce/internal/metrics"
)

// Celebration is the full-screen banner for large purchases. It holds at most one occupant;
// a new trigger replaces the current one and restarts the auto-dismiss timer.
type Celebration struct {
	duration time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	current  *Pending
	gen      uint64
	timer    *time.Timer
	onChange func(*Pending)
}

// NewCelebration creates a banner that dismisses itself after duration.
func NewCelebration(duration time.Duration, logger *zap.Logger) *Celebration {
	if logger == nil {
		logger = zap.NewNop()
	}
	if duration <= 0 {
		duration = DefaultOptions().CelebrationDuration
	}
	return &Celebration{duration: duration, logger: logger}
}

// OnChange registers fn to be called with the new occupant (nil on dismiss).
func (c *Celebration) OnChange(fn func(*Pending)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Trigger shows p, replacing any current occupant.
func (c *Celebration) Trigger(p Pending) {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.current = &p
	c.timer = time.AfterFunc(c.duration, func() { c.expire(gen) })
	fn := c.onChange
	c.mu.Unlock()

	metrics.Celebrations.Inc()
	c.logger.Debug("celebration", zap.String("id", p.ID), zap.Int("quantity", p.Quantity))
	if fn != nil {
		fn(&p)
	}
}

// Current returns the banner occupant, or nil.
func (c *Celebration) Current() *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	p := *c.current
	return &p
}

// Dismiss clears the banner immediately.
func (c *Celebration) Dismiss() {
	c.mu.Lock()
	c.gen++
	c.clearLocked()
}

// expire clears the banner only if no newer trigger happened since gen was issued.
func (c *Celebration) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.clearLocked()
}

// clearLocked releases c.mu.
func (c *Celebration) clearLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	had := c.current != nil
	c.current = nil
	fn := c.onChange
	c.mu.Unlock()
	if had && fn != nil {
		fn(nil)
	}
}
