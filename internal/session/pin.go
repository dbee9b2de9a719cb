package session

import "time"

// PinPhase is the pin/flash-sale state.
type PinPhase int

const (
	Unpinned PinPhase = iota
	Pinned
	PinnedTimed
)

func (p PinPhase) String() string {
	switch p {
	case Pinned:
		return "pinned"
	case PinnedTimed:
		return "pinned_timed"
	default:
		return "unpinned"
	}
}

// PinState is the currently highlighted product. TimerEndTime is only meaningful while a
// product is pinned. Reaching the end time does not clear the pin; only an unpin or
// flash-sale-end event from the server does.
type PinState struct {
	ProductID    string     `json:"pinnedProductId,omitempty"`
	TimerEndTime *time.Time `json:"timerEndTime,omitempty"`
}

// Phase derives the state machine phase.
func (s PinState) Phase() PinPhase {
	switch {
	case s.ProductID == "":
		return Unpinned
	case s.TimerEndTime != nil:
		return PinnedTimed
	default:
		return Pinned
	}
}

// Pin handles productPinned. An empty product id is ignored.
func (s PinState) Pin(productID string, end *time.Time) PinState {
	if productID == "" {
		return s
	}
	next := PinState{ProductID: productID}
	if end != nil {
		t := *end
		next.TimerEndTime = &t
	}
	return next
}

// StartFlashSale handles flashSaleStarted, overriding any prior pin.
func (s PinState) StartFlashSale(productID string, end time.Time) PinState {
	if productID == "" {
		productID = s.ProductID
	}
	if productID == "" {
		return s
	}
	return PinState{ProductID: productID, TimerEndTime: &end}
}

// Unpin handles productUnpinned and flashSaleEnded. Redundant unpins are no-ops.
func (s PinState) Unpin() PinState {
	return PinState{}
}

// Remaining is the countdown shown for the pin at now; zero when untimed or elapsed.
func (s PinState) Remaining(now time.Time) time.Duration {
	if s.Phase() != PinnedTimed {
		return 0
	}
	return Remaining(now, *s.TimerEndTime)
}

// Remaining returns end-now, floored at zero, truncated to whole seconds.
func Remaining(now, end time.Time) time.Duration {
	d := end.Sub(now)
	if d <= 0 {
		return 0
	}
	return d.Truncate(time.Second)
}
