package session

import (
	"go.uber.org/zap"

	"github.com/aura-live/commerce/internal/models"
	"github.com/aura-live/commerce/internal/notify"
	"github.com/aura-live/commerce/internal/realtime"
)

// subscribe registers one reducer per event type. Re-subscribing on a reused handle replaces
// the previous handlers.
func (vm *ViewModel) subscribe(h *realtime.Handle, gen uint64) {
	on := func(t realtime.EventType, reduce func(realtime.Event, *State) error) {
		h.On(t, func(ev realtime.Event) {
			var decodeErr error
			vm.reduce(h, gen, func(s *State) { decodeErr = reduce(ev, s) })
			if decodeErr != nil {
				vm.logger.Debug("dropping malformed event", zap.String("event", string(ev.Type)), zap.Error(decodeErr))
			}
		})
	}

	on(realtime.EventStreamInfo, vm.onStreamInfo)
	on(realtime.EventViewerCountUpdate, onViewerCount)
	on(realtime.EventNewMessage, vm.onNewMessage)
	on(realtime.EventRecentMessages, vm.onRecentMessages)
	on(realtime.EventStreamStatusUpdate, onStreamStatus)
	on(realtime.EventStreamProductsUpdate, onStreamProducts)
	on(realtime.EventProductPinned, onProductPinned)
	on(realtime.EventProductUnpinned, onProductUnpinned)
	on(realtime.EventFlashSaleStarted, onFlashSaleStarted)
	on(realtime.EventFlashSaleEnded, onFlashSaleEnded)
	on(realtime.EventError, onError)

	h.On(realtime.EventNewPurchase, func(ev realtime.Event) {
		var p realtime.NewPurchasePayload
		if err := ev.Decode(&p); err != nil {
			vm.logger.Debug("dropping malformed event", zap.String("event", string(ev.Type)), zap.Error(err))
			return
		}
		if !vm.reduce(h, gen, func(s *State) { applyPurchase(s, p) }) {
			return
		}
		if vm.deps.Notifier != nil {
			vm.deps.Notifier.Notify(notify.Purchase{
				ProductID:   p.ProductID,
				ProductName: p.ProductName,
				BuyerName:   p.BuyerName,
				Quantity:    p.Quantity,
				Timestamp:   p.Timestamp,
			})
		}
	})
}

func (vm *ViewModel) onStreamInfo(ev realtime.Event, s *State) error {
	var p realtime.StreamInfoPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	if p.Stream.ID == "" {
		p.Stream.ID = s.Session.ID
	}
	s.Session = p.Stream.Clone()
	s.ViewerCount = p.Stream.ViewerCount
	if p.ViewerCount > 0 {
		s.ViewerCount = p.ViewerCount
	}
	s.Session.ViewerCount = s.ViewerCount
	if p.Stream.Status == models.StreamStatusEnded {
		s.Ended = true
	}
	return nil
}

// Counters are last-write-wins.
func onViewerCount(ev realtime.Event, s *State) error {
	var p realtime.ViewerCountPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	s.ViewerCount = p.Count
	s.Session.ViewerCount = p.Count
	return nil
}

func (vm *ViewModel) onNewMessage(ev realtime.Event, s *State) error {
	var m models.ChatMessage
	if err := ev.Decode(&m); err != nil {
		return err
	}
	s.Chat = capChat(append(s.Chat, m), vm.opts.ChatHistory)
	return nil
}

// recentMessages is a snapshot sent on join; it replaces the log.
func (vm *ViewModel) onRecentMessages(ev realtime.Event, s *State) error {
	var msgs []models.ChatMessage
	if err := ev.Decode(&msgs); err != nil {
		return err
	}
	s.Chat = capChat(append([]models.ChatMessage(nil), msgs...), vm.opts.ChatHistory)
	return nil
}

func capChat(msgs []models.ChatMessage, limit int) []models.ChatMessage {
	if len(msgs) <= limit {
		return msgs
	}
	return append([]models.ChatMessage(nil), msgs[len(msgs)-limit:]...)
}

func onStreamStatus(ev realtime.Event, s *State) error {
	var p realtime.StreamStatusPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	s.Session.Status = p.Status
	if p.Status == models.StreamStatusEnded {
		s.Ended = true
	}
	return nil
}

func onStreamProducts(ev realtime.Event, s *State) error {
	var p realtime.StreamProductsPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	s.Session.Products = make([]models.StreamProduct, len(p.Products))
	for i, sp := range p.Products {
		s.Session.Products[i] = sp.Clone()
	}
	return nil
}

func onProductPinned(ev realtime.Event, s *State) error {
	var p realtime.ProductPinnedPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	s.Pin = s.Pin.Pin(p.ProductID, p.TimerEndTime)
	if s.FlashSale != nil && s.FlashSale.ProductID != s.Pin.ProductID {
		s.FlashSale = nil
	}
	return nil
}

func onProductUnpinned(_ realtime.Event, s *State) error {
	s.Pin = s.Pin.Unpin()
	s.FlashSale = nil
	return nil
}

func onFlashSaleStarted(ev realtime.Event, s *State) error {
	var p realtime.FlashSaleStartedPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	s.Pin = s.Pin.StartFlashSale(p.ProductID, p.EndTime)
	if s.Pin.ProductID != "" {
		s.FlashSale = &FlashSale{ProductID: s.Pin.ProductID, DiscountPercent: p.DiscountPercent, EndTime: p.EndTime}
	}
	return nil
}

func onFlashSaleEnded(_ realtime.Event, s *State) error {
	s.Pin = s.Pin.Unpin()
	s.FlashSale = nil
	return nil
}

// Server errors and transport failures become a non-fatal banner.
func onError(ev realtime.Event, s *State) error {
	var p realtime.ErrorPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	msg := p.Message
	if msg == "" {
		msg = p.Error
	}
	if msg == "" {
		msg = "channel error"
	}
	s.LastError = msg
	if msg == realtime.ConnectionLost {
		s.Connected = false
	}
	return nil
}

// applyPurchase records the server's cumulative count. Counts never go down, so a late
// duplicate cannot roll the stat back.
func applyPurchase(s *State, p realtime.NewPurchasePayload) {
	if p.ProductID == "" {
		return
	}
	if p.PurchaseCount > s.PurchaseStats[p.ProductID] {
		s.PurchaseStats[p.ProductID] = p.PurchaseCount
	}
}
