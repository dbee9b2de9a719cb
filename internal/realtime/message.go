package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aura-live/commerce/internal/models"
)

// WSMessage is the channel message envelope, both directions.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EventType names an event pushed by the channel.
type EventType string

// Events consumed from the channel.
const (
	EventStreamInfo           EventType = "streamInfo"
	EventViewerCountUpdate    EventType = "viewerCountUpdate"
	EventNewMessage           EventType = "newMessage"
	EventRecentMessages       EventType = "recentMessages"
	EventStreamStatusUpdate   EventType = "streamStatusUpdate"
	EventStreamProductsUpdate EventType = "streamProductsUpdate"
	EventProductPinned        EventType = "productPinned"
	EventProductUnpinned      EventType = "productUnpinned"
	EventFlashSaleStarted     EventType = "flashSaleStarted"
	EventFlashSaleEnded       EventType = "flashSaleEnded"
	EventNewPurchase          EventType = "newPurchase"
	// EventError carries server error messages and local transport failures.
	EventError EventType = "error"
)

// Control messages sent to the channel.
const (
	controlJoin        = "joinStream"
	controlLeave       = "leaveStream"
	controlSendMessage = "sendMessage"
)

// Event is one message received on a handle.
type Event struct {
	Type       EventType
	Data       json.RawMessage
	ReceivedAt time.Time
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return nil
}

// Handler processes one event. Handlers on a handle run sequentially on its dispatch goroutine.
type Handler func(Event)

// StreamInfoPayload is sent once on join.
type StreamInfoPayload struct {
	Stream      models.StreamSession `json:"stream"`
	ViewerCount int                  `json:"viewerCount"`
}

// ViewerCountPayload carries the server's current viewer total.
type ViewerCountPayload struct {
	StreamID string `json:"streamId,omitempty"`
	Count    int    `json:"count"`
}

// StreamStatusPayload reports a broadcast status change.
type StreamStatusPayload struct {
	Status string `json:"status"`
}

// StreamProductsPayload replaces the stream's product list.
type StreamProductsPayload struct {
	Products []models.StreamProduct `json:"products"`
}

// ProductPinnedPayload pins a product, optionally with a countdown.
type ProductPinnedPayload struct {
	ProductID    string     `json:"productId"`
	TimerEndTime *time.Time `json:"timerEndTime,omitempty"`
}

// FlashSaleStartedPayload starts a timed discount on a product.
type FlashSaleStartedPayload struct {
	ProductID       string    `json:"productId"`
	DiscountPercent float64   `json:"discountPercent"`
	EndTime         time.Time `json:"endTime"`
}

// FlashSaleEndedPayload ends a flash sale.
type FlashSaleEndedPayload struct {
	ProductID string `json:"productId,omitempty"`
}

// NewPurchasePayload announces a purchase. PurchaseCount is the server's cumulative total
// for the product during this stream.
type NewPurchasePayload struct {
	ProductID     string    `json:"productId"`
	ProductName   string    `json:"productName"`
	BuyerName     string    `json:"buyerName"`
	Quantity      int       `json:"quantity"`
	PurchaseCount int       `json:"purchaseCount"`
	Timestamp     time.Time `json:"timestamp,omitempty"`
}

// ErrorPayload is a server-side or transport error.
type ErrorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type joinPayload struct {
	StreamID  string `json:"streamId"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
}

type leavePayload struct {
	StreamID string `json:"streamId"`
}

type chatPayload struct {
	StreamID string `json:"streamId"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

func newMessage(event string, payload any) (WSMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return WSMessage{}, fmt.Errorf("marshal %s: %w", event, err)
	}
	return WSMessage{Event: event, Data: data}, nil
}
