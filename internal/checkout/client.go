// Package checkout hands a live cart snapshot to the orders API.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aura-live/commerce/internal/cart"
)

// ErrEmptyCart is returned when a snapshot has no items.
var ErrEmptyCart = errors.New("cart is empty")

// Order is what the view model hands to checkout.
type Order struct {
	Cart            cart.Snapshot
	AffiliateID     string
	PaymentMethodID string
	Notes           string
}

type orderItem struct {
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type createOrderRequest struct {
	Items           []orderItem `json:"items"`
	LiveSessionID   string      `json:"liveSessionId"`
	AffiliateID     string      `json:"affiliateId,omitempty"`
	PaymentMethodID string      `json:"paymentMethodId,omitempty"`
	Notes           string      `json:"notes,omitempty"`
}

type createOrderResponse struct {
	Success bool `json:"success"`
	Data    struct {
		ID string `json:"id"`
	} `json:"data"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client posts orders to the REST API.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient creates a checkout client for baseURL. token, when set, is sent as a bearer token.
func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "aura-live-viewer/1.0")
	if token != "" {
		rc.SetAuthToken(token)
	}
	return &Client{http: rc, logger: logger}
}

// PlaceOrder submits the snapshot and returns the created order id. Retries and payment
// handling belong to the API.
func (c *Client) PlaceOrder(ctx context.Context, o Order) (string, error) {
	if len(o.Cart.Items) == 0 {
		return "", ErrEmptyCart
	}
	req := createOrderRequest{
		LiveSessionID:   o.Cart.StreamID,
		AffiliateID:     o.AffiliateID,
		PaymentMethodID: o.PaymentMethodID,
		Notes:           o.Notes,
		Items:           make([]orderItem, 0, len(o.Cart.Items)),
	}
	for _, e := range o.Cart.Items {
		req.Items = append(req.Items, orderItem{
			ProductID: e.ProductID,
			VariantID: e.VariantID,
			Quantity:  e.Quantity,
			UnitPrice: e.UnitPrice(),
		})
	}

	var result createOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		SetError(&result).
		Post("/orders")
	if err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}
	if resp.IsError() || !result.Success {
		msg := result.Message
		if msg == "" {
			msg = result.Error
		}
		if msg == "" {
			msg = resp.String()
		}
		return "", fmt.Errorf("create order (status %d): %s", resp.StatusCode(), msg)
	}
	if result.Data.ID == "" {
		return "", fmt.Errorf("create order: response missing order id")
	}

	c.logger.Info("order created",
		zap.String("order_id", result.Data.ID),
		zap.String("stream_id", o.Cart.StreamID),
		zap.Int("lines", len(req.Items)),
	)
	return result.Data.ID, nil
}
