package session

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/aura-live/commerce/internal/cart"
	"github.com/aura-live/commerce/internal/checkout"
	"github.com/aura-live/commerce/internal/models"
	"github.com/aura-live/commerce/internal/realtime"
	"github.com/aura-live/commerce/pkg/response"
)

// OpenRequest is the body for POST /session.
type OpenRequest struct {
	StreamID string `json:"streamId" binding:"required"`
}

// ChatRequest is the body for POST /session/chat.
type ChatRequest struct {
	Message string `json:"message" binding:"required"`
}

// AddItemRequest is the body for POST /cart/items and POST /cart/quick-buy.
type AddItemRequest struct {
	ProductID       string           `json:"productId" binding:"required"`
	VariantID       string           `json:"variantId"`
	Product         models.Product   `json:"product"`
	Quantity        int              `json:"quantity" binding:"min=0"`
	SpecialPrice    *decimal.Decimal `json:"specialPrice"`
	PaymentMethodID string           `json:"paymentMethodId"`
}

func (r AddItemRequest) entry() cart.Entry {
	p := r.Product
	if p.ID == "" {
		p.ID = r.ProductID
	}
	return cart.Entry{
		ProductID:    r.ProductID,
		VariantID:    r.VariantID,
		Product:      p,
		Quantity:     r.Quantity,
		SpecialPrice: r.SpecialPrice,
	}
}

// UpdateItemRequest is the body for PATCH /cart/items/:productId.
type UpdateItemRequest struct {
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

// CheckoutRequest is the body for POST /cart/checkout.
type CheckoutRequest struct {
	PaymentMethodID string `json:"paymentMethodId"`
}

// Handler exposes a view model over the local debug API.
type Handler struct {
	vm       *ViewModel
	identity realtime.Identity
}

// NewHandler creates a session handler. Every stream is joined as identity.
func NewHandler(vm *ViewModel, identity realtime.Identity) *Handler {
	return &Handler{vm: vm, identity: identity}
}

// Register mounts the session, cart and PiP routes on rg.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/session", h.GetState)
	rg.GET("/session/watch", h.Watch)
	rg.POST("/session", h.Open)
	rg.DELETE("/session", h.Close)
	rg.POST("/session/chat", h.SendChat)
	rg.DELETE("/session/error", h.DismissError)

	rg.GET("/cart", h.GetCart)
	rg.POST("/cart/items", h.AddItem)
	rg.PATCH("/cart/items/:productId", h.UpdateItem)
	rg.DELETE("/cart/items/:productId", h.RemoveItem)
	rg.POST("/cart/checkout", h.Checkout)
	rg.POST("/cart/quick-buy", h.QuickBuy)

	rg.POST("/pip/minimize", h.Minimize)
	rg.POST("/pip/restore", h.Restore)
}

// GetState handles GET /session.
func (h *Handler) GetState(c *gin.Context) {
	response.OK(c, h.vm.State())
}

// Watch handles GET /session/watch: a server-sent event stream of state snapshots.
func (h *Handler) Watch(c *gin.Context) {
	updates := make(chan State, 16)
	cancel := h.vm.Subscribe(func(s State) {
		select {
		case updates <- s:
		default: // slow reader; the next snapshot supersedes this one
		}
	})
	defer cancel()

	c.SSEvent("state", h.vm.State())
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case s := <-updates:
			c.SSEvent("state", s)
			return true
		}
	})
}

// Open handles POST /session.
func (h *Handler) Open(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.vm.Open(c.Request.Context(), req.StreamID, h.identity); err != nil {
		fail(c, err)
		return
	}
	response.OK(c, h.vm.State())
}

// Close handles DELETE /session.
func (h *Handler) Close(c *gin.Context) {
	h.vm.Close(c.Request.Context())
	response.NoContent(c)
}

// SendChat handles POST /session/chat.
func (h *Handler) SendChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.vm.SendChat(c.Request.Context(), req.Message); err != nil {
		fail(c, err)
		return
	}
	response.NoContent(c)
}

// DismissError handles DELETE /session/error.
func (h *Handler) DismissError(c *gin.Context) {
	h.vm.DismissError()
	response.NoContent(c)
}

// GetCart handles GET /cart.
func (h *Handler) GetCart(c *gin.Context) {
	expiry, err := h.vm.CartExpiry(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	s := h.vm.State()
	response.OK(c, gin.H{"summary": s.Cart, "items": s.CartItems, "expiry": expiry})
}

// AddItem handles POST /cart/items.
func (h *Handler) AddItem(c *gin.Context) {
	var req AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.vm.AddToCart(c.Request.Context(), req.entry()); err != nil {
		fail(c, err)
		return
	}
	response.Created(c, h.vm.State().Cart)
}

// UpdateItem handles PATCH /cart/items/:productId. Quantity 0 removes the line.
func (h *Handler) UpdateItem(c *gin.Context) {
	var req UpdateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.vm.UpdateCartQuantity(c.Request.Context(), c.Param("productId"), req.VariantID, req.Quantity); err != nil {
		fail(c, err)
		return
	}
	response.OK(c, h.vm.State().Cart)
}

// RemoveItem handles DELETE /cart/items/:productId?variantId=.
func (h *Handler) RemoveItem(c *gin.Context) {
	if err := h.vm.RemoveFromCart(c.Request.Context(), c.Param("productId"), c.Query("variantId")); err != nil {
		fail(c, err)
		return
	}
	response.NoContent(c)
}

// Checkout handles POST /cart/checkout.
func (h *Handler) Checkout(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	orderID, err := h.vm.Checkout(c.Request.Context(), req.PaymentMethodID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, gin.H{"orderId": orderID})
}

// QuickBuy handles POST /cart/quick-buy.
func (h *Handler) QuickBuy(c *gin.Context) {
	var req AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	orderID, err := h.vm.QuickBuy(c.Request.Context(), req.entry(), req.PaymentMethodID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, gin.H{"orderId": orderID})
}

// Minimize handles POST /pip/minimize.
func (h *Handler) Minimize(c *gin.Context) {
	if err := h.vm.MinimizeToPiP(); err != nil {
		fail(c, err)
		return
	}
	response.OK(c, h.vm.State())
}

// Restore handles POST /pip/restore.
func (h *Handler) Restore(c *gin.Context) {
	streamID, err := h.vm.RestoreFromPiP(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	response.OK(c, gin.H{"streamId": streamID, "state": h.vm.State()})
}

func fail(c *gin.Context, err error) {
	response.Fail(c, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity), errors.Is(err, checkout.ErrEmptyCart):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoSession),
		errors.Is(err, ErrAlreadyInPiP),
		errors.Is(err, ErrPiPActive),
		errors.Is(err, ErrPiPInactive),
		errors.Is(err, realtime.ErrHandleOwned),
		errors.Is(err, realtime.ErrHandleNotOwned),
		errors.Is(err, realtime.ErrAlreadyAttached),
		errors.Is(err, realtime.ErrHandleClosed):
		return http.StatusConflict
	case errors.Is(err, ErrNoPiPHost), errors.Is(err, ErrNoCheckout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
