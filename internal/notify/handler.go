package notify

import (
	"github.com/gin-gonic/gin"

	"github.com/aura-live/commerce/pkg/response"
)

// Handler exposes the notification overlay over the local debug API.
type Handler struct {
	n *Notifier
}

// NewHandler creates a notifications handler.
func NewHandler(n *Notifier) *Handler {
	return &Handler{n: n}
}

// Register mounts the notification routes on rg.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/notifications", h.Get)
	rg.POST("/notifications", h.Trigger)
	rg.DELETE("/notifications/celebration", h.DismissCelebration)
}

// Get handles GET /notifications.
func (h *Handler) Get(c *gin.Context) {
	response.OK(c, gin.H{
		"queue":       h.n.Queue().View(),
		"celebration": h.n.Celebration().Current(),
	})
}

// Trigger handles POST /notifications: inject a purchase locally, as a demo or test aid.
func (h *Handler) Trigger(c *gin.Context) {
	var req Purchase
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}
	response.Created(c, h.n.Trigger(req))
}

// DismissCelebration handles DELETE /notifications/celebration.
func (h *Handler) DismissCelebration(c *gin.Context) {
	h.n.Celebration().Dismiss()
	response.NoContent(c)
}
