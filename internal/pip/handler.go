package pip

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/aura-live/commerce/pkg/response"
)

// Handler exposes the mini-player over the local debug API.
type Handler struct {
	host *Host
}

// NewHandler creates a PiP handler.
func NewHandler(host *Host) *Handler {
	return &Handler{host: host}
}

// Register mounts the PiP routes on rg.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/pip", h.Get)
	rg.POST("/pip/exit", h.Exit)
}

// Get handles GET /pip.
func (h *Handler) Get(c *gin.Context) {
	ident, active := h.host.Session()
	response.OK(c, gin.H{"active": active, "session": ident})
}

// Exit handles POST /pip/exit: close the mini-player and leave the stream.
func (h *Handler) Exit(c *gin.Context) {
	if err := h.host.Exit(c.Request.Context()); err != nil {
		if errors.Is(err, ErrInactive) {
			response.Conflict(c, err.Error())
			return
		}
		response.ServiceUnavailable(c, err.Error())
		return
	}
	response.NoContent(c)
}
