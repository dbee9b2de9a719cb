package cart

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-live/commerce/pkg/kvstore"
	"github.com/aura-live/commerce/pkg/response"
)

// SweepHandler runs the expired-cart purge on demand.
type SweepHandler struct {
	kv     kvstore.Store
	expiry time.Duration
	logger *zap.Logger
}

// NewSweepHandler creates a sweep handler over kv.
func NewSweepHandler(kv kvstore.Store, expiry time.Duration, logger *zap.Logger) *SweepHandler {
	return &SweepHandler{kv: kv, expiry: expiry, logger: logger}
}

// Register mounts POST /cart/sweep on rg.
func (h *SweepHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/cart/sweep", h.Sweep)
}

// Sweep handles POST /cart/sweep.
func (h *SweepHandler) Sweep(c *gin.Context) {
	removed, err := SweepExpired(c.Request.Context(), h.kv, time.Now(), h.expiry, h.logger)
	if err != nil {
		response.ServiceUnavailable(c, "sweep failed: "+err.Error())
		return
	}
	response.OK(c, gin.H{"removed": removed})
}
