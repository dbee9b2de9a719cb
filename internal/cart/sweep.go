package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aura-live/commerce/internal/metrics"
	"github.com/aura-live/commerce/pkg/kvstore"
)

// SweepExpired deletes every persisted cart whose savedAt is older than expiry and returns
// how many were removed. Meant to run opportunistically (app foreground, CLI), not on a timer.
// Unreadable records are left alone.
func SweepExpired(ctx context.Context, kv kvstore.Store, now time.Time, expiry time.Duration, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	keys, err := kv.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list keys: %w", err)
	}

	removed := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, KeyPrefix) {
			continue
		}
		raw, ok, err := kv.Get(ctx, key)
		if err != nil {
			logger.Warn("sweep read failed", zap.String("key", key), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		var stored Stored
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			logger.Warn("sweep skipped corrupt cart", zap.String("key", key), zap.Error(err))
			continue
		}
		if stored.age(now) < expiry {
			continue
		}
		if err := kv.Remove(ctx, key); err != nil {
			logger.Warn("sweep remove failed", zap.String("key", key), zap.Error(err))
			continue
		}
		removed++
		metrics.CartsExpired.Inc()
		logger.Info("cleaned up expired cart", zap.String("key", key))
	}
	return removed, nil
}
