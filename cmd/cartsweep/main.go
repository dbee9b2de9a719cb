// Package main purges persisted live carts whose 30-minute window has elapsed, then exits.
// Run it from cron or on app foreground against the same storage the viewer uses.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aura-live/commerce/config"
	"github.com/aura-live/commerce/internal/bootstrap"
	"github.com/aura-live/commerce/internal/cart"
)

func main() {
	boot := bootstrap.StartupLogger()
	cfg, err := config.Load()
	if err != nil {
		boot.Fatal("load config", zap.Error(err))
	}
	logger, err := bootstrap.NewLogger(cfg.Log.Level)
	if err != nil {
		boot.Fatal("logger", zap.Error(err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}
	defer infra.Close()

	start := time.Now()
	removed, err := cart.SweepExpired(ctx, infra.Store, start, cfg.Cart.Expiry, logger)
	if err != nil {
		logger.Error("sweep", zap.Error(err))
		infra.Close()
		os.Exit(1)
	}
	logger.Info("sweep done",
		zap.Int("removed", removed),
		zap.Duration("expiry", cfg.Cart.Expiry),
		zap.Duration("took", time.Since(start)),
	)
}
