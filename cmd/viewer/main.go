// Package main runs a headless live-commerce viewer: it joins a stream, keeps the session
// view model, cart and notification overlay live, and exposes them on a local debug API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aura-live/commerce/config"
	"github.com/aura-live/commerce/internal/bootstrap"
	"github.com/aura-live/commerce/internal/cart"
	"github.com/aura-live/commerce/internal/checkout"
	"github.com/aura-live/commerce/internal/middleware"
	"github.com/aura-live/commerce/internal/notify"
	"github.com/aura-live/commerce/internal/pip"
	"github.com/aura-live/commerce/internal/realtime"
	"github.com/aura-live/commerce/internal/session"
	"github.com/aura-live/commerce/pkg/response"
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

	ctx := context.Background()
	infra, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}
	defer infra.Close()

	// Expired carts are purged when the app comes up, not on a timer.
	if n, err := cart.SweepExpired(ctx, infra.Store, time.Now(), cfg.Cart.Expiry, logger); err != nil {
		logger.Warn("cart sweep", zap.Error(err))
	} else if n > 0 {
		logger.Info("cart sweep", zap.Int("removed", n))
	}

	dialer, err := infra.Dialer(cfg.Channel, logger)
	if err != nil {
		logger.Fatal("channel", zap.Error(err))
	}
	client := realtime.NewClient(dialer, logger, realtime.WithPendingLimit(cfg.Channel.PendingLimit))

	notifier := notify.NewNotifier(notify.Options{
		DisplayDuration:        cfg.Notify.DisplayDuration,
		FadeOutDuration:        cfg.Notify.FadeOutDuration,
		MaxVisible:             cfg.Notify.MaxVisible,
		CelebrationDuration:    cfg.Notify.CelebrationDuration,
		CelebrationMinQuantity: cfg.Notify.CelebrationMinQuantity,
	}, nil, logger)
	notifier.Start()

	orders := checkout.NewClient(cfg.Checkout.BaseURL, cfg.Channel.Token, cfg.Checkout.Timeout, logger)
	host := pip.NewHost(client, logger)

	vm := session.New(session.Deps{
		Channel:  client,
		Storage:  infra.Store,
		Notifier: notifier,
		Checkout: orders,
		PiP:      host,
		Logger:   logger,
	}, session.Options{
		Username:      cfg.Viewer.Username,
		ChatHistory:   cfg.Session.ChatHistory,
		CountdownTick: cfg.Session.CountdownTick,
		CartExpiry:    cfg.Cart.Expiry,
	})
	// The mini-player closed itself (stream ended or user exit): nothing is left to restore.
	host.OnExit(func(streamID string) {
		logger.Info("mini-player closed", zap.String("stream_id", streamID))
		vm.Close(context.Background())
	})

	identity, err := realtime.IdentityFromToken(cfg.Channel.Token)
	if err != nil {
		logger.Fatal("channel token", zap.Error(err))
	}
	if cfg.Viewer.StreamID != "" {
		if err := vm.Open(ctx, cfg.Viewer.StreamID, identity); err != nil {
			logger.Warn("open stream", zap.String("stream_id", cfg.Viewer.StreamID), zap.Error(err))
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	if cfg.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/v1")
	session.NewHandler(vm, identity).Register(api)
	pip.NewHandler(host).Register(api)
	notify.NewHandler(notifier).Register(api)
	cart.NewSweepHandler(infra.Store, cfg.Cart.Expiry, logger).Register(api)

	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// No WriteTimeout: /session/watch is a long-lived event stream.
	}

	go func() {
		logger.Info("debug api listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	vm.Close(shutdownCtx)
	if err := host.Exit(shutdownCtx); err != nil && !errors.Is(err, pip.ErrInactive) {
		logger.Warn("mini-player exit", zap.Error(err))
	}
	client.Close(shutdownCtx)
	notifier.Stop()
	logger.Info("viewer stopped")
}
