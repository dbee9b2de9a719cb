// Package bootstrap builds the shared infrastructure of the binaries from config: logger,
// durable cart storage and the channel dialer.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-live/commerce/config"
	"github.com/aura-live/commerce/internal/realtime"
	"github.com/aura-live/commerce/pkg/database"
	"github.com/aura-live/commerce/pkg/kvstore"
	"github.com/aura-live/commerce/pkg/redis"
)

// NewLogger returns a production zap logger at level with ISO8601 timestamps.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// StartupLogger logs until config is loaded. It never returns nil.
func StartupLogger() *zap.Logger {
	logger, err := NewLogger("info")
	if err != nil {
		return zap.NewExample()
	}
	return logger
}

// Infra holds the opened backends. Close releases them in reverse order.
type Infra struct {
	Store kvstore.Store
	Redis *redis.Client

	closers []func()
}

// Open connects the storage backend selected by cfg, plus Redis when the channel relay needs it.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Infra, error) {
	in := &Infra{}
	if cfg.NeedsRedis() {
		rdb, err := redis.NewClient(ctx, redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			return nil, err
		}
		in.Redis = rdb
		in.closers = append(in.closers, func() { _ = rdb.Close() })
	}

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		in.Store = kvstore.NewMemory()
	case config.BackendSQLite:
		db, err := kvstore.OpenSQLite(ctx, cfg.Storage.SQLitePath, logger)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.Store = db
		in.closers = append(in.closers, func() { _ = db.Close() })
	case config.BackendRedis:
		in.Store = kvstore.NewRedis(in.Redis.Client, cfg.Storage.RedisNamespace)
	case config.BackendPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.URL, cfg.Database.MaxConns, logger)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.Store = kvstore.NewPostgres(pool)
		in.closers = append(in.closers, pool.Close)
	default:
		in.Close()
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	logger.Info("cart storage ready", zap.String("backend", cfg.Storage.Backend))
	return in, nil
}

// Dialer returns the channel dialer selected by cfg.
func (in *Infra) Dialer(cfg config.ChannelConfig, logger *zap.Logger) (realtime.Dialer, error) {
	switch cfg.Transport {
	case config.TransportRedis:
		if in.Redis == nil {
			return nil, fmt.Errorf("redis channel transport requires a redis client")
		}
		return &realtime.RedisDialer{Client: in.Redis.Client, Logger: logger}, nil
	default:
		return &realtime.WSDialer{
			URL:          cfg.ChannelEndpoint(),
			Token:        cfg.Token,
			PingInterval: cfg.PingInterval,
			PongWait:     cfg.PongWait,
			WriteWait:    cfg.WriteWait,
			SendBuffer:   cfg.SendBuffer,
			Logger:       logger,
		}, nil
	}
}

// Close releases every opened backend.
func (in *Infra) Close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i]()
	}
	in.closers = nil
}
