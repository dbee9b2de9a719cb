package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Channel transports accepted by CHANNEL_TRANSPORT.
const (
	TransportWebSocket = "ws"
	TransportRedis     = "redis"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Channel  ChannelConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Cart     CartConfig     `yaml:"cart"`
	Notify   NotifyConfig   `yaml:"notify"`
	Session  SessionConfig  `yaml:"session"`
	Checkout CheckoutConfig
	Metrics  MetricsConfig
	Viewer   ViewerConfig
}

// ServerConfig holds the local debug API settings.
type ServerConfig struct {
	Port           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins string // CORS; "*" or comma-separated, empty disables cross-origin access
}

// LogConfig selects the zap level ("debug", "info", "warn", "error").
type LogConfig struct {
	Level string
}

// ChannelConfig describes the real-time channel endpoint.
type ChannelConfig struct {
	Transport    string // ws or redis (edge relay)
	URL          string // e.g. ws://localhost:3000
	Namespace    string // appended to URL, e.g. /live
	Token        string // optional access token; its user id claim becomes the viewer user id
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	PendingLimit int // events buffered while a handle is detached
	SendBuffer   int
}

// StorageConfig selects the durable key-value backend for carts.
type StorageConfig struct {
	Backend        string
	SQLitePath     string
	RedisNamespace string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

// NeedsRedis reports whether storage or the channel relay uses Redis.
func (c *Config) NeedsRedis() bool {
	return c.Storage.Backend == BackendRedis || c.Channel.Transport == TransportRedis
}

// CartConfig controls live cart expiry.
type CartConfig struct {
	Expiry time.Duration `yaml:"expiry"`
}

// NotifyConfig tunes the purchase notification queue and celebration banner.
type NotifyConfig struct {
	DisplayDuration        time.Duration `yaml:"display_duration"`
	FadeOutDuration        time.Duration `yaml:"fade_out_duration"`
	MaxVisible             int           `yaml:"max_visible"`
	CelebrationDuration    time.Duration `yaml:"celebration_duration"`
	CelebrationMinQuantity int           `yaml:"celebration_min_quantity"`
}

// SessionConfig tunes the session view model.
type SessionConfig struct {
	ChatHistory   int           `yaml:"chat_history"`
	CountdownTick time.Duration `yaml:"countdown_tick"`
}

// CheckoutConfig points at the orders REST API.
type CheckoutConfig struct {
	BaseURL string
	Timeout time.Duration
}

// ViewerConfig is the stream the headless viewer opens on start and the chat name it uses.
type ViewerConfig struct {
	StreamID string
	Username string
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool
}

// tuning is the subset of Config a YAML file may override.
type tuning struct {
	Cart    *CartConfig    `yaml:"cart"`
	Notify  *NotifyConfig  `yaml:"notify"`
	Session *SessionConfig `yaml:"session"`
}

// Load reads configuration from environment, with optional .env file and YAML tuning overlay.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8090"),
			ReadTimeout:    getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:   getEnvInt("WRITE_TIMEOUT_SEC", 30),
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Channel: ChannelConfig{
			Transport:    strings.ToLower(getEnv("CHANNEL_TRANSPORT", TransportWebSocket)),
			URL:          getEnv("CHANNEL_URL", "ws://localhost:3000"),
			Namespace:    getEnv("CHANNEL_NAMESPACE", "/live"),
			Token:        getEnv("CHANNEL_TOKEN", ""),
			PingInterval: getEnvDuration("CHANNEL_PING_INTERVAL", 30*time.Second),
			PongWait:     getEnvDuration("CHANNEL_PONG_WAIT", 60*time.Second),
			WriteWait:    getEnvDuration("CHANNEL_WRITE_WAIT", 10*time.Second),
			PendingLimit: getEnvInt("CHANNEL_PENDING_LIMIT", 256),
			SendBuffer:   getEnvInt("CHANNEL_SEND_BUFFER", 64),
		},
		Storage: StorageConfig{
			Backend:        strings.ToLower(getEnv("STORAGE_BACKEND", BackendSQLite)),
			SQLitePath:     getEnv("SQLITE_PATH", "live_cart.db"),
			RedisNamespace: getEnv("REDIS_NAMESPACE", "livecommerce:"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/livecommerce?sslmode=disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 4)),
		},
		Cart: CartConfig{
			Expiry: getEnvDuration("CART_EXPIRY", 30*time.Minute),
		},
		Notify: NotifyConfig{
			DisplayDuration:        getEnvDuration("NOTIFY_DISPLAY_DURATION", 2500*time.Millisecond),
			FadeOutDuration:        getEnvDuration("NOTIFY_FADE_OUT_DURATION", 300*time.Millisecond),
			MaxVisible:             getEnvInt("NOTIFY_MAX_VISIBLE", 3),
			CelebrationDuration:    getEnvDuration("NOTIFY_CELEBRATION_DURATION", 3*time.Second),
			CelebrationMinQuantity: getEnvInt("NOTIFY_CELEBRATION_MIN_QUANTITY", 2),
		},
		Session: SessionConfig{
			ChatHistory:   getEnvInt("SESSION_CHAT_HISTORY", 50),
			CountdownTick: getEnvDuration("SESSION_COUNTDOWN_TICK", time.Second),
		},
		Checkout: CheckoutConfig{
			BaseURL: getEnv("CHECKOUT_BASE_URL", "http://localhost:3000/api/v1"),
			Timeout: getEnvDuration("CHECKOUT_TIMEOUT", 15*time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: getEnv("METRICS_ENABLED", "true") == "true",
		},
		Viewer: ViewerConfig{
			StreamID: getEnv("VIEWER_STREAM_ID", ""),
			Username: getEnv("VIEWER_USERNAME", "viewer"),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// overlay applies cart/notify/session sections from a YAML file on top of env values.
func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file '%s': %w", path, err)
	}
	t := tuning{Cart: &c.Cart, Notify: &c.Notify, Session: &c.Session}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("parse config file '%s': %w", path, err)
	}
	return nil
}

// Validate rejects settings the core cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Channel.Transport {
	case TransportWebSocket, TransportRedis:
	default:
		return fmt.Errorf("unknown channel transport %q", c.Channel.Transport)
	}
	if c.Storage.Backend == BackendSQLite && c.Storage.SQLitePath == "" {
		return fmt.Errorf("sqlite path cannot be empty")
	}
	if c.Cart.Expiry <= 0 {
		return fmt.Errorf("cart expiry must be greater than 0")
	}
	if c.Notify.DisplayDuration <= 0 || c.Notify.CelebrationDuration <= 0 {
		return fmt.Errorf("notification durations must be greater than 0")
	}
	if c.Notify.FadeOutDuration < 0 {
		return fmt.Errorf("fade out duration cannot be negative")
	}
	if c.Notify.MaxVisible <= 0 {
		return fmt.Errorf("max visible notifications must be greater than 0")
	}
	if c.Session.CountdownTick <= 0 {
		return fmt.Errorf("countdown tick must be greater than 0")
	}
	if c.Session.ChatHistory <= 0 {
		return fmt.Errorf("chat history must be greater than 0")
	}
	if c.Channel.PingInterval <= 0 || c.Channel.PongWait <= c.Channel.PingInterval {
		return fmt.Errorf("pong wait must exceed a positive ping interval")
	}
	return nil
}

// ChannelEndpoint returns the websocket URL including the namespace.
func (c ChannelConfig) ChannelEndpoint() string {
	return strings.TrimRight(c.URL, "/") + "/" + strings.TrimLeft(c.Namespace, "/")
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
