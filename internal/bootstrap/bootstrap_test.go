package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-live/commerce/config"
	"github.com/aura-live/commerce/internal/realtime"
	"github.com/aura-live/commerce/pkg/kvstore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	_, err = NewLogger("loud")
	assert.Error(t, err)
}

func TestStartupLogger(t *testing.T) {
	logger := StartupLogger()
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
}

func testConfig(backend string) *config.Config {
	return &config.Config{
		Channel: config.ChannelConfig{Transport: config.TransportWebSocket, URL: "ws://localhost:3000", Namespace: "/live"},
		Storage: config.StorageConfig{Backend: backend},
	}
}

func TestOpen_Memory(t *testing.T) {
	in, err := Open(context.Background(), testConfig(config.BackendMemory), zap.NewNop())
	require.NoError(t, err)
	defer in.Close()
	assert.IsType(t, &kvstore.Memory{}, in.Store)
	assert.Nil(t, in.Redis)

	d, err := in.Dialer(testConfig("").Channel, zap.NewNop())
	require.NoError(t, err)
	ws, ok := d.(*realtime.WSDialer)
	require.True(t, ok)
	assert.Equal(t, "ws://localhost:3000/live", ws.URL)
}

func TestOpen_SQLite(t *testing.T) {
	cfg := testConfig(config.BackendSQLite)
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "cart.db")
	in, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer in.Close()

	ctx := context.Background()
	require.NoError(t, in.Store.Set(ctx, "k", "v"))
	v, ok, err := in.Store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), testConfig("etcd"), zap.NewNop())
	assert.Error(t, err)
}

func TestDialer_RedisNeedsClient(t *testing.T) {
	in := &Infra{}
	_, err := in.Dialer(config.ChannelConfig{Transport: config.TransportRedis}, zap.NewNop())
	assert.Error(t, err)
}
