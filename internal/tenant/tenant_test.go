package tenant

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/forbearing/wasmrt/config"
	"github.com/forbearing/wasmrt/internal/abi"
	"github.com/forbearing/wasmrt/internal/wasmtest"
	"github.com/forbearing/wasmrt/logger"
	"github.com/forbearing/wasmrt/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestMain populates the subsystem loggers and metrics the tenant and
// everything it owns write to, which the process otherwise sets up
// during bootstrap.
func TestMain(m *testing.M) {
	nop := zap.NewNop().Sugar()
	logger.Runtime, logger.Worker, logger.ModuleCache = nop, nop, nop
	logger.Bridge, logger.Database = nop, nop
	if err := metrics.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func useInMemorySqlite(t *testing.T) {
	t.Helper()
	prev := config.App
	config.App = new(config.Config)
	config.App.Database.Type = config.DBSqlite
	config.App.Sqlite.IsMemory = true
	config.App.Database.MaxOpenConns = 4
	config.App.Database.MaxIdleConns = 2
	t.Cleanup(func() { config.App = prev })
}

func TestTenantWorkerLazyBuildsAndReuses(t *testing.T) {
	useInMemorySqlite(t)

	dir := t.TempDir()
	modDir := filepath.Join(dir, "mydb")
	require.NoError(t, os.MkdirAll(modDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modDir, "greeting.wasm"), []byte("greeting-module"), 0o644))

	engine := wasmtest.NewFakeEngine()
	engine.Register("greeting-module", &wasmtest.Behavior{
		InitHookNames: []string{"_edgedb_sdk_pre_init"},
		OnInit: func(hook string, hostCall wasmtest.HostCaller, registerHandler func()) {
			registerHandler()
		},
		OnRequest: func(hostCall wasmtest.HostCaller, req abi.Request) abi.Response {
			return abi.Response{StatusCode: 200}
		},
	})

	ten, err := New(engine, dir, 64, abi.LevelInfo)
	require.NoError(t, err)
	t.Cleanup(func() { ten.Close(context.Background()) })

	w1, err := ten.Worker(context.Background(), "mydb", "greeting")
	require.NoError(t, err)
	w2, err := ten.Worker(context.Background(), "mydb", "greeting")
	require.NoError(t, err)
	assert.Same(t, w1, w2)

	assert.Equal(t, modDir, ten.ModuleDir("mydb"))
}

func TestTenantWorkerUnknownModule(t *testing.T) {
	useInMemorySqlite(t)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "mydb"), 0o755))

	ten, err := New(wasmtest.NewFakeEngine(), dir, 64, abi.LevelInfo)
	require.NoError(t, err)
	t.Cleanup(func() { ten.Close(context.Background()) })

	_, err = ten.Worker(context.Background(), "mydb", "nosuch")
	assert.Error(t, err)
}
