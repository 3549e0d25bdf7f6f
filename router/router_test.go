package router

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/forbearing/wasmrt/config"
	"github.com/forbearing/wasmrt/internal/abi"
	"github.com/forbearing/wasmrt/internal/tenant"
	"github.com/forbearing/wasmrt/internal/wasmtest"
	"github.com/forbearing/wasmrt/logger"
	"github.com/forbearing/wasmrt/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestMain populates the subsystem loggers and metrics the front end
// and the tenant behind it write to, which the process otherwise sets
// up during bootstrap.
func TestMain(m *testing.M) {
	nop := zap.NewNop().Sugar()
	logger.Runtime, logger.Router, logger.Worker, logger.ModuleCache = nop, nop, nop, nop
	logger.Bridge, logger.Database = nop, nop
	logger.Gin = zap.NewNop()
	if err := metrics.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func newTestTenant(t *testing.T, extra func(dir string, engine *wasmtest.FakeEngine)) (*tenant.Tenant, string) {
	t.Helper()
	prev := config.App
	config.App = new(config.Config)
	config.App.Database.Type = config.DBSqlite
	config.App.Sqlite.IsMemory = true
	config.App.Server.ReadTimeout = 30e9
	config.App.Server.WriteTimeout = 30e9
	config.App.Server.ShutdownTimeout = 15e9
	t.Cleanup(func() { config.App = prev })

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
			return abi.Response{
				StatusCode: 200,
				Headers:    []abi.Header{{Name: []byte("Content-Type"), Value: []byte("text/plain")}},
				Body:       []byte("hello from " + req.URI),
			}
		},
	})
	if extra != nil {
		extra(modDir, engine)
	}

	ten, err := tenant.New(engine, dir, 64, abi.LevelInfo)
	require.NoError(t, err)
	return ten, dir
}

func TestDispatchGreeting(t *testing.T) {
	ten, _ := newTestTenant(t, nil)
	require.NoError(t, Init(ten))

	req := httptest.NewRequest(http.MethodGet, "/db/mydb/wasm/greeting/hello?x=1", nil)
	rec := httptest.NewRecorder()
	root.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello from /hello?x=1", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
}

func TestDispatchUnknownModule404(t *testing.T) {
	ten, _ := newTestTenant(t, nil)
	require.NoError(t, Init(ten))

	req := httptest.NewRequest(http.MethodGet, "/db/mydb/wasm/nosuch", nil)
	rec := httptest.NewRecorder()
	root.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDispatchNoHandlerRegistered404(t *testing.T) {
	ten, _ := newTestTenant(t, func(modDir string, engine *wasmtest.FakeEngine) {
		require.NoError(t, os.WriteFile(filepath.Join(modDir, "silent.wasm"), []byte("silent-module"), 0o644))
		engine.Register("silent-module", &wasmtest.Behavior{
			InitHookNames: []string{"_edgedb_sdk_pre_init"},
			OnInit:        func(string, wasmtest.HostCaller, func()) {},
		})
	})
	require.NoError(t, Init(ten))

	req := httptest.NewRequest(http.MethodGet, "/db/mydb/wasm/silent", nil)
	rec := httptest.NewRecorder()
	root.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
