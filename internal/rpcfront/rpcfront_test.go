package rpcfront

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/forbearing/wasmrt/config"
	"github.com/forbearing/wasmrt/internal/abi"
	"github.com/forbearing/wasmrt/internal/tenant"
	"github.com/forbearing/wasmrt/internal/wasmtest"
	"github.com/forbearing/wasmrt/logger"
	"github.com/forbearing/wasmrt/metrics"
	"go.uber.org/zap"
)

// TestMain populates the subsystem loggers and metrics the transport
// and the tenant behind it write to, which the process otherwise sets
// up during bootstrap.
func TestMain(m *testing.M) {
	nop := zap.NewNop().Sugar()
	logger.Runtime, logger.RPC, logger.Worker, logger.ModuleCache = nop, nop, nop, nop
	logger.Bridge, logger.Database = nop, nop
	if err := metrics.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestParsePath(t *testing.T) {
	cases := []struct {
		path             string
		database, module string
		rest             string
		ok               bool
	}{
		{"/db/mydb/wasm/greeting", "mydb", "greeting", "/", true},
		{"/db/mydb/wasm/greeting/hello", "mydb", "greeting", "/hello", true},
		{"/db/mydb/wasm/greeting/a/b?x=1", "mydb", "greeting", "/a/b?x=1", true},
		{"/db/mydb/wasm/greeting?x=1", "mydb", "greeting", "/?x=1", true},
		{"/nope", "", "", "", false},
		{"/db//wasm/greeting", "", "", "", false},
		{"/db/mydb/wasm/", "", "", "", false},
	}
	for _, c := range cases {
		database, module, rest, ok := parsePath(c.path)
		assert.Equalf(t, c.ok, ok, "path %q", c.path)
		if !c.ok {
			continue
		}
		assert.Equal(t, c.database, database, c.path)
		assert.Equal(t, c.module, module, c.path)
		assert.Equal(t, c.rest, rest, c.path)
	}
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	prev := config.App
	config.App = new(config.Config)
	config.App.Database.Type = config.DBSqlite
	config.App.Sqlite.IsMemory = true
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
			return abi.Response{StatusCode: 200, Body: []byte("hello from " + req.URI)}
		},
	})

	ten, err := tenant.New(engine, dir, 64, abi.LevelInfo)
	require.NoError(t, err)

	sockPath := filepath.Join(dir, "wasmrt.sock")
	srv, err := New(sockPath, ten)
	require.NoError(t, err)
	go srv.Run()
	t.Cleanup(func() { srv.Stop() })

	return srv, sockPath
}

func roundTrip(t *testing.T, sockPath string, env Envelope) Response {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", sockPath)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	body, err := msgpack.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, writeFrame(conn, body))

	respFrame, err := readFrame(conn)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, msgpack.Unmarshal(respFrame, &resp))
	return resp
}

func TestDispatchHTTP(t *testing.T) {
	_, sockPath := newTestServer(t)
	resp := roundTrip(t, sockPath, Envelope{
		Kind: "http",
		HTTP: &HTTPRequest{Method: "GET", URL: "/db/mydb/wasm/greeting/hi"},
	})
	require.True(t, resp.Success, resp.Error)
	require.NotNil(t, resp.HTTP)
	assert.EqualValues(t, 200, resp.HTTP.StatusCode)
	assert.Equal(t, "hello from /hi", string(resp.HTTP.Body))
}

func TestDispatchHTTPUnknownModule(t *testing.T) {
	_, sockPath := newTestServer(t)
	resp := roundTrip(t, sockPath, Envelope{
		Kind: "http",
		HTTP: &HTTPRequest{Method: "GET", URL: "/db/mydb/wasm/nosuch"},
	})
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestDispatchSetDirectory(t *testing.T) {
	_, sockPath := newTestServer(t)
	resp := roundTrip(t, sockPath, Envelope{
		Kind:         "set_directory",
		SetDirectory: &SetDirectoryRequest{Database: "mydb", Directory: "/tmp/elsewhere"},
	})
	assert.True(t, resp.Success, resp.Error)
}

func TestDispatchUnknownKind(t *testing.T) {
	_, sockPath := newTestServer(t)
	resp := roundTrip(t, sockPath, Envelope{Kind: "bogus"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unknown envelope kind")
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello world")
	require.NoError(t, writeFrame(&buf, payload))
	got, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
