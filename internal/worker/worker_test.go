package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forbearing/wasmrt/internal/abi"
	"github.com/forbearing/wasmrt/internal/modulecache"
	"github.com/forbearing/wasmrt/internal/wasmtest"
	"github.com/forbearing/wasmrt/logger"
	"github.com/forbearing/wasmrt/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestMain populates the subsystem loggers and metrics the worker,
// registry, bridges and module cache write to, which the process
// otherwise sets up during bootstrap.
func TestMain(m *testing.M) {
	nop := zap.NewNop().Sugar()
	logger.Worker, logger.ModuleCache, logger.Bridge = nop, nop, nop
	if err := metrics.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func writeModule(t *testing.T, dir, name, key string) string {
	t.Helper()
	path := filepath.Join(dir, name+".wasm")
	require.NoError(t, os.WriteFile(path, []byte(key), 0o644))
	return path
}

func TestHandleRequestGreeting(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "greeting", "greeting-module")

	engine := wasmtest.NewFakeEngine()
	engine.Register("greeting-module", &wasmtest.Behavior{
		InitHookNames: []string{"_edgedb_sdk_pre_init"},
		OnInit: func(hook string, hostCall wasmtest.HostCaller, registerHandler func()) {
			registerHandler()
		},
		OnRequest: func(hostCall wasmtest.HostCaller, req abi.Request) abi.Response {
			return abi.Response{StatusCode: 200, Body: []byte("hello " + req.URI)}
		},
	})
	cache, err := modulecache.New(engine, 256)
	require.NoError(t, err)

	w := New("mydb", "greeting", path, engine, cache, nil, abi.LevelInfo)
	require.NoError(t, w.Build(context.Background()))

	resp, err := w.HandleRequest(context.Background(), abi.Request{Method: "GET", URI: "/world"})
	require.NoError(t, err)
	assert.EqualValues(t, 200, resp.StatusCode)
	assert.Equal(t, "hello /world", string(resp.Body))
}

func TestHandleRequestNoHandlerRegistered(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "silent", "silent-module")

	engine := wasmtest.NewFakeEngine()
	engine.Register("silent-module", &wasmtest.Behavior{
		InitHookNames: []string{"_edgedb_sdk_pre_init"},
		OnInit:        func(string, wasmtest.HostCaller, func()) {},
	})
	cache, err := modulecache.New(engine, 256)
	require.NoError(t, err)

	w := New("mydb", "silent", path, engine, cache, nil, abi.LevelInfo)
	require.NoError(t, w.Build(context.Background()))

	_, err = w.HandleRequest(context.Background(), abi.Request{Method: "GET", URI: "/"})
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestHandleRequestPoisonedWorkerReinstantiates(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "flaky", "flaky-module")

	calls := 0
	engine := wasmtest.NewFakeEngine()
	engine.Register("flaky-module", &wasmtest.Behavior{
		InitHookNames: []string{"_edgedb_sdk_pre_init"},
		OnInit: func(hook string, hostCall wasmtest.HostCaller, registerHandler func()) {
			registerHandler()
		},
		OnRequest: func(hostCall wasmtest.HostCaller, req abi.Request) abi.Response {
			calls++
			return abi.Response{StatusCode: 200}
		},
	})
	cache, err := modulecache.New(engine, 256)
	require.NoError(t, err)

	w := New("mydb", "flaky", path, engine, cache, nil, abi.LevelInfo)
	require.NoError(t, w.Build(context.Background()))

	w.poison()
	resp, err := w.HandleRequest(context.Background(), abi.Request{Method: "GET", URI: "/"})
	require.NoError(t, err)
	assert.EqualValues(t, 200, resp.StatusCode)
	assert.Equal(t, 1, calls)
}

// TestHandleRequestSerializesConcurrentCalls proves two concurrent
// HandleRequest calls on the same worker never run the guest body at
// once (spec.md §5's exclusive-lock invariant, §8's pairwise
// non-overlapping property): a slow request must fully finish before a
// second one starts.
func TestHandleRequestSerializesConcurrentCalls(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "serial", "serial-module")

	var inFlight int32
	var overlapped atomic.Bool
	engine := wasmtest.NewFakeEngine()
	engine.Register("serial-module", &wasmtest.Behavior{
		InitHookNames: []string{"_edgedb_sdk_pre_init"},
		OnInit: func(hook string, hostCall wasmtest.HostCaller, registerHandler func()) {
			registerHandler()
		},
		OnRequest: func(hostCall wasmtest.HostCaller, req abi.Request) abi.Response {
			if atomic.AddInt32(&inFlight, 1) > 1 {
				overlapped.Store(true)
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return abi.Response{StatusCode: 200}
		},
	})
	cache, err := modulecache.New(engine, 256)
	require.NoError(t, err)

	w := New("mydb", "serial", path, engine, cache, nil, abi.LevelInfo)
	require.NoError(t, w.Build(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.HandleRequest(context.Background(), abi.Request{Method: "GET", URI: "/"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, overlapped.Load(), "handle_request ran concurrently on the same worker")
}
