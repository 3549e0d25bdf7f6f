package modulecache

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forbearing/wasmrt/internal/wasmengine"
	"github.com/forbearing/wasmrt/logger"
	"github.com/forbearing/wasmrt/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestMain populates the subsystem loggers and metrics the cache
// writes to, which the process otherwise sets up during bootstrap.
func TestMain(m *testing.M) {
	logger.ModuleCache = zap.NewNop().Sugar()
	if err := metrics.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type countingModule struct{ name string }

func (m countingModule) Name() string { return m.name }

type countingEngine struct {
	compiles atomic.Int32
}

func (e *countingEngine) Compile(context.Context, []byte) (wasmengine.CompiledModule, error) {
	e.compiles.Add(1)
	return countingModule{name: "module"}, nil
}

func (e *countingEngine) Instantiate(context.Context, wasmengine.CompiledModule, []wasmengine.HostModule) (wasmengine.Instance, error) {
	return nil, nil
}

func (e *countingEngine) Close(context.Context) error { return nil }

func TestGetCompilesOnceUntilMtimeChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.wasm")
	require.NoError(t, os.WriteFile(path, []byte("wasm bytes"), 0o644))

	engine := &countingEngine{}
	cache, err := New(engine, 256)
	require.NoError(t, err)

	ctx := context.Background()
	m1, err := cache.Get(ctx, path)
	require.NoError(t, err)
	m2, err := cache.Get(ctx, path)
	require.NoError(t, err)
	assert.Same(t, m1, m2)
	assert.EqualValues(t, 1, engine.compiles.Load())

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	m3, err := cache.Get(ctx, path)
	require.NoError(t, err)
	assert.NotSame(t, m1, m3)
	assert.EqualValues(t, 2, engine.compiles.Load())
}

func TestGetMissingFile(t *testing.T) {
	cache, err := New(&countingEngine{}, 256)
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), filepath.Join(t.TempDir(), "missing.wasm"))
	assert.Error(t, err)
}

func TestInvalidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.wasm")
	require.NoError(t, os.WriteFile(path, []byte("wasm bytes"), 0o644))

	cache, err := New(&countingEngine{}, 256)
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())

	cache.Invalidate(path)
	assert.Equal(t, 0, cache.Len())
}
