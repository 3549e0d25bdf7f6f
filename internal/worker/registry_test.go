package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/forbearing/wasmrt/internal/abi"
	"github.com/forbearing/wasmrt/internal/dbclient"
	"github.com/forbearing/wasmrt/internal/modulecache"
	"github.com/forbearing/wasmrt/internal/wasmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, dir string, engine *wasmtest.FakeEngine) *Registry {
	t.Helper()
	cache, err := modulecache.New(engine, 256)
	require.NoError(t, err)
	return NewRegistry(engine, cache,
		func(database string) (*dbclient.Pool, error) { return nil, nil },
		func(database string) string { return dir },
		abi.LevelInfo,
	)
}

func greetingBehavior() *wasmtest.Behavior {
	return &wasmtest.Behavior{
		InitHookNames: []string{"_edgedb_sdk_pre_init"},
		OnInit: func(hook string, hostCall wasmtest.HostCaller, registerHandler func()) {
			registerHandler()
		},
		OnRequest: func(hostCall wasmtest.HostCaller, req abi.Request) abi.Response {
			return abi.Response{StatusCode: 200}
		},
	}
}

func TestRegistryGetBuildsAndReuses(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "greeting", "greeting-module")

	engine := wasmtest.NewFakeEngine()
	engine.Register("greeting-module", greetingBehavior())
	reg := newTestRegistry(t, dir, engine)

	w1, err := reg.Get(context.Background(), "mydb", "greeting")
	require.NoError(t, err)
	w2, err := reg.Get(context.Background(), "mydb", "greeting")
	require.NoError(t, err)
	assert.Same(t, w1, w2)
	assert.Equal(t, 1, reg.Count())
}

func TestRegistryGetMissingModule(t *testing.T) {
	dir := t.TempDir()
	engine := wasmtest.NewFakeEngine()
	reg := newTestRegistry(t, dir, engine)

	_, err := reg.Get(context.Background(), "mydb", "nosuch")
	assert.Error(t, err)
}

func TestRegistryGetInvalidName(t *testing.T) {
	dir := t.TempDir()
	engine := wasmtest.NewFakeEngine()
	reg := newTestRegistry(t, dir, engine)

	_, err := reg.Get(context.Background(), "mydb", "_leading_underscore")
	assert.ErrorIs(t, err, ErrInvalidModuleName)
}

func TestRegistryPurgeMissing(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "greeting", "greeting-module")

	engine := wasmtest.NewFakeEngine()
	engine.Register("greeting-module", greetingBehavior())
	reg := newTestRegistry(t, dir, engine)

	_, err := reg.Get(context.Background(), "mydb", "greeting")
	require.NoError(t, err)
	require.Equal(t, 1, reg.Count())

	require.NoError(t, os.Remove(filepath.Join(dir, "greeting.wasm")))
	reg.PurgeMissing(context.Background(), "mydb")
	assert.Equal(t, 0, reg.Count())
}

// TestRegistryGetReloadsOnModuleChange covers spec.md §8 scenario 5: a
// live worker is replaced, not reused, once its backing wasm file's
// mtime moves, even without an intervening trap.
func TestRegistryGetReloadsOnModuleChange(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "greeting", "greeting-module-v1")

	engine := wasmtest.NewFakeEngine()
	engine.Register("greeting-module-v1", greetingBehavior())
	engine.Register("greeting-module-v2", greetingBehavior())
	reg := newTestRegistry(t, dir, engine)

	w1, err := reg.Get(context.Background(), "mydb", "greeting")
	require.NoError(t, err)
	require.Equal(t, 1, reg.Count())

	// Rewrite with new "bytecode" and force the mtime forward; os.Stat
	// granularity on some filesystems is coarse enough that a fast
	// rewrite alone doesn't reliably bump ModTime.
	require.NoError(t, os.WriteFile(path, []byte("greeting-module-v2"), 0o644))
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	w2, err := reg.Get(context.Background(), "mydb", "greeting")
	require.NoError(t, err)

	assert.NotSame(t, w1, w2)
	assert.Equal(t, 1, reg.Count())

	w3, err := reg.Get(context.Background(), "mydb", "greeting")
	require.NoError(t, err)
	assert.Same(t, w2, w3)
}
