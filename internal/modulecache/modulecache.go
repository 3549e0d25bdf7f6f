// Package modulecache implements the Module Cache (spec.md §4.1): a
// per-path cell holding a weak reference to a compiled wasm Module,
// recompiled at most once concurrently per path (singleflight) and
// invalidated when the file's mtime moves, grounded on the
// singleflight-guarded, mtime-checked lazy cache pattern from
// other_examples' adept-framework tenant cache.
package modulecache

import (
	"context"
	"os"
	"sync"
	"time"
	"weak"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/forbearing/wasmrt/internal/wasmengine"
	"github.com/forbearing/wasmrt/logger"
	"github.com/forbearing/wasmrt/metrics"
)

// Module is a compiled wasm module plus the mtime it was compiled
// against, used to detect staleness.
type Module struct {
	Path     string
	Compiled wasmengine.CompiledModule
	ModTime  time.Time
}

// cell is the per-path one-shot slot: a mutex guarding a weak pointer
// to the last Module compiled for this path.
type cell struct {
	mu   sync.Mutex
	weak weak.Pointer[Module]
}

// Cache is the Module Cache, one per Tenant (spec.md §3's Module Cache
// entity: "one per tenant; keyed by module path").
type Cache struct {
	engine wasmengine.Engine
	sfg    singleflight.Group
	cells  *lru.Cache[string, *cell]
}

// New returns a Cache that compiles modules using engine. maxTracked
// bounds how many module paths' metadata the cache remembers at once
// (config.App.Wasm.MaxTrackedModules); it is not a cap on live
// compiled modules, which are reclaimed by the garbage collector once
// nothing holds a strong reference (spec.md §4.1 "the cache does not
// keep a module alive by itself").
func New(engine wasmengine.Engine, maxTracked int) (*Cache, error) {
	if maxTracked <= 0 {
		maxTracked = 256
	}
	cells, err := lru.New[string, *cell](maxTracked)
	if err != nil {
		return nil, err
	}
	return &Cache{engine: engine, cells: cells}, nil
}

// Get returns the compiled Module for path, compiling it if this is
// the first lookup, the file's mtime has moved since the last compile,
// or the weak reference to the previous compile has been collected.
// Concurrent callers for the same path share one compile via
// singleflight, matching spec.md §4.1's "at most one concurrent
// compile per path".
func (c *Cache) Get(ctx context.Context, path string) (*Module, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	mtime := info.ModTime()

	cl, ok := c.cells.Get(path)
	if !ok {
		cl = &cell{}
		c.cells.Add(path, cl)
	}

	if m := cl.load(mtime); m != nil {
		metrics.ModuleCacheHits.Inc()
		return m, nil
	}
	metrics.ModuleCacheMisses.Inc()

	v, err, _ := c.sfg.Do(path, func() (any, error) {
		if m := cl.load(mtime); m != nil {
			return m, nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			metrics.ModuleCompilesTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		compiled, err := c.engine.Compile(ctx, data)
		if err != nil {
			metrics.ModuleCompilesTotal.WithLabelValues("error").Inc()
			logger.ModuleCache.Errorw("compile wasm module", "path", path, "error", err)
			return nil, err
		}

		m := &Module{Path: path, Compiled: compiled, ModTime: mtime}
		cl.store(m)
		metrics.ModuleCompilesTotal.WithLabelValues("ok").Inc()
		logger.ModuleCache.Infow("compiled wasm module", "path", path, "name", compiled.Name())
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Module), nil
}

func (cl *cell) load(mtime time.Time) *Module {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	m := cl.weak.Value()
	if m == nil || !m.ModTime.Equal(mtime) {
		return nil
	}
	return m
}

func (cl *cell) store(m *Module) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.weak = weak.Make(m)
}

// Invalidate drops path's tracked cell outright, so the next Get for
// path compiles afresh even if the previous Module is still alive.
// Nothing in the worker registry calls it: PurgeMissing and
// PurgeDatabase drop workers without touching the cache.
func (c *Cache) Invalidate(path string) {
	c.cells.Remove(path)
}

// Len reports how many module paths currently have tracked metadata,
// for diagnostics and tests.
func (c *Cache) Len() int {
	return c.cells.Len()
}
