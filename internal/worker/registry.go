package worker

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/forbearing/wasmrt/internal/abi"
	"github.com/forbearing/wasmrt/internal/dbclient"
	"github.com/forbearing/wasmrt/internal/modulecache"
	"github.com/forbearing/wasmrt/internal/namevalidate"
	"github.com/forbearing/wasmrt/internal/wasmengine"
	"github.com/forbearing/wasmrt/logger"
	"github.com/forbearing/wasmrt/metrics"
)

// ErrInvalidModuleName rejects a module identifier before any
// filesystem lookup happens, per spec.md §4.2's name validation step.
var ErrInvalidModuleName = errors.New("worker: invalid module name")

// PoolProvider resolves the database.Pool backing a database identity,
// opening it lazily the first time a worker for that database is
// requested (spec.md §3's "created lazily" wording for Client Pools).
type PoolProvider func(database string) (*dbclient.Pool, error)

// Registry maps (database, module) identity pairs to live Workers
// (spec.md §4.2's Worker Registry entity), built lazily and reused
// across requests. A lookup takes only a read lock on one shard of the
// concurrent map; a miss uses concurrent-map's Upsert to insert exactly
// one Worker even if several goroutines race to build the same identity.
type Registry struct {
	workers   cmap.ConcurrentMap[string, *Worker]
	engine    wasmengine.Engine
	cache     *modulecache.Cache
	pools     PoolProvider
	moduleDir func(database string) string
	maxLevel  abi.Level
}

// NewRegistry returns an empty Registry. moduleDir resolves the
// directory holding a given database's wasm files.
func NewRegistry(engine wasmengine.Engine, cache *modulecache.Cache, pools PoolProvider, moduleDir func(string) string, maxLevel abi.Level) *Registry {
	return &Registry{
		workers:   cmap.New[*Worker](),
		engine:    engine,
		cache:     cache,
		pools:     pools,
		moduleDir: moduleDir,
		maxLevel:  maxLevel,
	}
}

func key(database, module string) string { return database + "\x00" + module }

// Get returns the Worker for (database, module), building and
// registering it on first use. It returns a Worker bound to the
// current Module: if a worker is already registered and its bound
// Module is identical by pointer identity to the one modulecache.Get
// returns right now, that worker is reused; otherwise a new Worker is
// built and swapped in, and the stale one is closed (spec.md §4.2, §8
// scenario 5). A module name that fails validation or whose wasm file
// does not exist under the database's module directory returns an
// error the HTTP front end maps to 404 (spec.md §8 scenario 6).
func (r *Registry) Get(ctx context.Context, database, module string) (*Worker, error) {
	if !namevalidate.Valid(module) {
		return nil, ErrInvalidModuleName
	}
	path := filepath.Join(r.moduleDir(database), namevalidate.WasmFileName(module))

	mod, err := r.cache.Get(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "worker: module %q not found", module)
	}

	k := key(database, module)
	if w, ok := r.workers.Get(k); ok && w.BoundModule() == mod {
		return w, nil
	}

	pool, err := r.pools(database)
	if err != nil {
		return nil, errors.Wrapf(err, "worker: open pool for database %q", database)
	}

	built := New(database, module, path, r.engine, r.cache, pool, r.maxLevel)
	if err := built.BuildModule(ctx, mod); err != nil {
		return nil, err
	}

	var inserted, replaced bool
	var stale *Worker
	winner := r.workers.Upsert(k, built, func(exists bool, valueInMap, newValue *Worker) *Worker {
		if exists {
			if valueInMap.BoundModule() == mod {
				return valueInMap
			}
			replaced = true
			stale = valueInMap
			return newValue
		}
		inserted = true
		return newValue
	})

	switch {
	case winner != built:
		built.Close(ctx)
	case replaced:
		stale.Close(ctx)
		logger.Worker.Infow("worker reloaded after module change", "database", database, "module", module)
	case inserted:
		metrics.ActiveWorkers.Inc()
		logger.Worker.Infow("worker registered", "database", database, "module", module)
	}
	return winner, nil
}

// PurgeMissing drops every registered worker for database whose
// backing wasm file no longer exists, closing it first (spec.md §4.2
// "the registry purges entries whose module file disappeared when the
// module directory changes").
func (r *Registry) PurgeMissing(ctx context.Context, database string) {
	var stale []string
	for item := range r.workers.IterBuffered() {
		w := item.Val
		if w.database != database {
			continue
		}
		if _, err := os.Stat(w.ModulePath()); err != nil {
			stale = append(stale, item.Key)
		}
	}
	for _, k := range stale {
		w, ok := r.workers.Get(k)
		if !ok {
			continue
		}
		r.workers.Remove(k)
		metrics.ActiveWorkers.Dec()
		w.Close(ctx)
		logger.Worker.Infow("worker purged", "database", w.database, "module", w.module)
	}
}

// PurgeDatabase drops and closes every registered worker for database
// unconditionally, used when the database's module directory is
// repointed at runtime (the supplemented set_directory RPC) so the
// next lookup rebuilds against the new directory.
func (r *Registry) PurgeDatabase(ctx context.Context, database string) {
	var stale []string
	for item := range r.workers.IterBuffered() {
		if item.Val.database == database {
			stale = append(stale, item.Key)
		}
	}
	for _, k := range stale {
		w, ok := r.workers.Get(k)
		if !ok {
			continue
		}
		r.workers.Remove(k)
		metrics.ActiveWorkers.Dec()
		w.Close(ctx)
	}
}

// Close tears down every registered worker, for process shutdown.
func (r *Registry) Close(ctx context.Context) {
	for item := range r.workers.IterBuffered() {
		r.workers.Remove(item.Key)
		item.Val.Close(ctx)
		metrics.ActiveWorkers.Dec()
	}
}

// Count reports the number of live workers, for diagnostics and tests.
func (r *Registry) Count() int { return r.workers.Count() }
