// Package tenant implements the Tenant entity (spec.md §2 item 9,
// §3): the process-wide owner of the WebAssembly engine capability,
// the per-database Client Pool map, the Module Cache, and the Worker
// Registry. One Tenant exists per process; a single binary serves
// every database it is asked for under its configured module root.
package tenant

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/forbearing/wasmrt/internal/abi"
	"github.com/forbearing/wasmrt/internal/dbclient"
	"github.com/forbearing/wasmrt/internal/modulecache"
	"github.com/forbearing/wasmrt/internal/wasmengine"
	"github.com/forbearing/wasmrt/internal/worker"
	"github.com/forbearing/wasmrt/logger"
	"github.com/forbearing/wasmrt/metrics"
)

// Tenant owns every long-lived resource this host shares across
// requests for every database it serves.
type Tenant struct {
	engine   wasmengine.Engine
	cache    *modulecache.Cache
	registry *worker.Registry
	wasmRoot string

	mu        sync.Mutex
	pools     map[string]*dbclient.Pool
	overrides map[string]string
}

// New builds a Tenant. wasmRoot is the directory under which each
// database's modules live in a same-named subdirectory
// (wasmRoot/{database}/*.wasm); maxTrackedModules bounds the module
// cache's path metadata (config.App.Wasm.MaxTrackedModules);
// guestMaxLevel is the Log v1 max_level every worker reports back to
// its guest.
func New(engine wasmengine.Engine, wasmRoot string, maxTrackedModules int, guestMaxLevel abi.Level) (*Tenant, error) {
	cache, err := modulecache.New(engine, maxTrackedModules)
	if err != nil {
		return nil, errors.Wrap(err, "tenant: build module cache")
	}

	t := &Tenant{
		engine:    engine,
		cache:     cache,
		wasmRoot:  wasmRoot,
		pools:     make(map[string]*dbclient.Pool),
		overrides: make(map[string]string),
	}
	t.registry = worker.NewRegistry(engine, cache, t.pool, t.ModuleDir, guestMaxLevel)
	return t, nil
}

// ModuleDir resolves the wasm directory for database: the directory
// set by the most recent SetDirectory call for database, or
// wasmRoot/{database} otherwise.
func (t *Tenant) ModuleDir(database string) string {
	t.mu.Lock()
	dir, ok := t.overrides[database]
	t.mu.Unlock()
	if ok {
		return dir
	}
	return filepath.Join(t.wasmRoot, database)
}

// SetDirectory repoints database's module directory at dir and purges
// every worker already registered for database, so the next lookup
// rebuilds against the new directory (the supplemented set_directory
// control operation exposed by internal/rpcfront).
func (t *Tenant) SetDirectory(ctx context.Context, database, dir string) {
	t.mu.Lock()
	t.overrides[database] = dir
	t.mu.Unlock()
	t.registry.PurgeDatabase(ctx, database)
	logger.Runtime.Infow("database module directory changed", "database", database, "dir", dir)
}

// pool returns database's Client Pool, opening it lazily on first use
// and caching it for the Tenant's lifetime (spec.md §3's "created
// lazily; lives for the tenant's lifetime").
func (t *Tenant) pool(database string) (*dbclient.Pool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.pools[database]; ok {
		return p, nil
	}
	p, err := dbclient.Open(database)
	if err != nil {
		return nil, err
	}
	t.pools[database] = p
	logger.Runtime.Infow("opened client pool", "database", database)
	return p, nil
}

// Worker returns the live Worker for (database, module), building it
// on first use.
func (t *Tenant) Worker(ctx context.Context, database, module string) (*worker.Worker, error) {
	return t.registry.Get(ctx, database, module)
}

// RefreshDirectory purges registered workers whose wasm file under
// database's module directory disappeared (spec.md §4.2's
// purge-on-directory-change), for callers watching the module root
// with fsnotify or a periodic scan.
func (t *Tenant) RefreshDirectory(ctx context.Context, database string) {
	t.registry.PurgeMissing(ctx, database)
}

// Close tears down every worker and pool this Tenant owns, for process
// shutdown.
func (t *Tenant) Close(ctx context.Context) error {
	t.registry.Close(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	for database, p := range t.pools {
		if cerr := p.Close(); cerr != nil {
			err = errors.Wrapf(cerr, "tenant: close pool %q", database)
			logger.Runtime.Errorw("close client pool", "database", database, "error", cerr)
		}
		metrics.DBConnectionsOpen.Set(0)
	}
	return err
}
