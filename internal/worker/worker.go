// Package worker implements the Worker and Worker Registry (spec.md
// §4.2, §4.3): one guest instance per (database, module) identity,
// built by linking the log/database/http bridges against a compiled
// module and running its init-export sequence, then dispatching
// handle_request calls until a trap poisons it.
package worker

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/forbearing/wasmrt/internal/abi"
	"github.com/forbearing/wasmrt/internal/bridge/dbbridge"
	"github.com/forbearing/wasmrt/internal/bridge/httpbridge"
	"github.com/forbearing/wasmrt/internal/bridge/logbridge"
	"github.com/forbearing/wasmrt/internal/dbclient"
	"github.com/forbearing/wasmrt/internal/modulecache"
	"github.com/forbearing/wasmrt/internal/wasmengine"
	"github.com/forbearing/wasmrt/logger"
	"github.com/forbearing/wasmrt/metrics"
)

// ErrNoHandler is returned by HandleRequest when the guest never
// called register_handler during init (spec.md §4.3 step 6: "a module
// with no registered handler answers every request with 404").
var ErrNoHandler = errors.New("worker: module registered no HTTP handler")

// preInitHook, postInitHook, and initHookPrefix name the init-export
// sequence spec.md §4.3 step 7 requires: pre_init, then every
// init_* export in ascending name order, then post_init.
const (
	preInitHook    = "_edgedb_sdk_pre_init"
	postInitHook   = "_edgedb_sdk_post_init"
	initHookPrefix = "_edgedb_sdk_init_"
)

// Worker is one instantiated guest bound to one (database, module)
// identity. Its store is exclusive-locked for the duration of a guest
// call (spec.md §5): HandleRequest holds callMu across the entire
// dispatch, including any poison-triggered rebuild, so concurrent
// requests to the same worker are serialized rather than racing on the
// guest's linear memory. A trap poisons the worker; the failing request
// is not retried, and the next call reinstantiates before dispatching.
type Worker struct {
	database   string
	module     string
	modulePath string
	engine     wasmengine.Engine
	cache      *modulecache.Cache
	pool       *dbclient.Pool
	maxLevel   abi.Level

	// callMu serializes HandleRequest end to end. It is distinct from
	// mu, which only guards the short field reads/swaps below; callMu
	// must never be taken from inside code that already holds mu.
	callMu sync.Mutex

	mu          sync.Mutex
	instance    wasmengine.Instance
	http        *httpbridge.Bridge
	db          *dbbridge.Bridge
	poisoned    bool
	boundModule *modulecache.Module
}

// New returns a Worker identity that has not yet been built.
func New(database, module, modulePath string, engine wasmengine.Engine, cache *modulecache.Cache, pool *dbclient.Pool, maxLevel abi.Level) *Worker {
	return &Worker{
		database:   database,
		module:     module,
		modulePath: modulePath,
		engine:     engine,
		cache:      cache,
		pool:       pool,
		maxLevel:   maxLevel,
	}
}

// Build compiles (or reuses a cached compile of) the worker's module,
// links a fresh set of bridges, instantiates the guest, and runs its
// init-export sequence (spec.md §4.3 steps 1-8). It must be called
// before HandleRequest, and is called again by HandleRequest after a
// trap poisons the worker.
func (w *Worker) Build(ctx context.Context) error {
	mod, err := w.cache.Get(ctx, w.modulePath)
	if err != nil {
		return errors.Wrapf(err, "worker: load module %q", w.modulePath)
	}
	return w.buildFromModule(ctx, mod)
}

// BuildModule is Build for a caller that has already resolved the
// current *modulecache.Module, such as Registry.Get's reload check,
// avoiding a redundant cache lookup.
func (w *Worker) BuildModule(ctx context.Context, mod *modulecache.Module) error {
	return w.buildFromModule(ctx, mod)
}

// BoundModule returns the Module this worker's live instance was built
// from, or nil if it has not been built yet. Registry.Get compares
// this by pointer identity against a freshly resolved Module to decide
// whether the worker needs to reload (spec.md §4.2).
func (w *Worker) BoundModule() *modulecache.Module {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.boundModule
}

func (w *Worker) buildFromModule(ctx context.Context, mod *modulecache.Module) error {
	logBridge := logbridge.New(w.database, w.module, w.maxLevel)
	dbBridge := dbbridge.New(w.pool)
	httpBridge := httpbridge.New()

	inst, err := w.engine.Instantiate(ctx, mod.Compiled, []wasmengine.HostModule{
		logBridge.HostModule(),
		dbBridge.HostModule(),
		httpBridge.HostModule(),
	})
	if err != nil {
		return errors.Wrapf(err, "worker: instantiate %q", w.module)
	}

	if err := runInitSequence(ctx, inst); err != nil {
		inst.Close(ctx)
		return err
	}
	if err := httpBridge.Err(); err != nil {
		inst.Close(ctx)
		return err
	}

	w.mu.Lock()
	prev := w.instance
	prevDB := w.db
	w.instance = inst
	w.http = httpBridge
	w.db = dbBridge
	w.poisoned = false
	w.boundModule = mod
	w.mu.Unlock()

	if prev != nil {
		prevDB.Close()
		prev.Close(ctx)
	}
	return nil
}

func runInitSequence(ctx context.Context, inst wasmengine.Instance) error {
	exported := make(map[string]bool)
	for _, name := range inst.ExportedFunctionNames() {
		exported[name] = true
	}

	var midHooks []string
	for name := range exported {
		if strings.HasPrefix(name, initHookPrefix) {
			midHooks = append(midHooks, name)
		}
	}
	sort.Strings(midHooks)

	hooks := make([]string, 0, len(midHooks)+2)
	if exported[preInitHook] {
		hooks = append(hooks, preInitHook)
	}
	hooks = append(hooks, midHooks...)
	if exported[postInitHook] {
		hooks = append(hooks, postInitHook)
	}

	for _, hook := range hooks {
		if _, err := inst.Invoke(ctx, hook, nil); err != nil {
			return errors.Wrapf(err, "worker: init hook %q", hook)
		}
	}
	return nil
}

// HandleRequest dispatches req to the guest's handle_request export.
// It holds callMu for the entire call, including any poison-triggered
// rebuild, so concurrent requests to the same worker are serialized
// rather than running handle_request on the same guest instance at
// once (spec.md §5, §8's pairwise-non-overlapping property). A trap
// during dispatch poisons the worker and is reinstantiated lazily on
// the next call (spec.md §4.3's "poison on trap" rule), not
// synchronously after the failing call, so the failing request itself
// still observes the error.
func (w *Worker) HandleRequest(ctx context.Context, req abi.Request) (abi.Response, error) {
	w.callMu.Lock()
	defer w.callMu.Unlock()

	w.mu.Lock()
	poisoned := w.poisoned
	inst := w.instance
	httpBridge := w.http
	w.mu.Unlock()

	if poisoned || inst == nil {
		if err := w.Build(ctx); err != nil {
			return abi.Response{}, err
		}
		metrics.WorkerReinstantiationsTotal.WithLabelValues(w.database).Inc()
		w.mu.Lock()
		inst = w.instance
		httpBridge = w.http
		w.mu.Unlock()
	}

	if !httpBridge.Registered() {
		return abi.Response{}, ErrNoHandler
	}

	payload, err := httpbridge.EncodeRequest(req)
	if err != nil {
		return abi.Response{}, errors.Wrap(err, "worker: encode request")
	}

	out, err := inst.Invoke(ctx, "handle_request", payload)
	if err != nil {
		w.poison()
		logger.Worker.Errorw("guest trapped handling request", "database", w.database, "module", w.module, "error", err)
		return abi.Response{}, errors.Wrapf(err, "worker: %s/%s trapped", w.database, w.module)
	}

	resp, err := httpbridge.DecodeResponse(out)
	if err != nil {
		w.poison()
		return abi.Response{}, errors.Wrap(err, "worker: decode response")
	}
	return resp, nil
}

func (w *Worker) poison() {
	w.mu.Lock()
	w.poisoned = true
	w.mu.Unlock()
}

// Close tears down the worker's instance and releases any connections
// its database bridge still holds. It waits for any in-flight
// HandleRequest to finish first, so a reload that replaces a live
// worker never closes its instance out from under a running guest
// call.
func (w *Worker) Close(ctx context.Context) {
	w.callMu.Lock()
	defer w.callMu.Unlock()

	w.mu.Lock()
	inst := w.instance
	dbBridge := w.db
	w.instance = nil
	w.mu.Unlock()

	if dbBridge != nil {
		dbBridge.Close()
	}
	if inst != nil {
		inst.Close(ctx)
	}
}

// ModulePath returns the wasm file path this worker was built from,
// used by the registry's purge-on-removal sweep.
func (w *Worker) ModulePath() string { return w.modulePath }
