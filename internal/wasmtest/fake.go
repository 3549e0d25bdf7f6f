// Package wasmtest provides a fake wasmengine.Engine that behaves
// like a compiled guest without a real WASM toolchain, standing in
// for the original_source/examples/greeting and conflicting-counter
// guest programs (SPEC_FULL.md's supplemented integration fixtures).
// It lets worker lifecycle, routing, and retry-surfacing logic be
// exercised end to end in tests.
package wasmtest

import (
	"context"
	"sync"

	"github.com/forbearing/wasmrt/internal/abi"
	"github.com/forbearing/wasmrt/internal/bridge/httpbridge"
	"github.com/forbearing/wasmrt/internal/wasmengine"
	"github.com/vmihailenco/msgpack/v5"
)

// HostCaller invokes a named host-module function with a payload,
// letting fake guest behavior exercise the log/database bridges the
// same way a real guest's imports would.
type HostCaller func(module, function string, payload []byte) ([]byte, error)

// Behavior is the scriptable guest body a FakeEngine's instance runs.
type Behavior struct {
	// InitHookNames lists init exports in call order, matching a real
	// guest's pre/init*/post sequencing.
	InitHookNames []string
	// OnInit runs once per init hook name. registerHandler must be
	// called during one of these if the guest serves HTTP.
	OnInit func(hook string, hostCall HostCaller, registerHandler func())
	// OnRequest produces the response for a handle_request call, once
	// a handler has been registered.
	OnRequest func(hostCall HostCaller, req abi.Request) abi.Response
}

// FakeEngine implements wasmengine.Engine over in-memory Behaviors
// keyed by an opaque "module path" baked into the compiled bytes.
type FakeEngine struct {
	mu        sync.Mutex
	behaviors map[string]*Behavior
}

// NewFakeEngine returns an Engine whose Compile call looks up a
// Behavior previously registered under the given key.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{behaviors: make(map[string]*Behavior)}
}

// Register associates key with b. Compile is later called with
// []byte(key) standing in for real wasm bytes.
func (e *FakeEngine) Register(key string, b *Behavior) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.behaviors[key] = b
}

func (e *FakeEngine) Compile(_ context.Context, wasmBytes []byte) (wasmengine.CompiledModule, error) {
	key := string(wasmBytes)
	e.mu.Lock()
	b, ok := e.behaviors[key]
	e.mu.Unlock()
	if !ok {
		return nil, errNoSuchModule{key: key}
	}
	return &fakeModule{key: key, behavior: b}, nil
}

func (e *FakeEngine) Instantiate(_ context.Context, mod wasmengine.CompiledModule, hostModules []wasmengine.HostModule) (wasmengine.Instance, error) {
	fm := mod.(*fakeModule)
	return &fakeInstance{behavior: fm.behavior, hostModules: hostModules}, nil
}

func (e *FakeEngine) Close(context.Context) error { return nil }

type errNoSuchModule struct{ key string }

func (e errNoSuchModule) Error() string { return "wasmtest: no behavior registered for " + e.key }

type fakeModule struct {
	key      string
	behavior *Behavior
}

func (m *fakeModule) Name() string { return m.key }

// fakeInstance drives Behavior as if it were a real guest.
type fakeInstance struct {
	mu          sync.Mutex
	behavior    *Behavior
	hostModules []wasmengine.HostModule
	handlerSet  bool
}

func (i *fakeInstance) ExportedFunctionNames() []string {
	names := append([]string{}, i.behavior.InitHookNames...)
	return append(names, "handle_request")
}

func (i *fakeInstance) Invoke(ctx context.Context, name string, payload []byte) ([]byte, error) {
	if name == "handle_request" {
		if i.behavior.OnRequest == nil {
			return nil, errNoSuchModule{key: "handle_request"}
		}
		var req abi.Request
		if err := msgpack.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		resp := i.behavior.OnRequest(i.call(ctx), req)
		return msgpack.Marshal(resp)
	}

	if i.behavior.OnInit != nil {
		hostCall := i.call(ctx)
		i.behavior.OnInit(name, hostCall, func() {
			if _, err := hostCall(httpbridge.ModuleName, "register_handler", nil); err != nil {
				return
			}
			i.mu.Lock()
			defer i.mu.Unlock()
			i.handlerSet = true
		})
	}
	return nil, nil
}

func (i *fakeInstance) call(ctx context.Context) HostCaller {
	return func(module, function string, payload []byte) ([]byte, error) {
		for _, hm := range i.hostModules {
			if hm.Name != module {
				continue
			}
			fn, ok := hm.Functions[function]
			if !ok {
				continue
			}
			return fn(ctx, i, payload)
		}
		return nil, errNoSuchModule{key: module + "." + function}
	}
}

func (i *fakeInstance) Close(context.Context) error { return nil }

// HandlerRegistered reports whether this instance's guest body called
// RegisterHandler during init, mirroring the real worker's "HTTP
// export absent -> 404" rule (spec.md §4.3 step 6).
func (i *fakeInstance) HandlerRegistered() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.handlerSet
}
