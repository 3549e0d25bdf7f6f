// Package wasmengine wraps the WebAssembly engine as the opaque
// capability spec.md §1 lists as an out-of-scope collaborator. Every
// other package in this host talks to wasmengine.Engine, never to
// wazero directly, so the engine stays swappable and so tests can run
// against a fake that behaves like a compiled guest without a real
// WASM toolchain (SPEC_FULL.md's supplemented integration fixtures).
package wasmengine

import "context"

// CompiledModule is an engine-compiled, not-yet-instantiated artifact.
// Its identity (pointer equality) is what the module cache's weak
// references track.
type CompiledModule interface {
	// Name returns the module's declared name, if any.
	Name() string
}

// Instance is one instantiated guest, linked against whatever host
// modules were registered on the Engine that produced it.
type Instance interface {
	// ExportedFunctionNames returns every function the guest exports,
	// used to find init hooks and the HTTP handler by name/prefix
	// (spec.md §9 "Dynamic dispatch across the FFI boundary").
	ExportedFunctionNames() []string
	// Invoke calls a guest export by name, passing payload (already
	// msgpack-encoded by the caller) across the (ptr, len) boundary
	// and returning whatever bytes the export wrote back. Niladic
	// init hooks are called with a nil payload and their return value
	// is ignored.
	Invoke(ctx context.Context, name string, payload []byte) ([]byte, error)
	// Close tears down the instance and its linear memory.
	Close(ctx context.Context) error
}

// HostFunc is one function contributed to a host module, receiving
// the instance it's bound to (so it can reach that instance's memory)
// plus the raw (ptr, len) pairs already decoded into a byte slice by
// the engine's function-builder glue, and returning the bytes to
// write back plus an error.
type HostFunc func(ctx context.Context, inst Instance, payload []byte) ([]byte, error)

// HostModule is a named collection of host functions the guest can
// import, e.g. the log, database, or http bridges.
type HostModule struct {
	Name      string
	Functions map[string]HostFunc
}

// Engine is the swappable capability this host depends on. The
// bridges' host modules are handed to Instantiate, which links them
// before the guest is instantiated; the module cache asks it to
// compile bytes into a CompiledModule.
type Engine interface {
	// Compile compiles wasm bytes into a CompiledModule.
	Compile(ctx context.Context, wasmBytes []byte) (CompiledModule, error)
	// Instantiate links host modules against a CompiledModule and
	// returns a running Instance.
	Instantiate(ctx context.Context, mod CompiledModule, hostModules []HostModule) (Instance, error)
	// Close releases engine-wide resources (cached host module
	// builders, compilation caches).
	Close(ctx context.Context) error
}
