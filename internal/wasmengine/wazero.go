package wasmengine

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const i32 = api.ValueTypeI32

// wazeroEngine adapts a wazero.Runtime to Engine, registering each
// HostModule the way the wapc-go wazero engine registers its "wapc"
// host module: every function takes raw (ptr, len) i32 pairs and
// reads/writes api.Module.Memory() directly.
type wazeroEngine struct {
	runtime wazero.Runtime
}

// NewWazero constructs an Engine backed by a fresh wazero.Runtime.
func NewWazero(ctx context.Context) (Engine, error) {
	return &wazeroEngine{runtime: wazero.NewRuntime(ctx)}, nil
}

func (e *wazeroEngine) Compile(ctx context.Context, wasmBytes []byte) (CompiledModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Wrap(err, "wasmengine: compile failed")
	}
	return &wazeroModule{compiled: compiled}, nil
}

func (e *wazeroEngine) Instantiate(ctx context.Context, mod CompiledModule, hostModules []HostModule) (Instance, error) {
	wm, ok := mod.(*wazeroModule)
	if !ok {
		return nil, errors.New("wasmengine: foreign CompiledModule")
	}

	for _, hm := range hostModules {
		builder := e.runtime.NewHostModuleBuilder(hm.Name)
		for name, fn := range hm.Functions {
			bound := bindHostFunc(fn)
			builder.NewFunctionBuilder().
				WithGoModuleFunction(api.GoModuleFunc(bound), []api.ValueType{i32, i32}, []api.ValueType{i32, i32}).
				Export(name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return nil, errors.Wrapf(err, "wasmengine: link host module %q", hm.Name)
		}
	}

	cfg := wazero.NewModuleConfig().WithStartFunctions()
	guest, err := e.runtime.InstantiateModule(ctx, wm.compiled, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "wasmengine: instantiate guest")
	}
	return &wazeroInstance{mod: guest}, nil
}

func (e *wazeroEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// bindHostFunc adapts a HostFunc (byte-slice in, byte-slice out) to
// wazero's raw stack-based calling convention: params[0:2] is the
// guest payload as (ptr, len); the response is written back into guest
// memory at a location the guest supplies through its "alloc" export
// (see writeToGuest), and that (ptr, len) is returned, or (0, 0) when
// there is no response or it could not be written. Bridges are
// expected to encode a msgpack payload; this adapter only moves bytes.
func bindHostFunc(fn HostFunc) func(ctx context.Context, mod api.Module, stack []uint64) {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		ptr := uint32(stack[0])
		length := uint32(stack[1])

		mem := mod.Memory()
		payload, ok := mem.Read(ptr, length)
		if !ok {
			stack[0], stack[1] = 0, 0
			return
		}
		// Copy out: guest memory can move under us once control returns.
		buf := make([]byte, len(payload))
		copy(buf, payload)

		out, err := fn(ctx, &wazeroInstance{mod: mod}, buf)
		if err != nil {
			stack[0], stack[1] = 0, 0
			return
		}

		if len(out) == 0 {
			stack[0], stack[1] = 0, 0
			return
		}
		outPtr, outLen := writeToGuest(ctx, mod, out)
		stack[0], stack[1] = uint64(outPtr), uint64(outLen)
	}
}

// writeToGuest calls the guest's exported "alloc" function to reserve
// space, then writes resp into it. Guests built against the
// accompanying SDK always export "alloc" for this purpose.
func writeToGuest(ctx context.Context, mod api.Module, resp []byte) (ptr, length uint32) {
	alloc := mod.ExportedFunction("alloc")
	if alloc == nil {
		return 0, 0
	}
	results, err := alloc.Call(ctx, uint64(len(resp)))
	if err != nil || len(results) == 0 {
		return 0, 0
	}
	ptr = uint32(results[0])
	if !mod.Memory().Write(ptr, resp) {
		return 0, 0
	}
	return ptr, uint32(len(resp))
}

type wazeroModule struct {
	compiled wazero.CompiledModule
}

func (m *wazeroModule) Name() string { return m.compiled.Name() }

type wazeroInstance struct {
	mu  sync.Mutex
	mod api.Module
}

func (i *wazeroInstance) ExportedFunctionNames() []string {
	defs := i.mod.ExportedFunctionDefinitions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	return names
}

// Invoke writes payload into guest memory via the guest's exported
// "alloc" function, calls name with the resulting (ptr, len), and
// reads back whatever (ptr, len) the export returns. Guests with no
// payload (niladic init hooks) skip the alloc/write step entirely.
func (i *wazeroInstance) Invoke(ctx context.Context, name string, payload []byte) ([]byte, error) {
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.Newf("wasmengine: no such export %q", name)
	}

	var results []uint64
	var err error
	if len(payload) == 0 {
		results, err = fn.Call(ctx)
	} else {
		ptr, length := writeToGuest(ctx, i.mod, payload)
		if ptr == 0 && length == 0 {
			return nil, errors.New("wasmengine: guest alloc failed")
		}
		results, err = fn.Call(ctx, uint64(ptr), uint64(length))
	}
	if err != nil {
		return nil, err
	}
	if len(results) < 2 {
		return nil, nil
	}

	outPtr, outLen := uint32(results[0]), uint32(results[1])
	if outLen == 0 {
		return nil, nil
	}
	out, ok := i.mod.Memory().Read(outPtr, outLen)
	if !ok {
		return nil, errors.New("wasmengine: guest returned out-of-range memory")
	}
	buf := make([]byte, len(out))
	copy(buf, out)
	return buf, nil
}

func (i *wazeroInstance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}
