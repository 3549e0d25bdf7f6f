// Package httpbridge implements the HTTP ABI's host side: the guest
// exports handle_request directly (spec.md §6), but it must first
// call the host's register_handler exactly once during init to mark
// itself as serving HTTP (spec.md §4.3 step 6-8, §9 "Singletons").
// Dispatch itself is a plain wasmengine.Instance.Invoke("handle_request", ...)
// call made by internal/worker, not through this host module.
package httpbridge

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/forbearing/wasmrt/internal/abi"
	"github.com/forbearing/wasmrt/internal/wasmengine"
	"github.com/vmihailenco/msgpack/v5"
)

const ModuleName = "http_v1"

// ErrAlreadyRegistered is the fatal guest error spec.md §4.3 names for
// a second register_handler call.
var ErrAlreadyRegistered = errors.New("httpbridge: register_handler called more than once")

// Bridge tracks whether the guest registered an HTTP handler during
// its init sequence. It is per-Worker, not shared.
type Bridge struct {
	mu         sync.Mutex
	registered bool
	err        error
}

func New() *Bridge { return &Bridge{} }

// HostModule returns the wasmengine.HostModule the guest imports.
func (b *Bridge) HostModule() wasmengine.HostModule {
	return wasmengine.HostModule{
		Name: ModuleName,
		Functions: map[string]wasmengine.HostFunc{
			"register_handler": b.registerHandler,
		},
	}
}

func (b *Bridge) registerHandler(context.Context, wasmengine.Instance, []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.registered {
		b.err = ErrAlreadyRegistered
		return nil, ErrAlreadyRegistered
	}
	b.registered = true
	return nil, nil
}

// Registered reports whether the guest called register_handler.
func (b *Bridge) Registered() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registered
}

// Err returns the fatal error from a second register_handler call, if any.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// EncodeRequest and DecodeResponse perform the msgpack framing for
// the guest's handle_request export, shared by internal/worker and
// any alternative front end.
func EncodeRequest(req abi.Request) ([]byte, error) {
	return msgpack.Marshal(req)
}

func DecodeResponse(payload []byte) (abi.Response, error) {
	var resp abi.Response
	if err := msgpack.Unmarshal(payload, &resp); err != nil {
		return abi.Response{}, errors.Wrap(err, "httpbridge: decode response")
	}
	return resp, nil
}
