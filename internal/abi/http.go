// Package abi defines the wire-level Go types exchanged across the
// guest boundary for the three versioned interfaces named in spec.md
// §6: HTTP server v1, Log v1, and Database client v1. Every type here
// is encoded with msgpack before it crosses the (ptr, len) boundary
// wired up in internal/bridge.
package abi

// Header is one (name, value) pair. The ABI carries headers as an
// ordered sequence of byte-string pairs rather than a map so
// duplicates and order survive the round trip (spec.md §8).
type Header struct {
	Name  []byte
	Value []byte
}

// Request is the HTTP server v1 request value passed into the guest's
// handle_request export.
type Request struct {
	Method  string
	URI     string
	Headers []Header
	Body    []byte
}

// Response is the HTTP server v1 response value returned by the
// guest's handle_request export.
type Response struct {
	StatusCode uint16
	Headers    []Header
	Body       []byte
}
