package abi

// Capability is one bit of CompilationFlags.AllowCapabilities, spelled
// out in full per original_source/server/src/abi/client_v1.rs (spec.md
// §4.5 only names the mandatory MODIFICATIONS mask; the rest of the
// bitset is a supplemented feature so the masking logic is concrete).
type Capability uint32

const (
	CapModifications             Capability = 1 << iota
	CapDDL
	CapPersistentConfiguration
	CapSessionConfiguration
	CapSetGlobal
)

// AllowedCapabilities is the mask the host enforces: allow_capabilities
// is intersected with this before being forwarded to the database
// client (spec.md §4.5).
const AllowedCapabilities = CapModifications

// CompilationFlags is passed to client.prepare / transaction.prepare.
type CompilationFlags struct {
	AllowCapabilities Capability
	// ImplicitLimit, if non-zero, caps the number of rows an implicit
	// top-level SELECT returns, mirroring the source compiler's flag of
	// the same name.
	ImplicitLimit uint64
}

// Mask returns flags with AllowCapabilities intersected with
// AllowedCapabilities, implementing spec.md §4.5's "host strips
// anything broader before forwarding".
func (f CompilationFlags) Mask() CompilationFlags {
	f.AllowCapabilities &= AllowedCapabilities
	return f
}

// Cardinality describes how many rows a query may produce, from
// original_source/server/src/abi/client_v1.rs's DataDescription.
type Cardinality uint8

const (
	CardinalityNoResult Cardinality = iota
	CardinalityAtMostOne
	CardinalityOne
	CardinalityMany
	CardinalityAtLeastOne
)

// ShortCircuitsAfterOne reports whether query.execute should stop
// reading rows after the first one for this cardinality.
func (c Cardinality) ShortCircuitsAfterOne() bool {
	return c == CardinalityOne || c == CardinalityAtMostOne
}

// DataDescription is the result of query.describe_data.
type DataDescription struct {
	ProtocolVersion uint16
	Cardinality     Cardinality
	InputTypeDesc   []byte
	OutputTypeDesc  []byte
}

// ErrorCode identifies the class of a translated database error.
// CodeInternal is the "host bug" channel carried forward from
// original_source/sdk/src/bug.rs and server/src/bug.rs: a distinct
// code for host/guest protocol bugs, never conflated with a guest
// application error or an ordinary database error.
type ErrorCode uint32

const (
	CodeInternal ErrorCode = iota
	CodeQuery
	CodeTransaction
	CodeProtocol
	CodeConnection
)

// Error is the Database client v1 structured error value. Messages
// holds the initial message followed by appended contexts, preserving
// order the way cockroachdb/errors preserves a wrapped chain.
type Error struct {
	Code       ErrorCode
	Messages   []string
	Source     string
	Headers    []Header
	ShouldRetry bool
}

// shouldRetryHeaderKey is the header slot the SHOULD_RETRY tag rides
// in when an Error crosses the ABI; internal/dbclient sets it and the
// guest-side retry helper (not part of this host) reads it.
const shouldRetryHeaderKey = "should-retry"

// WithShouldRetry stamps the SHOULD_RETRY tag into both the boolean
// convenience field (for host-side tests) and the header form the ABI
// guarantees survives the wire.
func (e Error) WithShouldRetry(v bool) Error {
	e.ShouldRetry = v
	if v {
		e.Headers = append(e.Headers, Header{Name: []byte(shouldRetryHeaderKey), Value: []byte{1}})
	}
	return e
}
