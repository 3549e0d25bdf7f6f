// Package dbbridge implements the Database client v1 ABI (spec.md
// §4.5): client.connect, client.prepare, client.transaction,
// client.release, query.describe_data, query.execute, query.release,
// transaction.prepare, transaction.commit, transaction.rollback.
// Resource handles are kept in per-Worker internal/resource.Table
// instances so a handle from one guest instance can never collide
// with another's (spec.md §4.8).
package dbbridge

import (
	"context"

	"github.com/forbearing/wasmrt/internal/abi"
	"github.com/forbearing/wasmrt/internal/dbclient"
	"github.com/forbearing/wasmrt/internal/resource"
	"github.com/forbearing/wasmrt/internal/wasmengine"
	"github.com/forbearing/wasmrt/logger"
	"github.com/forbearing/wasmrt/metrics"
	"github.com/vmihailenco/msgpack/v5"
)

const ModuleName = "db_v1"

// Envelope wraps every dbbridge result: Err is set for both
// guest-visible database errors and host-bug internal errors
// (spec.md §4.5 and the supplemented internal-error channel from
// original_source/sdk/src/bug.rs); Data carries the msgpack-encoded
// success payload when Err is nil.
type Envelope struct {
	Err  *abi.Error
	Data []byte
}

func ok(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(Envelope{Data: data})
}

func fail(e *abi.Error) ([]byte, error) {
	metrics.DatabaseBridgeErrorsTotal.WithLabelValues(codeLabel(e.Code)).Inc()
	return msgpack.Marshal(Envelope{Err: e})
}

func internalBug(msg string) ([]byte, error) {
	logger.Bridge.Errorw("database bridge host bug", "error", msg)
	return fail(&abi.Error{Code: abi.CodeInternal, Messages: []string{msg}})
}

func codeLabel(c abi.ErrorCode) string {
	switch c {
	case abi.CodeInternal:
		return "internal"
	case abi.CodeQuery:
		return "query"
	case abi.CodeTransaction:
		return "transaction"
	case abi.CodeProtocol:
		return "protocol"
	case abi.CodeConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// clientHandle identifies a connected Client resource. The ABI client
// is just an identity; actual connections are acquired lazily by
// prepare/transaction per spec.md §4.5's per-op "Acquires a connection
// from the pool" wording.
type clientHandle struct{}

// Bridge is per-Worker state: one set of resource tables plus the
// Pool for the worker's bound database.
type Bridge struct {
	pool    *dbclient.Pool
	clients resource.Table[clientHandle]
	queries resource.Table[*dbclient.PreparedQuery]
	txs     resource.Table[*dbclient.Transaction]
}

// New returns a Bridge bound to pool, the database Client Pool for
// this Worker's database identity.
func New(pool *dbclient.Pool) *Bridge {
	return &Bridge{pool: pool}
}

// HostModule returns the wasmengine.HostModule the guest imports.
func (b *Bridge) HostModule() wasmengine.HostModule {
	return wasmengine.HostModule{
		Name: ModuleName,
		Functions: map[string]wasmengine.HostFunc{
			"client.connect":       b.clientConnect,
			"client.prepare":       b.clientPrepare,
			"client.transaction":   b.clientTransaction,
			"query.describe_data":  b.queryDescribeData,
			"query.execute":        b.queryExecute,
			"transaction.prepare":  b.transactionPrepare,
			"transaction.commit":   b.transactionCommit,
			"transaction.rollback": b.transactionRollback,
			"client.release":       b.clientRelease,
			"query.release":        b.queryRelease,
		},
	}
}

// Close releases every live Query and Transaction handle still held by
// this bridge's resource tables, run on Worker teardown (spec.md §4.5
// "on Worker destruction all handles are dropped, which must in turn
// release pooled connections back to the pool"). Errors are logged,
// not returned: teardown must proceed regardless.
func (b *Bridge) Close() {
	b.queries.Each(func(_ int, q **dbclient.PreparedQuery) {
		if err := (*q).Release(); err != nil {
			logger.Bridge.Warnw("release query handle on teardown", "error", err)
		}
	})
	b.txs.Each(func(_ int, t **dbclient.Transaction) {
		if err := (*t).Rollback(); err != nil {
			logger.Bridge.Warnw("rollback transaction handle on teardown", "error", err)
		}
	})
}

func (b *Bridge) clientConnect(context.Context, wasmengine.Instance, []byte) ([]byte, error) {
	handle := b.clients.Insert(clientHandle{})
	return ok(handle)
}

type prepareRequest struct {
	ClientHandle int
	Flags        abi.CompilationFlags
	Query        string
}

type prepareResponse struct {
	QueryHandle int
}

func (b *Bridge) clientPrepare(ctx context.Context, _ wasmengine.Instance, payload []byte) ([]byte, error) {
	var req prepareRequest
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return internalBug("decode client.prepare request: " + err.Error())
	}
	if _, found := b.clients.Get(req.ClientHandle); !found {
		return internalBug("client.prepare: unknown client handle")
	}

	conn, err := b.pool.Conn(ctx)
	if err != nil {
		return fail(dbclient.Translate(err))
	}
	pq, err := dbclient.Prepare(ctx, conn, req.Query, req.Flags, true)
	if err != nil {
		conn.Close()
		return fail(dbclient.Translate(err))
	}
	qh := b.queries.Insert(pq)
	return ok(prepareResponse{QueryHandle: qh})
}

func (b *Bridge) clientTransaction(ctx context.Context, _ wasmengine.Instance, payload []byte) ([]byte, error) {
	var req struct{ ClientHandle int }
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return internalBug("decode client.transaction request: " + err.Error())
	}
	if _, found := b.clients.Get(req.ClientHandle); !found {
		return internalBug("client.transaction: unknown client handle")
	}

	conn, err := b.pool.Conn(ctx)
	if err != nil {
		return fail(dbclient.Translate(err))
	}
	tx, err := dbclient.BeginTx(ctx, conn)
	if err != nil {
		conn.Close()
		return fail(dbclient.Translate(err))
	}
	th := b.txs.Insert(tx)
	return ok(struct{ TransactionHandle int }{TransactionHandle: th})
}

func (b *Bridge) queryDescribeData(_ context.Context, _ wasmengine.Instance, payload []byte) ([]byte, error) {
	var req struct{ QueryHandle int }
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return internalBug("decode query.describe_data request: " + err.Error())
	}
	pq, found := b.queries.Get(req.QueryHandle)
	if !found {
		return internalBug("query.describe_data: unknown query handle")
	}
	return ok((*pq).DescribeData())
}

type executeRequest struct {
	QueryHandle int
	Args        []any
}

func (b *Bridge) queryExecute(ctx context.Context, _ wasmengine.Instance, payload []byte) ([]byte, error) {
	var req executeRequest
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return internalBug("decode query.execute request: " + err.Error())
	}
	pq, found := b.queries.Get(req.QueryHandle)
	if !found {
		return internalBug("query.execute: unknown query handle")
	}
	rows, err := (*pq).Execute(ctx, req.Args)
	if err != nil {
		return fail(dbclient.Translate(err))
	}
	return ok(rows)
}

type transactionPrepareRequest struct {
	TransactionHandle int
	Flags             abi.CompilationFlags
	Query             string
}

func (b *Bridge) transactionPrepare(ctx context.Context, _ wasmengine.Instance, payload []byte) ([]byte, error) {
	var req transactionPrepareRequest
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return internalBug("decode transaction.prepare request: " + err.Error())
	}
	tx, found := b.txs.Get(req.TransactionHandle)
	if !found {
		return internalBug("transaction.prepare: unknown transaction handle")
	}
	pq, err := (*tx).Prepare(ctx, req.Query, req.Flags)
	if err != nil {
		return fail(dbclient.Translate(err))
	}
	qh := b.queries.Insert(pq)
	return ok(prepareResponse{QueryHandle: qh})
}

func (b *Bridge) transactionCommit(_ context.Context, _ wasmengine.Instance, payload []byte) ([]byte, error) {
	var req struct{ TransactionHandle int }
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return internalBug("decode transaction.commit request: " + err.Error())
	}
	tx, found := b.txs.Get(req.TransactionHandle)
	if !found {
		return internalBug("transaction.commit: unknown transaction handle")
	}
	if err := (*tx).Commit(); err != nil {
		return fail(dbclient.Translate(err))
	}
	b.txs.Drop(req.TransactionHandle)
	return ok(struct{}{})
}

func (b *Bridge) transactionRollback(_ context.Context, _ wasmengine.Instance, payload []byte) ([]byte, error) {
	var req struct{ TransactionHandle int }
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return internalBug("decode transaction.rollback request: " + err.Error())
	}
	tx, found := b.txs.Get(req.TransactionHandle)
	if !found {
		return internalBug("transaction.rollback: unknown transaction handle")
	}
	if err := (*tx).Rollback(); err != nil {
		return fail(dbclient.Translate(err))
	}
	b.txs.Drop(req.TransactionHandle)
	return ok(struct{}{})
}

// clientRelease drops a Client handle (spec.md §4.5 "guest-side
// release drops the handle"). A Client owns no pooled connection of
// its own — prepare/transaction each acquire one independently — so
// dropping the table slot is the entire release.
func (b *Bridge) clientRelease(_ context.Context, _ wasmengine.Instance, payload []byte) ([]byte, error) {
	var req struct{ ClientHandle int }
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return internalBug("decode client.release request: " + err.Error())
	}
	if _, found := b.clients.Get(req.ClientHandle); !found {
		return internalBug("client.release: unknown client handle")
	}
	b.clients.Drop(req.ClientHandle)
	return ok(struct{}{})
}

// queryRelease releases a standalone Query handle's pooled connection
// and drops it. Without this op a query prepared outside a
// transaction leaks its connection until Worker teardown (spec.md
// §4.5/§4.8).
func (b *Bridge) queryRelease(_ context.Context, _ wasmengine.Instance, payload []byte) ([]byte, error) {
	var req struct{ QueryHandle int }
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return internalBug("decode query.release request: " + err.Error())
	}
	pq, found := b.queries.Get(req.QueryHandle)
	if !found {
		return internalBug("query.release: unknown query handle")
	}
	if err := (*pq).Release(); err != nil {
		return fail(dbclient.Translate(err))
	}
	b.queries.Drop(req.QueryHandle)
	return ok(struct{}{})
}
