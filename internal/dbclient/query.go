package dbclient

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/forbearing/wasmrt/internal/abi"
	"go.uber.org/multierr"
)

// PreparedQuery is the connection-pinned handle backing the guest's
// Query resource (spec.md §4.5 client.prepare / transaction.prepare).
// It owns conn for its lifetime; Release must run before the
// connection can be reused by another handle.
type PreparedQuery struct {
	conn        *sql.Conn
	ownsConn    bool
	stmt        *sql.Stmt
	query       string
	flags       abi.CompilationFlags
	cardinality abi.Cardinality
}

// Prepare prepares query on conn. ownsConn tells Release whether to
// close the connection afterward (true for client.prepare, false for
// transaction.prepare, where the Transaction handle owns the
// connection).
func Prepare(ctx context.Context, conn *sql.Conn, query string, flags abi.CompilationFlags, ownsConn bool) (*PreparedQuery, error) {
	masked := flags.Mask()
	stmt, err := conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "dbclient: prepare")
	}
	return &PreparedQuery{
		conn:        conn,
		ownsConn:    ownsConn,
		stmt:        stmt,
		query:       query,
		flags:       masked,
		cardinality: inferCardinality(query),
	}, nil
}

// inferCardinality stands in for the real protocol client's
// compiler-reported DataDescription (spec.md §4.5 describe_data; the
// real wire client is out of scope per spec.md §1). It does not inspect
// the query text: every query is reported as CardinalityMany, so
// Execute's single-row short-circuit is never taken for queries
// prepared by this package.
func inferCardinality(query string) abi.Cardinality {
	return abi.CardinalityMany
}

// DescribeData implements query.describe_data.
func (q *PreparedQuery) DescribeData() abi.DataDescription {
	return abi.DataDescription{
		ProtocolVersion: 1,
		Cardinality:     q.cardinality,
		InputTypeDesc:   nil,
		OutputTypeDesc:  nil,
	}
}

// Execute implements query.execute: runs the prepared statement and
// returns each row's column values as a flat byte-encoded chunk
// (msgpack, via internal/bridge/dbbridge). Cardinality ONE/AT_MOST_ONE
// short-circuits after the first row (spec.md's supplemented
// Cardinality behavior).
func (q *PreparedQuery) Execute(ctx context.Context, args []any) ([][]any, error) {
	rows, err := q.stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, errors.Wrap(err, "dbclient: execute")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "dbclient: columns")
	}

	var chunks [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "dbclient: scan")
		}
		chunks = append(chunks, vals)
		if q.cardinality.ShortCircuitsAfterOne() {
			break
		}
	}
	return chunks, errors.Wrap(rows.Err(), "dbclient: row iteration")
}

// Release closes the prepared statement and, if this handle owns its
// connection, returns the connection to the pool.
func (q *PreparedQuery) Release() error {
	err := q.stmt.Close()
	if q.ownsConn {
		err = multierr.Append(err, q.conn.Close())
	}
	return err
}
