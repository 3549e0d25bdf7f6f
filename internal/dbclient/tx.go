package dbclient

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/forbearing/wasmrt/internal/abi"
)

// ErrTxAlreadyDone is returned by Commit/Rollback called a second
// time on the same handle, covering spec.md §8's "a commit followed
// by another commit on the same transaction handle fails with a
// defined error; a rollback after commit likewise."
var ErrTxAlreadyDone = errors.New("dbclient: transaction already committed or rolled back")

// Transaction is the connection-pinned handle backing the guest's
// Transaction resource (spec.md §4.5 client.transaction).
type Transaction struct {
	conn *sql.Conn
	tx   *sql.Tx
	done bool
}

// BeginTx acquires conn for the transaction's lifetime and issues
// START TRANSACTION (spec.md §4.5).
func BeginTx(ctx context.Context, conn *sql.Conn) (*Transaction, error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dbclient: begin transaction")
	}
	return &Transaction{conn: conn, tx: tx}, nil
}

// Prepare implements transaction.prepare: same as client.prepare but
// on the transaction's own connection, and it does not own conn (the
// Transaction does).
func (t *Transaction) Prepare(ctx context.Context, query string, flags abi.CompilationFlags) (*PreparedQuery, error) {
	if t.done {
		return nil, ErrTxAlreadyDone
	}
	masked := flags.Mask()
	stmt, err := t.tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "dbclient: transaction prepare")
	}
	return &PreparedQuery{conn: t.conn, ownsConn: false, stmt: stmt, query: query, flags: masked, cardinality: inferCardinality(query)}, nil
}

// Commit issues COMMIT and releases the connection back to the pool.
func (t *Transaction) Commit() error {
	if t.done {
		return ErrTxAlreadyDone
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		t.conn.Close()
		return errors.Wrap(err, "dbclient: commit")
	}
	return t.conn.Close()
}

// Rollback issues ROLLBACK and releases the connection back to the pool.
func (t *Transaction) Rollback() error {
	if t.done {
		return ErrTxAlreadyDone
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		t.conn.Close()
		return errors.Wrap(err, "dbclient: rollback")
	}
	return t.conn.Close()
}
