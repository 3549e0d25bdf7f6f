package dbclient

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/forbearing/wasmrt/internal/abi"
)

// retryableSubstrings are fragments of driver error messages that
// indicate a transient conflict the guest-side retry helper (spec.md
// §4.6) should re-execute against: Postgres serialization/deadlock
// failures and SQLite's busy/locked errors.
var retryableSubstrings = []string{
	"serialization failure",
	"deadlock detected",
	"could not serialize access",
	"database is locked",
	"sqlite_busy",
}

// Translate converts a Go error from the connection-pinned operations
// in this package into the Database client v1 Error shape (spec.md
// §4.5), preserving the SHOULD_RETRY tag across translation as
// spec.md §7 requires. A nil err yields a nil *abi.Error.
func Translate(err error) *abi.Error {
	if err == nil {
		return nil
	}

	code := abi.CodeQuery
	switch {
	case errors.Is(err, ErrTxAlreadyDone):
		code = abi.CodeTransaction
	case errors.Is(err, sql.ErrTxDone):
		code = abi.CodeTransaction
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = abi.CodeConnection
	}

	msg := err.Error()
	retry := isRetryable(msg)

	e := abi.Error{
		Code:     code,
		Messages: []string{msg},
	}
	return ptr(e.WithShouldRetry(retry))
}

func isRetryable(msg string) bool {
	lower := strings.ToLower(msg)
	for _, frag := range retryableSubstrings {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

func ptr[T any](v T) *T { return &v }
