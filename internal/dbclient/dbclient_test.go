package dbclient

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/forbearing/wasmrt/internal/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateShouldRetry(t *testing.T) {
	err := Translate(assertErr("ERROR: could not serialize access due to concurrent update"))
	require.NotNil(t, err)
	assert.True(t, err.ShouldRetry)
	assert.Equal(t, abi.CodeQuery, err.Code)
}

func TestTranslateNotRetryable(t *testing.T) {
	err := Translate(assertErr("syntax error near SELECT"))
	require.NotNil(t, err)
	assert.False(t, err.ShouldRetry)
}

func TestTranslateNil(t *testing.T) {
	assert.Nil(t, Translate(nil))
}

func TestPrepareExecute(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPrepare("SELECT value FROM counter").
		ExpectQuery().
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(1))

	ctx := context.Background()
	conn, err := db.Conn(ctx)
	require.NoError(t, err)

	q, err := Prepare(ctx, conn, "SELECT value FROM counter", abi.CompilationFlags{}, true)
	require.NoError(t, err)

	rows, err := q.Execute(ctx, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1, rows[0][0])

	require.NoError(t, q.Release())
	require.NoError(t, mock.ExpectationsWereMet())
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
