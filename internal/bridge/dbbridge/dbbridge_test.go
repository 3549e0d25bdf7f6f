package dbbridge

import (
	"context"
	"os"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/forbearing/wasmrt/internal/abi"
	"github.com/forbearing/wasmrt/internal/dbclient"
	"github.com/forbearing/wasmrt/logger"
	"github.com/forbearing/wasmrt/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// TestMain populates the subsystem logger and metrics the bridge
// writes to, which the process otherwise sets up during bootstrap.
func TestMain(m *testing.M) {
	logger.Bridge = zap.NewNop().Sugar()
	if err := metrics.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func decodeEnvelope(t *testing.T, out []byte, v any) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, msgpack.Unmarshal(out, &env))
	if env.Err == nil && v != nil {
		require.NoError(t, msgpack.Unmarshal(env.Data, v))
	}
	return env
}

func TestClientConnectAndRelease(t *testing.T) {
	b := &Bridge{}

	out, err := b.clientConnect(context.Background(), nil, nil)
	require.NoError(t, err)
	var handle int
	env := decodeEnvelope(t, out, &handle)
	require.Nil(t, env.Err)

	out, err = b.clientRelease(context.Background(), nil, mustMarshal(t, struct{ ClientHandle int }{handle}))
	require.NoError(t, err)
	env = decodeEnvelope(t, out, nil)
	require.Nil(t, env.Err)

	// Released twice: the handle is gone, so the bridge reports an
	// internal bug rather than releasing it again.
	out, err = b.clientRelease(context.Background(), nil, mustMarshal(t, struct{ ClientHandle int }{handle}))
	require.NoError(t, err)
	env = decodeEnvelope(t, out, nil)
	require.NotNil(t, env.Err)
	assert.Equal(t, abi.CodeInternal, env.Err.Code)
}

func TestQueryReleaseReturnsConnectionToPool(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPrepare("SELECT 1")

	conn, err := db.Conn(context.Background())
	require.NoError(t, err)

	pq, err := dbclient.Prepare(context.Background(), conn, "SELECT 1", abi.CompilationFlags{}, true)
	require.NoError(t, err)

	b := &Bridge{}
	qh := b.queries.Insert(pq)

	out, err := b.queryRelease(context.Background(), nil, mustMarshal(t, struct{ QueryHandle int }{qh}))
	require.NoError(t, err)
	env := decodeEnvelope(t, out, nil)
	require.Nil(t, env.Err)

	_, found := b.queries.Get(qh)
	assert.False(t, found)
	assert.Equal(t, 0, db.Stats().InUse)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryReleaseUnknownHandle(t *testing.T) {
	b := &Bridge{}
	out, err := b.queryRelease(context.Background(), nil, mustMarshal(t, struct{ QueryHandle int }{42}))
	require.NoError(t, err)
	env := decodeEnvelope(t, out, nil)
	require.NotNil(t, env.Err)
	assert.Equal(t, abi.CodeInternal, env.Err.Code)
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := msgpack.Marshal(v)
	require.NoError(t, err)
	return data
}
