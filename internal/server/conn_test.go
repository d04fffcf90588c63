package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/russellromney/redlite-sub002/internal/kv"
	"github.com/russellromney/redlite-sub002/internal/pubsub"
	"github.com/russellromney/redlite-sub002/internal/resp"
	"github.com/russellromney/redlite-sub002/internal/storage"
)

// testConn builds a connection wired to an in-memory store, bypassing the
// socket so the state machine can be driven directly.
func testConn(t *testing.T) *conn {
	t.Helper()
	sess, err := storage.Open(":memory:", storage.Options{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	store, err := kv.NewStore(sess, kv.Config{}, zap.NewNop())
	require.NoError(t, err)

	srv := New(store, pubsub.NewBroker(0, zap.NewNop()), zap.NewNop())
	db, err := store.DB(0)
	require.NoError(t, err)

	return &conn{
		srv: srv,
		db:  db,
		log: zap.NewNop(),
	}
}

func send(c *conn, name string, args ...string) resp.Value {
	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = []byte(a)
	}
	return c.dispatch(name, raw)
}

func TestDispatchUnknownCommand(t *testing.T) {
	c := testConn(t)
	v := send(c, "BOGUS")
	assert.True(t, v.IsError())
	assert.Contains(t, v.Str, "unknown command")
}

func TestDispatchArity(t *testing.T) {
	c := testConn(t)
	v := send(c, "GET")
	assert.True(t, v.IsError())
	assert.Contains(t, v.Str, "wrong number of arguments")

	v = send(c, "GET", "a", "b")
	assert.True(t, v.IsError())
}

func TestSetGetThroughDispatch(t *testing.T) {
	c := testConn(t)

	v := send(c, "SET", "foo", "bar")
	assert.Equal(t, resp.OK, v)

	v = send(c, "GET", "foo")
	assert.Equal(t, []byte("bar"), v.Bulk)

	v = send(c, "GET", "missing")
	assert.Equal(t, resp.KindNilBulk, v.Kind)
}

func TestSetOptionParsing(t *testing.T) {
	c := testConn(t)

	v := send(c, "SET", "k", "v", "EX", "10")
	assert.Equal(t, resp.OK, v)
	ttl := send(c, "TTL", "k")
	assert.Equal(t, int64(10), ttl.Int)

	v = send(c, "SET", "k", "v2", "KEEPTTL")
	assert.Equal(t, resp.OK, v)
	ttl = send(c, "TTL", "k")
	assert.Greater(t, ttl.Int, int64(0))

	v = send(c, "SET", "k", "v", "NX")
	assert.Equal(t, resp.KindNilBulk, v.Kind)

	v = send(c, "SET", "k", "v", "EX", "abc")
	assert.True(t, v.IsError())
	v = send(c, "SET", "k", "v", "BOGUS")
	assert.True(t, v.IsError())
}

func TestWrongTypeSurface(t *testing.T) {
	c := testConn(t)
	send(c, "LPUSH", "l", "x")

	v := send(c, "GET", "l")
	require.True(t, v.IsError())
	assert.Contains(t, v.Str, "WRONGTYPE")
}

// MULTI / INCR / INCR / EXEC.
func TestTransactionIncr(t *testing.T) {
	c := testConn(t)

	assert.Equal(t, resp.OK, send(c, "MULTI"))
	assert.Equal(t, stateTransaction, c.state)

	v := send(c, "INCR", "counter")
	assert.Equal(t, "QUEUED", v.Str)
	v = send(c, "INCR", "counter")
	assert.Equal(t, "QUEUED", v.Str)

	v = send(c, "EXEC")
	require.Equal(t, resp.KindArray, v.Kind)
	require.Len(t, v.Array, 2)
	assert.Equal(t, int64(1), v.Array[0].Int)
	assert.Equal(t, int64(2), v.Array[1].Int)
	assert.Equal(t, stateNormal, c.state)

	got := send(c, "GET", "counter")
	assert.Equal(t, []byte("2"), got.Bulk)
}

// A failed EXEC leaves no queued command's effects behind.
func TestTransactionRollsBackOnError(t *testing.T) {
	c := testConn(t)
	send(c, "SET", "s", "notanumber")

	send(c, "MULTI")
	send(c, "SET", "a", "1")
	send(c, "INCR", "s") // fails at exec time
	send(c, "SET", "b", "2")

	v := send(c, "EXEC")
	assert.True(t, v.IsError())
	assert.Equal(t, stateNormal, c.state)

	assert.Equal(t, resp.KindNilBulk, send(c, "GET", "a").Kind)
	assert.Equal(t, resp.KindNilBulk, send(c, "GET", "b").Kind)
}

func TestTransactionDiscard(t *testing.T) {
	c := testConn(t)

	send(c, "MULTI")
	send(c, "SET", "a", "1")
	assert.Equal(t, resp.OK, send(c, "DISCARD"))
	assert.Equal(t, stateNormal, c.state)

	assert.Equal(t, resp.KindNilBulk, send(c, "GET", "a").Kind)
}

func TestTransactionAbortsOnQueueError(t *testing.T) {
	c := testConn(t)

	send(c, "MULTI")
	v := send(c, "NOSUCHCMD")
	assert.True(t, v.IsError())
	send(c, "SET", "a", "1")

	v = send(c, "EXEC")
	require.True(t, v.IsError())
	assert.Contains(t, v.Str, "EXECABORT")
	assert.Equal(t, resp.KindNilBulk, send(c, "GET", "a").Kind)
}

func TestNestedMulti(t *testing.T) {
	c := testConn(t)
	send(c, "MULTI")
	v := send(c, "MULTI")
	assert.True(t, v.IsError())
	assert.Equal(t, stateTransaction, c.state)
}

func TestExecWithoutMulti(t *testing.T) {
	c := testConn(t)
	assert.True(t, send(c, "EXEC").IsError())
	assert.True(t, send(c, "DISCARD").IsError())
}

// Pub/sub is rejected inside MULTI with the transaction state unchanged.
func TestPubSubForbiddenInTransaction(t *testing.T) {
	c := testConn(t)

	assert.Equal(t, resp.OK, send(c, "MULTI"))
	v := send(c, "SUBSCRIBE", "x")
	require.True(t, v.IsError())
	assert.Contains(t, v.Str, "not allowed in transactions")
	assert.Equal(t, stateTransaction, c.state)

	v = send(c, "PUBLISH", "ch", "m")
	assert.True(t, v.IsError())

	assert.Equal(t, resp.OK, send(c, "DISCARD"))

	v = send(c, "SUBSCRIBE", "x")
	assert.False(t, v.IsError())
	assert.Equal(t, stateSubscribed, c.state)
}

func TestSelectQueuedInTransaction(t *testing.T) {
	c := testConn(t)

	send(c, "MULTI")
	send(c, "SELECT", "1")
	send(c, "SET", "k", "db1")
	v := send(c, "EXEC")
	require.Equal(t, resp.KindArray, v.Kind)

	// The connection stays on db 1 after EXEC.
	assert.Equal(t, 1, c.db.Index())
	got := send(c, "GET", "k")
	assert.Equal(t, []byte("db1"), got.Bulk)

	send(c, "SELECT", "0")
	assert.Equal(t, resp.KindNilBulk, send(c, "GET", "k").Kind)
}

func TestSubscribedModeRejectsDataCommands(t *testing.T) {
	c := testConn(t)

	v := send(c, "SUBSCRIBE", "ch")
	require.Equal(t, resp.KindArray, v.Kind)
	assert.Equal(t, stateSubscribed, c.state)

	v = send(c, "GET", "x")
	require.True(t, v.IsError())
	assert.Contains(t, v.Str, "allowed in this context")
	assert.Equal(t, stateSubscribed, c.state)

	// PING stays available.
	v = send(c, "PING")
	assert.Equal(t, "PONG", v.Str)
}

func TestSubscribeConfirmationFrames(t *testing.T) {
	c := testConn(t)

	v := send(c, "SUBSCRIBE", "a", "b")
	require.Equal(t, resp.KindMulti, v.Kind)
	require.Len(t, v.Array, 2)

	first := v.Array[0]
	assert.Equal(t, []byte("subscribe"), first.Array[0].Bulk)
	assert.Equal(t, []byte("a"), first.Array[1].Bulk)
	assert.Equal(t, int64(1), first.Array[2].Int)

	second := v.Array[1]
	assert.Equal(t, []byte("b"), second.Array[1].Bulk)
	assert.Equal(t, int64(2), second.Array[2].Int)
}

func TestUnsubscribeAllReturnsToNormal(t *testing.T) {
	c := testConn(t)

	send(c, "SUBSCRIBE", "a", "b")
	send(c, "PSUBSCRIBE", "p.*")
	assert.Equal(t, 3, c.subscriptionCount())

	v := send(c, "UNSUBSCRIBE")
	require.Equal(t, resp.KindMulti, v.Kind)
	assert.Equal(t, stateSubscribed, c.state) // pattern sub remains

	send(c, "PUNSUBSCRIBE")
	assert.Equal(t, stateNormal, c.state)

	// Data commands work again.
	assert.Equal(t, resp.OK, send(c, "SET", "k", "v"))
}

func TestPublishCountsSubscribers(t *testing.T) {
	sub := testConn(t)
	// A second connection sharing the same broker.
	pub := &conn{srv: sub.srv, db: sub.db, log: zap.NewNop()}

	v := send(pub, "PUBLISH", "ch", "x")
	assert.Equal(t, int64(0), v.Int)

	send(sub, "SUBSCRIBE", "ch")
	v = send(pub, "PUBLISH", "ch", "x")
	assert.Equal(t, int64(1), v.Int)
}

func TestVacuumNotQueueable(t *testing.T) {
	c := testConn(t)
	send(c, "MULTI")
	v := send(c, "VACUUM")
	assert.True(t, v.IsError())
	v = send(c, "EXEC")
	assert.Contains(t, v.Str, "EXECABORT")
}
