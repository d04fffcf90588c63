package server

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/russellromney/redlite-sub002/internal/kv"
	"github.com/russellromney/redlite-sub002/internal/pubsub"
	"github.com/russellromney/redlite-sub002/internal/storage"
)

// startServer boots a full server on a loopback port and returns a go-redis
// client against it.
func startServer(t *testing.T) *redis.Client {
	t.Helper()
	sess, err := storage.Open(":memory:", storage.Options{}, zap.NewNop())
	require.NoError(t, err)

	store, err := kv.NewStore(sess, kv.Config{}, zap.NewNop())
	require.NoError(t, err)

	srv := New(store, pubsub.NewBroker(0, zap.NewNop()), zap.NewNop())
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		sess.Close()
	})

	client := redis.NewClient(&redis.Options{
		Addr:        srv.Addr().String(),
		DialTimeout: 2 * time.Second,
		ReadTimeout: 2 * time.Second,
		// RESP2; the server does not speak HELLO.
		Protocol: 2,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestE2EPingEcho(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	pong, err := client.Ping(ctx).Result()
	require.NoError(t, err)
	assert.Equal(t, "PONG", pong)

	echo, err := client.Echo(ctx, "hello").Result()
	require.NoError(t, err)
	assert.Equal(t, "hello", echo)
}

func TestE2EStringRoundTrip(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "foo", "bar", 0).Err())

	got, err := client.Get(ctx, "foo").Result()
	require.NoError(t, err)
	assert.Equal(t, "bar", got)

	_, err = client.Get(ctx, "missing").Result()
	assert.Equal(t, redis.Nil, err)
}

// TTL bounds are checked without waiting out the expiry; lazy-expiry timing
// is covered at the engine layer.
func TestE2ESetWithExpiry(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "foo", "bar", 10*time.Second).Err())

	got, err := client.Get(ctx, "foo").Result()
	require.NoError(t, err)
	assert.Equal(t, "bar", got)

	ttl, err := client.TTL(ctx, "foo").Result()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ttl, 9*time.Second)
	assert.LessOrEqual(t, ttl, 10*time.Second)
}

func TestE2EWrongType(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	require.NoError(t, client.RPush(ctx, "l", "x").Err())
	err := client.Get(ctx, "l").Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WRONGTYPE")
}

func TestE2EIncrAndErrors(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	n, err := client.Incr(ctx, "c").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, client.Set(ctx, "s", "abc", 0).Err())
	err = client.Incr(ctx, "s").Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an integer")
}

func TestE2EHashListSetZSet(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	require.NoError(t, client.HSet(ctx, "h", "f1", "v1", "f2", "v2").Err())
	all, err := client.HGetAll(ctx, "h").Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"f1": "v1", "f2": "v2"}, all)

	require.NoError(t, client.RPush(ctx, "l", "a", "b", "c").Err())
	list, err := client.LRange(ctx, "l", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, list)

	require.NoError(t, client.SAdd(ctx, "s", "x", "y").Err())
	card, err := client.SCard(ctx, "s").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), card)

	// Ordering: score ascending, ties by member bytes.
	require.NoError(t, client.ZAdd(ctx, "z",
		redis.Z{Score: 3, Member: "c"},
		redis.Z{Score: 1, Member: "a"},
		redis.Z{Score: 2, Member: "b"},
	).Err())
	zs, err := client.ZRange(ctx, "z", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, zs)
	rev, err := client.ZRevRange(ctx, "z", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, rev)
}

// MULTI/EXEC over the wire through a real client's transaction pipeline.
func TestE2ETransaction(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	pipe := client.TxPipeline()
	incr1 := pipe.Incr(ctx, "counter")
	incr2 := pipe.Incr(ctx, "counter")
	_, err := pipe.Exec(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), incr1.Val())
	assert.Equal(t, int64(2), incr2.Val())

	got, err := client.Get(ctx, "counter").Result()
	require.NoError(t, err)
	assert.Equal(t, "2", got)
}

// Exact and pattern fan-out with frame-level delivery.
func TestE2EPubSub(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	subA := client.Subscribe(ctx, "ch")
	defer subA.Close()
	_, err := subA.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	subB := client.PSubscribe(ctx, "ch.*")
	defer subB.Close()
	_, err = subB.Receive(ctx)
	require.NoError(t, err)

	n, err := client.Publish(ctx, "ch.1", "hello").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n) // only the pattern matches

	n, err = client.Publish(ctx, "ch", "world").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n) // exact + pattern

	msgA, err := subA.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ch", msgA.Channel)
	assert.Equal(t, "world", msgA.Payload)

	msgB1, err := subB.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ch.*", msgB1.Pattern)
	assert.Equal(t, "ch.1", msgB1.Channel)
	assert.Equal(t, "hello", msgB1.Payload)

	msgB2, err := subB.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ch", msgB2.Channel)
	assert.Equal(t, "world", msgB2.Payload)
}

func TestE2EScan(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	for _, k := range []string{"user:1", "user:2", "order:1"} {
		require.NoError(t, client.Set(ctx, k, "v", 0).Err())
	}

	var keys []string
	iter := client.Scan(ctx, 0, "user:*", 2).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	require.NoError(t, iter.Err())
	assert.ElementsMatch(t, []string{"user:1", "user:2"}, keys)
}

func TestE2EBinarySafety(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	payload := string([]byte{0x00, 0xff, '\r', '\n', 'x'})
	require.NoError(t, client.Set(ctx, "bin", payload, 0).Err())
	got, err := client.Get(ctx, "bin").Result()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestE2EConcurrentClients(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 25
	errc := make(chan error, workers)
	for w := 0; w < workers; w++ {
		go func() {
			var err error
			for i := 0; i < perWorker; i++ {
				if e := client.Incr(ctx, "shared").Err(); e != nil {
					err = e
					break
				}
			}
			errc <- err
		}()
	}
	for w := 0; w < workers; w++ {
		require.NoError(t, <-errc)
	}

	n, err := client.Get(ctx, "shared").Result()
	require.NoError(t, err)
	assert.Equal(t, "200", n)
}
