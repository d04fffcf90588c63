package kv

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/russellromney/redlite-sub002/internal/storage"
)

// testClock is an injectable wall clock so TTL tests never sleep.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, cfg Config) (*Store, *testClock) {
	t.Helper()
	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	sess, err := storage.Open(":memory:", storage.Options{Clock: clock.Now}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	store, err := NewStore(sess, cfg, zap.NewNop())
	require.NoError(t, err)
	return store, clock
}

func newTestDB(t *testing.T) (*DB, *testClock) {
	t.Helper()
	store, clock := newTestStore(t, Config{})
	db, err := store.DB(0)
	require.NoError(t, err)
	return db, clock
}
