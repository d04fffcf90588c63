package kv

import (
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TrackingConfig tunes access-time/count bookkeeping for LRU/LFU eviction.
// Disabled, reads never write.
type TrackingConfig struct {
	Enabled bool
	// FlushMax flushes once this many distinct keys are dirty.
	FlushMax int
	// FlushInterval flushes once the oldest dirty touch is this old.
	FlushInterval time.Duration
}

const (
	defaultFlushMax      = 64
	defaultFlushInterval = time.Second
)

// tracker batches access touches so reads do not always write. Coalescing is
// last-write-wins per key within a batch; a flush fires when the batch
// reaches FlushMax entries or FlushInterval has elapsed since the oldest
// unflushed touch, whichever first. The session clock is the only time
// source.
type tracker struct {
	store *Store
	cfg   TrackingConfig

	mu       sync.Mutex
	dirty    map[trackKey]dirtyEntry
	oldestMs int64
}

type trackKey struct {
	db  int
	key string
}

type dirtyEntry struct {
	lastMs int64
	count  int64
}

func newTracker(store *Store, cfg TrackingConfig) *tracker {
	if cfg.FlushMax <= 0 {
		cfg.FlushMax = defaultFlushMax
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	return &tracker{store: store, cfg: cfg, dirty: make(map[trackKey]dirtyEntry)}
}

// touch records one access. Called outside command transactions; a triggered
// flush runs its own transaction.
func (t *tracker) touch(db int, key string) {
	if !t.cfg.Enabled {
		return
	}
	now := t.store.sess.NowMs()

	t.mu.Lock()
	k := trackKey{db: db, key: key}
	e := t.dirty[k]
	e.lastMs = now
	e.count++
	t.dirty[k] = e
	if t.oldestMs == 0 {
		t.oldestMs = now
	}
	shouldFlush := len(t.dirty) >= t.cfg.FlushMax ||
		now-t.oldestMs >= t.cfg.FlushInterval.Milliseconds()

	var batch map[trackKey]dirtyEntry
	if shouldFlush {
		batch = t.dirty
		t.dirty = make(map[trackKey]dirtyEntry)
		t.oldestMs = 0
	}
	t.mu.Unlock()

	if batch != nil {
		t.flush(batch)
	}
}

// Flush forces any pending touches out; used at shutdown and in tests.
func (t *tracker) Flush() {
	t.mu.Lock()
	batch := t.dirty
	t.dirty = make(map[trackKey]dirtyEntry)
	t.oldestMs = 0
	t.mu.Unlock()
	if len(batch) > 0 {
		t.flush(batch)
	}
}

func (t *tracker) flush(batch map[trackKey]dirtyEntry) {
	err := t.store.sess.Transaction(func(tx *sql.Tx) error {
		for k, e := range batch {
			var keyID int64
			err := tx.QueryRow(`SELECT id FROM keys WHERE db = ? AND key = ?`, k.db, k.key).Scan(&keyID)
			if err != nil {
				// The key may have been deleted since the touch; skip.
				continue
			}
			if _, err := tx.Exec(
				`INSERT INTO access (key_id, last_access_ms, access_count) VALUES (?, ?, ?)
				 ON CONFLICT(key_id) DO UPDATE SET
					last_access_ms = excluded.last_access_ms,
					access_count = access_count + excluded.access_count`,
				keyID, e.lastMs, e.count,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.store.log.Warn("access tracking flush failed", zap.Error(err))
	}
}
