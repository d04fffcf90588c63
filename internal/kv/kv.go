// Package kv implements the type-keyed data engine: Redis data-type commands
// over the relational schema, with per-command atomicity, typed keys, and lazy
// TTL expiry.
package kv

import (
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/russellromney/redlite-sub002/internal/storage"
)

// Sentinel errors; the RESP edge maps these onto wire error classes.
var (
	ErrWrongType     = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	ErrNotFound      = errors.New("no such key")
	ErrNotInteger    = errors.New("value is not an integer or out of range")
	ErrNotFloat      = errors.New("value is not a valid float")
	ErrSyntax        = errors.New("syntax error")
	ErrOutOfRange    = errors.New("index out of range")
	ErrInvalidCursor = errors.New("invalid cursor")
	ErrNoEviction    = errors.New("OOM command not allowed when used memory > 'maxmemory'")
	ErrStreamID      = errors.New("The ID specified in XADD is equal or smaller than the target stream top item")
)

// KeyType enumerates the storable value families.
type KeyType int

const (
	TypeString KeyType = 1
	TypeHash   KeyType = 2
	TypeList   KeyType = 3
	TypeSet    KeyType = 4
	TypeZSet   KeyType = 5
	TypeStream KeyType = 6
	TypeJSON   KeyType = 7
)

// String returns the TYPE command name for t.
func (t KeyType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeHash:
		return "hash"
	case TypeList:
		return "list"
	case TypeSet:
		return "set"
	case TypeZSet:
		return "zset"
	case TypeStream:
		return "stream"
	case TypeJSON:
		return "ReJSON-RL"
	default:
		return "none"
	}
}

// NumDatabases is the SELECT-able database count.
const NumDatabases = 16

// Config tunes the store.
type Config struct {
	// EvictionPolicy applies when MaxKeys > 0.
	EvictionPolicy EvictionPolicy
	// MaxKeys caps total live keys per store; 0 disables eviction entirely.
	MaxKeys int64
	// Tracking enables access-time/count bookkeeping for LRU/LFU.
	Tracking TrackingConfig
}

// Store is the shared engine over one storage session. It is safe for use
// from multiple connections; writers serialize at the session lock.
type Store struct {
	sess    *storage.Session
	log     *zap.Logger
	cfg     Config
	tracker *tracker
	fts     *ftsState
}

// NewStore wraps an open session.
func NewStore(sess *storage.Session, cfg Config, log *zap.Logger) (*Store, error) {
	log = log.Named("kv")
	s := &Store{sess: sess, log: log, cfg: cfg}
	s.tracker = newTracker(s, cfg.Tracking)
	fts, err := loadFTSState(sess)
	if err != nil {
		return nil, err
	}
	s.fts = fts
	if fts.anyEnabled() {
		if err := sess.EnsureFTS(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Session exposes the underlying session (admin surface, tests).
func (s *Store) Session() *storage.Session { return s.sess }

// DB returns a view of the store bound to one database index.
func (s *Store) DB(idx int) (*DB, error) {
	if idx < 0 || idx >= NumDatabases {
		return nil, fmt.Errorf("%w: DB index is out of range", ErrSyntax)
	}
	return &DB{store: s, db: idx}, nil
}

// DB is a cheap per-connection view: the shared store plus a selected
// database index. All commands hang off it.
//
// A view may additionally be bound to an open transaction (WithTx); every
// command on a bound view joins that transaction instead of opening its own,
// which is how EXEC replays a queued batch atomically.
type DB struct {
	store *Store
	db    int
	tx    *sql.Tx
}

// Index returns the selected database index.
func (d *DB) Index() int { return d.db }

// Store returns the shared engine.
func (d *DB) Store() *Store { return d.store }

// Select returns a view over another database. A transaction binding carries
// over, so a SELECT queued in MULTI keeps the batch atomic.
func (d *DB) Select(idx int) (*DB, error) {
	ndb, err := d.store.DB(idx)
	if err != nil {
		return nil, err
	}
	if d.tx != nil {
		ndb = ndb.WithTx(d.tx)
	}
	return ndb, nil
}

// WithTx binds the view to an open transaction. The caller owns commit and
// rollback; commands on the bound view never commit.
func (d *DB) WithTx(tx *sql.Tx) *DB {
	return &DB{store: d.store, db: d.db, tx: tx}
}

func (d *DB) sess() *storage.Session { return d.store.sess }
func (d *DB) nowMs() int64           { return d.store.sess.NowMs() }

// inTx runs fn in the bound transaction, or in a fresh per-command one.
func (d *DB) inTx(fn func(tx *sql.Tx) error) error {
	if d.tx != nil {
		return fn(d.tx)
	}
	return d.sess().Transaction(fn)
}

// touch feeds the access tracker. Suppressed on transaction-bound views: the
// flush path needs the writer lock the batch already holds.
func (d *DB) touch(key string) {
	if d.tx == nil {
		d.store.tracker.touch(d.db, key)
	}
}

// queryer is the subset of database/sql shared by *sql.Tx and the session
// read path, letting key helpers run inside or outside a transaction.
type queryer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// sessQueryer adapts Session's read path (plus locked Exec) to queryer.
type sessQueryer struct{ s *storage.Session }

func (q sessQueryer) Exec(query string, args ...any) (sql.Result, error) {
	affected, lastID, err := q.s.Exec(query, args...)
	return execResult{affected, lastID}, err
}
func (q sessQueryer) Query(query string, args ...any) (*sql.Rows, error) {
	return q.s.Query(query, args...)
}
func (q sessQueryer) QueryRow(query string, args ...any) *sql.Row {
	return q.s.QueryRow(query, args...)
}

type execResult struct{ affected, lastID int64 }

func (r execResult) LastInsertId() (int64, error) { return r.lastID, nil }
func (r execResult) RowsAffected() (int64, error) { return r.affected, nil }

func (d *DB) reader() queryer {
	if d.tx != nil {
		return d.tx
	}
	return sessQueryer{d.sess()}
}

// keyRow is one row of the keys table.
type keyRow struct {
	id       int64
	typ      KeyType
	expireAt sql.NullInt64
	version  int64
}

// lookupKey fetches the key row regardless of liveness.
func (d *DB) lookupKey(q queryer, key string) (*keyRow, error) {
	row := q.QueryRow(
		`SELECT id, type, expire_at, version FROM keys WHERE db = ? AND key = ?`,
		d.db, key,
	)
	var k keyRow
	var typ int
	if err := row.Scan(&k.id, &typ, &k.expireAt, &k.version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup key: %w", err)
	}
	k.typ = KeyType(typ)
	return &k, nil
}

// liveKey returns the key row if it exists and is not expired. An expired row
// encountered here is deleted in-line (lazy expiry); inside a transaction the
// delete joins the command's atomic scope.
func (d *DB) liveKey(q queryer, key string) (*keyRow, error) {
	k, err := d.lookupKey(q, key)
	if err != nil || k == nil {
		return k, err
	}
	if k.expireAt.Valid && k.expireAt.Int64 <= d.nowMs() {
		if _, err := q.Exec(`DELETE FROM keys WHERE id = ?`, k.id); err != nil {
			return nil, fmt.Errorf("expire key: %w", err)
		}
		return nil, nil
	}
	return k, nil
}

// typedKey returns the live key row, enforcing the expected type.
func (d *DB) typedKey(q queryer, key string, want KeyType) (*keyRow, error) {
	k, err := d.liveKey(q, key)
	if err != nil || k == nil {
		return k, err
	}
	if k.typ != want {
		return nil, ErrWrongType
	}
	return k, nil
}

// createKey inserts a fresh key row. Eviction runs first so the new key never
// pushes the store past its budget.
func (d *DB) createKey(tx *sql.Tx, key string, typ KeyType, expireAt sql.NullInt64) (int64, error) {
	if err := d.store.maybeEvict(tx); err != nil {
		return 0, err
	}
	now := d.nowMs()
	res, err := tx.Exec(
		`INSERT INTO keys (db, key, type, expire_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		d.db, key, int(typ), expireAt, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("create key: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create key id: %w", err)
	}
	return id, nil
}

// touchKey bumps version and updated_at after a mutation.
func (d *DB) touchKey(q queryer, id int64) error {
	_, err := q.Exec(
		`UPDATE keys SET version = version + 1, updated_at = ? WHERE id = ?`,
		d.nowMs(), id,
	)
	if err != nil {
		return fmt.Errorf("touch key: %w", err)
	}
	return nil
}

// deleteKey removes the key row; dependent rows cascade.
func (d *DB) deleteKey(q queryer, id int64) error {
	if _, err := q.Exec(`DELETE FROM keys WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	return nil
}

// deleteKeyIfEmpty drops the key when its container emptied out.
func (d *DB) deleteKeyIfEmpty(q queryer, id int64, table string) error {
	var n int64
	if err := q.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE key_id = ?`, id).Scan(&n); err != nil {
		return fmt.Errorf("count %s: %w", table, err)
	}
	if n == 0 {
		return d.deleteKey(q, id)
	}
	return nil
}
