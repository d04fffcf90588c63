// Package storage owns the SQLite session: one handle, schema bootstrap, and
// the writer lock every mutating command goes through.
//
// Concurrency Model:
//   - All mutating statements are serialized via a single mutex; SQLite's
//     handle is never assumed safe for concurrent writers.
//   - Reads bypass the mutex and rely on WAL snapshot isolation. On :memory:
//     databases (no WAL) the pool is capped at one connection, so reads
//     contend on the same handle instead.
//
// Write Path:
//  1. Lock the writer mutex.
//  2. BEGIN IMMEDIATE, run the statement(s), COMMIT.
//  3. Unlock and return.
//
// Read Path:
//   - Statement goes straight to the pool; WAL readers never block the writer.
package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Options configures Open.
type Options struct {
	// CacheMB sets SQLite's page cache budget in mebibytes. Zero keeps the
	// engine default.
	CacheMB int64
	// Clock overrides the wall-clock source. Nil means time.Now. Tests inject
	// a fake to exercise TTL expiry without sleeping.
	Clock func() time.Time
}

// Session is a handle to one redlite database file (or :memory:).
type Session struct {
	db    *sql.DB
	log   *zap.Logger
	clock func() time.Time

	// mu serializes writers. Held for the duration of Exec and Transaction,
	// never across anything that blocks on the network.
	mu sync.Mutex
}

// Open opens or creates the database at path and runs schema bootstrap.
func Open(path string, opts Options, log *zap.Logger) (*Session, error) {
	log = log.Named("storage")

	dsn := fmt.Sprintf("file:%s?_fk=1&_journal_mode=WAL&_synchronous=NORMAL&_txlock=immediate", path)
	memory := path == ":memory:"
	if memory {
		// A :memory: DSN per connection would give every pool connection its
		// own empty database; shared cache keeps them on one.
		dsn = "file::memory:?mode=memory&cache=shared&_fk=1&_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}

	if opts.CacheMB > 0 {
		// Negative cache_size is KiB.
		if _, err := db.Exec(fmt.Sprintf("PRAGMA cache_size = %d", -opts.CacheMB*1024)); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: set cache size: %w", err)
		}
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	s := &Session{db: db, log: log, clock: clock}

	start := time.Now()
	if err := s.bootstrap(); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("database ready",
		zap.String("path", path),
		zap.Duration("bootstrap", time.Since(start)),
	)
	return s, nil
}

func (s *Session) bootstrap() error {
	for _, ddl := range bootstrapDDL {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("storage: bootstrap: %w", err)
		}
	}
	return nil
}

// Close releases the underlying handle.
func (s *Session) Close() error { return s.db.Close() }

// NowMs is the authoritative wall-clock in Unix milliseconds. All TTL math
// must go through it.
func (s *Session) NowMs() int64 { return s.clock().UnixMilli() }

// Exec runs one mutating statement under the writer lock.
func (s *Session) Exec(query string, args ...any) (affected, lastID int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, 0, fmt.Errorf("storage: exec: %w", err)
	}
	affected, _ = res.RowsAffected()
	lastID, _ = res.LastInsertId()
	return affected, lastID, nil
}

// Query runs a read statement. Callers must Close the rows.
func (s *Session) Query(query string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query: %w", err)
	}
	return rows, nil
}

// QueryRow runs a read statement expected to yield at most one row.
func (s *Session) QueryRow(query string, args ...any) *sql.Row {
	return s.db.QueryRow(query, args...)
}

// Transaction runs fn inside BEGIN IMMEDIATE under the writer lock. Commit on
// nil, rollback on error. A panic inside fn rolls back and re-panics so the
// lock and transaction are released on all exit paths.
func (s *Session) Transaction(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// _txlock=immediate in the DSN makes this a BEGIN IMMEDIATE, taking the
	// write lock up front instead of risking SQLITE_BUSY upgrades mid-tx.
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}

	done := false
	defer func() {
		if !done {
			tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	done = true
	return nil
}
