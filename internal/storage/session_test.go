package storage

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTest(t *testing.T) *Session {
	t.Helper()
	s, err := Open(":memory:", Options{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenBootstrapsSchema(t *testing.T) {
	s := openTest(t)

	var n int
	err := s.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='keys'`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/redlite.db"

	s, err := Open(path, Options{}, zap.NewNop())
	require.NoError(t, err)
	_, _, err = s.Exec(`INSERT INTO keys (db, key, type, created_at, updated_at) VALUES (0, 'k', 1, 0, 0)`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(path, Options{}, zap.NewNop())
	require.NoError(t, err)
	defer s2.Close()

	var n int
	require.NoError(t, s2.QueryRow(`SELECT COUNT(*) FROM keys`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestExecReportsLastInsertID(t *testing.T) {
	s := openTest(t)

	_, id1, err := s.Exec(`INSERT INTO keys (db, key, type, created_at, updated_at) VALUES (0, 'a', 1, 0, 0)`)
	require.NoError(t, err)
	_, id2, err := s.Exec(`INSERT INTO keys (db, key, type, created_at, updated_at) VALUES (0, 'b', 1, 0, 0)`)
	require.NoError(t, err)
	assert.Greater(t, id2, id1)
}

func TestTransactionCommit(t *testing.T) {
	s := openTest(t)

	err := s.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO keys (db, key, type, created_at, updated_at) VALUES (0, 'k', 1, 0, 0)`)
		return err
	})
	require.NoError(t, err)

	var n int
	require.NoError(t, s.QueryRow(`SELECT COUNT(*) FROM keys`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestTransactionRollbackOnError(t *testing.T) {
	s := openTest(t)

	boom := errors.New("boom")
	err := s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO keys (db, key, type, created_at, updated_at) VALUES (0, 'k', 1, 0, 0)`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, s.QueryRow(`SELECT COUNT(*) FROM keys`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestTransactionRollbackOnPanic(t *testing.T) {
	s := openTest(t)

	assert.Panics(t, func() {
		_ = s.Transaction(func(tx *sql.Tx) error {
			_, _ = tx.Exec(`INSERT INTO keys (db, key, type, created_at, updated_at) VALUES (0, 'k', 1, 0, 0)`)
			panic("boom")
		})
	})

	var n int
	require.NoError(t, s.QueryRow(`SELECT COUNT(*) FROM keys`).Scan(&n))
	assert.Equal(t, 0, n)

	// The writer lock must have been released.
	_, _, err := s.Exec(`INSERT INTO keys (db, key, type, created_at, updated_at) VALUES (0, 'k2', 1, 0, 0)`)
	assert.NoError(t, err)
}

func TestForeignKeyCascade(t *testing.T) {
	s := openTest(t)

	_, id, err := s.Exec(`INSERT INTO keys (db, key, type, created_at, updated_at) VALUES (0, 'k', 1, 0, 0)`)
	require.NoError(t, err)
	_, _, err = s.Exec(`INSERT INTO strings (key_id, value) VALUES (?, ?)`, id, []byte("v"))
	require.NoError(t, err)

	_, _, err = s.Exec(`DELETE FROM keys WHERE id = ?`, id)
	require.NoError(t, err)

	var n int
	require.NoError(t, s.QueryRow(`SELECT COUNT(*) FROM strings`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestNowMsUsesInjectedClock(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	s, err := Open(":memory:", Options{Clock: func() time.Time { return at }}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, int64(1_700_000_000_000), s.NowMs())
}
