package kv

import (
	"fmt"
	"strconv"

	"github.com/russellromney/redlite-sub002/pkg/glob"
)

// ScanResult carries one SCAN page.
type ScanResult struct {
	// Cursor is "0" when the scan is complete.
	Cursor string
	Keys   []string
}

// Scan walks the keyspace in rowid order. The cursor is the last-seen rowid
// as decimal ASCII; "0" starts and terminates a scan. Keys that exist for the
// whole scan are returned at least once; keys created or deleted mid-scan may
// or may not appear, and callers must tolerate duplicates.
func (d *DB) Scan(cursor string, pattern string, count int64) (*ScanResult, error) {
	after, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = 10
	}

	rows, err := d.reader().Query(
		`SELECT id, key FROM keys
		 WHERE db = ? AND id > ? AND (expire_at IS NULL OR expire_at > ?)
		 ORDER BY id ASC LIMIT ?`,
		d.db, after, d.nowMs(), count,
	)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	defer rows.Close()

	res := &ScanResult{Cursor: "0"}
	var last int64
	var n int64
	for rows.Next() {
		var id int64
		var key string
		if err := rows.Scan(&id, &key); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		last = id
		n++
		if pattern == "" || glob.Match(pattern, key) {
			res.Keys = append(res.Keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if n == count {
		// A full page may have more behind it.
		res.Cursor = strconv.FormatInt(last, 10)
	}
	return res, nil
}

// HScanResult carries one HSCAN page.
type HScanResult struct {
	Cursor string
	Items  []FieldValue
}

// HScan pages over a hash's fields.
func (d *DB) HScan(key, cursor, pattern string, count int64) (*HScanResult, error) {
	after, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = 10
	}
	res := &HScanResult{Cursor: "0"}

	q := d.reader()
	k, err := d.typedKey(q, key, TypeHash)
	if err != nil || k == nil {
		return res, err
	}

	rows, err := q.Query(
		`SELECT id, field, value FROM hashes WHERE key_id = ? AND id > ? ORDER BY id ASC LIMIT ?`,
		k.id, after, count,
	)
	if err != nil {
		return nil, fmt.Errorf("hscan: %w", err)
	}
	defer rows.Close()

	var last, n int64
	for rows.Next() {
		var id int64
		var fv FieldValue
		if err := rows.Scan(&id, &fv.Field, &fv.Value); err != nil {
			return nil, fmt.Errorf("hscan: %w", err)
		}
		last = id
		n++
		if pattern == "" || glob.Match(pattern, fv.Field) {
			res.Items = append(res.Items, fv)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if n == count {
		res.Cursor = strconv.FormatInt(last, 10)
	}
	return res, nil
}

// SScanResult carries one SSCAN page.
type SScanResult struct {
	Cursor  string
	Members [][]byte
}

// SScan pages over a set's members.
func (d *DB) SScan(key, cursor, pattern string, count int64) (*SScanResult, error) {
	after, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = 10
	}
	res := &SScanResult{Cursor: "0"}

	q := d.reader()
	k, err := d.typedKey(q, key, TypeSet)
	if err != nil || k == nil {
		return res, err
	}

	rows, err := q.Query(
		`SELECT id, member FROM sets WHERE key_id = ? AND id > ? ORDER BY id ASC LIMIT ?`,
		k.id, after, count,
	)
	if err != nil {
		return nil, fmt.Errorf("sscan: %w", err)
	}
	defer rows.Close()

	var last, n int64
	for rows.Next() {
		var id int64
		var m []byte
		if err := rows.Scan(&id, &m); err != nil {
			return nil, fmt.Errorf("sscan: %w", err)
		}
		last = id
		n++
		if pattern == "" || glob.MatchBytes([]byte(pattern), m) {
			res.Members = append(res.Members, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if n == count {
		res.Cursor = strconv.FormatInt(last, 10)
	}
	return res, nil
}

// ZScanResult carries one ZSCAN page.
type ZScanResult struct {
	Cursor  string
	Members []ZMember
}

// ZScan pages over a sorted set's members with scores.
func (d *DB) ZScan(key, cursor, pattern string, count int64) (*ZScanResult, error) {
	after, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = 10
	}
	res := &ZScanResult{Cursor: "0"}

	q := d.reader()
	k, err := d.typedKey(q, key, TypeZSet)
	if err != nil || k == nil {
		return res, err
	}

	rows, err := q.Query(
		`SELECT id, member, score FROM zsets WHERE key_id = ? AND id > ? ORDER BY id ASC LIMIT ?`,
		k.id, after, count,
	)
	if err != nil {
		return nil, fmt.Errorf("zscan: %w", err)
	}
	defer rows.Close()

	var last, n int64
	for rows.Next() {
		var id int64
		var m ZMember
		if err := rows.Scan(&id, &m.Member, &m.Score); err != nil {
			return nil, fmt.Errorf("zscan: %w", err)
		}
		last = id
		n++
		if pattern == "" || glob.MatchBytes([]byte(pattern), m.Member) {
			res.Members = append(res.Members, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if n == count {
		res.Cursor = strconv.FormatInt(last, 10)
	}
	return res, nil
}

func parseCursor(cursor string) (int64, error) {
	if cursor == "" || cursor == "0" {
		return 0, nil
	}
	n, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || n < 0 {
		return 0, ErrInvalidCursor
	}
	return n, nil
}
