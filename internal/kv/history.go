package kv

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/russellromney/redlite-sub002/pkg/glob"
)

// Retention bounds a history log: Unlimited, Time(ms) or Count(n).
type Retention struct {
	Kind RetentionKind
	// Ms for KeepTime, N for KeepCount.
	Value int64
}

// RetentionKind enumerates retention flavors.
type RetentionKind int

const (
	KeepUnlimited RetentionKind = iota
	KeepTime
	KeepCount
)

// ParseRetention reads "unlimited", "time:<ms>" or "count:<n>".
func ParseRetention(s string) (Retention, error) {
	if s == "unlimited" {
		return Retention{Kind: KeepUnlimited}, nil
	}
	kind, val, ok := strings.Cut(s, ":")
	if ok {
		n, err := strconv.ParseInt(val, 10, 64)
		if err == nil && n > 0 {
			switch kind {
			case "time":
				return Retention{Kind: KeepTime, Value: n}, nil
			case "count":
				return Retention{Kind: KeepCount, Value: n}, nil
			}
		}
	}
	return Retention{}, fmt.Errorf("invalid retention %q", s)
}

func (r Retention) String() string {
	switch r.Kind {
	case KeepTime:
		return "time:" + strconv.FormatInt(r.Value, 10)
	case KeepCount:
		return "count:" + strconv.FormatInt(r.Value, 10)
	default:
		return "unlimited"
	}
}

// HistoryEntry is one point-in-time snapshot.
type HistoryEntry struct {
	TsMs     int64
	Op       string
	Snapshot []byte
}

// HistoryEnableGlobal turns history on for every key.
func (d *DB) HistoryEnableGlobal(r Retention) error {
	return d.setHistoryConfig("global", "", r.String())
}

// HistoryEnableDatabase turns history on for one database.
func (d *DB) HistoryEnableDatabase(dbIdx int, r Retention) error {
	return d.setHistoryConfig("db", strconv.Itoa(dbIdx), r.String())
}

// HistoryEnableKey turns history on for one key of the selected database.
func (d *DB) HistoryEnableKey(key string, r Retention) error {
	return d.setHistoryConfig("key", d.scopedKey(key), r.String())
}

// HistoryDisableGlobal removes the global toggle.
func (d *DB) HistoryDisableGlobal() error { return d.clearHistoryConfig("global", "") }

// HistoryDisableDatabase removes one database's toggle.
func (d *DB) HistoryDisableDatabase(dbIdx int) error {
	return d.clearHistoryConfig("db", strconv.Itoa(dbIdx))
}

// HistoryDisableKey removes one key's toggle.
func (d *DB) HistoryDisableKey(key string) error {
	return d.clearHistoryConfig("key", d.scopedKey(key))
}

func (d *DB) scopedKey(key string) string {
	return strconv.Itoa(d.db) + "/" + key
}

func (d *DB) setHistoryConfig(scope, target, retention string) error {
	_, err := d.reader().Exec(
		`INSERT INTO history_config (scope, target, retention) VALUES (?, ?, ?)
		 ON CONFLICT(scope, target) DO UPDATE SET retention = excluded.retention`,
		scope, target, retention,
	)
	return err
}

func (d *DB) clearHistoryConfig(scope, target string) error {
	_, err := d.reader().Exec(
		`DELETE FROM history_config WHERE scope = ? AND target = ?`, scope, target,
	)
	return err
}

// IsHistoryEnabled reports whether writes to key are being logged.
func (d *DB) IsHistoryEnabled(key string) (bool, error) {
	r, err := d.historyRetention(d.reader(), key)
	if err != nil {
		return false, err
	}
	return r != nil, nil
}

// historyRetention resolves key > db > global scope precedence.
func (d *DB) historyRetention(q queryer, key string) (*Retention, error) {
	lookups := [][2]string{
		{"key", d.scopedKey(key)},
		{"db", strconv.Itoa(d.db)},
		{"global", ""},
	}
	for _, l := range lookups {
		var raw string
		err := q.QueryRow(
			`SELECT retention FROM history_config WHERE scope = ? AND target = ?`, l[0], l[1],
		).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("history config: %w", err)
		}
		r, err := ParseRetention(raw)
		if err != nil {
			return nil, err
		}
		return &r, nil
	}
	return nil, nil
}

// recordHistory appends a snapshot for key when history covers it, then
// applies the retention bound. Runs inside the mutating command's
// transaction.
func (d *DB) recordHistory(tx *sql.Tx, key, op string, snapshot []byte) error {
	r, err := d.historyRetention(tx, key)
	if err != nil || r == nil {
		return err
	}
	now := d.nowMs()
	if _, err := tx.Exec(
		`INSERT INTO history (db, key, ts_ms, op, snapshot) VALUES (?, ?, ?, ?, ?)`,
		d.db, key, now, op, snapshot,
	); err != nil {
		return fmt.Errorf("history append: %w", err)
	}

	switch r.Kind {
	case KeepTime:
		if _, err := tx.Exec(
			`DELETE FROM history WHERE db = ? AND key = ? AND ts_ms < ?`,
			d.db, key, now-r.Value,
		); err != nil {
			return fmt.Errorf("history retention: %w", err)
		}
	case KeepCount:
		if _, err := tx.Exec(
			`DELETE FROM history WHERE id IN (
				SELECT id FROM history WHERE db = ? AND key = ?
				ORDER BY ts_ms DESC, id DESC LIMIT -1 OFFSET ?
			)`, d.db, key, r.Value,
		); err != nil {
			return fmt.Errorf("history retention: %w", err)
		}
	}
	return nil
}

// HistoryGet returns snapshots for key between fromMs and toMs (0 = open),
// newest first, capped at limit (0 = all).
func (d *DB) HistoryGet(key string, fromMs, toMs, limit int64) ([]HistoryEntry, error) {
	if toMs == 0 {
		toMs = 1<<63 - 1
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.reader().Query(
		`SELECT ts_ms, op, snapshot FROM history
		 WHERE db = ? AND key = ? AND ts_ms >= ? AND ts_ms <= ?
		 ORDER BY ts_ms DESC, id DESC LIMIT ?`,
		d.db, key, fromMs, toMs, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history get: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.TsMs, &e.Op, &e.Snapshot); err != nil {
			return nil, fmt.Errorf("history get: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// HistoryGetAt answers a point-in-time read: the latest snapshot at or before
// ts. Nil when the key had no value then (or its last op was a delete).
func (d *DB) HistoryGetAt(key string, ts int64) ([]byte, error) {
	var op string
	var snapshot []byte
	err := d.reader().QueryRow(
		`SELECT op, snapshot FROM history
		 WHERE db = ? AND key = ? AND ts_ms <= ?
		 ORDER BY ts_ms DESC, id DESC LIMIT 1`,
		d.db, key, ts,
	).Scan(&op, &snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history get at: %w", err)
	}
	if op == "del" {
		return nil, nil
	}
	return snapshot, nil
}

// HistoryListKeys returns keys with recorded history, optionally filtered by
// a glob pattern.
func (d *DB) HistoryListKeys(pattern string) ([]string, error) {
	rows, err := d.reader().Query(`SELECT DISTINCT key FROM history WHERE db = ?`, d.db)
	if err != nil {
		return nil, fmt.Errorf("history list: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("history list: %w", err)
		}
		if pattern == "" || glob.Match(pattern, key) {
			out = append(out, key)
		}
	}
	return out, rows.Err()
}

// HistoryStats returns (entries, oldestTs, newestTs, distinctKeys) for key,
// or for the whole database when key is empty.
func (d *DB) HistoryStats(key string) (entries int64, oldest, newest *int64, keys int64, err error) {
	where := `db = ?`
	args := []any{d.db}
	if key != "" {
		where += ` AND key = ?`
		args = append(args, key)
	}
	var oldestN, newestN sql.NullInt64
	err = d.reader().QueryRow(
		`SELECT COUNT(*), MIN(ts_ms), MAX(ts_ms), COUNT(DISTINCT key) FROM history WHERE `+where,
		args...,
	).Scan(&entries, &oldestN, &newestN, &keys)
	if err != nil {
		return 0, nil, nil, 0, fmt.Errorf("history stats: %w", err)
	}
	if oldestN.Valid {
		oldest = &oldestN.Int64
	}
	if newestN.Valid {
		newest = &newestN.Int64
	}
	return entries, oldest, newest, keys, nil
}

// HistoryClear drops key's history; with before > 0 only entries older than
// it. Returns how many rows were removed.
func (d *DB) HistoryClear(key string, before int64) (int64, error) {
	query := `DELETE FROM history WHERE db = ? AND key = ?`
	args := []any{d.db, key}
	if before > 0 {
		query += ` AND ts_ms < ?`
		args = append(args, before)
	}
	res, err := d.reader().Exec(query, args...)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// HistoryPrune drops all history older than the timestamp across databases.
func (d *DB) HistoryPrune(before int64) (int64, error) {
	res, err := d.reader().Exec(`DELETE FROM history WHERE ts_ms < ?`, before)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
