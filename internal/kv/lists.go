package kv

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
)

// ListEnd selects which end of a list LMOVE works on.
type ListEnd int

const (
	// Left is the head.
	Left ListEnd = iota
	// Right is the tail.
	Right
)

// LPush prepends values and returns the new length.
func (d *DB) LPush(key string, values ...[]byte) (int64, error) {
	return d.push(key, values, Left, true)
}

// RPush appends values and returns the new length.
func (d *DB) RPush(key string, values ...[]byte) (int64, error) {
	return d.push(key, values, Right, true)
}

// LPushX prepends only when the list already exists.
func (d *DB) LPushX(key string, values ...[]byte) (int64, error) {
	return d.push(key, values, Left, false)
}

// RPushX appends only when the list already exists.
func (d *DB) RPushX(key string, values ...[]byte) (int64, error) {
	return d.push(key, values, Right, false)
}

// push maintains the position column without renumbering: LPUSH takes
// MIN(pos)-1, RPUSH MAX(pos)+1. Positions are REAL holding integral values,
// giving 2^53 pushes per direction before precision matters; the vacuum pass
// renumbers under the writer lock to reset the range.
func (d *DB) push(key string, values [][]byte, end ListEnd, create bool) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	var length int64
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeList)
		if err != nil {
			return err
		}
		if k == nil && !create {
			return nil
		}
		var keyID int64
		if k == nil {
			keyID, err = d.createKey(tx, key, TypeList, sql.NullInt64{})
			if err != nil {
				return err
			}
		} else {
			keyID = k.id
		}

		if err := d.pushAt(tx, keyID, values, end); err != nil {
			return err
		}

		if err := tx.QueryRow(`SELECT COUNT(*) FROM lists WHERE key_id = ?`, keyID).Scan(&length); err != nil {
			return fmt.Errorf("llen: %w", err)
		}
		if k != nil {
			return d.touchKey(tx, keyID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	d.touch(key)
	return length, nil
}

func (d *DB) pushAt(tx *sql.Tx, keyID int64, values [][]byte, end ListEnd) error {
	var pos float64
	var agg string
	if end == Left {
		agg = `SELECT COALESCE(MIN(pos), 0) FROM lists WHERE key_id = ?`
	} else {
		agg = `SELECT COALESCE(MAX(pos), 0) FROM lists WHERE key_id = ?`
	}
	if err := tx.QueryRow(agg, keyID).Scan(&pos); err != nil {
		return fmt.Errorf("list bounds: %w", err)
	}
	for _, v := range values {
		if end == Left {
			pos--
		} else {
			pos++
		}
		if _, err := tx.Exec(`INSERT INTO lists (key_id, pos, value) VALUES (?, ?, ?)`, keyID, pos, v); err != nil {
			return fmt.Errorf("push: %w", err)
		}
	}
	return nil
}

// LPop removes and returns up to count entries from the head.
func (d *DB) LPop(key string, count int64) ([][]byte, error) {
	return d.pop(key, count, Left)
}

// RPop removes and returns up to count entries from the tail.
func (d *DB) RPop(key string, count int64) ([][]byte, error) {
	return d.pop(key, count, Right)
}

func (d *DB) pop(key string, count int64, end ListEnd) ([][]byte, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: count must be positive", ErrOutOfRange)
	}
	var out [][]byte
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeList)
		if err != nil || k == nil {
			return err
		}
		out, err = d.popAt(tx, k.id, count, end)
		if err != nil {
			return err
		}
		return d.deleteKeyIfEmpty(tx, k.id, "lists")
	})
	return out, err
}

func (d *DB) popAt(tx *sql.Tx, keyID, count int64, end ListEnd) ([][]byte, error) {
	order := "ASC"
	if end == Right {
		order = "DESC"
	}
	rows, err := tx.Query(
		`SELECT id, value FROM lists WHERE key_id = ? ORDER BY pos `+order+` LIMIT ?`,
		keyID, count,
	)
	if err != nil {
		return nil, fmt.Errorf("pop: %w", err)
	}
	var out [][]byte
	var ids []int64
	for rows.Next() {
		var id int64
		var v []byte
		if err := rows.Scan(&id, &v); err != nil {
			rows.Close()
			return nil, fmt.Errorf("pop: %w", err)
		}
		ids = append(ids, id)
		out = append(out, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM lists WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("pop: %w", err)
		}
	}
	return out, nil
}

// LRange returns entries from start to stop inclusive, negative indices
// counting from the tail.
func (d *DB) LRange(key string, start, stop int64) ([][]byte, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeList)
	if err != nil || k == nil {
		return nil, err
	}
	n, err := d.listLen(q, k.id)
	if err != nil {
		return nil, err
	}
	start, stop, empty := resolveRange(start, stop, n)
	if empty {
		return nil, nil
	}

	rows, err := q.Query(
		`SELECT value FROM lists WHERE key_id = ? ORDER BY pos ASC LIMIT ? OFFSET ?`,
		k.id, stop-start+1, start,
	)
	if err != nil {
		return nil, fmt.Errorf("lrange: %w", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("lrange: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// LIndex returns the entry at index, nil when out of bounds.
func (d *DB) LIndex(key string, index int64) ([]byte, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeList)
	if err != nil || k == nil {
		return nil, err
	}
	n, err := d.listLen(q, k.id)
	if err != nil {
		return nil, err
	}
	if index < 0 {
		index += n
	}
	if index < 0 || index >= n {
		return nil, nil
	}
	var v []byte
	err = q.QueryRow(
		`SELECT value FROM lists WHERE key_id = ? ORDER BY pos ASC LIMIT 1 OFFSET ?`,
		k.id, index,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lindex: %w", err)
	}
	return v, nil
}

// LLen returns the list length.
func (d *DB) LLen(key string) (int64, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeList)
	if err != nil || k == nil {
		return 0, err
	}
	return d.listLen(q, k.id)
}

func (d *DB) listLen(q queryer, keyID int64) (int64, error) {
	var n int64
	if err := q.QueryRow(`SELECT COUNT(*) FROM lists WHERE key_id = ?`, keyID).Scan(&n); err != nil {
		return 0, fmt.Errorf("llen: %w", err)
	}
	return n, nil
}

// LSet overwrites the entry at index; erroring when the key is missing or
// index is out of bounds.
func (d *DB) LSet(key string, index int64, value []byte) error {
	return d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeList)
		if err != nil {
			return err
		}
		if k == nil {
			return ErrNotFound
		}
		n, err := d.listLen(tx, k.id)
		if err != nil {
			return err
		}
		if index < 0 {
			index += n
		}
		if index < 0 || index >= n {
			return ErrOutOfRange
		}
		var id int64
		if err := tx.QueryRow(
			`SELECT id FROM lists WHERE key_id = ? ORDER BY pos ASC LIMIT 1 OFFSET ?`,
			k.id, index,
		).Scan(&id); err != nil {
			return fmt.Errorf("lset: %w", err)
		}
		if _, err := tx.Exec(`UPDATE lists SET value = ? WHERE id = ?`, value, id); err != nil {
			return fmt.Errorf("lset: %w", err)
		}
		return d.touchKey(tx, k.id)
	})
}

// LTrim keeps only the entries between start and stop inclusive.
func (d *DB) LTrim(key string, start, stop int64) error {
	return d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeList)
		if err != nil || k == nil {
			return err
		}
		n, err := d.listLen(tx, k.id)
		if err != nil {
			return err
		}
		rstart, rstop, empty := resolveRange(start, stop, n)
		if empty {
			if _, err := tx.Exec(`DELETE FROM lists WHERE key_id = ?`, k.id); err != nil {
				return fmt.Errorf("ltrim: %w", err)
			}
			return d.deleteKey(tx, k.id)
		}
		// Delete outside the kept window by rank.
		if _, err := tx.Exec(
			`DELETE FROM lists WHERE id IN (
				SELECT id FROM lists WHERE key_id = ? ORDER BY pos ASC LIMIT ?
			)`, k.id, rstart,
		); err != nil {
			return fmt.Errorf("ltrim: %w", err)
		}
		keep := rstop - rstart + 1
		if _, err := tx.Exec(
			`DELETE FROM lists WHERE id IN (
				SELECT id FROM lists WHERE key_id = ? ORDER BY pos ASC LIMIT -1 OFFSET ?
			)`, k.id, keep,
		); err != nil {
			return fmt.Errorf("ltrim: %w", err)
		}
		return d.deleteKeyIfEmpty(tx, k.id, "lists")
	})
}

// LMove atomically pops from src at from and pushes onto dst at to,
// returning the moved element (nil when src is empty).
func (d *DB) LMove(src, dst string, from, to ListEnd) ([]byte, error) {
	var moved []byte
	err := d.inTx(func(tx *sql.Tx) error {
		sk, err := d.typedKey(tx, src, TypeList)
		if err != nil || sk == nil {
			return err
		}
		// Destination type check happens before any mutation so a WRONGTYPE
		// leaves src intact.
		dk, err := d.typedKey(tx, dst, TypeList)
		if err != nil {
			return err
		}

		popped, err := d.popAt(tx, sk.id, 1, from)
		if err != nil {
			return err
		}
		if len(popped) == 0 {
			return nil
		}
		moved = popped[0]

		var dstID int64
		if dk == nil {
			dstID, err = d.createKey(tx, dst, TypeList, sql.NullInt64{})
			if err != nil {
				return err
			}
		} else {
			dstID = dk.id
		}
		if err := d.pushAt(tx, dstID, [][]byte{moved}, to); err != nil {
			return err
		}
		if src != dst {
			if err := d.deleteKeyIfEmpty(tx, sk.id, "lists"); err != nil {
				return err
			}
		}
		return nil
	})
	return moved, err
}

// LPos returns matching indexes for element. rank selects the starting match
// and direction (negative scans from the tail); count caps results (0 = all);
// maxlen bounds compared entries (0 = unbounded).
func (d *DB) LPos(key string, element []byte, rank, count, maxlen int64) ([]int64, error) {
	if rank == 0 {
		rank = 1
	}
	q := d.reader()
	k, err := d.typedKey(q, key, TypeList)
	if err != nil || k == nil {
		return nil, err
	}
	rows, err := q.Query(`SELECT value FROM lists WHERE key_id = ? ORDER BY pos ASC`, k.id)
	if err != nil {
		return nil, fmt.Errorf("lpos: %w", err)
	}
	defer rows.Close()

	var values [][]byte
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("lpos: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	n := int64(len(values))
	all := count == 0
	var out []int64

	scanOne := func(i int64) bool {
		if bytes.Equal(values[i], element) {
			if rank > 1 {
				rank--
				return false
			}
			if rank < -1 {
				rank++
				return false
			}
			out = append(out, i)
			return !all && int64(len(out)) >= count
		}
		return false
	}

	if rank > 0 {
		limit := n
		if maxlen > 0 && maxlen < limit {
			limit = maxlen
		}
		for i := int64(0); i < limit; i++ {
			if scanOne(i) {
				break
			}
		}
	} else {
		limit := int64(0)
		if maxlen > 0 && n-maxlen > limit {
			limit = n - maxlen
		}
		for i := n - 1; i >= limit; i-- {
			if scanOne(i) {
				break
			}
		}
	}
	return out, nil
}

// resolveRange maps Redis start/stop semantics onto [start, stop] offsets.
func resolveRange(start, stop, n int64) (int64, int64, bool) {
	if start < 0 {
		start += n
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop += n
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, true
	}
	return start, stop, false
}
