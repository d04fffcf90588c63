package kv

import (
	"database/sql"
	"errors"
	"fmt"
)

// SAdd inserts members and returns how many were new.
func (d *DB) SAdd(key string, members ...[]byte) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	var added int64
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeSet)
		if err != nil {
			return err
		}
		var keyID int64
		if k == nil {
			keyID, err = d.createKey(tx, key, TypeSet, sql.NullInt64{})
			if err != nil {
				return err
			}
		} else {
			keyID = k.id
		}
		for _, m := range members {
			res, err := tx.Exec(`INSERT OR IGNORE INTO sets (key_id, member) VALUES (?, ?)`, keyID, m)
			if err != nil {
				return fmt.Errorf("sadd: %w", err)
			}
			n, _ := res.RowsAffected()
			added += n
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
	return added, nil
}

// SRem removes members, deleting the key when it empties.
func (d *DB) SRem(key string, members ...[]byte) (int64, error) {
	var removed int64
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeSet)
		if err != nil || k == nil {
			return err
		}
		for _, m := range members {
			res, err := tx.Exec(`DELETE FROM sets WHERE key_id = ? AND member = ?`, k.id, m)
			if err != nil {
				return fmt.Errorf("srem: %w", err)
			}
			n, _ := res.RowsAffected()
			removed += n
		}
		if removed > 0 {
			return d.deleteKeyIfEmpty(tx, k.id, "sets")
		}
		return nil
	})
	return removed, err
}

// SMembers returns every member; order is unspecified.
func (d *DB) SMembers(key string) ([][]byte, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeSet)
	if err != nil || k == nil {
		return nil, err
	}
	return d.setMembers(q, k.id)
}

func (d *DB) setMembers(q queryer, keyID int64) ([][]byte, error) {
	rows, err := q.Query(`SELECT member FROM sets WHERE key_id = ?`, keyID)
	if err != nil {
		return nil, fmt.Errorf("smembers: %w", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var m []byte
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("smembers: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SIsMember reports membership.
func (d *DB) SIsMember(key string, member []byte) (bool, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeSet)
	if err != nil || k == nil {
		return false, err
	}
	var one int
	err = q.QueryRow(`SELECT 1 FROM sets WHERE key_id = ? AND member = ?`, k.id, member).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sismember: %w", err)
	}
	return true, nil
}

// SCard returns the member count.
func (d *DB) SCard(key string) (int64, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeSet)
	if err != nil || k == nil {
		return 0, err
	}
	var n int64
	if err := q.QueryRow(`SELECT COUNT(*) FROM sets WHERE key_id = ?`, k.id).Scan(&n); err != nil {
		return 0, fmt.Errorf("scard: %w", err)
	}
	return n, nil
}

// SPop removes and returns up to count random members.
func (d *DB) SPop(key string, count int64) ([][]byte, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: count must be positive", ErrOutOfRange)
	}
	var out [][]byte
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeSet)
		if err != nil || k == nil {
			return err
		}
		rows, err := tx.Query(
			`SELECT id, member FROM sets WHERE key_id = ? ORDER BY RANDOM() LIMIT ?`, k.id, count,
		)
		if err != nil {
			return fmt.Errorf("spop: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			var m []byte
			if err := rows.Scan(&id, &m); err != nil {
				rows.Close()
				return fmt.Errorf("spop: %w", err)
			}
			ids = append(ids, id)
			out = append(out, m)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := tx.Exec(`DELETE FROM sets WHERE id = ?`, id); err != nil {
				return fmt.Errorf("spop: %w", err)
			}
		}
		return d.deleteKeyIfEmpty(tx, k.id, "sets")
	})
	return out, err
}

// SRandMember returns up to count random members without removing them.
// Negative count allows repeats, per Redis.
func (d *DB) SRandMember(key string, count int64) ([][]byte, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeSet)
	if err != nil || k == nil {
		return nil, err
	}
	n := count
	repeat := false
	if n < 0 {
		n = -n
		repeat = true
	}
	var out [][]byte
	if repeat {
		for i := int64(0); i < n; i++ {
			var m []byte
			err := q.QueryRow(`SELECT member FROM sets WHERE key_id = ? ORDER BY RANDOM() LIMIT 1`, k.id).Scan(&m)
			if errors.Is(err, sql.ErrNoRows) {
				return out, nil
			}
			if err != nil {
				return nil, fmt.Errorf("srandmember: %w", err)
			}
			out = append(out, m)
		}
		return out, nil
	}
	rows, err := q.Query(`SELECT member FROM sets WHERE key_id = ? ORDER BY RANDOM() LIMIT ?`, k.id, n)
	if err != nil {
		return nil, fmt.Errorf("srandmember: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m []byte
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("srandmember: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SDiff returns members of the first set absent from the rest.
func (d *DB) SDiff(keys ...string) ([][]byte, error) {
	return d.setOp("EXCEPT", keys)
}

// SInter returns members common to all sets.
func (d *DB) SInter(keys ...string) ([][]byte, error) {
	return d.setOp("INTERSECT", keys)
}

// SUnion returns members present in any set.
func (d *DB) SUnion(keys ...string) ([][]byte, error) {
	return d.setOp("UNION", keys)
}

func (d *DB) setOp(op string, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: at least one key required", ErrSyntax)
	}
	q := d.reader()

	ids := make([]int64, len(keys))
	for i, key := range keys {
		k, err := d.typedKey(q, key, TypeSet)
		if err != nil {
			return nil, err
		}
		if k == nil {
			ids[i] = -1 // no rows ever match
			continue
		}
		ids[i] = k.id
	}

	query := ""
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			query += " " + op + " "
		}
		query += `SELECT member FROM sets WHERE key_id = ?`
		args = append(args, id)
	}

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("set op: %w", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var m []byte
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("set op: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
