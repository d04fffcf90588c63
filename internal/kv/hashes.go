package kv

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// FieldValue is one hash field assignment.
type FieldValue struct {
	Field string
	Value []byte
}

// HSet writes the given fields and returns how many were newly created.
func (d *DB) HSet(key string, pairs ...FieldValue) (int64, error) {
	if len(pairs) == 0 {
		return 0, nil
	}
	var created int64
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeHash)
		if err != nil {
			return err
		}
		var keyID int64
		if k == nil {
			keyID, err = d.createKey(tx, key, TypeHash, sql.NullInt64{})
			if err != nil {
				return err
			}
		} else {
			keyID = k.id
		}

		indexed := d.store.fts.covers(d.db, key)

		for _, fv := range pairs {
			var exists int
			err := tx.QueryRow(`SELECT 1 FROM hashes WHERE key_id = ? AND field = ?`, keyID, fv.Field).Scan(&exists)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				if _, err := tx.Exec(`INSERT INTO hashes (key_id, field, value) VALUES (?, ?, ?)`,
					keyID, fv.Field, fv.Value); err != nil {
					return fmt.Errorf("hset: %w", err)
				}
				created++
			case err != nil:
				return fmt.Errorf("hset: %w", err)
			default:
				if _, err := tx.Exec(`UPDATE hashes SET value = ? WHERE key_id = ? AND field = ?`,
					fv.Value, keyID, fv.Field); err != nil {
					return fmt.Errorf("hset: %w", err)
				}
			}
			if indexed {
				if err := d.ftsUpsert(tx, key, fv.Field, fv.Value); err != nil {
					return err
				}
			}
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
	return created, nil
}

// HGet returns one field's value, nil when key or field is missing.
func (d *DB) HGet(key, field string) ([]byte, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeHash)
	if err != nil || k == nil {
		return nil, err
	}
	var v []byte
	err = q.QueryRow(`SELECT value FROM hashes WHERE key_id = ? AND field = ?`, k.id, field).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hget: %w", err)
	}
	d.touch(key)
	return v, nil
}

// HMGet returns one entry per field, nil for missing fields.
func (d *DB) HMGet(key string, fields ...string) ([][]byte, error) {
	out := make([][]byte, len(fields))
	q := d.reader()
	k, err := d.typedKey(q, key, TypeHash)
	if err != nil || k == nil {
		return out, err
	}
	for i, f := range fields {
		var v []byte
		err := q.QueryRow(`SELECT value FROM hashes WHERE key_id = ? AND field = ?`, k.id, f).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("hmget: %w", err)
		}
		out[i] = v
	}
	return out, nil
}

// HGetAll returns every field/value pair.
func (d *DB) HGetAll(key string) ([]FieldValue, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeHash)
	if err != nil || k == nil {
		return nil, err
	}
	rows, err := q.Query(`SELECT field, value FROM hashes WHERE key_id = ?`, k.id)
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	defer rows.Close()

	var out []FieldValue
	for rows.Next() {
		var fv FieldValue
		if err := rows.Scan(&fv.Field, &fv.Value); err != nil {
			return nil, fmt.Errorf("hgetall: %w", err)
		}
		out = append(out, fv)
	}
	return out, rows.Err()
}

// HDel removes fields, deleting the key when the last field goes.
func (d *DB) HDel(key string, fields ...string) (int64, error) {
	var removed int64
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeHash)
		if err != nil || k == nil {
			return err
		}
		indexed := d.store.fts.covers(d.db, key)
		for _, f := range fields {
			res, err := tx.Exec(`DELETE FROM hashes WHERE key_id = ? AND field = ?`, k.id, f)
			if err != nil {
				return fmt.Errorf("hdel: %w", err)
			}
			n, _ := res.RowsAffected()
			removed += n
			if indexed && n > 0 {
				if err := d.ftsDelete(tx, key, f); err != nil {
					return err
				}
			}
		}
		if removed > 0 {
			return d.deleteKeyIfEmpty(tx, k.id, "hashes")
		}
		return nil
	})
	return removed, err
}

// HExists reports whether the field is present.
func (d *DB) HExists(key, field string) (bool, error) {
	v, err := d.HGet(key, field)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// HLen returns the field count.
func (d *DB) HLen(key string) (int64, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeHash)
	if err != nil || k == nil {
		return 0, err
	}
	var n int64
	if err := q.QueryRow(`SELECT COUNT(*) FROM hashes WHERE key_id = ?`, k.id).Scan(&n); err != nil {
		return 0, fmt.Errorf("hlen: %w", err)
	}
	return n, nil
}

// HKeys returns all field names.
func (d *DB) HKeys(key string) ([]string, error) {
	all, err := d.HGetAll(key)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(all))
	for i, fv := range all {
		out[i] = fv.Field
	}
	return out, nil
}

// HVals returns all values.
func (d *DB) HVals(key string) ([][]byte, error) {
	all, err := d.HGetAll(key)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(all))
	for i, fv := range all {
		out[i] = fv.Value
	}
	return out, nil
}

// HIncrBy adds delta to an integer-valued field, creating it at 0.
func (d *DB) HIncrBy(key, field string, delta int64) (int64, error) {
	var out int64
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeHash)
		if err != nil {
			return err
		}
		var keyID int64
		cur := int64(0)
		exists := false
		if k != nil {
			keyID = k.id
			var raw []byte
			err := tx.QueryRow(`SELECT value FROM hashes WHERE key_id = ? AND field = ?`, keyID, field).Scan(&raw)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return fmt.Errorf("hincrby: %w", err)
			default:
				cur, err = strconv.ParseInt(string(raw), 10, 64)
				if err != nil {
					return fmt.Errorf("%w: hash value is not an integer", ErrNotInteger)
				}
				exists = true
			}
		} else {
			keyID, err = d.createKey(tx, key, TypeHash, sql.NullInt64{})
			if err != nil {
				return err
			}
		}

		next, ok := addChecked(cur, delta)
		if !ok {
			return fmt.Errorf("%w: increment or decrement would overflow", ErrNotInteger)
		}
		raw := []byte(strconv.FormatInt(next, 10))
		if exists {
			if _, err := tx.Exec(`UPDATE hashes SET value = ? WHERE key_id = ? AND field = ?`, raw, keyID, field); err != nil {
				return fmt.Errorf("hincrby: %w", err)
			}
		} else {
			if _, err := tx.Exec(`INSERT INTO hashes (key_id, field, value) VALUES (?, ?, ?)`, keyID, field, raw); err != nil {
				return fmt.Errorf("hincrby: %w", err)
			}
		}
		out = next
		if k != nil {
			return d.touchKey(tx, keyID)
		}
		return nil
	})
	return out, err
}
