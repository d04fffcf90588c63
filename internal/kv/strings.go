package kv

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"time"
)

// SetOptions mirrors the recognized SET options.
type SetOptions struct {
	// TTL, when positive, installs a relative expiry.
	TTL time.Duration
	// ExpireAtMs, when positive, installs an absolute expiry (Unix ms) and
	// wins over TTL.
	ExpireAtMs int64
	// NX: only set when the key does not exist.
	NX bool
	// XX: only set when the key already exists.
	XX bool
	// KeepTTL retains the existing expiry on overwrite. Without it an
	// overwrite clears any previous TTL.
	KeepTTL bool
}

// Get returns the string value, or nil when the key is missing.
func (d *DB) Get(key string) ([]byte, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeString)
	if err != nil || k == nil {
		return nil, err
	}
	var v []byte
	if err := q.QueryRow(`SELECT value FROM strings WHERE key_id = ?`, k.id).Scan(&v); err != nil {
		return nil, fmt.Errorf("get string: %w", err)
	}
	d.touch(key)
	return v, nil
}

// Set stores value under key per opts. Returns false when NX/XX suppressed
// the write.
func (d *DB) Set(key string, value []byte, opts SetOptions) (bool, error) {
	set := false
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.liveKey(tx, key)
		if err != nil {
			return err
		}
		if opts.NX && k != nil {
			return nil
		}
		if opts.XX && k == nil {
			return nil
		}

		expireAt := d.expiryFrom(opts)

		if k != nil {
			if k.typ != TypeString {
				// SET overwrites any previous value regardless of type.
				if err := d.deleteKey(tx, k.id); err != nil {
					return err
				}
				k = nil
			} else {
				if _, err := tx.Exec(`UPDATE strings SET value = ? WHERE key_id = ?`, value, k.id); err != nil {
					return fmt.Errorf("set string: %w", err)
				}
				if opts.KeepTTL && !expireAt.Valid {
					// Retain the current expiry.
					expireAt = k.expireAt
				}
				if _, err := tx.Exec(
					`UPDATE keys SET expire_at = ?, version = version + 1, updated_at = ? WHERE id = ?`,
					expireAt, d.nowMs(), k.id,
				); err != nil {
					return fmt.Errorf("set key meta: %w", err)
				}
			}
		}

		if k == nil {
			id, err := d.createKey(tx, key, TypeString, expireAt)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(`INSERT INTO strings (key_id, value) VALUES (?, ?)`, id, value); err != nil {
				return fmt.Errorf("set string: %w", err)
			}
		}

		set = true
		return d.recordHistory(tx, key, "set", value)
	})
	if err != nil {
		return false, err
	}
	if set {
		d.touch(key)
	}
	return set, nil
}

func (d *DB) expiryFrom(opts SetOptions) sql.NullInt64 {
	switch {
	case opts.ExpireAtMs > 0:
		return sql.NullInt64{Int64: opts.ExpireAtMs, Valid: true}
	case opts.TTL > 0:
		return sql.NullInt64{Int64: d.nowMs() + opts.TTL.Milliseconds(), Valid: true}
	default:
		return sql.NullInt64{}
	}
}

// GetDel returns the value and removes the key.
func (d *DB) GetDel(key string) ([]byte, error) {
	var out []byte
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeString)
		if err != nil || k == nil {
			return err
		}
		if err := tx.QueryRow(`SELECT value FROM strings WHERE key_id = ?`, k.id).Scan(&out); err != nil {
			return fmt.Errorf("getdel: %w", err)
		}
		if err := d.recordHistory(tx, key, "del", out); err != nil {
			return err
		}
		return d.deleteKey(tx, k.id)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Append concatenates value onto the existing string (creating it when
// missing) and returns the new length.
func (d *DB) Append(key string, value []byte) (int64, error) {
	var n int64
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeString)
		if err != nil {
			return err
		}
		if k == nil {
			id, err := d.createKey(tx, key, TypeString, sql.NullInt64{})
			if err != nil {
				return err
			}
			if _, err := tx.Exec(`INSERT INTO strings (key_id, value) VALUES (?, ?)`, id, value); err != nil {
				return fmt.Errorf("append: %w", err)
			}
			n = int64(len(value))
			return nil
		}
		var cur []byte
		if err := tx.QueryRow(`SELECT value FROM strings WHERE key_id = ?`, k.id).Scan(&cur); err != nil {
			return fmt.Errorf("append: %w", err)
		}
		cur = append(cur, value...)
		if _, err := tx.Exec(`UPDATE strings SET value = ? WHERE key_id = ?`, cur, k.id); err != nil {
			return fmt.Errorf("append: %w", err)
		}
		n = int64(len(cur))
		return d.touchKey(tx, k.id)
	})
	return n, err
}

// Strlen returns the value's byte length, 0 for missing keys.
func (d *DB) Strlen(key string) (int64, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeString)
	if err != nil || k == nil {
		return 0, err
	}
	var n int64
	if err := q.QueryRow(`SELECT LENGTH(value) FROM strings WHERE key_id = ?`, k.id).Scan(&n); err != nil {
		return 0, fmt.Errorf("strlen: %w", err)
	}
	return n, nil
}

// GetRange returns the substring from start to end inclusive, with negative
// indices counting from the end.
func (d *DB) GetRange(key string, start, end int64) ([]byte, error) {
	v, err := d.Get(key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return []byte{}, nil
	}
	n := int64(len(v))
	start = clampIndex(start, n)
	end = clampIndex(end, n)
	if end >= n {
		end = n - 1
	}
	if start > end || n == 0 {
		return []byte{}, nil
	}
	return v[start : end+1], nil
}

// SetRange overwrites bytes from offset, zero-padding any gap, and returns
// the new length.
func (d *DB) SetRange(key string, offset int64, value []byte) (int64, error) {
	if offset < 0 {
		return 0, fmt.Errorf("%w: offset is out of range", ErrOutOfRange)
	}
	var n int64
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeString)
		if err != nil {
			return err
		}
		var cur []byte
		if k != nil {
			if err := tx.QueryRow(`SELECT value FROM strings WHERE key_id = ?`, k.id).Scan(&cur); err != nil {
				return fmt.Errorf("setrange: %w", err)
			}
		}
		need := offset + int64(len(value))
		if int64(len(cur)) < need {
			grown := make([]byte, need)
			copy(grown, cur)
			cur = grown
		}
		copy(cur[offset:], value)

		if k == nil {
			id, err := d.createKey(tx, key, TypeString, sql.NullInt64{})
			if err != nil {
				return err
			}
			if _, err := tx.Exec(`INSERT INTO strings (key_id, value) VALUES (?, ?)`, id, cur); err != nil {
				return fmt.Errorf("setrange: %w", err)
			}
		} else {
			if _, err := tx.Exec(`UPDATE strings SET value = ? WHERE key_id = ?`, cur, k.id); err != nil {
				return fmt.Errorf("setrange: %w", err)
			}
			if err := d.touchKey(tx, k.id); err != nil {
				return err
			}
		}
		n = int64(len(cur))
		return nil
	})
	return n, err
}

// Incr adds 1 to the integer value.
func (d *DB) Incr(key string) (int64, error) { return d.IncrBy(key, 1) }

// Decr subtracts 1 from the integer value.
func (d *DB) Decr(key string) (int64, error) { return d.IncrBy(key, -1) }

// DecrBy subtracts delta from the integer value.
func (d *DB) DecrBy(key string, delta int64) (int64, error) {
	if delta == math.MinInt64 {
		return 0, ErrNotInteger
	}
	return d.IncrBy(key, -delta)
}

// IncrBy adds delta to the integer value, creating the key at 0. Overflow is
// an error, never wraparound.
func (d *DB) IncrBy(key string, delta int64) (int64, error) {
	var out int64
	err := d.inTx(func(tx *sql.Tx) error {
		cur, k, err := d.readInt(tx, key)
		if err != nil {
			return err
		}
		next, ok := addChecked(cur, delta)
		if !ok {
			return fmt.Errorf("%w: increment or decrement would overflow", ErrNotInteger)
		}
		out = next
		return d.writeString(tx, key, k, []byte(strconv.FormatInt(next, 10)))
	})
	return out, err
}

// IncrByFloat adds delta to the float value; the result is stored as its
// shortest round-trip decimal form.
func (d *DB) IncrByFloat(key string, delta float64) (float64, error) {
	var out float64
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeString)
		if err != nil {
			return err
		}
		cur := 0.0
		if k != nil {
			var raw []byte
			if err := tx.QueryRow(`SELECT value FROM strings WHERE key_id = ?`, k.id).Scan(&raw); err != nil {
				return fmt.Errorf("incrbyfloat: %w", err)
			}
			cur, err = strconv.ParseFloat(string(raw), 64)
			if err != nil {
				return ErrNotFloat
			}
		}
		next := cur + delta
		if math.IsNaN(next) || math.IsInf(next, 0) {
			return fmt.Errorf("%w: increment would produce NaN or Infinity", ErrNotFloat)
		}
		out = next
		return d.writeString(tx, key, k, []byte(strconv.FormatFloat(next, 'f', -1, 64)))
	})
	return out, err
}

// readInt loads the current integer value (0 when missing).
func (d *DB) readInt(tx *sql.Tx, key string) (int64, *keyRow, error) {
	k, err := d.typedKey(tx, key, TypeString)
	if err != nil {
		return 0, nil, err
	}
	if k == nil {
		return 0, nil, nil
	}
	var raw []byte
	if err := tx.QueryRow(`SELECT value FROM strings WHERE key_id = ?`, k.id).Scan(&raw); err != nil {
		return 0, nil, fmt.Errorf("read int: %w", err)
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, nil, ErrNotInteger
	}
	return v, k, nil
}

// writeString updates or creates the string row for key, preserving TTL.
func (d *DB) writeString(tx *sql.Tx, key string, k *keyRow, value []byte) error {
	if k == nil {
		id, err := d.createKey(tx, key, TypeString, sql.NullInt64{})
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO strings (key_id, value) VALUES (?, ?)`, id, value); err != nil {
			return fmt.Errorf("write string: %w", err)
		}
		return d.recordHistory(tx, key, "set", value)
	}
	if _, err := tx.Exec(`UPDATE strings SET value = ? WHERE key_id = ?`, value, k.id); err != nil {
		return fmt.Errorf("write string: %w", err)
	}
	if err := d.touchKey(tx, k.id); err != nil {
		return err
	}
	return d.recordHistory(tx, key, "set", value)
}

// MGet returns one entry per key; missing or wrong-type keys yield nil.
func (d *DB) MGet(keys ...string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	q := d.reader()
	for i, key := range keys {
		k, err := d.liveKey(q, key)
		if err != nil {
			return nil, err
		}
		if k == nil || k.typ != TypeString {
			continue
		}
		var v []byte
		if err := q.QueryRow(`SELECT value FROM strings WHERE key_id = ?`, k.id).Scan(&v); err != nil {
			return nil, fmt.Errorf("mget: %w", err)
		}
		out[i] = v
	}
	return out, nil
}

// MSet sets every pair atomically.
func (d *DB) MSet(pairs map[string][]byte) error {
	return d.inTx(func(tx *sql.Tx) error {
		for key, value := range pairs {
			k, err := d.liveKey(tx, key)
			if err != nil {
				return err
			}
			if k != nil && k.typ != TypeString {
				if err := d.deleteKey(tx, k.id); err != nil {
					return err
				}
				k = nil
			}
			if k != nil {
				if _, err := tx.Exec(`UPDATE strings SET value = ? WHERE key_id = ?`, value, k.id); err != nil {
					return fmt.Errorf("mset: %w", err)
				}
				if _, err := tx.Exec(
					`UPDATE keys SET expire_at = NULL, version = version + 1, updated_at = ? WHERE id = ?`,
					d.nowMs(), k.id,
				); err != nil {
					return fmt.Errorf("mset meta: %w", err)
				}
			} else {
				id, err := d.createKey(tx, key, TypeString, sql.NullInt64{})
				if err != nil {
					return err
				}
				if _, err := tx.Exec(`INSERT INTO strings (key_id, value) VALUES (?, ?)`, id, value); err != nil {
					return fmt.Errorf("mset: %w", err)
				}
			}
			if err := d.recordHistory(tx, key, "set", value); err != nil {
				return err
			}
		}
		return nil
	})
}

// clampIndex resolves a possibly-negative index against length n, clamping
// below at 0.
func clampIndex(i, n int64) int64 {
	if i < 0 {
		i += n
		if i < 0 {
			i = 0
		}
	}
	return i
}

func addChecked(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}
