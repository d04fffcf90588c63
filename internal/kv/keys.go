package kv

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/russellromney/redlite-sub002/pkg/glob"
)

// Del removes keys and returns how many existed.
func (d *DB) Del(keys ...string) (int64, error) {
	var removed int64
	err := d.inTx(func(tx *sql.Tx) error {
		for _, key := range keys {
			k, err := d.liveKey(tx, key)
			if err != nil {
				return err
			}
			if k == nil {
				continue
			}
			if k.typ == TypeString {
				var v []byte
				if err := tx.QueryRow(`SELECT value FROM strings WHERE key_id = ?`, k.id).Scan(&v); err == nil {
					if err := d.recordHistory(tx, key, "del", v); err != nil {
						return err
					}
				}
			}
			if err := d.deleteKey(tx, k.id); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Exists returns how many of the given keys exist, counting repeats.
func (d *DB) Exists(keys ...string) (int64, error) {
	var n int64
	q := d.reader()
	for _, key := range keys {
		k, err := d.liveKey(q, key)
		if err != nil {
			return 0, err
		}
		if k != nil {
			n++
		}
	}
	return n, nil
}

// Type returns the key's type name, "none" when missing.
func (d *DB) Type(key string) (string, error) {
	k, err := d.liveKey(d.reader(), key)
	if err != nil {
		return "", err
	}
	if k == nil {
		return "none", nil
	}
	return k.typ.String(), nil
}

// TTL returns remaining seconds; -1 without expiry, -2 when missing.
func (d *DB) TTL(key string) (int64, error) {
	ms, err := d.PTTL(key)
	if err != nil || ms < 0 {
		return ms, err
	}
	// Round up so a 10s TTL reads 10 immediately after SET.
	return (ms + 999) / 1000, nil
}

// PTTL is TTL in milliseconds.
func (d *DB) PTTL(key string) (int64, error) {
	k, err := d.liveKey(d.reader(), key)
	if err != nil {
		return 0, err
	}
	if k == nil {
		return -2, nil
	}
	if !k.expireAt.Valid {
		return -1, nil
	}
	return k.expireAt.Int64 - d.nowMs(), nil
}

// Expire installs a relative TTL in seconds.
func (d *DB) Expire(key string, seconds int64) (bool, error) {
	return d.expireAtMs(key, d.nowMs()+seconds*1000)
}

// PExpire installs a relative TTL in milliseconds.
func (d *DB) PExpire(key string, ms int64) (bool, error) {
	return d.expireAtMs(key, d.nowMs()+ms)
}

// ExpireAt installs an absolute expiry in Unix seconds.
func (d *DB) ExpireAt(key string, unixSec int64) (bool, error) {
	return d.expireAtMs(key, unixSec*1000)
}

// PExpireAt installs an absolute expiry in Unix milliseconds.
func (d *DB) PExpireAt(key string, unixMs int64) (bool, error) {
	return d.expireAtMs(key, unixMs)
}

func (d *DB) expireAtMs(key string, at int64) (bool, error) {
	ok := false
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.liveKey(tx, key)
		if err != nil || k == nil {
			return err
		}
		if at <= d.nowMs() {
			// Expiring in the past deletes immediately.
			ok = true
			return d.deleteKey(tx, k.id)
		}
		if _, err := tx.Exec(`UPDATE keys SET expire_at = ? WHERE id = ?`, at, k.id); err != nil {
			return fmt.Errorf("expire: %w", err)
		}
		ok = true
		return nil
	})
	return ok, err
}

// Persist clears any expiry; returns whether one was removed.
func (d *DB) Persist(key string) (bool, error) {
	ok := false
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.liveKey(tx, key)
		if err != nil || k == nil {
			return err
		}
		if !k.expireAt.Valid {
			return nil
		}
		if _, err := tx.Exec(`UPDATE keys SET expire_at = NULL WHERE id = ?`, k.id); err != nil {
			return fmt.Errorf("persist: %w", err)
		}
		ok = true
		return nil
	})
	return ok, err
}

// Rename moves src to dst, replacing dst. Errors when src is missing.
func (d *DB) Rename(src, dst string) error {
	return d.rename(src, dst, false)
}

// RenameNX renames only when dst does not exist; returns whether it renamed.
func (d *DB) RenameNX(src, dst string) (bool, error) {
	err := d.rename(src, dst, true)
	if err == errDstExists {
		return false, nil
	}
	return err == nil, err
}

var errDstExists = fmt.Errorf("destination exists")

func (d *DB) rename(src, dst string, nx bool) error {
	return d.inTx(func(tx *sql.Tx) error {
		sk, err := d.liveKey(tx, src)
		if err != nil {
			return err
		}
		if sk == nil {
			return ErrNotFound
		}
		dk, err := d.liveKey(tx, dst)
		if err != nil {
			return err
		}
		if dk != nil {
			if nx {
				return errDstExists
			}
			if err := d.deleteKey(tx, dk.id); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(`UPDATE keys SET key = ?, updated_at = ? WHERE id = ?`,
			dst, d.nowMs(), sk.id); err != nil {
			return fmt.Errorf("rename: %w", err)
		}
		return nil
	})
}

// Keys returns names matching the glob pattern. Expired keys are excluded.
func (d *DB) Keys(pattern string) ([]string, error) {
	rows, err := d.reader().Query(
		`SELECT key FROM keys WHERE db = ? AND (expire_at IS NULL OR expire_at > ?)`,
		d.db, d.nowMs(),
	)
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("keys: %w", err)
		}
		if glob.Match(pattern, key) {
			out = append(out, key)
		}
	}
	return out, rows.Err()
}

// DBSize counts live keys in the selected database.
func (d *DB) DBSize() (int64, error) {
	var n int64
	err := d.reader().QueryRow(
		`SELECT COUNT(*) FROM keys WHERE db = ? AND (expire_at IS NULL OR expire_at > ?)`,
		d.db, d.nowMs(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("dbsize: %w", err)
	}
	return n, nil
}

// FlushDB drops every key in the selected database.
func (d *DB) FlushDB() error {
	return d.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM keys WHERE db = ?`, d.db); err != nil {
			return fmt.Errorf("flushdb: %w", err)
		}
		return nil
	})
}

// TTLDuration is a convenience for embedders: remaining TTL as a Duration,
// false when the key is missing or has no expiry.
func (d *DB) TTLDuration(key string) (time.Duration, bool, error) {
	ms, err := d.PTTL(key)
	if err != nil || ms < 0 {
		return 0, false, err
	}
	return time.Duration(ms) * time.Millisecond, true, nil
}
