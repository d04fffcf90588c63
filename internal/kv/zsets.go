package kv

import (
	"database/sql"
	"errors"
	"fmt"
)

// ZMember pairs a member with its score.
type ZMember struct {
	Member []byte
	Score  float64
}

// Aggregate selects how ZINTERSTORE/ZUNIONSTORE combine scores.
type Aggregate int

const (
	AggSum Aggregate = iota
	AggMin
	AggMax
)

// ZAdd upserts members and returns how many were newly added.
func (d *DB) ZAdd(key string, members ...ZMember) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	var added int64
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeZSet)
		if err != nil {
			return err
		}
		var keyID int64
		if k == nil {
			keyID, err = d.createKey(tx, key, TypeZSet, sql.NullInt64{})
			if err != nil {
				return err
			}
		} else {
			keyID = k.id
		}
		for _, m := range members {
			var one int
			err := tx.QueryRow(`SELECT 1 FROM zsets WHERE key_id = ? AND member = ?`, keyID, m.Member).Scan(&one)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				if _, err := tx.Exec(`INSERT INTO zsets (key_id, member, score) VALUES (?, ?, ?)`,
					keyID, m.Member, m.Score); err != nil {
					return fmt.Errorf("zadd: %w", err)
				}
				added++
			case err != nil:
				return fmt.Errorf("zadd: %w", err)
			default:
				if _, err := tx.Exec(`UPDATE zsets SET score = ? WHERE key_id = ? AND member = ?`,
					m.Score, keyID, m.Member); err != nil {
					return fmt.Errorf("zadd: %w", err)
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
	return added, nil
}

// ZRem removes members, deleting the key when it empties.
func (d *DB) ZRem(key string, members ...[]byte) (int64, error) {
	var removed int64
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeZSet)
		if err != nil || k == nil {
			return err
		}
		for _, m := range members {
			res, err := tx.Exec(`DELETE FROM zsets WHERE key_id = ? AND member = ?`, k.id, m)
			if err != nil {
				return fmt.Errorf("zrem: %w", err)
			}
			n, _ := res.RowsAffected()
			removed += n
		}
		if removed > 0 {
			return d.deleteKeyIfEmpty(tx, k.id, "zsets")
		}
		return nil
	})
	return removed, err
}

// ZScore returns the member's score, or nil when absent.
func (d *DB) ZScore(key string, member []byte) (*float64, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeZSet)
	if err != nil || k == nil {
		return nil, err
	}
	var score float64
	err = q.QueryRow(`SELECT score FROM zsets WHERE key_id = ? AND member = ?`, k.id, member).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("zscore: %w", err)
	}
	return &score, nil
}

// ZCard returns the member count.
func (d *DB) ZCard(key string) (int64, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeZSet)
	if err != nil || k == nil {
		return 0, err
	}
	var n int64
	if err := q.QueryRow(`SELECT COUNT(*) FROM zsets WHERE key_id = ?`, k.id).Scan(&n); err != nil {
		return 0, fmt.Errorf("zcard: %w", err)
	}
	return n, nil
}

// ZCount counts members with min ≤ score ≤ max.
func (d *DB) ZCount(key string, min, max float64) (int64, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeZSet)
	if err != nil || k == nil {
		return 0, err
	}
	var n int64
	if err := q.QueryRow(
		`SELECT COUNT(*) FROM zsets WHERE key_id = ? AND score >= ? AND score <= ?`,
		k.id, min, max,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("zcount: %w", err)
	}
	return n, nil
}

// ZIncrBy adds delta to the member's score, creating it at delta.
func (d *DB) ZIncrBy(key string, delta float64, member []byte) (float64, error) {
	var out float64
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeZSet)
		if err != nil {
			return err
		}
		var keyID int64
		if k == nil {
			keyID, err = d.createKey(tx, key, TypeZSet, sql.NullInt64{})
			if err != nil {
				return err
			}
		} else {
			keyID = k.id
		}
		var cur float64
		err = tx.QueryRow(`SELECT score FROM zsets WHERE key_id = ? AND member = ?`, keyID, member).Scan(&cur)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			out = delta
			if _, err := tx.Exec(`INSERT INTO zsets (key_id, member, score) VALUES (?, ?, ?)`,
				keyID, member, delta); err != nil {
				return fmt.Errorf("zincrby: %w", err)
			}
		case err != nil:
			return fmt.Errorf("zincrby: %w", err)
		default:
			out = cur + delta
			if _, err := tx.Exec(`UPDATE zsets SET score = ? WHERE key_id = ? AND member = ?`,
				out, keyID, member); err != nil {
				return fmt.Errorf("zincrby: %w", err)
			}
		}
		if k != nil {
			return d.touchKey(tx, keyID)
		}
		return nil
	})
	return out, err
}

// ZRange returns members by rank range, ordered (score ASC, member ASC).
func (d *DB) ZRange(key string, start, stop int64) ([]ZMember, error) {
	return d.zrange(key, start, stop, false)
}

// ZRevRange is ZRange over the reversed ordering.
func (d *DB) ZRevRange(key string, start, stop int64) ([]ZMember, error) {
	return d.zrange(key, start, stop, true)
}

func (d *DB) zrange(key string, start, stop int64, rev bool) ([]ZMember, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeZSet)
	if err != nil || k == nil {
		return nil, err
	}
	var n int64
	if err := q.QueryRow(`SELECT COUNT(*) FROM zsets WHERE key_id = ?`, k.id).Scan(&n); err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}
	start, stop, empty := resolveRange(start, stop, n)
	if empty {
		return nil, nil
	}
	order := `score ASC, member ASC`
	if rev {
		order = `score DESC, member DESC`
	}
	rows, err := q.Query(
		`SELECT member, score FROM zsets WHERE key_id = ? ORDER BY `+order+` LIMIT ? OFFSET ?`,
		k.id, stop-start+1, start,
	)
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}
	defer rows.Close()
	return scanZMembers(rows)
}

// ZRangeByScore returns members with min ≤ score ≤ max in order.
func (d *DB) ZRangeByScore(key string, min, max float64) ([]ZMember, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeZSet)
	if err != nil || k == nil {
		return nil, err
	}
	rows, err := q.Query(
		`SELECT member, score FROM zsets WHERE key_id = ? AND score >= ? AND score <= ?
		 ORDER BY score ASC, member ASC`,
		k.id, min, max,
	)
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore: %w", err)
	}
	defer rows.Close()
	return scanZMembers(rows)
}

// ZRank returns the member's ascending rank, nil when absent.
func (d *DB) ZRank(key string, member []byte) (*int64, error) {
	return d.zrank(key, member, false)
}

// ZRevRank returns the member's descending rank, nil when absent.
func (d *DB) ZRevRank(key string, member []byte) (*int64, error) {
	return d.zrank(key, member, true)
}

func (d *DB) zrank(key string, member []byte, rev bool) (*int64, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeZSet)
	if err != nil || k == nil {
		return nil, err
	}
	var score float64
	err = q.QueryRow(`SELECT score FROM zsets WHERE key_id = ? AND member = ?`, k.id, member).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("zrank: %w", err)
	}
	var rank int64
	var cmp string
	if rev {
		cmp = `(score > ? OR (score = ? AND member > ?))`
	} else {
		cmp = `(score < ? OR (score = ? AND member < ?))`
	}
	if err := q.QueryRow(
		`SELECT COUNT(*) FROM zsets WHERE key_id = ? AND `+cmp,
		k.id, score, score, member,
	).Scan(&rank); err != nil {
		return nil, fmt.Errorf("zrank: %w", err)
	}
	return &rank, nil
}

// ZInterStore stores the intersection of keys into dst and returns its size.
// weights, when non-nil, must have one entry per source key.
func (d *DB) ZInterStore(dst string, keys []string, weights []float64, agg Aggregate) (int64, error) {
	return d.zstore(dst, keys, weights, agg, true)
}

// ZUnionStore stores the union of keys into dst and returns its size.
func (d *DB) ZUnionStore(dst string, keys []string, weights []float64, agg Aggregate) (int64, error) {
	return d.zstore(dst, keys, weights, agg, false)
}

func (d *DB) zstore(dst string, keys []string, weights []float64, agg Aggregate, inter bool) (int64, error) {
	if len(keys) == 0 {
		return 0, fmt.Errorf("%w: at least one key required", ErrSyntax)
	}
	if weights != nil && len(weights) != len(keys) {
		return 0, ErrSyntax
	}

	var size int64
	err := d.inTx(func(tx *sql.Tx) error {
		// Accumulate member -> scores in memory; sorted sets at this scale
		// live comfortably in one pass.
		type acc struct {
			score float64
			seen  int
		}
		combined := make(map[string]*acc)

		for i, key := range keys {
			k, err := d.typedKey(tx, key, TypeZSet)
			if err != nil {
				return err
			}
			if k == nil {
				if inter {
					combined = map[string]*acc{}
					break
				}
				continue
			}
			w := 1.0
			if weights != nil {
				w = weights[i]
			}
			rows, err := tx.Query(`SELECT member, score FROM zsets WHERE key_id = ?`, k.id)
			if err != nil {
				return fmt.Errorf("zstore: %w", err)
			}
			for rows.Next() {
				var m []byte
				var s float64
				if err := rows.Scan(&m, &s); err != nil {
					rows.Close()
					return fmt.Errorf("zstore: %w", err)
				}
				s *= w
				a, ok := combined[string(m)]
				if !ok {
					combined[string(m)] = &acc{score: s, seen: 1}
					continue
				}
				a.seen++
				switch agg {
				case AggMin:
					if s < a.score {
						a.score = s
					}
				case AggMax:
					if s > a.score {
						a.score = s
					}
				default:
					a.score += s
				}
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}
		}

		// Destination is replaced wholesale.
		dk, err := d.liveKey(tx, dst)
		if err != nil {
			return err
		}
		if dk != nil {
			if err := d.deleteKey(tx, dk.id); err != nil {
				return err
			}
		}

		var dstID int64
		for m, a := range combined {
			if inter && a.seen != len(keys) {
				continue
			}
			if dstID == 0 {
				dstID, err = d.createKey(tx, dst, TypeZSet, sql.NullInt64{})
				if err != nil {
					return err
				}
			}
			if _, err := tx.Exec(`INSERT INTO zsets (key_id, member, score) VALUES (?, ?, ?)`,
				dstID, []byte(m), a.score); err != nil {
				return fmt.Errorf("zstore: %w", err)
			}
			size++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return size, nil
}

func scanZMembers(rows *sql.Rows) ([]ZMember, error) {
	var out []ZMember
	for rows.Next() {
		var m ZMember
		if err := rows.Scan(&m.Member, &m.Score); err != nil {
			return nil, fmt.Errorf("scan zset: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
