package kv

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// EvictionPolicy selects victims when the key budget is exceeded.
type EvictionPolicy int

const (
	NoEviction EvictionPolicy = iota
	AllKeysLRU
	AllKeysLFU
	AllKeysRandom
	VolatileLRU
	VolatileLFU
	VolatileRandom
	VolatileTTL
)

// ParseEvictionPolicy maps the config names onto policies.
func ParseEvictionPolicy(s string) (EvictionPolicy, error) {
	switch s {
	case "noeviction", "":
		return NoEviction, nil
	case "allkeys-lru":
		return AllKeysLRU, nil
	case "allkeys-lfu":
		return AllKeysLFU, nil
	case "allkeys-random":
		return AllKeysRandom, nil
	case "volatile-lru":
		return VolatileLRU, nil
	case "volatile-lfu":
		return VolatileLFU, nil
	case "volatile-random":
		return VolatileRandom, nil
	case "volatile-ttl":
		return VolatileTTL, nil
	default:
		return NoEviction, fmt.Errorf("unknown eviction policy %q", s)
	}
}

func (p EvictionPolicy) String() string {
	switch p {
	case AllKeysLRU:
		return "allkeys-lru"
	case AllKeysLFU:
		return "allkeys-lfu"
	case AllKeysRandom:
		return "allkeys-random"
	case VolatileLRU:
		return "volatile-lru"
	case VolatileLFU:
		return "volatile-lfu"
	case VolatileRandom:
		return "volatile-random"
	case VolatileTTL:
		return "volatile-ttl"
	default:
		return "noeviction"
	}
}

func (p EvictionPolicy) volatile() bool {
	switch p {
	case VolatileLRU, VolatileLFU, VolatileRandom, VolatileTTL:
		return true
	}
	return false
}

// maybeEvict runs before a key-creating write. When the store is at its key
// budget it deletes victims per policy inside the caller's transaction, so a
// failed write never leaves a partial eviction behind.
func (s *Store) maybeEvict(tx *sql.Tx) error {
	if s.cfg.MaxKeys <= 0 {
		return nil
	}
	var total int64
	if err := tx.QueryRow(
		`SELECT COUNT(*) FROM keys WHERE expire_at IS NULL OR expire_at > ?`, s.sess.NowMs(),
	).Scan(&total); err != nil {
		return fmt.Errorf("evict count: %w", err)
	}
	if total < s.cfg.MaxKeys {
		return nil
	}
	if s.cfg.EvictionPolicy == NoEviction {
		return ErrNoEviction
	}

	need := total - s.cfg.MaxKeys + 1
	victims, err := s.selectVictims(tx, need)
	if err != nil {
		return err
	}
	if int64(len(victims)) < need {
		// Volatile policies with no expirable keys degrade to NoEviction.
		return ErrNoEviction
	}
	for _, id := range victims {
		if _, err := tx.Exec(`DELETE FROM keys WHERE id = ?`, id); err != nil {
			return fmt.Errorf("evict: %w", err)
		}
	}
	s.log.Debug("evicted keys",
		zap.Int("count", len(victims)),
		zap.String("policy", s.cfg.EvictionPolicy.String()),
	)
	return nil
}

func (s *Store) selectVictims(tx *sql.Tx, n int64) ([]int64, error) {
	where := ` WHERE (k.expire_at IS NULL OR k.expire_at > ?)`
	if s.cfg.EvictionPolicy.volatile() {
		where += ` AND k.expire_at IS NOT NULL`
	}

	var order string
	switch s.cfg.EvictionPolicy {
	case AllKeysLRU, VolatileLRU:
		order = `COALESCE(a.last_access_ms, 0) ASC`
	case AllKeysLFU, VolatileLFU:
		order = `COALESCE(a.access_count, 0) ASC`
	case VolatileTTL:
		order = `k.expire_at ASC`
	default:
		order = `RANDOM()`
	}

	rows, err := tx.Query(
		`SELECT k.id FROM keys k LEFT JOIN access a ON a.key_id = k.id`+where+
			` ORDER BY `+order+` LIMIT ?`, s.sess.NowMs(), n,
	)
	if err != nil {
		return nil, fmt.Errorf("evict select: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("evict select: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
