package kv

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/russellromney/redlite-sub002/internal/search"
	"github.com/russellromney/redlite-sub002/internal/storage"
	"github.com/russellromney/redlite-sub002/pkg/glob"
)

// ftsState mirrors fts_config in memory so HSET's coverage check costs no
// query. Toggles write through to the table.
type ftsState struct {
	mu       sync.RWMutex
	global   bool
	dbs      map[int]bool
	patterns map[int][]string // per-db glob patterns
	keys     map[string]bool  // "db/key"
}

func loadFTSState(sess *storage.Session) (*ftsState, error) {
	st := &ftsState{
		dbs:      make(map[int]bool),
		patterns: make(map[int][]string),
		keys:     make(map[string]bool),
	}
	rows, err := sess.Query(`SELECT scope, target FROM fts_config`)
	if err != nil {
		return nil, fmt.Errorf("load fts config: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var scope, target string
		if err := rows.Scan(&scope, &target); err != nil {
			return nil, fmt.Errorf("load fts config: %w", err)
		}
		st.apply(scope, target, true)
	}
	return st, rows.Err()
}

func (st *ftsState) apply(scope, target string, on bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	switch scope {
	case "global":
		st.global = on
	case "db":
		idx, _ := strconv.Atoi(target)
		st.dbs[idx] = on
	case "pattern":
		idx, pattern := splitScoped(target)
		if on {
			st.patterns[idx] = append(st.patterns[idx], pattern)
		} else {
			kept := st.patterns[idx][:0]
			for _, p := range st.patterns[idx] {
				if p != pattern {
					kept = append(kept, p)
				}
			}
			st.patterns[idx] = kept
		}
	case "key":
		st.keys[target] = on
	}
}

func splitScoped(target string) (int, string) {
	for i := 0; i < len(target); i++ {
		if target[i] == '/' {
			idx, _ := strconv.Atoi(target[:i])
			return idx, target[i+1:]
		}
	}
	return 0, target
}

// anyEnabled reports whether any FTS toggle is live; without one the fts
// virtual table may not exist at all.
func (st *ftsState) anyEnabled() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.global {
		return true
	}
	for _, on := range st.dbs {
		if on {
			return true
		}
	}
	for _, ps := range st.patterns {
		if len(ps) > 0 {
			return true
		}
	}
	for _, on := range st.keys {
		if on {
			return true
		}
	}
	return false
}

// covers reports whether key's hash content should be indexed.
func (st *ftsState) covers(db int, key string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.global || st.dbs[db] || st.keys[strconv.Itoa(db)+"/"+key] {
		return true
	}
	for _, p := range st.patterns[db] {
		if glob.Match(p, key) {
			return true
		}
	}
	return false
}

// FTSEnableGlobal indexes every hash key.
func (d *DB) FTSEnableGlobal() error { return d.ftsToggle("global", "", true) }

// FTSDisableGlobal removes the global toggle.
func (d *DB) FTSDisableGlobal() error { return d.ftsToggle("global", "", false) }

// FTSEnableDatabase indexes one database's hash keys.
func (d *DB) FTSEnableDatabase(idx int) error {
	return d.ftsToggle("db", strconv.Itoa(idx), true)
}

// FTSDisableDatabase removes one database's toggle.
func (d *DB) FTSDisableDatabase(idx int) error {
	return d.ftsToggle("db", strconv.Itoa(idx), false)
}

// FTSEnablePattern indexes keys matching a glob pattern in the selected db.
func (d *DB) FTSEnablePattern(pattern string) error {
	return d.ftsToggle("pattern", d.scopedKey(pattern), true)
}

// FTSDisablePattern removes a pattern toggle.
func (d *DB) FTSDisablePattern(pattern string) error {
	return d.ftsToggle("pattern", d.scopedKey(pattern), false)
}

// FTSEnableKey indexes one key.
func (d *DB) FTSEnableKey(key string) error {
	return d.ftsToggle("key", d.scopedKey(key), true)
}

// FTSDisableKey removes one key's toggle.
func (d *DB) FTSDisableKey(key string) error {
	return d.ftsToggle("key", d.scopedKey(key), false)
}

// IsFTSEnabled reports whether key's hash content is indexed.
func (d *DB) IsFTSEnabled(key string) bool {
	return d.store.fts.covers(d.db, key)
}

func (d *DB) ftsToggle(scope, target string, on bool) error {
	if on {
		if err := d.sess().EnsureFTS(); err != nil {
			return err
		}
	}
	err := d.inTx(func(tx *sql.Tx) error {
		if on {
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO fts_config (scope, target) VALUES (?, ?)`, scope, target,
			); err != nil {
				return fmt.Errorf("fts config: %w", err)
			}
		} else {
			if _, err := tx.Exec(
				`DELETE FROM fts_config WHERE scope = ? AND target = ?`, scope, target,
			); err != nil {
				return fmt.Errorf("fts config: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.store.fts.apply(scope, target, on)
	if on {
		return d.ftsBackfill()
	}
	return nil
}

// ftsBackfill indexes existing hash content newly covered by a toggle.
func (d *DB) ftsBackfill() error {
	return d.inTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(
			`SELECT k.db, k.key, h.field, h.value FROM hashes h JOIN keys k ON h.key_id = k.id`,
		)
		if err != nil {
			return fmt.Errorf("fts backfill: %w", err)
		}
		type entry struct {
			db         int
			key, field string
			value      []byte
		}
		var entries []entry
		for rows.Next() {
			var e entry
			if err := rows.Scan(&e.db, &e.key, &e.field, &e.value); err != nil {
				rows.Close()
				return fmt.Errorf("fts backfill: %w", err)
			}
			entries = append(entries, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, e := range entries {
			if !d.store.fts.covers(e.db, e.key) {
				continue
			}
			if _, err := tx.Exec(
				`DELETE FROM fts WHERE db = ? AND key = ? AND field = ?`,
				strconv.Itoa(e.db), e.key, e.field,
			); err != nil {
				return fmt.Errorf("fts backfill: %w", err)
			}
			if _, err := tx.Exec(
				`INSERT INTO fts (db, key, field, content) VALUES (?, ?, ?, ?)`,
				strconv.Itoa(e.db), e.key, e.field, string(e.value),
			); err != nil {
				return fmt.Errorf("fts backfill: %w", err)
			}
		}
		return nil
	})
}

// ftsUpsert mirrors one hash field into the index, inside the HSET tx.
func (d *DB) ftsUpsert(tx *sql.Tx, key, field string, value []byte) error {
	if _, err := tx.Exec(
		`DELETE FROM fts WHERE db = ? AND key = ? AND field = ?`,
		strconv.Itoa(d.db), key, field,
	); err != nil {
		return fmt.Errorf("fts upsert: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO fts (db, key, field, content) VALUES (?, ?, ?, ?)`,
		strconv.Itoa(d.db), key, field, string(value),
	); err != nil {
		return fmt.Errorf("fts upsert: %w", err)
	}
	return nil
}

// ftsDelete removes one field's index row, inside the HDEL tx.
func (d *DB) ftsDelete(tx *sql.Tx, key, field string) error {
	if _, err := tx.Exec(
		`DELETE FROM fts WHERE db = ? AND key = ? AND field = ?`,
		strconv.Itoa(d.db), key, field,
	); err != nil {
		return fmt.Errorf("fts delete: %w", err)
	}
	return nil
}

// SearchHit is one FT.SEARCH result.
type SearchHit struct {
	Key    string
	Fields []FieldValue
}

// FTSearch runs a RediSearch-style query over indexed hash content in the
// selected database. FTS5 prunes candidates when the query is an unscoped
// positive text predicate; the compiled matcher gives the exact verdict
// either way, which also covers standalone-NOT queries FTS5 rejects (those
// degrade to a full scan with an in-memory exclusion filter).
func (d *DB) FTSearch(query string, verbatim bool, limit int64) ([]SearchHit, error) {
	m, err := search.Compile(query, verbatim)
	if err != nil {
		return nil, err
	}
	parsed := m.Query()

	if !d.store.fts.anyEnabled() {
		return nil, nil
	}

	var candidates []string
	// Pruning is skipped for field-scoped queries (the mirror table has no
	// per-field columns) and for any NOT clause: the lowered "x AND NOT y"
	// shape follows RediSearch, but FTS5 itself only accepts infix NOT.
	usePrune := parsed.FTSQuery != "" && !parsed.LeadingNot &&
		len(parsed.SearchFields) == 0 && !strings.Contains(parsed.FTSQuery, "NOT ")
	candQuery := `SELECT DISTINCT key FROM fts WHERE db = ?`
	candArgs := []any{strconv.Itoa(d.db)}
	if usePrune {
		candQuery = `SELECT DISTINCT key FROM fts WHERE fts MATCH ? AND db = ?`
		candArgs = []any{parsed.FTSQuery, strconv.Itoa(d.db)}
	}

	rows, err := d.reader().Query(candQuery, candArgs...)
	if err != nil {
		return nil, fmt.Errorf("ft search: %w", err)
	}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, fmt.Errorf("ft search: %w", err)
		}
		candidates = append(candidates, key)
	}
	// Release the connection before the per-hit reads below.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var hits []SearchHit
	for _, key := range candidates {
		fields, err := d.HGetAll(key)
		if err != nil {
			// The key may have changed type or expired since indexing.
			continue
		}
		if fields == nil {
			continue
		}
		doc := make(map[string]string, len(fields))
		for _, fv := range fields {
			doc[fv.Field] = string(fv.Value)
		}
		if !m.Match(doc) {
			continue
		}
		hits = append(hits, SearchHit{Key: key, Fields: fields})
		if limit > 0 && int64(len(hits)) >= limit {
			break
		}
	}
	return hits, nil
}

// FTExplain returns the query's diagnostic tree.
func (d *DB) FTExplain(query string, verbatim bool) ([]search.Node, error) {
	nodes, err := search.Explain(query, verbatim)
	if err != nil {
		return nil, err
	}
	if ce := d.store.log.Check(zapcore.DebugLevel, "ft explain"); ce != nil {
		ce.Write(zap.String("tree", search.Dump(nodes)))
	}
	return nodes, nil
}
