package storage

// bootstrapDDL is executed at first open. Every statement is idempotent so
// re-opening an existing database is a no-op.
var bootstrapDDL = []string{
	`CREATE TABLE IF NOT EXISTS keys (
		id INTEGER PRIMARY KEY,
		db INTEGER NOT NULL DEFAULT 0,
		key TEXT NOT NULL,
		type INTEGER NOT NULL,
		expire_at INTEGER,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(db, key)
	)`,

	`CREATE TABLE IF NOT EXISTS strings (
		key_id INTEGER PRIMARY KEY REFERENCES keys(id) ON DELETE CASCADE,
		value BLOB NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS hashes (
		id INTEGER PRIMARY KEY,
		key_id INTEGER NOT NULL REFERENCES keys(id) ON DELETE CASCADE,
		field TEXT NOT NULL,
		value BLOB NOT NULL,
		UNIQUE(key_id, field)
	)`,

	`CREATE TABLE IF NOT EXISTS lists (
		id INTEGER PRIMARY KEY,
		key_id INTEGER NOT NULL REFERENCES keys(id) ON DELETE CASCADE,
		pos REAL NOT NULL,
		value BLOB NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS sets (
		id INTEGER PRIMARY KEY,
		key_id INTEGER NOT NULL REFERENCES keys(id) ON DELETE CASCADE,
		member BLOB NOT NULL,
		UNIQUE(key_id, member)
	)`,

	`CREATE TABLE IF NOT EXISTS zsets (
		id INTEGER PRIMARY KEY,
		key_id INTEGER NOT NULL REFERENCES keys(id) ON DELETE CASCADE,
		member BLOB NOT NULL,
		score REAL NOT NULL,
		UNIQUE(key_id, member)
	)`,

	`CREATE TABLE IF NOT EXISTS streams (
		id INTEGER PRIMARY KEY,
		key_id INTEGER NOT NULL REFERENCES keys(id) ON DELETE CASCADE,
		ms INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		fields BLOB NOT NULL,
		UNIQUE(key_id, ms, seq)
	)`,

	`CREATE TABLE IF NOT EXISTS stream_groups (
		id INTEGER PRIMARY KEY,
		key_id INTEGER NOT NULL REFERENCES keys(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		last_ms INTEGER NOT NULL DEFAULT 0,
		last_seq INTEGER NOT NULL DEFAULT 0,
		UNIQUE(key_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS stream_consumers (
		id INTEGER PRIMARY KEY,
		group_id INTEGER NOT NULL REFERENCES stream_groups(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(group_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS json_docs (
		key_id INTEGER PRIMARY KEY REFERENCES keys(id) ON DELETE CASCADE,
		doc TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS access (
		key_id INTEGER PRIMARY KEY REFERENCES keys(id) ON DELETE CASCADE,
		last_access_ms INTEGER NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0
	)`,

	// History rows survive key deletion, so they reference (db, key) rather
	// than key_id.
	`CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY,
		db INTEGER NOT NULL,
		key TEXT NOT NULL,
		ts_ms INTEGER NOT NULL,
		op TEXT NOT NULL,
		snapshot BLOB
	)`,

	`CREATE TABLE IF NOT EXISTS history_config (
		scope TEXT NOT NULL,
		target TEXT NOT NULL,
		retention TEXT NOT NULL,
		UNIQUE(scope, target)
	)`,

	`CREATE TABLE IF NOT EXISTS fts_config (
		scope TEXT NOT NULL,
		target TEXT NOT NULL,
		UNIQUE(scope, target)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_keys_db_key ON keys(db, key)`,
	`CREATE INDEX IF NOT EXISTS idx_keys_expire ON keys(expire_at) WHERE expire_at IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_hashes_key_id ON hashes(key_id)`,
	`CREATE INDEX IF NOT EXISTS idx_lists_key_id_pos ON lists(key_id, pos)`,
	`CREATE INDEX IF NOT EXISTS idx_sets_key_id ON sets(key_id)`,
	`CREATE INDEX IF NOT EXISTS idx_zsets_key_id_score ON zsets(key_id, score, member)`,
	`CREATE INDEX IF NOT EXISTS idx_streams_key_id ON streams(key_id, ms, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_history_key ON history(db, key, ts_ms)`,
}

// ftsDDL creates the full-text mirror. It lives outside bootstrap because the
// FTS5 module is compile-time optional (build tag sqlite_fts5); the table is
// created lazily on the first FTS enable so a build without the tag still
// serves every non-search command.
const ftsDDL = `CREATE VIRTUAL TABLE IF NOT EXISTS fts USING fts5(
	db UNINDEXED, key UNINDEXED, field UNINDEXED, content, tokenize='trigram'
)`

// EnsureFTS creates the full-text virtual table if it does not exist yet.
func (s *Session) EnsureFTS() error {
	if _, _, err := s.Exec(ftsDDL); err != nil {
		return err
	}
	return nil
}
