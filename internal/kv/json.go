package kv

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// JSON commands store one document per key. Paths are limited to the root
// ("$" or "."); nested path addressing is not implemented.

func rootPath(path string) bool {
	return path == "" || path == "$" || path == "."
}

// JSONSet stores the document. NX/XX gate on key existence; returns whether
// the write happened.
func (d *DB) JSONSet(key, path, doc string, nx, xx bool) (bool, error) {
	if !rootPath(path) {
		return false, fmt.Errorf("%w: only the root path is supported", ErrSyntax)
	}
	if !json.Valid([]byte(doc)) {
		return false, fmt.Errorf("%w: invalid JSON", ErrSyntax)
	}
	set := false
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeJSON)
		if err != nil {
			return err
		}
		if nx && k != nil {
			return nil
		}
		if xx && k == nil {
			return nil
		}
		if k == nil {
			id, err := d.createKey(tx, key, TypeJSON, sql.NullInt64{})
			if err != nil {
				return err
			}
			if _, err := tx.Exec(`INSERT INTO json_docs (key_id, doc) VALUES (?, ?)`, id, doc); err != nil {
				return fmt.Errorf("json set: %w", err)
			}
		} else {
			if _, err := tx.Exec(`UPDATE json_docs SET doc = ? WHERE key_id = ?`, doc, k.id); err != nil {
				return fmt.Errorf("json set: %w", err)
			}
			if err := d.touchKey(tx, k.id); err != nil {
				return err
			}
		}
		set = true
		return nil
	})
	return set, err
}

// JSONGet returns the document, nil when missing.
func (d *DB) JSONGet(key string) (*string, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeJSON)
	if err != nil || k == nil {
		return nil, err
	}
	var doc string
	if err := q.QueryRow(`SELECT doc FROM json_docs WHERE key_id = ?`, k.id).Scan(&doc); err != nil {
		return nil, fmt.Errorf("json get: %w", err)
	}
	return &doc, nil
}

// JSONDel removes the document; returns 1 when it existed.
func (d *DB) JSONDel(key, path string) (int64, error) {
	if !rootPath(path) {
		return 0, fmt.Errorf("%w: only the root path is supported", ErrSyntax)
	}
	var removed int64
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeJSON)
		if err != nil || k == nil {
			return err
		}
		removed = 1
		return d.deleteKey(tx, k.id)
	})
	return removed, err
}

// JSONType returns the root value's JSON type name, nil when missing.
func (d *DB) JSONType(key string) (*string, error) {
	doc, err := d.JSONGet(key)
	if err != nil || doc == nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal([]byte(*doc), &v); err != nil {
		return nil, fmt.Errorf("%w: stored document is corrupt", ErrSyntax)
	}
	var t string
	switch v.(type) {
	case nil:
		t = "null"
	case bool:
		t = "boolean"
	case float64:
		t = "number"
	case string:
		t = "string"
	case []any:
		t = "array"
	default:
		t = "object"
	}
	return &t, nil
}
