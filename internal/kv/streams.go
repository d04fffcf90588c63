package kv

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// StreamID is a stream entry identifier, ordered by (Ms, Seq).
type StreamID struct {
	Ms  int64
	Seq int64
}

func (id StreamID) String() string {
	return fmt.Sprintf("%d-%d", id.Ms, id.Seq)
}

// Less orders stream IDs.
func (id StreamID) Less(other StreamID) bool {
	if id.Ms != other.Ms {
		return id.Ms < other.Ms
	}
	return id.Seq < other.Seq
}

// ParseStreamID parses "ms-seq" or bare "ms" (seq defaults to defSeq).
func ParseStreamID(s string, defSeq int64) (StreamID, error) {
	msPart, seqPart, hasSeq := strings.Cut(s, "-")
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil || ms < 0 {
		return StreamID{}, fmt.Errorf("%w: invalid stream ID", ErrSyntax)
	}
	seq := defSeq
	if hasSeq {
		seq, err = strconv.ParseInt(seqPart, 10, 64)
		if err != nil || seq < 0 {
			return StreamID{}, fmt.Errorf("%w: invalid stream ID", ErrSyntax)
		}
	}
	return StreamID{Ms: ms, Seq: seq}, nil
}

// StreamEntry is one stream record.
type StreamEntry struct {
	ID     StreamID
	Fields []FieldValue
}

// XAddOptions tunes XADD.
type XAddOptions struct {
	// ID is "*" for auto-assignment or an explicit "ms-seq" which must
	// strictly exceed every existing ID.
	ID string
	// NoMkStream suppresses stream creation for missing keys.
	NoMkStream bool
	// MaxLen > 0 trims oldest entries past the bound after the append.
	MaxLen int64
	// MinID trims entries below the bound after the append.
	MinID *StreamID
	// Approx marks MAXLEN/MINID as a hint; trimming is exact here either way.
	Approx bool
}

// XAdd appends an entry. Returns the assigned ID, or nil with no error when
// NoMkStream suppressed creation.
func (d *DB) XAdd(key string, opts XAddOptions, fields ...FieldValue) (*StreamID, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: wrong number of arguments for 'xadd' command", ErrSyntax)
	}
	var assigned *StreamID
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeStream)
		if err != nil {
			return err
		}
		if k == nil && opts.NoMkStream {
			return nil
		}
		var keyID int64
		if k == nil {
			keyID, err = d.createKey(tx, key, TypeStream, sql.NullInt64{})
			if err != nil {
				return err
			}
		} else {
			keyID = k.id
		}

		last, hasLast, err := d.streamLastID(tx, keyID)
		if err != nil {
			return err
		}

		var id StreamID
		if opts.ID == "" || opts.ID == "*" {
			// max(now, last) with seq continuation inside the same ms.
			id = StreamID{Ms: d.nowMs()}
			if hasLast && last.Ms >= id.Ms {
				id = StreamID{Ms: last.Ms, Seq: last.Seq + 1}
			}
		} else {
			id, err = ParseStreamID(opts.ID, 0)
			if err != nil {
				return err
			}
			if hasLast && !last.Less(id) {
				return ErrStreamID
			}
		}

		if _, err := tx.Exec(
			`INSERT INTO streams (key_id, ms, seq, fields) VALUES (?, ?, ?, ?)`,
			keyID, id.Ms, id.Seq, encodeFields(fields),
		); err != nil {
			return fmt.Errorf("xadd: %w", err)
		}
		assigned = &id

		if opts.MaxLen > 0 {
			if err := d.trimMaxLen(tx, keyID, opts.MaxLen); err != nil {
				return err
			}
		}
		if opts.MinID != nil {
			if err := d.trimMinID(tx, keyID, *opts.MinID); err != nil {
				return err
			}
		}
		if k != nil {
			return d.touchKey(tx, keyID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assigned, nil
}

func (d *DB) streamLastID(q queryer, keyID int64) (StreamID, bool, error) {
	var id StreamID
	err := q.QueryRow(
		`SELECT ms, seq FROM streams WHERE key_id = ? ORDER BY ms DESC, seq DESC LIMIT 1`, keyID,
	).Scan(&id.Ms, &id.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return id, false, nil
	}
	if err != nil {
		return id, false, fmt.Errorf("stream last id: %w", err)
	}
	return id, true, nil
}

// XLen returns the entry count.
func (d *DB) XLen(key string) (int64, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeStream)
	if err != nil || k == nil {
		return 0, err
	}
	var n int64
	if err := q.QueryRow(`SELECT COUNT(*) FROM streams WHERE key_id = ?`, k.id).Scan(&n); err != nil {
		return 0, fmt.Errorf("xlen: %w", err)
	}
	return n, nil
}

// XRange returns entries with start ≤ id ≤ end; count caps results (0 = all).
// Use ParseRangeID for "-" / "+" endpoints.
func (d *DB) XRange(key string, start, end StreamID, count int64) ([]StreamEntry, error) {
	return d.xrange(key, start, end, count, false)
}

// XRevRange is XRange in reverse order.
func (d *DB) XRevRange(key string, start, end StreamID, count int64) ([]StreamEntry, error) {
	return d.xrange(key, start, end, count, true)
}

// MinStreamID / MaxStreamID are the "-" and "+" endpoints.
var (
	MinStreamID = StreamID{Ms: 0, Seq: 0}
	MaxStreamID = StreamID{Ms: 1<<63 - 1, Seq: 1<<63 - 1}
)

// ParseRangeID parses an XRANGE endpoint: "-", "+", "ms" or "ms-seq". For a
// bare "ms" the sequence defaults to 0 for starts and max for ends.
func ParseRangeID(s string, end bool) (StreamID, error) {
	switch s {
	case "-":
		return MinStreamID, nil
	case "+":
		return MaxStreamID, nil
	}
	defSeq := int64(0)
	if end {
		defSeq = 1<<63 - 1
	}
	return ParseStreamID(s, defSeq)
}

func (d *DB) xrange(key string, start, end StreamID, count int64, rev bool) ([]StreamEntry, error) {
	q := d.reader()
	k, err := d.typedKey(q, key, TypeStream)
	if err != nil || k == nil {
		return nil, err
	}
	order := `ms ASC, seq ASC`
	if rev {
		order = `ms DESC, seq DESC`
	}
	limit := count
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.Query(
		`SELECT ms, seq, fields FROM streams
		 WHERE key_id = ?
		   AND (ms > ? OR (ms = ? AND seq >= ?))
		   AND (ms < ? OR (ms = ? AND seq <= ?))
		 ORDER BY `+order+` LIMIT ?`,
		k.id, start.Ms, start.Ms, start.Seq, end.Ms, end.Ms, end.Seq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("xrange: %w", err)
	}
	defer rows.Close()
	return scanStreamEntries(rows)
}

// XRead returns entries with id strictly greater than after, per key.
func (d *DB) XRead(keys []string, after []StreamID, count int64) (map[string][]StreamEntry, error) {
	if len(keys) != len(after) {
		return nil, ErrSyntax
	}
	out := make(map[string][]StreamEntry)
	q := d.reader()
	for i, key := range keys {
		k, err := d.typedKey(q, key, TypeStream)
		if err != nil {
			return nil, err
		}
		if k == nil {
			continue
		}
		limit := count
		if limit <= 0 {
			limit = -1
		}
		rows, err := q.Query(
			`SELECT ms, seq, fields FROM streams
			 WHERE key_id = ? AND (ms > ? OR (ms = ? AND seq > ?))
			 ORDER BY ms ASC, seq ASC LIMIT ?`,
			k.id, after[i].Ms, after[i].Ms, after[i].Seq, limit,
		)
		if err != nil {
			return nil, fmt.Errorf("xread: %w", err)
		}
		entries, err := scanStreamEntries(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			out[key] = entries
		}
	}
	return out, nil
}

// XDel removes entries by ID and returns how many were deleted.
func (d *DB) XDel(key string, ids ...StreamID) (int64, error) {
	var removed int64
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeStream)
		if err != nil || k == nil {
			return err
		}
		for _, id := range ids {
			res, err := tx.Exec(`DELETE FROM streams WHERE key_id = ? AND ms = ? AND seq = ?`,
				k.id, id.Ms, id.Seq)
			if err != nil {
				return fmt.Errorf("xdel: %w", err)
			}
			n, _ := res.RowsAffected()
			removed += n
		}
		if removed > 0 {
			return d.deleteKeyIfEmpty(tx, k.id, "streams")
		}
		return nil
	})
	return removed, err
}

// XTrim trims to maxLen entries (when maxLen > 0) or above minID (when
// non-nil), returning how many entries were removed.
func (d *DB) XTrim(key string, maxLen int64, minID *StreamID) (int64, error) {
	var removed int64
	err := d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeStream)
		if err != nil || k == nil {
			return err
		}
		before, err := d.streamCount(tx, k.id)
		if err != nil {
			return err
		}
		if maxLen > 0 {
			if err := d.trimMaxLen(tx, k.id, maxLen); err != nil {
				return err
			}
		}
		if minID != nil {
			if err := d.trimMinID(tx, k.id, *minID); err != nil {
				return err
			}
		}
		after, err := d.streamCount(tx, k.id)
		if err != nil {
			return err
		}
		removed = before - after
		if removed > 0 {
			return d.deleteKeyIfEmpty(tx, k.id, "streams")
		}
		return nil
	})
	return removed, err
}

func (d *DB) streamCount(q queryer, keyID int64) (int64, error) {
	var n int64
	if err := q.QueryRow(`SELECT COUNT(*) FROM streams WHERE key_id = ?`, keyID).Scan(&n); err != nil {
		return 0, fmt.Errorf("stream count: %w", err)
	}
	return n, nil
}

func (d *DB) trimMaxLen(tx *sql.Tx, keyID, maxLen int64) error {
	_, err := tx.Exec(
		`DELETE FROM streams WHERE id IN (
			SELECT id FROM streams WHERE key_id = ?
			ORDER BY ms DESC, seq DESC LIMIT -1 OFFSET ?
		)`, keyID, maxLen,
	)
	if err != nil {
		return fmt.Errorf("xtrim maxlen: %w", err)
	}
	return nil
}

func (d *DB) trimMinID(tx *sql.Tx, keyID int64, minID StreamID) error {
	_, err := tx.Exec(
		`DELETE FROM streams WHERE key_id = ? AND (ms < ? OR (ms = ? AND seq < ?))`,
		keyID, minID.Ms, minID.Ms, minID.Seq,
	)
	if err != nil {
		return fmt.Errorf("xtrim minid: %w", err)
	}
	return nil
}

// XGroupSetID positions a consumer group's cursor, creating the group row.
func (d *DB) XGroupSetID(key, group string, id StreamID) error {
	return d.inTx(func(tx *sql.Tx) error {
		k, err := d.typedKey(tx, key, TypeStream)
		if err != nil {
			return err
		}
		if k == nil {
			return ErrNotFound
		}
		if _, err := tx.Exec(
			`INSERT INTO stream_groups (key_id, name, last_ms, last_seq) VALUES (?, ?, ?, ?)
			 ON CONFLICT(key_id, name) DO UPDATE SET last_ms = excluded.last_ms, last_seq = excluded.last_seq`,
			k.id, group, id.Ms, id.Seq,
		); err != nil {
			return fmt.Errorf("xgroup setid: %w", err)
		}
		return nil
	})
}

// XGroupCreateConsumer registers a consumer; returns whether it was new.
func (d *DB) XGroupCreateConsumer(key, group, consumer string) (bool, error) {
	created := false
	err := d.inTx(func(tx *sql.Tx) error {
		gid, err := d.groupID(tx, key, group)
		if err != nil {
			return err
		}
		res, err := tx.Exec(
			`INSERT OR IGNORE INTO stream_consumers (group_id, name, created_at) VALUES (?, ?, ?)`,
			gid, consumer, d.nowMs(),
		)
		if err != nil {
			return fmt.Errorf("xgroup createconsumer: %w", err)
		}
		n, _ := res.RowsAffected()
		created = n > 0
		return nil
	})
	return created, err
}

// XGroupDelConsumer removes a consumer; returns 1 when it existed.
func (d *DB) XGroupDelConsumer(key, group, consumer string) (int64, error) {
	var removed int64
	err := d.inTx(func(tx *sql.Tx) error {
		gid, err := d.groupID(tx, key, group)
		if err != nil {
			return err
		}
		res, err := tx.Exec(`DELETE FROM stream_consumers WHERE group_id = ? AND name = ?`, gid, consumer)
		if err != nil {
			return fmt.Errorf("xgroup delconsumer: %w", err)
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	return removed, err
}

func (d *DB) groupID(tx *sql.Tx, key, group string) (int64, error) {
	k, err := d.typedKey(tx, key, TypeStream)
	if err != nil {
		return 0, err
	}
	if k == nil {
		return 0, ErrNotFound
	}
	var gid int64
	err = tx.QueryRow(`SELECT id FROM stream_groups WHERE key_id = ? AND name = ?`, k.id, group).Scan(&gid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: consumer group not found", ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("group id: %w", err)
	}
	return gid, nil
}

func scanStreamEntries(rows *sql.Rows) ([]StreamEntry, error) {
	var out []StreamEntry
	for rows.Next() {
		var e StreamEntry
		var blob []byte
		if err := rows.Scan(&e.ID.Ms, &e.ID.Seq, &blob); err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		fields, err := decodeFields(blob)
		if err != nil {
			return nil, err
		}
		e.Fields = fields
		out = append(out, e)
	}
	return out, rows.Err()
}

// encodeFields packs field/value pairs as uvarint-length-prefixed byte runs;
// binary-safe in both directions.
func encodeFields(fields []FieldValue) []byte {
	var buf []byte
	var tmp [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(tmp[:], uint64(len(fields)))
	buf = append(buf, tmp[:n]...)
	for _, fv := range fields {
		n = binary.PutUvarint(tmp[:], uint64(len(fv.Field)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, fv.Field...)
		n = binary.PutUvarint(tmp[:], uint64(len(fv.Value)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, fv.Value...)
	}
	return buf
}

func decodeFields(blob []byte) ([]FieldValue, error) {
	count, off := binary.Uvarint(blob)
	if off <= 0 {
		return nil, fmt.Errorf("stream fields: corrupt header")
	}
	out := make([]FieldValue, 0, count)
	for i := uint64(0); i < count; i++ {
		field, n, err := readChunk(blob, off)
		if err != nil {
			return nil, err
		}
		off = n
		value, n, err := readChunk(blob, off)
		if err != nil {
			return nil, err
		}
		off = n
		out = append(out, FieldValue{Field: string(field), Value: value})
	}
	return out, nil
}

func readChunk(blob []byte, off int) ([]byte, int, error) {
	l, n := binary.Uvarint(blob[off:])
	if n <= 0 {
		return nil, 0, fmt.Errorf("stream fields: corrupt length")
	}
	off += n
	end := off + int(l)
	if end > len(blob) {
		return nil, 0, fmt.Errorf("stream fields: truncated chunk")
	}
	return blob[off:end:end], end, nil
}
