package kv

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// vacuumBatch bounds how many expired keys one sweep round deletes so the
// writer lock is never held for an unbounded pass.
const vacuumBatch = 512

// Vacuum sweeps expired keys in batches, renumbers list positions, and
// compacts the database file. Returns the number of expired keys reclaimed.
func (s *Store) Vacuum() (int64, error) {
	var reclaimed int64
	for {
		var batch int64
		err := s.sess.Transaction(func(tx *sql.Tx) error {
			res, err := tx.Exec(
				`DELETE FROM keys WHERE id IN (
					SELECT id FROM keys
					WHERE expire_at IS NOT NULL AND expire_at <= ?
					LIMIT ?
				)`, s.sess.NowMs(), vacuumBatch,
			)
			if err != nil {
				return fmt.Errorf("vacuum sweep: %w", err)
			}
			batch, _ = res.RowsAffected()
			return nil
		})
		if err != nil {
			return reclaimed, err
		}
		reclaimed += batch
		if batch < vacuumBatch {
			break
		}
	}

	if err := s.renumberLists(); err != nil {
		return reclaimed, err
	}

	// VACUUM cannot run inside a transaction; the session serializes it
	// against writers via Exec.
	if _, _, err := s.sess.Exec(`VACUUM`); err != nil {
		return reclaimed, fmt.Errorf("vacuum: %w", err)
	}

	s.log.Info("vacuum complete", zap.Int64("expired_keys", reclaimed))
	return reclaimed, nil
}

// renumberLists resets every list's position range to 1..n, undoing the
// outward drift of LPUSH/RPUSH before REAL precision becomes a concern.
func (s *Store) renumberLists() error {
	return s.sess.Transaction(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT DISTINCT key_id FROM lists`)
		if err != nil {
			return fmt.Errorf("renumber: %w", err)
		}
		var keyIDs []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("renumber: %w", err)
			}
			keyIDs = append(keyIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, keyID := range keyIDs {
			rows, err := tx.Query(`SELECT id FROM lists WHERE key_id = ? ORDER BY pos ASC`, keyID)
			if err != nil {
				return fmt.Errorf("renumber: %w", err)
			}
			var ids []int64
			for rows.Next() {
				var id int64
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return fmt.Errorf("renumber: %w", err)
				}
				ids = append(ids, id)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}
			for i, id := range ids {
				if _, err := tx.Exec(`UPDATE lists SET pos = ? WHERE id = ?`, float64(i+1), id); err != nil {
					return fmt.Errorf("renumber: %w", err)
				}
			}
		}
		return nil
	})
}
