package store

import (
	"fmt"

	"github.com/peerwatch/peerwatch/internal/model"
)

// UpsertConnection writes one connection record.
func (s *Store) UpsertConnection(rec model.ConnectionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO connections (id, origin, last_update_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET origin = excluded.origin, last_update_at = excluded.last_update_at`,
		rec.ID, rec.Origin, timestamp(rec.LastUpdateAt))
	if err != nil {
		return fmt.Errorf("upserting connection %s: %w", rec.ID, err)
	}
	return nil
}

// DeleteConnection removes one connection record. Deleting an absent id is
// not an error.
func (s *Store) DeleteConnection(id string) error {
	if _, err := s.db.Exec("DELETE FROM connections WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting connection %s: %w", id, err)
	}
	return nil
}

// ListConnections returns all persisted connection records.
func (s *Store) ListConnections() ([]model.ConnectionRecord, error) {
	rows, err := s.db.Query("SELECT id, origin, last_update_at FROM connections")
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}
	defer rows.Close()

	var recs []model.ConnectionRecord
	for rows.Next() {
		var rec model.ConnectionRecord
		if err := rows.Scan(&rec.ID, &rec.Origin, &rec.LastUpdateAt); err != nil {
			return nil, fmt.Errorf("scanning connection: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
