package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// InsertVector writes (or replaces) the embedding for a content id. The
// side-index has no foreign key, so this never fails on a missing item;
// orphans are reaped by CleanupOrphanedVectors.
func (s *Store) InsertVector(contentID int64, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("store: empty vector for content %d", contentID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO item_vectors (content_id, embedding) VALUES (?, ?)`,
		contentID, encodeVector(vec))
	if err != nil {
		return fmt.Errorf("store: insert vector: %w", err)
	}
	return nil
}

// DeleteVector removes the embedding for a content id, if present.
func (s *Store) DeleteVector(contentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM item_vectors WHERE content_id = ?`, contentID); err != nil {
		return fmt.Errorf("store: delete vector: %w", err)
	}
	return nil
}

// GetVector reads one embedding back. Mostly for tooling and tests.
func (s *Store) GetVector(contentID int64) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT embedding FROM item_vectors WHERE content_id = ?`, contentID).Scan(&blob)
	if err != nil {
		return nil, fmt.Errorf("store: get vector: %w", err)
	}
	return decodeVector(blob)
}

// CleanupOrphanedVectors deletes every vector row whose content id no longer
// resolves to a live item and returns the number deleted. Runs at the end of
// each cycle; idempotent, so a second call right after returns 0.
func (s *Store) CleanupOrphanedVectors() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`DELETE FROM item_vectors WHERE content_id NOT IN (SELECT id FROM items)`)
	if err != nil {
		return 0, fmt.Errorf("store: cleanup orphaned vectors: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ─── blob codec ──────────────────────────────────────────────────────────────

// Vectors are stored as little-endian float32 blobs, 4 bytes per dimension.

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("store: vector blob length %d not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
