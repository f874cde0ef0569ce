package feed

import (
	"database/sql"

	"github.com/quarrylabs/quarry/errors"
)

// CleanListStore tracks previously-imported entity ids not yet
// reconfirmed present in the current import run.
type CleanListStore struct {
	db *sql.DB
}

// NewCleanListStore creates a clean list store.
func NewCleanListStore(db *sql.DB) *CleanListStore {
	return &CleanListStore{db: db}
}

// Seed replaces the clean list for a source with the given entity ids.
func (s *CleanListStore) Seed(sourceID string, entityIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin clean list seed")
	}

	if _, err := tx.Exec("DELETE FROM clean_list WHERE source_id = ?", sourceID); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "failed to reset clean list")
	}

	for _, entityID := range entityIDs {
		if _, err := tx.Exec(
			"INSERT INTO clean_list (source_id, entity_id) VALUES (?, ?)",
			sourceID, entityID,
		); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "failed to seed clean list")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit clean list seed")
	}
	return nil
}

// Remove confirms an entity as present in the current run, taking it off
// the clean list. Removing an absent entity is not an error.
func (s *CleanListStore) Remove(sourceID, entityID string) error {
	_, err := s.db.Exec(
		"DELETE FROM clean_list WHERE source_id = ? AND entity_id = ?",
		sourceID, entityID)
	if err != nil {
		return errors.Wrap(err, "failed to remove clean list entry")
	}
	return nil
}

// List returns the remaining entity ids for a source.
func (s *CleanListStore) List(sourceID string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT entity_id FROM clean_list WHERE source_id = ? ORDER BY entity_id ASC",
		sourceID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list clean list entries")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan clean list entry")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of remaining entries for a source.
func (s *CleanListStore) Count(sourceID string) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM clean_list WHERE source_id = ?", sourceID).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count clean list entries")
	}
	return count, nil
}

// DeleteAll clears the clean list for a source.
func (s *CleanListStore) DeleteAll(sourceID string) error {
	if _, err := s.db.Exec("DELETE FROM clean_list WHERE source_id = ?", sourceID); err != nil {
		return errors.Wrap(err, "failed to delete clean list")
	}
	return nil
}
