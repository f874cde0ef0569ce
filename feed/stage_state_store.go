package feed

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/quarrylabs/quarry/errors"
)

// StageStateStore persists per-(source, stage) progress records.
type StageStateStore struct {
	db *sql.DB
}

// NewStageStateStore creates a stage state store.
func NewStageStateStore(db *sql.DB) *StageStateStore {
	return &StageStateStore{db: db}
}

// GetOrCreate loads the state for one (source, stage) pair, creating a
// blank one on first access. The blank state is not persisted until Save.
func (s *StageStateStore) GetOrCreate(sourceID string, stage Stage) (*StageState, error) {
	query := `
		SELECT pointer, total, progress,
		       created, updated, skipped, failed, deleted, cleaned,
		       messages, clean_entity_type, updated_at
		FROM stage_states
		WHERE source_id = ? AND stage = ?
	`

	state := NewStageState(sourceID, stage)
	var messagesJSON string
	err := s.db.QueryRow(query, sourceID, string(stage)).Scan(
		&state.Pointer, &state.Total, &state.progress,
		&state.Created, &state.Updated, &state.Skipped,
		&state.Failed, &state.Deleted, &state.Cleaned,
		&messagesJSON, &state.CleanEntityType, &state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load stage state")
	}

	if messagesJSON != "" {
		if err := json.Unmarshal([]byte(messagesJSON), &state.Messages); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal stage messages")
		}
	}
	return state, nil
}

// Save upserts a stage state.
func (s *StageStateStore) Save(state *StageState) error {
	messagesJSON, err := json.Marshal(state.Messages)
	if err != nil {
		return errors.Wrap(err, "failed to marshal stage messages")
	}

	state.UpdatedAt = time.Now().UTC()

	_, err = s.db.Exec(`
		INSERT INTO stage_states (
			source_id, stage, pointer, total, progress,
			created, updated, skipped, failed, deleted, cleaned,
			messages, clean_entity_type, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, stage) DO UPDATE SET
			pointer = excluded.pointer,
			total = excluded.total,
			progress = excluded.progress,
			created = excluded.created,
			updated = excluded.updated,
			skipped = excluded.skipped,
			failed = excluded.failed,
			deleted = excluded.deleted,
			cleaned = excluded.cleaned,
			messages = excluded.messages,
			clean_entity_type = excluded.clean_entity_type,
			updated_at = excluded.updated_at`,
		state.SourceID, string(state.Stage), state.Pointer, state.Total, state.progress,
		state.Created, state.Updated, state.Skipped, state.Failed, state.Deleted, state.Cleaned,
		string(messagesJSON), state.CleanEntityType, state.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save stage state")
	}
	return nil
}

// DeleteAll removes every stage state for a source. Used on unlock, on
// explicit clear, and on source delete.
func (s *StageStateStore) DeleteAll(sourceID string) error {
	if _, err := s.db.Exec("DELETE FROM stage_states WHERE source_id = ?", sourceID); err != nil {
		return errors.Wrap(err, "failed to delete stage states")
	}
	return nil
}
