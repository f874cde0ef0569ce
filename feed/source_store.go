package feed

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/quarrylabs/quarry/errors"
)

// SourceStore persists configured sources.
type SourceStore struct {
	db *sql.DB
}

// NewSourceStore creates a source store.
func NewSourceStore(db *sql.DB) *SourceStore {
	return &SourceStore{db: db}
}

const sourceColumns = `id, type_id, label, origin, active, item_count,
	imported_at, next_run_at, queued_at, config, created_at, updated_at`

// Create inserts a new source.
func (s *SourceStore) Create(src *Source) error {
	configJSON, err := json.Marshal(src.Config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal source config")
	}

	now := time.Now().UTC()
	src.CreatedAt = now
	src.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO sources (`+sourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.TypeID, src.Label, src.Origin, src.Active, src.ItemCount,
		src.ImportedAt, src.NextRunAt, src.QueuedAt, string(configJSON),
		src.CreatedAt, src.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create source")
	}
	return nil
}

// Get retrieves a source by id.
func (s *SourceStore) Get(id string) (*Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = ?`
	src, err := scanSource(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("source %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get source")
	}
	return src, nil
}

// Update persists changes to an existing source.
func (s *SourceStore) Update(src *Source) error {
	configJSON, err := json.Marshal(src.Config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal source config")
	}

	src.UpdatedAt = time.Now().UTC()

	result, err := s.db.Exec(`
		UPDATE sources
		SET type_id = ?, label = ?, origin = ?, active = ?, item_count = ?,
		    imported_at = ?, next_run_at = ?, queued_at = ?, config = ?,
		    updated_at = ?
		WHERE id = ?`,
		src.TypeID, src.Label, src.Origin, src.Active, src.ItemCount,
		src.ImportedAt, src.NextRunAt, src.QueuedAt, string(configJSON),
		src.UpdatedAt, src.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update source")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("source %s", src.ID)
	}
	return nil
}

// Delete removes a source. Stage states and clean-list rows cascade via
// foreign keys; firing the source-deleted event is the caller's job.
func (s *SourceStore) Delete(id string) error {
	result, err := s.db.Exec("DELETE FROM sources WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(err, "failed to delete source")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("source %s", id)
	}
	return nil
}

// List returns all sources ordered by label.
func (s *SourceStore) List() ([]*Source, error) {
	rows, err := s.db.Query(`SELECT ` + sourceColumns + ` FROM sources ORDER BY label ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sources")
	}
	defer rows.Close()
	return scanSources(rows)
}

// ListDue returns active, unqueued sources whose next run is at or before
// now, soonest first.
func (s *SourceStore) ListDue(now time.Time) ([]*Source, error) {
	rows, err := s.db.Query(`
		SELECT `+sourceColumns+`
		FROM sources
		WHERE active = 1
		  AND queued_at IS NULL
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= ?
		ORDER BY next_run_at ASC`, now.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due sources")
	}
	defer rows.Close()
	return scanSources(rows)
}

// ListQueued returns sources currently marked queued, oldest first.
func (s *SourceStore) ListQueued() ([]*Source, error) {
	rows, err := s.db.Query(`
		SELECT ` + sourceColumns + `
		FROM sources
		WHERE queued_at IS NOT NULL
		ORDER BY queued_at ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list queued sources")
	}
	defer rows.Close()
	return scanSources(rows)
}

func scanSources(rows *sql.Rows) ([]*Source, error) {
	var sources []*Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan source")
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(row rowScanner) (*Source, error) {
	var src Source
	var configJSON string
	var importedAt, nextRunAt, queuedAt sql.NullTime

	err := row.Scan(
		&src.ID, &src.TypeID, &src.Label, &src.Origin, &src.Active, &src.ItemCount,
		&importedAt, &nextRunAt, &queuedAt, &configJSON,
		&src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if importedAt.Valid {
		src.ImportedAt = &importedAt.Time
	}
	if nextRunAt.Valid {
		src.NextRunAt = &nextRunAt.Time
	}
	if queuedAt.Valid {
		src.QueuedAt = &queuedAt.Time
	}
	if configJSON != "" && configJSON != "null" {
		if err := json.Unmarshal([]byte(configJSON), &src.Config); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal source config")
		}
	}
	return &src, nil
}
