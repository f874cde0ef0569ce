package feed

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/quarrylabs/quarry/errors"
)

// SourceTypeStore persists source type definitions.
type SourceTypeStore struct {
	db *sql.DB
}

// NewSourceTypeStore creates a source type store.
func NewSourceTypeStore(db *sql.DB) *SourceTypeStore {
	return &SourceTypeStore{db: db}
}

const sourceTypeColumns = `id, label, import_period, expire_period,
	fetcher, parser, processor, plugin_config, mappings, custom_sources,
	created_at, updated_at`

// Create inserts a new source type.
func (s *SourceTypeStore) Create(t *SourceType) error {
	pluginConfig, mappings, customSources, err := marshalSourceTypeBlobs(t)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO source_types (`+sourceTypeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Label, t.ImportPeriod, t.ExpirePeriod,
		t.Fetcher, t.Parser, t.Processor,
		pluginConfig, mappings, customSources,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create source type")
	}
	return nil
}

// Get retrieves a source type by id.
func (s *SourceTypeStore) Get(id string) (*SourceType, error) {
	query := `SELECT ` + sourceTypeColumns + ` FROM source_types WHERE id = ?`

	var t SourceType
	var pluginConfig, mappings, customSources string
	err := s.db.QueryRow(query, id).Scan(
		&t.ID, &t.Label, &t.ImportPeriod, &t.ExpirePeriod,
		&t.Fetcher, &t.Parser, &t.Processor,
		&pluginConfig, &mappings, &customSources,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("source type %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get source type")
	}

	if err := unmarshalSourceTypeBlobs(&t, pluginConfig, mappings, customSources); err != nil {
		return nil, err
	}
	return &t, nil
}

// Update persists changes to an existing source type.
func (s *SourceTypeStore) Update(t *SourceType) error {
	pluginConfig, mappings, customSources, err := marshalSourceTypeBlobs(t)
	if err != nil {
		return err
	}

	t.UpdatedAt = time.Now().UTC()

	result, err := s.db.Exec(`
		UPDATE source_types
		SET label = ?, import_period = ?, expire_period = ?,
		    fetcher = ?, parser = ?, processor = ?,
		    plugin_config = ?, mappings = ?, custom_sources = ?,
		    updated_at = ?
		WHERE id = ?`,
		t.Label, t.ImportPeriod, t.ExpirePeriod,
		t.Fetcher, t.Parser, t.Processor,
		pluginConfig, mappings, customSources,
		t.UpdatedAt, t.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update source type")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("source type %s", t.ID)
	}
	return nil
}

// Delete removes a source type. Fails with ErrConflict while dependent
// sources exist.
func (s *SourceTypeStore) Delete(id string) error {
	var dependents int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sources WHERE type_id = ?", id).Scan(&dependents)
	if err != nil {
		return errors.Wrap(err, "failed to count dependent sources")
	}
	if dependents > 0 {
		return errors.Wrapf(errors.ErrConflict,
			"source type %s has %d dependent sources", id, dependents)
	}

	result, err := s.db.Exec("DELETE FROM source_types WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(err, "failed to delete source type")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("source type %s", id)
	}
	return nil
}

// List returns all source types ordered by label.
func (s *SourceTypeStore) List() ([]*SourceType, error) {
	rows, err := s.db.Query(`SELECT ` + sourceTypeColumns + ` FROM source_types ORDER BY label ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list source types")
	}
	defer rows.Close()

	var types []*SourceType
	for rows.Next() {
		var t SourceType
		var pluginConfig, mappings, customSources string
		if err := rows.Scan(
			&t.ID, &t.Label, &t.ImportPeriod, &t.ExpirePeriod,
			&t.Fetcher, &t.Parser, &t.Processor,
			&pluginConfig, &mappings, &customSources,
			&t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan source type")
		}
		if err := unmarshalSourceTypeBlobs(&t, pluginConfig, mappings, customSources); err != nil {
			return nil, err
		}
		types = append(types, &t)
	}
	return types, rows.Err()
}

func marshalSourceTypeBlobs(t *SourceType) (pluginConfig, mappings, customSources string, err error) {
	pc, err := json.Marshal(t.PluginConfig)
	if err != nil {
		return "", "", "", errors.Wrap(err, "failed to marshal plugin config")
	}
	m, err := json.Marshal(t.Mappings)
	if err != nil {
		return "", "", "", errors.Wrap(err, "failed to marshal mappings")
	}
	cs, err := json.Marshal(t.CustomSources)
	if err != nil {
		return "", "", "", errors.Wrap(err, "failed to marshal custom sources")
	}
	return string(pc), string(m), string(cs), nil
}

func unmarshalSourceTypeBlobs(t *SourceType, pluginConfig, mappings, customSources string) error {
	if pluginConfig != "" && pluginConfig != "null" {
		if err := json.Unmarshal([]byte(pluginConfig), &t.PluginConfig); err != nil {
			return errors.Wrap(err, "failed to unmarshal plugin config")
		}
	}
	if mappings != "" && mappings != "null" {
		if err := json.Unmarshal([]byte(mappings), &t.Mappings); err != nil {
			return errors.Wrap(err, "failed to unmarshal mappings")
		}
	}
	if customSources != "" && customSources != "null" {
		if err := json.Unmarshal([]byte(customSources), &t.CustomSources); err != nil {
			return errors.Wrap(err, "failed to unmarshal custom sources")
		}
	}
	return nil
}
