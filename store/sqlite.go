package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/quarrylabs/quarry/errors"
)

// SQLiteStore persists entities in the quarry database.
type SQLiteStore struct {
	db     *sql.DB
	policy AccessPolicy
}

// NewSQLiteStore creates an entity store. policy may be nil to allow all
// saves.
func NewSQLiteStore(db *sql.DB, policy AccessPolicy) *SQLiteStore {
	return &SQLiteStore{db: db, policy: policy}
}

// fieldsEnvelope is the JSON shape of the fields column.
type fieldsEnvelope struct {
	Fields       map[string]interface{}            `json:"fields"`
	Translations map[string]map[string]interface{} `json:"translations,omitempty"`
}

const entityColumns = `id, entity_type, label, guid, owner, fields,
	revision, revision_created_at, source_id, source_hash, imported_at,
	created_at, updated_at`

// Load retrieves one entity by id.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE id = ?`

	entity, err := scanEntity(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("entity %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load entity")
	}
	return entity, nil
}

// LoadMultiple retrieves entities by id; missing ids are skipped.
func (s *SQLiteStore) LoadMultiple(ctx context.Context, ids []string) ([]*Entity, error) {
	entities := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		entity, err := s.Load(ctx, id)
		if errors.IsNotFoundError(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// Exists reports whether an id is already taken.
func (s *SQLiteStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM entities WHERE id = ?)", id).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check entity existence")
	}
	return exists, nil
}

// Save persists an entity, inserting or updating as appropriate.
func (s *SQLiteStore) Save(ctx context.Context, entity *Entity) error {
	if s.policy != nil {
		if err := s.policy.CanSave(entity.Owner, entity.isNew); err != nil {
			return err
		}
	}

	envelope, err := json.Marshal(fieldsEnvelope{
		Fields:       entity.Fields,
		Translations: entity.Translations,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal entity fields")
	}

	now := time.Now().UTC()
	entity.UpdatedAt = now

	if entity.isNew {
		entity.CreatedAt = now
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO entities (`+entityColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entity.ID, entity.Type, entity.Label, entity.GUID, entity.Owner,
			string(envelope), entity.Revision, entity.RevisionCreatedAt,
			entity.SourceID, entity.SourceHash, entity.ImportedAt,
			entity.CreatedAt, entity.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, "failed to insert entity")
		}
		entity.isNew = false
		return nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE entities
		SET label = ?, guid = ?, owner = ?, fields = ?,
		    revision = ?, revision_created_at = ?,
		    source_id = ?, source_hash = ?, imported_at = ?, updated_at = ?
		WHERE id = ?`,
		entity.Label, entity.GUID, entity.Owner, string(envelope),
		entity.Revision, entity.RevisionCreatedAt,
		entity.SourceID, entity.SourceHash, entity.ImportedAt,
		entity.UpdatedAt, entity.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update entity")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("entity %s", entity.ID)
	}
	return nil
}

// Delete removes entities by id. Missing ids are not an error.
func (s *SQLiteStore) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", id); err != nil {
			return errors.Wrapf(err, "failed to delete entity %s", id)
		}
	}
	return nil
}

// UpdateSourceHash overwrites the stored import hash for one entity.
// Used by the clean stage to mark an entity as already handled.
func (s *SQLiteStore) UpdateSourceHash(ctx context.Context, id, hash string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE entities SET source_hash = ?, updated_at = ? WHERE id = ?",
		hash, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrapf(err, "failed to update source hash for %s", id)
	}
	return nil
}

// Query starts a condition query against one entity type.
func (s *SQLiteStore) Query(entityType string) *Query {
	return &Query{store: s, entityType: entityType}
}

// rowScanner abstracts sql.Row and sql.Rows for entity scanning.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var entity Entity
	var envelope string
	var revisionCreatedAt, importedAt sql.NullTime

	err := row.Scan(
		&entity.ID, &entity.Type, &entity.Label, &entity.GUID, &entity.Owner,
		&envelope, &entity.Revision, &revisionCreatedAt,
		&entity.SourceID, &entity.SourceHash, &importedAt,
		&entity.CreatedAt, &entity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	var fields fieldsEnvelope
	if err := json.Unmarshal([]byte(envelope), &fields); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal entity fields")
	}
	entity.Fields = fields.Fields
	if entity.Fields == nil {
		entity.Fields = make(map[string]interface{})
	}
	entity.Translations = fields.Translations

	if revisionCreatedAt.Valid {
		entity.RevisionCreatedAt = &revisionCreatedAt.Time
	}
	if importedAt.Valid {
		entity.ImportedAt = &importedAt.Time
	}
	return &entity, nil
}
