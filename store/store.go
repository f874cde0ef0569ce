package store

import (
	"context"
)

// Store is the entity persistence contract consumed by the import core.
type Store interface {
	// Load retrieves one entity by id. Returns errors.ErrNotFound when
	// the id does not exist.
	Load(ctx context.Context, id string) (*Entity, error)

	// LoadMultiple retrieves entities by id; missing ids are skipped.
	LoadMultiple(ctx context.Context, ids []string) ([]*Entity, error)

	// Save persists an entity, inserting or updating as appropriate.
	// Save enforces the configured access policy before writing.
	Save(ctx context.Context, entity *Entity) error

	// Delete removes entities by id. Missing ids are not an error.
	Delete(ctx context.Context, ids []string) error

	// UpdateSourceHash overwrites the stored import hash for one entity
	// without going through Save. Used by the clean stage to mark an
	// entity as already handled.
	UpdateSourceHash(ctx context.Context, id, hash string) error

	// Exists reports whether an id is already taken.
	Exists(ctx context.Context, id string) (bool, error)

	// Query starts a condition query against one entity type.
	Query(entityType string) *Query
}

// AccessPolicy decides whether a resolved owner may create or update
// entities. A nil policy allows everything.
type AccessPolicy interface {
	// CanSave returns errors.ErrAccessDenied (possibly wrapped) when the
	// owner may not perform the save.
	CanSave(owner string, isNew bool) error
}
