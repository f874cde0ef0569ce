// Package store provides the generic entity store the import pipeline
// reconciles against: CRUD, condition queries, and per-source import
// bookkeeping (hash + imported timestamp) on each entity.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Entity is one stored record. Field values live in Fields keyed by field
// name; a value is either a scalar or a []interface{} for multi-value
// fields. Translations hold per-language overrides of translatable fields.
type Entity struct {
	ID     string
	Type   string
	Label  string
	GUID   string
	Owner  string
	Fields map[string]interface{}

	// Per-language field overrides for translatable targets.
	// The default-language representation stays in Fields.
	Translations map[string]map[string]interface{}

	Revision          int
	RevisionCreatedAt *time.Time

	// Import bookkeeping for the originating source
	SourceID   string
	SourceHash string
	ImportedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	isNew bool
}

// NewEntity instantiates an unsaved entity of the given type with initial
// field values. The id is assigned immediately so collaborators can refer
// to the entity before it is persisted.
func NewEntity(entityType string, values map[string]interface{}) *Entity {
	fields := make(map[string]interface{}, len(values))
	for k, v := range values {
		fields[k] = v
	}
	return &Entity{
		ID:     uuid.NewString(),
		Type:   entityType,
		Fields: fields,
		isNew:  true,
	}
}

// IsNew reports whether the entity has never been saved.
func (e *Entity) IsNew() bool { return e.isNew }

// Get returns the value of a field in the default language, or nil.
func (e *Entity) Get(field string) interface{} {
	if e.Fields == nil {
		return nil
	}
	return e.Fields[field]
}

// Set assigns a field value in the default language.
func (e *Entity) Set(field string, value interface{}) {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[field] = value
}

// Clear removes a field value in the default language.
func (e *Entity) Clear(field string) {
	delete(e.Fields, field)
}

// GetTranslated returns the value of a field in the given language.
// An empty language reads the default representation.
func (e *Entity) GetTranslated(field, language string) interface{} {
	if language == "" {
		return e.Get(field)
	}
	if t, ok := e.Translations[language]; ok {
		return t[field]
	}
	return nil
}

// SetTranslated assigns a field value in the given language, creating the
// translation on first write. An empty language writes the default
// representation.
func (e *Entity) SetTranslated(field, language string, value interface{}) {
	if language == "" {
		e.Set(field, value)
		return
	}
	if e.Translations == nil {
		e.Translations = make(map[string]map[string]interface{})
	}
	if e.Translations[language] == nil {
		e.Translations[language] = make(map[string]interface{})
	}
	e.Translations[language][field] = value
}

// ClearTranslated removes a field value in the given language. Clearing a
// language that has no translation yet is a no-op.
func (e *Entity) ClearTranslated(field, language string) {
	if language == "" {
		e.Clear(field)
		return
	}
	if t, ok := e.Translations[language]; ok {
		delete(t, field)
	}
}

// IsEmpty reports whether a field has no value in the default language.
func (e *Entity) IsEmpty(field string) bool {
	v := e.Get(field)
	if v == nil {
		return true
	}
	switch tv := v.(type) {
	case string:
		return tv == ""
	case []interface{}:
		return len(tv) == 0
	default:
		return false
	}
}

// NewRevision starts a new revision with the given creation timestamp.
func (e *Entity) NewRevision(at time.Time) {
	e.Revision++
	e.RevisionCreatedAt = &at
}
