// Package process reconciles parsed items against the entity store:
// create/update/skip decisions, hash-based change detection, and the
// clean, clear and expire maintenance stages.
package process

import (
	"time"

	"github.com/quarrylabs/quarry/feed"
)

// EntityProcessorID registers the entity processor in the processor
// registry and keys its configuration blob on the source type.
const EntityProcessorID = "entity"

// Insert policies for items with no matching existing entity.
const (
	InsertNew    = "insert"
	SkipNewItems = "skip"
)

// Update policies for items matching an existing entity.
const (
	UpdateExisting = "update"
	SkipExisting   = "skip"
)

// Policies for previously-imported entities missing from the feed.
// Any other value names a clean action plugin (e.g. "unpublish").
const (
	MissingKeep   = "keep"
	MissingDelete = "delete"
)

// Settings is the entity processor configuration carried on a source
// type under the "entity" plugin id.
type Settings struct {
	// EntityType is the stored type reconciled entities belong to.
	EntityType string `json:"entity_type"`

	// Owner becomes the owner of newly created entities. Empty means
	// entities are created unowned.
	Owner string `json:"owner"`

	// Defaults seed field values on newly created entities before
	// mapping runs.
	Defaults map[string]interface{} `json:"defaults,omitempty"`

	InsertPolicy  string `json:"insert_policy,omitempty"`
	UpdatePolicy  string `json:"update_policy,omitempty"`
	MissingPolicy string `json:"missing_policy,omitempty"`

	// Revisioning starts a new entity revision on every update.
	Revisioning bool `json:"revisioning,omitempty"`

	// SkipHashCheck forces re-mapping even when the content hash is
	// unchanged.
	SkipHashCheck bool `json:"skip_hash_check,omitempty"`

	// GUIDField names the entity field used as the second identification
	// tier in validation messages.
	GUIDField string `json:"guid_field,omitempty"`
}

// SettingsFor extracts processor settings from a source type, applying
// policy defaults.
func SettingsFor(sourceType *feed.SourceType) (Settings, error) {
	var s Settings
	if err := sourceType.PluginConfigFor(EntityProcessorID, &s); err != nil {
		return s, err
	}
	if s.InsertPolicy == "" {
		s.InsertPolicy = InsertNew
	}
	if s.UpdatePolicy == "" {
		s.UpdatePolicy = UpdateExisting
	}
	if s.MissingPolicy == "" {
		s.MissingPolicy = MissingKeep
	}
	return s, nil
}

// Clock supplies the current time so imports are testable against a
// fixed instant.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
