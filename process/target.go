package process

import (
	"github.com/quarrylabs/quarry/errors"
	"github.com/quarrylabs/quarry/feed"
	"github.com/quarrylabs/quarry/store"
)

// Target is one assignable destination on an entity. Immutable targets
// are write-once: assignment is skipped when a non-empty value already
// exists. Translatable targets accept a language; others ignore it.
type Target interface {
	ID() string
	Mutable() bool
	Translatable() bool

	// Set applies merged subfield values. Values are dense 0-based
	// lists per subfield, in mapping order.
	Set(entity *store.Entity, language string, values map[string][]interface{}) error

	// IsEmpty reports whether the entity has no value at this target.
	IsEmpty(entity *store.Entity, language string) bool

	// Clear removes the value. Clearing a translation that does not
	// exist is a no-op.
	Clear(entity *store.Entity, language string)
}

// Catalog resolves mapping target ids to Target implementations. A
// mapping whose id resolves to nothing is dangling: retained for
// operator attention but inert at runtime.
type Catalog struct {
	targets  map[string]Target
	fallback func(id string) Target
}

// NewCatalog creates a catalog. fallback, when non-nil, constructs a
// target for ids with no explicit registration; a nil fallback makes
// unregistered ids dangle.
func NewCatalog(fallback func(id string) Target) *Catalog {
	return &Catalog{
		targets:  make(map[string]Target),
		fallback: fallback,
	}
}

// Register adds an explicit target. Later registrations for the same id
// win, which lets deployments override built-ins.
func (c *Catalog) Register(t Target) {
	c.targets[t.ID()] = t
}

// Resolve returns the target for id, or nil when the id dangles.
func (c *Catalog) Resolve(id string) Target {
	if t, ok := c.targets[id]; ok {
		return t
	}
	if c.fallback != nil {
		return c.fallback(id)
	}
	return nil
}

// ResolvedMapping pairs a mapping row with its resolved target.
type ResolvedMapping struct {
	Mapping feed.Mapping
	Target  Target
}

// Dangling reports whether the mapping has no usable target.
func (r ResolvedMapping) Dangling() bool {
	return r.Target == nil || r.Mapping.Missing
}

// ResolveMappings resolves every mapping row of a source type against
// the catalog, preserving mapping order.
func ResolveMappings(sourceType *feed.SourceType, catalog *Catalog) []ResolvedMapping {
	resolved := make([]ResolvedMapping, 0, len(sourceType.Mappings))
	for _, m := range sourceType.Mappings {
		rm := ResolvedMapping{Mapping: m}
		if !m.Missing {
			rm.Target = catalog.Resolve(m.Target)
		}
		resolved = append(resolved, rm)
	}
	return resolved
}

// FieldTarget writes to a named entity field. The "value" subfield (or
// the sole subfield) lands as the field value: a scalar when single, a
// list when multiple.
type FieldTarget struct {
	id           string
	mutable      bool
	translatable bool
}

// NewFieldTarget creates a field target.
func NewFieldTarget(id string, mutable, translatable bool) *FieldTarget {
	return &FieldTarget{id: id, mutable: mutable, translatable: translatable}
}

func (t *FieldTarget) ID() string         { return t.id }
func (t *FieldTarget) Mutable() bool      { return t.mutable }
func (t *FieldTarget) Translatable() bool { return t.translatable }

func (t *FieldTarget) Set(entity *store.Entity, language string, values map[string][]interface{}) error {
	value := flatten(values)
	if value == nil {
		return nil
	}
	if t.translatable && language != "" {
		entity.SetTranslated(t.id, language, value)
		return nil
	}
	entity.Set(t.id, value)
	return nil
}

func (t *FieldTarget) IsEmpty(entity *store.Entity, language string) bool {
	if t.translatable && language != "" {
		return entity.GetTranslated(t.id, language) == nil
	}
	return entity.IsEmpty(t.id)
}

func (t *FieldTarget) Clear(entity *store.Entity, language string) {
	if t.translatable && language != "" {
		entity.ClearTranslated(t.id, language)
		return
	}
	entity.Clear(t.id)
}

// flatten reduces merged subfield values to one field value. A single
// "value" subfield with one element becomes a scalar; multiple elements
// stay a list; multiple subfields become a list of per-position maps.
func flatten(values map[string][]interface{}) interface{} {
	if len(values) == 0 {
		return nil
	}
	if len(values) == 1 {
		for _, list := range values {
			switch len(list) {
			case 0:
				return nil
			case 1:
				return list[0]
			default:
				return list
			}
		}
	}

	width := 0
	for _, list := range values {
		if len(list) > width {
			width = len(list)
		}
	}
	deltas := make([]interface{}, 0, width)
	for i := 0; i < width; i++ {
		delta := make(map[string]interface{}, len(values))
		for sf, list := range values {
			if i < len(list) {
				delta[sf] = list[i]
			}
		}
		deltas = append(deltas, delta)
	}
	return deltas
}

// AttributeTarget writes one of the entity's identifying attributes
// (label, guid, owner). Always mutable, never translatable.
type AttributeTarget struct {
	id string
}

// Attribute target ids.
const (
	TargetLabel = "label"
	TargetGUID  = "guid"
	TargetOwner = "owner"
)

// NewAttributeTarget creates a target for one of the attribute ids.
func NewAttributeTarget(id string) (*AttributeTarget, error) {
	switch id {
	case TargetLabel, TargetGUID, TargetOwner:
		return &AttributeTarget{id: id}, nil
	}
	return nil, errors.Newf("unknown attribute target %q", id)
}

func (t *AttributeTarget) ID() string         { return t.id }
func (t *AttributeTarget) Mutable() bool      { return true }
func (t *AttributeTarget) Translatable() bool { return false }

func (t *AttributeTarget) Set(entity *store.Entity, _ string, values map[string][]interface{}) error {
	value := flatten(values)
	if value == nil {
		return nil
	}
	text, ok := value.(string)
	if !ok {
		return errors.Newf("attribute target %q requires a string value", t.id)
	}
	switch t.id {
	case TargetLabel:
		entity.Label = text
	case TargetGUID:
		entity.GUID = text
	case TargetOwner:
		entity.Owner = text
	}
	return nil
}

func (t *AttributeTarget) IsEmpty(entity *store.Entity, _ string) bool {
	switch t.id {
	case TargetLabel:
		return entity.Label == ""
	case TargetGUID:
		return entity.GUID == ""
	case TargetOwner:
		return entity.Owner == ""
	}
	return true
}

func (t *AttributeTarget) Clear(entity *store.Entity, _ string) {
	switch t.id {
	case TargetLabel:
		entity.Label = ""
	case TargetGUID:
		entity.GUID = ""
	case TargetOwner:
		entity.Owner = ""
	}
}

// DefaultCatalog returns a catalog with the attribute targets registered
// and a fallback that treats any other id as a mutable, translatable
// entity field.
func DefaultCatalog() *Catalog {
	catalog := NewCatalog(func(id string) Target {
		return NewFieldTarget(id, true, true)
	})
	for _, id := range []string{TargetLabel, TargetGUID, TargetOwner} {
		t, _ := NewAttributeTarget(id)
		catalog.Register(t)
	}
	return catalog
}
