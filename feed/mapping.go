package feed

// Mapping is one row of a source type's mapping table: which parsed
// source expressions feed which target field, and which subfields act as
// existing-entity lookup keys.
type Mapping struct {
	// Target is the target field id on the entity.
	Target string `json:"target"`

	// Sources maps subfield name -> source expression (an item key or a
	// named custom source). Order follows SubFields.
	Sources map[string]string `json:"sources"`

	// SubFields preserves subfield order for deterministic hashing and
	// value merging. Defaults to ["value"] semantics when a mapping has a
	// single unnamed subfield.
	SubFields []string `json:"sub_fields"`

	// Unique flags subfields whose mapped values identify an existing
	// entity.
	Unique map[string]bool `json:"unique,omitempty"`

	// Language selects a translation for translation-aware targets.
	// Empty writes the default-language representation.
	Language string `json:"language,omitempty"`

	// Settings is an opaque per-target settings blob.
	Settings map[string]interface{} `json:"settings,omitempty"`

	// Missing marks a mapping whose target is no longer registered. The
	// mapping is retained for operator attention but inert at runtime.
	Missing bool `json:"missing,omitempty"`
}

// IsUnique reports whether any subfield of the mapping is a lookup key.
func (m Mapping) IsUnique() bool {
	for _, flagged := range m.Unique {
		if flagged {
			return true
		}
	}
	return false
}

// UniqueSubFields returns flagged subfields in mapping subfield order.
func (m Mapping) UniqueSubFields() []string {
	var out []string
	for _, sf := range m.SubFields {
		if m.Unique[sf] {
			out = append(out, sf)
		}
	}
	return out
}
