package process

import (
	"github.com/quarrylabs/quarry/errors"
	"github.com/quarrylabs/quarry/feed"
	"github.com/quarrylabs/quarry/store"
)

// Mapper applies a source type's mapping table to an entity: clears
// mutable targets, merges values across mapping rows sharing a target,
// and assigns the merged result through each target.
type Mapper struct{}

// NewMapper creates a mapper.
func NewMapper() *Mapper {
	return &Mapper{}
}

// mergeKey groups mapping rows writing to the same destination.
type mergeKey struct {
	target   string
	language string
}

// Map writes the item's mapped values onto the entity. Dangling
// mappings are skipped. Immutable targets holding a non-empty value are
// left untouched.
func (m *Mapper) Map(sourceType *feed.SourceType, mappings []ResolvedMapping, entity *store.Entity, item *feed.Item) error {
	// Clear mutable targets before assignment so values removed from
	// the feed do not linger on the entity.
	for _, rm := range mappings {
		if rm.Dangling() || !rm.Target.Mutable() {
			continue
		}
		rm.Target.Clear(entity, mappingLanguage(rm))
	}

	merged := m.collect(sourceType, mappings, item)

	seen := make(map[mergeKey]bool)
	for _, rm := range mappings {
		if rm.Dangling() {
			continue
		}
		key := mergeKey{target: rm.Mapping.Target, language: mappingLanguage(rm)}
		if seen[key] {
			continue
		}
		seen[key] = true

		values := merged[key]
		if len(values) == 0 {
			continue
		}
		if !rm.Target.Mutable() && !rm.Target.IsEmpty(entity, key.language) {
			// Write-once target already holds a value.
			continue
		}
		if err := rm.Target.Set(entity, key.language, values); err != nil {
			return errors.Wrapf(err, "failed to map target %q", rm.Mapping.Target)
		}
	}
	return nil
}

// MappedValues returns the merged values the mapping table extracts from
// an item, keyed by target id then subfield. This is the hash input for
// change detection: unmapped item fields never influence it.
func (m *Mapper) MappedValues(sourceType *feed.SourceType, mappings []ResolvedMapping, item *feed.Item) map[string]map[string][]interface{} {
	merged := m.collect(sourceType, mappings, item)
	out := make(map[string]map[string][]interface{}, len(merged))
	for key, values := range merged {
		id := key.target
		if key.language != "" {
			id = key.target + "@" + key.language
		}
		out[id] = values
	}
	return out
}

// UniqueValue extracts the value of a mapping's first unique subfield
// from an item, or nil when absent.
func (m *Mapper) UniqueValue(sourceType *feed.SourceType, mapping feed.Mapping, item *feed.Item) interface{} {
	for _, sf := range mapping.UniqueSubFields() {
		expr, ok := mapping.Sources[sf]
		if !ok {
			continue
		}
		if v := extractValue(item, sourceType.ResolveSource(expr)); len(v) > 0 {
			return v[0]
		}
	}
	return nil
}

// collect gathers values per destination, appending in mapping order
// and re-indexing into dense 0-based lists per subfield.
func (m *Mapper) collect(sourceType *feed.SourceType, mappings []ResolvedMapping, item *feed.Item) map[mergeKey]map[string][]interface{} {
	merged := make(map[mergeKey]map[string][]interface{})
	for _, rm := range mappings {
		if rm.Dangling() {
			continue
		}
		key := mergeKey{target: rm.Mapping.Target, language: mappingLanguage(rm)}
		values := merged[key]
		if values == nil {
			values = make(map[string][]interface{})
			merged[key] = values
		}
		for _, sf := range subFields(rm.Mapping) {
			expr, ok := rm.Mapping.Sources[sf]
			if !ok {
				continue
			}
			values[sf] = append(values[sf], extractValue(item, sourceType.ResolveSource(expr))...)
		}
	}
	return merged
}

// extractValue pulls a dense value list from an item key. Lists are
// expanded; nil and empty-string elements are dropped.
func extractValue(item *feed.Item, key string) []interface{} {
	raw := item.Get(key)
	if raw == nil {
		return nil
	}

	var out []interface{}
	if list, ok := raw.([]interface{}); ok {
		for _, v := range list {
			if !emptyValue(v) {
				out = append(out, v)
			}
		}
		return out
	}
	if !emptyValue(raw) {
		out = append(out, raw)
	}
	return out
}

func emptyValue(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func subFields(m feed.Mapping) []string {
	if len(m.SubFields) > 0 {
		return m.SubFields
	}
	return []string{"value"}
}

func mappingLanguage(rm ResolvedMapping) string {
	if rm.Target != nil && rm.Target.Translatable() {
		return rm.Mapping.Language
	}
	return ""
}
