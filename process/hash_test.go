package process

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quarrylabs/quarry/feed"
)

func hashForItem(t *testing.T, sourceType *feed.SourceType, item *feed.Item) string {
	t.Helper()
	mappings := ResolveMappings(sourceType, DefaultCatalog())
	values := NewMapper().MappedValues(sourceType, mappings, item)
	return ContentHash(sourceType.Mappings, values)
}

func TestContentHashIsStable(t *testing.T) {
	sourceType := &feed.SourceType{Mappings: []feed.Mapping{mappingFixture("title", true)}}

	item := feed.NewItem()
	item.Set("title", "Lorem ipsum")

	assert.Equal(t, hashForItem(t, sourceType, item), hashForItem(t, sourceType, item))
}

func TestContentHashIgnoresUnmappedFields(t *testing.T) {
	sourceType := &feed.SourceType{Mappings: []feed.Mapping{mappingFixture("title", true)}}

	plain := feed.NewItem()
	plain.Set("title", "Lorem ipsum")

	noisy := feed.NewItem()
	noisy.Set("title", "Lorem ipsum")
	noisy.Set("fetched_at", "2026-01-01")

	assert.Equal(t, hashForItem(t, sourceType, plain), hashForItem(t, sourceType, noisy))
}

func TestContentHashChangesWithMappedValue(t *testing.T) {
	sourceType := &feed.SourceType{Mappings: []feed.Mapping{mappingFixture("title", true)}}

	before := feed.NewItem()
	before.Set("title", "Lorem ipsum")
	after := feed.NewItem()
	after.Set("title", "Changed title")

	assert.NotEqual(t, hashForItem(t, sourceType, before), hashForItem(t, sourceType, after))
}

func TestContentHashChangesWithMappingConfiguration(t *testing.T) {
	item := feed.NewItem()
	item.Set("title", "Lorem ipsum")
	item.Set("body", "text")

	one := &feed.SourceType{Mappings: []feed.Mapping{mappingFixture("title", true)}}
	two := &feed.SourceType{Mappings: []feed.Mapping{
		mappingFixture("title", true),
		mappingFixture("body", false),
	}}

	// Same source data, different mapping table: re-evaluation is forced.
	assert.NotEqual(t, hashForItem(t, one, item), hashForItem(t, two, item))
}
