package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetProgressClampsToSentinel(t *testing.T) {
	state := NewStageState("src-1", StageParse)

	state.SetProgress(5, 10)
	assert.InDelta(t, 0.5, state.Progress(), 0.001)
	assert.False(t, state.IsComplete())

	state.SetProgress(15, 10)
	assert.Equal(t, ProgressComplete, state.Progress())
	assert.True(t, state.IsComplete())
}

func TestUnknownTotalStaysIncompleteUntilCompleted(t *testing.T) {
	state := NewStageState("src-1", StageFetch)

	state.SetProgress(3, 0)
	assert.False(t, state.IsComplete())

	state.Complete()
	assert.True(t, state.IsComplete())
}

func TestAddMessageFormats(t *testing.T) {
	state := NewStageState("src-1", StageProcess)
	state.AddMessage(SeverityError, "item %d failed", 7)

	assert.Len(t, state.Messages, 1)
	assert.Equal(t, SeverityError, state.Messages[0].Severity)
	assert.Equal(t, "item 7 failed", state.Messages[0].Text)
}

func TestItemPreservesInsertionOrder(t *testing.T) {
	item := NewItem()
	item.Set("b", 1)
	item.Set("a", 2)
	item.Set("b", 3)

	assert.Equal(t, []string{"b", "a"}, item.Keys())
	assert.Equal(t, 3, item.Get("b"))
	assert.True(t, item.Has("a"))
	assert.False(t, item.Has("c"))
}

func TestMappingUniqueSubFields(t *testing.T) {
	m := Mapping{
		Target:    "title",
		Sources:   map[string]string{"value": "title", "format": "fmt"},
		SubFields: []string{"value", "format"},
		Unique:    map[string]bool{"value": true},
	}

	assert.True(t, m.IsUnique())
	assert.Equal(t, []string{"value"}, m.UniqueSubFields())

	m.Unique = nil
	assert.False(t, m.IsUnique())
}
