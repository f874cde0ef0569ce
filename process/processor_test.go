package process

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/event"
	"github.com/quarrylabs/quarry/feed"
	qtesting "github.com/quarrylabs/quarry/internal/testing"
	"github.com/quarrylabs/quarry/store"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

type processorFixture struct {
	processor *EntityProcessor
	entities  store.Store
	cleanList *feed.CleanListStore
	source    *feed.Source
	state     *feed.StageState
}

func newProcessorFixture(t *testing.T, settings string) (*processorFixture, *feed.SourceType) {
	t.Helper()
	conn := qtesting.CreateTestDB(t)

	sourceType := &feed.SourceType{
		ID:        "news-csv",
		Label:     "News CSV",
		Fetcher:   "http",
		Parser:    "csv",
		Processor: EntityProcessorID,
		PluginConfig: map[string]json.RawMessage{
			EntityProcessorID: json.RawMessage(settings),
		},
		Mappings: []feed.Mapping{mappingFixture("title", true)},
	}
	require.NoError(t, feed.NewSourceTypeStore(conn).Create(sourceType))

	source := &feed.Source{
		ID:     "src-1",
		TypeID: sourceType.ID,
		Label:  "Daily news",
		Origin: "https://example.com/news.csv",
		Active: true,
	}
	require.NoError(t, feed.NewSourceStore(conn).Create(source))

	entities := store.NewSQLiteStore(conn, nil)
	cleanList := feed.NewCleanListStore(conn)
	clock := fixedClock{at: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
	processor := NewEntityProcessor(entities, cleanList, event.NewBus(nil), DefaultCatalog(), clock, nil)

	return &processorFixture{
		processor: processor,
		entities:  entities,
		cleanList: cleanList,
		source:    source,
		state:     source.State(feed.StageProcess),
	}, sourceType
}

func titleItem(title string) *feed.Item {
	item := feed.NewItem()
	item.Set("title", title)
	return item
}

func TestProcessCreatesThenSkipsThenUpdates(t *testing.T) {
	fx, sourceType := newProcessorFixture(t, `{"entity_type": "article"}`)
	ctx := context.Background()

	// First import creates.
	outcome, err := fx.processor.Process(ctx, fx.source, sourceType, titleItem("Lorem ipsum"), fx.state)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, outcome.Status)
	require.NotNil(t, outcome.Entity)
	created := outcome.Entity.ID

	// Unchanged re-import skips.
	outcome, err = fx.processor.Process(ctx, fx.source, sourceType, titleItem("Lorem ipsum"), fx.state)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, outcome.Status)
	assert.Equal(t, "unchanged", outcome.Reason)

	// Changing a mapped value updates the same entity. The title is the
	// unique key here, so change a second mapped field instead.
	sourceType.Mappings = append(sourceType.Mappings, mappingFixture("body", false))
	item := titleItem("Lorem ipsum")
	item.Set("body", "new text")
	outcome, err = fx.processor.Process(ctx, fx.source, sourceType, item, fx.state)
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, outcome.Status)
	assert.Equal(t, created, outcome.Entity.ID)

	assert.Equal(t, 1, fx.state.Created)
	assert.Equal(t, 1, fx.state.Skipped)
	assert.Equal(t, 1, fx.state.Updated)
}

func TestProcessFirstUniqueMappingWins(t *testing.T) {
	fx, sourceType := newProcessorFixture(t, `{"entity_type": "article"}`)
	ctx := context.Background()

	guidMapping := mappingFixture("ref", true)
	sourceType.Mappings = []feed.Mapping{mappingFixture("title", true), guidMapping}

	// Two stored entities: one matches by title, another by ref.
	byTitle := store.NewEntity("article", map[string]interface{}{"title": "Lorem ipsum"})
	byRef := store.NewEntity("article", map[string]interface{}{"ref": "r-42"})
	require.NoError(t, fx.entities.Save(ctx, byTitle))
	require.NoError(t, fx.entities.Save(ctx, byRef))

	// The item matches both rows; the first mapping decides.
	item := titleItem("Lorem ipsum")
	item.Set("ref", "r-42")
	outcome, err := fx.processor.Process(ctx, fx.source, sourceType, item, fx.state)
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, outcome.Status)
	assert.Equal(t, byTitle.ID, outcome.Entity.ID)
}

func TestProcessInsertPolicySkipsNewItems(t *testing.T) {
	fx, sourceType := newProcessorFixture(t, `{"entity_type": "article", "insert_policy": "skip"}`)

	outcome, err := fx.processor.Process(context.Background(), fx.source, sourceType, titleItem("brand new"), fx.state)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, outcome.Status)
	assert.Equal(t, "skip new item", outcome.Reason)

	count, err := fx.entities.Query("article").Condition("source_id", fx.source.ID).Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestProcessUpdatePolicySkipsExistingItems(t *testing.T) {
	fx, sourceType := newProcessorFixture(t, `{"entity_type": "article", "update_policy": "skip"}`)
	ctx := context.Background()

	existing := store.NewEntity("article", map[string]interface{}{"title": "Lorem ipsum"})
	require.NoError(t, fx.entities.Save(ctx, existing))

	outcome, err := fx.processor.Process(ctx, fx.source, sourceType, titleItem("Lorem ipsum"), fx.state)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, outcome.Status)
	assert.Equal(t, "skip existing item", outcome.Reason)
}

func TestProcessBadItemDoesNotAbortBatch(t *testing.T) {
	fx, sourceType := newProcessorFixture(t, `{"entity_type": "article"}`)
	ctx := context.Background()

	sourceType.Mappings = []feed.Mapping{
		mappingFixture("title", true),
		mappingFixture(TargetLabel, false),
	}

	// A non-string label breaks the attribute assignment for this item.
	bad := titleItem("bad row")
	bad.Set(TargetLabel, 12345)
	outcome, err := fx.processor.Process(ctx, fx.source, sourceType, bad, fx.state)
	require.NoError(t, err, "per-item failure must not surface as an error")
	assert.Equal(t, StatusFailed, outcome.Status)

	good := titleItem("good row")
	good.Set(TargetLabel, "Good row")
	outcome, err = fx.processor.Process(ctx, fx.source, sourceType, good, fx.state)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, outcome.Status)

	assert.Equal(t, 1, fx.state.Failed)
	assert.Equal(t, 1, fx.state.Created)
	require.NotEmpty(t, fx.state.Messages)
}

func TestProcessWarnsEveryDanglingMappingOnce(t *testing.T) {
	fx, sourceType := newProcessorFixture(t, `{"entity_type": "article"}`)
	ctx := context.Background()

	catalog := NewCatalog(nil) // no fallback: unregistered targets dangle
	catalog.Register(NewFieldTarget("title", true, true))
	fx.processor.catalog = catalog

	sourceType.Mappings = []feed.Mapping{
		mappingFixture("title", true),
		mappingFixture("ghost", false),
		mappingFixture("phantom", false),
	}

	_, err := fx.processor.Process(ctx, fx.source, sourceType, titleItem("Lorem ipsum"), fx.state)
	require.NoError(t, err)
	_, err = fx.processor.Process(ctx, fx.source, sourceType, titleItem("Ut wisi enim"), fx.state)
	require.NoError(t, err)

	var warnings []string
	for _, m := range fx.state.Messages {
		if m.Severity == feed.SeverityWarning {
			warnings = append(warnings, m.Text)
		}
	}
	require.Len(t, warnings, 2, "each dangling mapping warned exactly once")
	assert.Contains(t, warnings[0], `"ghost"`)
	assert.Contains(t, warnings[1], `"phantom"`)
}

func TestProcessSeedsCleanListOnce(t *testing.T) {
	fx, sourceType := newProcessorFixture(t, `{"entity_type": "article", "missing_policy": "delete"}`)
	ctx := context.Background()

	stale := store.NewEntity("article", map[string]interface{}{"title": "gone from feed"})
	stale.SourceID = fx.source.ID
	stale.SourceHash = "old-hash"
	handled := store.NewEntity("article", map[string]interface{}{"title": "already handled"})
	handled.SourceID = fx.source.ID
	handled.SourceHash = HandledHash
	require.NoError(t, fx.entities.Save(ctx, stale))
	require.NoError(t, fx.entities.Save(ctx, handled))

	_, err := fx.processor.Process(ctx, fx.source, sourceType, titleItem("fresh item"), fx.state)
	require.NoError(t, err)

	// Only the unhandled stale entity waits for cleanup.
	ids, err := fx.cleanList.List(fx.source.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, ids)

	cleanState := fx.source.State(feed.StageClean)
	assert.Equal(t, "article", cleanState.CleanEntityType)
	assert.Equal(t, 1, cleanState.Total)
}

func TestProcessConfirmedEntityLeavesCleanList(t *testing.T) {
	fx, sourceType := newProcessorFixture(t, `{"entity_type": "article", "missing_policy": "delete"}`)
	ctx := context.Background()

	present := store.NewEntity("article", map[string]interface{}{"title": "still here"})
	present.SourceID = fx.source.ID
	present.SourceHash = "old-hash"
	gone := store.NewEntity("article", map[string]interface{}{"title": "removed"})
	gone.SourceID = fx.source.ID
	gone.SourceHash = "old-hash"
	require.NoError(t, fx.entities.Save(ctx, present))
	require.NoError(t, fx.entities.Save(ctx, gone))

	_, err := fx.processor.Process(ctx, fx.source, sourceType, titleItem("still here"), fx.state)
	require.NoError(t, err)

	ids, err := fx.cleanList.List(fx.source.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{gone.ID}, ids)
}
