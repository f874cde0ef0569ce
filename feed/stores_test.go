package feed

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/errors"
	qtesting "github.com/quarrylabs/quarry/internal/testing"
)

func createTestType(t *testing.T, conn *sql.DB) *SourceType {
	t.Helper()
	sourceType := &SourceType{
		ID:           "news-csv",
		Label:        "News CSV",
		ImportPeriod: 1800,
		ExpirePeriod: PeriodNever,
		Fetcher:      "http",
		Parser:       "csv",
		Processor:    "entity",
		Mappings: []Mapping{{
			Target:    "title",
			Sources:   map[string]string{"value": "title"},
			SubFields: []string{"value"},
			Unique:    map[string]bool{"value": true},
		}},
	}
	require.NoError(t, NewSourceTypeStore(conn).Create(sourceType))
	return sourceType
}

func createTestSource(t *testing.T, conn *sql.DB, id string) *Source {
	t.Helper()
	source := &Source{
		ID:     id,
		TypeID: "news-csv",
		Label:  "Daily news " + id,
		Origin: "https://example.com/news.csv",
		Active: true,
	}
	require.NoError(t, NewSourceStore(conn).Create(source))
	return source
}

func TestSourceRoundtrip(t *testing.T) {
	conn := qtesting.CreateTestDB(t)
	createTestType(t, conn)
	store := NewSourceStore(conn)

	source := createTestSource(t, conn, "src-1")

	loaded, err := store.Get("src-1")
	require.NoError(t, err)
	assert.Equal(t, source.Label, loaded.Label)
	assert.True(t, loaded.Active)
	assert.Nil(t, loaded.NextRunAt)
	assert.Nil(t, loaded.QueuedAt)

	now := time.Now().UTC().Truncate(time.Second)
	loaded.NextRunAt = &now
	loaded.ItemCount = 42
	require.NoError(t, store.Update(loaded))

	loaded, err = store.Get("src-1")
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.ItemCount)
	require.NotNil(t, loaded.NextRunAt)
	assert.True(t, loaded.NextRunAt.Equal(now))
}

func TestListDueFiltersQueuedAndInactive(t *testing.T) {
	conn := qtesting.CreateTestDB(t)
	createTestType(t, conn)
	store := NewSourceStore(conn)

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := createTestSource(t, conn, "due")
	due.NextRunAt = &past
	require.NoError(t, store.Update(due))

	notYet := createTestSource(t, conn, "not-yet")
	notYet.NextRunAt = &future
	require.NoError(t, store.Update(notYet))

	queued := createTestSource(t, conn, "queued")
	queued.NextRunAt = &past
	queued.QueuedAt = &now
	require.NoError(t, store.Update(queued))

	inactive := createTestSource(t, conn, "inactive")
	inactive.NextRunAt = &past
	inactive.Active = false
	require.NoError(t, store.Update(inactive))

	never := createTestSource(t, conn, "never")
	require.NoError(t, store.Update(never))

	dueSources, err := store.ListDue(now)
	require.NoError(t, err)
	require.Len(t, dueSources, 1)
	assert.Equal(t, "due", dueSources[0].ID)

	queuedSources, err := store.ListQueued()
	require.NoError(t, err)
	require.Len(t, queuedSources, 1)
	assert.Equal(t, "queued", queuedSources[0].ID)
}

func TestSourceTypeDeleteFailsWithDependentSources(t *testing.T) {
	conn := qtesting.CreateTestDB(t)
	sourceType := createTestType(t, conn)
	createTestSource(t, conn, "src-1")
	store := NewSourceTypeStore(conn)

	err := store.Delete(sourceType.ID)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	require.NoError(t, NewSourceStore(conn).Delete("src-1"))
	require.NoError(t, store.Delete(sourceType.ID))
}

func TestSetProcessorClearsMappings(t *testing.T) {
	conn := qtesting.CreateTestDB(t)
	sourceType := createTestType(t, conn)
	require.NotEmpty(t, sourceType.Mappings)

	sourceType.SetProcessor("entity")
	assert.NotEmpty(t, sourceType.Mappings, "same processor keeps mappings")

	sourceType.SetProcessor("other")
	assert.Empty(t, sourceType.Mappings, "processor change invalidates mappings")
}

func TestStageStateRoundtrip(t *testing.T) {
	conn := qtesting.CreateTestDB(t)
	createTestType(t, conn)
	createTestSource(t, conn, "src-1")
	store := NewStageStateStore(conn)

	state, err := store.GetOrCreate("src-1", StageParse)
	require.NoError(t, err)
	assert.Empty(t, state.Pointer)
	assert.False(t, state.IsComplete())

	state.Pointer = "50"
	state.Total = 100
	state.SetProgress(50, 100)
	state.Created = 30
	state.Skipped = 20
	state.AddMessage(SeverityInfo, "halfway there")
	require.NoError(t, store.Save(state))

	loaded, err := store.GetOrCreate("src-1", StageParse)
	require.NoError(t, err)
	assert.Equal(t, "50", loaded.Pointer)
	assert.Equal(t, 100, loaded.Total)
	assert.InDelta(t, 0.5, loaded.Progress(), 0.001)
	assert.Equal(t, 30, loaded.Created)
	assert.Equal(t, 20, loaded.Skipped)
	require.Len(t, loaded.Messages, 1)
	assert.Equal(t, "halfway there", loaded.Messages[0].Text)
}

func TestStageStatesDeleteTogether(t *testing.T) {
	conn := qtesting.CreateTestDB(t)
	createTestType(t, conn)
	createTestSource(t, conn, "src-1")
	store := NewStageStateStore(conn)

	for _, stage := range []Stage{StageParse, StageProcess, StageClean} {
		state, err := store.GetOrCreate("src-1", stage)
		require.NoError(t, err)
		state.Pointer = "5"
		require.NoError(t, store.Save(state))
	}

	require.NoError(t, store.DeleteAll("src-1"))

	state, err := store.GetOrCreate("src-1", StageParse)
	require.NoError(t, err)
	assert.Empty(t, state.Pointer)
}

func TestCleanListSeedRemoveCount(t *testing.T) {
	conn := qtesting.CreateTestDB(t)
	createTestType(t, conn)
	createTestSource(t, conn, "src-1")
	store := NewCleanListStore(conn)

	require.NoError(t, store.Seed("src-1", []string{"e1", "e2", "e3"}))

	count, err := store.Count("src-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, store.Remove("src-1", "e2"))
	require.NoError(t, store.Remove("src-1", "absent"))

	ids, err := store.List("src-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e3"}, ids)

	// Re-seeding replaces the previous list.
	require.NoError(t, store.Seed("src-1", []string{"e9"}))
	ids, err = store.List("src-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"e9"}, ids)
}

func TestScheduleNext(t *testing.T) {
	sourceType := &SourceType{ImportPeriod: 1800}
	source := &Source{ID: "src-1"}
	now := time.Now().UTC()

	source.ScheduleNext(sourceType, now)
	require.NotNil(t, source.NextRunAt)
	assert.True(t, source.NextRunAt.Equal(now.Add(30*time.Minute)))

	sourceType.ImportPeriod = PeriodNever
	source.ScheduleNext(sourceType, now)
	assert.Nil(t, source.NextRunAt)
}
