package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/errors"
	"github.com/quarrylabs/quarry/event"
	"github.com/quarrylabs/quarry/feed"
	"github.com/quarrylabs/quarry/fetch"
	qtesting "github.com/quarrylabs/quarry/internal/testing"
	"github.com/quarrylabs/quarry/lock"
	"github.com/quarrylabs/quarry/parse"
	"github.com/quarrylabs/quarry/plugin"
	"github.com/quarrylabs/quarry/process"
	"github.com/quarrylabs/quarry/store"
)

// staticFetcher serves whatever content the test assigns to it.
type staticFetcher struct {
	data []byte
	err  error
}

func (f *staticFetcher) Fetch(ctx context.Context, source *feed.Source) (*fetch.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.data) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyFeed, "no content")
	}
	return fetch.NewBytesResult(f.data), nil
}

// runCounters snapshots the process stage counters as observed at the
// last processed item, surviving the state reset of finalization.
type runCounters struct {
	created, updated, skipped, failed int
}

type pipelineFixture struct {
	orchestrator *Orchestrator
	fetcher      *staticFetcher
	sources      *feed.SourceStore
	types        *feed.SourceTypeStore
	states       *feed.StageStateStore
	cleanList    *feed.CleanListStore
	locks        *lock.Manager
	entities     store.Store
	source       *feed.Source
	counters     *runCounters
}

func newPipelineFixture(t *testing.T, settings string, parseBatch int) *pipelineFixture {
	t.Helper()
	conn := qtesting.CreateTestDB(t)

	sourceType := &feed.SourceType{
		ID:           "news-csv",
		Label:        "News CSV",
		ImportPeriod: 3600,
		ExpirePeriod: feed.PeriodNever,
		Fetcher:      "static",
		Parser:       parse.CSVParserID,
		Processor:    process.EntityProcessorID,
		PluginConfig: map[string]json.RawMessage{
			process.EntityProcessorID: json.RawMessage(settings),
		},
		Mappings: []feed.Mapping{
			csvMapping("guid", true),
			csvMapping("title", false),
		},
	}
	require.NoError(t, feed.NewSourceTypeStore(conn).Create(sourceType))

	sources := feed.NewSourceStore(conn)
	source := &feed.Source{
		ID:     "src-1",
		TypeID: sourceType.ID,
		Label:  "Daily news",
		Origin: "https://example.com/news.csv",
		Active: true,
	}
	require.NoError(t, sources.Create(source))

	entities := store.NewSQLiteStore(conn, nil)
	cleanList := feed.NewCleanListStore(conn)
	states := feed.NewStageStateStore(conn)
	locks := lock.NewManager(conn, nil)
	bus := event.NewBus(nil)

	counters := &runCounters{}
	bus.Subscribe(event.PostProcess, func(name event.Name, p event.Payload) {
		state := p.Source.State(feed.StageProcess)
		*counters = runCounters{state.Created, state.Updated, state.Skipped, state.Failed}
	})

	fetcher := &staticFetcher{}
	fetchers := plugin.NewRegistry[fetch.Fetcher]("fetcher")
	fetchers.Register("static", fetcher)
	fetchers.Register(fetch.HTTPFetcherID, fetch.NewHTTPFetcher(fetch.HTTPOptions{
		AllowPrivate:      true,
		RequestsPerMinute: 6000,
	}))
	parsers := plugin.NewRegistry[parse.Parser]("parser")
	parsers.Register(parse.CSVParserID, parse.NewCSVParser(parseBatch))

	types := feed.NewSourceTypeStore(conn)
	catalog := process.DefaultCatalog()
	orchestrator := New(Deps{
		Sources:   sources,
		Types:     types,
		States:    states,
		CleanList: cleanList,
		Locks:     locks,
		Bus:       bus,
		Fetchers:  fetchers,
		Parsers:   parsers,
		Processor: process.NewEntityProcessor(entities, cleanList, bus, catalog, nil, nil),
		Cleaner:   process.NewCleaner(entities, cleanList, process.NewActionRegistry(entities), bus, nil),
		Clearer:   process.NewClearer(entities, bus, 10),
		Expirer:   process.NewExpirer(entities, bus, nil, 10),
	})

	return &pipelineFixture{
		orchestrator: orchestrator,
		fetcher:      fetcher,
		sources:      sources,
		types:        types,
		states:       states,
		cleanList:    cleanList,
		locks:        locks,
		entities:     entities,
		source:       source,
		counters:     counters,
	}
}

func csvMapping(target string, unique bool) feed.Mapping {
	m := feed.Mapping{
		Target:    target,
		Sources:   map[string]string{"value": target},
		SubFields: []string{"value"},
	}
	if unique {
		m.Unique = map[string]bool{"value": true}
	}
	return m
}

// runImport re-invokes RunBatch until the import finalizes, the way the
// daemon worker does.
func (fx *pipelineFixture) runImport(t *testing.T) {
	t.Helper()
	for {
		done, err := fx.orchestrator.RunBatch(context.Background(), fx.source)
		require.NoError(t, err)
		if done {
			return
		}
	}
}

func (fx *pipelineFixture) articleCount(t *testing.T) int {
	t.Helper()
	count, err := fx.entities.Query("article").Condition("source_id", fx.source.ID).Count(context.Background())
	require.NoError(t, err)
	return count
}

func TestImportCreatesEntities(t *testing.T) {
	fx := newPipelineFixture(t, `{"entity_type": "article"}`, 50)
	fx.fetcher.data = []byte("guid,title\n1,Lorem ipsum\n2,Ut wisi enim ad minim veniam\n")

	fx.runImport(t)

	assert.Equal(t, 2, fx.articleCount(t))
	assert.Equal(t, runCounters{created: 2}, *fx.counters)
	assert.Equal(t, 2, fx.source.ItemCount)
	require.NotNil(t, fx.source.ImportedAt)
	require.NotNil(t, fx.source.NextRunAt)

	available, err := fx.locks.IsAvailable(fx.source.LockKey())
	require.NoError(t, err)
	assert.True(t, available, "lock released after finalization")
}

func TestReimportOfUnchangedFeedSkips(t *testing.T) {
	fx := newPipelineFixture(t, `{"entity_type": "article"}`, 50)
	fx.fetcher.data = []byte("guid,title\n1,Lorem ipsum\n2,Ut wisi enim ad minim veniam\n")

	fx.runImport(t)
	fx.runImport(t)

	assert.Equal(t, 2, fx.articleCount(t))
	assert.Equal(t, runCounters{skipped: 2}, *fx.counters)
}

func TestReimportOfChangedRowUpdates(t *testing.T) {
	fx := newPipelineFixture(t, `{"entity_type": "article"}`, 50)
	fx.fetcher.data = []byte("guid,title\n1,Lorem ipsum\n2,Ut wisi enim ad minim veniam\n")
	fx.runImport(t)

	fx.fetcher.data = []byte("guid,title\n1,Lorem ipsum dolor sit amet\n2,Ut wisi enim ad minim veniam\n")
	fx.runImport(t)

	assert.Equal(t, 2, fx.articleCount(t))
	assert.Equal(t, runCounters{updated: 1, skipped: 1}, *fx.counters)

	ids, err := fx.entities.Query("article").Condition("guid", "1").Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 1)
	entity, err := fx.entities.Load(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, "Lorem ipsum dolor sit amet", entity.Get("title"))
}

func TestMissingRowIsCleanedUp(t *testing.T) {
	fx := newPipelineFixture(t, `{"entity_type": "article", "missing_policy": "delete"}`, 50)
	fx.fetcher.data = []byte("guid,title\n1,Lorem ipsum\n2,Ut wisi enim ad minim veniam\n")
	fx.runImport(t)
	require.Equal(t, 2, fx.articleCount(t))

	fx.fetcher.data = []byte("guid,title\n1,Lorem ipsum\n")
	fx.runImport(t)

	assert.Equal(t, 1, fx.articleCount(t))
	remaining, err := fx.cleanList.Count(fx.source.ID)
	require.NoError(t, err)
	assert.Zero(t, remaining, "clean list drained after the run")

	ids, err := fx.entities.Query("article").Condition("guid", "1").Execute(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, 1, "the present row survives")
}

func TestLockedSourceFailsWithoutTouchingState(t *testing.T) {
	fx := newPipelineFixture(t, `{"entity_type": "article"}`, 50)
	fx.fetcher.data = []byte("guid,title\n1,Lorem ipsum\n")

	// Another holder owns the lock, with parse progress on record.
	acquired, err := fx.locks.Acquire(fx.source.LockKey(), time.Hour)
	require.NoError(t, err)
	require.True(t, acquired)
	parseState := feed.NewStageState(fx.source.ID, feed.StageParse)
	parseState.Pointer = "3"
	parseState.Total = 10
	require.NoError(t, fx.states.Save(parseState))

	done, err := fx.orchestrator.RunBatch(context.Background(), fx.source)
	assert.False(t, done)
	assert.True(t, errors.IsLockedError(err))

	reloaded, err := fx.states.GetOrCreate(fx.source.ID, feed.StageParse)
	require.NoError(t, err)
	assert.Equal(t, "3", reloaded.Pointer)
	assert.Equal(t, 10, reloaded.Total)
	assert.Zero(t, fx.articleCount(t))
}

func TestImportResumesAcrossInvocations(t *testing.T) {
	fx := newPipelineFixture(t, `{"entity_type": "article"}`, 2)
	fx.fetcher.data = []byte("guid,title\n1,a\n2,b\n3,c\n4,d\n5,e\n")
	ctx := context.Background()

	done, err := fx.orchestrator.RunBatch(ctx, fx.source)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 2, fx.articleCount(t))

	// Progress is on disk, not just in memory: a cold start resumes.
	persisted, err := fx.states.GetOrCreate(fx.source.ID, feed.StageParse)
	require.NoError(t, err)
	assert.Equal(t, "2", persisted.Pointer)
	assert.Equal(t, 5, persisted.Total)
	fx.source.ResetStates()

	done, err = fx.orchestrator.RunBatch(ctx, fx.source)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 4, fx.articleCount(t))

	done, err = fx.orchestrator.RunBatch(ctx, fx.source)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 5, fx.articleCount(t))
	assert.Equal(t, 5, fx.source.ItemCount)

	// Each row imported exactly once.
	for _, guid := range []string{"1", "2", "3", "4", "5"} {
		ids, err := fx.entities.Query("article").Condition("guid", guid).Execute(ctx)
		require.NoError(t, err)
		assert.Len(t, ids, 1)
	}

	// Finalization dropped the stage states.
	fresh, err := fx.states.GetOrCreate(fx.source.ID, feed.StageParse)
	require.NoError(t, err)
	assert.Empty(t, fresh.Pointer)
}

func TestEmptyFeedFinishesCleanly(t *testing.T) {
	fx := newPipelineFixture(t, `{"entity_type": "article"}`, 50)
	fx.fetcher.data = nil

	done, err := fx.orchestrator.RunBatch(context.Background(), fx.source)
	require.NoError(t, err, "an empty feed is a zero-item run, not a failure")
	assert.True(t, done)
	require.NotNil(t, fx.source.ImportedAt)

	available, err := fx.locks.IsAvailable(fx.source.LockKey())
	require.NoError(t, err)
	assert.True(t, available)
}

func TestFetchFailureReleasesLock(t *testing.T) {
	fx := newPipelineFixture(t, `{"entity_type": "article"}`, 50)
	fx.fetcher.err = errors.New("origin unreachable")

	done, err := fx.orchestrator.RunBatch(context.Background(), fx.source)
	assert.False(t, done)
	require.Error(t, err)
	assert.Nil(t, fx.source.ImportedAt)

	available, err := fx.locks.IsAvailable(fx.source.LockKey())
	require.NoError(t, err)
	assert.True(t, available, "a failed run must not leave the source locked")
}

func TestUnlockRecoversStuckSource(t *testing.T) {
	fx := newPipelineFixture(t, `{"entity_type": "article"}`, 50)

	acquired, err := fx.locks.Acquire(fx.source.LockKey(), time.Hour)
	require.NoError(t, err)
	require.True(t, acquired)
	queued := time.Now().UTC()
	fx.source.QueuedAt = &queued
	parseState := feed.NewStageState(fx.source.ID, feed.StageParse)
	parseState.Pointer = "7"
	require.NoError(t, fx.states.Save(parseState))

	require.NoError(t, fx.orchestrator.Unlock(fx.source))

	assert.Nil(t, fx.source.QueuedAt)
	available, err := fx.locks.IsAvailable(fx.source.LockKey())
	require.NoError(t, err)
	assert.True(t, available)
	fresh, err := fx.states.GetOrCreate(fx.source.ID, feed.StageParse)
	require.NoError(t, err)
	assert.Empty(t, fresh.Pointer)
}

func TestHTTPImportResumesThroughUnchangedOrigin(t *testing.T) {
	fx := newPipelineFixture(t, `{"entity_type": "article"}`, 2)

	content := []byte("guid,title\n1,a\n2,b\n3,c\n4,d\n5,e\n")
	hits304 := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			hits304++
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write(content)
	}))
	defer server.Close()

	sourceType, err := fx.types.Get(fx.source.TypeID)
	require.NoError(t, err)
	sourceType.Fetcher = fetch.HTTPFetcherID
	require.NoError(t, fx.types.Update(sourceType))
	fx.source.Origin = server.URL
	require.NoError(t, fx.sources.Update(fx.source))

	invocations := 0
	for {
		done, err := fx.orchestrator.RunBatch(context.Background(), fx.source)
		require.NoError(t, err)
		invocations++
		if done {
			break
		}
	}

	// All five rows land despite the origin honoring validators: the
	// resumed invocations re-read the content unconditionally.
	assert.Equal(t, 3, invocations)
	assert.Equal(t, 5, fx.articleCount(t))
	assert.Zero(t, hits304, "no conditional request while the parse pointer is set")

	// The next import of the unchanged origin ends as a zero-item run.
	done, err := fx.orchestrator.RunBatch(context.Background(), fx.source)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 1, hits304)
	assert.Equal(t, 5, fx.articleCount(t))
}

func TestClearRemovesAllImportedEntities(t *testing.T) {
	fx := newPipelineFixture(t, `{"entity_type": "article"}`, 50)
	fx.fetcher.data = []byte("guid,title\n1,a\n2,b\n3,c\n")
	fx.runImport(t)
	require.Equal(t, 3, fx.articleCount(t))

	require.NoError(t, fx.orchestrator.Clear(context.Background(), fx.source))

	assert.Zero(t, fx.articleCount(t))
	assert.Zero(t, fx.source.ItemCount)
	available, err := fx.locks.IsAvailable(fx.source.LockKey())
	require.NoError(t, err)
	assert.True(t, available)
}
