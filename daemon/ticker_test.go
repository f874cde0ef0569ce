package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/feed"
	qtesting "github.com/quarrylabs/quarry/internal/testing"
	"github.com/quarrylabs/quarry/lock"
	"github.com/quarrylabs/quarry/process"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func newTickerFixture(t *testing.T) (*Ticker, *feed.SourceStore, *lock.Manager, time.Time) {
	t.Helper()
	conn := qtesting.CreateTestDB(t)

	sourceType := &feed.SourceType{
		ID:           "news-csv",
		Label:        "News CSV",
		ImportPeriod: 3600,
		Fetcher:      "http",
		Parser:       "csv",
		Processor:    process.EntityProcessorID,
	}
	require.NoError(t, feed.NewSourceTypeStore(conn).Create(sourceType))

	sources := feed.NewSourceStore(conn)
	locks := lock.NewManager(conn, nil)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	ticker := NewTicker(context.Background(), sources, locks, DefaultTickerConfig(), fixedClock{at: now}, nil)
	return ticker, sources, locks, now
}

func dueSource(t *testing.T, sources *feed.SourceStore, id string, nextRunAt time.Time) *feed.Source {
	t.Helper()
	source := &feed.Source{
		ID:        id,
		TypeID:    "news-csv",
		Label:     id,
		Origin:    "https://example.com/" + id + ".csv",
		Active:    true,
		NextRunAt: &nextRunAt,
	}
	require.NoError(t, sources.Create(source))
	return source
}

func TestQueueDueSources(t *testing.T) {
	ticker, sources, _, now := newTickerFixture(t)

	due := dueSource(t, sources, "due", now.Add(-time.Minute))
	notYet := dueSource(t, sources, "not-yet", now.Add(time.Hour))

	require.NoError(t, ticker.queueDueSources())

	reloaded, err := sources.Get(due.ID)
	require.NoError(t, err)
	assert.NotNil(t, reloaded.QueuedAt)

	reloaded, err = sources.Get(notYet.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.QueuedAt)
}

func TestQueueSkipsLockedSources(t *testing.T) {
	ticker, sources, locks, now := newTickerFixture(t)

	source := dueSource(t, sources, "locked", now.Add(-time.Minute))
	acquired, err := locks.Acquire(source.LockKey(), time.Hour)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, ticker.queueDueSources())

	reloaded, err := sources.Get(source.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.QueuedAt, "a source mid-import stays out of the queue")
}

func TestQueueIsIdempotentWhileQueued(t *testing.T) {
	ticker, sources, _, now := newTickerFixture(t)

	source := dueSource(t, sources, "queued", now.Add(-time.Minute))
	require.NoError(t, ticker.queueDueSources())

	first, err := sources.Get(source.ID)
	require.NoError(t, err)
	require.NotNil(t, first.QueuedAt)

	// An already queued source is no longer listed as due.
	require.NoError(t, ticker.queueDueSources())
	second, err := sources.Get(source.ID)
	require.NoError(t, err)
	assert.Equal(t, first.QueuedAt.UTC(), second.QueuedAt.UTC())
}
