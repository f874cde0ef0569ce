package process

import (
	"context"

	"github.com/quarrylabs/quarry/errors"
	"github.com/quarrylabs/quarry/event"
	"github.com/quarrylabs/quarry/feed"
	"github.com/quarrylabs/quarry/store"
)

// Expirer deletes entities whose import timestamp fell behind the
// source type's maximum age, batch by batch. A type without an expire
// period never expires anything.
type Expirer struct {
	entities  store.Store
	bus       *event.Bus
	clock     Clock
	batchSize int
}

// NewExpirer creates an expirer deleting batchSize entities per call.
// clock may be nil for the system clock.
func NewExpirer(entities store.Store, bus *event.Bus, clock Clock, batchSize int) *Expirer {
	if clock == nil {
		clock = SystemClock{}
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Expirer{entities: entities, bus: bus, clock: clock, batchSize: batchSize}
}

// RunBatch deletes the next batch of expired entities. done reports
// whether no expired entities remain.
func (e *Expirer) RunBatch(ctx context.Context, source *feed.Source, sourceType *feed.SourceType) (done bool, err error) {
	state := source.State(feed.StageExpire)
	if state.IsComplete() {
		return true, nil
	}

	maxAge, enabled := sourceType.MaxAge()
	if !enabled {
		state.Complete()
		return true, nil
	}

	settings, err := SettingsFor(sourceType)
	if err != nil {
		return false, errors.Wrap(err, "invalid processor settings")
	}

	cutoff := e.clock.Now().Add(-maxAge)

	expired := func() *store.Query {
		return e.entities.Query(settings.EntityType).
			Condition("source_id", source.ID).
			Condition("imported_at", cutoff, "<")
	}

	if state.Total == 0 && state.Deleted == 0 {
		total, err := expired().Count(ctx)
		if err != nil {
			return false, errors.Wrap(err, "failed to count expired entities")
		}
		state.Total = total
		e.dispatch(event.InitExpire, source, state.Stage)
		if total == 0 {
			state.Complete()
			return true, nil
		}
	}

	ids, err := expired().Limit(e.batchSize).Execute(ctx)
	if err != nil {
		return false, errors.Wrap(err, "failed to list expired entities")
	}
	if len(ids) == 0 {
		e.finish(state)
		return true, nil
	}

	if err := e.entities.Delete(ctx, ids); err != nil {
		return false, errors.Wrap(err, "failed to delete expired batch")
	}
	state.Deleted += len(ids)
	state.SetProgress(state.Deleted, state.Total)
	e.dispatch(event.Expire, source, state.Stage)

	if state.Deleted >= state.Total {
		e.finish(state)
		return true, nil
	}
	return false, nil
}

func (e *Expirer) finish(state *feed.StageState) {
	if state.Deleted > 0 {
		state.AddMessage(feed.SeverityInfo, "expired %d items", state.Deleted)
	}
	state.Complete()
}

func (e *Expirer) dispatch(name event.Name, source *feed.Source, stage feed.Stage) {
	if e.bus == nil {
		return
	}
	e.bus.Dispatch(name, event.Payload{Source: source, Stage: stage})
}
