package process

import (
	"context"

	"github.com/quarrylabs/quarry/errors"
	"github.com/quarrylabs/quarry/event"
	"github.com/quarrylabs/quarry/feed"
	"github.com/quarrylabs/quarry/store"
)

// Clearer bulk-deletes every entity imported from a source, in fixed
// batches across repeated invocations so one call never holds the
// process hostage to a large source.
type Clearer struct {
	entities  store.Store
	bus       *event.Bus
	batchSize int
}

// NewClearer creates a clearer deleting batchSize entities per call.
func NewClearer(entities store.Store, bus *event.Bus, batchSize int) *Clearer {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Clearer{entities: entities, bus: bus, batchSize: batchSize}
}

// RunBatch deletes the next batch. done reports whether nothing is
// left to delete.
func (c *Clearer) RunBatch(ctx context.Context, source *feed.Source, sourceType *feed.SourceType) (done bool, err error) {
	state := source.State(feed.StageClear)
	if state.IsComplete() {
		return true, nil
	}

	settings, err := SettingsFor(sourceType)
	if err != nil {
		return false, errors.Wrap(err, "invalid processor settings")
	}

	if state.Total == 0 && state.Deleted == 0 {
		total, err := c.entities.Query(settings.EntityType).
			Condition("source_id", source.ID).
			Count(ctx)
		if err != nil {
			return false, errors.Wrap(err, "failed to count entities to clear")
		}
		state.Total = total
		c.dispatch(event.InitClear, source, state.Stage)
		if total == 0 {
			state.Complete()
			return true, nil
		}
	}

	ids, err := c.entities.Query(settings.EntityType).
		Condition("source_id", source.ID).
		Limit(c.batchSize).
		Execute(ctx)
	if err != nil {
		return false, errors.Wrap(err, "failed to list entities to clear")
	}
	if len(ids) == 0 {
		state.AddMessage(feed.SeverityInfo, "cleared %d items", state.Deleted)
		state.Complete()
		return true, nil
	}

	if err := c.entities.Delete(ctx, ids); err != nil {
		return false, errors.Wrap(err, "failed to delete cleared batch")
	}
	state.Deleted += len(ids)
	state.SetProgress(state.Deleted, state.Total)
	c.dispatch(event.Clear, source, state.Stage)

	if state.Deleted >= state.Total {
		state.AddMessage(feed.SeverityInfo, "cleared %d items", state.Deleted)
		state.Complete()
		return true, nil
	}
	return false, nil
}

func (c *Clearer) dispatch(name event.Name, source *feed.Source, stage feed.Stage) {
	if c.bus == nil {
		return
	}
	c.bus.Dispatch(name, event.Payload{Source: source, Stage: stage})
}
