package process

import (
	"context"

	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/errors"
	"github.com/quarrylabs/quarry/event"
	"github.com/quarrylabs/quarry/feed"
	"github.com/quarrylabs/quarry/plugin"
	"github.com/quarrylabs/quarry/store"
)

// Cleaner applies the configured missing-item policy to every entity
// left on the clean list after all items of a run were processed.
type Cleaner struct {
	entities  store.Store
	cleanList *feed.CleanListStore
	actions   *plugin.Registry[Action]
	bus       *event.Bus
	logger    *zap.SugaredLogger
}

// NewCleaner creates a cleaner. bus and logger may be nil.
func NewCleaner(entities store.Store, cleanList *feed.CleanListStore, actions *plugin.Registry[Action], bus *event.Bus, logger *zap.SugaredLogger) *Cleaner {
	return &Cleaner{
		entities:  entities,
		cleanList: cleanList,
		actions:   actions,
		bus:       bus,
		logger:    logger,
	}
}

// Run processes every leftover clean list entry to completion. A
// failure on one entity is recorded and does not stop the rest.
func (c *Cleaner) Run(ctx context.Context, source *feed.Source, sourceType *feed.SourceType) error {
	state := source.State(feed.StageClean)

	settings, err := SettingsFor(sourceType)
	if err != nil {
		return errors.Wrap(err, "invalid processor settings")
	}
	if settings.MissingPolicy == MissingKeep {
		state.Complete()
		return nil
	}

	ids, err := c.cleanList.List(source.ID)
	if err != nil {
		return err
	}

	handled := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "clean aborted")
		}

		if err := c.cleanOne(ctx, source, settings, id); err != nil {
			state.AddMessage(feed.SeverityError, "clean failed for entity %s: %s", id, err.Error())
			if c.logger != nil {
				c.logger.Errorw("Clean action failed",
					"source_id", source.ID,
					"entity_id", id,
					"error", err)
			}
		} else {
			state.Cleaned++
		}

		if err := c.cleanList.Remove(source.ID, id); err != nil {
			return err
		}

		handled++
		state.SetProgress(handled, len(ids))
	}

	if state.Cleaned > 0 {
		state.AddMessage(feed.SeverityInfo, "applied %q to %d no longer present items",
			c.policyLabel(settings.MissingPolicy), state.Cleaned)
	}
	state.Complete()
	return nil
}

// policyLabel resolves the user-facing name of a missing-item policy.
// Named actions report their Label; deletion reports the policy id.
func (c *Cleaner) policyLabel(policy string) string {
	if policy == MissingDelete {
		return policy
	}
	action, err := c.actions.Get(policy)
	if err != nil {
		return policy
	}
	return action.Label()
}

func (c *Cleaner) cleanOne(ctx context.Context, source *feed.Source, settings Settings, id string) error {
	if settings.MissingPolicy == MissingDelete {
		if err := c.entities.Delete(ctx, []string{id}); err != nil {
			return err
		}
		c.dispatchClean(source, nil)
		return nil
	}

	action, err := c.actions.Get(settings.MissingPolicy)
	if err != nil {
		return err
	}

	entity, err := c.entities.Load(ctx, id)
	if errors.IsNotFoundError(err) {
		// Deleted out of band since the list was seeded.
		return nil
	}
	if err != nil {
		return err
	}

	if err := action.Execute(ctx, entity); err != nil {
		return err
	}

	// Mark the entity handled so the action is not reapplied on every
	// subsequent import while the item stays missing.
	if err := c.entities.UpdateSourceHash(ctx, id, HandledHash); err != nil {
		return err
	}
	entity.SourceHash = HandledHash

	c.dispatchClean(source, entity)
	return nil
}

func (c *Cleaner) dispatchClean(source *feed.Source, entity *store.Entity) {
	if c.bus == nil {
		return
	}
	c.bus.Dispatch(event.Clean, event.Payload{
		Source: source,
		Stage:  feed.StageClean,
		Entity: entity,
	})
}
