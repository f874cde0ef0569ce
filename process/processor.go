package process

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/errors"
	"github.com/quarrylabs/quarry/event"
	"github.com/quarrylabs/quarry/feed"
	"github.com/quarrylabs/quarry/store"
)

// EntityProcessor reconciles one parsed item at a time against the
// entity store. Per-item failures are recorded on the stage state and
// never abort the batch; only infrastructure failures (clean list
// seeding, store queries) propagate as errors.
type EntityProcessor struct {
	entities  store.Store
	cleanList *feed.CleanListStore
	bus       *event.Bus
	clock     Clock
	catalog   *Catalog
	mapper    *Mapper
	logger    *zap.SugaredLogger
}

// NewEntityProcessor creates a processor. clock may be nil for the
// system clock; logger may be nil.
func NewEntityProcessor(entities store.Store, cleanList *feed.CleanListStore, bus *event.Bus, catalog *Catalog, clock Clock, logger *zap.SugaredLogger) *EntityProcessor {
	if clock == nil {
		clock = SystemClock{}
	}
	return &EntityProcessor{
		entities:  entities,
		cleanList: cleanList,
		bus:       bus,
		clock:     clock,
		catalog:   catalog,
		mapper:    NewMapper(),
		logger:    logger,
	}
}

// Process reconciles one item. The outcome is also reflected in the
// stage state's counters and messages.
func (p *EntityProcessor) Process(ctx context.Context, source *feed.Source, sourceType *feed.SourceType, item *feed.Item, state *feed.StageState) (*Outcome, error) {
	settings, err := SettingsFor(sourceType)
	if err != nil {
		return nil, errors.Wrap(err, "invalid processor settings")
	}

	if err := p.initCleanList(ctx, source, settings); err != nil {
		return nil, err
	}

	mappings := ResolveMappings(sourceType, p.catalog)
	p.warnDangling(source, mappings, state)

	outcome := p.processItem(ctx, source, sourceType, settings, mappings, item, state)
	p.record(outcome, state)
	return outcome, nil
}

// processItem runs the per-item reconciliation. All recoverable
// failures come back as outcomes, not errors.
func (p *EntityProcessor) processItem(ctx context.Context, source *feed.Source, sourceType *feed.SourceType, settings Settings, mappings []ResolvedMapping, item *feed.Item, state *feed.StageState) *Outcome {
	existingID, err := p.resolveExisting(ctx, sourceType, settings, mappings, item)
	if err != nil {
		return failed(err.Error())
	}

	if existingID != "" {
		// Confirmed present in the feed.
		if err := p.cleanList.Remove(source.ID, existingID); err != nil {
			return failed(err.Error())
		}
	}

	if existingID == "" && settings.InsertPolicy == SkipNewItems {
		return skipped("skip new item")
	}
	if existingID != "" && settings.UpdatePolicy == SkipExisting {
		return skipped("skip existing item")
	}

	values := p.mapper.MappedValues(sourceType, mappings, item)
	hash := ContentHash(sourceType.Mappings, values)

	var entity *store.Entity
	if existingID != "" {
		entity, err = p.entities.Load(ctx, existingID)
		if err != nil {
			return failed(err.Error())
		}
		if !settings.SkipHashCheck && entity.SourceHash == hash {
			return skipped("unchanged")
		}
	} else {
		entity = store.NewEntity(settings.EntityType, settings.Defaults)
		entity.Owner = settings.Owner
	}

	now := p.clock.Now()
	entity.SourceID = source.ID
	entity.SourceHash = hash
	entity.ImportedAt = &now

	if settings.Revisioning && !entity.IsNew() {
		entity.NewRevision(now)
	}

	if err := p.mapper.Map(sourceType, mappings, entity, item); err != nil {
		if errors.IsEmptyFeedError(err) {
			return skipped(err.Error())
		}
		return failed(err.Error())
	}

	p.dispatch(event.PreValidate, source, entity, item)

	if err := p.validate(ctx, settings, entity); err != nil {
		if errors.IsEmptyFeedError(err) {
			return skipped(err.Error())
		}
		return failed(err.Error())
	}

	p.dispatch(event.PreSave, source, entity, item)

	wasNew := entity.IsNew()
	if err := p.entities.Save(ctx, entity); err != nil {
		if errors.IsEmptyFeedError(err) {
			return skipped(err.Error())
		}
		return failed(err.Error())
	}

	p.dispatch(event.PostSave, source, entity, item)

	if wasNew {
		return &Outcome{Status: StatusCreated, Entity: entity}
	}
	return &Outcome{Status: StatusUpdated, Entity: entity}
}

// resolveExisting scans mappings in order and returns the id of the
// first entity matched through a unique subfield. The first match wins;
// later mappings are not consulted.
func (p *EntityProcessor) resolveExisting(ctx context.Context, sourceType *feed.SourceType, settings Settings, mappings []ResolvedMapping, item *feed.Item) (string, error) {
	for _, rm := range mappings {
		if rm.Dangling() || !rm.Mapping.IsUnique() {
			continue
		}
		value := p.mapper.UniqueValue(sourceType, rm.Mapping, item)
		if value == nil {
			continue
		}

		ids, err := p.entities.Query(settings.EntityType).
			Condition(rm.Mapping.Target, value).
			Limit(1).
			Execute(ctx)
		if err != nil {
			return "", errors.Wrapf(err, "unique lookup on %q failed", rm.Mapping.Target)
		}
		if len(ids) > 0 {
			return ids[0], nil
		}
	}
	return "", nil
}

// initCleanList seeds the clean list on the first processed item of a
// run. Entities whose stored hash equals the handled sentinel already
// received the missing-item action on an earlier run and are excluded.
func (p *EntityProcessor) initCleanList(ctx context.Context, source *feed.Source, settings Settings) error {
	if settings.MissingPolicy == MissingKeep {
		return nil
	}

	cleanState := source.State(feed.StageClean)
	if cleanState.CleanEntityType != "" {
		return nil
	}

	ids, err := p.entities.Query(settings.EntityType).
		Condition("source_id", source.ID).
		Condition("source_hash", HandledHash, "!=").
		Execute(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to query clean list candidates")
	}

	if err := p.cleanList.Seed(source.ID, ids); err != nil {
		return err
	}

	cleanState.CleanEntityType = settings.EntityType
	cleanState.Total = len(ids)
	return nil
}

// validate aggregates field-level problems into one validation error
// that identifies the entity well enough to locate the source record.
func (p *EntityProcessor) validate(ctx context.Context, settings Settings, entity *store.Entity) error {
	verr := &errors.ValidationError{
		Label: entity.Label,
		GUID:  entity.GUID,
		ID:    entity.ID,
	}
	if verr.GUID == "" && settings.GUIDField != "" {
		if v, ok := entity.Get(settings.GUIDField).(string); ok {
			verr.GUID = v
		}
	}

	if entity.IsNew() {
		taken, err := p.entities.Exists(ctx, entity.ID)
		if err != nil {
			return errors.Wrap(err, "failed to check id collision")
		}
		if taken {
			verr.AddFieldError("id", fmt.Sprintf("id %q already belongs to a stored entity", entity.ID))
		}
	}
	if entity.Type == "" {
		verr.AddFieldError("type", "entity type is not configured")
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

func (p *EntityProcessor) warnDangling(source *feed.Source, mappings []ResolvedMapping, state *feed.StageState) {
	for _, rm := range mappings {
		if !rm.Dangling() {
			continue
		}
		// Warn once per run per target, not once per item.
		text := fmt.Sprintf("mapping target %q is not registered; mapping is inactive", rm.Mapping.Target)
		if state.HasMessage(text) {
			continue
		}
		state.AddMessage(feed.SeverityWarning, "%s", text)
		if p.logger != nil {
			p.logger.Warnw("Mapping target missing",
				"source_id", source.ID,
				"target", rm.Mapping.Target)
		}
	}
}

func (p *EntityProcessor) record(outcome *Outcome, state *feed.StageState) {
	switch outcome.Status {
	case StatusCreated:
		state.Created++
	case StatusUpdated:
		state.Updated++
	case StatusSkipped:
		state.Skipped++
	case StatusFailed:
		state.Failed++
		state.AddMessage(feed.SeverityError, "item failed: %s", outcome.Reason)
	}
}

func (p *EntityProcessor) dispatch(name event.Name, source *feed.Source, entity *store.Entity, item *feed.Item) {
	if p.bus == nil {
		return
	}
	p.bus.Dispatch(name, event.Payload{
		Source: source,
		Stage:  feed.StageProcess,
		Entity: entity,
		Item:   item,
	})
}
