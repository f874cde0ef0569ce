// Package pipeline drives a source through its import stages: lock,
// fetch, parse, process, clean, expire, finalize. One RunBatch call
// advances a bounded amount of work; the caller re-invokes until done.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/errors"
	"github.com/quarrylabs/quarry/event"
	"github.com/quarrylabs/quarry/feed"
	"github.com/quarrylabs/quarry/fetch"
	"github.com/quarrylabs/quarry/lock"
	"github.com/quarrylabs/quarry/parse"
	"github.com/quarrylabs/quarry/plugin"
	"github.com/quarrylabs/quarry/process"
)

// Orchestrator owns the per-source import state machine.
type Orchestrator struct {
	sources   *feed.SourceStore
	types     *feed.SourceTypeStore
	states    *feed.StageStateStore
	cleanList *feed.CleanListStore
	locks     *lock.Manager
	bus       *event.Bus

	fetchers *plugin.Registry[fetch.Fetcher]
	parsers  *plugin.Registry[parse.Parser]

	processor *process.EntityProcessor
	cleaner   *process.Cleaner
	clearer   *process.Clearer
	expirer   *process.Expirer

	clock       process.Clock
	lockTimeout time.Duration
	logger      *zap.SugaredLogger
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Sources   *feed.SourceStore
	Types     *feed.SourceTypeStore
	States    *feed.StageStateStore
	CleanList *feed.CleanListStore
	Locks     *lock.Manager
	Bus       *event.Bus

	Fetchers *plugin.Registry[fetch.Fetcher]
	Parsers  *plugin.Registry[parse.Parser]

	Processor *process.EntityProcessor
	Cleaner   *process.Cleaner
	Clearer   *process.Clearer
	Expirer   *process.Expirer

	Clock       process.Clock
	LockTimeout time.Duration
	Logger      *zap.SugaredLogger
}

// New creates an orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = process.SystemClock{}
	}
	if deps.LockTimeout <= 0 {
		deps.LockTimeout = time.Hour
	}
	return &Orchestrator{
		sources:     deps.Sources,
		types:       deps.Types,
		states:      deps.States,
		cleanList:   deps.CleanList,
		locks:       deps.Locks,
		bus:         deps.Bus,
		fetchers:    deps.Fetchers,
		parsers:     deps.Parsers,
		processor:   deps.Processor,
		cleaner:     deps.Cleaner,
		clearer:     deps.Clearer,
		expirer:     deps.Expirer,
		clock:       deps.Clock,
		lockTimeout: deps.LockTimeout,
		logger:      deps.Logger,
	}
}

// RunBatch advances one import batch for the source. done reports
// whether the import finalized; a false return means the caller should
// re-invoke to resume from the persisted stage pointers.
//
// A held lock fails the call with errors.ErrLocked before any stage
// state is touched. Fatal fetch/parse errors release the lock and keep
// the stage pointers so the next invocation retries the stage.
func (o *Orchestrator) RunBatch(ctx context.Context, source *feed.Source) (done bool, err error) {
	sourceType, err := o.types.Get(source.TypeID)
	if err != nil {
		return false, errors.Wrapf(err, "failed to load source type %q", source.TypeID)
	}

	ok, err := o.locks.Acquire(source.LockKey(), o.lockTimeout)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, errors.Wrapf(errors.ErrLocked, "source %q", source.ID)
	}

	if err := o.loadStates(source); err != nil {
		o.locks.Release(source.LockKey())
		return false, err
	}

	o.dispatch(event.Init, source, feed.StageFetch, nil)

	result, err := o.fetch(ctx, source, sourceType)
	if errors.IsEmptyFeedError(err) {
		return true, o.finishEmpty(source, sourceType, err)
	}
	if err != nil {
		o.locks.Release(source.LockKey())
		return false, err
	}

	items, err := o.parse(ctx, source, sourceType, result)
	if errors.IsEmptyFeedError(err) {
		return true, o.finishEmpty(source, sourceType, err)
	}
	if err != nil {
		o.locks.Release(source.LockKey())
		return false, err
	}

	if err := o.processBatch(ctx, source, sourceType, items); err != nil {
		o.locks.Release(source.LockKey())
		return false, err
	}

	parseState := source.State(feed.StageParse)
	if !parseState.IsComplete() {
		// Budget spent; persist pointers and yield until re-invoked.
		if err := o.persistStates(source); err != nil {
			o.locks.Release(source.LockKey())
			return false, err
		}
		if err := o.locks.Release(source.LockKey()); err != nil {
			return false, err
		}
		return false, nil
	}

	return true, o.finalize(ctx, source, sourceType)
}

func (o *Orchestrator) fetch(ctx context.Context, source *feed.Source, sourceType *feed.SourceType) (*fetch.Result, error) {
	fetcher, err := o.fetchers.Get(sourceType.Fetcher)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve fetcher")
	}

	o.dispatch(event.PreFetch, source, feed.StageFetch, nil)
	result, err := fetcher.Fetch(ctx, source)
	if err != nil {
		return nil, err
	}
	o.dispatch(event.PostFetch, source, feed.StageFetch, nil)

	fetchState := source.State(feed.StageFetch)
	fetchState.Complete()
	return result, nil
}

func (o *Orchestrator) parse(ctx context.Context, source *feed.Source, sourceType *feed.SourceType, result *fetch.Result) ([]*feed.Item, error) {
	parser, err := o.parsers.Get(sourceType.Parser)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve parser")
	}

	o.dispatch(event.Init, source, feed.StageParse, nil)
	o.dispatch(event.PreParse, source, feed.StageParse, nil)
	items, err := parser.Parse(ctx, source, result, source.State(feed.StageParse))
	if err != nil {
		return nil, err
	}
	o.dispatch(event.PostParse, source, feed.StageParse, nil)
	return items, nil
}

func (o *Orchestrator) processBatch(ctx context.Context, source *feed.Source, sourceType *feed.SourceType, items []*feed.Item) error {
	state := source.State(feed.StageProcess)
	parseState := source.State(feed.StageParse)

	o.dispatch(event.Init, source, feed.StageProcess, nil)

	for _, item := range items {
		o.dispatch(event.PreProcess, source, feed.StageProcess, item)
		if _, err := o.processor.Process(ctx, source, sourceType, item, state); err != nil {
			return err
		}
		o.dispatch(event.PostProcess, source, feed.StageProcess, item)
	}

	// Process progress mirrors parse progress: every emitted item was
	// handed to the processor exactly once.
	state.Total = parseState.Total
	state.Pointer = parseState.Pointer
	processed := state.Created + state.Updated + state.Skipped + state.Failed
	state.SetProgress(processed, state.Total)
	if parseState.IsComplete() {
		state.Complete()
	}
	return nil
}

// finalize runs the fire-once clean and expire stages, summarizes the
// run, timestamps the source and releases everything.
func (o *Orchestrator) finalize(ctx context.Context, source *feed.Source, sourceType *feed.SourceType) error {
	if err := o.cleaner.Run(ctx, source, sourceType); err != nil {
		o.locks.Release(source.LockKey())
		return err
	}

	o.dispatch(event.Init, source, feed.StageExpire, nil)
	for {
		expireDone, err := o.expirer.RunBatch(ctx, source, sourceType)
		if err != nil {
			o.locks.Release(source.LockKey())
			return err
		}
		if expireDone {
			break
		}
	}

	state := source.State(feed.StageProcess)
	o.summarize(source, state)

	now := o.clock.Now()
	source.ImportedAt = &now
	source.ItemCount = state.Created + state.Updated + state.Skipped
	source.ScheduleNext(sourceType, now)

	if err := o.Unlock(source); err != nil {
		return err
	}
	o.dispatch(event.Finished, source, feed.StageProcess, nil)
	return nil
}

// finishEmpty ends an import cleanly when fetch or parse produced
// nothing. Not an error: the source is timestamped and rescheduled as
// a zero-item run.
func (o *Orchestrator) finishEmpty(source *feed.Source, sourceType *feed.SourceType, cause error) error {
	if o.logger != nil {
		o.logger.Infow("Import ended with empty feed",
			"source_id", source.ID,
			"reason", cause.Error())
	}

	now := o.clock.Now()
	source.ImportedAt = &now
	source.ScheduleNext(sourceType, now)

	if err := o.Unlock(source); err != nil {
		return err
	}
	o.dispatch(event.Finished, source, feed.StageFetch, nil)
	return nil
}

// Clear deletes every entity imported from the source, batch by batch,
// and drops the source's progress state afterwards.
func (o *Orchestrator) Clear(ctx context.Context, source *feed.Source) error {
	sourceType, err := o.types.Get(source.TypeID)
	if err != nil {
		return errors.Wrapf(err, "failed to load source type %q", source.TypeID)
	}

	ok, err := o.locks.Acquire(source.LockKey(), o.lockTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(errors.ErrLocked, "source %q", source.ID)
	}

	if err := o.loadStates(source); err != nil {
		o.locks.Release(source.LockKey())
		return err
	}

	for {
		done, err := o.clearer.RunBatch(ctx, source, sourceType)
		if err != nil {
			o.persistStates(source)
			o.locks.Release(source.LockKey())
			return err
		}
		if done {
			break
		}
		if err := o.persistStates(source); err != nil {
			o.locks.Release(source.LockKey())
			return err
		}
	}

	source.ItemCount = 0
	if err := o.cleanList.DeleteAll(source.ID); err != nil {
		o.locks.Release(source.LockKey())
		return err
	}
	return o.Unlock(source)
}

// Expire deletes entities older than the source type's maximum age.
func (o *Orchestrator) Expire(ctx context.Context, source *feed.Source) error {
	sourceType, err := o.types.Get(source.TypeID)
	if err != nil {
		return errors.Wrapf(err, "failed to load source type %q", source.TypeID)
	}

	ok, err := o.locks.Acquire(source.LockKey(), o.lockTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(errors.ErrLocked, "source %q", source.ID)
	}

	if err := o.loadStates(source); err != nil {
		o.locks.Release(source.LockKey())
		return err
	}

	o.dispatch(event.Init, source, feed.StageExpire, nil)
	for {
		done, err := o.expirer.RunBatch(ctx, source, sourceType)
		if err != nil {
			o.persistStates(source)
			o.locks.Release(source.LockKey())
			return err
		}
		if done {
			break
		}
		if err := o.persistStates(source); err != nil {
			o.locks.Release(source.LockKey())
			return err
		}
	}

	return o.Unlock(source)
}

// DeleteSource removes a source. Stage states and clean list entries
// cascade away with it; imported entities stay in the store.
func (o *Orchestrator) DeleteSource(source *feed.Source) error {
	if err := o.sources.Delete(source.ID); err != nil {
		return err
	}
	o.locks.Release(source.LockKey())
	o.dispatch(event.SourceDeleted, source, feed.StageProcess, nil)
	return nil
}

// Unlock force-releases a source: all stage states dropped, the queue
// marker reset, the lock released and the source persisted. Used both
// for guaranteed release at the end of an import and for manual
// recovery of a stuck one.
func (o *Orchestrator) Unlock(source *feed.Source) error {
	if err := o.states.DeleteAll(source.ID); err != nil {
		o.locks.Release(source.LockKey())
		return err
	}
	source.ResetStates()
	source.QueuedAt = nil

	if err := o.locks.Release(source.LockKey()); err != nil {
		return err
	}
	return o.sources.Update(source)
}

// loadStates fills the source's stage state cache from persistence.
// The cache is reset first so stale in-memory progress is never reused.
func (o *Orchestrator) loadStates(source *feed.Source) error {
	source.ResetStates()
	for _, stage := range []feed.Stage{feed.StageFetch, feed.StageParse, feed.StageProcess, feed.StageClean, feed.StageExpire, feed.StageClear} {
		state, err := o.states.GetOrCreate(source.ID, stage)
		if err != nil {
			return err
		}
		source.SetState(state)
	}
	return nil
}

func (o *Orchestrator) persistStates(source *feed.Source) error {
	for _, stage := range []feed.Stage{feed.StageFetch, feed.StageParse, feed.StageProcess, feed.StageClean, feed.StageExpire, feed.StageClear} {
		if err := o.states.Save(source.State(stage)); err != nil {
			return err
		}
	}
	return nil
}

// summarize folds the run's counters into one user-facing message and
// a log line.
func (o *Orchestrator) summarize(source *feed.Source, state *feed.StageState) {
	cleanState := source.State(feed.StageClean)
	state.AddMessage(feed.SeverityInfo,
		"import finished: %d created, %d updated, %d skipped, %d failed, %d cleaned",
		state.Created, state.Updated, state.Skipped, state.Failed, cleanState.Cleaned)

	if o.logger != nil {
		o.logger.Infow("Import finished",
			"source_id", source.ID,
			"created", state.Created,
			"updated", state.Updated,
			"skipped", state.Skipped,
			"failed", state.Failed,
			"cleaned", cleanState.Cleaned)
	}
}

func (o *Orchestrator) dispatch(name event.Name, source *feed.Source, stage feed.Stage, item *feed.Item) {
	if o.bus == nil {
		return
	}
	o.bus.Dispatch(name, event.Payload{Source: source, Stage: stage, Item: item})
}
