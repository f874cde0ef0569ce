package daemon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/errors"
	"github.com/quarrylabs/quarry/feed"
	"github.com/quarrylabs/quarry/pipeline"
)

// PoolConfig contains configuration for the import worker pool.
type PoolConfig struct {
	Workers      int
	PollInterval time.Duration
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:      1,
		PollInterval: 5 * time.Second,
	}
}

// Pool runs queued imports. Each worker claims one queued source and
// drives RunBatch until the import finalizes, yielding between batches
// on context cancellation only at batch boundaries.
type Pool struct {
	sources      *feed.SourceStore
	orchestrator *pipeline.Orchestrator
	workers      int
	pollInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewPool creates a worker pool.
func NewPool(ctx context.Context, sources *feed.SourceStore, orchestrator *pipeline.Orchestrator, cfg PoolConfig, logger *zap.SugaredLogger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultPoolConfig().Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPoolConfig().PollInterval
	}
	poolCtx, cancel := context.WithCancel(ctx)
	return &Pool{
		sources:      sources,
		orchestrator: orchestrator,
		workers:      cfg.Workers,
		pollInterval: cfg.PollInterval,
		ctx:          poolCtx,
		cancel:       cancel,
		logger:       logger,
		inFlight:     make(map[string]bool),
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	if warning := p.checkMemoryPressure(); warning != "" && p.logger != nil {
		p.logger.Warnw("Memory pressure warning", "warning", warning, "workers", p.workers)
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	if p.logger != nil {
		p.logger.Infow("Import workers started", "workers", p.workers)
	}
}

// Stop cancels the workers and waits for in-flight batches to finish.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
	if p.logger != nil {
		p.logger.Infow("Import workers stopped")
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			source, ok := p.claim()
			if !ok {
				continue
			}
			p.runImport(id, source)
			p.release(source.ID)
		}
	}
}

// claim pops one queued source not already being imported by another
// worker of this process.
func (p *Pool) claim() (*feed.Source, bool) {
	queued, err := p.sources.ListQueued()
	if err != nil {
		if p.logger != nil {
			p.logger.Warnw("Failed to list queued sources", "error", err)
		}
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, source := range queued {
		if p.inFlight[source.ID] {
			continue
		}
		p.inFlight[source.ID] = true
		return source, true
	}
	return nil, false
}

func (p *Pool) release(sourceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, sourceID)
}

// runImport drives one source's import to completion, one batch per
// iteration so shutdown never interrupts mid-item.
func (p *Pool) runImport(workerID int, source *feed.Source) {
	for {
		if err := p.ctx.Err(); err != nil {
			// Shutdown between batches; the persisted pointers resume
			// the import on the next daemon run.
			return
		}

		done, err := p.orchestrator.RunBatch(p.ctx, source)
		if errors.IsLockedError(err) {
			// Another process imports this source right now.
			return
		}
		if err != nil {
			if p.logger != nil {
				p.logger.Errorw("Import batch failed",
					"worker", workerID,
					"source_id", source.ID,
					"error", err)
			}
			return
		}
		if done {
			return
		}
	}
}
