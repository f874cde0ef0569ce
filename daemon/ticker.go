// Package daemon runs scheduled imports: a ticker queues sources whose
// next run is due, and a worker pool drains the queue by driving the
// import pipeline batch by batch.
package daemon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/feed"
	"github.com/quarrylabs/quarry/lock"
	"github.com/quarrylabs/quarry/process"
)

// TickerConfig contains configuration for the scheduling ticker.
type TickerConfig struct {
	Interval time.Duration
}

// DefaultTickerConfig returns sensible defaults.
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{Interval: 1 * time.Second}
}

// Ticker periodically queues active sources whose next scheduled run
// has arrived. Sources already queued or locked are left alone; the
// orchestrator's lock remains the only true concurrency gate.
type Ticker struct {
	sources  *feed.SourceStore
	locks    *lock.Manager
	interval time.Duration
	clock    process.Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger

	mu         sync.Mutex
	lastTickAt time.Time
	ticks      int64
}

// NewTicker creates a ticker. clock may be nil for the system clock.
func NewTicker(ctx context.Context, sources *feed.SourceStore, locks *lock.Manager, cfg TickerConfig, clock process.Clock, logger *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	if clock == nil {
		clock = process.SystemClock{}
	}
	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		sources:  sources,
		locks:    locks,
		interval: cfg.Interval,
		clock:    clock,
		ctx:      tickerCtx,
		cancel:   cancel,
		logger:   logger,
	}
}

// Start begins the ticker loop.
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	if t.logger != nil {
		t.logger.Infow("Import ticker started", "interval", t.interval)
	}
}

// Stop gracefully stops the ticker.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	if t.logger != nil {
		t.logger.Infow("Import ticker stopped")
	}
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticks++
			t.mu.Unlock()

			if err := t.queueDueSources(); err != nil && t.logger != nil {
				t.logger.Warnw("Import tick error", "error", err, "tick", t.ticks)
			}
		}
	}
}

// queueDueSources marks every due source as queued so a worker picks it
// up. A source whose lock is held is still mid-import and skipped.
func (t *Ticker) queueDueSources() error {
	now := t.clock.Now()
	due, err := t.sources.ListDue(now)
	if err != nil {
		return err
	}

	for _, source := range due {
		available, err := t.locks.IsAvailable(source.LockKey())
		if err != nil {
			return err
		}
		if !available {
			continue
		}

		source.QueuedAt = &now
		if err := t.sources.Update(source); err != nil {
			return err
		}
		if t.logger != nil {
			t.logger.Infow("Source queued for import",
				"source_id", source.ID,
				"label", source.Label)
		}
	}
	return nil
}
