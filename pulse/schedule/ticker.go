package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/rankpulse/db"
	"github.com/teranos/rankpulse/errors"
	"github.com/teranos/rankpulse/logger"
	"github.com/teranos/rankpulse/pulse/clock"
)

// Executor runs one due definition to a terminal state. It returns the run
// id and a non-nil error when the run was rejected or failed; a rejected
// duplicate wraps errors.ErrConflict.
type Executor interface {
	ExecuteScheduled(ctx context.Context, def *Definition) (runID string, err error)
}

// DefinitionLister is the part of Store the ticker reads.
type DefinitionLister interface {
	ListEnabled(ctx context.Context) ([]*Definition, error)
}

// Ticker is the polling loop. Each tick resolves the current minute in the
// operator timezone, picks the due definitions and hands each one to the
// executor on its own goroutine. A second, slower timer refreshes the
// timezone.
type Ticker struct {
	store    DefinitionLister
	resolver *clock.Resolver
	executor Executor

	interval        time.Duration
	refreshInterval time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup // loop goroutines
	inflight sync.WaitGroup // dispatched runs

	logger   *zap.SugaredLogger
	pulseLog *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	dispatched      int64
	rejected        int64
}

// TickerConfig contains configuration for the polling loop
type TickerConfig struct {
	Interval        time.Duration // How often schedules are evaluated (default: 30s)
	TimezoneRefresh time.Duration // How often the timezone setting is re-read (default: 5m)
}

// DefaultTickerConfig returns the defaults: every minute is observed at
// least once, and the timezone is at most five minutes stale.
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval:        30 * time.Second,
		TimezoneRefresh: 5 * time.Minute,
	}
}

// NewTicker creates a new polling loop
func NewTicker(store DefinitionLister, resolver *clock.Resolver, executor Executor, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), store, resolver, executor, cfg, log)
}

// NewTickerWithContext creates a ticker with a parent context. Cancelling
// the parent stops the loop and cancels in-flight runs.
func NewTickerWithContext(ctx context.Context, store DefinitionLister, resolver *clock.Resolver, executor Executor, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	defaults := DefaultTickerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.TimezoneRefresh <= 0 {
		cfg.TimezoneRefresh = defaults.TimezoneRefresh
	}

	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		store:           store,
		resolver:        resolver,
		executor:        executor,
		interval:        cfg.Interval,
		refreshInterval: cfg.TimezoneRefresh,
		ctx:             tickerCtx,
		cancel:          cancel,
		logger:          log,
		pulseLog:        logger.AddPulseSymbol(log),
	}
}

// Start refreshes the timezone once and begins both loops
func (t *Ticker) Start() {
	t.RefreshTimezone()

	t.wg.Add(2)
	go t.run()
	go t.refreshLoop()

	logger.AddPulseOpenSymbol(t.logger).Infow("Pulse ticker started",
		logger.FieldInterval, t.interval,
		logger.FieldTimezone, t.resolver.Location().String())
}

// Stop cancels the loops and waits for dispatched runs to return
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.inflight.Wait()
	logger.AddPulseCloseSymbol(t.logger).Infow("Pulse ticker stopped")
}

// Wait blocks until every dispatched run has returned. The loops keep going.
func (t *Ticker) Wait() {
	t.inflight.Wait()
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
			if _, err := t.Tick(tickTime); err != nil {
				t.pulseLog.Warnw("Pulse tick error", logger.FieldError, err)
			}
		}
	}
}

func (t *Ticker) refreshLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.RefreshTimezone()
		}
	}
}

// RefreshTimezone re-reads the timezone setting. Failures keep the last
// good location.
func (t *Ticker) RefreshTimezone() {
	ctx, cancel := context.WithTimeout(t.ctx, 10*time.Second)
	defer cancel()
	if err := t.resolver.Refresh(ctx); err != nil {
		t.pulseLog.Debugw("Timezone refresh failed", logger.FieldError, err)
	}
}

// Tick evaluates schedules at now and dispatches the due ones without
// waiting for them. It returns how many runs were dispatched.
func (t *Ticker) Tick(now time.Time) (int, error) {
	t.mu.Lock()
	t.lastTickAt = now
	t.ticksSinceStart++
	t.mu.Unlock()

	defs, err := t.store.ListEnabled(t.ctx)
	if err != nil {
		if db.IsDatabaseClosed(err) {
			// A late tick during shutdown
			t.pulseLog.Debugw("Pulse tick skipped, database closed")
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to list enabled definitions")
	}

	loc := t.resolver.Location()
	moment := clock.MomentIn(now, loc)
	due := DueDefinitions(defs, moment, loc)

	for _, def := range due {
		if t.ctx.Err() != nil {
			return 0, t.ctx.Err()
		}
		t.dispatch(def)
	}

	if len(due) > 0 {
		t.pulseLog.Infow("Pulse dispatched due schedules",
			logger.FieldCount, len(due),
			"minute", moment.HHMM,
			logger.FieldTimezone, loc.String())
	}
	return len(due), nil
}

func (t *Ticker) dispatch(def *Definition) {
	t.mu.Lock()
	t.dispatched++
	t.mu.Unlock()

	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()

		runID, err := t.executor.ExecuteScheduled(t.ctx, def)
		log := t.pulseLog.With(
			logger.FieldDefinitionID, def.ID,
			logger.FieldTenantID, def.TenantID,
			logger.FieldJobType, def.JobType,
		)
		switch {
		case err == nil:
			log.Infow("Scheduled run completed", logger.FieldRunID, runID)
		case errors.IsConflictError(err):
			t.mu.Lock()
			t.rejected++
			t.mu.Unlock()
			log.Infow("Scheduled run skipped, already running", logger.FieldError, err.Error())
		default:
			log.Warnw("Scheduled run failed", logger.FieldRunID, runID, logger.FieldError, err)
		}
	}()
}

// Stats is a snapshot of ticker activity for the health endpoint
type Stats struct {
	LastTickAt      time.Time     `json:"last_tick_at"`
	TicksSinceStart int64         `json:"ticks_since_start"`
	Dispatched      int64         `json:"dispatched"`
	Rejected        int64         `json:"rejected"`
	Interval        time.Duration `json:"interval"`
	Timezone        string        `json:"timezone"`
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Stats{
		LastTickAt:      t.lastTickAt,
		TicksSinceStart: t.ticksSinceStart,
		Dispatched:      t.dispatched,
		Rejected:        t.rejected,
		Interval:        t.interval,
		Timezone:        t.resolver.Location().String(),
	}
}
