package commands

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/rankpulse/am"
	"github.com/teranos/rankpulse/crawl"
	"github.com/teranos/rankpulse/errors"
	"github.com/teranos/rankpulse/provider"
	"github.com/teranos/rankpulse/pulse/clock"
	"github.com/teranos/rankpulse/pulse/execution"
	"github.com/teranos/rankpulse/pulse/fetch"
	"github.com/teranos/rankpulse/pulse/schedule"
	"github.com/teranos/rankpulse/settings"
)

// engine is the wired scheduling and execution stack shared by serve,
// pulse start and local run triggers
type engine struct {
	cfg          *am.Config
	db           *sql.DB
	catalog      *crawl.SQLCatalog
	runs         *execution.Store
	schedules    *schedule.Store
	settings     *settings.Store
	orchestrator *execution.Orchestrator
	resolver     *clock.Resolver
	ticker       *schedule.Ticker
}

// newEngine builds every component from config. Nothing is started.
func newEngine(cfg *am.Config, database *sql.DB, log *zap.SugaredLogger) (*engine, error) {
	e := &engine{
		cfg:       cfg,
		db:        database,
		catalog:   crawl.NewSQLCatalog(database),
		runs:      execution.NewStore(database),
		schedules: schedule.NewStore(database),
		settings:  settings.NewStore(database),
	}

	providerCfg := provider.ConfigFrom(cfg.Provider)
	providerCfg.Logger = log.Named("provider")
	client, err := provider.NewClient(providerCfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create provider client")
	}

	handlers, err := execution.NewHandlerSet(crawl.NewHandlers(crawl.Deps{
		Catalog:  e.catalog,
		Provider: client,
		Pacing:   fetch.Every(time.Duration(cfg.Pulse.FetchDelayMS) * time.Millisecond),
		Logger:   log.Named("crawl"),
	}))
	if err != nil {
		return nil, err
	}

	estimates := make(map[crawl.JobType]int, len(crawl.AllJobTypes()))
	for _, jt := range crawl.AllJobTypes() {
		estimates[jt] = cfg.EstimatedDuration(jt.String())
	}
	e.orchestrator = execution.NewOrchestrator(e.runs, e.schedules, handlers, execution.Config{
		EstimatedDurations: estimates,
		Logger:             log.Named("pulse.execution"),
	})

	e.resolver, err = clock.NewResolver(e.settings, cfg.Pulse.Timezone, clock.WithLogger(log.Named("pulse.clock")))
	if err != nil {
		return nil, err
	}

	e.ticker = schedule.NewTicker(e.schedules, e.resolver, e.orchestrator, tickerConfig(cfg), log.Named("pulse.ticker"))
	return e, nil
}

func tickerConfig(cfg *am.Config) schedule.TickerConfig {
	return schedule.TickerConfig{
		Interval:        time.Duration(cfg.Pulse.TickerIntervalSeconds) * time.Second,
		TimezoneRefresh: time.Duration(cfg.Pulse.TimezoneRefreshSeconds) * time.Second,
	}
}
