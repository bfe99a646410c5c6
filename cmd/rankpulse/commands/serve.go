package commands

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/rankpulse/am"
	"github.com/teranos/rankpulse/logger"
	"github.com/teranos/rankpulse/server"
	"github.com/teranos/rankpulse/sym"
)

// ServeCmd starts the API server together with the scheduling loop
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: sym.Pulse + " Start the HTTP API and the scheduling loop",
	Long: sym.Pulse + ` serve - run the API server and the scheduler in one process.

On startup, runs left "running" by a previous process are marked failed.
The scheduler evaluates enabled schedules every pulse.ticker_interval_seconds
in the operator timezone and starts due runs. Ctrl+C stops the scheduler,
interrupts in-flight runs and closes the server.

Example:
  rankpulse serve              # listen on server.port (default 8787)
  rankpulse serve --port 9000`,
	RunE: runServe,
}

func init() {
	ServeCmd.Flags().Int("port", 0, "Port to listen on (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	port := cfg.GetServerPort()
	if p, _ := cmd.Flags().GetInt("port"); p > 0 {
		port = p
	}

	database, err := openDatabase(cfg.GetDatabasePath())
	if err != nil {
		return err
	}
	defer database.Close()

	log := logger.ComponentLogger("serve")
	e, err := newEngine(cfg, database, logger.Logger)
	if err != nil {
		return err
	}
	if err := recoverRuns(e); err != nil {
		return err
	}

	srv, err := server.New(server.Deps{
		Runs:         e.runs,
		Orchestrator: e.orchestrator,
		Schedules:    e.schedules,
		Settings:     e.settings,
		Ticker:       e.ticker,
		Config:       cfg,
		Logger:       logger.ComponentLogger("server"),
	})
	if err != nil {
		return err
	}

	addr, err := srv.Start(fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	e.ticker.Start()
	watcher := watchConfig(e, log)

	stats := e.ticker.GetStats()
	pterm.Success.Println(sym.Prefix(sym.PulseOpen, "rankpulse is running"))
	pterm.Printfln("  API:       http://%s", addr)
	pterm.Printfln("  Database:  %s", cfg.GetDatabasePath())
	pterm.Printfln("  Ticker:    every %v", stats.Interval)
	pterm.Printfln("  Timezone:  %s", stats.Timezone)
	pterm.Printfln("  Logging:   %s", verbosityName(cmd))
	pterm.Printfln("\n%s Press Ctrl+C for graceful shutdown\n", sym.Pulse)

	waitForSignal()

	// Reverse order of startup
	if watcher != nil {
		watcher.Stop()
	}
	e.ticker.Stop()
	e.orchestrator.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}

	pterm.Success.Println(sym.Prefix(sym.PulseClose, "rankpulse stopped"))
	return nil
}
