package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/rankpulse/am"
	"github.com/teranos/rankpulse/logger"
	"github.com/teranos/rankpulse/sym"
)

// PulseCmd groups scheduler commands
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Pulse + " Run the scheduling loop",
	Long: sym.Pulse + ` pulse - the scheduling loop.

Pulse evaluates enabled schedules in the operator timezone and starts due
runs, at most one per schedule per day and one per tenant and job type at a
time. Use 'rankpulse serve' to run it together with the HTTP API.

Example:
  rankpulse pulse start      # scheduler only, in the foreground
  rankpulse pulse tick       # evaluate schedules once and exit

Run only one scheduler per database: 'pulse start' and 'serve' both own
the interrupted-run sweep at startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var pulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scheduler in the foreground",
	RunE:  runPulseStart,
}

var pulseTickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Evaluate schedules once, run what is due, and exit",
	RunE:  runPulseTick,
}

func init() {
	PulseCmd.AddCommand(pulseStartCmd)
	PulseCmd.AddCommand(pulseTickCmd)
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	database, err := openDatabase(cfg.GetDatabasePath())
	if err != nil {
		return err
	}
	defer database.Close()

	e, err := newEngine(cfg, database, logger.Logger)
	if err != nil {
		return err
	}
	if err := recoverRuns(e); err != nil {
		return err
	}

	e.ticker.Start()
	watcher := watchConfig(e, logger.ComponentLogger("pulse"))

	stats := e.ticker.GetStats()
	pterm.Success.Println(sym.Prefix(sym.PulseOpen, "Pulse scheduler started"))
	pterm.Printfln("  Ticker:    every %v", stats.Interval)
	pterm.Printfln("  Timezone:  %s", stats.Timezone)
	pterm.Printfln("  Logging:   %s", verbosityName(cmd))
	pterm.Printfln("\n%s Press Ctrl+C for graceful shutdown\n", sym.Pulse)

	waitForSignal()

	if watcher != nil {
		watcher.Stop()
	}
	e.ticker.Stop()
	e.orchestrator.Shutdown()

	pterm.Success.Println(sym.Prefix(sym.PulseClose, "Pulse scheduler stopped"))
	return nil
}

// runPulseTick runs one evaluation and waits for the dispatched runs
func runPulseTick(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	database, err := openDatabase(cfg.GetDatabasePath())
	if err != nil {
		return err
	}
	defer database.Close()

	e, err := newEngine(cfg, database, logger.Logger)
	if err != nil {
		return err
	}
	e.ticker.RefreshTimezone()

	n, err := e.ticker.Tick(e.resolver.Now().Time)
	if err != nil {
		return err
	}
	e.ticker.Wait()
	e.ticker.Stop()
	logger.PulseInfow("Pulse tick complete", logger.FieldCount, n, logger.FieldTimezone, e.resolver.Location().String())

	pterm.Info.Printfln("%s %d schedule(s) were due in %s", sym.Pulse, n, e.resolver.Location())
	return nil
}
