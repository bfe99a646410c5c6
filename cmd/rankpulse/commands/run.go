package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/rankpulse/am"
	"github.com/teranos/rankpulse/crawl"
	"github.com/teranos/rankpulse/errors"
	"github.com/teranos/rankpulse/logger"
	"github.com/teranos/rankpulse/pulse/execution"
	"github.com/teranos/rankpulse/server"
	"github.com/teranos/rankpulse/sym"
)

// RunCmd groups run commands
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: sym.Crawl + " Trigger, stop and inspect crawl runs",
	Long: sym.Crawl + ` run - trigger, stop and inspect crawl runs.

Trigger and stop go through the running server by default, so the server's
duplicate check and live stream see them. Use --local to run a job in this
process when no server is running.

Job types: ` + jobTypeList() + `

Examples:
  rankpulse run trigger acme rank-check
  rankpulse run trigger acme page-health-check --limit 50 --local
  rankpulse run stop 2f1c...
  rankpulse run ls --tenant acme
  rankpulse run history acme --limit 20
  rankpulse run show 2f1c...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var runTriggerCmd = &cobra.Command{
	Use:   "trigger <tenant> <job-type>",
	Short: "Start a run now",
	Args:  cobra.ExactArgs(2),
	RunE:  runRunTrigger,
}

var runStopCmd = &cobra.Command{
	Use:   "stop <run-id>",
	Short: "Stop a running run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunStop,
}

var runLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List running runs",
	RunE:  runRunLs,
}

var runHistoryCmd = &cobra.Command{
	Use:   "history <tenant>",
	Short: "List a tenant's runs, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunHistory,
}

var runShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunShow,
}

var (
	runLimitFlag     int
	runBatchSizeFlag int
	runDepthFlag     int
	runAddrFlag      string
	runLocalFlag     bool
	runOfflineFlag   bool
	runTenantFlag    string
	runHistLimitFlag int
	runOffsetFlag    int
)

func init() {
	runTriggerCmd.Flags().IntVar(&runLimitFlag, "limit", 0, "Process at most this many items (0 = all)")
	runTriggerCmd.Flags().IntVar(&runBatchSizeFlag, "batch-size", 0, "Items per progress update (0 = handler default)")
	runTriggerCmd.Flags().IntVar(&runDepthFlag, "depth", 0, "Result depth for rank and discovery checks (0 = provider default)")
	runTriggerCmd.Flags().StringVar(&runAddrFlag, "addr", "", "Server address (default localhost:<server.port>)")
	runTriggerCmd.Flags().BoolVar(&runLocalFlag, "local", false, "Run in this process and wait for the result")

	runStopCmd.Flags().StringVar(&runAddrFlag, "addr", "", "Server address (default localhost:<server.port>)")
	runStopCmd.Flags().BoolVar(&runOfflineFlag, "offline", false, "Mark the run stopped in the database without a server")

	runLsCmd.Flags().StringVar(&runTenantFlag, "tenant", "", "Only this tenant's runs")

	runHistoryCmd.Flags().IntVar(&runHistLimitFlag, "limit", 20, "Maximum number of runs")
	runHistoryCmd.Flags().IntVar(&runOffsetFlag, "offset", 0, "Skip this many runs")

	RunCmd.AddCommand(runTriggerCmd)
	RunCmd.AddCommand(runStopCmd)
	RunCmd.AddCommand(runLsCmd)
	RunCmd.AddCommand(runHistoryCmd)
	RunCmd.AddCommand(runShowCmd)
}

func triggerOptions() crawl.Options {
	return crawl.Options{BatchSize: runBatchSizeFlag, Limit: runLimitFlag, Depth: runDepthFlag}
}

func runRunTrigger(cmd *cobra.Command, args []string) error {
	tenantID := args[0]
	jobType, err := crawl.ParseJobType(args[1])
	if err != nil {
		return err
	}
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if runLocalFlag {
		return triggerLocal(cfg, tenantID, jobType)
	}

	client, err := newAPIClient(apiAddr(cfg))
	if err != nil {
		return err
	}
	resp, err := client.triggerRun(cmd.Context(), server.TriggerRunRequest{
		TenantID: tenantID,
		JobType:  jobType.String(),
		Options:  triggerOptions(),
	})
	if errors.IsConflictError(err) && resp != nil && resp.ExistingRunID != "" {
		pterm.Warning.Printfln("%s is already running for %s (run %s)", jobType, tenantID, resp.ExistingRunID)
		return err
	}
	if err != nil {
		return err
	}
	pterm.Success.Printfln("%s Started %s for %s", sym.Crawl, jobType, tenantID)
	pterm.Printfln("  Run ID: %s", resp.RunID)
	return nil
}

// triggerLocal runs the job in this process. The duplicate guard only covers
// this process, so runs recorded as running by a server are checked first.
func triggerLocal(cfg *am.Config, tenantID string, jobType crawl.JobType) error {
	database, err := openDatabase(cfg.GetDatabasePath())
	if err != nil {
		return err
	}
	defer database.Close()

	e, err := newEngine(cfg, database, logger.Logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	running, err := e.runs.ListRunningByType(ctx, tenantID, jobType)
	if err != nil {
		return err
	}
	if len(running) > 0 {
		err := errors.NewConflictError("%s is already running for tenant %s", jobType, tenantID)
		return errors.WithDetailf(err, "Existing run ID: %s", running[0].ID)
	}

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Running %s for %s", jobType, tenantID))
	out := e.orchestrator.Trigger(ctx, tenantID, jobType, triggerOptions())
	e.orchestrator.Shutdown()

	switch out.Kind {
	case execution.OutcomeCompleted:
		spinner.Success(fmt.Sprintf("%s completed for %s", jobType, tenantID))
	case execution.OutcomeStopped:
		spinner.Warning(fmt.Sprintf("%s stopped for %s", jobType, tenantID))
	default:
		spinner.Fail(fmt.Sprintf("%s did not complete: %s", jobType, out.Message))
	}

	if out.RunID != "" {
		if run, err := e.runs.Get(context.Background(), out.RunID); err == nil {
			printRun(run)
		}
	}
	return out.Err()
}

func runRunStop(cmd *cobra.Command, args []string) error {
	id := args[0]
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if runOfflineFlag {
		database, err := openDatabase(cfg.GetDatabasePath())
		if err != nil {
			return err
		}
		defer database.Close()

		runs := execution.NewStore(database)
		if err := runs.MarkStopped(cmd.Context(), id, execution.StoppedMessage); err != nil {
			return err
		}
		pterm.Success.Printfln("Marked run %s stopped", id)
		return nil
	}

	client, err := newAPIClient(apiAddr(cfg))
	if err != nil {
		return err
	}
	run, err := client.stopRun(cmd.Context(), id)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Stopped run %s", id)
	printRun(run.Run)
	return nil
}

func runRunLs(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := execution.NewStore(database).ListRunning(cmd.Context(), runTenantFlag)
	if err != nil {
		return err
	}
	return printRuns(runs)
}

func runRunHistory(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := execution.NewStore(database).ListHistory(cmd.Context(), args[0], runHistLimitFlag, runOffsetFlag)
	if err != nil {
		return err
	}
	return printRuns(runs)
}

func runRunShow(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	run, err := execution.NewStore(database).Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printRun(run)
	return nil
}

// apiAddr is --addr, or the configured local server
func apiAddr(cfg *am.Config) string {
	if runAddrFlag != "" {
		return runAddrFlag
	}
	return defaultAPIAddr(cfg.GetServerPort())
}

func jobTypeList() string {
	names := ""
	for i, jt := range crawl.AllJobTypes() {
		if i > 0 {
			names += ", "
		}
		names += jt.String()
	}
	return names
}
