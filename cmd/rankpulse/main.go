package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/rankpulse/cmd/rankpulse/commands"
	"github.com/teranos/rankpulse/logger"
)

var rootCmd = &cobra.Command{
	Use:   "rankpulse",
	Short: "rankpulse - scheduled SEO crawl engine",
	Long: `rankpulse - scheduled SEO crawl engine.

rankpulse runs recurring crawl jobs (rank checks, competitor scans, page
health checks, discovery and backlink refreshes) per tenant, records each
run with live progress, and exposes runs, schedules and settings over HTTP.

Available commands:
  serve    - Start the HTTP API and the scheduling loop
  pulse    - Run the scheduling loop without the API
  run      - Trigger, stop and inspect crawl runs
  schedule - Manage recurring crawl schedules
  settings - Operator settings (timezone)
  tenant   - Manage tenants and what they track
  am       - Show configuration
  db       - Manage the database

Examples:
  rankpulse serve -v                          # API + scheduler with info logs
  rankpulse schedule add acme rank-check --at 09:00 --days mon,wed,fri
  rankpulse run trigger acme page-health-check
  rankpulse run ls --tenant acme`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		logger.SetVerbosity(verbosity)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.ScheduleCmd)
	rootCmd.AddCommand(commands.SettingsCmd)
	rootCmd.AddCommand(commands.TenantCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
