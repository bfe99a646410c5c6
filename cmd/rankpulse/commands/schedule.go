package commands

import (
	"encoding/json"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/rankpulse/crawl"
	"github.com/teranos/rankpulse/errors"
	"github.com/teranos/rankpulse/pulse/schedule"
	"github.com/teranos/rankpulse/sym"
)

// ScheduleCmd groups schedule definition commands
var ScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: sym.Pulse + " Manage recurring crawl schedules",
	Long: sym.Pulse + ` schedule - recurring crawl definitions.

A schedule starts one job type for one tenant at a time of day (operator
timezone) on chosen weekdays. Schedules are disabled, never deleted. A
running scheduler picks up changes on its next tick.

Days accept "daily", "weekdays", names ("mon,wed,fri") or numbers with
0 = Sunday ("1,3,5").

Examples:
  rankpulse schedule add acme rank-check --at 09:00 --days weekdays
  rankpulse schedule add acme page-health-check --at 06:30 --days mon --config '{"limit":100}'
  rankpulse schedule edit <id> --at 07:00
  rankpulse schedule ls --tenant acme
  rankpulse schedule disable <id>`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <tenant> <job-type>",
	Short: "Create a schedule",
	Args:  cobra.ExactArgs(2),
	RunE:  runScheduleAdd,
}

var scheduleEditCmd = &cobra.Command{
	Use:   "edit <schedule-id>",
	Short: "Change a schedule's time, days or config",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleEdit,
}

var scheduleLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List schedules",
	RunE:  runScheduleLs,
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable <schedule-id>",
	Short: "Enable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setScheduleEnabled(cmd, args[0], true)
	},
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable <schedule-id>",
	Short: "Disable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setScheduleEnabled(cmd, args[0], false)
	},
}

var (
	scheduleAtFlag       string
	scheduleDaysFlag     string
	scheduleConfigFlag   string
	scheduleDisabledFlag bool
	scheduleTenantFlag   string
)

func init() {
	scheduleAddCmd.Flags().StringVar(&scheduleAtFlag, "at", "", "Time of day, 24-hour HH:MM (required)")
	scheduleAddCmd.Flags().StringVar(&scheduleDaysFlag, "days", "daily", "Weekdays to run on")
	scheduleAddCmd.Flags().StringVar(&scheduleConfigFlag, "config", "", `Job options as JSON, e.g. '{"limit":100}'`)
	scheduleAddCmd.Flags().BoolVar(&scheduleDisabledFlag, "disabled", false, "Create the schedule disabled")
	scheduleAddCmd.MarkFlagRequired("at")

	scheduleEditCmd.Flags().StringVar(&scheduleAtFlag, "at", "", "New time of day, 24-hour HH:MM")
	scheduleEditCmd.Flags().StringVar(&scheduleDaysFlag, "days", "", "New weekdays")
	scheduleEditCmd.Flags().StringVar(&scheduleConfigFlag, "config", "", "New job options as JSON")

	scheduleLsCmd.Flags().StringVar(&scheduleTenantFlag, "tenant", "", "Only this tenant's schedules")

	ScheduleCmd.AddCommand(scheduleAddCmd)
	ScheduleCmd.AddCommand(scheduleEditCmd)
	ScheduleCmd.AddCommand(scheduleLsCmd)
	ScheduleCmd.AddCommand(scheduleEnableCmd)
	ScheduleCmd.AddCommand(scheduleDisableCmd)
}

func runScheduleAdd(cmd *cobra.Command, args []string) error {
	jobType, err := crawl.ParseJobType(args[1])
	if err != nil {
		return err
	}
	days, err := schedule.ParseWeekdays(scheduleDaysFlag)
	if err != nil {
		return err
	}
	config, err := optionsJSON(scheduleConfigFlag)
	if err != nil {
		return err
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	if _, err := crawl.NewSQLCatalog(database).Tenant(ctx, args[0]); err != nil {
		if errors.IsNotFoundError(err) {
			return errors.WithHintf(err, "add it first: rankpulse tenant add %s --domain example.com", args[0])
		}
		return err
	}

	def := &schedule.Definition{
		TenantID:  args[0],
		JobType:   jobType,
		TimeOfDay: scheduleAtFlag,
		Weekdays:  days,
		Enabled:   !scheduleDisabledFlag,
		Config:    config,
	}
	if err := schedule.NewStore(database).CreateDefinition(ctx, def); err != nil {
		return err
	}

	pterm.Success.Printfln("%s Scheduled %s for %s at %s (%s)", sym.Pulse, jobType, def.TenantID, def.TimeOfDay, formatDays(def.Weekdays))
	pterm.Printfln("  Schedule ID: %s", def.ID)
	return nil
}

func runScheduleEdit(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	store := schedule.NewStore(database)
	def, err := store.GetDefinition(ctx, args[0])
	if err != nil {
		return err
	}

	changed := false
	if cmd.Flags().Changed("at") {
		def.TimeOfDay = scheduleAtFlag
		changed = true
	}
	if cmd.Flags().Changed("days") {
		if def.Weekdays, err = schedule.ParseWeekdays(scheduleDaysFlag); err != nil {
			return err
		}
		changed = true
	}
	if cmd.Flags().Changed("config") {
		if def.Config, err = optionsJSON(scheduleConfigFlag); err != nil {
			return err
		}
		changed = true
	}
	if !changed {
		return errors.NewInvalidRequestError("nothing to change: pass --at, --days or --config")
	}

	if err := store.UpdateDefinition(ctx, def); err != nil {
		return err
	}
	pterm.Success.Printfln("Updated schedule %s: %s at %s (%s)", def.ID, def.JobType, def.TimeOfDay, formatDays(def.Weekdays))
	return nil
}

func runScheduleLs(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := schedule.NewStore(database)
	var defs []*schedule.Definition
	if scheduleTenantFlag != "" {
		defs, err = store.ListByTenant(cmd.Context(), scheduleTenantFlag)
	} else {
		defs, err = store.ListAll(cmd.Context())
	}
	if err != nil {
		return err
	}
	return printSchedules(defs)
}

func setScheduleEnabled(cmd *cobra.Command, id string, enabled bool) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	if err := schedule.NewStore(database).SetEnabled(cmd.Context(), id, enabled); err != nil {
		return err
	}
	if enabled {
		pterm.Success.Printfln("Enabled schedule %s", id)
	} else {
		pterm.Success.Printfln("Disabled schedule %s", id)
	}
	return nil
}

// optionsJSON checks a --config value against the job option fields
func optionsJSON(raw string) (json.RawMessage, error) {
	if raw == "" {
		return nil, nil
	}
	config := json.RawMessage(raw)
	if _, err := crawl.ParseOptions(config); err != nil {
		return nil, err
	}
	return config, nil
}
