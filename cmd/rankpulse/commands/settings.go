package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/rankpulse/am"
	"github.com/teranos/rankpulse/settings"
	"github.com/teranos/rankpulse/sym"
)

// SettingsCmd groups operator settings
var SettingsCmd = &cobra.Command{
	Use:   "settings",
	Short: sym.AM + " Operator settings",
	Long: sym.AM + ` settings - operator settings stored in the database.

The timezone decides when schedules fire. It overrides pulse.timezone from
config; a running scheduler picks up a change within
pulse.timezone_refresh_seconds.

Examples:
  rankpulse settings show
  rankpulse settings set-timezone Europe/Berlin
  rankpulse settings set-timezone CET          # abbreviations map to a named zone`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the operator timezone",
	RunE:  runSettingsShow,
}

var settingsSetTimezoneCmd = &cobra.Command{
	Use:   "set-timezone <timezone>",
	Short: "Set the timezone schedules are evaluated in",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsSetTimezone,
}

func init() {
	SettingsCmd.AddCommand(settingsShowCmd)
	SettingsCmd.AddCommand(settingsSetTimezoneCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	database, err := openDatabase(cfg.GetDatabasePath())
	if err != nil {
		return err
	}
	defer database.Close()

	tz, err := settings.NewStore(database).Timezone(cmd.Context())
	if err != nil {
		return err
	}
	source := "setting"
	if tz == "" {
		tz, source = cfg.Pulse.Timezone, "config"
		if tz == "" {
			tz = "UTC"
		}
	}

	pterm.Printfln("Timezone:  %s (%s)", tz, source)
	if loc, err := time.LoadLocation(tz); err == nil {
		pterm.Printfln("Now:       %s", time.Now().In(loc).Format("Mon 2006-01-02 15:04 MST"))
	}
	return nil
}

func runSettingsSetTimezone(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	tz, err := settings.NewStore(database).SetTimezone(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Timezone set to %s", tz)
	return nil
}
