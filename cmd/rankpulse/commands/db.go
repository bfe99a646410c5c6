package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/rankpulse/am"
	"github.com/teranos/rankpulse/db"
	"github.com/teranos/rankpulse/errors"
	"github.com/teranos/rankpulse/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the rankpulse database",
	Long: sym.DB + ` db - database operations

Every command migrates the database on open; 'db migrate' does only that.

Examples:
  rankpulse db migrate
  rankpulse db status`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE:  runDbMigrate,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the database path, applied migrations and row counts",
	RunE:  runDbStatus,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatusCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	versions, err := db.AppliedVersions(database)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("%s Database is at migration %s", sym.DB, latest(versions))
	return nil
}

// countedTables are reported by db status
var countedTables = []string{"tenants", "keywords", "pages", "competitors", "rankings", "page_checks", "backlinks", "crawl_schedules", "crawl_runs"}

func runDbStatus(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	database, err := openDatabase(cfg.GetDatabasePath())
	if err != nil {
		return err
	}
	defer database.Close()

	versions, err := db.AppliedVersions(database)
	if err != nil {
		return err
	}

	pterm.Printfln("%s Database Status", sym.DB)
	pterm.Printfln("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	pterm.Printfln("Database Path:  %s", cfg.GetDatabasePath())
	pterm.Printfln("Migrations:     %d applied, latest %s", len(versions), latest(versions))
	pterm.Println()

	for _, table := range countedTables {
		var n int
		// table names come from countedTables, never from input
		if err := database.QueryRowContext(cmd.Context(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return errors.Wrapf(err, "failed to count %s", table)
		}
		pterm.Printfln("  %-22s %d", table, n)
	}
	return nil
}

func latest(versions []string) string {
	if len(versions) == 0 {
		return "none"
	}
	return versions[len(versions)-1]
}
