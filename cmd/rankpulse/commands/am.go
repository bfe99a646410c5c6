package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/rankpulse/am"
	"github.com/teranos/rankpulse/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Show rankpulse configuration",
	Long: sym.AM + ` am - rankpulse configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (RANKPULSE_* prefix, e.g. RANKPULSE_SERVER_PORT)
2. Project config (./am.toml, searched upward)
3. User config (~/.rankpulse/am.toml)
4. System config (/etc/rankpulse/config.toml)
5. Default values

The provider API key is read from RANKPULSE_PROVIDER_API_KEY and is never
printed.

Examples:
  rankpulse am show                  # effective configuration as TOML
  rankpulse am show --format json
  rankpulse am validate
  rankpulse am where                 # which files were loaded`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runAmWhere,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg.Masked(), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))
	case "toml":
		data, err := cfg.TOML()
		if err != nil {
			return err
		}
		fmt.Printf("# rankpulse configuration\n%s", string(data))
	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json)", configFormat)
	}
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	// Load validates
	if _, err := am.Load(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	pterm.Success.Println("Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	loaded := make(map[string]bool)
	for _, f := range am.LoadedFiles() {
		loaded[f] = true
	}

	pterm.Println(sym.AM + " Configuration files (lowest precedence first):")
	for _, path := range am.CandidateFiles() {
		switch {
		case loaded[path]:
			pterm.Printfln("  %s %s", pterm.Green("loaded "), path)
		case fileExists(path):
			pterm.Printfln("  %s %s", pterm.Yellow("invalid"), path)
		default:
			pterm.Printfln("  %s %s", pterm.Gray("missing"), path)
		}
	}
	pterm.Println("  " + pterm.LightCyan("env    ") + " RANKPULSE_* variables override all files")
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
