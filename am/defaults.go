package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// DefaultEstimatedDurations are display-only run length estimates in seconds.
var DefaultEstimatedDurations = map[string]int{
	"rank-check":                  180,
	"competitor-scan":             120,
	"page-health-check":           90,
	"deep-discovery":              300,
	"backlink-refresh":            150,
	"competitor-backlink-refresh": 240,
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "rankpulse.db")

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})

	v.SetDefault("pulse.ticker_interval_seconds", 30)
	v.SetDefault("pulse.timezone_refresh_seconds", 300) // 5 minutes of staleness is acceptable
	v.SetDefault("pulse.timezone", "UTC")
	v.SetDefault("pulse.fetch_delay_ms", 500)
	for jobType, secs := range DefaultEstimatedDurations {
		v.SetDefault("pulse.estimated_durations."+jobType, secs)
	}

	v.SetDefault("provider.base_url", "https://api.rankdata.example")
	v.SetDefault("provider.timeout_seconds", 30)
	v.SetDefault("provider.max_requests_per_minute", 30)
	v.SetDefault("provider.allow_private_probes", false)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("provider.api_key", "RANKPULSE_PROVIDER_API_KEY")
	v.BindEnv("database.path", "RANKPULSE_DATABASE_PATH")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "rankpulse.db"
	}
	return c.Database.Path
}

// GetServerPort returns server.port or DefaultServerPort
func (c *Config) GetServerPort() int {
	if c.Server.Port == 0 {
		return DefaultServerPort
	}
	return c.Server.Port
}

// EstimatedDuration returns the configured estimate for a job type, falling
// back to the built-in default.
func (c *Config) EstimatedDuration(jobType string) int {
	if secs, ok := c.Pulse.EstimatedDurations[jobType]; ok && secs > 0 {
		return secs
	}
	return DefaultEstimatedDurations[jobType]
}

// String returns a short representation of the config; the API key is never included
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Server: {Port: %d}, Pulse: {Ticker: %ds, Timezone: %s}, Provider: {BaseURL: %s}}",
		c.Database.Path, c.Server.Port, c.Pulse.TickerIntervalSeconds, c.Pulse.Timezone, c.Provider.BaseURL)
}
