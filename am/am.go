// Package am holds rankpulse configuration: the config struct, defaults,
// validation, loading from TOML files and environment, and a file watcher.
package am

// Config represents the rankpulse configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
	Server   ServerConfig   `mapstructure:"server" toml:"server"`
	Pulse    PulseConfig    `mapstructure:"pulse" toml:"pulse"`
	Provider ProviderConfig `mapstructure:"provider" toml:"provider"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// ServerConfig configures the HTTP API server
type ServerConfig struct {
	Port           int      `mapstructure:"port" toml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins"`
}

// DefaultServerPort is used when server.port is not configured
const DefaultServerPort = 8787

// PulseConfig configures scheduling and run execution
type PulseConfig struct {
	// How often the polling loop evaluates schedules. Must stay below 60 so
	// every wall-clock minute is observed.
	TickerIntervalSeconds int `mapstructure:"ticker_interval_seconds" toml:"ticker_interval_seconds"`

	// How often the operator timezone setting is re-read
	TimezoneRefreshSeconds int `mapstructure:"timezone_refresh_seconds" toml:"timezone_refresh_seconds"`

	// Fallback IANA timezone when the settings table has none
	Timezone string `mapstructure:"timezone" toml:"timezone"`

	// Delay between provider calls inside one run
	FetchDelayMS int `mapstructure:"fetch_delay_ms" toml:"fetch_delay_ms"`

	// Display-only duration estimates keyed by job type
	EstimatedDurations map[string]int `mapstructure:"estimated_durations" toml:"estimated_durations"`
}

// ProviderConfig configures the ranking-data provider client
type ProviderConfig struct {
	BaseURL              string `mapstructure:"base_url" toml:"base_url"`
	APIKey               string `mapstructure:"api_key" toml:"api_key"`
	TimeoutSeconds       int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	MaxRequestsPerMinute int    `mapstructure:"max_requests_per_minute" toml:"max_requests_per_minute"`
	AllowPrivateProbes   bool   `mapstructure:"allow_private_probes" toml:"allow_private_probes"`
}

// File and directory permissions for files rankpulse creates
const (
	DefaultDirPermissions  = 0o755
	DefaultFilePermissions = 0o644
)
