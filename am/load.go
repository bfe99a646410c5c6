package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/teranos/rankpulse/errors"
)

var (
	mu            sync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper
	loadedFiles   []string
)

// Load reads the rankpulse configuration using Viper
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	cfg, err := LoadWithViper(initViper())
	if err != nil {
		return nil, err
	}
	globalConfig = cfg
	return globalConfig, nil
}

// LoadWithViper loads and validates configuration from a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path, ignoring
// system, user and environment sources.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return LoadWithViper(v)
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	viperInstance = nil
	loadedFiles = nil
}

// LoadedFiles returns the config files merged by the last Load, lowest precedence first.
func LoadedFiles() []string {
	mu.Lock()
	defer mu.Unlock()
	return append([]string(nil), loadedFiles...)
}

func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("RANKPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	BindSensitiveEnvVars(v)

	SetDefaults(v)
	loadedFiles = mergeConfigFiles(v, configPaths())

	viperInstance = v
	return v
}

// CandidateFiles returns every path Load considers, lowest precedence first
func CandidateFiles() []string {
	return configPaths()
}

// configPaths lists candidate files, lowest precedence first:
// system < user < project. Environment variables override all of them.
func configPaths() []string {
	paths := []string{"/etc/rankpulse/config.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".rankpulse", "am.toml"))
	}
	if project := findProjectConfig(); project != "" {
		paths = append(paths, project)
	}
	return paths
}

// findProjectConfig searches for am.toml by walking up from the working directory
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, "am.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func mergeConfigFiles(v *viper.Viper, paths []string) []string {
	var merged []string
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.MergeInConfig(); err == nil {
			merged = append(merged, path)
		}
	}
	return merged
}

// Masked returns a copy safe to print: the provider API key is replaced.
func (c *Config) Masked() Config {
	masked := *c
	if masked.Provider.APIKey != "" {
		masked.Provider.APIKey = "********"
	}
	return masked
}

// TOML renders the effective configuration with secrets masked.
func (c *Config) TOML() ([]byte, error) {
	out, err := toml.Marshal(c.Masked())
	if err != nil {
		return nil, errors.Wrap(err, "failed to render config")
	}
	return out, nil
}
