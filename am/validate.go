package am

import (
	"net/url"

	"github.com/teranos/rankpulse/am/geotime"
	"github.com/teranos/rankpulse/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	// 0 disables the polling loop; 60 or more could skip a whole minute
	if c.Pulse.TickerIntervalSeconds < 0 || c.Pulse.TickerIntervalSeconds >= 60 {
		return errors.WithHint(
			errors.Newf("pulse.ticker_interval_seconds must be in [0, 60), got %d", c.Pulse.TickerIntervalSeconds),
			"schedules match on HH:MM, so the loop must observe every minute")
	}
	if c.Pulse.TimezoneRefreshSeconds < 0 {
		return errors.Newf("pulse.timezone_refresh_seconds must be >= 0, got %d", c.Pulse.TimezoneRefreshSeconds)
	}
	if c.Pulse.Timezone != "" {
		if err := geotime.ValidateTimezone(c.Pulse.Timezone); err != nil {
			return errors.Wrap(err, "pulse.timezone")
		}
	}
	if c.Pulse.FetchDelayMS < 0 {
		return errors.Newf("pulse.fetch_delay_ms must be >= 0, got %d", c.Pulse.FetchDelayMS)
	}
	for jobType, secs := range c.Pulse.EstimatedDurations {
		if secs < 0 {
			return errors.Newf("pulse.estimated_durations.%s must be >= 0, got %d", jobType, secs)
		}
	}

	if c.Provider.BaseURL != "" {
		u, err := url.Parse(c.Provider.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.Newf("provider.base_url must be an absolute URL, got %q", c.Provider.BaseURL)
		}
	}
	if c.Provider.TimeoutSeconds < 0 {
		return errors.Newf("provider.timeout_seconds must be >= 0, got %d", c.Provider.TimeoutSeconds)
	}
	// 0 = unlimited
	if c.Provider.MaxRequestsPerMinute < 0 {
		return errors.Newf("provider.max_requests_per_minute must be >= 0, got %d", c.Provider.MaxRequestsPerMinute)
	}

	return nil
}
