package commands

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/rankpulse/am"
	"github.com/teranos/rankpulse/errors"
	qtest "github.com/teranos/rankpulse/internal/testing"
)

func defaultConfig(t *testing.T) *am.Config {
	t.Helper()
	v := viper.New()
	am.SetDefaults(v)
	cfg, err := am.LoadWithViper(v)
	require.NoError(t, err)
	return cfg
}

func TestNewEngineWiresStack(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Pulse.Timezone = "Europe/Berlin"
	database := qtest.CreateTestDB(t)

	e, err := newEngine(cfg, database, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer e.orchestrator.Shutdown()

	assert.Equal(t, "Europe/Berlin", e.resolver.Location().String())

	stats := e.ticker.GetStats()
	assert.Equal(t, 30*time.Second, stats.Interval)

	// the stored setting wins over config once the ticker refreshes
	_, err = e.settings.SetTimezone(context.Background(), "Asia/Tokyo")
	require.NoError(t, err)
	e.ticker.RefreshTimezone()
	assert.Equal(t, "Asia/Tokyo", e.ticker.GetStats().Timezone)
	e.ticker.Stop()
}

func TestNewEngineRejectsBadProviderURL(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Provider.BaseURL = "not a url"

	_, err := newEngine(cfg, qtest.CreateTestDB(t), zaptest.NewLogger(t).Sugar())
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestTickerConfigFromSeconds(t *testing.T) {
	cfg := &am.Config{Pulse: am.PulseConfig{TickerIntervalSeconds: 15, TimezoneRefreshSeconds: 60}}
	tc := tickerConfig(cfg)
	assert.Equal(t, 15*time.Second, tc.Interval)
	assert.Equal(t, time.Minute, tc.TimezoneRefresh)
}
