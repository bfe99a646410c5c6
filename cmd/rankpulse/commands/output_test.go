package commands

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/rankpulse/crawl"
	"github.com/teranos/rankpulse/errors"
	"github.com/teranos/rankpulse/pulse/execution"
)

func TestFormatDays(t *testing.T) {
	tests := []struct {
		days []time.Weekday
		want string
	}{
		{[]time.Weekday{0, 1, 2, 3, 4, 5, 6}, "daily"},
		{[]time.Weekday{1, 2, 3, 4, 5}, "weekdays"},
		{[]time.Weekday{5, 1, 3}, "mon,wed,fri"},
		{[]time.Weekday{0, 6}, "sun,sat"},
		{nil, "-"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDays(tt.days), "%v", tt.days)
	}
}

func TestFormatProgress(t *testing.T) {
	assert.Equal(t, "0", formatProgress(&execution.Run{}))
	assert.Equal(t, "1/3 (33%)", formatProgress(&execution.Run{ItemsProcessed: 1, ItemsTotal: 3}))
	assert.Equal(t, "4/4 (100%)", formatProgress(&execution.Run{ItemsProcessed: 4, ItemsTotal: 4}))
}

func TestFormatDurationMS(t *testing.T) {
	assert.Equal(t, "-", formatDurationMS(nil))
	ms := int64(1540)
	assert.Equal(t, "1.5s", formatDurationMS(&ms))
}

func TestRunRowsHaveHeader(t *testing.T) {
	rows := runRows([]*execution.Run{{ID: "run-1", TenantID: "acme", JobType: crawl.RankCheck, Status: execution.StatusRunning}})
	require.Len(t, rows, 2)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, "run-1", rows[1][0])
	assert.Equal(t, "rank-check", rows[1][2])
}

func TestOptionsJSON(t *testing.T) {
	raw, err := optionsJSON("")
	require.NoError(t, err)
	assert.Nil(t, raw)

	raw, err = optionsJSON(`{"limit":100}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"limit":100}`, string(raw))

	_, err = optionsJSON(`{"limit":-1}`)
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = optionsJSON(`limit=100`)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestJobTypeListNamesEveryType(t *testing.T) {
	list := jobTypeList()
	for _, jt := range crawl.AllJobTypes() {
		assert.Contains(t, list, jt.String())
	}
}

func TestVerbosityName(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().CountP("verbose", "v", "")
	require.NoError(t, cmd.Flags().Parse([]string{"-vv"}))
	assert.Equal(t, "Debug (-vv)", verbosityName(cmd))

	assert.Equal(t, "User", verbosityName(&cobra.Command{}), "no flag means no verbosity")
}
