package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/rankpulse/errors"
)

type fakeSource struct {
	tz  string
	err error
}

func (f *fakeSource) Timezone(ctx context.Context) (string, error) {
	return f.tz, f.err
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestCurrentWeekdayAndMinute(t *testing.T) {
	// 2026-03-04 08:00 UTC is a Wednesday; 09:00 in Berlin (CET)
	now := time.Date(2026, 3, 4, 8, 0, 30, 0, time.UTC)

	wd, hhmm := CurrentWeekdayAndMinute(now, mustLoad(t, "Europe/Berlin"))
	assert.Equal(t, time.Wednesday, wd)
	assert.Equal(t, "09:00", hhmm)

	// Los Angeles has only just reached Wednesday
	wd, hhmm = CurrentWeekdayAndMinute(now, mustLoad(t, "America/Los_Angeles"))
	assert.Equal(t, time.Wednesday, wd)
	assert.Equal(t, "00:00", hhmm)

	wd, _ = CurrentWeekdayAndMinute(now.Add(-time.Minute), mustLoad(t, "America/Los_Angeles"))
	assert.Equal(t, time.Tuesday, wd)
}

func TestMomentFollowsDaylightSaving(t *testing.T) {
	berlin := mustLoad(t, "Europe/Berlin")

	// 08:00 UTC is 09:00 before the March switch and 10:00 after it
	winter := MomentIn(time.Date(2026, 3, 27, 8, 0, 0, 0, time.UTC), berlin)
	summer := MomentIn(time.Date(2026, 3, 30, 8, 0, 0, 0, time.UTC), berlin)

	assert.Equal(t, "09:00", winter.HHMM)
	assert.Equal(t, "10:00", summer.HHMM)
	assert.Equal(t, "2026-03-30", summer.Date)
}

func TestResolverRefresh(t *testing.T) {
	now := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	src := &fakeSource{}
	r, err := NewResolver(src, "UTC", WithNow(func() time.Time { return now }), WithLogger(zap.NewNop().Sugar()))
	require.NoError(t, err)

	// unset setting keeps the fallback
	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, "UTC", r.Location().String())
	assert.Equal(t, "08:00", r.Now().HHMM)
	assert.Equal(t, now, r.RefreshedAt())

	src.tz = "Asia/Tokyo"
	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, "Asia/Tokyo", r.Location().String())
	assert.Equal(t, "17:00", r.Now().HHMM)

	// clearing the setting goes back to the fallback
	src.tz = ""
	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, "UTC", r.Location().String())
}

func TestResolverKeepsLastGoodLocation(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	src := &fakeSource{tz: "Europe/Berlin"}
	r, err := NewResolver(src, "UTC", WithLogger(zap.New(core).Sugar()))
	require.NoError(t, err)
	require.NoError(t, r.Refresh(context.Background()))

	src.tz = "Not/AZone"
	assert.Error(t, r.Refresh(context.Background()))
	assert.Equal(t, "Europe/Berlin", r.Location().String())

	src.err = errors.New("database is locked")
	assert.Error(t, r.Refresh(context.Background()))
	assert.Equal(t, "Europe/Berlin", r.Location().String())

	assert.Equal(t, 2, logs.Len())
}

func TestResolverWithoutSource(t *testing.T) {
	r, err := NewResolver(nil, "")
	require.NoError(t, err)
	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, "UTC", r.Location().String())
}

func TestNewResolverRejectsBadFallback(t *testing.T) {
	_, err := NewResolver(nil, "Nowhere/Special")
	assert.Error(t, err)
}

func TestDateOf(t *testing.T) {
	// 23:30 UTC on the 4th is already the 5th in Tokyo
	ts := time.Date(2026, 3, 4, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-04", DateOf(ts, time.UTC))
	assert.Equal(t, "2026-03-05", DateOf(ts, mustLoad(t, "Asia/Tokyo")))
}
