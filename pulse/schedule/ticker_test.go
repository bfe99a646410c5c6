package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/rankpulse/crawl"
	"github.com/teranos/rankpulse/errors"
	qtest "github.com/teranos/rankpulse/internal/testing"
	"github.com/teranos/rankpulse/pulse/clock"
)

type staticLister struct {
	defs []*Definition
	err  error
}

func (l *staticLister) ListEnabled(ctx context.Context) ([]*Definition, error) {
	return l.defs, l.err
}

type recordingExecutor struct {
	mu       sync.Mutex
	executed []string
	err      error
	block    chan struct{}
}

func (e *recordingExecutor) ExecuteScheduled(ctx context.Context, def *Definition) (string, error) {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	e.mu.Lock()
	e.executed = append(e.executed, def.ID)
	e.mu.Unlock()
	return "run-" + def.ID, e.err
}

func (e *recordingExecutor) ids() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.executed...)
}

func newTestTicker(t *testing.T, lister DefinitionLister, exec Executor) *Ticker {
	t.Helper()
	resolver, err := clock.NewResolver(nil, "UTC")
	require.NoError(t, err)
	return NewTicker(lister, resolver, exec, TickerConfig{Interval: time.Hour}, zaptest.NewLogger(t).Sugar())
}

// 2026-03-02 is a Monday
var mondayNine = time.Date(2026, 3, 2, 9, 0, 12, 0, time.UTC)

func TestTickDispatchesDueDefinitions(t *testing.T) {
	lister := &staticLister{defs: []*Definition{
		{ID: "due", TenantID: "acme", JobType: crawl.RankCheck, TimeOfDay: "09:00", Weekdays: []time.Weekday{time.Monday}, Enabled: true},
		{ID: "later", TenantID: "acme", JobType: crawl.PageHealthCheck, TimeOfDay: "10:00", Weekdays: []time.Weekday{time.Monday}, Enabled: true},
		{ID: "tuesday", TenantID: "acme", JobType: crawl.BacklinkRefresh, TimeOfDay: "09:00", Weekdays: []time.Weekday{time.Tuesday}, Enabled: true},
	}}
	exec := &recordingExecutor{}
	ticker := newTestTicker(t, lister, exec)

	n, err := ticker.Tick(mondayNine)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ticker.Stop()
	assert.Equal(t, []string{"due"}, exec.ids())

	stats := ticker.GetStats()
	assert.Equal(t, int64(1), stats.TicksSinceStart)
	assert.Equal(t, int64(1), stats.Dispatched)
	assert.True(t, mondayNine.Equal(stats.LastTickAt))
	assert.Equal(t, "UTC", stats.Timezone)
}

func TestTickDoesNotWaitForRuns(t *testing.T) {
	lister := &staticLister{defs: []*Definition{
		{ID: "a", TenantID: "acme", JobType: crawl.RankCheck, TimeOfDay: "09:00", Weekdays: []time.Weekday{time.Monday}, Enabled: true},
		{ID: "b", TenantID: "globex", JobType: crawl.RankCheck, TimeOfDay: "09:00", Weekdays: []time.Weekday{time.Monday}, Enabled: true},
	}}
	exec := &recordingExecutor{block: make(chan struct{})}
	ticker := newTestTicker(t, lister, exec)

	done := make(chan int)
	go func() {
		n, _ := ticker.Tick(mondayNine)
		done <- n
	}()

	select {
	case n := <-done:
		assert.Equal(t, 2, n)
	case <-time.After(2 * time.Second):
		t.Fatal("Tick blocked on a running dispatch")
	}

	assert.Empty(t, exec.ids())
	close(exec.block)
	ticker.Wait()
	assert.ElementsMatch(t, []string{"a", "b"}, exec.ids())
	ticker.Stop()
}

func TestWaitLetsRunsFinish(t *testing.T) {
	lister := &staticLister{defs: []*Definition{
		{ID: "due", TenantID: "acme", JobType: crawl.RankCheck, TimeOfDay: "09:00", Weekdays: []time.Weekday{time.Monday}, Enabled: true},
	}}
	exec := &recordingExecutor{block: make(chan struct{})}
	ticker := newTestTicker(t, lister, exec)
	defer ticker.Stop()

	n, err := ticker.Tick(mondayNine)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	close(exec.block)
	ticker.Wait()
	assert.Equal(t, []string{"due"}, exec.ids())
}

func TestTickCountsRejectedDuplicates(t *testing.T) {
	lister := &staticLister{defs: []*Definition{
		{ID: "a", TenantID: "acme", JobType: crawl.RankCheck, TimeOfDay: "09:00", Weekdays: []time.Weekday{time.Monday}, Enabled: true},
	}}
	exec := &recordingExecutor{err: errors.NewConflictError("run already in progress")}
	ticker := newTestTicker(t, lister, exec)

	_, err := ticker.Tick(mondayNine)
	require.NoError(t, err)
	ticker.Stop()

	stats := ticker.GetStats()
	assert.Equal(t, int64(1), stats.Dispatched)
	assert.Equal(t, int64(1), stats.Rejected)
}

func TestTickListError(t *testing.T) {
	ticker := newTestTicker(t, &staticLister{err: errors.New("database is locked")}, &recordingExecutor{})
	defer ticker.Stop()

	n, err := ticker.Tick(mondayNine)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Contains(t, err.Error(), "failed to list enabled definitions")
}

func TestTickAfterDatabaseClosed(t *testing.T) {
	conn := qtest.CreateTestDB(t)
	exec := &recordingExecutor{}
	ticker := newTestTicker(t, NewStore(conn), exec)
	defer ticker.Stop()
	require.NoError(t, conn.Close())

	n, err := ticker.Tick(mondayNine)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, exec.ids())
}

// Once a scheduled run stamps last_run_at, later ticks in the same minute
// find nothing due.
func TestTickAgainstStoreAfterMarkStarted(t *testing.T) {
	db := qtest.CreateTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	def := newDefinition("acme", crawl.RankCheck, "09:00", time.Monday)
	require.NoError(t, store.CreateDefinition(ctx, def))

	exec := &markingExecutor{store: store, at: mondayNine}
	ticker := newTestTicker(t, store, exec)

	n, err := ticker.Tick(mondayNine)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ticker.inflight.Wait()

	n, err = ticker.Tick(mondayNine.Add(30 * time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)
	ticker.Stop()
}

type markingExecutor struct {
	store *Store
	at    time.Time
}

func (e *markingExecutor) ExecuteScheduled(ctx context.Context, def *Definition) (string, error) {
	return "run-1", e.store.MarkStarted(ctx, def.ID, e.at)
}

func TestTimezoneFollowsResolver(t *testing.T) {
	source := &fixedTimezone{name: "Asia/Tokyo"}
	resolver, err := clock.NewResolver(source, "UTC")
	require.NoError(t, err)

	lister := &staticLister{defs: []*Definition{
		{ID: "tokyo-morning", TenantID: "acme", JobType: crawl.RankCheck, TimeOfDay: "18:00", Weekdays: []time.Weekday{time.Monday}, Enabled: true},
	}}
	exec := &recordingExecutor{}
	ticker := NewTicker(lister, resolver, exec, TickerConfig{Interval: time.Hour}, zaptest.NewLogger(t).Sugar())

	ticker.RefreshTimezone()
	n, err := ticker.Tick(mondayNine) // 18:00 Monday in Tokyo
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ticker.Stop()
	assert.Equal(t, "Asia/Tokyo", ticker.GetStats().Timezone)
}

type fixedTimezone struct{ name string }

func (f *fixedTimezone) Timezone(ctx context.Context) (string, error) { return f.name, nil }

func TestStartStop(t *testing.T) {
	ticker := newTestTicker(t, &staticLister{}, &recordingExecutor{})
	ticker.Start()
	ticker.Stop()
	assert.Zero(t, ticker.GetStats().TicksSinceStart)
}

func TestDefaultTickerConfig(t *testing.T) {
	cfg := DefaultTickerConfig()
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, 5*time.Minute, cfg.TimezoneRefresh)
}
