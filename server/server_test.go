package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/rankpulse/am"
	"github.com/teranos/rankpulse/crawl"
	qtest "github.com/teranos/rankpulse/internal/testing"
	"github.com/teranos/rankpulse/pulse/clock"
	"github.com/teranos/rankpulse/pulse/execution"
	"github.com/teranos/rankpulse/pulse/schedule"
	"github.com/teranos/rankpulse/settings"
)

// funcHandler is a crawl.Handler built from a closure
type funcHandler struct {
	jobType crawl.JobType
	run     func(ctx context.Context, task crawl.Task, report crawl.ProgressFunc) (*crawl.Result, error)
}

func (h *funcHandler) JobType() crawl.JobType { return h.jobType }

func (h *funcHandler) Estimate(ctx context.Context, tenantID string, opts crawl.Options) (int, error) {
	return 2, nil
}

func (h *funcHandler) Run(ctx context.Context, task crawl.Task, report crawl.ProgressFunc) (*crawl.Result, error) {
	return h.run(ctx, task, report)
}

type fixture struct {
	srv       *Server
	http      *httptest.Server
	runs      *execution.Store
	schedules *schedule.Store
	settings  *settings.Store
	ticker    *schedule.Ticker
	release   chan struct{}
}

// newFixture wires a server over an in-memory database. rank-check runs
// block until release is closed; every other job type finishes at once.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	conn := qtest.CreateTestDB(t)

	f := &fixture{
		runs:      execution.NewStore(conn),
		schedules: schedule.NewStore(conn),
		settings:  settings.NewStore(conn),
		release:   make(chan struct{}),
	}

	handlers := execution.HandlerSet{}
	for _, jt := range crawl.AllJobTypes() {
		jt := jt
		handlers[jt] = &funcHandler{jobType: jt, run: func(ctx context.Context, task crawl.Task, report crawl.ProgressFunc) (*crawl.Result, error) {
			report(jt.Stage(), 1, 2)
			if jt == crawl.RankCheck {
				select {
				case <-f.release:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			report(jt.Stage(), 2, 2)
			return &crawl.Result{ItemsTotal: 2, ItemsProcessed: 2, ItemsUpdated: 2, Message: "2/2 ok"}, nil
		}}
	}

	orch := execution.NewOrchestrator(f.runs, f.schedules, handlers, execution.Config{Logger: log})
	t.Cleanup(orch.Shutdown)

	resolver, err := clock.NewResolver(f.settings, "UTC")
	require.NoError(t, err)
	f.ticker = schedule.NewTicker(f.schedules, resolver, orch, schedule.TickerConfig{Interval: time.Hour}, log)

	cfg := &am.Config{}
	cfg.Pulse.Timezone = "UTC"
	cfg.Server.AllowedOrigins = []string{"http://localhost"}

	f.srv, err = New(Deps{
		Runs:         f.runs,
		Orchestrator: orch,
		Schedules:    f.schedules,
		Settings:     f.settings,
		Ticker:       f.ticker,
		Config:       cfg,
		Logger:       log,
	})
	require.NoError(t, err)
	f.srv.memoryStats = func() (*MemoryStats, error) {
		return &MemoryStats{TotalBytes: 8 << 30, AvailableBytes: 4 << 30, UsedPercent: 50}, nil
	}

	f.srv.startHub()
	f.http = httptest.NewServer(f.srv.Handler())
	t.Cleanup(func() {
		f.srv.Hub().Stop()
		f.http.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.http.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

type runBody struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	Status     string `json:"status"`
	Stage      string `json:"stage"`
	Percentage int    `json:"percentage"`
	Message    string `json:"message"`
}

func TestNewRequiresStores(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestTriggerDuplicateAndStop(t *testing.T) {
	f := newFixture(t)
	trigger := TriggerRunRequest{TenantID: "acme", JobType: "rank-check"}

	code, raw := f.do(t, http.MethodPost, "/api/runs", trigger)
	require.Equal(t, http.StatusAccepted, code, string(raw))
	started := decode[TriggerRunResponse](t, raw)
	require.NotEmpty(t, started.RunID)
	assert.Equal(t, "started", started.Status)

	// Progress is written before the handler blocks
	require.Eventually(t, func() bool {
		run, err := f.runs.Get(context.Background(), started.RunID)
		return err == nil && run.ItemsProcessed == 1
	}, 2*time.Second, 10*time.Millisecond)

	code, raw = f.do(t, http.MethodGet, "/api/runs?tenant=acme", nil)
	require.Equal(t, http.StatusOK, code)
	list := decode[struct {
		Runs  []runBody `json:"runs"`
		Count int       `json:"count"`
	}](t, raw)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, started.RunID, list.Runs[0].ID)
	assert.Equal(t, 50, list.Runs[0].Percentage)
	assert.Equal(t, "running", list.Runs[0].Status)

	code, raw = f.do(t, http.MethodPost, "/api/runs", trigger)
	require.Equal(t, http.StatusConflict, code, string(raw))
	dup := decode[TriggerRunResponse](t, raw)
	assert.Equal(t, started.RunID, dup.ExistingRunID)

	// Another tenant is not blocked
	code, _ = f.do(t, http.MethodPost, "/api/runs", TriggerRunRequest{TenantID: "globex", JobType: "rank-check"})
	assert.Equal(t, http.StatusAccepted, code)

	code, raw = f.do(t, http.MethodPost, "/api/runs/"+started.RunID+"/stop", nil)
	require.Equal(t, http.StatusOK, code, string(raw))
	stopped := decode[runBody](t, raw)
	assert.Equal(t, "stopped", stopped.Status)
	assert.Equal(t, execution.StoppedMessage, stopped.Message)

	code, _ = f.do(t, http.MethodPost, "/api/runs/"+started.RunID+"/stop", nil)
	assert.Equal(t, http.StatusConflict, code, "already terminal")

	code, _ = f.do(t, http.MethodPost, "/api/runs/no-such-run/stop", nil)
	assert.Equal(t, http.StatusNotFound, code)

	// The guard frees once the stopped handler returns
	require.Eventually(t, func() bool {
		_, held := f.srv.orchestrator.Guard().Holder("acme", crawl.RankCheck)
		return !held
	}, 2*time.Second, 10*time.Millisecond)
	close(f.release)
}

func TestTriggerRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	defer close(f.release)

	code, raw := f.do(t, http.MethodPost, "/api/runs", TriggerRunRequest{TenantID: "acme", JobType: "seo-magic"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(raw), "seo-magic")

	code, _ = f.do(t, http.MethodPost, "/api/runs", TriggerRunRequest{JobType: "rank-check"})
	assert.Equal(t, http.StatusBadRequest, code, "tenant is required")

	code, _ = f.do(t, http.MethodPost, "/api/runs", map[string]string{"tenant": "acme"})
	assert.Equal(t, http.StatusBadRequest, code, "unknown fields are rejected")
}

func TestGetRunAndHistory(t *testing.T) {
	f := newFixture(t)
	defer close(f.release)

	code, raw := f.do(t, http.MethodPost, "/api/runs", TriggerRunRequest{TenantID: "acme", JobType: "page-health-check"})
	require.Equal(t, http.StatusAccepted, code, string(raw))
	runID := decode[TriggerRunResponse](t, raw).RunID

	require.Eventually(t, func() bool {
		run, err := f.runs.Get(context.Background(), runID)
		return err == nil && run.Status == execution.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	code, raw = f.do(t, http.MethodGet, "/api/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, code)
	run := decode[runBody](t, raw)
	assert.Equal(t, 100, run.Percentage)
	assert.Equal(t, crawl.StageDone, run.Stage)

	code, raw = f.do(t, http.MethodGet, "/api/runs/history?tenant=acme&limit=10", nil)
	require.Equal(t, http.StatusOK, code)
	history := decode[ListRunsResponse](t, raw)
	require.Equal(t, 1, history.Count)
	assert.Equal(t, runID, history.Runs[0].ID)

	code, raw = f.do(t, http.MethodGet, "/api/runs/history?tenant=acme&offset=1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, decode[ListRunsResponse](t, raw).Count)

	code, _ = f.do(t, http.MethodGet, "/api/runs/history", nil)
	assert.Equal(t, http.StatusBadRequest, code, "tenant is required")

	code, _ = f.do(t, http.MethodGet, "/api/runs/history?tenant=acme&limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, raw = f.do(t, http.MethodGet, "/api/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, string(raw), "not found")
}

func TestScheduleLifecycle(t *testing.T) {
	f := newFixture(t)
	defer close(f.release)

	code, raw := f.do(t, http.MethodPost, "/api/schedules", CreateScheduleRequest{
		TenantID:  "acme",
		JobType:   "rank-check",
		TimeOfDay: "09:00",
		Weekdays:  []int{5, 1, 3},
		Config:    json.RawMessage(`{"limit":25}`),
	})
	require.Equal(t, http.StatusCreated, code, string(raw))
	created := decode[ScheduleResponse](t, raw)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Enabled, "enabled by default")
	assert.Equal(t, []int{1, 3, 5}, created.Weekdays)
	assert.JSONEq(t, `{"limit":25}`, string(created.Config))

	code, raw = f.do(t, http.MethodPatch, "/api/schedules/"+created.ID, map[string]interface{}{
		"time_of_day": "07:30",
	})
	require.Equal(t, http.StatusOK, code, string(raw))
	updated := decode[ScheduleResponse](t, raw)
	assert.Equal(t, "07:30", updated.TimeOfDay)
	assert.Equal(t, []int{1, 3, 5}, updated.Weekdays, "absent fields unchanged")

	code, raw = f.do(t, http.MethodDelete, "/api/schedules/"+created.ID, nil)
	require.Equal(t, http.StatusOK, code, string(raw))
	assert.False(t, decode[ScheduleResponse](t, raw).Enabled)

	// Disabled, not deleted
	code, raw = f.do(t, http.MethodGet, "/api/schedules?tenant=acme", nil)
	require.Equal(t, http.StatusOK, code)
	list := decode[ListSchedulesResponse](t, raw)
	require.Equal(t, 1, list.Count)
	assert.False(t, list.Schedules[0].Enabled)

	code, _ = f.do(t, http.MethodGet, "/api/schedules/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestScheduleValidation(t *testing.T) {
	f := newFixture(t)
	defer close(f.release)

	code, raw := f.do(t, http.MethodPost, "/api/schedules", CreateScheduleRequest{
		TenantID:  "acme",
		JobType:   "rank-check",
		TimeOfDay: "9am",
		Weekdays:  []int{1},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	body := decode[ErrorResponse](t, raw)
	assert.NotEmpty(t, body.Hints)

	code, _ = f.do(t, http.MethodPost, "/api/schedules", CreateScheduleRequest{
		TenantID:  "acme",
		JobType:   "rank-check",
		TimeOfDay: "09:00",
	})
	assert.Equal(t, http.StatusBadRequest, code, "weekdays are required")

	code, _ = f.do(t, http.MethodPost, "/api/schedules", CreateScheduleRequest{
		TenantID:  "acme",
		JobType:   "rank-check",
		TimeOfDay: "09:00",
		Weekdays:  []int{1},
		Config:    json.RawMessage(`{"batch_size":-5}`),
	})
	assert.Equal(t, http.StatusBadRequest, code, "config the job could never run with")

	code, _ = f.do(t, http.MethodPatch, "/api/schedules/missing", map[string]interface{}{"enabled": true})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodDelete, "/api/schedules/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, raw = f.do(t, http.MethodGet, "/api/schedules", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, decode[ListSchedulesResponse](t, raw).Count)
}

func TestTimezoneSetting(t *testing.T) {
	f := newFixture(t)
	defer close(f.release)

	code, raw := f.do(t, http.MethodGet, "/api/settings/timezone", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, TimezoneResponse{Timezone: "UTC", Source: "config"}, decode[TimezoneResponse](t, raw))

	code, raw = f.do(t, http.MethodPut, "/api/settings/timezone", TimezoneRequest{Timezone: "europe/berlin"})
	require.Equal(t, http.StatusOK, code, string(raw))
	assert.Equal(t, "Europe/Berlin", decode[TimezoneResponse](t, raw).Timezone)

	// The ticker picks the change up without waiting for its refresh loop
	assert.Equal(t, "Europe/Berlin", f.ticker.GetStats().Timezone)

	code, _ = f.do(t, http.MethodPut, "/api/settings/timezone", TimezoneRequest{Timezone: "Mars/Olympus"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, raw = f.do(t, http.MethodGet, "/api/settings/timezone", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, TimezoneResponse{Timezone: "Europe/Berlin", Source: "setting"}, decode[TimezoneResponse](t, raw))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	defer close(f.release)

	code, raw := f.do(t, http.MethodPost, "/api/runs", TriggerRunRequest{TenantID: "acme", JobType: "rank-check"})
	require.Equal(t, http.StatusAccepted, code, string(raw))

	code, raw = f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, code)
	health := decode[HealthResponse](t, raw)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.RunningRuns)
	require.NotNil(t, health.Ticker)
	assert.Equal(t, "UTC", health.Ticker.Timezone)
	assert.Equal(t, time.Hour, health.Ticker.Interval)
	require.NotNil(t, health.Memory)
	assert.Equal(t, 50.0, health.Memory.UsedPercent)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	defer close(f.release)

	req, err := http.NewRequest(http.MethodOptions, f.http.URL+"/api/runs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodOptions, f.http.URL+"/api/runs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = f.http.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRequestIDHeader(t *testing.T) {
	f := newFixture(t)
	defer close(f.release)

	resp, err := f.http.Client().Get(f.http.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, err := http.NewRequest(http.MethodGet, f.http.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err = f.http.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	defer close(f.release)

	code, _ := f.do(t, http.MethodPut, "/api/runs", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestShutdownWithoutStart(t *testing.T) {
	f := newFixture(t)
	defer close(f.release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, f.srv.Shutdown(ctx))
}

func TestStartBindsAndShutsDown(t *testing.T) {
	f := newFixture(t)
	defer close(f.release)

	addr, err := f.srv.Start("127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.srv.Shutdown(ctx))

	_, err = http.Get("http://" + addr.String() + "/health")
	assert.Error(t, err, "listener is closed")
}
