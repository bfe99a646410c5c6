package server

import (
	"encoding/json"
	"time"

	"github.com/teranos/rankpulse/crawl"
	"github.com/teranos/rankpulse/pulse/execution"
	"github.com/teranos/rankpulse/pulse/schedule"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket clients
	MaxClients = 100
	// MaxClientMessageQueueSize is the size of per-client message queues
	MaxClientMessageQueueSize = 256
	// ShutdownTimeout bounds graceful HTTP shutdown
	ShutdownTimeout = 30 * time.Second
)

// RunResponse is a run record plus its rounded progress percentage
type RunResponse struct {
	*execution.Run
	Percentage int `json:"percentage"`
}

func toRunResponse(run *execution.Run) RunResponse {
	return RunResponse{Run: run, Percentage: run.Percentage()}
}

// ListRunsResponse wraps a page of runs
type ListRunsResponse struct {
	Runs  []RunResponse `json:"runs"`
	Count int           `json:"count"`
}

func toListRunsResponse(runs []*execution.Run) ListRunsResponse {
	resp := ListRunsResponse{Runs: make([]RunResponse, 0, len(runs)), Count: len(runs)}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, toRunResponse(run))
	}
	return resp
}

// TriggerRunRequest is the body of POST /api/runs
type TriggerRunRequest struct {
	TenantID string        `json:"tenant_id"`
	JobType  string        `json:"job_type"`
	Options  crawl.Options `json:"options,omitempty"`
}

// TriggerRunResponse is returned with 202 Accepted, or with 409 Conflict
// when the same job is already running for the tenant
type TriggerRunResponse struct {
	RunID         string `json:"run_id,omitempty"`
	Status        string `json:"status"`
	ExistingRunID string `json:"existing_run_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

// CreateScheduleRequest is the body of POST /api/schedules
type CreateScheduleRequest struct {
	TenantID  string          `json:"tenant_id"`
	JobType   string          `json:"job_type"`
	TimeOfDay string          `json:"time_of_day"` // "HH:MM"
	Weekdays  []int           `json:"weekdays"`    // 0 = Sunday
	Enabled   *bool           `json:"enabled,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// UpdateScheduleRequest is the body of PATCH /api/schedules/{id}. Absent
// fields are left unchanged.
type UpdateScheduleRequest struct {
	JobType   *string         `json:"job_type,omitempty"`
	TimeOfDay *string         `json:"time_of_day,omitempty"`
	Weekdays  *[]int          `json:"weekdays,omitempty"`
	Enabled   *bool           `json:"enabled,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// ScheduleResponse represents a definition in API responses
type ScheduleResponse struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	JobType       string          `json:"job_type"`
	TimeOfDay     string          `json:"time_of_day"`
	Weekdays      []int           `json:"weekdays"`
	Enabled       bool            `json:"enabled"`
	Config        json.RawMessage `json:"config"`
	LastRunAt     *string         `json:"last_run_at,omitempty"` // RFC3339
	LastRunStatus string          `json:"last_run_status,omitempty"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
}

func toScheduleResponse(def *schedule.Definition) ScheduleResponse {
	resp := ScheduleResponse{
		ID:            def.ID,
		TenantID:      def.TenantID,
		JobType:       def.JobType.String(),
		TimeOfDay:     def.TimeOfDay,
		Weekdays:      weekdayInts(def.Weekdays),
		Enabled:       def.Enabled,
		Config:        def.Config,
		LastRunStatus: string(def.LastRunStatus),
		CreatedAt:     def.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     def.UpdatedAt.Format(time.RFC3339),
	}
	if def.LastRunAt != nil {
		s := def.LastRunAt.Format(time.RFC3339)
		resp.LastRunAt = &s
	}
	return resp
}

// ListSchedulesResponse wraps the definitions list
type ListSchedulesResponse struct {
	Schedules []ScheduleResponse `json:"schedules"`
	Count     int                `json:"count"`
}

// TimezoneRequest is the body of PUT /api/settings/timezone
type TimezoneRequest struct {
	Timezone string `json:"timezone"`
}

// TimezoneResponse reports the effective timezone and where it came from
type TimezoneResponse struct {
	Timezone string `json:"timezone"`
	Source   string `json:"source"` // "setting" or "config"
}

// MemoryStats is host memory as reported by gopsutil
type MemoryStats struct {
	TotalBytes     uint64  `json:"total_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status        string          `json:"status"`
	Version       string          `json:"version"`
	Commit        string          `json:"commit"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Clients       int             `json:"clients"`
	RunningRuns   int             `json:"running_runs"`
	Ticker        *schedule.Stats `json:"ticker,omitempty"`
	Memory        *MemoryStats    `json:"memory,omitempty"`
}

func weekdayInts(days []time.Weekday) []int {
	out := make([]int, len(days))
	for i, d := range days {
		out[i] = int(d)
	}
	return out
}

func intWeekdays(days []int) []time.Weekday {
	out := make([]time.Weekday, len(days))
	for i, d := range days {
		out[i] = time.Weekday(d)
	}
	return out
}
