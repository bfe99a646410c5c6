// Package execution runs crawl jobs to a terminal state: one run per
// (tenant, job type) at a time, progress persisted as it happens, and
// operator stop.
package execution

import (
	"math"
	"time"

	"github.com/teranos/rankpulse/crawl"
)

// Status is the lifecycle state of a run
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// Trigger records what started a run
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// OrphanedMessage is set on runs found running at startup
const OrphanedMessage = "interrupted: process restarted"

// Progress is the processed/total pair of a run
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// Percentage returns progress as a whole number in [0, 100]
func (p Progress) Percentage() int {
	if p.Total <= 0 {
		return 0
	}
	pct := math.Round(float64(p.Processed) / float64(p.Total) * 100)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return int(pct)
}

// Run is the persisted record of one execution
type Run struct {
	ID                       string        `json:"id"`
	TenantID                 string        `json:"tenant_id"`
	JobType                  crawl.JobType `json:"job_type"`
	DefinitionID             string        `json:"definition_id,omitempty"` // empty for manual runs
	Trigger                  Trigger       `json:"trigger"`
	Status                   Status        `json:"status"`
	ItemsTotal               int           `json:"items_total"`
	ItemsProcessed           int           `json:"items_processed"`
	ItemsUpdated             int           `json:"items_updated"`
	Stage                    string        `json:"stage"`
	EstimatedDurationSeconds int           `json:"estimated_duration_seconds"`
	Message                  string        `json:"message,omitempty"`
	ErrorCount               int           `json:"error_count"`
	StartedAt                time.Time     `json:"started_at"`
	CompletedAt              *time.Time    `json:"completed_at,omitempty"`
	DurationMS               *int64        `json:"duration_ms,omitempty"`
	UpdatedAt                time.Time     `json:"updated_at"`
}

// Progress returns the run's item counts
func (r *Run) Progress() Progress {
	return Progress{Processed: r.ItemsProcessed, Total: r.ItemsTotal}
}

// Percentage is shorthand for r.Progress().Percentage()
func (r *Run) Percentage() int {
	return r.Progress().Percentage()
}

// Finish is the terminal update applied to a running record
type Finish struct {
	Status       Status
	Message      string
	ErrorCount   int
	ItemsUpdated int

	// Final counts from the handler; a zero total keeps the recorded one
	ItemsTotal     int
	ItemsProcessed int
	CompletedAt    time.Time
}
