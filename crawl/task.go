package crawl

import (
	"context"
	"encoding/json"

	"github.com/teranos/rankpulse/errors"
)

// Task is one run of a handler for a tenant
type Task struct {
	RunID    string
	TenantID string
	JobType  JobType
	Options  Options
}

// Options are the per-definition knobs stored as JSON on the schedule.
// Zero values select the handler defaults.
type Options struct {
	BatchSize int `json:"batch_size,omitempty"` // rank-check
	Limit     int `json:"limit,omitempty"`      // competitor-scan, page-health-check, backlink jobs
	Depth     int `json:"depth,omitempty"`      // deep-discovery
}

// ParseOptions decodes a definition's config. Empty input yields defaults.
func ParseOptions(raw json.RawMessage) (Options, error) {
	var opts Options
	if len(raw) == 0 {
		return opts, nil
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return opts, errors.WithHint(
			errors.NewInvalidRequestError("invalid job config: %s", err.Error()),
			`expected an object such as {"batch_size": 50}`)
	}
	if opts.BatchSize < 0 || opts.Limit < 0 || opts.Depth < 0 {
		return opts, errors.NewInvalidRequestError("job config values must not be negative")
	}
	return opts, nil
}

// ProgressFunc receives stage and item counts while a handler runs
type ProgressFunc func(stage string, processed, total int)

// Result summarizes a handler run
type Result struct {
	ItemsTotal     int
	ItemsProcessed int
	ItemsUpdated   int
	ErrorCount     int
	Cancelled      bool
	Message        string
}

// Handler performs one job type. Estimate returns the expected item count
// without calling the provider. Run returns an error only when the run as a
// whole failed; per-item failures are counted in the Result.
type Handler interface {
	JobType() JobType
	Estimate(ctx context.Context, tenantID string, opts Options) (int, error)
	Run(ctx context.Context, task Task, report ProgressFunc) (*Result, error)
}
