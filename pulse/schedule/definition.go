// Package schedule holds recurring crawl definitions, decides which of them
// are due, and runs the polling loop that dispatches them.
package schedule

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/rankpulse/crawl"
	"github.com/teranos/rankpulse/errors"
)

// LastRunStatus is the bookkeeping outcome of a definition's latest run.
type LastRunStatus string

const (
	LastRunNone    LastRunStatus = ""
	LastRunSuccess LastRunStatus = "success"
	LastRunFailure LastRunStatus = "failure"
)

// Definition is a recurring crawl trigger for one tenant and job type.
// Definitions are soft-disabled, never deleted.
type Definition struct {
	ID        string
	TenantID  string
	JobType   crawl.JobType
	TimeOfDay string         // "HH:MM" in the operator timezone
	Weekdays  []time.Weekday // 0 = Sunday
	Enabled   bool

	// Per-type options (batch_size, limit, depth). Passed to the handler untouched.
	Config json.RawMessage

	LastRunAt     *time.Time
	LastRunStatus LastRunStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var timeOfDayPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Validate checks the trigger fields and normalizes the weekday set.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.TenantID) == "" {
		return errors.NewInvalidRequestError("tenant_id is required")
	}
	if !d.JobType.Valid() {
		return errors.NewInvalidRequestError("unknown job type %q", d.JobType)
	}
	if !timeOfDayPattern.MatchString(d.TimeOfDay) {
		return errors.WithHint(
			errors.NewInvalidRequestError("invalid time of day %q", d.TimeOfDay),
			"use 24-hour HH:MM, e.g. 09:00")
	}
	if len(d.Weekdays) == 0 {
		return errors.NewInvalidRequestError("at least one weekday is required")
	}
	for _, wd := range d.Weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return errors.NewInvalidRequestError("weekday %d out of range 0-6", wd)
		}
	}
	d.Weekdays = normalizeWeekdays(d.Weekdays)
	if len(d.Config) == 0 {
		d.Config = json.RawMessage("{}")
	}
	if !json.Valid(d.Config) {
		return errors.NewInvalidRequestError("config is not valid JSON")
	}
	if _, err := crawl.ParseOptions(d.Config); err != nil {
		return err
	}
	return nil
}

// RunsOn reports whether wd is in the weekday set.
func (d *Definition) RunsOn(wd time.Weekday) bool {
	for _, w := range d.Weekdays {
		if w == wd {
			return true
		}
	}
	return false
}

func normalizeWeekdays(in []time.Weekday) []time.Weekday {
	seen := make(map[time.Weekday]bool, len(in))
	out := make([]time.Weekday, 0, len(in))
	for _, wd := range in {
		if !seen[wd] {
			seen[wd] = true
			out = append(out, wd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FormatWeekdays renders a weekday set as stored: "1,3,5".
func FormatWeekdays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, wd := range days {
		parts[i] = strconv.Itoa(int(wd))
	}
	return strings.Join(parts, ",")
}

// ParseWeekdays accepts "1,3,5" or weekday names ("mon,wed"); "daily" and
// "weekdays" are shorthands.
func ParseWeekdays(s string) ([]time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily", "*":
		return []time.Weekday{0, 1, 2, 3, 4, 5, 6}, nil
	case "weekdays":
		return []time.Weekday{1, 2, 3, 4, 5}, nil
	}

	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			if n < 0 || n > 6 {
				return nil, errors.NewInvalidRequestError("weekday %d out of range 0-6", n)
			}
			days = append(days, time.Weekday(n))
			continue
		}
		wd, ok := weekdayNames[part]
		if !ok {
			return nil, errors.NewInvalidRequestError("unknown weekday %q", part)
		}
		days = append(days, wd)
	}
	if len(days) == 0 {
		return nil, errors.NewInvalidRequestError("no weekdays in %q", s)
	}
	return normalizeWeekdays(days), nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}
