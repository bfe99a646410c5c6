package schedule

import (
	"time"

	"github.com/teranos/rankpulse/pulse/clock"
)

// IsDue reports whether def should fire at (weekday, hhmm) on today.
// lastRunDate and today are calendar dates ("2006-01-02") in the same
// timezone; an empty lastRunDate means the definition never ran.
//
// The time match is exact to the minute. A definition that already ran
// today is not due again until the next matching day.
func IsDue(def *Definition, weekday time.Weekday, hhmm, lastRunDate, today string) bool {
	if def == nil || !def.Enabled {
		return false
	}
	if !def.RunsOn(weekday) {
		return false
	}
	if def.TimeOfDay != hhmm {
		return false
	}
	return lastRunDate == "" || lastRunDate < today
}

// DueDefinitions returns the subset of defs due at m. Last-run timestamps
// are converted to dates in loc, the same zone m was resolved in.
func DueDefinitions(defs []*Definition, m clock.Moment, loc *time.Location) []*Definition {
	var due []*Definition
	for _, def := range defs {
		lastRunDate := ""
		if def.LastRunAt != nil {
			lastRunDate = clock.DateOf(*def.LastRunAt, loc)
		}
		if IsDue(def, m.Weekday, m.HHMM, lastRunDate, m.Date) {
			due = append(due, def)
		}
	}
	return due
}
