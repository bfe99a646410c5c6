package db

import (
	"database/sql"
	"time"

	"github.com/teranos/rankpulse/errors"
)

// TimeLayout is the storage layout for timestamps. Values are always UTC with
// a fixed-width fraction so string comparison in SQL orders them correctly.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp. RFC3339 is accepted for rows written
// by hand or by older tooling.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid timestamp %q", s)
	}
	return t.UTC(), nil
}

// NullTime formats an optional timestamp for storage.
func NullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

// ParseNullTime parses an optional stored timestamp.
func ParseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
