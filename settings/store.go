// Package settings stores operator-mutable key/value settings in SQLite.
package settings

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/rankpulse/am/geotime"
	"github.com/teranos/rankpulse/db"
	"github.com/teranos/rankpulse/errors"
)

// KeyTimezone holds the IANA timezone schedules are evaluated in.
const KeyTimezone = "timezone"

// Store handles persistence of settings
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new settings store
func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn, now: time.Now}
}

// Get returns the value for key, or errors.ErrNotFound when unset.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", errors.NewNotFoundError("setting %s", key)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to read setting %s", key)
	}
	return value, nil
}

// Set upserts key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, db.FormatTime(s.now()))
	if err != nil {
		return errors.Wrapf(err, "failed to write setting %s", key)
	}
	return nil
}

// Timezone returns the stored timezone name, or "" when none is stored.
func (s *Store) Timezone(ctx context.Context) (string, error) {
	tz, err := s.Get(ctx, KeyTimezone)
	if errors.IsNotFoundError(err) {
		return "", nil
	}
	return tz, err
}

// SetTimezone normalizes input to an IANA name and stores it. Unknown
// timezones are rejected with errors.ErrInvalidRequest. Returns the stored name.
func (s *Store) SetTimezone(ctx context.Context, input string) (string, error) {
	tz, err := geotime.NormalizeTimezone(input)
	if err != nil {
		return "", errors.WithHint(errors.NewInvalidRequestError("%s", err.Error()),
			"use an IANA name such as Europe/Berlin")
	}
	if err := s.Set(ctx, KeyTimezone, tz); err != nil {
		return "", err
	}
	return tz, nil
}
