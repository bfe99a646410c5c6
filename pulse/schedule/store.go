package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/rankpulse/crawl"
	"github.com/teranos/rankpulse/db"
	"github.com/teranos/rankpulse/errors"
)

// Store handles persistence of crawl definitions
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new schedule store
func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn, now: time.Now}
}

const definitionColumns = `id, tenant_id, job_type, time_of_day, weekdays, enabled, config,
	last_run_at, last_run_status, created_at, updated_at`

// CreateDefinition validates and inserts def. An empty ID is filled in.
func (s *Store) CreateDefinition(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	now := s.now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crawl_schedules (`+definitionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID,
		def.TenantID,
		string(def.JobType),
		def.TimeOfDay,
		FormatWeekdays(def.Weekdays),
		def.Enabled,
		string(def.Config),
		db.NullTime(def.LastRunAt),
		nullStatus(def.LastRunStatus),
		db.FormatTime(now),
		db.FormatTime(now),
	)
	if err != nil {
		return errors.WithDetailf(errors.Wrap(err, "failed to create definition"), "Definition ID: %s", def.ID)
	}
	return nil
}

// GetDefinition retrieves a definition by ID
func (s *Store) GetDefinition(ctx context.Context, id string) (*Definition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+definitionColumns+` FROM crawl_schedules WHERE id = ?`, id)
	def, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("definition %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get definition %s", id)
	}
	return def, nil
}

// UpdateDefinition rewrites the trigger, config and enabled flag of def.
// Bookkeeping columns are left alone.
func (s *Store) UpdateDefinition(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	def.UpdatedAt = s.now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE crawl_schedules
		SET job_type = ?, time_of_day = ?, weekdays = ?, enabled = ?, config = ?, updated_at = ?
		WHERE id = ?`,
		string(def.JobType),
		def.TimeOfDay,
		FormatWeekdays(def.Weekdays),
		def.Enabled,
		string(def.Config),
		db.FormatTime(def.UpdatedAt),
		def.ID,
	)
	if err != nil {
		return errors.WithDetailf(errors.Wrap(err, "failed to update definition"), "Definition ID: %s", def.ID)
	}
	return requireRow(res, def.ID)
}

// SetEnabled toggles a definition. Disabling is the only form of deletion.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_schedules SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, db.FormatTime(s.now()), id)
	if err != nil {
		return errors.Wrapf(err, "failed to set enabled=%t on definition %s", enabled, id)
	}
	return requireRow(res, id)
}

// ListEnabled returns every enabled definition across tenants.
func (s *Store) ListEnabled(ctx context.Context) ([]*Definition, error) {
	return s.list(ctx, `SELECT `+definitionColumns+` FROM crawl_schedules WHERE enabled = 1 ORDER BY time_of_day, id`)
}

// ListAll returns every definition, enabled or not.
func (s *Store) ListAll(ctx context.Context) ([]*Definition, error) {
	return s.list(ctx, `SELECT `+definitionColumns+` FROM crawl_schedules ORDER BY tenant_id, job_type, time_of_day`)
}

// ListByTenant returns a tenant's definitions, enabled or not.
func (s *Store) ListByTenant(ctx context.Context, tenantID string) ([]*Definition, error) {
	return s.list(ctx, `SELECT `+definitionColumns+` FROM crawl_schedules WHERE tenant_id = ? ORDER BY job_type, time_of_day`, tenantID)
}

// MarkStarted stamps last_run_at when a scheduled run begins, so a later
// tick within the same minute does not find the definition due again.
func (s *Store) MarkStarted(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_schedules SET last_run_at = ?, updated_at = ? WHERE id = ?`,
		db.FormatTime(at), db.FormatTime(s.now()), id)
	if err != nil {
		return errors.Wrapf(err, "failed to mark definition %s started", id)
	}
	return requireRow(res, id)
}

// RecordRun stores the outcome of a finished run.
func (s *Store) RecordRun(ctx context.Context, id string, at time.Time, status LastRunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_schedules SET last_run_at = ?, last_run_status = ?, updated_at = ? WHERE id = ?`,
		db.FormatTime(at), nullStatus(status), db.FormatTime(s.now()), id)
	if err != nil {
		return errors.Wrapf(err, "failed to record run on definition %s", id)
	}
	return requireRow(res, id)
}

func (s *Store) list(ctx context.Context, query string, args ...interface{}) ([]*Definition, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query definitions")
	}
	defer rows.Close()

	var defs []*Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan definition")
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDefinition(row rowScanner) (*Definition, error) {
	var def Definition
	var jobType, weekdays, config, createdAt, updatedAt string
	var lastRunAt, lastRunStatus sql.NullString

	if err := row.Scan(
		&def.ID,
		&def.TenantID,
		&jobType,
		&def.TimeOfDay,
		&weekdays,
		&def.Enabled,
		&config,
		&lastRunAt,
		&lastRunStatus,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	def.JobType = crawl.JobType(jobType)
	def.Config = json.RawMessage(config)
	def.LastRunStatus = LastRunStatus(lastRunStatus.String)

	var err error
	if def.Weekdays, err = parseStoredWeekdays(weekdays); err != nil {
		return nil, errors.Wrapf(err, "definition %s", def.ID)
	}
	if def.LastRunAt, err = db.ParseNullTime(lastRunAt); err != nil {
		return nil, errors.Wrapf(err, "last_run_at of definition %s", def.ID)
	}
	if def.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, errors.Wrapf(err, "created_at of definition %s", def.ID)
	}
	if def.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "updated_at of definition %s", def.ID)
	}
	return &def, nil
}

func parseStoredWeekdays(s string) ([]time.Weekday, error) {
	if s == "" {
		return nil, nil
	}
	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid stored weekdays %q", s)
		}
		days = append(days, time.Weekday(n))
	}
	return days, nil
}

func nullStatus(status LastRunStatus) interface{} {
	if status == LastRunNone {
		return nil
	}
	return string(status)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundError("definition %s", id)
	}
	return nil
}
