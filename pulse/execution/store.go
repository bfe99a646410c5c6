package execution

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/rankpulse/crawl"
	"github.com/teranos/rankpulse/db"
	"github.com/teranos/rankpulse/errors"
)

// Store handles persistence of run records. Status guards live in the SQL:
// progress and terminal updates only touch rows that are still running.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new run store
func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn, now: time.Now}
}

const runColumns = `id, tenant_id, job_type, definition_id, trigger, status,
	items_total, items_processed, items_updated, stage, estimated_duration_seconds,
	message, error_count, started_at, completed_at, duration_ms, updated_at`

// Create inserts run in the running state. An empty ID is filled in.
func (s *Store) Create(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now().UTC()
	}
	if run.Stage == "" {
		run.Stage = crawl.StageInitializing
	}
	run.Status = StatusRunning
	run.UpdatedAt = run.StartedAt

	var definitionID interface{}
	if run.DefinitionID != "" {
		definitionID = run.DefinitionID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crawl_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?)`,
		run.ID,
		run.TenantID,
		string(run.JobType),
		definitionID,
		string(run.Trigger),
		string(run.Status),
		run.ItemsTotal,
		run.ItemsProcessed,
		run.ItemsUpdated,
		run.Stage,
		run.EstimatedDurationSeconds,
		run.Message,
		run.ErrorCount,
		db.FormatTime(run.StartedAt),
		db.FormatTime(run.UpdatedAt),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to create run")
		return errors.WithDetailf(err, "Run ID: %s", run.ID)
	}
	return nil
}

// Get retrieves a run by ID
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM crawl_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("run %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get run %s", id)
	}
	return run, nil
}

// UpdateProgress records stage and counts. Counts never decrease and a
// terminal run is left untouched; the return value reports whether the row
// was still running.
func (s *Store) UpdateProgress(ctx context.Context, id, stage string, processed, total int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE crawl_runs
		SET stage = ?,
			items_processed = MAX(items_processed, ?),
			items_total = MAX(items_total, ?),
			updated_at = ?
		WHERE id = ? AND status = 'running'`,
		stage, processed, total, db.FormatTime(s.now()), id)
	if err != nil {
		err = errors.Wrap(err, "failed to update progress")
		err = errors.WithDetailf(err, "Run ID: %s", id)
		return false, errors.WithDetailf(err, "Stage: %s", stage)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to check rows affected")
	}
	return n == 1, nil
}

// ReviseTotal replaces an estimated item count with the handler's real one.
// The total never drops below the items already processed.
func (s *Store) ReviseTotal(ctx context.Context, id string, total int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE crawl_runs
		SET items_total = MAX(?, items_processed),
			updated_at = ?
		WHERE id = ? AND status = 'running'`,
		total, db.FormatTime(s.now()), id)
	if err != nil {
		err = errors.Wrap(err, "failed to revise item total")
		return false, errors.WithDetailf(err, "Run ID: %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to check rows affected")
	}
	return n == 1, nil
}

// Finish moves a running record to a terminal status. It returns false when
// the run had already left the running state, e.g. stopped by an operator.
// A completed run ends with its total equal to the items processed.
func (s *Store) Finish(ctx context.Context, id string, f Finish) (bool, error) {
	if !f.Status.Terminal() {
		return false, errors.AssertionFailedf("finish with non-terminal status %q", f.Status)
	}
	if f.CompletedAt.IsZero() {
		f.CompletedAt = s.now().UTC()
	}
	completed := db.FormatTime(f.CompletedAt)

	res, err := s.db.ExecContext(ctx, `
		UPDATE crawl_runs
		SET status = ?,
			stage = ?,
			message = ?,
			error_count = ?,
			items_updated = ?,
			items_processed = MAX(items_processed, ?),
			items_total = CASE
				WHEN ? = 'completed' THEN MAX(items_processed, ?)
				WHEN ? > 0 THEN MAX(?, items_processed, ?)
				ELSE MAX(items_total, items_processed, ?) END,
			completed_at = ?,
			duration_ms = CAST(ROUND((julianday(?) - julianday(started_at)) * 86400000) AS INTEGER),
			updated_at = ?
		WHERE id = ? AND status = 'running'`,
		string(f.Status), crawl.StageDone, f.Message, f.ErrorCount, f.ItemsUpdated,
		f.ItemsProcessed,
		string(f.Status), f.ItemsProcessed,
		f.ItemsTotal, f.ItemsTotal, f.ItemsProcessed,
		f.ItemsProcessed,
		completed, completed, completed, id)
	if err != nil {
		err = errors.Wrapf(err, "failed to finish run as %s", f.Status)
		return false, errors.WithDetailf(err, "Run ID: %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to check rows affected")
	}
	return n == 1, nil
}

// MarkStopped stops a running record. Unknown runs are ErrNotFound; runs
// that already finished are ErrConflict.
func (s *Store) MarkStopped(ctx context.Context, id, message string) error {
	ok, err := s.Finish(ctx, id, Finish{Status: StatusStopped, Message: message})
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	run, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return errors.NewConflictError("run %s is already %s", id, run.Status)
}

// ListRunning returns a tenant's running runs, newest first. An empty
// tenant lists all tenants.
func (s *Store) ListRunning(ctx context.Context, tenantID string) ([]*Run, error) {
	if tenantID == "" {
		return s.list(ctx, `SELECT `+runColumns+` FROM crawl_runs
			WHERE status = 'running' ORDER BY started_at DESC`)
	}
	return s.list(ctx, `SELECT `+runColumns+` FROM crawl_runs
		WHERE tenant_id = ? AND status = 'running' ORDER BY started_at DESC`, tenantID)
}

// ListRunningByType returns the running runs for one tenant and job type
func (s *Store) ListRunningByType(ctx context.Context, tenantID string, jobType crawl.JobType) ([]*Run, error) {
	return s.list(ctx, `SELECT `+runColumns+` FROM crawl_runs
		WHERE tenant_id = ? AND job_type = ? AND status = 'running' ORDER BY started_at DESC`,
		tenantID, string(jobType))
}

// ListHistory returns a tenant's runs of any status, newest first
func (s *Store) ListHistory(ctx context.Context, tenantID string, limit, offset int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.list(ctx, `SELECT `+runColumns+` FROM crawl_runs
		WHERE tenant_id = ? ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		tenantID, limit, offset)
}

// FailOrphaned fails every running record. It is called once at startup,
// before any run can start, so no live process owns those rows.
func (s *Store) FailOrphaned(ctx context.Context) (int64, error) {
	now := db.FormatTime(s.now().UTC())
	res, err := s.db.ExecContext(ctx, `
		UPDATE crawl_runs
		SET status = 'failed',
			message = ?,
			error_count = MAX(error_count, 1),
			completed_at = ?,
			duration_ms = CAST(ROUND((julianday(?) - julianday(started_at)) * 86400000) AS INTEGER),
			updated_at = ?
		WHERE status = 'running'`,
		OrphanedMessage, now, now, now)
	if err != nil {
		return 0, errors.Wrap(err, "failed to fail orphaned runs")
	}
	return res.RowsAffected()
}

func (s *Store) list(ctx context.Context, query string, args ...interface{}) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var jobType, trigger, status, startedAt, updatedAt string
	var definitionID, completedAt sql.NullString
	var durationMS sql.NullInt64

	if err := row.Scan(
		&run.ID,
		&run.TenantID,
		&jobType,
		&definitionID,
		&trigger,
		&status,
		&run.ItemsTotal,
		&run.ItemsProcessed,
		&run.ItemsUpdated,
		&run.Stage,
		&run.EstimatedDurationSeconds,
		&run.Message,
		&run.ErrorCount,
		&startedAt,
		&completedAt,
		&durationMS,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	run.JobType = crawl.JobType(jobType)
	run.DefinitionID = definitionID.String
	run.Trigger = Trigger(trigger)
	run.Status = Status(status)
	if durationMS.Valid {
		d := durationMS.Int64
		run.DurationMS = &d
	}

	var err error
	if run.StartedAt, err = db.ParseTime(startedAt); err != nil {
		return nil, errors.Wrapf(err, "started_at of run %s", run.ID)
	}
	if run.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "updated_at of run %s", run.ID)
	}
	if run.CompletedAt, err = db.ParseNullTime(completedAt); err != nil {
		return nil, errors.Wrapf(err, "completed_at of run %s", run.ID)
	}
	return &run, nil
}
