package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenWithMigrations(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{
		"schema_migrations", "tenants", "keywords", "pages", "competitors",
		"rankings", "page_checks", "backlinks", "crawl_schedules", "crawl_runs", "settings",
	} {
		var n int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s should exist", table)
	}

	versions, err := AppliedVersions(db)
	require.NoError(t, err)
	files, err := migrationFiles()
	require.NoError(t, err)
	assert.Len(t, versions, len(files))
	assert.Equal(t, "000", versions[0])
}

func TestMigrateIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenWithMigrations(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db, nil))

	versions, err := AppliedVersions(db)
	require.NoError(t, err)
	files, err := migrationFiles()
	require.NoError(t, err)
	assert.Len(t, versions, len(files))
}

func TestRunStatusConstraint(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	now := FormatTime(time.Now())
	_, err = db.Exec(`INSERT INTO crawl_runs (id, tenant_id, job_type, trigger, status, started_at, updated_at)
		VALUES ('r1', 't1', 'rank-check', 'manual', 'exploded', ?, ?)`, now, now)
	assert.Error(t, err, "unknown status must be rejected by the schema")
}

func TestTimeRoundTrip(t *testing.T) {
	in := time.Date(2026, 3, 4, 9, 0, 1, 5000, time.FixedZone("CET", 3600))
	out, err := ParseTime(FormatTime(in))
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
	assert.Equal(t, time.UTC, out.Location())

	legacy, err := ParseTime("2026-03-04T08:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 8, legacy.Hour())

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}

func TestTimeLayoutSortsLexically(t *testing.T) {
	a := FormatTime(time.Date(2026, 1, 1, 0, 0, 0, 900000000, time.UTC))
	b := FormatTime(time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC))
	assert.Less(t, a, b)
}
