package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/rankpulse/errors"
	"github.com/teranos/rankpulse/sym"
)

// SQLiteBusyTimeoutMS is how long a writer waits on a locked database.
const SQLiteBusyTimeoutMS = 5000

// Open opens a SQLite database at the specified path with WAL, foreign keys
// and a busy timeout. If logger is provided, logs database operations;
// otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path, "symbol", sym.DB)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}

	pragmas := []struct {
		stmt string
		what string
	}{
		{"PRAGMA journal_mode = WAL", "enable WAL mode"},
		{"PRAGMA foreign_keys = ON", "enable foreign keys"},
		{"PRAGMA busy_timeout = 5000", "set busy timeout"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to %s", p.what)
		}
	}

	if logger != nil {
		logger.Infow("Database opened",
			"path", path,
			"symbol", sym.DB,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return db, nil
}

// OpenWithMigrations opens the database and applies pending migrations.
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	return db, nil
}
