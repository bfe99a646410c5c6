package commands

import (
	"database/sql"

	"github.com/teranos/rankpulse/am"
	"github.com/teranos/rankpulse/db"
	"github.com/teranos/rankpulse/errors"
	"github.com/teranos/rankpulse/logger"
)

// openDatabase opens and migrates the database. An empty dbPath uses
// database.path from config.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		cfg, err := am.Load()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load config")
		}
		dbPath = cfg.GetDatabasePath()
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}
