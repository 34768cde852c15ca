package store

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// openAndMigrate opens driver/dsn, applies pool settings, checks the
// connection and runs the embedded schema. The schema is idempotent.
func openAndMigrate(name, driver, dsn, schema string, pool func(*sql.DB)) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", name, err)
	}
	if pool != nil {
		pool(db)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: ping: %w", name, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: migrate: %w", name, err)
	}
	slog.Debug("store.openAndMigrate: schema applied", "store", name)
	return db, nil
}

// nilIfEmpty maps "" to NULL for nullable columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
