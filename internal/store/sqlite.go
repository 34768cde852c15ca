package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// sqliteDSNParams are appended to a DSN that sets neither of them.
const sqliteDSNParams = "_busy_timeout=5000&_foreign_keys=on"

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a Store backed by a single SQLite database file, for
// single-instance deployments.
type SQLiteStore struct {
	sqlStore
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database file given by
// WithSQLiteDSN. The DSN may be a plain path or a file: URI.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, errors.New("sqlite store: DSN not set")
	}

	path := strings.TrimPrefix(strings.SplitN(cfg.DSN, "?", 2)[0], "file:")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite store: create database directory: %w", err)
	}

	db, err := openAndMigrate("SQLiteStore", "sqlite3", withSQLiteParams(cfg.DSN), sqliteMigrations, func(db *sql.DB) {
		// one writer at a time
		db.SetMaxOpenConns(1)
	})
	if err != nil {
		slog.Error("NewSQLiteStore failed", "error", err, "path", path)
		return nil, err
	}
	return &SQLiteStore{sqlStore{db: db, name: "SQLiteStore"}}, nil
}

func withSQLiteParams(dsn string) string {
	if strings.Contains(dsn, "_busy_timeout") || strings.Contains(dsn, "_foreign_keys") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqliteDSNParams
	}
	return dsn + "?" + sqliteDSNParams
}
