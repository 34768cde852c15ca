package store

import (
	"database/sql"
	"errors"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Connection pool settings for PostgreSQL. Webhook bursts from many tenants
// share one pool.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a Store backed by PostgreSQL, for multi-instance
// deployments.
type PostgresStore struct {
	sqlStore
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the DSN given by WithPostgresDSN and applies
// the schema.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, errors.New("postgres store: DSN not set")
	}

	db, err := openAndMigrate("PostgresStore", "postgres", cfg.DSN, postgresMigrations, func(db *sql.DB) {
		db.SetMaxOpenConns(DefaultMaxOpenConns)
		db.SetMaxIdleConns(DefaultMaxIdleConns)
		db.SetConnMaxLifetime(DefaultConnMaxLifetime)
	})
	if err != nil {
		slog.Error("NewPostgresStore failed", "error", err)
		return nil, err
	}
	return &PostgresStore{sqlStore{db: db, name: "PostgresStore", numbered: true}}, nil
}
