package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	_ "modernc.org/sqlite"

	"rag-portal/internal/config"
)

// Supported database drivers.
const (
	DriverPG     = "pgdriver"
	DriverPQ     = "pq"
	DriverSQLite = "sqlite"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDatabase          = errors.New("database error")
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)

// ConnectDB opens the configured database without touching it.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverPG:
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	case DriverPQ, "postgres":
		return sql.Open("postgres", cfg.DSN)
	case DriverSQLite:
		sqldb, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, err
		}
		// sqlite allows a single writer; in-memory databases are per connection
		sqldb.SetMaxOpenConns(1)
		if _, err := sqldb.Exec("PRAGMA foreign_keys = ON"); err != nil {
			sqldb.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
		return sqldb, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}
}

// NewDB wraps sqldb in bun with the dialect of driver.
func NewDB(sqldb *sql.DB, driver string, debug bool) *bun.DB {
	var db *bun.DB
	if strings.EqualFold(driver, DriverSQLite) {
		db = bun.NewDB(sqldb, sqlitedialect.New())
	} else {
		db = bun.NewDB(sqldb, pgdialect.New())
	}
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// Open connects and wraps in one step.
func Open(cfg *config.DatabaseConfig) (*bun.DB, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return NewDB(sqldb, cfg.Driver, cfg.Debug), nil
}

// InitDB creates the users and chat_logs tables. A positive vectorDim also
// creates the pgvector documents table; it is ignored on sqlite.
func InitDB(ctx context.Context, db *bun.DB, vectorDim int) error {
	if _, err := db.NewCreateTable().Model((*User)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create users: %w", err)
	}
	if _, err := db.NewCreateTable().
		Model((*ChatLog)(nil)).
		IfNotExists().
		ForeignKey(`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("create chat_logs: %w", err)
	}
	if _, err := db.NewCreateIndex().
		Model((*ChatLog)(nil)).
		Index("chat_logs_user_thread_idx").
		IfNotExists().
		Column("user_id", "thread", "created_at").
		Exec(ctx); err != nil {
		return fmt.Errorf("create chat_logs index: %w", err)
	}

	if vectorDim > 0 && isPostgres(db) {
		if err := initDocuments(ctx, db, vectorDim); err != nil {
			return err
		}
	}
	return nil
}

func isPostgres(db *bun.DB) bool {
	_, ok := db.Dialect().(*pgdialect.Dialect)
	return ok
}

// storeErr maps sql.ErrNoRows to ErrNotFound and marks every other query
// failure with ErrDatabase.
func storeErr(err error) error {
	switch {
	case err == nil, errors.Is(err, ErrNotFound), errors.Is(err, ErrDatabase):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	default:
		return fmt.Errorf("%w: %w", ErrDatabase, err)
	}
}
