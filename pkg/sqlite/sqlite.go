package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const driverName = "sqlite3"

type DB struct {
	*sqlx.DB
	path   string
	logger *zap.Logger
}

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// DSN enables foreign keys and WAL and lets the file lock wait instead of
// failing immediately when another process holds it.
func (c Config) DSN() string {
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	return fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on", c.Path, busy.Milliseconds())
}

// Open connects to the local database file. The pool is pinned to a single
// connection: every statement of the SDK goes through the same handle.
func Open(ctx context.Context, config Config, logger *zap.Logger) (*DB, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}

	db, err := sqlx.Open(driverName, config.DSN())
	if err != nil {
		return nil, fmt.Errorf("could not open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not ping sqlite: %w", err)
	}

	logger.Info("SQLite opened", zap.String("path", config.Path))

	return &DB{
		DB:     db,
		path:   config.Path,
		logger: logger,
	}, nil
}

// Wrap adopts an already opened handle, used by tests running against sqlmock.
func Wrap(db *sqlx.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, path: "", logger: logger}
}

func (db *DB) Path() string {
	return db.path
}

func (db *DB) Close() error {
	err := db.DB.Close()
	if err != nil {
		db.logger.Error("could not close database", zap.Error(err))
		return fmt.Errorf("could not close sqlite connection: %w", err)
	}
	db.logger.Info("sqlite connection closed", zap.String("path", db.path))
	return nil
}

func (db *DB) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}
