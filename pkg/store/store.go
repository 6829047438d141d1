// Package store is the encrypted local event/decision store. A single
// SQLite connection owned by one process is the source of truth; the
// data_json payload column is encrypted at rest with a key derived from
// the configured db_key.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // register cgo-free sqlite driver
)

//go:embed migrations
var migrationsFS embed.FS

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// Store wraps the single-writer SQLite connection.
type Store struct {
	db  *sql.DB
	box *secretBox

	// mu serializes writers. SQLite allows one writer at a time; taking the
	// lock here keeps busy-timeout churn out of the hot path.
	mu sync.Mutex
}

// Open opens (creating if needed) the local database at path, applies
// pending migrations, and prepares payload encryption with dbKey. An empty
// dbKey stores payloads in the clear.
func Open(path, dbKey string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection: the writer lock above plus a single conn gives strict
	// single-writer semantics and keeps WAL readers consistent.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if dbKey != "" {
		s.box = newSecretBox(dbKey)
	}
	return s, nil
}

// runMigrations applies the embedded add-only migrations. Already-applied
// versions are skipped, making startup idempotent.
func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	drv, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the raw handle for the replicator's read queries.
func (s *Store) DB() *sql.DB { return s.db }

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
