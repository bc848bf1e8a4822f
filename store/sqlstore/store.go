// Package sqlstore provides a store.Repository backed by SQLite or PostgreSQL.
//
// The dialect is taken from the sqlx driver name ("sqlite3" or "postgres").
// Connect applies the embedded schema migrations with golang-migrate before
// the store accepts reads and writes.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rbaliyan/inbox/store"
	"github.com/rbaliyan/inbox/store/sqlstore/migrations"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Compile-time check
var (
	_ store.Repository     = (*Store)(nil)
	_ store.SnapshotWriter = (*Store)(nil)
)

// ErrUnsupportedDriver is returned for a database driver other than sqlite3
// or postgres.
var ErrUnsupportedDriver = errors.New("sqlstore: unsupported driver")

// Store implements store.Repository on a SQL database.
type Store struct {
	db        *sqlx.DB
	ownsDB    bool
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a store on the provided database connection.
// Call Connect() to apply migrations.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a store from a standard sql.DB connection opened with
// driverName.
func NewFromDB(db *sql.DB, driverName string, opts ...Option) *Store {
	return New(sqlx.NewDb(db, driverName), opts...)
}

// Open opens a database and returns a store that owns it. For sqlite3 the
// dsn is a file path; WAL mode and a busy timeout are enabled.
func Open(driverName, dsn string, opts ...Option) (*Store, error) {
	if driverName == DriverSQLite && !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driverName, err)
	}
	if driverName == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	s := New(db, opts...)
	s.ownsDB = true
	return s, nil
}

// Connect pings the database and applies pending migrations.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("sqlstore: db is required")
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(pctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("sqlstore ping: %w", err)
	}

	version, err := s.migrate()
	if err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return err
	}

	s.logger.Info("connected to SQL inbox store", "driver", s.db.DriverName(), "schema_version", version)
	return nil
}

// Close marks the store as disconnected. The database is closed only when
// the store was created by Open.
func (s *Store) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 1, 0) {
		return nil
	}
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// migrate applies the embedded migrations for the store's dialect and
// returns the resulting schema version. The migrate instance is not closed:
// closing it would close the shared database handle.
func (s *Store) migrate() (uint, error) {
	dialect := s.db.DriverName()

	var (
		driver migratedb.Driver
		err    error
	)
	switch dialect {
	case DriverSQLite:
		driver, err = migratesqlite.WithInstance(s.db.DB, &migratesqlite.Config{
			MigrationsTable: s.opts.migrationsTable,
		})
	case DriverPostgres:
		driver, err = migratepg.WithInstance(s.db.DB, &migratepg.Config{
			MigrationsTable: s.opts.migrationsTable,
		})
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedDriver, dialect)
	}
	if err != nil {
		return 0, fmt.Errorf("migration driver: %w", err)
	}

	source, err := iofs.New(migrations.FS, dialect)
	if err != nil {
		return 0, fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dialect, driver)
	if err != nil {
		return 0, fmt.Errorf("migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("migration version %d is dirty", version)
	}
	return version, nil
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}
