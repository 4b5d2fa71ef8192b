// Package database opens the SQL connection pool, applies embedded schema
// migrations and runs units of work. Postgres (lib/pq) and SQLite
// (modernc.org/sqlite) share one set of queries written with "?" bind
// variables and rebound per driver by sqlx.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"regdesk/internal/platform/config"
	dErrors "regdesk/pkg/domain-errors"
	"regdesk/pkg/platform/tx"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

const defaultTxTimeout = 5 * time.Second

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*sqlx.DB, error) {
	var (
		driver string
		dsn    = cfg.URL
	)
	switch cfg.Driver {
	case config.DriverPostgres:
		driver = "postgres"
	case config.DriverSQLite:
		driver = "sqlite"
		dsn = sqliteDSN(cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == config.DriverSQLite {
		// One writer at a time; transactions hold the only connection.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	log.Info("connected to database", zap.String("driver", cfg.Driver))
	return db, nil
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") || strings.Contains(path, "?") {
		return path
	}
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
}

// Migrate applies all pending up migrations for db's dialect.
func Migrate(db *sqlx.DB, log *zap.Logger) error {
	m, dialect, err := newMigrator(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run %s migrations: %w", dialect, err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	log.Info("database schema up to date",
		zap.String("dialect", dialect),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

// MigrateDown rolls back the given number of migrations.
func MigrateDown(db *sqlx.DB, steps int) error {
	m, _, err := newMigrator(db)
	if err != nil {
		return err
	}
	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("roll back %d migrations: %w", steps, err)
	}
	return nil
}

func newMigrator(db *sqlx.DB) (*migrate.Migrate, string, error) {
	dialect := db.DriverName()
	src, err := iofs.New(migrationsFS, "migrations/"+dialect)
	if err != nil {
		return nil, dialect, fmt.Errorf("load %s migrations: %w", dialect, err)
	}

	var m *migrate.Migrate
	switch dialect {
	case "postgres":
		driver, derr := migratepg.WithInstance(db.DB, &migratepg.Config{})
		if derr != nil {
			return nil, dialect, fmt.Errorf("postgres migrate driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "regdesk", driver)
	case "sqlite":
		driver, derr := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
		if derr != nil {
			return nil, dialect, fmt.Errorf("sqlite migrate driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "regdesk", driver)
	default:
		return nil, dialect, fmt.Errorf("no migrations for driver %q", dialect)
	}
	if err != nil {
		return nil, dialect, fmt.Errorf("create migrator: %w", err)
	}
	return m, dialect, nil
}

// TxRunner runs units of work in a single SQL transaction carried through ctx.
type TxRunner struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewTxRunner(db *sqlx.DB, timeout time.Duration) *TxRunner {
	if timeout <= 0 {
		timeout = defaultTxTimeout
	}
	return &TxRunner{db: db, timeout: timeout}
}

// RunInTx commits when fn returns nil and rolls back otherwise. Calls nested
// inside an open transaction join it.
func (t *TxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := tx.From(ctx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	txn, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = txn.Rollback()
	}()

	if err := fn(tx.WithTx(ctx, txn)); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Execer returns the transaction in ctx, or db when there is none.
func Execer(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if txn, ok := tx.From(ctx); ok {
		return txn
	}
	return db
}

// IsUniqueViolation reports whether err is a unique constraint failure on
// either supported driver.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
