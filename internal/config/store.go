package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL engine behind a Store. The atomic quota
// increment and upserts are written per dialect.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// driverName maps a dialect to the database/sql driver registered for it.
func (d Dialect) driverName() (string, error) {
	switch d {
	case DialectSQLite:
		return "sqlite", nil
	case DialectPostgres:
		return "pgx", nil
	case DialectMySQL:
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported store driver %q (want sqlite, postgres or mysql)", d)
	}
}

// Store is the durable record and counter store shared by every quotakey
// instance. It persists credentials, caller profiles, rate limit rules and
// quota windows.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
}

// sqliteFileParams are applied to every connection of a file-backed store.
// Several processes (serve, key, mcp) may share one database file, so writers
// wait on the lock instead of failing with SQLITE_BUSY, and transactions take
// the write lock up front.
const sqliteFileParams = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"

// NewStore opens the embedded SQLite store under dataDir. Pass empty string
// for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "quotakey.db") + sqliteFileParams
	}
	return Open(DialectSQLite, dsn)
}

// Open connects to the store identified by dialect and dsn and applies
// migrations.
func Open(dialect Dialect, dsn string) (*Store, error) {
	driver, err := dialect.driverName()
	if err != nil {
		return nil, err
	}

	if dialect == DialectMySQL {
		dsn, err = normalizeMySQLDSN(dsn)
		if err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", dialect, err)
	}

	switch dialect {
	case DialectSQLite:
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s store: %w", dialect, err)
	}
	return s, nil
}

// normalizeMySQLDSN forces the options the store relies on: DATETIME columns
// scanned into time.Time, in UTC.
func normalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// Dialect returns the SQL engine behind the store.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
