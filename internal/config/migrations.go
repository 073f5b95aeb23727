package config

import (
	"fmt"
	"strings"
)

func (s *Store) migrate() error {
	var migrations []string
	switch s.dialect {
	case DialectPostgres:
		migrations = postgresMigrations
	case DialectMySQL:
		migrations = mysqlMigrations
	default:
		migrations = sqliteMigrations
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// ADD COLUMN fails if the column already exists; treat
			// "duplicate column" as a no-op for idempotent migrations.
			if strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS credentials (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		key_prefix TEXT NOT NULL,
		secret_hash TEXT UNIQUE NOT NULL,
		scopes_json TEXT NOT NULL DEFAULT '[]',
		environment_mode TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		expires_at DATETIME,
		last_used_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_credentials_owner ON credentials(owner_id, created_at)`,

	// window_start is unix seconds so the composite key compares exactly.
	`CREATE TABLE IF NOT EXISTS quota_windows (
		caller_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		environment_mode TEXT NOT NULL,
		window_start INTEGER NOT NULL,
		calls_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (caller_id, endpoint, environment_mode, window_start)
	)`,

	`CREATE TABLE IF NOT EXISTS rate_limit_rules (
		endpoint TEXT NOT NULL,
		environment_mode TEXT NOT NULL,
		max_per_minute INTEGER NOT NULL,
		max_per_hour INTEGER NOT NULL DEFAULT 0,
		max_per_day INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (endpoint, environment_mode)
	)`,

	`CREATE TABLE IF NOT EXISTS profiles (
		caller_id TEXT PRIMARY KEY,
		environment_mode TEXT NOT NULL DEFAULT 'sandbox',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS credentials (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		key_prefix TEXT NOT NULL,
		secret_hash TEXT UNIQUE NOT NULL,
		scopes_json TEXT NOT NULL DEFAULT '[]',
		environment_mode TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		expires_at TIMESTAMPTZ,
		last_used_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_credentials_owner ON credentials(owner_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS quota_windows (
		caller_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		environment_mode TEXT NOT NULL,
		window_start BIGINT NOT NULL,
		calls_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (caller_id, endpoint, environment_mode, window_start)
	)`,

	`CREATE TABLE IF NOT EXISTS rate_limit_rules (
		endpoint TEXT NOT NULL,
		environment_mode TEXT NOT NULL,
		max_per_minute INTEGER NOT NULL,
		max_per_hour INTEGER NOT NULL DEFAULT 0,
		max_per_day INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (endpoint, environment_mode)
	)`,

	`CREATE TABLE IF NOT EXISTS profiles (
		caller_id TEXT PRIMARY KEY,
		environment_mode TEXT NOT NULL DEFAULT 'sandbox',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes are declared inline.
var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS credentials (
		id VARCHAR(64) PRIMARY KEY,
		owner_id VARCHAR(191) NOT NULL,
		name VARCHAR(400) NOT NULL,
		key_prefix VARCHAR(32) NOT NULL,
		secret_hash CHAR(64) NOT NULL UNIQUE,
		scopes_json TEXT NOT NULL,
		environment_mode VARCHAR(16) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		expires_at DATETIME(6) NULL,
		last_used_at DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL,
		INDEX idx_credentials_owner (owner_id, created_at)
	)`,

	`CREATE TABLE IF NOT EXISTS quota_windows (
		caller_id VARCHAR(191) NOT NULL,
		endpoint VARCHAR(128) NOT NULL,
		environment_mode VARCHAR(16) NOT NULL,
		window_start BIGINT NOT NULL,
		calls_count INT NOT NULL DEFAULT 0,
		PRIMARY KEY (caller_id, endpoint, environment_mode, window_start)
	)`,

	`CREATE TABLE IF NOT EXISTS rate_limit_rules (
		endpoint VARCHAR(128) NOT NULL,
		environment_mode VARCHAR(16) NOT NULL,
		max_per_minute INT NOT NULL,
		max_per_hour INT NOT NULL DEFAULT 0,
		max_per_day INT NOT NULL DEFAULT 0,
		PRIMARY KEY (endpoint, environment_mode)
	)`,

	`CREATE TABLE IF NOT EXISTS profiles (
		caller_id VARCHAR(191) PRIMARY KEY,
		environment_mode VARCHAR(16) NOT NULL DEFAULT 'sandbox',
		updated_at DATETIME(6) NOT NULL
	)`,
}
