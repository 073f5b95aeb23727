package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/faucetdb/quotakey/internal/model"
)

// GetEnvironmentMode returns the environment mode recorded in the caller's
// profile, or ErrNotFound if the caller has no profile.
func (s *Store) GetEnvironmentMode(ctx context.Context, callerID string) (model.EnvironmentMode, error) {
	var mode string
	err := s.db.GetContext(ctx, &mode,
		s.db.Rebind("SELECT environment_mode FROM profiles WHERE caller_id = ?"), callerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get profile: %w", err)
	}
	return model.EnvironmentMode(mode), nil
}

// SetEnvironmentMode creates or updates the caller's profile.
func (s *Store) SetEnvironmentMode(ctx context.Context, callerID string, mode model.EnvironmentMode) error {
	now := time.Now().UTC()

	var q string
	switch s.dialect {
	case DialectMySQL:
		q = `INSERT INTO profiles (caller_id, environment_mode, updated_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE environment_mode = VALUES(environment_mode), updated_at = VALUES(updated_at)`
	default:
		q = s.db.Rebind(`INSERT INTO profiles (caller_id, environment_mode, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (caller_id) DO UPDATE SET
			environment_mode = excluded.environment_mode, updated_at = excluded.updated_at`)
	}

	if _, err := s.db.ExecContext(ctx, q, callerID, string(mode), now); err != nil {
		return fmt.Errorf("set profile: %w", err)
	}
	return nil
}
