package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/faucetdb/quotakey/internal/model"
)

// CheckAndIncrement atomically increments the quota window for
// (callerID, endpoint, mode, windowStart) if its count is below maxAllowed.
// The row is created on the first call of a window. Concurrent callers can
// never jointly push the count past maxAllowed because the comparison and the
// increment happen inside a single statement.
func (s *Store) CheckAndIncrement(ctx context.Context, callerID, endpoint string, mode model.EnvironmentMode, windowStart time.Time, maxAllowed int) (model.QuotaResult, error) {
	ws := windowStart.UTC().Unix()

	if maxAllowed <= 0 {
		current, err := s.quotaCount(ctx, callerID, endpoint, mode, ws)
		if err != nil {
			return model.QuotaResult{}, err
		}
		return model.QuotaResult{Allowed: false, Count: current}, nil
	}

	if s.dialect == DialectMySQL {
		return s.checkAndIncrementMySQL(ctx, callerID, endpoint, mode, ws, maxAllowed)
	}

	q := s.db.Rebind(`INSERT INTO quota_windows
		(caller_id, endpoint, environment_mode, window_start, calls_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT (caller_id, endpoint, environment_mode, window_start)
		DO UPDATE SET calls_count = quota_windows.calls_count + 1
		WHERE quota_windows.calls_count < ?
		RETURNING calls_count`)

	var count int
	err := s.db.QueryRowxContext(ctx, q, callerID, endpoint, string(mode), ws, maxAllowed).Scan(&count)
	switch {
	case err == nil:
		return model.QuotaResult{Allowed: true, Count: count - 1}, nil
	case errors.Is(err, sql.ErrNoRows):
		// The conditional update matched nothing: the window is full.
		current, err := s.quotaCount(ctx, callerID, endpoint, mode, ws)
		if err != nil {
			return model.QuotaResult{}, err
		}
		return model.QuotaResult{Allowed: false, Count: current}, nil
	default:
		return model.QuotaResult{}, fmt.Errorf("increment quota window: %w", err)
	}
}

// checkAndIncrementMySQL uses ON DUPLICATE KEY UPDATE. Rows affected is 1
// for an insert, 2 for an update and 0 when the IF() left the row unchanged.
// LAST_INSERT_ID(expr) hands back the post-increment count.
func (s *Store) checkAndIncrementMySQL(ctx context.Context, callerID, endpoint string, mode model.EnvironmentMode, ws int64, maxAllowed int) (model.QuotaResult, error) {
	const q = `INSERT INTO quota_windows
		(caller_id, endpoint, environment_mode, window_start, calls_count)
		VALUES (?, ?, ?, ?, 1)
		ON DUPLICATE KEY UPDATE
		calls_count = IF(calls_count < ?, LAST_INSERT_ID(calls_count + 1), calls_count)`

	result, err := s.db.ExecContext(ctx, q, callerID, endpoint, string(mode), ws, maxAllowed)
	if err != nil {
		return model.QuotaResult{}, fmt.Errorf("increment quota window: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return model.QuotaResult{}, fmt.Errorf("increment quota window rows affected: %w", err)
	}

	switch n {
	case 1:
		return model.QuotaResult{Allowed: true, Count: 0}, nil
	case 2:
		after, err := result.LastInsertId()
		if err != nil {
			return model.QuotaResult{}, fmt.Errorf("increment quota window count: %w", err)
		}
		return model.QuotaResult{Allowed: true, Count: int(after) - 1}, nil
	default:
		current, err := s.quotaCount(ctx, callerID, endpoint, mode, ws)
		if err != nil {
			return model.QuotaResult{}, err
		}
		return model.QuotaResult{Allowed: false, Count: current}, nil
	}
}

func (s *Store) quotaCount(ctx context.Context, callerID, endpoint string, mode model.EnvironmentMode, ws int64) (int, error) {
	q := s.db.Rebind(`SELECT calls_count FROM quota_windows
		WHERE caller_id = ? AND endpoint = ? AND environment_mode = ? AND window_start = ?`)

	var count int
	if err := s.db.GetContext(ctx, &count, q, callerID, endpoint, string(mode), ws); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read quota window: %w", err)
	}
	return count, nil
}

// GetQuotaWindow returns the quota window for the given key, or ErrNotFound
// if no call has been recorded in it.
func (s *Store) GetQuotaWindow(ctx context.Context, callerID, endpoint string, mode model.EnvironmentMode, windowStart time.Time) (*model.QuotaWindow, error) {
	ws := windowStart.UTC().Unix()
	q := s.db.Rebind(`SELECT calls_count FROM quota_windows
		WHERE caller_id = ? AND endpoint = ? AND environment_mode = ? AND window_start = ?`)

	var count int
	if err := s.db.GetContext(ctx, &count, q, callerID, endpoint, string(mode), ws); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get quota window: %w", err)
	}
	return &model.QuotaWindow{
		CallerID:        callerID,
		Endpoint:        endpoint,
		EnvironmentMode: mode,
		WindowStart:     time.Unix(ws, 0).UTC(),
		CallsCount:      count,
	}, nil
}

// PruneQuotaWindows deletes windows that started before the given time and
// returns how many were removed. Stale windows are never read by the
// limiter, so this is purely housekeeping.
func (s *Store) PruneQuotaWindows(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("DELETE FROM quota_windows WHERE window_start < ?"), before.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("prune quota windows: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune quota windows rows affected: %w", err)
	}
	return n, nil
}
