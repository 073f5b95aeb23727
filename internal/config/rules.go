package config

import (
	"context"
	"fmt"

	"github.com/faucetdb/quotakey/internal/model"
)

const ruleColumns = `endpoint, environment_mode, max_per_minute, max_per_hour, max_per_day`

// RulesFor returns the rate limit rules configured for mode, ordered by
// endpoint name.
func (s *Store) RulesFor(ctx context.Context, mode model.EnvironmentMode) ([]model.RateLimitRule, error) {
	q := s.db.Rebind(`SELECT ` + ruleColumns + ` FROM rate_limit_rules
		WHERE environment_mode = ? ORDER BY endpoint`)

	var rules []model.RateLimitRule
	if err := s.db.SelectContext(ctx, &rules, q, string(mode)); err != nil {
		return nil, fmt.Errorf("list rate limit rules: %w", err)
	}
	return rules, nil
}

// ListRules returns every configured rule across both environments.
func (s *Store) ListRules(ctx context.Context) ([]model.RateLimitRule, error) {
	var rules []model.RateLimitRule
	if err := s.db.SelectContext(ctx, &rules,
		`SELECT `+ruleColumns+` FROM rate_limit_rules ORDER BY environment_mode, endpoint`); err != nil {
		return nil, fmt.Errorf("list rate limit rules: %w", err)
	}
	return rules, nil
}

// CountRules returns the number of configured rules.
func (s *Store) CountRules(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM rate_limit_rules"); err != nil {
		return 0, fmt.Errorf("count rate limit rules: %w", err)
	}
	return n, nil
}

// UpsertRule inserts or replaces the rule for (endpoint, environment_mode).
func (s *Store) UpsertRule(ctx context.Context, rule model.RateLimitRule) error {
	var q string
	switch s.dialect {
	case DialectMySQL:
		q = `INSERT INTO rate_limit_rules (` + ruleColumns + `)
			VALUES (:endpoint, :environment_mode, :max_per_minute, :max_per_hour, :max_per_day)
			ON DUPLICATE KEY UPDATE
			max_per_minute = VALUES(max_per_minute),
			max_per_hour = VALUES(max_per_hour),
			max_per_day = VALUES(max_per_day)`
	default:
		q = `INSERT INTO rate_limit_rules (` + ruleColumns + `)
			VALUES (:endpoint, :environment_mode, :max_per_minute, :max_per_hour, :max_per_day)
			ON CONFLICT (endpoint, environment_mode) DO UPDATE SET
			max_per_minute = excluded.max_per_minute,
			max_per_hour = excluded.max_per_hour,
			max_per_day = excluded.max_per_day`
	}

	if _, err := s.db.NamedExecContext(ctx, q, rule); err != nil {
		return fmt.Errorf("upsert rate limit rule: %w", err)
	}
	return nil
}

// ReplaceRules swaps the full rule table for rules within a transaction.
func (s *Store) ReplaceRules(ctx context.Context, rules []model.RateLimitRule) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM rate_limit_rules"); err != nil {
		return fmt.Errorf("delete existing rules: %w", err)
	}

	const insertQ = `INSERT INTO rate_limit_rules (` + ruleColumns + `)
		VALUES (:endpoint, :environment_mode, :max_per_minute, :max_per_hour, :max_per_day)`

	for _, r := range rules {
		if _, err := tx.NamedExecContext(ctx, insertQ, r); err != nil {
			return fmt.Errorf("insert rate limit rule %s/%s: %w", r.EnvironmentMode, r.Endpoint, err)
		}
	}

	return tx.Commit()
}

// DeleteRule removes the rule for (endpoint, mode).
func (s *Store) DeleteRule(ctx context.Context, endpoint string, mode model.EnvironmentMode) error {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("DELETE FROM rate_limit_rules WHERE endpoint = ? AND environment_mode = ?"),
		endpoint, string(mode))
	if err != nil {
		return fmt.Errorf("delete rate limit rule: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rate limit rule rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
