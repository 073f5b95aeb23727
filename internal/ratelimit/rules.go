package ratelimit

import (
	"context"
	"sort"

	"github.com/faucetdb/quotakey/internal/model"
)

// Endpoint names gated by quotakey itself and the platform endpoints whose
// defaults ship with it.
const (
	EndpointManageAPIKeys = "manage-api-keys"
	EndpointRunComparison = "run-comparison"
)

// StaticRules is an in-memory RuleProvider, used for the built-in defaults
// and in tests.
type StaticRules []model.RateLimitRule

// RulesFor returns the rules for mode ordered by endpoint.
func (s StaticRules) RulesFor(_ context.Context, mode model.EnvironmentMode) ([]model.RateLimitRule, error) {
	var out []model.RateLimitRule
	for _, r := range s {
		if r.EnvironmentMode == mode {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

// DefaultRules are seeded into an empty store on first start.
func DefaultRules() []model.RateLimitRule {
	return []model.RateLimitRule{
		{Endpoint: EndpointManageAPIKeys, EnvironmentMode: model.ModeSandbox, MaxPerMinute: 30, MaxPerHour: 300, MaxPerDay: 1000},
		{Endpoint: EndpointRunComparison, EnvironmentMode: model.ModeSandbox, MaxPerMinute: 50, MaxPerHour: 500, MaxPerDay: 2000},
		{Endpoint: EndpointManageAPIKeys, EnvironmentMode: model.ModeProduction, MaxPerMinute: 60, MaxPerHour: 1000, MaxPerDay: 5000},
		{Endpoint: EndpointRunComparison, EnvironmentMode: model.ModeProduction, MaxPerMinute: 200, MaxPerHour: 5000, MaxPerDay: 50000},
	}
}
