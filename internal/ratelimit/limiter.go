// Package ratelimit decides whether a caller may invoke an endpoint in the
// current one-minute window. Rules come from a RuleProvider and consumption
// is recorded through a Counter whose check-and-increment is atomic in the
// shared store, so any number of instances can enforce the same quota.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/faucetdb/quotakey/internal/model"
)

// Window is the only enforced quota window.
const Window = time.Minute

// DefaultStoreTimeout bounds every provider and counter call.
const DefaultStoreTimeout = 2 * time.Second

var (
	// ErrConfigUnavailable wraps failures to load rate limit rules.
	ErrConfigUnavailable = errors.New("rate limit configuration unavailable")

	// ErrStoreUnavailable wraps failures of the quota counter.
	ErrStoreUnavailable = errors.New("quota store unavailable")
)

// RuleProvider returns the rules configured for an environment mode.
type RuleProvider interface {
	RulesFor(ctx context.Context, mode model.EnvironmentMode) ([]model.RateLimitRule, error)
}

// Counter performs the atomic check-and-increment for one window key.
type Counter interface {
	CheckAndIncrement(ctx context.Context, callerID, endpoint string, mode model.EnvironmentMode, windowStart time.Time, maxAllowed int) (model.QuotaResult, error)
}

// Limiter combines a RuleProvider and a Counter into allow/deny decisions.
// It fails open: when rules or counters cannot be reached the call is
// allowed and the failure is logged and counted.
type Limiter struct {
	rules        RuleProvider
	counter      Counter
	logger       *slog.Logger
	metrics      *Metrics
	now          func() time.Time
	storeTimeout time.Duration
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used to report fail-open events.
func WithLogger(l *slog.Logger) Option {
	return func(lim *Limiter) { lim.logger = l }
}

// WithMetrics sets the Prometheus collectors decisions are recorded in.
func WithMetrics(m *Metrics) Option {
	return func(lim *Limiter) { lim.metrics = m }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(lim *Limiter) { lim.now = now }
}

// WithStoreTimeout bounds each provider and counter call. Non-positive
// values keep the default.
func WithStoreTimeout(d time.Duration) Option {
	return func(lim *Limiter) {
		if d > 0 {
			lim.storeTimeout = d
		}
	}
}

// New creates a Limiter.
func New(rules RuleProvider, counter Counter, opts ...Option) *Limiter {
	lim := &Limiter{
		rules:        rules,
		counter:      counter,
		logger:       slog.Default(),
		now:          time.Now,
		storeTimeout: DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(lim)
	}
	return lim
}

// Check records one call by callerID against endpoint in mode and reports
// whether it is allowed. It never returns an error.
func (l *Limiter) Check(ctx context.Context, callerID, endpoint string, mode model.EnvironmentMode) model.Decision {
	rule, found, err := l.ruleFor(ctx, endpoint, mode)
	if err != nil {
		// No rule was resolved, so the caller-supplied endpoint is not a safe label.
		return l.failOpen(ctx, "config", err, callerID, endpoint, "other", mode)
	}
	if !found {
		// Unmetered endpoints share one label to keep cardinality bounded.
		l.metrics.observe("other", mode, "unmetered")
		return model.Decision{Allowed: true, Message: "unconfigured endpoints are unmetered"}
	}

	now := l.now()
	limit := rule.MaxPerMinute

	cctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()
	res, err := l.counter.CheckAndIncrement(cctx, callerID, endpoint, mode, WindowStart(now), limit)
	if err != nil {
		return l.failOpen(ctx, "store", fmt.Errorf("%w: %v", ErrStoreUnavailable, err), callerID, endpoint, endpoint, mode)
	}

	if !res.Allowed {
		reset := ResetIn(now)
		remaining := 0
		l.metrics.observe(endpoint, mode, "denied")
		return model.Decision{
			Allowed: false,
			Message: fmt.Sprintf("Rate limit exceeded for %s: %d calls per minute in %s mode. Try again in %d seconds.",
				endpoint, limit, mode, reset),
			Limit:          &limit,
			Remaining:      &remaining,
			ResetInSeconds: &reset,
		}
	}

	remaining := limit - (res.Count + 1)
	if remaining < 0 {
		remaining = 0
	}
	reset := ResetIn(now)
	l.metrics.observe(endpoint, mode, "allowed")
	return model.Decision{
		Allowed:        true,
		Message:        "ok",
		Limit:          &limit,
		Remaining:      &remaining,
		ResetInSeconds: &reset,
	}
}

func (l *Limiter) ruleFor(ctx context.Context, endpoint string, mode model.EnvironmentMode) (model.RateLimitRule, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	rules, err := l.rules.RulesFor(cctx, mode)
	if err != nil {
		if errors.Is(err, ErrConfigUnavailable) {
			return model.RateLimitRule{}, false, err
		}
		return model.RateLimitRule{}, false, fmt.Errorf("%w: %v", ErrConfigUnavailable, err)
	}
	for _, r := range rules {
		if r.Endpoint == endpoint {
			return r, true, nil
		}
	}
	return model.RateLimitRule{}, false, nil
}

func (l *Limiter) failOpen(ctx context.Context, reason string, err error, callerID, endpoint, metricEndpoint string, mode model.EnvironmentMode) model.Decision {
	l.logger.ErrorContext(ctx, "rate limiter failing open",
		"reason", reason,
		"caller_id", callerID,
		"endpoint", endpoint,
		"environment_mode", string(mode),
		"error", err,
	)
	l.metrics.failedOpen(reason)
	l.metrics.observe(metricEndpoint, mode, "failopen")
	return model.Decision{Allowed: true, Message: "rate limiter unavailable, request allowed"}
}

// WindowStart truncates t to the start of its minute in UTC.
func WindowStart(t time.Time) time.Time {
	return t.UTC().Truncate(Window)
}

// ResetIn is the number of seconds until the window containing t closes,
// in the range 1..60.
func ResetIn(t time.Time) int {
	return 60 - t.UTC().Second()
}
