package ratelimit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/faucetdb/quotakey/internal/config"
	"github.com/faucetdb/quotakey/internal/model"
)

type failingRules struct{ err error }

func (f failingRules) RulesFor(context.Context, model.EnvironmentMode) ([]model.RateLimitRule, error) {
	return nil, f.err
}

type failingCounter struct{ calls int }

func (f *failingCounter) CheckAndIncrement(context.Context, string, string, model.EnvironmentMode, time.Time, int) (model.QuotaResult, error) {
	f.calls++
	return model.QuotaResult{}, errors.New("connection refused")
}

type blockingCounter struct{}

func (blockingCounter) CheckAndIncrement(ctx context.Context, _ string, _ string, _ model.EnvironmentMode, _ time.Time, _ int) (model.QuotaResult, error) {
	<-ctx.Done()
	return model.QuotaResult{}, ctx.Err()
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	s, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWindowStart(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	in := time.Date(2025, 3, 1, 14, 30, 42, 999, loc)
	got := WindowStart(in)
	want := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("WindowStart = %v, want %v", got, want)
	}
	if got.Location() != time.UTC {
		t.Errorf("WindowStart location = %v, want UTC", got.Location())
	}
}

func TestResetIn(t *testing.T) {
	tests := []struct {
		second int
		want   int
	}{
		{0, 60},
		{1, 59},
		{30, 30},
		{59, 1},
	}
	for _, tt := range tests {
		now := time.Date(2025, 3, 1, 12, 0, tt.second, 500, time.UTC)
		if got := ResetIn(now); got != tt.want {
			t.Errorf("ResetIn(second=%d) = %d, want %d", tt.second, got, tt.want)
		}
	}
}

func TestUnconfiguredEndpointIsUnmetered(t *testing.T) {
	lim := New(StaticRules(DefaultRules()), newTestStore(t))

	d := lim.Check(context.Background(), "alice", "export-report", model.ModeSandbox)
	if !d.Allowed {
		t.Fatal("expected unconfigured endpoint to be allowed")
	}
	if d.Limit != nil || d.Remaining != nil || d.ResetInSeconds != nil {
		t.Errorf("unmetered decision should carry no quota figures: %+v", d)
	}
	if !strings.Contains(d.Message, "unmetered") {
		t.Errorf("message = %q", d.Message)
	}
}

func TestRunComparisonScenario(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 3, 1, 12, 30, 17, 0, time.UTC)
	lim := New(StaticRules(DefaultRules()), store, WithClock(fixedClock(now)))
	ctx := context.Background()

	for i := 1; i <= 50; i++ {
		d := lim.Check(ctx, "alice", EndpointRunComparison, model.ModeSandbox)
		if !d.Allowed {
			t.Fatalf("call %d denied: %s", i, d.Message)
		}
		if *d.Remaining != 50-i {
			t.Errorf("call %d remaining = %d, want %d", i, *d.Remaining, 50-i)
		}
	}

	d := lim.Check(ctx, "alice", EndpointRunComparison, model.ModeSandbox)
	if d.Allowed {
		t.Fatal("call 51 allowed, want denied")
	}
	if d.ResetInSeconds == nil {
		t.Fatal("denied decision missing reset")
	}
	if r := *d.ResetInSeconds; r < 1 || r > 60 {
		t.Errorf("reset = %d, want within [1,60]", r)
	}
	if *d.ResetInSeconds != 43 {
		t.Errorf("reset = %d, want 43", *d.ResetInSeconds)
	}
	if *d.Limit != 50 || *d.Remaining != 0 {
		t.Errorf("limit/remaining = %d/%d, want 50/0", *d.Limit, *d.Remaining)
	}
	if !strings.Contains(d.Message, "Try again in 43 seconds") {
		t.Errorf("message = %q", d.Message)
	}

	// Other callers, modes and windows are unaffected.
	if d := lim.Check(ctx, "bob", EndpointRunComparison, model.ModeSandbox); !d.Allowed {
		t.Error("other caller denied")
	}
	if d := lim.Check(ctx, "alice", EndpointRunComparison, model.ModeProduction); !d.Allowed {
		t.Error("production mode denied")
	}
	next := New(StaticRules(DefaultRules()), store, WithClock(fixedClock(now.Add(time.Minute))))
	if d := next.Check(ctx, "alice", EndpointRunComparison, model.ModeSandbox); !d.Allowed {
		t.Error("next window denied")
	}
}

func TestZeroLimitBlocks(t *testing.T) {
	rules := StaticRules{{Endpoint: "blocked", EnvironmentMode: model.ModeSandbox, MaxPerMinute: 0}}
	lim := New(rules, newTestStore(t))

	if d := lim.Check(context.Background(), "alice", "blocked", model.ModeSandbox); d.Allowed {
		t.Error("expected a zero limit to deny")
	}
}

func TestFailOpenOnConfigError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	counter := &failingCounter{}

	lim := New(failingRules{err: errors.New("db down")}, counter,
		WithLogger(logger), WithMetrics(metrics))

	d := lim.Check(context.Background(), "alice", EndpointManageAPIKeys, model.ModeSandbox)
	if !d.Allowed {
		t.Fatal("expected fail-open decision")
	}
	if counter.calls != 0 {
		t.Errorf("counter called %d times after config failure", counter.calls)
	}
	if got := testutil.ToFloat64(metrics.failOpen.WithLabelValues("config")); got != 1 {
		t.Errorf("failopen_total{reason=config} = %v, want 1", got)
	}
	out := buf.String()
	if !strings.Contains(out, "rate limiter failing open") || !strings.Contains(out, "db down") {
		t.Errorf("fail-open not logged: %q", out)
	}
	if !strings.Contains(out, "level=ERROR") {
		t.Errorf("fail-open should log at ERROR: %q", out)
	}
}

func TestFailOpenOnConfigErrorBoundsLabels(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	lim := New(failingRules{err: errors.New("db down")}, &failingCounter{},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), WithMetrics(metrics))

	for _, endpoint := range []string{"a", "b", "c", EndpointRunComparison} {
		if d := lim.Check(context.Background(), "alice", endpoint, model.ModeSandbox); !d.Allowed {
			t.Fatalf("%s: expected fail-open decision", endpoint)
		}
	}

	if n := testutil.CollectAndCount(metrics.decisions); n != 1 {
		t.Errorf("decision series = %d, want 1", n)
	}
	if got := testutil.ToFloat64(metrics.decisions.WithLabelValues("other", "sandbox", "failopen")); got != 4 {
		t.Errorf("decisions{endpoint=other,outcome=failopen} = %v, want 4", got)
	}
}

func TestFailOpenOnCounterError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	metrics := NewMetrics(prometheus.NewRegistry())

	lim := New(StaticRules(DefaultRules()), &failingCounter{},
		WithLogger(logger), WithMetrics(metrics))

	d := lim.Check(context.Background(), "alice", EndpointRunComparison, model.ModeSandbox)
	if !d.Allowed {
		t.Fatal("expected fail-open decision")
	}
	if got := testutil.ToFloat64(metrics.failOpen.WithLabelValues("store")); got != 1 {
		t.Errorf("failopen_total{reason=store} = %v, want 1", got)
	}
	if !strings.Contains(buf.String(), ErrStoreUnavailable.Error()) {
		t.Errorf("expected store error in log: %q", buf.String())
	}
}

func TestFailOpenOnTimeout(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	lim := New(StaticRules(DefaultRules()), blockingCounter{},
		WithLogger(logger), WithStoreTimeout(20*time.Millisecond))

	start := time.Now()
	d := lim.Check(context.Background(), "alice", EndpointRunComparison, model.ModeSandbox)
	if !d.Allowed {
		t.Fatal("expected fail-open on timeout")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("check took %v, store timeout not applied", elapsed)
	}
}

func TestDecisionMetrics(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	rules := StaticRules{{Endpoint: "x", EnvironmentMode: model.ModeSandbox, MaxPerMinute: 1}}
	lim := New(rules, newTestStore(t), WithMetrics(metrics))
	ctx := context.Background()

	lim.Check(ctx, "alice", "x", model.ModeSandbox)
	lim.Check(ctx, "alice", "x", model.ModeSandbox)
	lim.Check(ctx, "alice", "y", model.ModeSandbox)

	if got := testutil.ToFloat64(metrics.decisions.WithLabelValues("x", "sandbox", "allowed")); got != 1 {
		t.Errorf("allowed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.decisions.WithLabelValues("x", "sandbox", "denied")); got != 1 {
		t.Errorf("denied = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.decisions.WithLabelValues("other", "sandbox", "unmetered")); got != 1 {
		t.Errorf("unmetered = %v, want 1", got)
	}
}

func TestStaticRulesFiltersAndSorts(t *testing.T) {
	rules := StaticRules{
		{Endpoint: "b", EnvironmentMode: model.ModeSandbox, MaxPerMinute: 1},
		{Endpoint: "a", EnvironmentMode: model.ModeSandbox, MaxPerMinute: 2},
		{Endpoint: "c", EnvironmentMode: model.ModeProduction, MaxPerMinute: 3},
	}
	got, err := rules.RulesFor(context.Background(), model.ModeSandbox)
	if err != nil {
		t.Fatalf("RulesFor: %v", err)
	}
	if len(got) != 2 || got[0].Endpoint != "a" || got[1].Endpoint != "b" {
		t.Errorf("RulesFor = %+v", got)
	}
}

func TestDefaultRulesCoverBothModes(t *testing.T) {
	for _, mode := range model.Modes {
		rules, _ := StaticRules(DefaultRules()).RulesFor(context.Background(), mode)
		seen := map[string]bool{}
		for _, r := range rules {
			seen[r.Endpoint] = true
		}
		if !seen[EndpointManageAPIKeys] || !seen[EndpointRunComparison] {
			t.Errorf("%s defaults missing endpoints: %v", mode, seen)
		}
	}
}
