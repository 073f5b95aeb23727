package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/faucetdb/quotakey/internal/config"
	"github.com/faucetdb/quotakey/internal/model"
	"github.com/faucetdb/quotakey/internal/service"
)

// run executes the root command against a private data dir and returns
// what it wrote to stdout.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd("test", "abc123", "2025-01-01")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--data-dir", dir}, args...))
	err := root.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := run(t, dir, args...)
	if err != nil {
		t.Fatalf("quotakey %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestKeyLifecycle(t *testing.T) {
	dir := t.TempDir()

	out := mustRun(t, dir, "key", "create", "--caller", "user-42", "--name", "ci", "--scope", "read", "--scope", "write", "--json")
	var created service.CreatedKey
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decode create output: %v\n%s", err, out)
	}
	if created.Key == "" || created.EnvironmentMode != model.ModeSandbox || len(created.Scopes) != 2 {
		t.Fatalf("created = %+v", created)
	}

	out = mustRun(t, dir, "key", "list", "--caller", "user-42")
	if !strings.Contains(out, created.KeyID) || strings.Contains(out, created.Key) {
		t.Errorf("list output should show the id and hide the key:\n%s", out)
	}

	mustRun(t, dir, "key", "update", "--caller", "user-42", created.KeyID, "--active=false")
	out = mustRun(t, dir, "key", "list", "--caller", "user-42", "--json")
	var creds []model.Credential
	if err := json.Unmarshal([]byte(out), &creds); err != nil {
		t.Fatal(err)
	}
	if len(creds) != 1 || creds[0].IsActive {
		t.Errorf("after update: %+v", creds)
	}

	// Another caller sees nothing.
	out = mustRun(t, dir, "key", "list", "--caller", "someone-else")
	if !strings.Contains(out, "No API keys") {
		t.Errorf("other caller list = %q", out)
	}

	mustRun(t, dir, "key", "revoke", "--caller", "user-42", created.KeyID)
	mustRun(t, dir, "key", "revoke", "--caller", "user-42", created.KeyID)
	out = mustRun(t, dir, "key", "list", "--caller", "user-42")
	if !strings.Contains(out, "No API keys") {
		t.Errorf("list after revoke = %q", out)
	}
}

func TestKeyCreateValidation(t *testing.T) {
	dir := t.TempDir()

	if _, err := run(t, dir, "key", "list"); err == nil {
		t.Error("expected error without --caller")
	}

	_, err := run(t, dir, "key", "create", "--caller", "u", "--name", "x", "--expires-in-days", "0", "--scope", "read")
	if err == nil || !strings.Contains(err.Error(), "expires_in_days") {
		t.Errorf("err = %v, want expires_in_days validation error", err)
	}
}

func TestProfileDrivesKeyMode(t *testing.T) {
	dir := t.TempDir()

	out := mustRun(t, dir, "profile", "get", "--caller", "user-7")
	if !strings.Contains(out, "no profile") {
		t.Errorf("profile get = %q", out)
	}

	mustRun(t, dir, "profile", "set", "--caller", "user-7", "--mode", "PRODUCTION")
	if out := mustRun(t, dir, "profile", "get", "--caller", "user-7"); strings.TrimSpace(out) != "production" {
		t.Errorf("profile get = %q", out)
	}

	out = mustRun(t, dir, "key", "create", "--caller", "user-7", "--name", "p", "--scope", "read", "--json")
	var created service.CreatedKey
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatal(err)
	}
	if created.EnvironmentMode != model.ModeProduction {
		t.Errorf("mode = %q, want production", created.EnvironmentMode)
	}

	if _, err := run(t, dir, "profile", "set", "--caller", "user-7", "--mode", "staging"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestRulesImportListReset(t *testing.T) {
	dir := t.TempDir()

	if out := mustRun(t, dir, "rules", "list"); !strings.Contains(out, "No rate limit rules") {
		t.Errorf("empty list = %q", out)
	}

	path := filepath.Join(dir, "rules.yaml")
	yaml := "sandbox:\n  - endpoint: summarize\n    max_per_minute: 5\nproduction:\n  - endpoint: summarize\n    max_per_minute: 100\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	if out := mustRun(t, dir, "rules", "import", path); !strings.Contains(out, "Imported 2 rules") {
		t.Errorf("import = %q", out)
	}

	out := mustRun(t, dir, "rules", "list", "--mode", "sandbox", "--json")
	var rules []model.RateLimitRule
	if err := json.Unmarshal([]byte(out), &rules); err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 || rules[0].Endpoint != "summarize" || rules[0].MaxPerMinute != 5 {
		t.Errorf("sandbox rules = %+v", rules)
	}

	if out := mustRun(t, dir, "rules", "reset"); !strings.Contains(out, "Restored 4 default rules") {
		t.Errorf("reset = %q", out)
	}
	if out := mustRun(t, dir, "rules", "list"); !strings.Contains(out, "run-comparison") {
		t.Errorf("list after reset = %q", out)
	}

	if _, err := run(t, dir, "rules", "import", filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestQuotaPrune(t *testing.T) {
	dir := t.TempDir()

	if _, err := run(t, dir, "quota", "prune", "--older-than", "30s"); err == nil {
		t.Error("expected error for --older-than below one window")
	}
	if out := mustRun(t, dir, "quota", "prune", "--older-than", "1h"); !strings.Contains(out, "Pruned 0 quota windows") {
		t.Errorf("prune = %q", out)
	}
}

func TestTokenIssue(t *testing.T) {
	out := mustRun(t, t.TempDir(), "token", "issue", "--caller", "user-42", "--ttl", "5m")
	tok := strings.TrimSpace(out)

	secretKey, _ := jwtSecret()
	p, err := service.NewAuthService(nil, secretKey).ValidateJWT(context.Background(), tok)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if p.CallerID != "user-42" {
		t.Errorf("subject = %q", p.CallerID)
	}
}

func TestOpenAPICommand(t *testing.T) {
	dir := t.TempDir()

	out := mustRun(t, dir, "openapi", "--base-url", "https://keys.example.com")
	if !strings.Contains(out, "/api/v1/manage-api-keys") || !strings.Contains(out, "https://keys.example.com") {
		t.Errorf("openapi output missing paths or server url")
	}

	path := filepath.Join(dir, "openapi.json")
	mustRun(t, dir, "openapi", "-o", path)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid(data) {
		t.Error("written document is not valid JSON")
	}
}

func TestVersionJSON(t *testing.T) {
	out := mustRun(t, t.TempDir(), "version", "--json")
	var info versionInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatal(err)
	}
	if info.Version != "test" || info.Commit != "abc123" {
		t.Errorf("info = %+v", info)
	}
}

func TestOpenStoreDrivers(t *testing.T) {
	t.Cleanup(func() {
		viper.Set("store.driver", "sqlite")
		viper.Set("store.dsn", "")
	})

	viper.Set("store.driver", "oracle")
	viper.Set("store.dsn", "x")
	if _, err := openStore(); err == nil {
		t.Error("expected error for unsupported driver")
	}

	viper.Set("store.driver", "postgres")
	viper.Set("store.dsn", "")
	if _, err := openStore(); err == nil || !strings.Contains(err.Error(), "store.dsn") {
		t.Errorf("err = %v, want store.dsn required", err)
	}
}

func TestNewCounterBackends(t *testing.T) {
	t.Cleanup(func() { viper.Set("quota.backend", "sql") })

	store, err := config.NewStore("")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	viper.Set("quota.backend", "sql")
	counter, closer, err := newCounter(ctx, store)
	if err != nil || closer != nil || counter != store {
		t.Errorf("sql backend = %v, %v, %v", counter, closer, err)
	}

	viper.Set("quota.backend", "redis")
	viper.Set("quota.redis_url", "")
	if _, _, err := newCounter(ctx, store); err == nil {
		t.Error("expected error for redis backend without url")
	}

	viper.Set("quota.backend", "memcached")
	if _, _, err := newCounter(ctx, store); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestEnsureRulesSeedsOnce(t *testing.T) {
	store, err := config.NewStore("")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()
	logger := newLogger(io.Discard)

	if err := ensureRules(ctx, store, logger); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteRule(ctx, "run-comparison", model.ModeSandbox); err != nil {
		t.Fatal(err)
	}
	// A non-empty table is left alone.
	if err := ensureRules(ctx, store, logger); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.CountRules(ctx); n != 3 {
		t.Errorf("rules = %d, want 3", n)
	}
}
