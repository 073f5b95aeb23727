package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/faucetdb/quotakey/internal/config"
	"github.com/faucetdb/quotakey/internal/model"
	"github.com/faucetdb/quotakey/internal/quota"
	"github.com/faucetdb/quotakey/internal/ratelimit"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// devSecret signs tokens when auth.jwt_secret is unset. serve warns about it.
const devSecret = "quotakey-dev-secret-change-me"

// resolveDataDir returns the data directory from --data-dir flag,
// QUOTAKEY_DATA_DIR / data_dir config, or ~/.quotakey as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if d := viper.GetString("data_dir"); d != "" {
		return d
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".quotakey")
}

// openStore opens the configured store: the embedded SQLite database under
// the data dir unless store.dsn names another one.
func openStore() (*config.Store, error) {
	driver := config.Dialect(strings.ToLower(viper.GetString("store.driver")))
	if driver == "" {
		driver = config.DialectSQLite
	}
	dsn := viper.GetString("store.dsn")

	if driver == config.DialectSQLite && dsn == "" {
		return config.NewStore(resolveDataDir())
	}
	if dsn == "" {
		return nil, fmt.Errorf("store.dsn is required for the %s store", driver)
	}
	return config.Open(driver, dsn)
}

// newLogger builds the process logger from --dev and --log-format.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("dev") {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(viper.GetString("log.format"), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// jwtSecret returns auth.jwt_secret, falling back to the development secret.
func jwtSecret() (string, bool) {
	if s := viper.GetString("auth.jwt_secret"); s != "" {
		return s, true
	}
	return devSecret, false
}

// counterCloser is a quota counter that owns a connection.
type counterCloser interface {
	ratelimit.Counter
	Ping(ctx context.Context) error
	Close() error
}

// newCounter selects the quota backend. The SQL store counts in its own
// quota_windows table; the redis backend needs quota.redis_url.
func newCounter(ctx context.Context, store *config.Store) (ratelimit.Counter, counterCloser, error) {
	switch backend := strings.ToLower(viper.GetString("quota.backend")); backend {
	case "", "sql":
		return store, nil, nil
	case "redis":
		url := viper.GetString("quota.redis_url")
		if url == "" {
			return nil, nil, fmt.Errorf("quota.redis_url is required for the redis quota backend")
		}
		rc, err := quota.NewRedisCounter(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		return rc, rc, nil
	default:
		return nil, nil, fmt.Errorf("unsupported quota backend %q (want sql or redis)", backend)
	}
}

// newLimiter builds the limiter over the store's rules and counter.
func newLimiter(store *config.Store, counter ratelimit.Counter, logger *slog.Logger, metrics *ratelimit.Metrics) *ratelimit.Limiter {
	opts := []ratelimit.Option{ratelimit.WithLogger(logger)}
	if metrics != nil {
		opts = append(opts, ratelimit.WithMetrics(metrics))
	}
	if d := viper.GetDuration("ratelimit.store_timeout"); d > 0 {
		opts = append(opts, ratelimit.WithStoreTimeout(d))
	}
	return ratelimit.New(store, counter, opts...)
}

// ensureRules seeds the default rules into an empty store and then applies
// ratelimit.rules_file if one is configured.
func ensureRules(ctx context.Context, store *config.Store, logger *slog.Logger) error {
	n, err := store.CountRules(ctx)
	if err != nil {
		return fmt.Errorf("count rules: %w", err)
	}
	if n == 0 {
		if err := store.ReplaceRules(ctx, ratelimit.DefaultRules()); err != nil {
			return fmt.Errorf("seed default rules: %w", err)
		}
		logger.Info("seeded default rate limit rules", "count", len(ratelimit.DefaultRules()))
	}

	path := viper.GetString("ratelimit.rules_file")
	if path == "" {
		return nil
	}
	rules, err := config.LoadRulesFile(path)
	if err != nil {
		return err
	}
	if err := store.ReplaceRules(ctx, rules); err != nil {
		return fmt.Errorf("import rules file: %w", err)
	}
	logger.Info("loaded rate limit rules", "path", path, "count", len(rules))
	return nil
}

// parseMode parses a --mode flag value; empty means "not given".
func parseMode(s string) (model.EnvironmentMode, error) {
	if s == "" {
		return "", nil
	}
	return model.ParseEnvironmentMode(s)
}

// printJSON writes v to w as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
