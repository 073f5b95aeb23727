package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/faucetdb/quotakey/internal/ratelimit"
	"github.com/faucetdb/quotakey/internal/secret"
	"github.com/faucetdb/quotakey/internal/server"
	"github.com/faucetdb/quotakey/internal/service"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the quotakey API server",
		Long:  "Start the HTTP server that manages API keys and answers rate limit checks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().Int("ip-rate-limit", 600, "Requests per minute per client IP in front of auth (0 disables)")
	cmd.Flags().String("rules-file", "", "YAML rate limit rules to load at startup")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("server.ip_rate_limit", cmd.Flags().Lookup("ip-rate-limit"))
	viper.BindPFlag("ratelimit.rules_file", cmd.Flags().Lookup("rules-file"))

	return cmd
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(os.Stderr)

	// 1. Store
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	logger.Info("store initialized", "driver", string(store.Dialect()))

	// 2. Rules
	if err := ensureRules(ctx, store, logger); err != nil {
		store.Close()
		return err
	}

	// 3. Quota counter and limiter
	counter, closer, err := newCounter(ctx, store)
	if err != nil {
		store.Close()
		return fmt.Errorf("init quota counter: %w", err)
	}
	checks := map[string]server.Pinger{}
	if closer != nil {
		defer closer.Close()
		checks["redis"] = closer
	}
	logger.Info("quota backend ready", "backend", viper.GetString("quota.backend"))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	limiter := newLimiter(store, counter, logger, ratelimit.NewMetrics(registry))

	// 4. Auth and key management
	secretKey, configured := jwtSecret()
	if !configured {
		logger.Warn("auth.jwt_secret not set, using the development secret")
	}
	authSvc := service.NewAuthService(store, secretKey).WithLogger(logger)
	keys := service.NewKeyService(store, secret.NewCodec(""), limiter, logger)

	// 5. HTTP server
	cfg := server.DefaultConfig()
	cfg.Host = viper.GetString("server.host")
	cfg.Port = viper.GetInt("server.port")
	cfg.IPRateLimit = viper.GetInt("server.ip_rate_limit")
	cfg.ShutdownTimeout = 30 * time.Second
	cfg.Version = versionString()

	srv := server.New(cfg, server.Deps{
		Store:    store,
		Auth:     authSvc,
		Keys:     keys,
		Rules:    store,
		Limiter:  limiter,
		Registry: registry,
		Checks:   checks,
	}, logger)

	fmt.Printf("→ quotakey %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Host, cfg.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", cfg.Host, cfg.Port)
	fmt.Printf("→ Metrics:    http://%s:%d/metrics\n", cfg.Host, cfg.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", cfg.Host, cfg.Port)
	fmt.Println()

	return srv.ListenAndServe()
}
