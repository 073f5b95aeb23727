package cli

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	appVersion string // set in Execute, reported by serve and openapi
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quotakey",
		Short: "API keys and per-caller rate limits for your platform",
		Long: `quotakey issues API keys and enforces per-endpoint, per-caller, per-environment
rate limits. Keys are stored hashed; limits are counted in fixed one-minute
windows in a shared SQL store or Redis, so any number of instances agree.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./quotakey.yaml)")
	pf.StringVar(&dataDir, "data-dir", "", "data directory for the embedded SQLite store (default: ~/.quotakey)")
	pf.Bool("dev", false, "development mode (debug logging)")
	pf.String("log-format", "text", "log format: text or json")
	viper.BindPFlag("dev", pf.Lookup("dev"))
	viper.BindPFlag("log.format", pf.Lookup("log-format"))

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newProfileCmd())
	cmd.AddCommand(newRulesCmd())
	cmd.AddCommand(newQuotaCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newMCPCmd())

	return cmd
}

func initConfig() {
	// A .env file is optional; real environment variables win.
	godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("quotakey")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.quotakey")
	}

	viper.SetDefault("store.driver", "sqlite")
	viper.SetDefault("quota.backend", "sql")
	viper.SetDefault("ratelimit.store_timeout", 2*time.Second)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.ip_rate_limit", 600)

	viper.SetEnvPrefix("QUOTAKEY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}
