// ccd is the ContextCache daemon: the HTTP API, the SQLite store, and the
// background job pool in one process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/contextcache/contextcache/internal/config"
)

var (
	rootCtx    context.Context
	rootCancel context.CancelFunc
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "ccd",
	Short:         "ContextCache daemon",
	Long:          "ccd serves the ContextCache API: project memory ingestion, ranked recall, and the admin surface.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("addr", ":8375", "listen address")
	flags.String("base-url", "http://localhost:8375", "public base URL used in magic links")
	flags.String("db", "contextcache.db", "SQLite database path")
	flags.Bool("dev", false, "dev mode: no mailer, magic links echoed in responses")
	flags.Bool("verbose", false, "debug logging")

	viper.SetEnvPrefix("CONTEXTCACHE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, name := range []string{"addr", "base-url", "db", "dev", "verbose"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetDefault("cookie-secure", false)
	viper.SetDefault("store-max-conns", 0)
	viper.SetDefault("pack-budget", 0)
	viper.SetDefault("rate-per-minute", 60)
	viper.SetDefault("rate-per-hour", 1000)
	viper.SetDefault("quota-timezone", "")
	viper.SetDefault("memories-per-day", 200)
	viper.SetDefault("recalls-per-day", 500)
	viper.SetDefault("projects-per-day", 10)
	viper.SetDefault("job-workers", 0)
	viper.SetDefault("job-queue-size", 0)

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if viper.GetBool("verbose") {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	}
}

// loadConfig resolves the daemon configuration from flags and environment.
func loadConfig() *config.Config {
	cfg := config.Default()
	cfg.Addr = viper.GetString("addr")
	cfg.BaseURL = viper.GetString("base-url")
	cfg.DBPath = viper.GetString("db")
	cfg.Dev = viper.GetBool("dev")
	cfg.CookieSecure = viper.GetBool("cookie-secure")
	cfg.StoreMaxConns = viper.GetInt("store-max-conns")
	cfg.PackBudget = viper.GetInt("pack-budget")
	cfg.RatePerMinute = viper.GetInt("rate-per-minute")
	cfg.RatePerHour = viper.GetInt("rate-per-hour")
	cfg.QuotaTimezone = viper.GetString("quota-timezone")
	cfg.MemoriesPerDay = viper.GetInt("memories-per-day")
	cfg.RecallsPerDay = viper.GetInt("recalls-per-day")
	cfg.ProjectsPerDay = viper.GetInt("projects-per-day")
	cfg.JobWorkers = viper.GetInt("job-workers")
	cfg.JobQueueSize = viper.GetInt("job-queue-size")
	return cfg
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
