// Package main implements the polyquery command.
//
// polyquery plans filter requests against the configured document and
// column stores, runs them, and benchmarks the optimized plan against a
// naive scan of the same data.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/polyquery/polyquery/internal/app"
	"github.com/polyquery/polyquery/internal/config"
	"github.com/polyquery/polyquery/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile  string
	envFile     string
	logLevel    string
	logFormat   string
	metricsAddr string
	historyPath string
	demo        bool
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:           "polyquery",
		Short:         "Plan, run and benchmark filter queries across document and column stores",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `polyquery discovers the schema of every configured store, routes each
filter field to the store that owns it and picks a denormalized variant whose
partition key the filter satisfies. The benchmark command times that plan
against a naive scan of the primary entity and reports the speedup.

Configuration is read from --config (YAML or JSON), then POLYQUERY_*
environment variables (a .env file is loaded first), then flags.

Examples:
  polyquery --demo schema
  polyquery --demo plan -f employee_id=7
  polyquery --demo query -f employee_id=7 -f payment_method=cash --order-by timestamp:desc --limit 5
  polyquery --config polyquery.yaml benchmark -f customer_id=42 --trials 20
  polyquery --config polyquery.yaml history list`,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configFile, "config", "c", "", "path to configuration file (YAML or JSON)")
	pf.StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before environment overrides")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&g.logFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&g.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	pf.StringVar(&g.historyPath, "history", "", "SQLite file recording benchmark runs")
	pf.BoolVar(&g.demo, "demo", false, "use two in-memory stores holding a generated cafe dataset")

	root.AddCommand(
		newSchemaCmd(&g),
		newPlanCmd(&g),
		newQueryCmd(&g),
		newBenchmarkCmd(&g),
		newInsightsCmd(&g),
		newHistoryCmd(&g),
	)
	return root
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(g *globalFlags) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if err := config.LoadDotEnv(g.envFile); err != nil {
		return nil, err
	}

	// Start with defaults, the demo stores or the file
	switch {
	case g.configFile != "":
		cfg, err = config.LoadFromFile(g.configFile)
		if err != nil {
			return nil, err
		}
	case g.demo:
		cfg = app.DemoConfig()
	default:
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	// Command line flags have the highest priority
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	if g.metricsAddr != "" {
		cfg.Metrics.Addr = g.metricsAddr
	}
	if g.historyPath != "" {
		cfg.History.Path = g.historyPath
	}
	return cfg, nil
}

// openApp loads the configuration and wires an App. Logs go to stderr so
// stdout carries only command output.
func openApp(cmd *cobra.Command, g *globalFlags, adjust func(*config.Config)) (*app.App, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if adjust != nil {
		adjust(cfg)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return app.New(cmd.Context(), cfg, app.WithLogger(logger))
}
