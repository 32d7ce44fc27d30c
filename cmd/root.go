package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rmexp/rmexp/internal/config"
	"github.com/rmexp/rmexp/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// metricStore is what commands need from a backend. Both *store.Store and
// *store.Memory satisfy it.
type metricStore interface {
	store.Backend
	Summaries(ctx context.Context, experiment string) ([]store.Summary, error)
	FrameRows(ctx context.Context, experiment string, index int64) ([]store.Record, error)
	Reset(ctx context.Context) error
	Close()
}

// noStore marks commands that never touch the metric store.
const noStore = "no-store"

var (
	// DB is the metric store shared by subcommands
	DB metricStore
	// Cfg is the resolved configuration
	Cfg *config.Config
	// Log is the root logger
	Log = logrus.New()

	cfgPath     string
	dbURL       string
	experiment  string
	dryRun      bool
	logLevel    string
	logFormat   string
	metricsAddr string

	metricsServer *http.Server
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "rmexp",
	Short:   "Frame processing experiments with idempotent metric recording",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(); err != nil {
			return err
		}

		var err error
		Cfg, err = config.Load(cfgPath, Log)
		if err != nil {
			return err
		}
		Cfg.ApplyEnv(os.Getenv)
		flags := cmd.Flags()
		if flags.Changed("db") {
			Cfg.Database.URL = dbURL
		}
		if flags.Changed("exp") {
			Cfg.Experiment = experiment
		}
		if flags.Changed("metrics-addr") {
			Cfg.MetricsAddr = metricsAddr
		}
		if err := Cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		if Cfg.MetricsAddr != "" {
			startMetrics(Cfg.MetricsAddr)
		}

		if cmd.Annotations[noStore] == "true" {
			return nil
		}
		if dryRun {
			Log.Warn("Dry run: metrics are kept in memory and discarded on exit")
			DB = store.NewMemory()
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		s, err := store.New(cmd.Context(), Cfg.Database.DSN(), Cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		DB = s
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
		if metricsServer != nil {
			// The command context may already be cancelled by Ctrl+C.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			metricsServer.Shutdown(ctx)
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: built from POSTGRES_* or postgres://localhost:5432/rmexp)")
	rootCmd.PersistentFlags().StringVar(&experiment, "exp", "", "Experiment name (env EXP)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Keep metrics in memory instead of PostgreSQL")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
}

func setupLogging() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	Log.SetLevel(level)
	Log.SetOutput(os.Stderr)
	switch logFormat {
	case "text":
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		Log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid --log-format %q (want text or json)", logFormat)
	}
	return nil
}

func startMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Log.WithError(err).WithField("addr", addr).Error("Metrics endpoint stopped")
		}
	}()
	Log.WithField("addr", addr).Info("Serving metrics")
}

// requireExperiment fails fast when no experiment name was configured.
func requireExperiment() error {
	if Cfg.Experiment == "" {
		return errors.New("no experiment name: set --exp, EXP or experiment in the config file")
	}
	return nil
}
