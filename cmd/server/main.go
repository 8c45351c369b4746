package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agenthands/crosscheck/internal/config"
	"github.com/agenthands/crosscheck/internal/core"
	"github.com/agenthands/crosscheck/internal/driver"
	"github.com/agenthands/crosscheck/internal/scheduler"
	"github.com/agenthands/crosscheck/internal/server"
	"github.com/agenthands/crosscheck/internal/store"
	"github.com/agenthands/crosscheck/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	Version = "0.1.0"
	appName = "crosscheck"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Cross-source conflict detection and classification",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (TOML)")

	cmd.AddCommand(serveCmd(&configPath))
	cmd.AddCommand(engagementCmd(&configPath, "detect", "Run conflict detection for an engagement",
		func(ctx context.Context, e *core.Engine, id string) (any, error) { return e.Detect(ctx, id) }))
	cmd.AddCommand(engagementCmd(&configPath, "classify", "Classify unclassified conflicts for an engagement",
		func(ctx context.Context, e *core.Engine, id string) (any, error) { return e.Classify(ctx, id) }))
	cmd.AddCommand(engagementCmd(&configPath, "reclassify", "Reclassify conflicts from older classifier versions",
		func(ctx context.Context, e *core.Engine, id string) (any, error) { return e.Reclassify(ctx, id) }))
	cmd.AddCommand(engagementCmd(&configPath, "scan", "Detect, classify and escalate for an engagement",
		func(ctx context.Context, e *core.Engine, id string) (any, error) { return e.Scan(ctx, id) }))
	cmd.AddCommand(engagementCmd(&configPath, "report", "Print the disagreement report for an engagement",
		func(ctx context.Context, e *core.Engine, id string) (any, error) { return e.DisagreementReport(ctx, id) }))

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})

	return cmd
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if a.cfg.Scheduler.Enabled && len(a.cfg.Scheduler.Engagements) > 0 {
				sched := scheduler.NewService(a.engine, a.cfg.Scheduler.Engagements, a.logger.Named("scheduler"), a.metrics)
				sched.SetInterval(a.cfg.Scheduler.Interval.Duration)
				sched.SetConcurrency(a.cfg.Scheduler.Concurrency)
				sched.Start()
				defer sched.Stop()
			}

			srv := server.NewServer(a.engine, a.logger.Named("http"), a.registry)
			httpServer := &http.Server{
				Addr:              ":" + a.cfg.Server.Port,
				Handler:           srv.SetupRouter(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("starting server", zap.String("port", a.cfg.Server.Port))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
}

func engagementCmd(configPath *string, use, short string, run func(context.Context, *core.Engine, string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <engagement-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			out, err := run(ctx, a.engine, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *telemetry.Metrics
	engine   *core.Engine
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	graph, err := driver.NewMemgraphDriver(ctx, cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password, cfg.Memgraph.Database, logger.Named("graph"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Memgraph: %w", err)
	}

	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		_ = graph.Close(ctx)
		return nil, fmt.Errorf("failed to open conflict store: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	engine := core.NewEngine(graph, st, core.Options{
		Logger:              logger,
		Metrics:             metrics,
		RecencyWindowDays:   cfg.Detection.RecencyWindowDays,
		QueryLimit:          cfg.Detection.QueryLimit,
		ClassifierVersion:   cfg.Classifier.Version,
		EscalationThreshold: cfg.Scheduler.EscalationThreshold.Duration,
	})
	if err := engine.BuildIndices(ctx); err != nil {
		_ = engine.Close(ctx)
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, registry: registry, metrics: metrics, engine: engine}, nil
}

func (a *app) close() {
	if err := a.engine.Close(context.Background()); err != nil {
		a.logger.Warn("failed to close engine", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// loadConfig falls back to CONFIG_PATH, then the default path, then built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err != nil {
			return config.Default(), nil
		}
		path = config.DefaultPath
	}
	return config.Load(path)
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
