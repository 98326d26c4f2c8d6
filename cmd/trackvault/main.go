// Package main is the CLI entry point for trackvault.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/trackvault/internal/config"
	"github.com/eliteGoblin/trackvault/internal/domain"
	"github.com/eliteGoblin/trackvault/internal/export"
	"github.com/eliteGoblin/trackvault/internal/infra"
	"github.com/eliteGoblin/trackvault/internal/ledger"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "trackvault",
	Short: "Incrementally mirrors a Garmin Connect account to local disk",
	Long: `trackvault is a daemon that periodically downloads activity metadata
and GPS track files (GPX, TCX, KML, CSV) from a Garmin Connect account
into a local directory tree, skipping files that already exist and
re-downloading activities whose data changed upstream.

Configuration is read from environment variables; GARMIN_USERNAME and
GARMIN_PASSWORD are required, everything else has defaults.`,
	Version: Version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the export daemon on its cron schedule",
	Long: `Starts the scheduler and blocks. One export pass runs per cron
trigger; overlapping triggers are skipped. SIGINT, SIGTERM and SIGHUP
stop the scheduler after the current pass finishes.`,
	RunE: runDaemon,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single export pass immediately and exit",
	RunE:  runSync,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("trackvault %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromEnvironment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	coord, closer, err := buildCoordinator(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer func() { _ = closer.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	pass := func() { runPass(ctx, coord, logger) }

	if cfg.RunImmediatelyOnStartup {
		logger.Info("running initial export pass on startup")
		pass()
	}

	logger.Info("starting scheduler", zap.String("cron_schedule", cfg.CronSchedule))
	scheduler, err := infra.NewScheduler(cfg.CronSchedule, pass, logger)
	if err != nil {
		logger.Fatal("invalid cron schedule", zap.Error(err))
	}

	scheduler.Run(ctx)
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromEnvironment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	coord, closer, err := buildCoordinator(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer func() { _ = closer.Close() }()

	if err := coord.RunOnce(context.Background()); err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			logger.Warn("rate limited by upstream, rerun later", zap.Error(err))
			return nil
		}
		return err
	}
	logResources(logger)
	return nil
}

// runPass executes one scheduled pass. Rate limiting waits for the
// next trigger; anything else is fatal since partial state is always
// safe to resume from after a restart.
func runPass(ctx context.Context, coord *export.Coordinator, logger *zap.Logger) {
	if err := coord.RunOnce(ctx); err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			logger.Warn("rate limited by upstream, next scheduled run will retry", zap.Error(err))
			return
		}
		if errors.Is(err, context.Canceled) {
			logger.Info("export pass canceled during shutdown")
			return
		}
		logger.Fatal("unexpected error during export pass", zap.Error(err))
	}
	logResources(logger)
}

func logResources(logger *zap.Logger) {
	usage, err := infra.SelfResourceUsage()
	if err != nil {
		logger.Debug("could not sample process resources", zap.Error(err))
		return
	}
	logger.Debug("process resources after pass",
		zap.Uint64("rss_bytes", usage.RSSBytes),
		zap.Float64("cpu_percent", usage.CPUPercent))
}

// buildCoordinator wires the session store, Garmin client, ledger and
// coordinator from config. The returned closer owns the session DB.
func buildCoordinator(cfg *config.Config, logger *zap.Logger) (*export.Coordinator, interface{ Close() error }, error) {
	keyProvider := infra.NewFileKeyProvider(cfg.SessionDirectory)
	key, err := infra.EnsureKey(keyProvider)
	if err != nil {
		return nil, nil, fmt.Errorf("session key: %w", err)
	}

	sessions, err := infra.NewSessionDB(cfg.SessionDirectory, key)
	if err != nil {
		return nil, nil, fmt.Errorf("session store: %w", err)
	}

	auth := infra.NewAuthenticator(cfg.GarminUsername, cfg.GarminPassword, "", nil, sessions, logger)
	source := infra.NewGarminClient(infra.GarminClientOptions{
		UserAgent: "trackvault/" + Version,
	}, auth, logger)

	fs := afero.NewOsFs()
	clock := clockwork.NewRealClock()
	led := ledger.New(cfg.Filter, cfg.DownloadDirectory, fs, clock)

	coord := export.New(export.Config{
		DownloadRoot:    cfg.DownloadDirectory,
		BatchSize:       cfg.BatchSize,
		RequestDelay:    cfg.RequestDelay,
		BatchPause:      time.Second,
		CheckForChanges: cfg.CheckForActivityChanges,
		ForceFullRescan: cfg.AlwaysRecheckAllActivities,
	}, source, led, fs, clock, logger)

	if err := coord.Bootstrap(); err != nil {
		sessions.Close()
		return nil, nil, err
	}
	return coord, sessions, nil
}

func newLogger(level zapcore.Level) *zap.Logger {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.OutputPaths = []string{"stdout"}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		// Fallback if the config is somehow unusable
		logger, _ = zap.NewProduction()
	}
	return logger
}
