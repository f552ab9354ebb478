package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonathan/apply-autopilot/internal/config"
	"github.com/jonathan/apply-autopilot/internal/orchestrator"
	"github.com/jonathan/apply-autopilot/internal/results"
	"github.com/jonathan/apply-autopilot/internal/runconfig"
	"github.com/jonathan/apply-autopilot/internal/runlog"
	"github.com/jonathan/apply-autopilot/internal/scheduler"
	"github.com/jonathan/apply-autopilot/internal/server"
	"github.com/jonathan/apply-autopilot/internal/server/ratelimit"
	"github.com/jonathan/apply-autopilot/internal/supervisor"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// runLockKey is the Redis key guarding the process-wide run across replicas.
const runLockKey = "autopilot:run-lock"

var (
	servePort        int
	serveMigrate     bool
	serveNoScheduler bool
	serveDrainTime   time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the automation control server",
	Long: `Start an HTTP server that exposes the start, stop, status, log, and outcome
endpoints for the automation run, together with the schedule trigger.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default PORT or 8080)")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Apply database migrations before serving")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "Disable the schedule trigger")
	serveCmd.Flags().DurationVar(&serveDrainTime, "drain-timeout", 60*time.Second, "How long shutdown waits for an active run to stop")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.JWT.Require(); err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Port = servePort
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if serveMigrate {
		if err := database.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}
	if cfg.CredentialsKey == "" {
		logger.Warn("CREDENTIALS_KEY is not set, runs will fail to resolve portal credentials")
	}

	var locker supervisor.Locker = supervisor.NewLocalLocker()
	if cfg.RedisURL != "" {
		redisLocker, err := supervisor.NewRedisLocker(ctx, cfg.RedisURL, runLockKey, supervisor.DefaultLockTTL)
		if err != nil {
			return err
		}
		defer redisLocker.Close()
		locker = redisLocker
		logger.Info("using shared run lock", slog.String("key", runLockKey))
	}

	launcher, sel, err := newLauncher(cfg, cfg.Portal.Headless)
	if err != nil {
		return err
	}
	answers, closeAnswers := newAnswerer(ctx, cfg, logger)
	defer func() { _ = closeAnswers() }()

	events := runlog.New(logger)
	sink := results.NewSink(database)
	runner := orchestrator.New(database, answers, events, sink, orchestratorOptions(cfg, sel))

	sup := supervisor.New(supervisor.Deps{
		Launcher: launcher,
		Runner:   runner,
		Events:   events,
		Sink:     sink,
		Locker:   locker,
		History:  database,
		Logger:   logger,
	})
	builder := &runconfig.Builder{
		Profiles:         database,
		Filters:          database,
		DefaultSearchURL: cfg.Portal.SearchURL,
		DefaultMaxPages:  cfg.Run.MaxPages,
	}

	tokens, err := server.NewTokenService(cfg.JWT)
	if err != nil {
		return err
	}
	srv := server.New(cfg.Port, server.Deps{
		Supervisor: sup,
		Builder:    builder,
		Events:     events,
		Outcomes:   database,
		Tokens:     tokens,
		RateLimit:  ratelimit.LoadConfig(),
		Health:     database.Ping,
		Logger:     logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	if !serveNoScheduler {
		trigger := scheduler.New(database, builder, sup, cfg.SchedulerInterval, logger)
		g.Go(func() error {
			return trigger.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), serveDrainTime)
		defer cancel()
		if err := sup.Shutdown(drainCtx); err != nil {
			logger.Warn("active run did not stop before the drain timeout", slog.Any("error", err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
