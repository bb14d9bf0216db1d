/**
 * @description
 * Entry point of the claimer. It loads the configuration, opens the claim ledger
 * backend and the optional collaborators (run lock, notifiers, screenshot upload),
 * then either runs a single claim pass and exits with its status or keeps running
 * passes on a cron schedule.
 *
 * Exit codes: 0 success, 1 fatal error, 130 interrupted.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/jackc/pgx/v5, go.mongodb.org/mongo-driver, modernc.org/sqlite: ledger backends.
 * - github.com/redis/go-redis/v9: optional run lock.
 * - github.com/playwright-community/playwright-go: browser automation.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/rencire/free-games-claimer/internal/api"
	"github.com/rencire/free-games-claimer/internal/app"
	"github.com/rencire/free-games-claimer/internal/config"
	"github.com/rencire/free-games-claimer/internal/redeem"
	"github.com/rencire/free-games-claimer/internal/store"
	"github.com/rencire/free-games-claimer/pkg/browser"
	"github.com/rencire/free-games-claimer/pkg/notifyclient"
	"github.com/rencire/free-games-claimer/pkg/rabbitmq"
	"github.com/rencire/free-games-claimer/pkg/screenshots"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Printf("cannot load config: %v", err)
		return app.ExitFailure
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repository, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open claim ledger", "backend", cfg.LedgerBackend, "error", err)
		return app.ExitFailure
	}
	defer repository.Close()

	var lock app.RunLock = app.NoopLock{}
	if redisClient := connectRedis(cfg, logger); redisClient != nil {
		defer redisClient.Close()
		lock = app.NewRedisRunLock(redisClient, cfg.RedisLockPrefix, cfg.RedisLockTTL())
	}

	notifier, closeNotifier := buildNotifier(cfg, logger)
	defer closeNotifier()

	shots := screenshots.New(cfg.ScreenshotDir, logger)
	if cfg.S3Bucket != "" {
		client, err := screenshots.NewS3Client(ctx, screenshots.S3Config{
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			logger.Warn("screenshot upload disabled", "error", err)
		} else {
			shots.WithUploader(cfg.S3Bucket, client)
		}
	}

	registry := redeem.NewRegistry(logger, cfg.LegacyGamesEmail)
	runnerCfg := app.RunnerConfig{
		Credentials: app.Credentials{
			Email:    cfg.Email,
			Password: cfg.Password,
			OTPKey:   cfg.OTPKey,
		},
		Headless:      cfg.Headless,
		Timeout:       cfg.Timeout(),
		LoginTimeout:  cfg.LoginTimeout(),
		DryRun:        cfg.DryRun,
		Redeem:        cfg.Redeem,
		ClaimDLC:      cfg.ClaimDLC,
		RetryUnlinked: cfg.RetryUnlinked,
		Namespace:     cfg.Namespace,
	}

	// Each pass gets its own browser so a crashed page never leaks into the next one.
	claimPass := func(ctx context.Context) (app.RunResult, error) {
		session, err := browser.Launch(browser.Options{
			ProfileDir: cfg.BrowserDir,
			Headless:   cfg.Headless,
			Width:      cfg.Width,
			Height:     cfg.Height,
			Timeout:    cfg.Timeout(),
		}, logger)
		if err != nil {
			return app.RunResult{}, err
		}
		// Closing the browser on interrupt makes pending waits fail immediately.
		stopClose := context.AfterFunc(ctx, func() { _ = session.Close() })
		defer stopClose()
		defer session.Close()

		runner := app.NewRunner(session, repository, registry, notifier, shots, lock, runnerCfg, logger)
		return runner.Run(ctx)
	}

	if cfg.ClaimSchedule == "" {
		server := startStatusServer(cfg, repository, nil, logger)
		defer shutdownServer(server, logger)

		res, err := claimPass(ctx)
		code := app.ExitCode(err)
		if err != nil {
			logger.Error("claim pass failed", "run_id", res.RunID, "exit_code", code, "error", err)
		} else {
			logger.Info("claim pass finished", "run_id", res.RunID, "user", res.User, "entries", len(res.Entries), "records", res.Records)
		}
		return code
	}

	scheduler := app.NewScheduler(ctx, claimPass, cfg.ClaimSchedule, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		return app.ExitFailure
	}
	server := startStatusServer(cfg, repository, scheduler, logger)

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping scheduler")
	shutdownServer(server, logger)
	<-scheduler.Stop().Done()
	logger.Info("scheduler stopped gracefully")
	return app.ExitOK
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.ClaimRepository, error) {
	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		pgConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("unable to parse database URL: %w", err)
		}
		pgConfig.MaxConns = 4
		pgConfig.MaxConnLifetime = 30 * time.Minute
		pgConfig.MaxConnIdleTime = 5 * time.Minute
		pgConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		dbpool, err := pgxpool.NewWithConfig(ctx, pgConfig)
		if err != nil {
			return nil, fmt.Errorf("unable to connect to database: %w", err)
		}
		repo := store.NewPostgresRepository(dbpool)
		if err := repo.EnsureSchema(ctx); err != nil {
			repo.Close()
			return nil, err
		}
		logger.Info("database connection established", "backend", cfg.LedgerBackend)
		return repo, nil

	case config.BackendMongo:
		repo, err := store.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		logger.Info("database connection established", "backend", cfg.LedgerBackend, "database", cfg.MongoDB)
		return repo, nil

	default:
		repo, err := store.OpenSQLite(cfg.LedgerSQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("claim ledger opened", "backend", cfg.LedgerBackend, "path", cfg.LedgerSQLitePath)
		return repo, nil
	}
}

// connectRedis returns nil when no lock backend is configured or reachable.
func connectRedis(cfg config.Config, logger *slog.Logger) *redis.Client {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return nil
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis url parse failed; run lock disabled", "error", err)
		return nil
	}
	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; run lock disabled", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}

func buildNotifier(cfg config.Config, logger *slog.Logger) (app.Notifier, func()) {
	var notifiers app.MultiNotifier
	closeFn := func() {}

	if cfg.RabbitMQURL != "" {
		if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err == nil {
			notifiers = append(notifiers, rabbitmq.NewNotifier(producer, cfg.NotifyExchange, cfg.NotifyRoutingKey))
			closeFn = producer.Close
		} else {
			logger.Warn("failed to connect to RabbitMQ, notifications are not published", "error", err)
		}
	}
	if cfg.NotifyURL != "" {
		notifiers = append(notifiers, notifyclient.NewClient(cfg.NotifyURL))
	}
	if len(notifiers) == 0 {
		return app.LogNotifier{Logger: logger}, closeFn
	}
	return notifiers, closeFn
}

func startStatusServer(cfg config.Config, claims api.ClaimReader, scheduler *app.Scheduler, logger *slog.Logger) *http.Server {
	if cfg.StatusPort == "" {
		return nil
	}
	var runs api.RunStatus
	if scheduler != nil {
		runs = scheduler
	}
	handler := api.NewHandler(claims, runs, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.StatusPort),
		Handler: api.NewRouter(handler, cfg.AllowedOrigins(), cfg.StatusJWTSecret),
	}

	go func() {
		logger.Info("starting status server", "port", cfg.StatusPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", "error", err)
		}
	}()
	return server
}

func shutdownServer(server *http.Server, logger *slog.Logger) {
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("status server shutdown failed", "error", err)
	}
}
