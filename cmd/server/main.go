package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"
	"golang.org/x/sync/errgroup"

	"example.com/better-analytics/internal/activation"
	"example.com/better-analytics/internal/config"
	"example.com/better-analytics/internal/lock"
	"example.com/better-analytics/internal/logging"
	"example.com/better-analytics/internal/relaystore"
	"example.com/better-analytics/internal/server"
	"example.com/better-analytics/internal/settings"
	"example.com/better-analytics/internal/sqliteutil"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqliteutil.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	settingsStore := settings.NewStore(db)
	if err := settingsStore.Init(ctx); err != nil {
		return err
	}
	relay := relaystore.NewStore(db)
	if err := relay.Init(ctx); err != nil {
		return err
	}

	classifier, err := activation.NewClassifier(cfg.Patterns()...)
	if err != nil {
		return err
	}
	locker, closeLocker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	reconciler := activation.NewReconciler(
		activation.NewClient(cfg.AdminAPIURL, cfg.AdminAPIToken, cfg.AdminAPITimeout),
		classifier,
		locker,
		logger.With("component", "activation.reconciler"),
	)

	// Reconciles run inline unless a Temporal frontend is configured.
	var orchestrator activation.Orchestrator = reconciler
	if cfg.TemporalEnabled() {
		tc, err := client.Dial(client.Options{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
			Logger:    temporallog.NewStructuredLogger(logger.With("component", "temporal")),
		})
		if err != nil {
			return fmt.Errorf("dial temporal: %w", err)
		}
		defer tc.Close()

		w := activation.RegisterReconcileWorker(tc, reconciler, logger)
		if err := w.Start(); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
		defer w.Stop()
		orchestrator = activation.NewTemporalOrchestrator(tc, logger)
		logger.Info("temporal worker started", "hostport", cfg.TemporalHostPort, "namespace", cfg.TemporalNamespace, "task_queue", activation.ReconcileTaskQueue())
	}

	sessions, err := server.NewSessions(server.SessionConfig{
		Capacity:  cfg.PixelSessionCapacity,
		QueueSize: cfg.PixelRelayQueue,
		RelayURL:  cfg.PixelRelayURL,
	}, relay, logger.With("component", "pixel.sessions"))
	if err != nil {
		return err
	}

	httpLogger := logger.With("component", "server.http")
	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewServer(
			settings.NewService(settingsStore, logger.With("component", "settings")),
			orchestrator,
			relay,
			sessions,
			httpLogger,
			server.Options{
				ActivationTimeout: cfg.ActivationTimeout,
				AllowedOrigins:    cfg.AllowedOrigins(),
			},
		).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		httpLogger.Info("analytics API listening", "addr", cfg.HTTPAddr, "db", cfg.DatabasePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		sessions.CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		httpLogger.Info("analytics API stopped")
		return nil
	})
	return g.Wait()
}

// newLocker returns the Redis lock when REDIS_ADDR is set, the in-process lock otherwise.
func newLocker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (lock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Info("using in-process tenant lock")
		return lock.NewLocal(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("using redis tenant lock", "addr", cfg.RedisAddr, "ttl", cfg.LockTTL)
	return lock.NewRedis(rdb, cfg.LockTTL), func() { rdb.Close() }, nil
}
