// cmd/trip-planner/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"trip-planner/internal/api"
	"trip-planner/internal/common/config"
	"trip-planner/internal/common/database"
	"trip-planner/internal/common/logger"
	"trip-planner/internal/common/observability"
	"trip-planner/internal/trip/listen"
	"trip-planner/internal/trip/poll"
	"trip-planner/internal/trip/store"
	"trip-planner/internal/trip/submit"
	"trip-planner/internal/trip/wait"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting trip planner...",
		zap.String("environment", cfg.App.Environment),
		zap.String("address", cfg.Server.Address),
	)

	obs := observability.New("trip-planner")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return pg.Ping(pingCtx)
	}, 10, 2*time.Second, zapLog, "PostgreSQL initialization")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return rdb.Ping(pingCtx)
	}, 10, 2*time.Second, zapLog, "Redis initialization")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Wire the pipeline ---
	plans := store.NewPlanStore(pg.DB, log)
	markers := store.NewMarkerStore(rdb.Client, cfg.Wait.MarkerTTLDuration(), log)
	submitter := submit.NewClient(cfg.Webhook, log)
	poller := poll.New(plans, poll.Options{
		Interval:     cfg.Wait.PollIntervalDuration(),
		Budget:       cfg.Wait.BudgetDuration(),
		BroadenAfter: cfg.Wait.BroadenAfter,
	}, log)

	// Each wait cycle gets its own LISTEN connection so teardown cannot
	// disturb a concurrent cycle's subscription.
	subscribeFn := func(onInsert listen.Handler, onError listen.ErrorHandler) (wait.Subscription, error) {
		pqListener := pg.NewNotifyListener(time.Second, 30*time.Second, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				zapLog.Warn("notify listener event", zap.Int("event", int(ev)), zap.Error(err))
			}
		})
		sub, err := listen.Subscribe(listen.NewPQNotifier(pqListener), onInsert, onError, log)
		if err != nil {
			pqListener.Close()
			return nil, err
		}
		return sub, nil
	}

	newCycle := func() api.CycleRunner {
		return wait.NewCycle(submitter, poller, markers, subscribeFn, obs, wait.Config{
			Budget:           cfg.Wait.BudgetDuration(),
			WarnAfter:        cfg.Wait.WarnAfterDuration(),
			ProgressInterval: time.Second,
		}, wait.Callbacks{}, log)
	}

	server := api.NewServer(plans, newCycle, log)

	mux := http.NewServeMux()
	mux.Handle("/", server.Router())
	mux.Handle(cfg.Server.MetricsPath, promhttp.Handler())

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Wait.BudgetDuration() + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	zapLog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http shutdown failed", zap.Error(err))
	}
	zapLog.Info("Shutdown complete")
}
