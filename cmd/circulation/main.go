// cmd/circulation/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"librarium/internal/circulation"
	"librarium/internal/config"
	"librarium/internal/events"
	"librarium/internal/fines"
	"librarium/internal/store/memory"
	"librarium/internal/store/postgres"
	"librarium/internal/telemetry"
	"librarium/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.ServiceName, cfg.LogLevel)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("service stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	st, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	stored, err := st.Settings(ctx)
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	policy, err := config.ResolvePolicy(circulation.DefaultPolicy(), stored, cfg.Policy)
	if err != nil {
		return err
	}
	log.Info("circulation policy loaded",
		zap.Int("loan_period_days", policy.LoanPeriodDays),
		zap.Int("max_books_per_user", policy.MaxBorrowingsPerUser),
		zap.String("fine_per_day", policy.DailyFineRate.StringFixed(2)),
		zap.Int("grace_period_days", policy.GraceDays),
		zap.String("timezone", policy.Location.String()),
	)

	var (
		pub     fines.Publisher = fines.NopPublisher
		healthy func() bool
	)
	if cfg.RabbitMQURL != "" {
		p, err := events.NewPublisher(cfg.RabbitMQURL, log)
		if err != nil {
			log.Warn("event publisher unavailable, continuing without events", zap.Error(err))
		} else {
			defer p.Close()
			pub, healthy = p, p.IsHealthy
			log.Info("event publisher initialized")
		}
	}

	a, err := newApp(cfg, st, policy, pub, log, time.Now)
	if err != nil {
		return err
	}
	a.eventsHealthy = healthy

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (backend, error) {
	if cfg.Store == "memory" {
		log.Warn("using in-memory store, data is lost on exit")
		return memory.New(), nil
	}

	st, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database ready")
	return st, nil
}
