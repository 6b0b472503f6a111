// cmd/integrity/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"librarium/internal/circulation"
	"librarium/internal/config"
	"librarium/internal/integrity"
	"librarium/internal/store/postgres"
	"librarium/pkg/logger"

	"go.uber.org/zap"
)

// integrity audits a live database and prints the report as JSON. It exits
// with status 2 when any invariant is broken.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewLogger("integrity", cfg.LogLevel)
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	report, err := audit(ctx, cfg)
	if err != nil {
		log.Fatal("integrity audit failed", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Fatal("failed to write report", zap.Error(err))
	}

	if !report.Healthy {
		log.Warn("invariant violations found", zap.Int("violations", len(report.Violations)))
		log.Sync()
		os.Exit(2)
	}
	log.Info("all invariants hold", zap.Int("checks", report.Checks), zap.Duration("duration", report.Duration))
}

func audit(ctx context.Context, cfg *config.Config) (*integrity.Report, error) {
	st, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer st.Close()

	stored, err := st.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	policy, err := config.ResolvePolicy(circulation.DefaultPolicy(), stored, cfg.Policy)
	if err != nil {
		return nil, err
	}
	return integrity.NewAuditor(st, policy.MaxBorrowingsPerUser).Run(ctx)
}
