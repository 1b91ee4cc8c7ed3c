package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ticket-engine/internal/adapters/postgres"
	"ticket-engine/internal/clock"
	"ticket-engine/internal/config"
	"ticket-engine/internal/inventory"
	"ticket-engine/internal/observability"
	"ticket-engine/internal/reservation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	store := postgres.NewStore(pool)

	clk := clock.NewSystem()
	ledger := inventory.NewLedger(store)
	coordinator := reservation.NewCoordinator(store, ledger, clk, cfg.HoldTTL, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go run(ctx, coordinator, clk, cfg.SweepInterval, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown expiry worker")
}

func run(ctx context.Context, coordinator *reservation.Coordinator, clk clock.Clock, interval time.Duration, logger observability.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := coordinator.SweepExpired(ctx, clk.Now())
			if err != nil {
				logger.Error("failed to sweep expired holds", err)
				continue
			}
			if expired > 0 {
				logger.WithField("expired", expired).Info("released expired reservations")
			}
		}
	}
}
