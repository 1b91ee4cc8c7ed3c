package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongoadapter "ticket-engine/internal/adapters/mongo"
	"ticket-engine/internal/adapters/postgres"
	"ticket-engine/internal/artifact"
	"ticket-engine/internal/clock"
	"ticket-engine/internal/config"
	"ticket-engine/internal/domain"
	"ticket-engine/internal/observability"
	"ticket-engine/internal/payout"
	"ticket-engine/internal/scheduler"
	"ticket-engine/internal/ticket"
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

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("tix"), logger)

	clk := clock.NewSystem()
	artifacts := artifact.NewHTTPProducer(cfg.ArtifactBaseURL)
	tickets := ticket.NewManager(store, clk, artifacts, logger)
	disburser := payout.NewHTTPDisburser(cfg.GatewayBaseURL, cfg.GatewayAPIKey)
	aggregator := payout.NewAggregator(store, disburser, audit, clk, logger)

	sched := scheduler.New(store, clk, logger)
	sched.Register(domain.TaskKindActivateTickets, func(ctx context.Context, payload []byte) error {
		orderRef, err := scheduler.DecodeOrderRef(payload)
		if err != nil {
			return err
		}
		_, err = tickets.ActivateOrder(ctx, orderRef)
		return err
	})
	sched.Register(domain.TaskKindTicketArtifacts, func(ctx context.Context, payload []byte) error {
		orderRef, err := scheduler.DecodeOrderRef(payload)
		if err != nil {
			return err
		}
		return tickets.GenerateArtifacts(ctx, orderRef)
	})
	sched.Register(domain.TaskKindPayoutAggregate, func(ctx context.Context, payload []byte) error {
		eventID, err := scheduler.DecodeEventID(payload)
		if err != nil {
			return err
		}
		return aggregator.Run(ctx, eventID)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sched.Run(ctx, cfg.TaskClaimInterval, cfg.TaskBatchSize)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown scheduler worker")
}
