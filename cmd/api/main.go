package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongoadapter "ticket-engine/internal/adapters/mongo"
	"ticket-engine/internal/adapters/postgres"
	"ticket-engine/internal/adapters/rabbit"
	redisadapter "ticket-engine/internal/adapters/redis"
	"ticket-engine/internal/artifact"
	"ticket-engine/internal/clock"
	"ticket-engine/internal/config"
	httphandler "ticket-engine/internal/http"
	"ticket-engine/internal/idempotency"
	"ticket-engine/internal/inventory"
	"ticket-engine/internal/observability"
	"ticket-engine/internal/payment"
	"ticket-engine/internal/ratelimit"
	"ticket-engine/internal/reservation"
	"ticket-engine/internal/scheduler"
	"ticket-engine/internal/ticket"
	"ticket-engine/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	if err := migrations.Apply(context.Background(), pool); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}
	store := postgres.NewStore(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("tix")
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), time.Hour)
	rl := ratelimit.NewRateLimiter(cache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()
	if _, err := rabbit.NewPublisher(rabbitConn); err != nil {
		log.Fatalf("failed to declare exchange: %v", err)
	}

	clk := clock.NewSystem()
	ledger := inventory.NewLedger(store)
	coordinator := reservation.NewCoordinator(store, ledger, clk, cfg.HoldTTL, logger)
	artifacts := artifact.NewHTTPProducer(cfg.ArtifactBaseURL)
	tickets := ticket.NewManager(store, clk, artifacts, logger)
	sched := scheduler.New(store, clk, logger)
	gateway := payment.NewHTTPGateway(cfg.GatewayBaseURL, cfg.GatewayAPIKey)
	reconciler := payment.NewReconciler(store, coordinator, tickets, sched, cache, audit, logger)

	handlers := httphandler.NewHandlers(cfg, store, coordinator, reconciler, tickets, sched,
		gateway, idemp, catalog, audit, logger)
	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
