package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongoadapter "ticket-engine/internal/adapters/mongo"
	"ticket-engine/internal/adapters/postgres"
	"ticket-engine/internal/adapters/rabbit"
	redisadapter "ticket-engine/internal/adapters/redis"
	"ticket-engine/internal/artifact"
	"ticket-engine/internal/clock"
	"ticket-engine/internal/config"
	"ticket-engine/internal/domain"
	httphandler "ticket-engine/internal/http"
	"ticket-engine/internal/idempotency"
	"ticket-engine/internal/inventory"
	"ticket-engine/internal/observability"
	"ticket-engine/internal/payment"
	"ticket-engine/internal/payout"
	"ticket-engine/internal/ratelimit"
	"ticket-engine/internal/reservation"
	"ticket-engine/internal/scheduler"
	"ticket-engine/internal/ticket"
	"ticket-engine/migrations"
)

// fakeProvider stands in for the mobile-money gateway and the artifact
// renderer.
func fakeProvider() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/push", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"correlation_id": "corr-" + uuid.NewString()})
	})
	mux.HandleFunc("/v1/disburse", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/render", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"document_url": "https://cdn.example.com/doc.pdf",
			"image_url":    "https://cdn.example.com/qr.png",
		})
	})
	return httptest.NewServer(mux)
}

func TestIntegration_CheckoutToRedemption(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			Env:          map[string]string{"POSTGRES_USER": "tix", "POSTGRES_PASSWORD": "tix", "POSTGRES_DB": "tix"},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer pgContainer.Terminate(ctx)

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mongoContainer.Terminate(ctx)

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer redisContainer.Terminate(ctx)

	rabbitContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-management",
			ExposedPorts: []string{"5672/tcp", "15672/tcp"},
			WaitingFor:   wait.ForHTTP("/api/health").WithPort("15672"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitContainer.Terminate(ctx)

	pgHost, _ := pgContainer.Host(ctx)
	pgPort, _ := pgContainer.MappedPort(ctx, "5432")
	mongoHost, _ := mongoContainer.Host(ctx)
	mongoPort, _ := mongoContainer.MappedPort(ctx, "27017")
	redisHost, _ := redisContainer.Host(ctx)
	redisPort, _ := redisContainer.MappedPort(ctx, "6379")
	rabbitHost, _ := rabbitContainer.Host(ctx)
	rabbitPort, _ := rabbitContainer.MappedPort(ctx, "5672")

	provider := fakeProvider()
	defer provider.Close()

	cfg := &config.Config{
		HTTPAddr:          ":18080",
		PostgresDSN:       "postgres://tix:tix@" + pgHost + ":" + pgPort.Port() + "/tix?sslmode=disable",
		MongoURI:          "mongodb://" + mongoHost + ":" + mongoPort.Port(),
		RedisAddr:         redisHost + ":" + redisPort.Port(),
		RabbitURL:         "amqp://guest:guest@" + rabbitHost + ":" + rabbitPort.Port() + "/",
		HoldTTL:           5 * time.Minute,
		TaskClaimInterval: 200 * time.Millisecond,
		TaskBatchSize:     10,
		PlatformFeeRate:   mustDecimal(t, "0.05"),
		ProcessingFeeRate: mustDecimal(t, "0.02"),
		GatewayBaseURL:    provider.URL,
		GatewayAPIKey:     "test-key",
		ArtifactBaseURL:   provider.URL,
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	if err := migrations.Apply(ctx, pool); err != nil {
		t.Fatal(err)
	}
	store := postgres.NewStore(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(ctx)
	logger := observability.NewLogger()
	mongoDB := mongoClient.Database("tix")
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), time.Hour)
	rl := ratelimit.NewRateLimiter(cache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		t.Fatal(err)
	}
	consumer, err := rabbit.NewConsumer(rabbitConn, "it-orders", "order.*")
	if err != nil {
		t.Fatal(err)
	}
	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}

	clk := clock.NewSystem()
	ledger := inventory.NewLedger(store)
	coordinator := reservation.NewCoordinator(store, ledger, clk, cfg.HoldTTL, logger)
	artifacts := artifact.NewHTTPProducer(cfg.ArtifactBaseURL)
	tickets := ticket.NewManager(store, clk, artifacts, logger)
	sched := scheduler.New(store, clk, logger)
	gateway := payment.NewHTTPGateway(cfg.GatewayBaseURL, cfg.GatewayAPIKey)
	reconciler := payment.NewReconciler(store, coordinator, tickets, sched, cache, audit, logger)

	disburser := payout.NewHTTPDisburser(cfg.GatewayBaseURL, cfg.GatewayAPIKey)
	aggregator := payout.NewAggregator(store, disburser, audit, clk, logger)
	sched.Register(domain.TaskKindActivateTickets, func(ctx context.Context, payload []byte) error {
		ref, err := scheduler.DecodeOrderRef(payload)
		if err != nil {
			return err
		}
		_, err = tickets.ActivateOrder(ctx, ref)
		return err
	})
	sched.Register(domain.TaskKindTicketArtifacts, func(ctx context.Context, payload []byte) error {
		ref, err := scheduler.DecodeOrderRef(payload)
		if err != nil {
			return err
		}
		return tickets.GenerateArtifacts(ctx, ref)
	})
	sched.Register(domain.TaskKindPayoutAggregate, func(ctx context.Context, payload []byte) error {
		eventID, err := scheduler.DecodeEventID(payload)
		if err != nil {
			return err
		}
		return aggregator.Run(ctx, eventID)
	})

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	go sched.Run(workerCtx, cfg.TaskClaimInterval, cfg.TaskBatchSize)

	handlers := httphandler.NewHandlers(cfg, store, coordinator, reconciler, tickets, sched,
		gateway, idemp, catalog, audit, logger)
	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := httptest.NewServer(r)
	defer srv.Close()

	// Create event starting in 2h: the activation threshold is already in
	// the past, so issued tickets become scannable immediately.
	eventResp := postJSON(t, srv.URL+"/v1/events", map[string]any{
		"host_id":  uuid.NewString(),
		"name":     "Integration Night",
		"venue":    "Hall 9",
		"start_at": time.Now().Add(2 * time.Hour).Format(time.RFC3339),
	}, http.StatusCreated)
	eventID := eventResp["event_id"].(string)

	postJSON(t, srv.URL+"/v1/events/"+eventID+"/tiers", map[string]any{
		"name": "GA", "unit_price": "50.00", "capacity": 10,
	}, http.StatusCreated)

	// Checkout.
	checkoutBody, _ := json.Marshal(map[string]any{
		"event_id":     eventID,
		"buyer_id":     uuid.NewString(),
		"payer_handle": "+15550001111",
		"items":        []map[string]any{{"tier": "GA", "quantity": 2}},
	})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/checkout", bytes.NewReader(checkoutBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("checkout status %d", resp.StatusCode)
	}
	var checkout struct {
		OrderID       uuid.UUID `json:"order_id"`
		CorrelationID string    `json:"correlation_id"`
		Total         string    `json:"total"`
	}
	json.NewDecoder(resp.Body).Decode(&checkout)
	resp.Body.Close()
	if checkout.CorrelationID == "" {
		t.Fatal("missing correlation id")
	}

	// Webhook success, then an identical redelivery.
	webhook := map[string]any{
		"correlation_id": checkout.CorrelationID,
		"outcome":        "success",
		"paid_amount":    checkout.Total,
		"receipt_ref":    "rcpt-900",
	}
	first := postJSON(t, srv.URL+"/v1/payments/webhook", webhook, http.StatusOK)
	if first["result"] != "committed" {
		t.Fatalf("expected committed, got %v", first["result"])
	}
	replay := postJSON(t, srv.URL+"/v1/payments/webhook", webhook, http.StatusOK)
	if replay["result"] != "duplicate" {
		t.Fatalf("expected duplicate, got %v", replay["result"])
	}

	orderState := getJSON(t, srv.URL+"/v1/orders/"+checkout.OrderID.String())
	if orderState["status"] != "completed" {
		t.Fatalf("expected completed order, got %v", orderState["status"])
	}

	issued, err := store.TicketsForOrder(ctx, checkout.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if len(issued) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(issued))
	}

	// Redeem once, then again from a second gate.
	scan := postJSON(t, srv.URL+"/v1/tickets/scan", map[string]any{
		"qr_code_id": issued[0].QRCodeID, "scanner_id": "gate-1",
	}, http.StatusOK)
	if scan["status"] != "already_used" {
		t.Fatalf("expected already_used after redemption, got %v", scan["status"])
	}
	rescan := postJSON(t, srv.URL+"/v1/tickets/scan", map[string]any{
		"qr_code_id": issued[0].QRCodeID, "scanner_id": "gate-2",
	}, http.StatusConflict)
	if rescan["redeemed_by"] != "gate-1" {
		t.Fatalf("expected first scanner reported, got %v", rescan["redeemed_by"])
	}

	// Outbox drains to the broker.
	go func() {
		records, _ := store.GetUnpublishedOutbox(ctx, 10)
		for _, rec := range records {
			rabbitPub.Publish(ctx, rec.EventType, amqp.Publishing{
				MessageId: rec.DedupeKey, ContentType: "application/json", Body: rec.Payload,
			})
			store.MarkPublished(ctx, rec.ID, time.Now())
		}
	}()
	select {
	case d := <-deliveries:
		if !strings.HasPrefix(d.RoutingKey, "order.") {
			t.Fatalf("unexpected routing key %s", d.RoutingKey)
		}
		d.Ack(false)
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for order event on the broker")
	}

	// Complete the event twice; exactly one payout appears.
	postJSON(t, srv.URL+"/v1/events/"+eventID+"/complete", map[string]any{}, http.StatusOK)
	postJSON(t, srv.URL+"/v1/events/"+eventID+"/complete", map[string]any{}, http.StatusOK)

	eventUUID := uuid.MustParse(eventID)
	deadline := time.After(20 * time.Second)
	for {
		p, err := store.GetPayoutForEvent(ctx, eventUUID)
		if err == nil {
			if p.Status != domain.PayoutStatusCompleted {
				t.Fatalf("payout status %s", p.Status)
			}
			if p.OrdersCount != 1 {
				t.Fatalf("expected 1 order in payout, got %d", p.OrdersCount)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for payout")
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func postJSON(t *testing.T, url string, body map[string]any, wantStatus int) map[string]any {
	t.Helper()
	data, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	out := map[string]any{}
	json.NewDecoder(resp.Body).Decode(&out)
	return out
}

func getJSON(t *testing.T, url string) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	json.NewDecoder(resp.Body).Decode(&out)
	return out
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}
