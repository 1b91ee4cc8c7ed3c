package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ticket-engine/internal/observability"
	"ticket-engine/internal/ratelimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *ratelimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(RateLimitMiddleware(rl))

	r.Post("/v1/events", h.CreateEvent)
	r.Post("/v1/events/{id}/tiers", h.CreateTier)
	r.Post("/v1/events/{id}/complete", h.CompleteEvent)
	r.With(RequireIdempotencyKey).Post("/v1/checkout", h.Checkout)
	r.Get("/v1/orders/{id}", h.GetOrder)
	r.Post("/v1/payments/webhook", h.PaymentWebhook)
	r.Post("/v1/tickets/scan", h.Scan)
	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
