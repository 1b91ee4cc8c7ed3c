package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tix_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	HoldsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tix_holds_opened_total",
			Help: "Reservations opened",
		},
	)

	InventoryRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tix_inventory_rejections_total",
			Help: "Hold attempts rejected for insufficient inventory",
		},
	)

	HoldResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tix_hold_resolutions_total",
			Help: "Hold resolutions by terminal outcome",
		},
		[]string{"outcome"},
	)

	WebhookNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tix_webhook_notifications_total",
			Help: "Payment gateway notifications by outcome and result",
		},
		[]string{"outcome", "result"},
	)

	TicketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tix_tickets_issued_total",
			Help: "Tickets minted on order completion",
		},
	)

	Scans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tix_scans_total",
			Help: "Redemption attempts by result",
		},
		[]string{"result"},
	)

	TaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tix_task_runs_total",
			Help: "Scheduled task executions by kind and result",
		},
		[]string{"kind", "result"},
	)

	Payouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tix_payouts_total",
			Help: "Payout aggregation outcomes",
		},
		[]string{"status"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tix_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tix_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tix_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
