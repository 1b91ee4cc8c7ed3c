package payment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ticket-engine/internal/adapters/postgres"
	"ticket-engine/internal/domain"
	"ticket-engine/internal/observability"
	"ticket-engine/internal/reservation"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Notification is the provider's push-payment confirmation, delivered at
// least once and unordered.
type Notification struct {
	CorrelationID string          `json:"correlation_id"`
	Outcome       string          `json:"outcome"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	ReceiptRef    string          `json:"receipt_ref"`
	Reason        string          `json:"reason"`
}

type Result string

const (
	ResultCommitted    Result = "committed"
	ResultFailed       Result = "failed"
	ResultShortPayment Result = "short_payment"
	ResultDuplicate    Result = "duplicate"
	ResultNoop         Result = "noop"
)

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetOrderByCorrelationID(ctx context.Context, correlationID string) (*domain.Order, error)
	CompleteOrder(ctx context.Context, orderID uuid.UUID, receiptRef string) (bool, error)
	FailOrder(ctx context.Context, orderID uuid.UUID, reason string) (bool, error)
	GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error)
	InsertOutbox(ctx context.Context, record postgres.OutboxRecord) error
}

type Resolver interface {
	Resolve(ctx context.Context, orderRef uuid.UUID, outcome reservation.Outcome) (bool, error)
	ExpireOrder(ctx context.Context, orderRef uuid.UUID) error
}

type Issuer interface {
	Issue(ctx context.Context, order domain.Order) ([]domain.Ticket, error)
}

type Scheduler interface {
	ScheduleAt(ctx context.Context, kind string, payload any, dedupeKey string, notBefore time.Time) error
}

type DedupeCache interface {
	NotificationSeen(ctx context.Context, correlationID, outcome string) (bool, error)
	MarkNotificationSeen(ctx context.Context, correlationID, outcome string, ttl time.Duration) error
}

type Auditor interface {
	LogNotification(ctx context.Context, correlationID, outcome, result string)
}

// Reconciler converts an external payment notification into a single
// idempotent state change. Duplicates and late redeliveries are absorbed,
// never surfaced as errors to the provider.
type Reconciler struct {
	store     Store
	resolver  Resolver
	issuer    Issuer
	scheduler Scheduler
	dedupe    DedupeCache
	audit     Auditor
	logger    observability.Logger
	dedupeTTL time.Duration
}

func NewReconciler(store Store, resolver Resolver, issuer Issuer, scheduler Scheduler, dedupe DedupeCache, audit Auditor, logger observability.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		resolver:  resolver,
		issuer:    issuer,
		scheduler: scheduler,
		dedupe:    dedupe,
		audit:     audit,
		logger:    logger,
		dedupeTTL: 24 * time.Hour,
	}
}

func (r *Reconciler) Apply(ctx context.Context, n Notification) (Result, error) {
	result, err := r.apply(ctx, n)
	if err != nil {
		return result, err
	}

	observability.WebhookNotifications.WithLabelValues(n.Outcome, string(result)).Inc()
	if r.audit != nil {
		r.audit.LogNotification(ctx, n.CorrelationID, n.Outcome, string(result))
	}

	// Marked only after the notification is fully applied so a crash
	// mid-processing never suppresses the redelivery that finishes the job.
	if err := r.dedupe.MarkNotificationSeen(ctx, n.CorrelationID, n.Outcome, r.dedupeTTL); err != nil {
		r.logger.Warn("failed to mark notification seen", err)
	}
	return result, nil
}

func (r *Reconciler) apply(ctx context.Context, n Notification) (Result, error) {
	seen, err := r.dedupe.NotificationSeen(ctx, n.CorrelationID, n.Outcome)
	if err != nil {
		// The cache is advisory; the conditional writes below stay correct
		// without it.
		r.logger.Warn("notification dedupe check failed", err)
	}
	if seen {
		return ResultDuplicate, nil
	}

	order, err := r.store.GetOrderByCorrelationID(ctx, n.CorrelationID)
	if errors.Is(err, domain.ErrNotFound) {
		// Unknown correlation id: late redelivery after expiry, or a
		// notification for an order we never initiated. Acknowledge quietly.
		return ResultNoop, nil
	}
	if err != nil {
		return ResultNoop, err
	}

	if order.PaymentStatus.Terminal() {
		if order.PaymentStatus == domain.PaymentStatusCompleted {
			// A previous delivery may have completed the order and crashed
			// before issuance; finishing that work here keeps redelivery
			// side-effect free when there is nothing left to do.
			if err := r.finishIssuance(ctx, *order); err != nil {
				return ResultDuplicate, err
			}
		}
		return ResultDuplicate, nil
	}

	outcome, reason := n.Outcome, n.Reason
	result := ResultCommitted
	if outcome == OutcomeSuccess && n.PaidAmount.LessThan(order.Total()) {
		outcome = OutcomeFailure
		reason = errors.Wrapf(domain.ErrShortPayment, "paid %s, expected %s", n.PaidAmount, order.Total()).Error()
		result = ResultShortPayment
	}

	if outcome == OutcomeSuccess {
		return r.commit(ctx, *order, n)
	}

	if err := r.fail(ctx, *order, reason); err != nil {
		return result, err
	}
	if result != ResultShortPayment {
		result = ResultFailed
	}
	return result, nil
}

func (r *Reconciler) commit(ctx context.Context, order domain.Order, n Notification) (Result, error) {
	var applied bool
	err := r.store.WithTx(ctx, func(txCtx context.Context) error {
		a, err := r.resolver.Resolve(txCtx, order.ID, reservation.OutcomeCommit)
		if err != nil {
			return err
		}
		if !a {
			// Hold already terminal without an expired deadline: a concurrent
			// resolver won. Nothing to commit.
			return nil
		}
		applied = true

		if _, err := r.store.CompleteOrder(txCtx, order.ID, n.ReceiptRef); err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]any{"order_id": order.ID, "status": "completed"})
		return r.store.InsertOutbox(txCtx, postgres.OutboxRecord{
			ID:            uuid.New(),
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     "order.completed",
			Payload:       payload,
			DedupeKey:     "order.completed:" + order.ID.String(),
			CreatedAt:     time.Now(),
		})
	})
	if errors.Is(err, domain.ErrReservationExpired) {
		// The hold outlived its deadline unswept. The late success must not
		// re-commit; expire the hold now instead of waiting for the sweep.
		if err := r.resolver.ExpireOrder(ctx, order.ID); err != nil {
			return ResultNoop, err
		}
		return ResultNoop, nil
	}
	if err != nil {
		return ResultCommitted, err
	}
	if !applied {
		return ResultNoop, nil
	}

	if err := r.finishIssuance(ctx, order); err != nil {
		return ResultCommitted, err
	}
	return ResultCommitted, nil
}

// finishIssuance performs the post-commit work that must happen exactly once
// per completed order: ticket minting and the scheduling of activation and
// artifact tasks. Every step is individually idempotent, so rerunning after
// a partial failure is safe.
func (r *Reconciler) finishIssuance(ctx context.Context, order domain.Order) error {
	if _, err := r.issuer.Issue(ctx, order); err != nil {
		return err
	}

	event, err := r.store.GetEvent(ctx, order.EventID)
	if err != nil {
		return err
	}

	activationPayload := map[string]any{"order_ref": order.ID}
	if err := r.scheduler.ScheduleAt(ctx, domain.TaskKindActivateTickets, activationPayload,
		domain.TaskKindActivateTickets+":"+order.ID.String(), domain.ActivationTime(event.StartAt)); err != nil {
		return err
	}

	return r.scheduler.ScheduleAt(ctx, domain.TaskKindTicketArtifacts, activationPayload,
		domain.TaskKindTicketArtifacts+":"+order.ID.String(), time.Now())
}

func (r *Reconciler) fail(ctx context.Context, order domain.Order, reason string) error {
	return r.store.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := r.resolver.Resolve(txCtx, order.ID, reservation.OutcomeRelease); err != nil {
			return err
		}
		if _, err := r.store.FailOrder(txCtx, order.ID, reason); err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]any{"order_id": order.ID, "status": "failed", "reason": reason})
		return r.store.InsertOutbox(txCtx, postgres.OutboxRecord{
			ID:            uuid.New(),
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     "order.failed",
			Payload:       payload,
			DedupeKey:     "order.failed:" + order.ID.String(),
			CreatedAt:     time.Now(),
		})
	})
}
