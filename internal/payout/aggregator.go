package payout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ticket-engine/internal/adapters/postgres"
	"ticket-engine/internal/clock"
	"ticket-engine/internal/domain"
	"ticket-engine/internal/observability"
)

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error)
	BeginEventPayout(ctx context.Context, eventID uuid.UUID) (bool, error)
	FinishEventPayout(ctx context.Context, eventID uuid.UUID, state domain.PayoutState) error
	CompletedOrdersForEvent(ctx context.Context, eventID uuid.UUID) ([]domain.Order, error)
	CreatePayout(ctx context.Context, payout domain.Payout) error
	FinalizePayout(ctx context.Context, payoutID uuid.UUID, status domain.PayoutStatus, reason string, at time.Time) error
	InsertOutbox(ctx context.Context, record postgres.OutboxRecord) error
}

// Disburser is the external payment-out collaborator.
type Disburser interface {
	Disburse(ctx context.Context, payout domain.Payout) error
}

type Auditor interface {
	LogPayout(ctx context.Context, eventID uuid.UUID, status string, net string)
}

// Aggregator computes one payout per completed event. The payout-state CAS
// on the event makes the aggregation fire at most once regardless of how
// many scheduled-task deliveries race.
type Aggregator struct {
	store     Store
	disburser Disburser
	audit     Auditor
	clock     clock.Clock
	logger    observability.Logger
}

func NewAggregator(store Store, disburser Disburser, audit Auditor, clk clock.Clock, logger observability.Logger) *Aggregator {
	return &Aggregator{store: store, disburser: disburser, audit: audit, clock: clk, logger: logger}
}

// Run aggregates the event's completed orders into a single payout and
// invokes disbursement. A duplicate trigger loses the CAS and exits as a
// logged no-op, never an error.
func (a *Aggregator) Run(ctx context.Context, eventID uuid.UUID) error {
	if err := a.begin(ctx, eventID); err != nil {
		if errors.Is(err, domain.ErrPayoutAlreadyRunning) {
			a.logger.WithField("event_id", eventID).Info("payout already processed or in progress, skipping")
			observability.Payouts.WithLabelValues("duplicate_trigger").Inc()
			return nil
		}
		return err
	}

	payout, err := a.aggregate(ctx, eventID)
	if err != nil {
		if ferr := a.store.FinishEventPayout(ctx, eventID, domain.PayoutStateFailed); ferr != nil {
			a.logger.Error("failed to record payout failure state", ferr)
		}
		return err
	}

	return a.disburse(ctx, payout)
}

// begin claims the event's one aggregation slot. Losing the CAS means an
// earlier trigger already ran or is running.
func (a *Aggregator) begin(ctx context.Context, eventID uuid.UUID) error {
	won, err := a.store.BeginEventPayout(ctx, eventID)
	if err != nil {
		return err
	}
	if !won {
		return domain.ErrPayoutAlreadyRunning
	}
	return nil
}

func (a *Aggregator) aggregate(ctx context.Context, eventID uuid.UUID) (domain.Payout, error) {
	now := a.clock.Now()
	payout := domain.Payout{
		ID:             uuid.New(),
		EventID:        eventID,
		Gross:          decimal.Zero,
		PlatformFees:   decimal.Zero,
		ProcessingFees: decimal.Zero,
		NetAmount:      decimal.Zero,
		Status:         domain.PayoutStatusProcessing,
		CreatedAt:      now,
	}

	err := a.store.WithTx(ctx, func(txCtx context.Context) error {
		orders, err := a.store.CompletedOrdersForEvent(txCtx, eventID)
		if err != nil {
			return err
		}
		for _, o := range orders {
			payout.OrdersCount++
			payout.Gross = payout.Gross.Add(o.Subtotal)
			payout.PlatformFees = payout.PlatformFees.Add(o.PlatformFee)
			payout.ProcessingFees = payout.ProcessingFees.Add(o.ProcessingFee)
			payout.NetAmount = payout.NetAmount.Add(o.NetToHost)
		}
		return a.store.CreatePayout(txCtx, payout)
	})
	if err != nil {
		return domain.Payout{}, err
	}
	return payout, nil
}

func (a *Aggregator) disburse(ctx context.Context, payout domain.Payout) error {
	status := domain.PayoutStatusCompleted
	state := domain.PayoutStateDone
	reason := ""
	if err := a.disburser.Disburse(ctx, payout); err != nil {
		status = domain.PayoutStatusFailed
		state = domain.PayoutStateFailed
		reason = err.Error()
		a.logger.WithField("payout_id", payout.ID).WithError(err).Error("disbursement failed")
	}

	now := a.clock.Now()
	err := a.store.WithTx(ctx, func(txCtx context.Context) error {
		if err := a.store.FinalizePayout(txCtx, payout.ID, status, reason, now); err != nil {
			return err
		}
		if err := a.store.FinishEventPayout(txCtx, payout.EventID, state); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]any{
			"payout_id": payout.ID,
			"event_id":  payout.EventID,
			"status":    status,
			"net":       payout.NetAmount,
		})
		return a.store.InsertOutbox(txCtx, postgres.OutboxRecord{
			ID:            uuid.New(),
			AggregateType: "payout",
			AggregateID:   payout.ID,
			EventType:     "payout." + string(status),
			Payload:       payload,
			DedupeKey:     "payout." + string(status) + ":" + payout.ID.String(),
			CreatedAt:     time.Now(),
		})
	})
	if err != nil {
		return err
	}

	observability.Payouts.WithLabelValues(string(status)).Inc()
	if a.audit != nil {
		a.audit.LogPayout(ctx, payout.EventID, string(status), payout.NetAmount.String())
	}
	return nil
}
