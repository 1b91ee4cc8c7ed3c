package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"ticket-engine/internal/domain"
)

func (s *Store) CreatePayout(ctx context.Context, payout domain.Payout) error {
	_, err := s.exec(ctx, `
		INSERT INTO payouts (id, event_id, orders_count, gross, platform_fees, processing_fees,
			net_amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, payout.ID, payout.EventID, payout.OrdersCount, payout.Gross, payout.PlatformFees,
		payout.ProcessingFees, payout.NetAmount, payout.Status, payout.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return errors.Wrap(err, "create payout")
}

func (s *Store) FinalizePayout(ctx context.Context, payoutID uuid.UUID, status domain.PayoutStatus, reason string, at time.Time) error {
	_, err := s.exec(ctx, `
		UPDATE payouts SET status = $2, failure_reason = NULLIF($3, ''), finalized_at = $4
		WHERE id = $1 AND status = 'processing'
	`, payoutID, status, reason, at)
	return errors.Wrap(err, "finalize payout")
}

func (s *Store) GetPayoutForEvent(ctx context.Context, eventID uuid.UUID) (*domain.Payout, error) {
	var p domain.Payout
	err := s.queryRow(ctx, `
		SELECT id, event_id, orders_count, gross, platform_fees, processing_fees, net_amount,
			status, COALESCE(failure_reason, ''), created_at, finalized_at
		FROM payouts WHERE event_id = $1
	`, eventID).Scan(&p.ID, &p.EventID, &p.OrdersCount, &p.Gross, &p.PlatformFees,
		&p.ProcessingFees, &p.NetAmount, &p.Status, &p.FailureReason, &p.CreatedAt, &p.FinalizedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get payout for event")
	}
	return &p, nil
}
