package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"ticket-engine/internal/domain"
)

func (s *Store) CreateHolds(ctx context.Context, holds []domain.Hold) error {
	for _, h := range holds {
		_, err := s.exec(ctx, `
			INSERT INTO holds (id, order_ref, event_id, tier_name, quantity, status, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, 'OPEN', $6, $7)
		`, h.ID, h.OrderRef, h.EventID, h.TierName, h.Quantity, h.CreatedAt, h.ExpiresAt)
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		if err != nil {
			return errors.Wrap(err, "create hold")
		}
	}
	return nil
}

func (s *Store) HoldsForOrder(ctx context.Context, orderRef uuid.UUID) ([]domain.Hold, error) {
	rows, err := s.query(ctx, `
		SELECT id, order_ref, event_id, tier_name, quantity, status, created_at, expires_at
		FROM holds WHERE order_ref = $1
	`, orderRef)
	if err != nil {
		return nil, errors.Wrap(err, "holds for order")
	}
	defer rows.Close()
	return scanHolds(rows)
}

// TransitionHolds moves every OPEN hold of the order to the given terminal
// status and returns the rows it moved. An empty result means another
// resolver already won; the caller treats that as a no-op. A non-zero
// openBefore restricts the transition to holds whose deadline is still ahead
// of it, which keeps a late commit from resurrecting an expired hold.
func (s *Store) TransitionHolds(ctx context.Context, orderRef uuid.UUID, to domain.HoldStatus, openBefore time.Time) ([]domain.Hold, error) {
	query := `
		UPDATE holds SET status = $2
		WHERE order_ref = $1 AND status = 'OPEN'
		RETURNING id, order_ref, event_id, tier_name, quantity, status, created_at, expires_at`
	args := []any{orderRef, to}
	if !openBefore.IsZero() {
		query = `
		UPDATE holds SET status = $2
		WHERE order_ref = $1 AND status = 'OPEN' AND expires_at > $3
		RETURNING id, order_ref, event_id, tier_name, quantity, status, created_at, expires_at`
		args = append(args, openBefore)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "transition holds")
	}
	defer rows.Close()
	return scanHolds(rows)
}

func (s *Store) ExpiredOrderRefs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.query(ctx, `
		SELECT DISTINCT order_ref FROM holds
		WHERE status = 'OPEN' AND expires_at <= $1
	`, now)
	if err != nil {
		return nil, errors.Wrap(err, "expired order refs")
	}
	defer rows.Close()

	var refs []uuid.UUID
	for rows.Next() {
		var ref uuid.UUID
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func scanHolds(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]domain.Hold, error) {
	var holds []domain.Hold
	for rows.Next() {
		var h domain.Hold
		if err := rows.Scan(&h.ID, &h.OrderRef, &h.EventID, &h.TierName, &h.Quantity, &h.Status, &h.CreatedAt, &h.ExpiresAt); err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}
