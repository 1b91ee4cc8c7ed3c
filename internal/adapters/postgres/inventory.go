package postgres

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"ticket-engine/internal/domain"
)

func (s *Store) CreateTier(ctx context.Context, tier domain.Tier) error {
	_, err := s.exec(ctx, `
		INSERT INTO tiers (event_id, name, unit_price, capacity, available, held, sold)
		VALUES ($1, $2, $3, $4, $4, 0, 0)
	`, tier.EventID, tier.Name, tier.UnitPrice, tier.Capacity)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

func (s *Store) GetTier(ctx context.Context, eventID uuid.UUID, name string) (domain.Tier, error) {
	var t domain.Tier
	err := s.queryRow(ctx, `
		SELECT event_id, name, unit_price, capacity, available, held, sold
		FROM tiers WHERE event_id = $1 AND name = $2
	`, eventID, name).Scan(&t.EventID, &t.Name, &t.UnitPrice, &t.Capacity, &t.Available, &t.Held, &t.Sold)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Tier{}, domain.ErrTierNotFound
	}
	if err != nil {
		return domain.Tier{}, errors.Wrap(err, "get tier")
	}
	return t, nil
}

// MoveAvailableToHeld is the per-tier serialization point for oversell
// prevention: the quantity guard and the counter move are one statement.
func (s *Store) MoveAvailableToHeld(ctx context.Context, eventID uuid.UUID, name string, qty int) (bool, error) {
	result, err := s.exec(ctx, `
		UPDATE tiers SET available = available - $3, held = held + $3
		WHERE event_id = $1 AND name = $2 AND available >= $3
	`, eventID, name, qty)
	if err != nil {
		return false, errors.Wrap(err, "move available to held")
	}
	return result.RowsAffected() > 0, nil
}

func (s *Store) MoveHeldToSold(ctx context.Context, eventID uuid.UUID, name string, qty int) (bool, error) {
	result, err := s.exec(ctx, `
		UPDATE tiers SET held = held - $3, sold = sold + $3
		WHERE event_id = $1 AND name = $2 AND held >= $3
	`, eventID, name, qty)
	if err != nil {
		return false, errors.Wrap(err, "move held to sold")
	}
	return result.RowsAffected() > 0, nil
}

func (s *Store) MoveHeldToAvailable(ctx context.Context, eventID uuid.UUID, name string, qty int) (bool, error) {
	result, err := s.exec(ctx, `
		UPDATE tiers SET held = held - $3, available = available + $3
		WHERE event_id = $1 AND name = $2 AND held >= $3
	`, eventID, name, qty)
	if err != nil {
		return false, errors.Wrap(err, "move held to available")
	}
	return result.RowsAffected() > 0, nil
}
