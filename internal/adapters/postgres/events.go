package postgres

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"ticket-engine/internal/domain"
)

func (s *Store) CreateEvent(ctx context.Context, event domain.Event) error {
	_, err := s.exec(ctx, `
		INSERT INTO events (id, host_id, name, start_at, status, payout_state, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
	`, event.ID, event.HostID, event.Name, event.StartAt, event.Status, event.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return errors.Wrap(err, "create event")
}

func (s *Store) GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
	var e domain.Event
	err := s.queryRow(ctx, `
		SELECT id, host_id, name, start_at, status, payout_state, created_at
		FROM events WHERE id = $1
	`, eventID).Scan(&e.ID, &e.HostID, &e.Name, &e.StartAt, &e.Status, &e.PayoutState, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get event")
	}
	return &e, nil
}

func (s *Store) CompleteEvent(ctx context.Context, eventID uuid.UUID) (bool, error) {
	result, err := s.exec(ctx, `
		UPDATE events SET status = 'completed' WHERE id = $1 AND status = 'published'
	`, eventID)
	if err != nil {
		return false, errors.Wrap(err, "complete event")
	}
	return result.RowsAffected() > 0, nil
}

// BeginEventPayout is the check-and-set that makes payout aggregation fire at
// most once per event, no matter how many task deliveries race.
func (s *Store) BeginEventPayout(ctx context.Context, eventID uuid.UUID) (bool, error) {
	result, err := s.exec(ctx, `
		UPDATE events SET payout_state = 'processing'
		WHERE id = $1 AND payout_state = 'pending'
	`, eventID)
	if err != nil {
		return false, errors.Wrap(err, "begin event payout")
	}
	return result.RowsAffected() > 0, nil
}

func (s *Store) FinishEventPayout(ctx context.Context, eventID uuid.UUID, state domain.PayoutState) error {
	_, err := s.exec(ctx, `
		UPDATE events SET payout_state = $2 WHERE id = $1 AND payout_state = 'processing'
	`, eventID, state)
	return errors.Wrap(err, "finish event payout")
}
