package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"ticket-engine/internal/domain"
)

// InsertTickets mints ticket rows, skipping any (order_ref, ticket_no) pair
// that already exists so a replayed issuance cannot double-mint. Returns the
// number of rows actually inserted.
func (s *Store) InsertTickets(ctx context.Context, tickets []domain.Ticket) (int, error) {
	inserted := 0
	for _, t := range tickets {
		result, err := s.exec(ctx, `
			INSERT INTO tickets (id, order_ref, event_id, tier_name, ticket_no, qr_code_id, status, issued_at)
			VALUES ($1, $2, $3, $4, $5, $6, 'not_active', $7)
			ON CONFLICT (order_ref, ticket_no) DO NOTHING
		`, t.ID, t.OrderRef, t.EventID, t.TierName, t.TicketNo, t.QRCodeID, t.IssuedAt)
		if err != nil {
			return inserted, errors.Wrap(err, "insert ticket")
		}
		inserted += int(result.RowsAffected())
	}
	return inserted, nil
}

func (s *Store) GetTicketByCredential(ctx context.Context, qrCodeID string) (*domain.Ticket, error) {
	var t domain.Ticket
	err := s.queryRow(ctx, `
		SELECT id, order_ref, event_id, tier_name, ticket_no, qr_code_id, status, issued_at,
			COALESCE(redeemed_by, ''), redeemed_at, COALESCE(document_url, ''), COALESCE(image_url, '')
		FROM tickets WHERE qr_code_id = $1
	`, qrCodeID).Scan(&t.ID, &t.OrderRef, &t.EventID, &t.TierName, &t.TicketNo, &t.QRCodeID,
		&t.Status, &t.IssuedAt, &t.RedeemedBy, &t.RedeemedAt, &t.DocumentURL, &t.ImageURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get ticket by credential")
	}
	return &t, nil
}

func (s *Store) TicketsForOrder(ctx context.Context, orderRef uuid.UUID) ([]domain.Ticket, error) {
	rows, err := s.query(ctx, `
		SELECT id, order_ref, event_id, tier_name, ticket_no, qr_code_id, status, issued_at,
			COALESCE(redeemed_by, ''), redeemed_at, COALESCE(document_url, ''), COALESCE(image_url, '')
		FROM tickets WHERE order_ref = $1 ORDER BY ticket_no ASC
	`, orderRef)
	if err != nil {
		return nil, errors.Wrap(err, "tickets for order")
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		if err := rows.Scan(&t.ID, &t.OrderRef, &t.EventID, &t.TierName, &t.TicketNo, &t.QRCodeID,
			&t.Status, &t.IssuedAt, &t.RedeemedBy, &t.RedeemedAt, &t.DocumentURL, &t.ImageURL); err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// ActivateTicket is idempotent via its status guard: a ticket that is
// already valid yields zero rows, which the caller treats as success.
func (s *Store) ActivateTicket(ctx context.Context, ticketID uuid.UUID) (bool, error) {
	result, err := s.exec(ctx, `
		UPDATE tickets SET status = 'valid' WHERE id = $1 AND status = 'not_active'
	`, ticketID)
	if err != nil {
		return false, errors.Wrap(err, "activate ticket")
	}
	return result.RowsAffected() > 0, nil
}

func (s *Store) ActivateTicketsForOrder(ctx context.Context, orderRef uuid.UUID) (int, error) {
	result, err := s.exec(ctx, `
		UPDATE tickets SET status = 'valid' WHERE order_ref = $1 AND status = 'not_active'
	`, orderRef)
	if err != nil {
		return 0, errors.Wrap(err, "activate tickets for order")
	}
	return int(result.RowsAffected()), nil
}

// RedeemTicket is the single-scan guarantee: the status guard makes exactly
// one of any number of concurrent scans win.
func (s *Store) RedeemTicket(ctx context.Context, ticketID uuid.UUID, scannerID string, at time.Time) (bool, error) {
	result, err := s.exec(ctx, `
		UPDATE tickets SET status = 'already_used', redeemed_by = $2, redeemed_at = $3
		WHERE id = $1 AND status = 'valid'
	`, ticketID, scannerID, at)
	if err != nil {
		return false, errors.Wrap(err, "redeem ticket")
	}
	return result.RowsAffected() > 0, nil
}

func (s *Store) CancelTicket(ctx context.Context, ticketID uuid.UUID) (bool, error) {
	result, err := s.exec(ctx, `
		UPDATE tickets SET status = 'cancelled' WHERE id = $1 AND status IN ('not_active', 'valid')
	`, ticketID)
	if err != nil {
		return false, errors.Wrap(err, "cancel ticket")
	}
	return result.RowsAffected() > 0, nil
}

func (s *Store) SetTicketArtifacts(ctx context.Context, ticketID uuid.UUID, documentURL, imageURL string) error {
	_, err := s.exec(ctx, `
		UPDATE tickets SET document_url = $2, image_url = $3 WHERE id = $1
	`, ticketID, documentURL, imageURL)
	return errors.Wrap(err, "set ticket artifacts")
}
