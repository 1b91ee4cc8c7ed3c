package ticket

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"ticket-engine/internal/artifact"
	"ticket-engine/internal/clock"
	"ticket-engine/internal/domain"
	"ticket-engine/internal/observability"
)

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	InsertTickets(ctx context.Context, tickets []domain.Ticket) (int, error)
	MarkTicketsIssued(ctx context.Context, orderID uuid.UUID) (bool, error)
	GetTicketByCredential(ctx context.Context, qrCodeID string) (*domain.Ticket, error)
	TicketsForOrder(ctx context.Context, orderRef uuid.UUID) ([]domain.Ticket, error)
	ActivateTicket(ctx context.Context, ticketID uuid.UUID) (bool, error)
	ActivateTicketsForOrder(ctx context.Context, orderRef uuid.UUID) (int, error)
	RedeemTicket(ctx context.Context, ticketID uuid.UUID, scannerID string, at time.Time) (bool, error)
	CancelTicket(ctx context.Context, ticketID uuid.UUID) (bool, error)
	SetTicketArtifacts(ctx context.Context, ticketID uuid.UUID, documentURL, imageURL string) error
	GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error)
}

// Manager owns the ticket state machine: not_active → valid → already_used,
// with cancellation from the two live states.
type Manager struct {
	store     Store
	clock     clock.Clock
	artifacts artifact.Producer
	logger    observability.Logger
}

func NewManager(store Store, clk clock.Clock, artifacts artifact.Producer, logger observability.Logger) *Manager {
	return &Manager{store: store, clock: clk, artifacts: artifacts, logger: logger}
}

// Issue mints one not_active ticket per purchased unit. The issuance flag on
// the order and the (order_ref, ticket_no) constraint together make a
// replayed issuance a no-op that returns the already-minted tickets.
func (m *Manager) Issue(ctx context.Context, order domain.Order) ([]domain.Ticket, error) {
	var tickets []domain.Ticket
	err := m.store.WithTx(ctx, func(txCtx context.Context) error {
		first, err := m.store.MarkTicketsIssued(txCtx, order.ID)
		if err != nil {
			return err
		}
		if !first {
			tickets, err = m.store.TicketsForOrder(txCtx, order.ID)
			return err
		}

		now := m.clock.Now()
		ticketNo := 0
		for _, item := range order.Items {
			for i := 0; i < item.Quantity; i++ {
				ticketNo++
				id := uuid.New()
				tickets = append(tickets, domain.Ticket{
					ID:       id,
					OrderRef: order.ID,
					EventID:  order.EventID,
					TierName: item.TierName,
					TicketNo: ticketNo,
					QRCodeID: domain.NewCredential(id, order.EventID, now),
					Status:   domain.TicketStatusNotActive,
					IssuedAt: now,
				})
			}
		}

		inserted, err := m.store.InsertTickets(txCtx, tickets)
		if err != nil {
			return err
		}
		observability.TicketsIssued.Add(float64(inserted))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// ActivateOrder flips an order's tickets to valid once the activation
// threshold has passed. Returning ErrNotYetDue before the threshold lets the
// scheduler push the task back instead of dropping it.
var ErrNotYetDue = errors.New("activation threshold not reached")

func (m *Manager) ActivateOrder(ctx context.Context, orderRef uuid.UUID) (int, error) {
	tickets, err := m.store.TicketsForOrder(ctx, orderRef)
	if err != nil {
		return 0, err
	}
	if len(tickets) == 0 {
		return 0, nil
	}

	event, err := m.store.GetEvent(ctx, tickets[0].EventID)
	if err != nil {
		return 0, err
	}
	if m.clock.Now().Before(domain.ActivationTime(event.StartAt)) {
		return 0, ErrNotYetDue
	}

	return m.store.ActivateTicketsForOrder(ctx, orderRef)
}

// ScanResult reports the ticket's resulting (or current, on rejection)
// status so a gate operator can tell already-used from not-yet-active from
// invalid.
type ScanResult struct {
	TicketID    uuid.UUID
	Status      domain.TicketStatus
	RedeemedAt  *time.Time
	RedeemedBy  string
	ActivatesAt *time.Time
}

// Redeem accepts a credential and performs the one-time valid→already_used
// transition. A not_active ticket past the activation threshold is activated
// first; the two activation paths share domain.ActivationTime. Of any number
// of concurrent scans exactly one succeeds.
func (m *Manager) Redeem(ctx context.Context, qrCodeID, scannerID string) (ScanResult, error) {
	now := m.clock.Now()

	t, err := m.store.GetTicketByCredential(ctx, qrCodeID)
	if errors.Is(err, domain.ErrNotFound) {
		observability.Scans.WithLabelValues("invalid").Inc()
		return ScanResult{Status: domain.TicketStatusInvalid}, domain.ErrInvalidCredential
	}
	if err != nil {
		return ScanResult{}, err
	}

	switch t.Status {
	case domain.TicketStatusCancelled:
		observability.Scans.WithLabelValues("cancelled").Inc()
		return ScanResult{TicketID: t.ID, Status: t.Status}, domain.ErrTicketCancelled
	case domain.TicketStatusInvalid:
		observability.Scans.WithLabelValues("invalid").Inc()
		return ScanResult{TicketID: t.ID, Status: t.Status}, domain.ErrInvalidCredential
	case domain.TicketStatusAlreadyUsed:
		observability.Scans.WithLabelValues("already_used").Inc()
		return ScanResult{TicketID: t.ID, Status: t.Status, RedeemedAt: t.RedeemedAt, RedeemedBy: t.RedeemedBy}, domain.ErrAlreadyRedeemed
	case domain.TicketStatusNotActive:
		event, err := m.store.GetEvent(ctx, t.EventID)
		if err != nil {
			return ScanResult{}, err
		}
		activatesAt := domain.ActivationTime(event.StartAt)
		if now.Before(activatesAt) {
			observability.Scans.WithLabelValues("not_active").Inc()
			return ScanResult{TicketID: t.ID, Status: t.Status, ActivatesAt: &activatesAt}, &domain.NotYetActiveError{ActivatesAt: activatesAt}
		}
		// Lazy activation; a concurrent activator winning first is fine.
		if _, err := m.store.ActivateTicket(ctx, t.ID); err != nil {
			return ScanResult{}, err
		}
	}

	ok, err := m.store.RedeemTicket(ctx, t.ID, scannerID, now)
	if err != nil {
		return ScanResult{}, err
	}
	if !ok {
		// Lost the race; report the state the winner left behind.
		current, err := m.store.GetTicketByCredential(ctx, qrCodeID)
		if err != nil {
			return ScanResult{}, err
		}
		observability.Scans.WithLabelValues("already_used").Inc()
		return ScanResult{TicketID: current.ID, Status: current.Status, RedeemedAt: current.RedeemedAt, RedeemedBy: current.RedeemedBy}, domain.ErrAlreadyRedeemed
	}

	observability.Scans.WithLabelValues("redeemed").Inc()
	return ScanResult{TicketID: t.ID, Status: domain.TicketStatusAlreadyUsed, RedeemedAt: &now, RedeemedBy: scannerID}, nil
}

// Cancel is allowed only from not_active or valid and is irreversible.
func (m *Manager) Cancel(ctx context.Context, ticketID uuid.UUID) error {
	ok, err := m.store.CancelTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrConflict
	}
	return nil
}

// GenerateArtifacts renders and stores presentation artifacts for every
// ticket of the order that does not have them yet. Retried independently of
// payment state via the scheduler.
func (m *Manager) GenerateArtifacts(ctx context.Context, orderRef uuid.UUID) error {
	tickets, err := m.store.TicketsForOrder(ctx, orderRef)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		return nil
	}

	event, err := m.store.GetEvent(ctx, tickets[0].EventID)
	if err != nil {
		return err
	}

	for _, t := range tickets {
		if t.DocumentURL != "" && t.ImageURL != "" {
			continue
		}
		arts, err := m.artifacts.Render(ctx, t, *event)
		if err != nil {
			return errors.Wrapf(err, "render artifacts for ticket %s", t.ID)
		}
		if err := m.store.SetTicketArtifacts(ctx, t.ID, arts.DocumentURL, arts.ImageURL); err != nil {
			return err
		}
	}
	return nil
}
