package inventory

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"ticket-engine/internal/domain"
	"ticket-engine/internal/observability"
)

// Store is the atomic counter contract the ledger runs on. Each Move method
// must apply its quantity guard and counter adjustment in one conditional
// write, returning false when the guard fails.
type Store interface {
	GetTier(ctx context.Context, eventID uuid.UUID, name string) (domain.Tier, error)
	MoveAvailableToHeld(ctx context.Context, eventID uuid.UUID, name string, qty int) (bool, error)
	MoveHeldToSold(ctx context.Context, eventID uuid.UUID, name string, qty int) (bool, error)
	MoveHeldToAvailable(ctx context.Context, eventID uuid.UUID, name string, qty int) (bool, error)
}

// Ledger is the single serialization point for oversell prevention. Two
// concurrent TryHold calls for the last unit cannot both succeed because the
// store's conditional write admits only one.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) TryHold(ctx context.Context, eventID uuid.UUID, tierName string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidInput
	}

	ok, err := l.store.MoveAvailableToHeld(ctx, eventID, tierName, qty)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := l.store.GetTier(ctx, eventID, tierName); err != nil {
			return err
		}
		observability.InventoryRejections.Inc()
		return domain.ErrInsufficientInventory
	}
	return nil
}

// Commit moves quantity from held to sold. Callers gate it behind a one-shot
// hold transition, which is what makes a duplicate commit a no-op before it
// ever reaches the ledger.
func (l *Ledger) Commit(ctx context.Context, eventID uuid.UUID, tierName string, qty int) error {
	ok, err := l.store.MoveHeldToSold(ctx, eventID, tierName, qty)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(domain.ErrConflict, "commit %d on tier %s without matching held quantity", qty, tierName)
	}
	return nil
}

func (l *Ledger) Release(ctx context.Context, eventID uuid.UUID, tierName string, qty int) error {
	ok, err := l.store.MoveHeldToAvailable(ctx, eventID, tierName, qty)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(domain.ErrConflict, "release %d on tier %s without matching held quantity", qty, tierName)
	}
	return nil
}
