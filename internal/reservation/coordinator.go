package reservation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ticket-engine/internal/clock"
	"ticket-engine/internal/domain"
	"ticket-engine/internal/observability"
)

type Outcome string

const (
	OutcomeCommit  Outcome = "commit"
	OutcomeRelease Outcome = "release"
)

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateHolds(ctx context.Context, holds []domain.Hold) error
	HoldsForOrder(ctx context.Context, orderRef uuid.UUID) ([]domain.Hold, error)
	TransitionHolds(ctx context.Context, orderRef uuid.UUID, to domain.HoldStatus, openBefore time.Time) ([]domain.Hold, error)
	ExpiredOrderRefs(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	FailOrder(ctx context.Context, orderID uuid.UUID, reason string) (bool, error)
}

type Ledger interface {
	TryHold(ctx context.Context, eventID uuid.UUID, tierName string, qty int) error
	Commit(ctx context.Context, eventID uuid.UUID, tierName string, qty int) error
	Release(ctx context.Context, eventID uuid.UUID, tierName string, qty int) error
}

// Coordinator owns the hold state machine: OPEN to exactly one of COMMITTED,
// RELEASED or EXPIRED. Resolution and the expiry sweep race safely because
// both funnel through the store's one-shot OPEN transition.
type Coordinator struct {
	store   Store
	ledger  Ledger
	clock   clock.Clock
	holdTTL time.Duration
	logger  observability.Logger
}

func NewCoordinator(store Store, ledger Ledger, clk clock.Clock, holdTTL time.Duration, logger observability.Logger) *Coordinator {
	return &Coordinator{
		store:   store,
		ledger:  ledger,
		clock:   clk,
		holdTTL: holdTTL,
		logger:  logger,
	}
}

// Open acquires one hold per line item, all or nothing: a failure on any line
// rolls the transaction back, returning every already-acquired line to
// available.
func (c *Coordinator) Open(ctx context.Context, order domain.Order) ([]domain.Hold, error) {
	now := c.clock.Now()
	holds := make([]domain.Hold, 0, len(order.Items))
	for _, item := range order.Items {
		holds = append(holds, domain.Hold{
			ID:        uuid.New(),
			OrderRef:  order.ID,
			EventID:   order.EventID,
			TierName:  item.TierName,
			Quantity:  item.Quantity,
			Status:    domain.HoldStatusOpen,
			CreatedAt: now,
			ExpiresAt: now.Add(c.holdTTL),
		})
	}

	err := c.store.WithTx(ctx, func(txCtx context.Context) error {
		for _, item := range order.Items {
			if err := c.ledger.TryHold(txCtx, order.EventID, item.TierName, item.Quantity); err != nil {
				return err
			}
		}
		return c.store.CreateHolds(txCtx, holds)
	})
	if err != nil {
		return nil, err
	}

	observability.HoldsOpened.Inc()
	return holds, nil
}

// Resolve drives the order's holds to COMMITTED or RELEASED. The first
// resolver wins; a later call finds no OPEN rows and reports applied=false.
// A commit attempted after the expiry deadline expires the hold instead and
// returns ErrReservationExpired.
func (c *Coordinator) Resolve(ctx context.Context, orderRef uuid.UUID, outcome Outcome) (applied bool, err error) {
	now := c.clock.Now()

	err = c.store.WithTx(ctx, func(txCtx context.Context) error {
		to := domain.HoldStatusReleased
		openBefore := time.Time{}
		if outcome == OutcomeCommit {
			to = domain.HoldStatusCommitted
			openBefore = now
		}

		moved, err := c.store.TransitionHolds(txCtx, orderRef, to, openBefore)
		if err != nil {
			return err
		}

		if len(moved) == 0 {
			if outcome == OutcomeCommit {
				return c.expireIfOverdue(txCtx, orderRef, now)
			}
			return nil
		}

		for _, h := range moved {
			if outcome == OutcomeCommit {
				err = c.ledger.Commit(txCtx, h.EventID, h.TierName, h.Quantity)
			} else {
				err = c.ledger.Release(txCtx, h.EventID, h.TierName, h.Quantity)
			}
			if err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if applied {
		observability.HoldResolutions.WithLabelValues(string(outcome)).Inc()
	}
	return applied, nil
}

// expireIfOverdue is the detection half of the lazy sweep: a commit that
// found no OPEN-and-current hold checks whether the hold is merely overdue.
// The returned ErrReservationExpired aborts the caller's transaction, so the
// expiry itself must be persisted separately via ExpireOrder.
func (c *Coordinator) expireIfOverdue(ctx context.Context, orderRef uuid.UUID, now time.Time) error {
	holds, err := c.store.HoldsForOrder(ctx, orderRef)
	if err != nil {
		return err
	}
	for _, h := range holds {
		if h.Status == domain.HoldStatusOpen && !h.ExpiresAt.After(now) {
			return domain.ErrReservationExpired
		}
	}
	return nil
}

// ExpireOrder expires the order's OPEN holds in a transaction of its own,
// releasing inventory and failing the still-pending order. Callers persist an
// expiry detected inside a transaction that has since rolled back.
func (c *Coordinator) ExpireOrder(ctx context.Context, orderRef uuid.UUID) error {
	return c.store.WithTx(ctx, func(txCtx context.Context) error {
		return c.expireOrder(txCtx, orderRef)
	})
}

// SweepExpired releases every overdue OPEN hold and fails its still-pending
// order. Each order is handled in its own transaction so one bad order does
// not wedge the sweep.
func (c *Coordinator) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	refs, err := c.store.ExpiredOrderRefs(ctx, now)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			return c.store.WithTx(gctx, func(txCtx context.Context) error {
				return c.expireOrder(txCtx, ref)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(refs), nil
}

func (c *Coordinator) expireOrder(ctx context.Context, orderRef uuid.UUID) error {
	moved, err := c.store.TransitionHolds(ctx, orderRef, domain.HoldStatusExpired, time.Time{})
	if err != nil {
		return err
	}
	if len(moved) == 0 {
		return nil
	}
	for _, h := range moved {
		if err := c.ledger.Release(ctx, h.EventID, h.TierName, h.Quantity); err != nil {
			return err
		}
	}
	if _, err := c.store.FailOrder(ctx, orderRef, "reservation expired"); err != nil {
		return err
	}
	observability.HoldResolutions.WithLabelValues("expire").Inc()
	return nil
}
