package reservation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ticket-engine/internal/clock"
	"ticket-engine/internal/domain"
	"ticket-engine/internal/observability"
)

type fakeHoldStore struct {
	holds        map[uuid.UUID]*domain.Hold
	failedOrders map[uuid.UUID]string
}

func newFakeHoldStore() *fakeHoldStore {
	return &fakeHoldStore{
		holds:        make(map[uuid.UUID]*domain.Hold),
		failedOrders: make(map[uuid.UUID]string),
	}
}

func (s *fakeHoldStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *fakeHoldStore) CreateHolds(ctx context.Context, holds []domain.Hold) error {
	for i := range holds {
		h := holds[i]
		s.holds[h.ID] = &h
	}
	return nil
}

func (s *fakeHoldStore) HoldsForOrder(ctx context.Context, orderRef uuid.UUID) ([]domain.Hold, error) {
	var out []domain.Hold
	for _, h := range s.holds {
		if h.OrderRef == orderRef {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (s *fakeHoldStore) TransitionHolds(ctx context.Context, orderRef uuid.UUID, to domain.HoldStatus, openBefore time.Time) ([]domain.Hold, error) {
	var moved []domain.Hold
	for _, h := range s.holds {
		if h.OrderRef != orderRef || h.Status != domain.HoldStatusOpen {
			continue
		}
		if !openBefore.IsZero() && !h.ExpiresAt.After(openBefore) {
			continue
		}
		h.Status = to
		moved = append(moved, *h)
	}
	return moved, nil
}

func (s *fakeHoldStore) ExpiredOrderRefs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	var refs []uuid.UUID
	for _, h := range s.holds {
		if h.Status == domain.HoldStatusOpen && !h.ExpiresAt.After(now) && !seen[h.OrderRef] {
			seen[h.OrderRef] = true
			refs = append(refs, h.OrderRef)
		}
	}
	return refs, nil
}

func (s *fakeHoldStore) FailOrder(ctx context.Context, orderID uuid.UUID, reason string) (bool, error) {
	if _, done := s.failedOrders[orderID]; done {
		return false, nil
	}
	s.failedOrders[orderID] = reason
	return true, nil
}

type fakeLedger struct {
	available map[string]int
	held      map[string]int
	sold      map[string]int
}

func newFakeLedger(tier string, available int) *fakeLedger {
	return &fakeLedger{
		available: map[string]int{tier: available},
		held:      map[string]int{},
		sold:      map[string]int{},
	}
}

func (l *fakeLedger) TryHold(ctx context.Context, eventID uuid.UUID, tierName string, qty int) error {
	if l.available[tierName] < qty {
		return domain.ErrInsufficientInventory
	}
	l.available[tierName] -= qty
	l.held[tierName] += qty
	return nil
}

func (l *fakeLedger) Commit(ctx context.Context, eventID uuid.UUID, tierName string, qty int) error {
	if l.held[tierName] < qty {
		return domain.ErrConflict
	}
	l.held[tierName] -= qty
	l.sold[tierName] += qty
	return nil
}

func (l *fakeLedger) Release(ctx context.Context, eventID uuid.UUID, tierName string, qty int) error {
	if l.held[tierName] < qty {
		return domain.ErrConflict
	}
	l.held[tierName] -= qty
	l.available[tierName] += qty
	return nil
}

func testOrder(items ...domain.OrderItem) domain.Order {
	return domain.Order{
		ID:      uuid.New(),
		EventID: uuid.New(),
		Items:   items,
	}
}

func item(tier string, qty int) domain.OrderItem {
	return domain.OrderItem{TierName: tier, Quantity: qty, UnitPrice: decimal.RequireFromString("10.00")}
}

func TestCoordinator_Open(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ttl := 10 * time.Minute
	logger := observability.NewLogger()

	t.Run("opens one hold per line item with the ttl deadline", func(t *testing.T) {
		store := newFakeHoldStore()
		ledger := newFakeLedger("GA", 10)
		c := NewCoordinator(store, ledger, clock.NewFixed(now), ttl, logger)

		order := testOrder(item("GA", 3))
		holds, err := c.Open(context.Background(), order)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(holds) != 1 {
			t.Fatalf("expected 1 hold, got %d", len(holds))
		}
		if holds[0].ExpiresAt != now.Add(ttl) {
			t.Fatalf("expected expiry %v, got %v", now.Add(ttl), holds[0].ExpiresAt)
		}
		if ledger.held["GA"] != 3 {
			t.Fatalf("expected 3 held, got %d", ledger.held["GA"])
		}
	})

	t.Run("insufficient inventory on any line fails the whole open", func(t *testing.T) {
		store := newFakeHoldStore()
		ledger := newFakeLedger("GA", 2)
		c := NewCoordinator(store, ledger, clock.NewFixed(now), ttl, logger)

		order := testOrder(item("GA", 5))
		_, err := c.Open(context.Background(), order)
		if !errors.Is(err, domain.ErrInsufficientInventory) {
			t.Fatalf("expected ErrInsufficientInventory, got %v", err)
		}
		if len(store.holds) != 0 {
			t.Fatalf("expected no holds persisted, got %d", len(store.holds))
		}
	})
}

func TestCoordinator_Resolve(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ttl := 10 * time.Minute
	logger := observability.NewLogger()

	open := func(t *testing.T, c *Coordinator, ledger *fakeLedger, order domain.Order) {
		t.Helper()
		if _, err := c.Open(context.Background(), order); err != nil {
			t.Fatalf("open: %v", err)
		}
	}

	t.Run("commit moves holds to COMMITTED and inventory to sold", func(t *testing.T) {
		store := newFakeHoldStore()
		ledger := newFakeLedger("GA", 10)
		c := NewCoordinator(store, ledger, clock.NewFixed(now), ttl, logger)
		order := testOrder(item("GA", 2))
		open(t, c, ledger, order)

		applied, err := c.Resolve(context.Background(), order.ID, OutcomeCommit)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !applied {
			t.Fatal("expected resolution to apply")
		}
		if ledger.sold["GA"] != 2 || ledger.held["GA"] != 0 {
			t.Fatalf("expected 2 sold / 0 held, got %d/%d", ledger.sold["GA"], ledger.held["GA"])
		}
	})

	t.Run("second resolution is a no-op", func(t *testing.T) {
		store := newFakeHoldStore()
		ledger := newFakeLedger("GA", 10)
		c := NewCoordinator(store, ledger, clock.NewFixed(now), ttl, logger)
		order := testOrder(item("GA", 2))
		open(t, c, ledger, order)

		if _, err := c.Resolve(context.Background(), order.ID, OutcomeCommit); err != nil {
			t.Fatalf("first resolve: %v", err)
		}
		applied, err := c.Resolve(context.Background(), order.ID, OutcomeRelease)
		if err != nil {
			t.Fatalf("second resolve: %v", err)
		}
		if applied {
			t.Fatal("expected second resolution not to apply")
		}
		if ledger.sold["GA"] != 2 {
			t.Fatalf("inventory changed by duplicate resolution: %d sold", ledger.sold["GA"])
		}
	})

	t.Run("release returns inventory to available", func(t *testing.T) {
		store := newFakeHoldStore()
		ledger := newFakeLedger("GA", 10)
		c := NewCoordinator(store, ledger, clock.NewFixed(now), ttl, logger)
		order := testOrder(item("GA", 4))
		open(t, c, ledger, order)

		applied, err := c.Resolve(context.Background(), order.ID, OutcomeRelease)
		if err != nil || !applied {
			t.Fatalf("expected applied release, got applied=%v err=%v", applied, err)
		}
		if ledger.available["GA"] != 10 {
			t.Fatalf("expected all inventory back, got %d", ledger.available["GA"])
		}
	})

	t.Run("commit after expiry deadline expires the hold instead", func(t *testing.T) {
		store := newFakeHoldStore()
		ledger := newFakeLedger("GA", 10)
		clk := clock.NewFixed(now)
		c := NewCoordinator(store, ledger, clk, ttl, logger)
		order := testOrder(item("GA", 2))
		open(t, c, ledger, order)

		late := NewCoordinator(store, ledger, clock.NewFixed(now.Add(ttl+time.Minute)), ttl, logger)
		applied, err := late.Resolve(context.Background(), order.ID, OutcomeCommit)
		if !errors.Is(err, domain.ErrReservationExpired) {
			t.Fatalf("expected ErrReservationExpired, got %v", err)
		}
		if applied {
			t.Fatal("expected commit not to apply")
		}
		// Resolve only detects the overdue hold; its transaction rolled back,
		// so the units are still held until the expiry is persisted.
		if ledger.held["GA"] != 2 {
			t.Fatalf("expected 2 still held after detection, got %d", ledger.held["GA"])
		}

		if err := late.ExpireOrder(context.Background(), order.ID); err != nil {
			t.Fatalf("expire order: %v", err)
		}
		if ledger.available["GA"] != 10 || ledger.sold["GA"] != 0 {
			t.Fatalf("expected inventory released, got available=%d sold=%d", ledger.available["GA"], ledger.sold["GA"])
		}
		if store.failedOrders[order.ID] == "" {
			t.Fatal("expected order to be failed on expiry")
		}
	})
}

func TestCoordinator_SweepExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ttl := 10 * time.Minute
	logger := observability.NewLogger()

	store := newFakeHoldStore()
	ledger := newFakeLedger("GA", 10)
	c := NewCoordinator(store, ledger, clock.NewFixed(now), ttl, logger)

	overdue := testOrder(item("GA", 3))
	current := testOrder(item("GA", 2))
	if _, err := c.Open(context.Background(), overdue); err != nil {
		t.Fatalf("open overdue: %v", err)
	}
	later := NewCoordinator(store, ledger, clock.NewFixed(now.Add(5*time.Minute)), ttl, logger)
	if _, err := later.Open(context.Background(), current); err != nil {
		t.Fatalf("open current: %v", err)
	}

	swept, err := c.SweepExpired(context.Background(), now.Add(ttl+time.Second))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 order swept, got %d", swept)
	}
	if ledger.held["GA"] != 2 {
		t.Fatalf("expected the current hold untouched, got %d held", ledger.held["GA"])
	}
	if store.failedOrders[overdue.ID] == "" {
		t.Fatal("expected overdue order failed")
	}
	if _, failed := store.failedOrders[current.ID]; failed {
		t.Fatal("current order must not be failed")
	}
}
