package postgres

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"ticket-engine/internal/domain"
)

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) error {
	_, err := s.exec(ctx, `
		INSERT INTO orders (id, event_id, buyer_id, payer_handle, subtotal, platform_fee,
			processing_fee, net_to_host, payment_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9)
	`, order.ID, order.EventID, order.BuyerID, order.PayerHandle, order.Subtotal,
		order.PlatformFee, order.ProcessingFee, order.NetToHost, order.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "create order")
	}

	for _, item := range order.Items {
		_, err := s.exec(ctx, `
			INSERT INTO order_items (order_id, tier_name, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
		`, order.ID, item.TierName, item.Quantity, item.UnitPrice)
		if err != nil {
			return errors.Wrap(err, "create order item")
		}
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	var o domain.Order
	err := s.queryRow(ctx, `
		SELECT id, event_id, buyer_id, payer_handle, subtotal, platform_fee, processing_fee,
			net_to_host, payment_status, COALESCE(correlation_id, ''), COALESCE(receipt_ref, ''),
			COALESCE(failure_reason, ''), tickets_issued, created_at
		FROM orders WHERE id = $1
	`, orderID).Scan(&o.ID, &o.EventID, &o.BuyerID, &o.PayerHandle, &o.Subtotal, &o.PlatformFee,
		&o.ProcessingFee, &o.NetToHost, &o.PaymentStatus, &o.CorrelationID, &o.ReceiptRef,
		&o.FailureReason, &o.TicketsIssued, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}

	items, err := s.orderItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func (s *Store) GetOrderByCorrelationID(ctx context.Context, correlationID string) (*domain.Order, error) {
	var id uuid.UUID
	err := s.queryRow(ctx, `SELECT id FROM orders WHERE correlation_id = $1`, correlationID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order by correlation id")
	}
	return s.GetOrder(ctx, id)
}

func (s *Store) orderItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := s.query(ctx, `
		SELECT tier_name, quantity, unit_price FROM order_items WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "order items")
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.TierName, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) SetOrderCorrelation(ctx context.Context, orderID uuid.UUID, correlationID string) error {
	result, err := s.exec(ctx, `
		UPDATE orders SET correlation_id = $2 WHERE id = $1 AND correlation_id IS NULL
	`, orderID, correlationID)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	if err != nil {
		return errors.Wrap(err, "set order correlation")
	}
	if result.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// CompleteOrder is the one-shot pending→completed transition.
func (s *Store) CompleteOrder(ctx context.Context, orderID uuid.UUID, receiptRef string) (bool, error) {
	result, err := s.exec(ctx, `
		UPDATE orders SET payment_status = 'completed', receipt_ref = $2
		WHERE id = $1 AND payment_status IN ('pending', 'processing')
	`, orderID, receiptRef)
	if err != nil {
		return false, errors.Wrap(err, "complete order")
	}
	return result.RowsAffected() > 0, nil
}

func (s *Store) FailOrder(ctx context.Context, orderID uuid.UUID, reason string) (bool, error) {
	result, err := s.exec(ctx, `
		UPDATE orders SET payment_status = 'failed', failure_reason = $2
		WHERE id = $1 AND payment_status IN ('pending', 'processing')
	`, orderID, reason)
	if err != nil {
		return false, errors.Wrap(err, "fail order")
	}
	return result.RowsAffected() > 0, nil
}

// MarkTicketsIssued flips the issuance flag once; a second caller sees false
// and skips minting.
func (s *Store) MarkTicketsIssued(ctx context.Context, orderID uuid.UUID) (bool, error) {
	result, err := s.exec(ctx, `
		UPDATE orders SET tickets_issued = TRUE WHERE id = $1 AND NOT tickets_issued
	`, orderID)
	if err != nil {
		return false, errors.Wrap(err, "mark tickets issued")
	}
	return result.RowsAffected() > 0, nil
}

func (s *Store) CompletedOrdersForEvent(ctx context.Context, eventID uuid.UUID) ([]domain.Order, error) {
	rows, err := s.query(ctx, `
		SELECT id, subtotal, platform_fee, processing_fee, net_to_host
		FROM orders WHERE event_id = $1 AND payment_status = 'completed'
		ORDER BY created_at ASC
	`, eventID)
	if err != nil {
		return nil, errors.Wrap(err, "completed orders for event")
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.Subtotal, &o.PlatformFee, &o.ProcessingFee, &o.NetToHost); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
