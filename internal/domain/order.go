package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FeeSchedule holds the platform's cut (taken from the host share) and the
// processing surcharge (added on top of the buyer total).
type FeeSchedule struct {
	PlatformRate   decimal.Decimal
	ProcessingRate decimal.Decimal
}

// NewOrder builds a pending order with immutable line items and totals
// computed from the fee schedule. Amounts are rounded to two places.
func NewOrder(eventID, buyerID uuid.UUID, payerHandle string, items []OrderItem, fees FeeSchedule, now time.Time) Order {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	platformFee := subtotal.Mul(fees.PlatformRate).Round(2)
	processingFee := subtotal.Mul(fees.ProcessingRate).Round(2)

	return Order{
		ID:            uuid.New(),
		EventID:       eventID,
		BuyerID:       buyerID,
		PayerHandle:   payerHandle,
		Items:         items,
		Subtotal:      subtotal,
		PlatformFee:   platformFee,
		ProcessingFee: processingFee,
		NetToHost:     subtotal.Sub(platformFee),
		PaymentStatus: PaymentStatusPending,
		CreatedAt:     now,
	}
}

// Total is the amount the buyer must pay: subtotal plus processing fee.
func (o Order) Total() decimal.Decimal {
	return o.Subtotal.Add(o.ProcessingFee)
}

// TotalQuantity is the number of seats across all line items.
func (o Order) TotalQuantity() int {
	n := 0
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}
