package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNewOrder_Totals(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	fees := FeeSchedule{
		PlatformRate:   decimal.RequireFromString("0.05"),
		ProcessingRate: decimal.RequireFromString("0.02"),
	}
	items := []OrderItem{
		{TierName: "GA", Quantity: 2, UnitPrice: decimal.RequireFromString("50.00")},
		{TierName: "VIP", Quantity: 1, UnitPrice: decimal.RequireFromString("120.00")},
	}

	order := NewOrder(uuid.New(), uuid.New(), "+15550001111", items, fees, now)

	assert.True(t, order.Subtotal.Equal(decimal.RequireFromString("220.00")), "subtotal %s", order.Subtotal)
	assert.True(t, order.PlatformFee.Equal(decimal.RequireFromString("11.00")), "platform fee %s", order.PlatformFee)
	assert.True(t, order.ProcessingFee.Equal(decimal.RequireFromString("4.40")), "processing fee %s", order.ProcessingFee)
	assert.True(t, order.NetToHost.Equal(decimal.RequireFromString("209.00")), "net to host %s", order.NetToHost)
	assert.True(t, order.Total().Equal(decimal.RequireFromString("224.40")), "total %s", order.Total())
	assert.Equal(t, 3, order.TotalQuantity())
	assert.Equal(t, PaymentStatusPending, order.PaymentStatus)
}

func TestNewOrder_RoundsFees(t *testing.T) {
	fees := FeeSchedule{
		PlatformRate:   decimal.RequireFromString("0.05"),
		ProcessingRate: decimal.RequireFromString("0.02"),
	}
	items := []OrderItem{
		{TierName: "GA", Quantity: 1, UnitPrice: decimal.RequireFromString("33.33")},
	}

	order := NewOrder(uuid.New(), uuid.New(), "+15550001111", items, fees, time.Now())

	// 33.33 * 0.05 = 1.6665, 33.33 * 0.02 = 0.6666
	assert.True(t, order.PlatformFee.Equal(decimal.RequireFromString("1.67")), "platform fee %s", order.PlatformFee)
	assert.True(t, order.ProcessingFee.Equal(decimal.RequireFromString("0.67")), "processing fee %s", order.ProcessingFee)
}

func TestPaymentStatus_Terminal(t *testing.T) {
	assert.False(t, PaymentStatusPending.Terminal())
	assert.False(t, PaymentStatusProcessing.Terminal())
	assert.True(t, PaymentStatusCompleted.Terminal())
	assert.True(t, PaymentStatusFailed.Terminal())
	assert.True(t, PaymentStatusRefunded.Terminal())
}

func TestNewCredential_Deterministic(t *testing.T) {
	ticketID := uuid.New()
	eventID := uuid.New()
	at := time.Now()

	a := NewCredential(ticketID, eventID, at)
	b := NewCredential(ticketID, eventID, at)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	other := NewCredential(uuid.New(), eventID, at)
	assert.NotEqual(t, a, other)
}

func TestActivationTime(t *testing.T) {
	start := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, start.Add(-4*time.Hour), ActivationTime(start))
}
