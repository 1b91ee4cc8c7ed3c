package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")

	ErrTierNotFound          = errors.New("tier not found")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrReservationExpired    = errors.New("reservation expired")
	ErrShortPayment          = errors.New("short payment")
	ErrAlreadyRedeemed       = errors.New("ticket already redeemed")
	ErrTicketCancelled       = errors.New("ticket cancelled")
	ErrInvalidCredential     = errors.New("invalid ticket credential")
	ErrPayoutAlreadyRunning  = errors.New("payout already processed or in progress")
)

// NotYetActiveError rejects a scan before the activation threshold and
// carries the instant the ticket becomes scannable.
type NotYetActiveError struct {
	ActivatesAt time.Time
}

func (e *NotYetActiveError) Error() string {
	return fmt.Sprintf("ticket not active until %s", e.ActivatesAt.Format(time.RFC3339))
}
