package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventStatus string

const (
	EventStatusPublished EventStatus = "published"
	EventStatusCompleted EventStatus = "completed"
	EventStatusCancelled EventStatus = "cancelled"
)

// PayoutState is the check-and-set flag on an event that guards payout
// aggregation against duplicate scheduled-task firings.
type PayoutState string

const (
	PayoutStatePending    PayoutState = "pending"
	PayoutStateProcessing PayoutState = "processing"
	PayoutStateDone       PayoutState = "done"
	PayoutStateFailed     PayoutState = "failed"
)

type Event struct {
	ID          uuid.UUID
	HostID      uuid.UUID
	Name        string
	StartAt     time.Time
	Status      EventStatus
	PayoutState PayoutState
	CreatedAt   time.Time
}

// Tier is a priced category of inventory for one event. The counter triple
// always satisfies Available + Held + Sold == Capacity.
type Tier struct {
	EventID   uuid.UUID
	Name      string
	UnitPrice decimal.Decimal
	Capacity  int
	Available int
	Held      int
	Sold      int
}

type HoldStatus string

const (
	HoldStatusOpen      HoldStatus = "OPEN"
	HoldStatusCommitted HoldStatus = "COMMITTED"
	HoldStatusReleased  HoldStatus = "RELEASED"
	HoldStatusExpired   HoldStatus = "EXPIRED"
)

// Hold is a time-boxed claim on tier inventory pending payment resolution.
// One row per order line item; all lines of an order transition together.
type Hold struct {
	ID        uuid.UUID
	OrderRef  uuid.UUID
	EventID   uuid.UUID
	TierName  string
	Quantity  int
	Status    HoldStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// Terminal reports whether no further payment transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed || s == PaymentStatusRefunded
}

type OrderItem struct {
	TierName  string
	Quantity  int
	UnitPrice decimal.Decimal
}

type Order struct {
	ID            uuid.UUID
	EventID       uuid.UUID
	BuyerID       uuid.UUID
	PayerHandle   string
	Items         []OrderItem
	Subtotal      decimal.Decimal
	PlatformFee   decimal.Decimal
	ProcessingFee decimal.Decimal
	NetToHost     decimal.Decimal
	PaymentStatus PaymentStatus
	CorrelationID string
	ReceiptRef    string
	FailureReason string
	TicketsIssued bool
	CreatedAt     time.Time
}

type TicketStatus string

const (
	TicketStatusNotActive   TicketStatus = "not_active"
	TicketStatusValid       TicketStatus = "valid"
	TicketStatusAlreadyUsed TicketStatus = "already_used"
	TicketStatusInvalid     TicketStatus = "invalid"
	TicketStatusCancelled   TicketStatus = "cancelled"
)

type Ticket struct {
	ID          uuid.UUID
	OrderRef    uuid.UUID
	EventID     uuid.UUID
	TierName    string
	TicketNo    int
	QRCodeID    string
	Status      TicketStatus
	IssuedAt    time.Time
	RedeemedBy  string
	RedeemedAt  *time.Time
	DocumentURL string
	ImageURL    string
}

type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
)

// Payout aggregates host earnings for one completed event. Derived from
// completed orders, never mutates them. At most one per event.
type Payout struct {
	ID             uuid.UUID
	EventID        uuid.UUID
	OrdersCount    int
	Gross          decimal.Decimal
	PlatformFees   decimal.Decimal
	ProcessingFees decimal.Decimal
	NetAmount      decimal.Decimal
	Status         PayoutStatus
	FailureReason  string
	CreatedAt      time.Time
	FinalizedAt    *time.Time
}

type TaskStatus string

const (
	TaskStatusNew     TaskStatus = "NEW"
	TaskStatusRunning TaskStatus = "RUNNING"
	TaskStatusDone    TaskStatus = "DONE"
	TaskStatusFailed  TaskStatus = "FAILED"
)

const (
	TaskKindActivateTickets = "ticket.activate"
	TaskKindPayoutAggregate = "payout.aggregate"
	TaskKindTicketArtifacts = "ticket.artifacts"
)

// Task is a durable delayed unit of work delivered at least once. DedupeKey
// makes scheduling idempotent; handlers must tolerate duplicate delivery.
type Task struct {
	ID        uuid.UUID
	Kind      string
	Payload   []byte
	DedupeKey string
	NotBefore time.Time
	Status    TaskStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
}
