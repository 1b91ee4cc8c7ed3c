package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// ActivationWindow is how long before the event start a ticket becomes
// scannable. Both the scheduled activation task and the lazy scan-time
// activation derive their threshold from ActivationTime, never independently.
const ActivationWindow = 4 * time.Hour

func ActivationTime(eventStart time.Time) time.Time {
	return eventStart.Add(-ActivationWindow)
}

// NewCredential derives the unique redemption credential for one ticket.
// Binding it to the ticket id, event id and issue instant keeps credentials
// unguessable without a shared secret.
func NewCredential(ticketID, eventID uuid.UUID, issuedAt time.Time) string {
	h := sha256.New()
	h.Write(ticketID[:])
	h.Write(eventID[:])
	h.Write([]byte(issuedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}
