package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"ticket-engine/internal/observability"
)

// AuditLogger records reconciliation decisions, scans and payout runs for
// offline investigation. It never participates in an invariant; failures are
// logged and swallowed.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	SubjectID string    `bson:"subject_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) Log(ctx context.Context, action, subjectID string, data map[string]interface{}) {
	log := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		SubjectID: subjectID,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	if _, err := a.coll.InsertOne(ctx, log); err != nil {
		a.logger.Error("failed to insert audit log", err)
	}
}

func (a *AuditLogger) LogNotification(ctx context.Context, correlationID, outcome, result string) {
	a.Log(ctx, "payment.notification", correlationID, map[string]interface{}{
		"outcome": outcome,
		"result":  result,
	})
}

func (a *AuditLogger) LogRedemption(ctx context.Context, qrCodeID, scannerID, result string) {
	a.Log(ctx, "ticket.scan", qrCodeID, map[string]interface{}{
		"scanner_id": scannerID,
		"result":     result,
	})
}

func (a *AuditLogger) LogPayout(ctx context.Context, eventID uuid.UUID, status string, net string) {
	a.Log(ctx, "payout.run", eventID.String(), map[string]interface{}{
		"status": status,
		"net":    net,
	})
}
