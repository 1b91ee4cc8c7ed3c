package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"ticket-engine/internal/clock"
	"ticket-engine/internal/domain"
	"ticket-engine/internal/observability"
)

type Store interface {
	ScheduleTask(ctx context.Context, task domain.Task) error
	ClaimDueTasks(ctx context.Context, now time.Time, limit int) ([]domain.Task, error)
	CompleteTask(ctx context.Context, taskID uuid.UUID) error
	RetryTask(ctx context.Context, taskID uuid.UUID, notBefore time.Time, reason string) error
	FailTask(ctx context.Context, taskID uuid.UUID, reason string) error
	RecoverStuckTasks(ctx context.Context, cutoff time.Time) (int, error)
}

type Handler func(ctx context.Context, payload []byte) error

// Scheduler executes durable delayed tasks with at-least-once delivery.
// Handlers must be idempotent; a task that keeps failing is parked as FAILED
// after maxAttempts.
type Scheduler struct {
	store    Store
	clock    clock.Clock
	logger   observability.Logger
	handlers map[string]Handler

	maxAttempts  int
	retryBackoff time.Duration
}

func New(store Store, clk clock.Clock, logger observability.Logger) *Scheduler {
	return &Scheduler{
		store:        store,
		clock:        clk,
		logger:       logger,
		handlers:     make(map[string]Handler),
		maxAttempts:  5,
		retryBackoff: 30 * time.Second,
	}
}

func (s *Scheduler) Register(kind string, h Handler) {
	s.handlers[kind] = h
}

// ScheduleAt enqueues a task; the dedupe key absorbs repeated scheduling of
// the same logical task.
func (s *Scheduler) ScheduleAt(ctx context.Context, kind string, payload any, dedupeKey string, notBefore time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.store.ScheduleTask(ctx, domain.Task{
		ID:        uuid.New(),
		Kind:      kind,
		Payload:   data,
		DedupeKey: dedupeKey,
		NotBefore: notBefore,
		Status:    domain.TaskStatusNew,
		CreatedAt: s.clock.Now(),
	})
}

// Run claims and executes due tasks on a ticker until the context ends.
// Tasks stuck RUNNING past the recovery cutoff are requeued first; that is
// what makes delivery survive a worker crash.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.store.RecoverStuckTasks(ctx, s.clock.Now().Add(-10*time.Minute)); err != nil {
				s.logger.Error("failed to recover stuck tasks", err)
			} else if n > 0 {
				s.logger.WithField("count", n).Warn("requeued stuck tasks")
			}
			s.runOnce(ctx, batch)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, batch int) {
	tasks, err := s.store.ClaimDueTasks(ctx, s.clock.Now(), batch)
	if err != nil {
		s.logger.Error("failed to claim due tasks", err)
		return
	}
	for _, task := range tasks {
		s.execute(ctx, task)
	}
}

func (s *Scheduler) execute(ctx context.Context, task domain.Task) {
	handler, ok := s.handlers[task.Kind]
	if !ok {
		s.logger.WithField("kind", task.Kind).Error("no handler registered for task kind")
		if err := s.store.FailTask(ctx, task.ID, "no handler registered"); err != nil {
			s.logger.Error("failed to park task", err)
		}
		observability.TaskRuns.WithLabelValues(task.Kind, "unhandled").Inc()
		return
	}

	if err := handler(ctx, task.Payload); err != nil {
		s.logger.WithField("task_id", task.ID).WithField("kind", task.Kind).WithError(err).Error("task handler failed")
		if task.Attempts >= s.maxAttempts {
			observability.TaskRuns.WithLabelValues(task.Kind, "failed").Inc()
			if err := s.store.FailTask(ctx, task.ID, err.Error()); err != nil {
				s.logger.Error("failed to park task", err)
			}
			return
		}
		observability.TaskRuns.WithLabelValues(task.Kind, "retried").Inc()
		backoff := time.Duration(1<<task.Attempts) * s.retryBackoff
		if err := s.store.RetryTask(ctx, task.ID, s.clock.Now().Add(backoff), err.Error()); err != nil {
			s.logger.Error("failed to requeue task", err)
		}
		return
	}

	observability.TaskRuns.WithLabelValues(task.Kind, "done").Inc()
	if err := s.store.CompleteTask(ctx, task.ID); err != nil {
		// The task reruns; the handler's idempotence absorbs it.
		s.logger.Error("failed to complete task", err)
	}
}

// OrderRefPayload is the payload shared by the per-order task kinds.
type OrderRefPayload struct {
	OrderRef uuid.UUID `json:"order_ref"`
}

// EventIDPayload is the payout aggregation payload.
type EventIDPayload struct {
	EventID uuid.UUID `json:"event_id"`
}

func DecodeOrderRef(payload []byte) (uuid.UUID, error) {
	var p OrderRefPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return uuid.Nil, errors.Wrap(err, "decode order ref payload")
	}
	return p.OrderRef, nil
}

func DecodeEventID(payload []byte) (uuid.UUID, error) {
	var p EventIDPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return uuid.Nil, errors.Wrap(err, "decode event id payload")
	}
	return p.EventID, nil
}
