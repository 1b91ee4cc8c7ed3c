package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"ticket-engine/internal/domain"
)

// ScheduleTask inserts a durable delayed task. The dedupe key absorbs
// repeated scheduling of the same logical task.
func (s *Store) ScheduleTask(ctx context.Context, task domain.Task) error {
	_, err := s.exec(ctx, `
		INSERT INTO scheduled_tasks (id, kind, payload, dedupe_key, not_before, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, 'NEW', 0, $6)
		ON CONFLICT (dedupe_key) DO NOTHING
	`, task.ID, task.Kind, task.Payload, task.DedupeKey, task.NotBefore, task.CreatedAt)
	return errors.Wrap(err, "schedule task")
}

// ClaimDueTasks atomically marks a batch of due tasks RUNNING and returns
// them. SKIP LOCKED keeps concurrent workers from claiming the same rows.
func (s *Store) ClaimDueTasks(ctx context.Context, now time.Time, limit int) ([]domain.Task, error) {
	rows, err := s.query(ctx, `
		UPDATE scheduled_tasks SET status = 'RUNNING', attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM scheduled_tasks
			WHERE status = 'NEW' AND not_before <= $1
			ORDER BY not_before ASC LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, payload, dedupe_key, not_before, status, attempts, COALESCE(last_error, ''), created_at
	`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "claim due tasks")
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.ID, &t.Kind, &t.Payload, &t.DedupeKey, &t.NotBefore, &t.Status,
			&t.Attempts, &t.LastError, &t.CreatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	_, err := s.exec(ctx, `
		UPDATE scheduled_tasks SET status = 'DONE' WHERE id = $1 AND status = 'RUNNING'
	`, taskID)
	return errors.Wrap(err, "complete task")
}

// RetryTask returns a failed attempt to the queue with a pushed-out deadline.
func (s *Store) RetryTask(ctx context.Context, taskID uuid.UUID, notBefore time.Time, reason string) error {
	_, err := s.exec(ctx, `
		UPDATE scheduled_tasks SET status = 'NEW', not_before = $2, last_error = $3
		WHERE id = $1 AND status = 'RUNNING'
	`, taskID, notBefore, reason)
	return errors.Wrap(err, "retry task")
}

func (s *Store) FailTask(ctx context.Context, taskID uuid.UUID, reason string) error {
	_, err := s.exec(ctx, `
		UPDATE scheduled_tasks SET status = 'FAILED', last_error = $2
		WHERE id = $1 AND status = 'RUNNING'
	`, taskID, reason)
	return errors.Wrap(err, "fail task")
}

// RecoverStuckTasks requeues RUNNING tasks older than the cutoff, covering
// workers that died mid-execution. Delivery stays at-least-once.
func (s *Store) RecoverStuckTasks(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.exec(ctx, `
		UPDATE scheduled_tasks SET status = 'NEW'
		WHERE status = 'RUNNING' AND not_before <= $1
	`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "recover stuck tasks")
	}
	return int(result.RowsAffected()), nil
}
