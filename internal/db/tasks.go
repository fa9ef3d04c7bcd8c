package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EnqueueTask inserts a durable coordinator task for a project and returns
// its ID. The task carries only the project ID; the worker re-reads the
// project configuration at execution time to avoid staleness.
func (db *DB) EnqueueTask(ctx context.Context, projectID uuid.UUID, maxAttempts int) (uuid.UUID, error) {
	id := uuid.New()
	_, err := db.pool.Exec(ctx,
		`INSERT INTO agent_tasks (id, project_id, max_attempts)
		 VALUES ($1, $2, $3)`,
		id, projectID, maxAttempts)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return id, nil
}

// ClaimTask atomically claims the oldest due queued task, marking it running
// and incrementing its attempt counter. FOR UPDATE SKIP LOCKED lets multiple
// worker processes poll the same table without handing out the same task
// twice. Returns nil without error when no task is due.
func (db *DB) ClaimTask(ctx context.Context) (*Task, error) {
	var t Task
	err := db.pool.QueryRow(ctx,
		`UPDATE agent_tasks
		 SET status = $1, attempts = attempts + 1, updated_at = NOW()
		 WHERE id = (
			SELECT id FROM agent_tasks
			WHERE status = $2 AND run_after <= NOW()
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, project_id, status, attempts, max_attempts, run_after,
		           last_error, created_at, updated_at`,
		TaskRunning, TaskQueued,
	).Scan(&t.ID, &t.ProjectID, &t.Status, &t.Attempts, &t.MaxAttempts,
		&t.RunAfter, &t.LastError, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}
	return &t, nil
}

// CompleteTask marks a task as done
func (db *DB) CompleteTask(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE agent_tasks SET status = $1, updated_at = NOW() WHERE id = $2`,
		TaskDone, id)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	return nil
}

// RetryTask returns a task to the queue with a delay before it becomes due
// again. The attempt counter lives in the row, so the retry budget survives
// worker restarts.
func (db *DB) RetryTask(ctx context.Context, id uuid.UUID, errMsg string, backoff time.Duration) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE agent_tasks
		 SET status = $1, last_error = $2, run_after = NOW() + $3::interval, updated_at = NOW()
		 WHERE id = $4`,
		TaskQueued, errMsg, fmt.Sprintf("%d seconds", int(backoff.Seconds())), id)
	if err != nil {
		return fmt.Errorf("failed to retry task: %w", err)
	}
	return nil
}

// FailTask marks a task as terminally failed with its last error
func (db *DB) FailTask(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE agent_tasks SET status = $1, last_error = $2, updated_at = NOW() WHERE id = $3`,
		TaskFailed, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to fail task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID. Returns nil without error when absent.
func (db *DB) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	var t Task
	err := db.pool.QueryRow(ctx,
		`SELECT id, project_id, status, attempts, max_attempts, run_after,
		        last_error, created_at, updated_at
		 FROM agent_tasks WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.ProjectID, &t.Status, &t.Attempts, &t.MaxAttempts,
		&t.RunAfter, &t.LastError, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &t, nil
}
