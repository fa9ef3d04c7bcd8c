// Package queue provides the durable task queue decoupling API latency from
// run execution. Tasks live in PostgreSQL; workers claim them with
// FOR UPDATE SKIP LOCKED, so any number of worker processes can share one
// queue without double delivery.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cardozi/crm-agent/internal/db"
)

// TaskStore is the slice of the database the queue operates on
type TaskStore interface {
	EnqueueTask(ctx context.Context, projectID uuid.UUID, maxAttempts int) (uuid.UUID, error)
	ClaimTask(ctx context.Context) (*db.Task, error)
	CompleteTask(ctx context.Context, id uuid.UUID) error
	RetryTask(ctx context.Context, id uuid.UUID, errMsg string, backoff time.Duration) error
	FailTask(ctx context.Context, id uuid.UUID, errMsg string) error
}

// Handler executes one attempt of a claimed task
type Handler func(ctx context.Context, projectID uuid.UUID) error

// terminalError marks a handler error that must not be retried
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal wraps a handler error so the queue fails the task immediately
// instead of spending its retry budget.
func Terminal(err error) error {
	return &terminalError{err: err}
}

// Client enqueues coordinator work
type Client struct {
	store       TaskStore
	maxAttempts int
}

// NewClient creates a queue client
func NewClient(store TaskStore, maxAttempts int) *Client {
	return &Client{store: store, maxAttempts: maxAttempts}
}

// Enqueue submits a durable run task for a project and returns the task ID.
// The call returns as soon as the row is committed; execution happens in a
// worker process.
func (c *Client) Enqueue(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error) {
	taskID, err := c.store.EnqueueTask(ctx, projectID, c.maxAttempts)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue run for project %s: %w", projectID, err)
	}
	return taskID, nil
}

// Worker polls the queue and dispatches claimed tasks to the handler
type Worker struct {
	store        TaskStore
	handler      Handler
	concurrency  int
	pollInterval time.Duration
	retryBackoff time.Duration
}

// NewWorker creates a queue worker pool
func NewWorker(store TaskStore, handler Handler, concurrency int, pollInterval, retryBackoff time.Duration) *Worker {
	return &Worker{
		store:        store,
		handler:      handler,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		retryBackoff: retryBackoff,
	}
}

// Run blocks, polling for tasks with the configured number of worker slots,
// until the context is cancelled. Each claimed task occupies one slot for
// the full duration of its run.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < w.concurrency; i++ {
		slot := i
		g.Go(func() error {
			return w.loop(ctx, slot)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context, slot int) error {
	log.Printf("[queue] worker slot %d started", slot)

	for {
		task, err := w.store.ClaimTask(ctx)
		if err != nil {
			// Broker trouble is logged and retried, never fatal to the slot.
			log.Printf("[queue] slot %d claim failed: %v", slot, err)
			task = nil
		}

		if task == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.process(ctx, slot, task)
	}
}

// process runs one attempt and settles the task row according to the outcome
func (w *Worker) process(ctx context.Context, slot int, task *db.Task) {
	log.Printf("[queue] slot %d running task %s (project %s, attempt %d/%d)",
		slot, task.ID, task.ProjectID, task.Attempts, task.MaxAttempts)

	err := w.handler(ctx, task.ProjectID)
	if err == nil {
		if err := w.store.CompleteTask(ctx, task.ID); err != nil {
			log.Printf("[queue] failed to complete task %s: %v", task.ID, err)
		}
		return
	}

	var terminal *terminalError
	if errors.As(err, &terminal) {
		log.Printf("[queue] task %s failed terminally: %v", task.ID, err)
		if err := w.store.FailTask(ctx, task.ID, err.Error()); err != nil {
			log.Printf("[queue] failed to fail task %s: %v", task.ID, err)
		}
		return
	}

	if task.Attempts >= task.MaxAttempts {
		log.Printf("[queue] task %s exhausted %d attempts: %v", task.ID, task.Attempts, err)
		if err := w.store.FailTask(ctx, task.ID, err.Error()); err != nil {
			log.Printf("[queue] failed to fail task %s: %v", task.ID, err)
		}
		return
	}

	log.Printf("[queue] task %s attempt %d failed, retrying in %s: %v",
		task.ID, task.Attempts, w.retryBackoff, err)
	if err := w.store.RetryTask(ctx, task.ID, err.Error(), w.retryBackoff); err != nil {
		log.Printf("[queue] failed to reschedule task %s: %v", task.ID, err)
	}
}
