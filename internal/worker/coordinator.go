// Package worker implements the workflow coordinator: the state machine that
// executes one agent run per queued task, owning every status transition,
// session bookkeeping and result write.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/cardozi/crm-agent/internal/db"
	"github.com/cardozi/crm-agent/internal/gateway"
	"github.com/cardozi/crm-agent/internal/schemas"
)

// ErrProjectNotFound aborts a run whose project vanished between enqueue and
// execution. It is terminal: the queue must not retry it.
var ErrProjectNotFound = errors.New("project not found")

// ProjectStore is the slice of the database the coordinator writes through.
// Every write is a single-row overwrite keyed by project ID; writes against
// deleted projects report false and are treated as no-ops.
type ProjectStore interface {
	GetProject(ctx context.Context, id uuid.UUID) (*db.Project, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) (bool, error)
	SetSession(ctx context.Context, id uuid.UUID, sessionID, streamURL string) (bool, error)
	SaveRunResult(ctx context.Context, id uuid.UUID, status string, result *db.RunResult, clearSession bool) (bool, error)
}

// Coordinator drives a single project run through the gateway
type Coordinator struct {
	store ProjectStore
	gw    gateway.Gateway
}

// NewCoordinator creates a workflow coordinator
func NewCoordinator(store ProjectStore, gw gateway.Gateway) *Coordinator {
	return &Coordinator{store: store, gw: gw}
}

// Execute performs one run attempt for a project. A returned error means the
// attempt failed and the project was left BLOCKED with an error-bearing
// result; the caller decides whether to retry. ErrProjectNotFound is the one
// terminal error.
func (c *Coordinator) Execute(ctx context.Context, projectID uuid.UUID) error {
	log.Printf("[worker] starting run for project %s", projectID)

	// Persist RUNNING before the (possibly slow) remote call so polling
	// clients observe it immediately. Idempotent across retry attempts.
	found, err := c.store.SetStatus(ctx, projectID, db.StatusRunning)
	if err != nil {
		return c.blockRun(ctx, projectID, nil, fmt.Errorf("failed to persist RUNNING: %w", err))
	}
	if !found {
		log.Printf("[worker] project %s no longer exists, aborting run", projectID)
		return ErrProjectNotFound
	}

	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return c.blockRun(ctx, projectID, nil, fmt.Errorf("failed to load project: %w", err))
	}
	if project == nil {
		return ErrProjectNotFound
	}

	spec := gateway.TaskSpec{
		Instructions: ComposeTask(project.SystemPrompt, project.OutputSchema),
		AuthCookies:  project.AuthCookies,
	}

	session, err := c.gw.Submit(ctx, spec)
	if err != nil {
		return c.blockRun(ctx, projectID, nil, fmt.Errorf("gateway submit failed: %w", err))
	}

	// Persist the session handle immediately so a client can attach to the
	// live stream mid-run.
	if _, err := c.store.SetSession(ctx, projectID, session.ID, session.LiveStreamURL); err != nil {
		return c.blockRun(ctx, projectID, session, fmt.Errorf("failed to persist session: %w", err))
	}

	output, err := c.gw.AwaitCompletion(ctx, session)
	if err != nil {
		return c.blockRun(ctx, projectID, session, fmt.Errorf("gateway run failed: %w", err))
	}

	// Re-read before the result write: a stop or delete that landed during
	// the blocking wait wins, and this run's result is discarded.
	current, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return c.blockRun(ctx, projectID, session, fmt.Errorf("failed to re-read project: %w", err))
	}
	if current == nil {
		log.Printf("[worker] project %s deleted mid-run, discarding result", projectID)
		return nil
	}
	if current.Status != db.StatusRunning {
		log.Printf("[worker] project %s stopped mid-run (status %s), discarding result", projectID, current.Status)
		return nil
	}

	now := time.Now().UTC()
	result := &db.RunResult{
		Output:        output,
		SessionID:     session.ID,
		LiveStreamURL: session.LiveStreamURL,
		CompletedAt:   &now,
	}

	if OutputReportsBlocked(output) {
		result.Status = db.ResultBlocked
		if _, err := c.store.SaveRunResult(ctx, projectID, db.StatusBlocked, result, false); err != nil {
			return fmt.Errorf("failed to persist blocked result: %w", err)
		}
		log.Printf("[worker] project %s run blocked, session %s kept live", projectID, session.ID)
		return nil
	}

	result.Status = db.ResultCompleted
	if project.OutputSchema != nil {
		if valid, err := schemas.ValidateDocument(project.OutputSchema, output); err == nil {
			result.SchemaValid = &valid
		}
	}

	if _, err := c.store.SaveRunResult(ctx, projectID, db.StatusIdle, result, true); err != nil {
		return fmt.Errorf("failed to persist result: %w", err)
	}

	log.Printf("[worker] project %s run completed", projectID)
	return nil
}

// blockRun records a failed attempt: status BLOCKED plus an error-bearing
// result. The error is returned unchanged so the queue can apply its retry
// budget. Store failures here are logged, never allowed to crash the worker.
// A stop or delete that landed while the attempt was in flight wins here
// exactly as on the success path: nothing is written and nil is returned so
// the queue does not retry against state the user reset.
func (c *Coordinator) blockRun(ctx context.Context, projectID uuid.UUID, session *gateway.Session, cause error) error {
	if current, err := c.store.GetProject(ctx, projectID); err == nil {
		if current == nil {
			log.Printf("[worker] project %s deleted mid-run, discarding failure: %v", projectID, cause)
			return nil
		}
		if current.Status != db.StatusRunning {
			log.Printf("[worker] project %s stopped mid-run (status %s), discarding failure: %v", projectID, current.Status, cause)
			return nil
		}
	}

	now := time.Now().UTC()
	result := &db.RunResult{
		Status:      db.ResultFailed,
		Error:       cause.Error(),
		CompletedAt: &now,
	}
	if session != nil {
		result.SessionID = session.ID
		result.LiveStreamURL = session.LiveStreamURL
	}

	if _, err := c.store.SaveRunResult(ctx, projectID, db.StatusBlocked, result, false); err != nil {
		log.Printf("[worker] failed to persist blocked status for project %s: %v", projectID, err)
	}

	log.Printf("[worker] run failed for project %s: %v", projectID, cause)
	return cause
}
