package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const projectColumns = `id, status, system_prompt, output_schema, auth_cookies,
	active_session_id, live_stream_url, last_result, last_run_at, created_at, updated_at`

// scanProject scans one project row, decoding the JSONB columns.
func scanProject(row pgx.Row) (*Project, error) {
	var p Project
	var schemaJSON, cookiesJSON, resultJSON []byte

	err := row.Scan(&p.ID, &p.Status, &p.SystemPrompt, &schemaJSON, &cookiesJSON,
		&p.ActiveSessionID, &p.LiveStreamURL, &resultJSON, &p.LastRunAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if schemaJSON != nil {
		if err := json.Unmarshal(schemaJSON, &p.OutputSchema); err != nil {
			return nil, fmt.Errorf("failed to decode output schema: %w", err)
		}
	}
	if cookiesJSON != nil {
		if err := json.Unmarshal(cookiesJSON, &p.AuthCookies); err != nil {
			return nil, fmt.Errorf("failed to decode auth cookies: %w", err)
		}
	}
	if resultJSON != nil {
		if err := json.Unmarshal(resultJSON, &p.LastResult); err != nil {
			return nil, fmt.Errorf("failed to decode last result: %w", err)
		}
	}

	return &p, nil
}

// marshalOptional marshals a map to JSONB bytes, keeping NULL for nil maps.
func marshalOptional(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// CreateProject inserts a new project in INITIALIZING state and returns it
func (db *DB) CreateProject(ctx context.Context, systemPrompt string, outputSchema, authCookies map[string]any) (*Project, error) {
	schemaJSON, err := marshalOptional(outputSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output schema: %w", err)
	}
	cookiesJSON, err := marshalOptional(authCookies)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal auth cookies: %w", err)
	}

	row := db.pool.QueryRow(ctx,
		`INSERT INTO projects (id, status, system_prompt, output_schema, auth_cookies)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+projectColumns,
		uuid.New(), StatusInitializing, systemPrompt, schemaJSON, cookiesJSON,
	)

	p, err := scanProject(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return p, nil
}

// GetProject retrieves a project by ID. Returns nil without error when absent.
func (db *DB) GetProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)

	p, err := scanProject(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// ListProjects retrieves all projects, newest first
func (db *DB) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	return projects, nil
}

// DeleteProject removes a project record. Returns false when the project
// did not exist.
func (db *DB) DeleteProject(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := db.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete project: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// TryMarkRunning atomically transitions a project to RUNNING, succeeding only
// when the current status is not already RUNNING. This is the conditional
// update that closes the concurrent-start race: of two racing start calls,
// exactly one observes a row change.
func (db *DB) TryMarkRunning(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := db.pool.Exec(ctx,
		`UPDATE projects SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status <> $1`,
		StatusRunning, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark project running: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// SetStatus overwrites a project's status. Writes against a deleted project
// are treated as no-ops, not errors.
func (db *DB) SetStatus(ctx context.Context, id uuid.UUID, status string) (bool, error) {
	result, err := db.pool.Exec(ctx,
		`UPDATE projects SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	if err != nil {
		return false, fmt.Errorf("failed to set project status: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// SetSession records the live remote session for a project so clients can
// attach to it mid-run
func (db *DB) SetSession(ctx context.Context, id uuid.UUID, sessionID, streamURL string) (bool, error) {
	result, err := db.pool.Exec(ctx,
		`UPDATE projects SET active_session_id = $1, live_stream_url = $2, updated_at = NOW()
		 WHERE id = $3`,
		sessionID, streamURL, id)
	if err != nil {
		return false, fmt.Errorf("failed to set project session: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// StopProject forces a project to IDLE and clears its session fields.
// It is a best-effort detach signal, independent of any in-flight run.
func (db *DB) StopProject(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := db.pool.Exec(ctx,
		`UPDATE projects
		 SET status = $1, active_session_id = NULL, live_stream_url = NULL, updated_at = NOW()
		 WHERE id = $2`,
		StatusIdle, id)
	if err != nil {
		return false, fmt.Errorf("failed to stop project: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// SaveRunResult persists a run outcome: the project status, the overwritten
// last_result record and the last_run_at timestamp. When clearSession is true
// the session fields are reset (successful completion); a blocked run keeps
// them so the operator can attach to the stuck session.
func (db *DB) SaveRunResult(ctx context.Context, id uuid.UUID, status string, result *RunResult, clearSession bool) (bool, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("failed to marshal run result: %w", err)
	}

	var tag string
	if clearSession {
		tag = `UPDATE projects
			SET status = $1, last_result = $2, last_run_at = NOW(),
			    active_session_id = NULL, live_stream_url = NULL, updated_at = NOW()
			WHERE id = $3`
	} else {
		tag = `UPDATE projects
			SET status = $1, last_result = $2, last_run_at = NOW(), updated_at = NOW()
			WHERE id = $3`
	}

	res, err := db.pool.Exec(ctx, tag, status, resultJSON, id)
	if err != nil {
		return false, fmt.Errorf("failed to save run result: %w", err)
	}
	return res.RowsAffected() > 0, nil
}
