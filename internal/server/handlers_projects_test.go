package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardozi/crm-agent/internal/db"
)

// fakeProjectStore is an in-memory ProjectStore
type fakeProjectStore struct {
	projects map[uuid.UUID]*db.Project
	failWith error
}

func newFakeProjectStore() *fakeProjectStore {
	return &fakeProjectStore{projects: make(map[uuid.UUID]*db.Project)}
}

func (s *fakeProjectStore) CreateProject(_ context.Context, systemPrompt string, outputSchema, authCookies map[string]any) (*db.Project, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	now := time.Now().UTC()
	p := &db.Project{
		ID:           uuid.New(),
		Status:       db.StatusInitializing,
		SystemPrompt: systemPrompt,
		OutputSchema: outputSchema,
		AuthCookies:  authCookies,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.projects[p.ID] = p
	return p, nil
}

func (s *fakeProjectStore) GetProject(_ context.Context, id uuid.UUID) (*db.Project, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	p, ok := s.projects[id]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (s *fakeProjectStore) ListProjects(_ context.Context) ([]db.Project, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	var out []db.Project
	for _, p := range s.projects {
		out = append(out, *p)
	}
	return out, nil
}

func (s *fakeProjectStore) DeleteProject(_ context.Context, id uuid.UUID) (bool, error) {
	if _, ok := s.projects[id]; !ok {
		return false, nil
	}
	delete(s.projects, id)
	return true, nil
}

func (s *fakeProjectStore) TryMarkRunning(_ context.Context, id uuid.UUID) (bool, error) {
	p, ok := s.projects[id]
	if !ok || p.Status == db.StatusRunning {
		return false, nil
	}
	p.Status = db.StatusRunning
	return true, nil
}

func (s *fakeProjectStore) SetStatus(_ context.Context, id uuid.UUID, status string) (bool, error) {
	p, ok := s.projects[id]
	if !ok {
		return false, nil
	}
	p.Status = status
	return true, nil
}

func (s *fakeProjectStore) StopProject(_ context.Context, id uuid.UUID) (bool, error) {
	p, ok := s.projects[id]
	if !ok {
		return false, nil
	}
	p.Status = db.StatusIdle
	p.ActiveSessionID = nil
	p.LiveStreamURL = nil
	return true, nil
}

// fakeEnqueuer counts enqueues
type fakeEnqueuer struct {
	enqueued []uuid.UUID
	err      error
}

func (q *fakeEnqueuer) Enqueue(_ context.Context, projectID uuid.UUID) (uuid.UUID, error) {
	if q.err != nil {
		return uuid.Nil, q.err
	}
	q.enqueued = append(q.enqueued, projectID)
	return uuid.New(), nil
}

func setupTestServer() (*Server, *fakeProjectStore, *fakeEnqueuer) {
	store := newFakeProjectStore()
	queue := &fakeEnqueuer{}
	return New(8000, store, queue), store, queue
}

func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreateProject(t *testing.T) {
	s, _, _ := setupTestServer()

	w := doRequest(s, http.MethodPost, "/projects/", map[string]any{
		"system_prompt": "extract invoice totals",
		"output_schema": map[string]any{"type": "object"},
	})

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, db.StatusInitializing, body["status"])
	assert.Equal(t, "extract invoice totals", body["system_prompt"])
	assert.NotEmpty(t, body["id"])
}

func TestCreateProject_MissingPrompt(t *testing.T) {
	s, _, _ := setupTestServer()

	w := doRequest(s, http.MethodPost, "/projects/", map[string]any{})

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "system_prompt is required", decodeBody(t, w)["detail"])
}

func TestCreateProject_InvalidOutputSchema(t *testing.T) {
	s, _, _ := setupTestServer()

	w := doRequest(s, http.MethodPost, "/projects/", map[string]any{
		"system_prompt": "extract invoice totals",
		"output_schema": map[string]any{"type": 12345},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateThenGet_RoundTrip(t *testing.T) {
	s, _, _ := setupTestServer()

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"total": map[string]any{"type": "number"},
		},
	}
	w := doRequest(s, http.MethodPost, "/projects/", map[string]any{
		"system_prompt": "extract invoice totals",
		"output_schema": schema,
	})
	require.Equal(t, http.StatusOK, w.Code)
	id := decodeBody(t, w)["id"].(string)

	w = doRequest(s, http.MethodGet, "/projects/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "extract invoice totals", body["system_prompt"])
	assert.Equal(t, schema, body["output_schema"])
}

func TestGetProject_NotFound(t *testing.T) {
	s, _, _ := setupTestServer()

	w := doRequest(s, http.MethodGet, "/projects/"+uuid.New().String(), nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Project not found", decodeBody(t, w)["detail"])
}

func TestGetProject_MalformedIDIsNotFound(t *testing.T) {
	s, _, _ := setupTestServer()

	w := doRequest(s, http.MethodGet, "/projects/not-a-uuid", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Project not found", decodeBody(t, w)["detail"])
}

func TestListProjects(t *testing.T) {
	s, store, _ := setupTestServer()

	w := doRequest(s, http.MethodGet, "/projects/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String(), "empty list, not null")

	_, err := store.CreateProject(context.Background(), "task one", nil, nil)
	require.NoError(t, err)

	w = doRequest(s, http.MethodGet, "/projects/", nil)
	var projects []db.Project
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &projects))
	assert.Len(t, projects, 1)
}

func TestStartProject(t *testing.T) {
	s, store, queue := setupTestServer()
	p, _ := store.CreateProject(context.Background(), "task", nil, nil)

	w := doRequest(s, http.MethodPost, "/projects/"+p.ID.String()+"/start", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, p.ID.String(), body["project_id"])
	assert.NotEmpty(t, body["task_id"])

	assert.Equal(t, db.StatusRunning, store.projects[p.ID].Status, "RUNNING persisted at accept time")
	assert.Equal(t, []uuid.UUID{p.ID}, queue.enqueued)
}

func TestStartProject_AlreadyRunning(t *testing.T) {
	s, store, queue := setupTestServer()
	p, _ := store.CreateProject(context.Background(), "task", nil, nil)
	store.projects[p.ID].Status = db.StatusRunning

	w := doRequest(s, http.MethodPost, "/projects/"+p.ID.String()+"/start", nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Project is already running", decodeBody(t, w)["detail"])
	assert.Empty(t, queue.enqueued, "rejected start enqueues nothing")
}

func TestStartProject_FromBlockedAndIdle(t *testing.T) {
	s, store, _ := setupTestServer()

	for _, status := range []string{db.StatusIdle, db.StatusBlocked, db.StatusInitializing} {
		p, _ := store.CreateProject(context.Background(), "task", nil, nil)
		store.projects[p.ID].Status = status

		w := doRequest(s, http.MethodPost, "/projects/"+p.ID.String()+"/start", nil)
		require.Equal(t, http.StatusOK, w.Code, "start from %s", status)
		assert.Equal(t, db.StatusRunning, store.projects[p.ID].Status)
	}
}

func TestStartProject_NotFound(t *testing.T) {
	s, _, queue := setupTestServer()

	w := doRequest(s, http.MethodPost, "/projects/"+uuid.New().String()+"/start", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, queue.enqueued)
}

func TestStartProject_EnqueueFailureRollsBack(t *testing.T) {
	s, store, queue := setupTestServer()
	p, _ := store.CreateProject(context.Background(), "task", nil, nil)
	store.projects[p.ID].Status = db.StatusIdle
	queue.err = fmt.Errorf("broker unreachable")

	w := doRequest(s, http.MethodPost, "/projects/"+p.ID.String()+"/start", nil)

	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, decodeBody(t, w)["detail"], "Failed to enqueue")
	assert.Equal(t, db.StatusIdle, store.projects[p.ID].Status,
		"status never claims work that was not queued")
}

func TestRunAliasStartsProject(t *testing.T) {
	s, store, queue := setupTestServer()
	p, _ := store.CreateProject(context.Background(), "task", nil, nil)

	w := doRequest(s, http.MethodPost, "/projects/"+p.ID.String()+"/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, db.StatusRunning, store.projects[p.ID].Status)
	assert.Len(t, queue.enqueued, 1)
}

func TestStopProject(t *testing.T) {
	s, store, _ := setupTestServer()
	p, _ := store.CreateProject(context.Background(), "task", nil, nil)
	session := "sess-1"
	stream := "ws://example/devtools/sess-1"
	store.projects[p.ID].Status = db.StatusRunning
	store.projects[p.ID].ActiveSessionID = &session
	store.projects[p.ID].LiveStreamURL = &stream

	w := doRequest(s, http.MethodPost, "/projects/"+p.ID.String()+"/stop", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Project stopped", decodeBody(t, w)["message"])
	assert.Equal(t, db.StatusIdle, store.projects[p.ID].Status)
	assert.Nil(t, store.projects[p.ID].ActiveSessionID)
	assert.Nil(t, store.projects[p.ID].LiveStreamURL)
}

func TestStopProject_NotFound(t *testing.T) {
	s, _, _ := setupTestServer()

	w := doRequest(s, http.MethodPost, "/projects/"+uuid.New().String()+"/stop", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteProject(t *testing.T) {
	s, store, _ := setupTestServer()
	p, _ := store.CreateProject(context.Background(), "task", nil, nil)

	w := doRequest(s, http.MethodDelete, "/projects/"+p.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Project deleted", decodeBody(t, w)["message"])

	// Subsequent calls against the deleted id all report NotFound.
	assert.Equal(t, http.StatusNotFound, doRequest(s, http.MethodGet, "/projects/"+p.ID.String(), nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(s, http.MethodPost, "/projects/"+p.ID.String()+"/start", nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(s, http.MethodPost, "/projects/"+p.ID.String()+"/stop", nil).Code)
}

func TestDeleteProject_NotFound(t *testing.T) {
	s, _, _ := setupTestServer()

	w := doRequest(s, http.MethodDelete, "/projects/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	s, _, _ := setupTestServer()

	w := doRequest(s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decodeBody(t, w)["status"])
}

func TestRoot(t *testing.T) {
	s, _, _ := setupTestServer()

	w := doRequest(s, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", decodeBody(t, w)["status"])
}
