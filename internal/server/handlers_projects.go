package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/cardozi/crm-agent/internal/db"
	"github.com/cardozi/crm-agent/internal/schemas"
	"github.com/cardozi/crm-agent/internal/types"
)

// parseProjectID resolves the {id} path segment. Project ids are opaque to
// clients, so a malformed id is indistinguishable from an absent one.
func parseProjectID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, &ErrProjectNotFound{}
	}
	return id, nil
}

// handleCreateProject registers a new project in INITIALIZING state
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req types.CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, &ErrValidation{Message: "Invalid request body"})
		return
	}

	if err := req.Validate(); err != nil {
		s.errorResponse(w, &ErrValidation{Message: "system_prompt is required"})
		return
	}

	// Reject schemas that would fail every run up front.
	if req.OutputSchema != nil {
		if err := schemas.Compile(req.OutputSchema); err != nil {
			s.errorResponse(w, &ErrValidation{Message: err.Error()})
			return
		}
	}

	project, err := s.store.CreateProject(r.Context(), req.SystemPrompt, req.OutputSchema, req.AuthCookies)
	if err != nil {
		log.Printf("[api] failed to create project: %v", err)
		s.errorResponse(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, project)
}

// handleListProjects returns all project projections
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		log.Printf("[api] failed to list projects: %v", err)
		s.errorResponse(w, err)
		return
	}
	if projects == nil {
		projects = []db.Project{}
	}
	s.jsonResponse(w, http.StatusOK, projects)
}

// handleGetProject returns one project projection
func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	project, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		log.Printf("[api] failed to get project %s: %v", id, err)
		s.errorResponse(w, err)
		return
	}
	if project == nil {
		s.errorResponse(w, &ErrProjectNotFound{ProjectID: id})
		return
	}

	s.jsonResponse(w, http.StatusOK, project)
}

// handleStartProject accepts a start request: the project transitions to
// RUNNING through a conditional update (so racing starts cannot both win)
// and a durable task is enqueued. A failed enqueue rolls the status back so
// it never claims work that was not actually queued.
func (s *Server) handleStartProject(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	project, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		log.Printf("[api] failed to get project %s: %v", id, err)
		s.errorResponse(w, err)
		return
	}
	if project == nil {
		s.errorResponse(w, &ErrProjectNotFound{ProjectID: id})
		return
	}
	if project.Status == db.StatusRunning {
		s.errorResponse(w, &ErrProjectRunning{ProjectID: id})
		return
	}

	changed, err := s.store.TryMarkRunning(r.Context(), id)
	if err != nil {
		log.Printf("[api] failed to mark project %s running: %v", id, err)
		s.errorResponse(w, err)
		return
	}
	if !changed {
		// Lost the race to a concurrent start.
		s.errorResponse(w, &ErrProjectRunning{ProjectID: id})
		return
	}

	taskID, err := s.queue.Enqueue(r.Context(), id)
	if err != nil {
		// Status must not claim work that never reached the queue.
		if _, rbErr := s.store.SetStatus(r.Context(), id, project.Status); rbErr != nil {
			log.Printf("[api] failed to roll back status for project %s: %v", id, rbErr)
		}
		log.Printf("[api] failed to enqueue run for project %s: %v", id, err)
		s.errorResponse(w, &ErrEnqueueFailed{Cause: err})
		return
	}

	log.Printf("[api] project %s start accepted, task %s", id, taskID)
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"message":    "Project started",
		"project_id": id.String(),
		"task_id":    taskID.String(),
	})
}

// handleStopProject detaches a project from its run: status IDLE, session
// fields cleared. It does not cancel the in-flight remote session; a
// coordinator that comes back from its blocking wait observes the stop and
// discards its result.
func (s *Server) handleStopProject(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	stopped, err := s.store.StopProject(r.Context(), id)
	if err != nil {
		log.Printf("[api] failed to stop project %s: %v", id, err)
		s.errorResponse(w, err)
		return
	}
	if !stopped {
		s.errorResponse(w, &ErrProjectNotFound{ProjectID: id})
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{
		"message":    "Project stopped",
		"project_id": id.String(),
	})
}

// handleDeleteProject removes a project record. In-flight runs against the
// deleted id degrade to no-ops at the store layer.
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	deleted, err := s.store.DeleteProject(r.Context(), id)
	if err != nil {
		log.Printf("[api] failed to delete project %s: %v", id, err)
		s.errorResponse(w, err)
		return
	}
	if !deleted {
		s.errorResponse(w, &ErrProjectNotFound{ProjectID: id})
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{
		"message":    "Project deleted",
		"project_id": id.String(),
	})
}
