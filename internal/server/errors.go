// Package server provides the HTTP REST API for the CRM agent backend.
package server

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// ErrProjectNotFound indicates the project id is absent
type ErrProjectNotFound struct {
	ProjectID uuid.UUID
}

func (e *ErrProjectNotFound) Error() string {
	return "Project not found"
}

// ErrProjectRunning indicates a start was requested while a run is active
type ErrProjectRunning struct {
	ProjectID uuid.UUID
}

func (e *ErrProjectRunning) Error() string {
	return "Project is already running"
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Message string
}

func (e *ErrValidation) Error() string {
	return e.Message
}

// ErrEnqueueFailed indicates the task queue was unreachable at enqueue time.
// The project's status has already been rolled back when this surfaces.
type ErrEnqueueFailed struct {
	Cause error
}

func (e *ErrEnqueueFailed) Error() string {
	return fmt.Sprintf("Failed to enqueue project run: %v", e.Cause)
}

func (e *ErrEnqueueFailed) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	switch err.(type) {
	case *ErrProjectNotFound:
		return http.StatusNotFound
	case *ErrProjectRunning, *ErrValidation:
		return http.StatusBadRequest
	case *ErrEnqueueFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
