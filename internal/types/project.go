// Package types provides request types shared between the HTTP surface and
// its tests.
package types

import (
	"github.com/go-playground/validator/v10"
)

// CreateProjectRequest represents the request to register a new project.
type CreateProjectRequest struct {
	SystemPrompt string         `json:"system_prompt" validate:"required,min=1"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
	AuthCookies  map[string]any `json:"auth_cookies,omitempty"`
}

// Validate validates the CreateProjectRequest using the validator.
func (r *CreateProjectRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}
