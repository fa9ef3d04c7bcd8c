// Package schemas provides JSON Schema validation for project output schemas.
package schemas

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Compile checks that a project's output_schema is itself a valid JSON
// Schema. Called at project creation so a bad schema is rejected up front
// rather than surfacing mid-run.
func Compile(schema map[string]any) error {
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw)); err != nil {
		return fmt.Errorf("invalid output schema: %w", err)
	}
	return nil
}

// ValidateDocument validates a JSON document against an output schema.
// Returns an error when the document is not JSON or the schema cannot be
// evaluated; otherwise reports whether the document conforms.
func ValidateDocument(schema map[string]any, doc string) (bool, error) {
	if !json.Valid([]byte(doc)) {
		return false, fmt.Errorf("document is not valid JSON")
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return false, fmt.Errorf("failed to marshal schema: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(raw),
		gojsonschema.NewStringLoader(doc),
	)
	if err != nil {
		return false, fmt.Errorf("schema validation failed: %w", err)
	}

	return result.Valid(), nil
}
