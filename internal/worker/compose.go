package worker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// blockedMarker is the sentinel the agent embeds in its output when it hits
// a condition requiring human intervention. Matching is case-insensitive.
const blockedMarker = "BLOCKED"

// ComposeTask builds the full task text handed to the gateway: the project's
// instructions, optional output-shape guidance, and an explicit
// machine-readable instruction to self-report blocking conditions instead of
// failing silently.
func ComposeTask(systemPrompt string, outputSchema map[string]any) string {
	var b strings.Builder
	b.WriteString(systemPrompt)

	if outputSchema != nil {
		if raw, err := json.MarshalIndent(outputSchema, "", "  "); err == nil {
			b.WriteString("\n\nReturn your final result as JSON conforming to this schema:\n")
			b.Write(raw)
		}
	}

	fmt.Fprintf(&b, "\n\nIf you encounter a CAPTCHA, login wall, or any condition requiring human intervention, stop and include the word %q in your response along with a description of what is blocking you.", blockedMarker)

	return b.String()
}

// OutputReportsBlocked reports whether a run's textual output carries the
// blocked sentinel.
func OutputReportsBlocked(output string) bool {
	return strings.Contains(strings.ToUpper(output), blockedMarker)
}
