package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Simulated is a development-only gateway that returns canned output after a
// short delay. It is only ever selected through GATEWAY_MODE=simulated; it
// must never be used as a fallback when real infrastructure is unreachable.
type Simulated struct {
	// Delay before a simulated run completes
	Delay time.Duration
	// Output returned for every run; defaults to a completion notice
	Output string
}

// NewSimulated creates a simulated gateway
func NewSimulated() *Simulated {
	return &Simulated{Delay: 5 * time.Second}
}

// Submit hands back a synthetic session
func (s *Simulated) Submit(_ context.Context, _ TaskSpec) (*Session, error) {
	return &Session{ID: "simulated-" + uuid.New().String()}, nil
}

// AwaitCompletion waits out the configured delay and returns the canned output
func (s *Simulated) AwaitCompletion(ctx context.Context, session *Session) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(s.Delay):
	}

	if s.Output != "" {
		return s.Output, nil
	}
	return fmt.Sprintf("simulated run %s completed", session.ID), nil
}
