// Package gateway abstracts the remote browser-automation service behind a
// submit/await contract so the workflow coordinator stays testable against a
// fake. No retry or timeout policy lives here; resilience belongs to the
// coordinator.
package gateway

import (
	"context"
	"fmt"

	"github.com/cardozi/crm-agent/internal/config"
	"github.com/cardozi/crm-agent/internal/llm"
)

// TaskSpec describes one agent run to execute
type TaskSpec struct {
	// Instructions is the full task text, including output guidance and the
	// blocked self-report instruction composed by the coordinator.
	Instructions string
	// AuthCookies are credential cookies to install before the run starts.
	AuthCookies map[string]any
}

// Session is the handle for one live run
type Session struct {
	ID            string
	LiveStreamURL string
}

// Gateway is the contract with the automation service
type Gateway interface {
	// Submit starts a run and returns its session handle
	Submit(ctx context.Context, spec TaskSpec) (*Session, error)
	// AwaitCompletion blocks until the run terminates and returns its
	// textual output
	AwaitCompletion(ctx context.Context, session *Session) (string, error)
}

// New constructs the gateway for the configured execution mode
func New(ctx context.Context, cfg *config.Config) (Gateway, error) {
	switch cfg.GatewayMode {
	case config.GatewayRemote:
		return NewRemote(cfg.BrowserUseBaseURL, cfg.BrowserUseAPIKey), nil
	case config.GatewayLocal:
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, "")
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client for local gateway: %w", err)
		}
		return NewLocal(client), nil
	case config.GatewaySimulated:
		return NewSimulated(), nil
	default:
		return nil, fmt.Errorf("unknown gateway mode %q", cfg.GatewayMode)
	}
}
