package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Remote talks to the Browser Use cloud API: create a task, poll until it
// reaches a terminal status, return its output.
type Remote struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	// pollInterval between status checks while awaiting completion
	pollInterval time.Duration
}

// NewRemote creates a Browser Use cloud gateway
func NewRemote(baseURL, apiKey string) *Remote {
	return &Remote{
		baseURL:      baseURL,
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		pollInterval: 3 * time.Second,
	}
}

type runTaskRequest struct {
	Task    string         `json:"task"`
	Cookies map[string]any `json:"cookies,omitempty"`
}

type taskStatusResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Output  string `json:"output"`
	LiveURL string `json:"live_url"`
}

// Submit creates a vendor task and returns its session handle. The live
// observation URL is picked up from the first status read when the vendor
// has already assigned one.
func (r *Remote) Submit(ctx context.Context, spec TaskSpec) (*Session, error) {
	body, err := json.Marshal(runTaskRequest{
		Task:    spec.Instructions,
		Cookies: spec.AuthCookies,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task request: %w", err)
	}

	var created taskStatusResponse
	if err := r.do(ctx, http.MethodPost, "/api/v1/run-task", body, &created); err != nil {
		return nil, fmt.Errorf("failed to submit task: %w", err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("vendor returned no task id")
	}

	session := &Session{ID: created.ID, LiveStreamURL: created.LiveURL}

	if session.LiveStreamURL == "" {
		var status taskStatusResponse
		if err := r.do(ctx, http.MethodGet, "/api/v1/task/"+session.ID, nil, &status); err == nil {
			session.LiveStreamURL = status.LiveURL
		}
	}

	return session, nil
}

// AwaitCompletion polls the vendor until the task reaches a terminal status
func (r *Remote) AwaitCompletion(ctx context.Context, session *Session) (string, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		var status taskStatusResponse
		if err := r.do(ctx, http.MethodGet, "/api/v1/task/"+session.ID, nil, &status); err != nil {
			return "", fmt.Errorf("failed to poll task %s: %w", session.ID, err)
		}

		switch status.Status {
		case "finished":
			return status.Output, nil
		case "failed", "stopped":
			return "", fmt.Errorf("vendor task %s ended with status %s", session.ID, status.Status)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// do performs one authenticated JSON request against the vendor API
func (r *Remote) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("vendor API returned %d: %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
