package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVendor stands in for the Browser Use cloud API
type fakeVendor struct {
	polls atomic.Int32
	// pollsUntilFinished controls how many status reads report running
	pollsUntilFinished int32
	finalStatus        string
	output             string
	lastTask           string
	lastAuth           string
}

func (v *fakeVendor) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/run-task", func(w http.ResponseWriter, r *http.Request) {
		v.lastAuth = r.Header.Get("Authorization")
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		v.lastTask, _ = req["task"].(string)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "task-123"})
	})
	mux.HandleFunc("GET /api/v1/task/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := v.polls.Add(1)
		status := "running"
		output := ""
		if n > v.pollsUntilFinished {
			status = v.finalStatus
			output = v.output
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":       r.PathValue("id"),
			"status":   status,
			"output":   output,
			"live_url": "https://live.example/task-123",
		})
	})
	return mux
}

func newTestRemote(t *testing.T, vendor *fakeVendor) *Remote {
	t.Helper()
	srv := httptest.NewServer(vendor.handler())
	t.Cleanup(srv.Close)

	r := NewRemote(srv.URL, "test-key")
	r.pollInterval = 5 * time.Millisecond
	return r
}

func TestRemote_SubmitAndAwait(t *testing.T) {
	vendor := &fakeVendor{pollsUntilFinished: 2, finalStatus: "finished", output: "done"}
	r := newTestRemote(t, vendor)

	session, err := r.Submit(context.Background(), TaskSpec{Instructions: "extract invoice totals"})
	require.NoError(t, err)
	assert.Equal(t, "task-123", session.ID)
	assert.Equal(t, "https://live.example/task-123", session.LiveStreamURL,
		"live URL picked up from the first status read")
	assert.Equal(t, "Bearer test-key", vendor.lastAuth)
	assert.Equal(t, "extract invoice totals", vendor.lastTask)

	output, err := r.AwaitCompletion(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, "done", output)
}

func TestRemote_AwaitFailedTask(t *testing.T) {
	vendor := &fakeVendor{pollsUntilFinished: 0, finalStatus: "failed"}
	r := newTestRemote(t, vendor)

	session, err := r.Submit(context.Background(), TaskSpec{Instructions: "task"})
	require.NoError(t, err)

	_, err = r.AwaitCompletion(context.Background(), session)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestRemote_AwaitRespectsContext(t *testing.T) {
	vendor := &fakeVendor{pollsUntilFinished: 1 << 30, finalStatus: "finished"}
	r := newTestRemote(t, vendor)

	session, err := r.Submit(context.Background(), TaskSpec{Instructions: "task"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = r.AwaitCompletion(ctx, session)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRemote_VendorErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	t.Cleanup(srv.Close)

	r := NewRemote(srv.URL, "test-key")
	_, err := r.Submit(context.Background(), TaskSpec{Instructions: "task"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "402")
}
