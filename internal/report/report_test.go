package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ringline-ai/ringline/pkg/types"
)

type capture struct {
	mu     sync.Mutex
	paths  []string
	bodies []map[string]any
}

func newCaptureServer(t *testing.T, status int) (*httptest.Server, *capture) {
	t.Helper()
	cap := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode report body: %v", err)
		}
		cap.mu.Lock()
		cap.paths = append(cap.paths, r.URL.Path)
		cap.bodies = append(cap.bodies, body)
		cap.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, cap
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.paths)
}

func flush(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.Flush(ctx)
}

func TestCallStarted_Posts(t *testing.T) {
	srv, cap := newCaptureServer(t, http.StatusNoContent)
	c := New(srv.URL)

	c.CallStarted(context.Background(), Call{CallID: "id-1", TenantID: "acme", From: "+15550111", To: "+15550100"})
	flush(t, c)

	if cap.count() != 1 {
		t.Fatalf("got %d posts; want 1", cap.count())
	}
	if cap.paths[0] != pathCallStarted {
		t.Errorf("path = %q; want %q", cap.paths[0], pathCallStarted)
	}
	if got := cap.bodies[0]["tenant_id"]; got != "acme" {
		t.Errorf("tenant_id = %v; want acme", got)
	}
}

func TestCallerMessage_FinalsOnly(t *testing.T) {
	srv, cap := newCaptureServer(t, http.StatusOK)
	c := New(srv.URL)
	ctx := context.Background()

	c.CallerMessage(ctx, "id-1", types.Utterance{Text: "partial words"}) // not final
	c.CallerMessage(ctx, "id-1", types.Utterance{IsFinal: true})         // empty final
	c.CallerMessage(ctx, "id-1", types.Utterance{IsFinal: true, Text: "when do you open", Confidence: 0.9})
	flush(t, c)

	if cap.count() != 1 {
		t.Fatalf("got %d posts; want 1 (finals with text only)", cap.count())
	}
	if got := cap.bodies[0]["text"]; got != "when do you open" {
		t.Errorf("text = %v", got)
	}
}

func TestCallEnded_CarriesTranscript(t *testing.T) {
	srv, cap := newCaptureServer(t, http.StatusOK)
	c := New(srv.URL)

	transcript := []types.Turn{
		{Role: types.RoleUser, Content: "hi"},
		{Role: types.RoleAssistant, Content: "hello, how can I help"},
	}
	c.CallEnded(context.Background(), Call{CallID: "id-1", TenantID: "acme"}, "caller_hangup", transcript)
	flush(t, c)

	if cap.count() != 1 {
		t.Fatalf("got %d posts; want 1", cap.count())
	}
	if got := cap.bodies[0]["reason"]; got != "caller_hangup" {
		t.Errorf("reason = %v", got)
	}
	turns, ok := cap.bodies[0]["transcript"].([]any)
	if !ok || len(turns) != 2 {
		t.Errorf("transcript = %v; want 2 turns", cap.bodies[0]["transcript"])
	}
}

func TestDisabledClient_NoPosts(t *testing.T) {
	c := New("")
	ctx := context.Background()
	c.CallStarted(ctx, Call{CallID: "id-1"})
	c.CallEnded(ctx, Call{CallID: "id-1"}, "caller_hangup", nil)
	flush(t, c)
	if c.Enabled() {
		t.Error("client with empty URL reports Enabled")
	}
}

func TestDeliver_SurvivesCanceledContext(t *testing.T) {
	srv, cap := newCaptureServer(t, http.StatusOK)
	c := New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // teardown has already canceled the session context
	c.CallEnded(ctx, Call{CallID: "id-1", TenantID: "acme"}, "caller_hangup", nil)
	flush(t, c)

	if cap.count() != 1 {
		t.Errorf("got %d posts; want 1 (detached from canceled context)", cap.count())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	srv, cap := newCaptureServer(t, http.StatusServiceUnavailable)
	c := New(srv.URL)
	ctx := context.Background()

	// Each delivery retries twice; five failed deliveries open the breaker.
	for range 5 {
		c.CallStarted(ctx, Call{CallID: "id"})
		flush(t, c)
	}
	posted := cap.count()
	if posted != 10 {
		t.Fatalf("got %d posts; want 10 (5 deliveries x 2 attempts)", posted)
	}

	// Open breaker: the next report is dropped without a request.
	c.CallStarted(ctx, Call{CallID: "id"})
	flush(t, c)
	if cap.count() != posted {
		t.Errorf("got %d posts after breaker opened; want %d", cap.count(), posted)
	}
}

func TestPost_NonRetryableStatusNotRetried(t *testing.T) {
	srv, cap := newCaptureServer(t, http.StatusBadRequest)
	c := New(srv.URL)

	c.CallStarted(context.Background(), Call{CallID: "id"})
	flush(t, c)
	if cap.count() != 1 {
		t.Errorf("got %d posts; want 1 (400 is not transient)", cap.count())
	}
}
