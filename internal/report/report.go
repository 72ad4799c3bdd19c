// Package report pushes call lifecycle events to the control plane. Every
// delivery is best-effort and asynchronous: a slow or dead control plane
// must never add latency to a live call, so posts run in their own
// goroutines behind a circuit breaker and failures are logged and dropped.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ringline-ai/ringline/internal/resilience"
	"github.com/ringline-ai/ringline/pkg/types"
)

const (
	defaultTimeout = 5 * time.Second

	pathCallStarted   = "/v1/events/call_started"
	pathCallerMessage = "/v1/events/caller_message"
	pathCallEnded     = "/v1/events/call_ended"
)

// Call identifies a call to the control plane.
type Call struct {
	CallID   string `json:"call_id"`
	TenantID string `json:"tenant_id"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
}

type callStartedPayload struct {
	Call
	StartedAt time.Time `json:"started_at"`
}

type callerMessagePayload struct {
	CallID     string    `json:"call_id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"`
	At         time.Time `json:"at"`
}

type callEndedPayload struct {
	Call
	Reason     string       `json:"reason"`
	EndedAt    time.Time    `json:"ended_at"`
	Transcript []types.Turn `json:"transcript"`
}

// Client reports to the control plane. A Client constructed with an empty
// URL is disabled: every method is a no-op. Methods never block on network
// I/O and are safe for concurrent use.
type Client struct {
	serverURL  string
	httpClient *http.Client
	breaker    *resilience.Breaker
	wg         sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the HTTP client, for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds each delivery attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a control-plane reporter. serverURL may be empty to disable
// reporting entirely.
func New(serverURL string, opts ...Option) *Client {
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		breaker:    resilience.NewBreaker("control-plane", 5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether a control plane is configured.
func (c *Client) Enabled() bool { return c.serverURL != "" }

// CallStarted reports a newly admitted call.
func (c *Client) CallStarted(ctx context.Context, call Call) {
	c.deliver(ctx, pathCallStarted, callStartedPayload{Call: call, StartedAt: time.Now().UTC()})
}

// CallerMessage reports one finalized caller utterance. Partials and empty
// finals are ignored; the control plane sees utterance boundaries only.
func (c *Client) CallerMessage(ctx context.Context, callID string, utt types.Utterance) {
	if !utt.IsFinal || utt.Text == "" {
		return
	}
	c.deliver(ctx, pathCallerMessage, callerMessagePayload{
		CallID:     callID,
		Text:       utt.Text,
		Confidence: utt.Confidence,
		At:         time.Now().UTC(),
	})
}

// CallEnded reports teardown with the full transcript.
func (c *Client) CallEnded(ctx context.Context, call Call, reason string, transcript []types.Turn) {
	c.deliver(ctx, pathCallEnded, callEndedPayload{
		Call:       call,
		Reason:     reason,
		EndedAt:    time.Now().UTC(),
		Transcript: transcript,
	})
}

// Flush waits for in-flight deliveries, bounded by ctx. Call during
// shutdown so final call_ended events are not lost.
func (c *Client) Flush(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// deliver posts asynchronously. The breaker short-circuits while the
// control plane is down; a dropped report is logged, never retried beyond
// the bounded in-flight attempts.
func (c *Client) deliver(ctx context.Context, path string, payload any) {
	if !c.Enabled() {
		return
	}
	if err := c.breaker.Allow(); err != nil {
		slog.Debug("control-plane report dropped", "path", path, "err", err)
		return
	}

	// Detach from the caller: teardown cancels the session context, and the
	// final report must still go out.
	ctx = context.WithoutCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := resilience.Retry(ctx, 2, resilience.DefaultBackoffBase, func(ctx context.Context) error {
			return c.post(ctx, path, payload)
		})
		if err != nil {
			c.breaker.MarkFailure()
			slog.Warn("control-plane report failed", "path", path, "err", err)
			return
		}
		c.breaker.MarkSuccess()
	}()
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("report: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("report: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("report: post %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("report: post %s: %w", path, &resilience.HTTPStatusError{Status: resp.StatusCode})
	}
	return nil
}
