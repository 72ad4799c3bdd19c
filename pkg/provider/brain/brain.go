// Package brain provides the client for the conversational brain service.
//
// The brain exposes two endpoints: POST /reply for a complete response and
// POST /reply/stream for an SSE stream of incremental tokens. The streamed
// form is preferred because it lets the runtime start synthesis before the
// full reply exists; when the stream endpoint is unavailable or responds
// with a non-SSE content type the client transparently falls back to the
// non-streaming endpoint.
//
// Besides plain text the brain may invoke the transfer_call and end_call
// tools. During streaming, tool-call arguments arrive as string fragments
// indexed by tool-call position; the stream reader accumulates them per
// index and parses only the assembled JSON.
package brain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ringline-ai/ringline/internal/resilience"
	"github.com/ringline-ai/ringline/pkg/types"
)

const (
	defaultTimeout = 30 * time.Second

	// defaultFirstTokenTimeout bounds how long the stream may stay silent
	// before the first frame; a brain that has not started talking by then
	// is served from the non-streaming endpoint instead.
	defaultFirstTokenTimeout = 2 * time.Second

	// defaultIdleTimeout bounds the gap between frames once the stream has
	// started. The brain pings idle streams, so a gap this long means the
	// stream is dead.
	defaultIdleTimeout = 15 * time.Second

	replyEndpoint  = "/reply"
	streamEndpoint = "/reply/stream"

	// Tool names the brain may invoke.
	ToolTransferCall = "transfer_call"
	ToolEndCall      = "end_call"
)

// Request carries one conversational turn to the brain.
type Request struct {
	TenantID         string                  `json:"tenant_id"`
	CallID           string                  `json:"call_id"`
	Transcript       string                  `json:"transcript"`
	History          []types.Turn            `json:"history"`
	TransferProfiles []types.TransferProfile `json:"transfer_profiles,omitempty"`
	AssistantContext []types.ContextSection  `json:"assistant_context,omitempty"`
}

// Transfer is the parsed transfer_call tool invocation.
type Transfer struct {
	// To is the bridge destination in international form.
	To string `json:"to"`

	// MessageToCaller is spoken before the bridge is attempted.
	MessageToCaller string `json:"message_to_caller"`
}

// Hangup is the parsed end_call tool invocation.
type Hangup struct {
	// GoodbyeMessage is spoken before the call is terminated.
	GoodbyeMessage string `json:"goodbye_message"`
}

// Reply is the brain's complete answer for one turn. At most one of Transfer
// and Hangup is set.
type Reply struct {
	Text     string    `json:"text"`
	Transfer *Transfer `json:"transfer,omitempty"`
	Hangup   *Hangup   `json:"hangup,omitempty"`
}

// Chunk is one streamed increment. Text chunks arrive first; the terminal
// chunk has Done set and carries the final Reply (or Err when the stream
// failed mid-flight).
type Chunk struct {
	Text  string
	Done  bool
	Reply *Reply
	Err   error
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithTimeout overrides the per-request HTTP timeout for the non-streaming
// endpoint. Defaults to 30 s. Streaming requests are bounded by ctx only.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithStreamingDisabled forces every Stream call straight to the
// non-streaming endpoint.
func WithStreamingDisabled() Option {
	return func(c *Client) {
		c.streamingDisabled = true
	}
}

// WithFirstTokenTimeout overrides how long a stream may stay silent before
// the client gives up on it and falls back to the non-streaming endpoint.
// Defaults to 2 s.
func WithFirstTokenTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.firstTokenTimeout = d
		}
	}
}

// WithIdleTimeout overrides the maximum gap between stream reads once the
// stream has started. Defaults to 15 s.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// Client talks to the brain service. It holds no per-call state and is safe
// for concurrent use.
type Client struct {
	serverURL         string
	timeout           time.Duration
	firstTokenTimeout time.Duration
	idleTimeout       time.Duration
	streamingDisabled bool
	httpClient        *http.Client
}

// New creates a Client targeting the brain service at serverURL. serverURL
// must be non-empty.
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("brain: serverURL must not be empty")
	}
	c := &Client{
		serverURL:         strings.TrimRight(serverURL, "/"),
		timeout:           defaultTimeout,
		firstTokenTimeout: defaultFirstTokenTimeout,
		idleTimeout:       defaultIdleTimeout,
		// No Timeout on the shared client: streaming responses outlive any
		// fixed deadline. Non-streaming calls get a per-request context.
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Reply sends req to POST /reply and waits for the complete response.
// Transient failures are retried once.
func (c *Client) Reply(ctx context.Context, req Request) (*Reply, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("brain: marshal request: %w", err)
	}

	var reply *Reply
	err = resilience.Retry(ctx, 2, resilience.DefaultBackoffBase, func(ctx context.Context) error {
		var err error
		reply, err = c.postReply(ctx, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) postReply(ctx context.Context, body []byte) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+replyEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("brain: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brain: POST %s: %w", replyEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("brain: POST %s: %w", replyEndpoint, &resilience.HTTPStatusError{Status: resp.StatusCode})
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("brain: decode reply: %w", err)
	}
	return &reply, nil
}

// Stream sends req to POST /reply/stream and returns a channel of incremental
// chunks. The channel always terminates with exactly one Done chunk carrying
// either the final Reply or an error, and is closed afterwards; callers must
// drain it.
//
// When the stream endpoint is unavailable or responds with a non-SSE content
// type, the client falls back to the non-streaming endpoint and emits the
// whole reply as a single text chunk followed by the Done chunk. The
// fallback is logged once per call.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	out := make(chan Chunk, 16)

	if c.streamingDisabled {
		go c.fallback(ctx, req, out, nil)
		return out, nil
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("brain: marshal request: %w", err)
	}

	// The request runs under its own cancelable context so the stall
	// watchdog can abort a hung body read.
	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.serverURL+streamEndpoint, bytes.NewReader(data))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("brain: create stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		go c.fallback(ctx, req, out, err)
		return out, nil
	}

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(contentType, "text/event-stream") {
		resp.Body.Close()
		cancel()
		go c.fallback(ctx, req, out, fmt.Errorf("brain: stream endpoint returned status %d content-type %q", resp.StatusCode, contentType))
		return out, nil
	}

	go c.readStream(ctx, cancel, req, resp.Body, out)
	return out, nil
}

// fallback serves a Stream call from the non-streaming endpoint.
func (c *Client) fallback(ctx context.Context, req Request, out chan<- Chunk, cause error) {
	defer close(out)
	if cause != nil {
		slog.Warn("brain stream unavailable, falling back to non-streaming",
			"call_id", req.CallID, "err", cause)
	}
	reply, err := c.Reply(ctx, req)
	if err != nil {
		out <- Chunk{Done: true, Err: err}
		return
	}
	if reply.Text != "" {
		select {
		case out <- Chunk{Text: reply.Text}:
		case <-ctx.Done():
			out <- Chunk{Done: true, Err: ctx.Err()}
			return
		}
	}
	out <- Chunk{Done: true, Reply: reply}
}

// tokenEvent is the payload of an `event: token` frame.
type tokenEvent struct {
	Text      string             `json:"text"`
	ToolCalls []toolCallFragment `json:"tool_calls,omitempty"`
}

// toolCallFragment is one piece of a possibly-fragmented tool invocation.
// Name and ID appear on the first fragment for an index; Arguments may be
// spread across many fragments.
type toolCallFragment struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// readStream parses the SSE body frame by frame, forwarding text and
// accumulating tool-call fragments until the done event arrives. cancel
// aborts the underlying request; the stall watchdog invokes it when the
// brain stops producing frames.
func (c *Client) readStream(ctx context.Context, cancel context.CancelFunc, req Request, body io.ReadCloser, out chan<- Chunk) {
	defer body.Close()
	defer cancel()

	// The watchdog starts on the tighter first-token deadline; every line
	// from the brain (tokens and keepalive pings alike) re-arms it on the
	// idle deadline.
	var stalled atomic.Bool
	watchdog := time.AfterFunc(c.firstTokenTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	acc := newToolCallAccumulator()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var emitted bool
	var event string
	var data strings.Builder

	dispatch := func() bool {
		defer func() { event = ""; data.Reset() }()
		payload := data.String()
		switch event {
		case "token":
			var tok tokenEvent
			if err := json.Unmarshal([]byte(payload), &tok); err != nil {
				slog.Debug("brain: skipping malformed token frame", "err", err)
				return true
			}
			for _, frag := range tok.ToolCalls {
				acc.add(frag)
			}
			if tok.Text != "" {
				select {
				case out <- Chunk{Text: tok.Text}:
					emitted = true
				case <-ctx.Done():
					out <- Chunk{Done: true, Err: ctx.Err()}
					close(out)
					return false
				}
			}
			return true
		case "done":
			var reply Reply
			if err := json.Unmarshal([]byte(payload), &reply); err != nil {
				out <- Chunk{Done: true, Err: fmt.Errorf("brain: decode done frame: %w", err)}
				close(out)
				return false
			}
			// The done payload is authoritative; accumulated tool calls fill
			// in when it carries neither outcome.
			if reply.Transfer == nil && reply.Hangup == nil {
				acc.apply(&reply)
			}
			out <- Chunk{Done: true, Reply: &reply}
			close(out)
			return false
		default:
			return true
		}
	}

	for scanner.Scan() {
		watchdog.Reset(c.idleTimeout)
		line := scanner.Text()
		switch {
		case line == "":
			if event != "" && !dispatch() {
				return
			}
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if stalled.Load() && !emitted && ctx.Err() == nil {
		// The brain never started talking; the turn can still be served
		// whole from the non-streaming endpoint.
		c.fallback(ctx, req, out, fmt.Errorf("brain: no stream output within %s", c.firstTokenTimeout))
		return
	}

	err := scanner.Err()
	switch {
	case stalled.Load() && ctx.Err() == nil:
		err = fmt.Errorf("brain: stream idle for %s", c.idleTimeout)
	case err == nil:
		err = errors.New("brain: stream ended without done event")
	}
	out <- Chunk{Done: true, Err: err}
	close(out)
}

// toolCallAccumulator reassembles fragmented tool invocations by index.
type toolCallAccumulator struct {
	order []int
	calls map[int]*toolCallState
}

type toolCallState struct {
	name string
	args strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*toolCallState)}
}

func (a *toolCallAccumulator) add(frag toolCallFragment) {
	st, ok := a.calls[frag.Index]
	if !ok {
		st = &toolCallState{}
		a.calls[frag.Index] = st
		a.order = append(a.order, frag.Index)
	}
	if frag.Name != "" {
		st.name = frag.Name
	}
	st.args.WriteString(frag.Arguments)
}

// apply parses the assembled tool calls into reply. The first recognized
// tool wins; malformed arguments are logged and skipped.
func (a *toolCallAccumulator) apply(reply *Reply) {
	for _, idx := range a.order {
		st := a.calls[idx]
		switch st.name {
		case ToolTransferCall:
			var tr Transfer
			if err := json.Unmarshal([]byte(st.args.String()), &tr); err != nil {
				slog.Warn("brain: malformed transfer_call arguments", "err", err)
				continue
			}
			reply.Transfer = &tr
			return
		case ToolEndCall:
			var hu Hangup
			if err := json.Unmarshal([]byte(st.args.String()), &hu); err != nil {
				slog.Warn("brain: malformed end_call arguments", "err", err)
				continue
			}
			reply.Hangup = &hu
			return
		}
	}
}
