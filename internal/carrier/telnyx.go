// Package carrier issues call-control commands to the Telnyx API: answer,
// playback start/stop, transfer, and hangup. Commands are synchronous; the
// session coordinator decides what a failure means for the call.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ringline-ai/ringline/internal/resilience"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultAttempts = 3
)

// Client is a Telnyx call-control client. It satisfies the session
// coordinator's carrier interface.
type Client struct {
	apiURL     string
	apiKey     string
	streamURL  string
	codec      string
	httpClient *http.Client
	attempts   int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the HTTP client, for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds each command attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithStreamURL sets the public WebSocket URL the carrier forks call media
// to. Sent with the answer command; empty disables media forking.
func WithStreamURL(u string) Option {
	return func(c *Client) { c.streamURL = u }
}

// WithCodec sets the media codec requested from the carrier. Default PCMU.
func WithCodec(codec string) Option {
	return func(c *Client) { c.codec = codec }
}

// WithAttempts bounds retries per command. Default 3.
func WithAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// New creates a call-control client for the API at apiURL.
func New(apiURL, apiKey string, opts ...Option) (*Client, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("carrier: api url is required")
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("carrier: invalid api url: %w", err)
	}
	c := &Client{
		apiURL:     strings.TrimRight(apiURL, "/"),
		apiKey:     apiKey,
		codec:      "PCMU",
		httpClient: &http.Client{Timeout: defaultTimeout},
		attempts:   defaultAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type answerCommand struct {
	StreamURL   string `json:"stream_url,omitempty"`
	StreamTrack string `json:"stream_track,omitempty"`
	Codec       string `json:"stream_bidirectional_codec,omitempty"`
}

type playCommand struct {
	AudioURL string `json:"audio_url"`
}

type transferCommand struct {
	To string `json:"to"`
}

// Answer picks up a ringing call and asks the carrier to fork inbound media
// to the configured stream URL.
func (c *Client) Answer(ctx context.Context, callControlID string) error {
	cmd := answerCommand{}
	if c.streamURL != "" {
		cmd.StreamURL = c.streamURL
		cmd.StreamTrack = "inbound_track"
		cmd.Codec = c.codec
	}
	return c.command(ctx, callControlID, "answer", cmd)
}

// Play starts playback of a staged audio file on the call. The carrier
// reports completion with a playback.ended webhook.
func (c *Client) Play(ctx context.Context, callControlID, audioURL string) error {
	return c.command(ctx, callControlID, "playback_start", playCommand{AudioURL: audioURL})
}

// StopPlayback cancels in-progress playback, for barge-in.
func (c *Client) StopPlayback(ctx context.Context, callControlID string) error {
	return c.command(ctx, callControlID, "playback_stop", struct{}{})
}

// Transfer bridges the call to another number. The runtime's leg ends with a
// call.hangup webhook once the bridge completes.
func (c *Client) Transfer(ctx context.Context, callControlID, to string) error {
	return c.command(ctx, callControlID, "transfer", transferCommand{To: to})
}

// Hangup ends the call.
func (c *Client) Hangup(ctx context.Context, callControlID string) error {
	return c.command(ctx, callControlID, "hangup", struct{}{})
}

// command posts one call-control action, retrying transient failures. A 404
// is returned without retry: the call is already gone.
func (c *Client) command(ctx context.Context, callControlID, action string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("carrier: encode %s: %w", action, err)
	}
	endpoint := fmt.Sprintf("%s/v2/calls/%s/actions/%s", c.apiURL, url.PathEscape(callControlID), action)

	err = resilience.Retry(ctx, c.attempts, resilience.DefaultBackoffBase, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &resilience.HTTPStatusError{Status: resp.StatusCode}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("carrier: %s %s: %w", action, callControlID, err)
	}
	return nil
}
