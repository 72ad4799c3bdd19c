// Package whisper provides a whisper.cpp-backed Transcriber.
//
// It talks to a running whisper-server binary (which exposes a REST API at
// POST /inference). The endpointer delivers one complete utterance of PCM
// per call, so this client is a plain batch uploader: it wraps the PCM in a
// WAV container, POSTs it as multipart/form-data, and parses the JSON text
// out of the response.
//
// Usage:
//
//	t, err := whisper.New("http://localhost:9000",
//	    whisper.WithLanguage("en"),
//	    whisper.WithPrompt("Acme Plumbing, drain cleaning, hydro jetting"),
//	)
//	res, err := t.Transcribe(ctx, pcm, 16000)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/ringline-ai/ringline/internal/resilience"
	"github.com/ringline-ai/ringline/pkg/audio"
	"github.com/ringline-ai/ringline/pkg/provider/stt"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 20 * time.Second
)

// Compile-time assertion that Client implements stt.Transcriber.
var _ stt.Transcriber = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithLanguage sets the BCP-47 language code sent to the server (e.g., "en",
// "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(c *Client) {
		c.language = lang
	}
}

// WithPrompt sets the initial prompt used to bias recognition toward the
// tenant's vocabulary (business name, product names, jargon).
func WithPrompt(prompt string) Option {
	return func(c *Client) {
		c.prompt = prompt
	}
}

// WithTimeout overrides the per-request HTTP timeout. Defaults to 20 s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// Client implements stt.Transcriber backed by a whisper.cpp HTTP server. It
// holds no per-call state and is safe for concurrent use.
type Client struct {
	serverURL  string
	model      string
	language   string
	prompt     string
	httpClient *http.Client
}

// New creates a Client that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:9000"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	c := &Client{
		serverURL:  serverURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Transcribe uploads one utterance of 16-bit mono little-endian PCM and
// returns the recognized text. Transient failures (5xx, resets, timeouts)
// are retried once; a final failure surfaces as an error so the caller can
// tag the utterance rather than fabricate text. Empty text with a nil error
// is a valid outcome.
func (c *Client) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (stt.Result, error) {
	if len(pcm) == 0 {
		return stt.Result{}, nil
	}
	if sampleRate <= 0 {
		return stt.Result{}, fmt.Errorf("whisper: invalid sample rate %d", sampleRate)
	}

	var res stt.Result
	err := resilience.Retry(ctx, 2, resilience.DefaultBackoffBase, func(ctx context.Context) error {
		var err error
		res, err = c.infer(ctx, pcm, sampleRate)
		return err
	})
	if err != nil {
		return stt.Result{}, err
	}
	return res, nil
}

// infer performs one POST /inference round trip.
func (c *Client) infer(ctx context.Context, pcm []byte, sampleRate int) (stt.Result, error) {
	wav := audio.EncodeWAV(pcm, sampleRate, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: write wav data: %w", err)
	}

	if c.language != "" {
		if err := mw.WriteField("language", c.language); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if c.model != "" {
		if err := mw.WriteField("model", c.model); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if c.prompt != "" {
		if err := mw.WriteField("prompt", c.prompt); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write prompt field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := c.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return stt.Result{}, fmt.Errorf("whisper: inference failed: %w", &resilience.HTTPStatusError{Status: resp.StatusCode})
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return stt.Result{Text: result.Text, Confidence: result.Confidence}, nil
}
