// Package kokoro provides a kokoro-served narrowband Synthesizer.
//
// The kokoro server exposes POST /tts taking a JSON body and returning WAV
// audio. Output is intended for the PSTN playback profile, so the client
// requests a modest sample rate and lets the playback pipeline do the final
// resample and filtering.
//
// Usage:
//
//	s, err := kokoro.New("http://localhost:8880",
//	    kokoro.WithVoice("af_heart"),
//	    kokoro.WithSampleRate(16000),
//	)
//	out, err := s.Synthesize(ctx, tts.Request{Text: shaped})
package kokoro

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ringline-ai/ringline/internal/resilience"
	"github.com/ringline-ai/ringline/pkg/audio"
	"github.com/ringline-ai/ringline/pkg/provider/tts"
)

const (
	defaultVoice      = "af_heart"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultTimeout    = 30 * time.Second

	ttsEndpoint = "/tts"
)

// Compile-time assertion that Client implements tts.Synthesizer.
var _ tts.Synthesizer = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithVoice sets the default voice used when a request does not name one.
func WithVoice(voice string) Option {
	return func(c *Client) {
		c.voice = voice
	}
}

// WithLanguage sets the default BCP-47 language code. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(c *Client) {
		c.language = lang
	}
}

// WithSampleRate sets the output sample rate requested from the server.
// Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(c *Client) {
		if rate > 0 {
			c.sampleRate = rate
		}
	}
}

// WithTimeout overrides the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// Client implements tts.Synthesizer against a kokoro HTTP server. It holds
// no per-call state and is safe for concurrent use.
type Client struct {
	serverURL  string
	voice      string
	language   string
	sampleRate int
	httpClient *http.Client
}

// New creates a Client targeting the kokoro server at serverURL (e.g.,
// "http://localhost:8880"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("kokoro: serverURL must not be empty")
	}
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		voice:      defaultVoice,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ttsRequest is the JSON body sent to POST /tts.
type ttsRequest struct {
	Text       string  `json:"text"`
	VoiceID    string  `json:"voice_id"`
	Rate       float64 `json:"rate,omitempty"`
	Language   string  `json:"language"`
	SampleRate int     `json:"sample_rate"`
	Format     string  `json:"format"`
}

// Synthesize shapes req.Text and uploads it for synthesis, returning raw
// mono PCM. Transient failures are retried once. Empty shaped text returns
// empty audio without a request.
func (c *Client) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	shaped := tts.ShapeText(req.Text)
	if shaped == "" {
		return tts.Audio{SampleRate: c.sampleRate}, nil
	}

	voice := req.VoiceID
	if voice == "" {
		voice = c.voice
	}
	lang := req.Language
	if lang == "" {
		lang = c.language
	}

	body := ttsRequest{
		Text:       shaped,
		VoiceID:    voice,
		Rate:       req.Speed,
		Language:   lang,
		SampleRate: c.sampleRate,
		Format:     "wav",
	}
	data, err := json.Marshal(body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("kokoro: marshal tts request: %w", err)
	}

	var out tts.Audio
	err = resilience.Retry(ctx, 2, resilience.DefaultBackoffBase, func(ctx context.Context) error {
		var err error
		out, err = c.post(ctx, data)
		return err
	})
	if err != nil {
		return tts.Audio{}, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, body []byte) (tts.Audio, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+ttsEndpoint, bytes.NewReader(body))
	if err != nil {
		return tts.Audio{}, fmt.Errorf("kokoro: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("kokoro: POST %s: %w", ttsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return tts.Audio{}, fmt.Errorf("kokoro: POST %s: %w", ttsEndpoint, &resilience.HTTPStatusError{Status: resp.StatusCode})
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("kokoro: read WAV response: %w", err)
	}

	pcm, rate, channels, err := audio.StripWAVHeader(wav)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("kokoro: parse WAV response: %w", err)
	}
	if channels != 1 {
		return tts.Audio{}, fmt.Errorf("kokoro: expected mono audio, got %d channels", channels)
	}
	return tts.Audio{PCM: pcm, SampleRate: rate}, nil
}
