// Package coquixtts provides a Coqui XTTS v2 HD Synthesizer.
//
// The XTTS API server exposes synthesis via POST /tts_to_audio/ with a JSON
// body and voice cloning via POST /clone_speaker with multipart WAV uploads.
// Output is played back at the model's native rate (the HD transport
// profile), so no downstream resampling is requested here.
//
// Usage:
//
//	s, err := coquixtts.New("http://localhost:8002",
//	    coquixtts.WithLanguage("en"),
//	    coquixtts.WithTuning(coquixtts.Tuning{Temperature: 0.65, Speed: 1.1}),
//	)
//	out, err := s.Synthesize(ctx, tts.Request{Text: shaped, VoiceID: "anna"})
package coquixtts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ringline-ai/ringline/internal/resilience"
	"github.com/ringline-ai/ringline/pkg/audio"
	"github.com/ringline-ai/ringline/pkg/provider/tts"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 45 * time.Second

	ttsEndpoint          = "/tts_to_audio/"
	cloneSpeakerEndpoint = "/clone_speaker"
)

// Compile-time assertion that Client implements tts.Synthesizer.
var _ tts.Synthesizer = (*Client)(nil)

// Tuning carries the optional XTTS sampling knobs. Zero values are omitted
// from the request so the server applies its own defaults.
type Tuning struct {
	Temperature       float64 `json:"temperature,omitempty"`
	LengthPenalty     float64 `json:"length_penalty,omitempty"`
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty"`
	TopK              int     `json:"top_k,omitempty"`
	TopP              float64 `json:"top_p,omitempty"`
	Speed             float64 `json:"speed,omitempty"`
	EnableTextSplit   bool    `json:"enable_text_splitting,omitempty"`
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithLanguage sets the default BCP-47 language code. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(c *Client) {
		c.language = lang
	}
}

// WithTuning sets the XTTS sampling parameters sent with every request.
func WithTuning(t Tuning) Option {
	return func(c *Client) {
		c.tuning = t
	}
}

// WithTimeout overrides the per-request HTTP timeout. Defaults to 45 s; XTTS
// inference on long text is slow.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// Client implements tts.Synthesizer against a Coqui XTTS v2 API server. It
// holds no per-call state and is safe for concurrent use.
type Client struct {
	serverURL  string
	language   string
	tuning     Tuning
	httpClient *http.Client
}

// New creates a Client targeting the XTTS server at serverURL (e.g.,
// "http://localhost:8002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("coquixtts: serverURL must not be empty")
	}
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/. The embedded
// Tuning fields flatten into the same object.
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
	Tuning
}

// cloneSpeakerResponse is the JSON body returned by POST /clone_speaker.
type cloneSpeakerResponse struct {
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// Synthesize shapes req.Text and synthesizes it with the given voice.
// VoiceID names an XTTS studio speaker or a cloned-voice reference and must
// not be empty. Transient failures are retried once.
func (c *Client) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	if req.VoiceID == "" {
		return tts.Audio{}, errors.New("coquixtts: VoiceID must not be empty")
	}
	shaped := tts.ShapeText(req.Text)
	if shaped == "" {
		return tts.Audio{}, nil
	}

	lang := req.Language
	if lang == "" {
		lang = c.language
	}
	tuning := c.tuning
	if req.Speed > 0 {
		tuning.Speed = req.Speed
	}

	body := ttsRequest{
		Text:       shaped,
		SpeakerWav: req.VoiceID,
		Language:   lang,
		Tuning:     tuning,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("coquixtts: marshal tts request: %w", err)
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
		return tts.Audio{}, fmt.Errorf("coquixtts: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("coquixtts: POST %s: %w", ttsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return tts.Audio{}, fmt.Errorf("coquixtts: POST %s: %w", ttsEndpoint, &resilience.HTTPStatusError{Status: resp.StatusCode})
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("coquixtts: read WAV response: %w", err)
	}

	pcm, rate, channels, err := audio.StripWAVHeader(wav)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("coquixtts: parse WAV response: %w", err)
	}
	if channels != 1 {
		return tts.Audio{}, fmt.Errorf("coquixtts: expected mono audio, got %d channels", channels)
	}
	return tts.Audio{PCM: pcm, SampleRate: rate}, nil
}

// CloneVoice creates a new speaker voice by uploading WAV samples via POST
// /clone_speaker. Each element of samples must be a complete WAV file. The
// returned name is usable as a Request.VoiceID.
func (c *Client) CloneVoice(ctx context.Context, samples [][]byte) (string, error) {
	if len(samples) == 0 {
		return "", errors.New("coquixtts: CloneVoice requires at least one audio sample")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i, sample := range samples {
		fw, err := mw.CreateFormFile("wav_files", fmt.Sprintf("sample_%02d.wav", i))
		if err != nil {
			return "", fmt.Errorf("coquixtts: create form file %d: %w", i, err)
		}
		if _, err := fw.Write(sample); err != nil {
			return "", fmt.Errorf("coquixtts: write form file %d: %w", i, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("coquixtts: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+cloneSpeakerEndpoint, &body)
	if err != nil {
		return "", fmt.Errorf("coquixtts: create clone-speaker request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("coquixtts: POST %s: %w", cloneSpeakerEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("coquixtts: POST %s returned status %d", cloneSpeakerEndpoint, resp.StatusCode)
	}

	var cloneResp cloneSpeakerResponse
	if err := json.NewDecoder(resp.Body).Decode(&cloneResp); err != nil {
		return "", fmt.Errorf("coquixtts: decode clone-speaker response: %w", err)
	}
	if cloneResp.Name == "" {
		return "", errors.New("coquixtts: clone-speaker response missing name")
	}
	return cloneResp.Name, nil
}
