// Package tenant resolves dialed numbers to validated tenant configurations.
//
// Configs live in the KV store as JSON under tenantcfg:<tenant_id>, with a
// DID mapping under tenantmap:did:<e164>. Resolution is cached in process
// with a short TTL; a cache miss on the first call of a burst is acceptable.
package tenant

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/ringline-ai/ringline/pkg/types"
)

// SchemaVersion is the only accepted contract version.
const SchemaVersion = "v1"

// TTS backend kinds.
const (
	TTSKindNarrowband = "narrowband-http"
	TTSKindHD         = "HD-http"
)

// ErrNotConfigured marks a dialed number with no valid tenant behind it:
// unmapped DID, missing config, wrong contract version, or schema failure.
var ErrNotConfigured = errors.New("tenant: not configured")

// didPattern is the canonical international number form. Enforced before a
// number is used as a store key.
var didPattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// Config is the v1 tenant contract. The yaml tags exist for the development
// fixtures file; the store itself holds JSON.
type Config struct {
	Version  string `json:"version" yaml:"version"`
	TenantID string `json:"tenant_id" yaml:"tenant_id"`
	Name     string `json:"name" yaml:"name"`

	// Caps override the deployment defaults; 0 means "use default", -1
	// means unlimited.
	MaxConcurrent int `json:"max_concurrent,omitempty" yaml:"max_concurrent"`
	PerMinute     int `json:"per_minute,omitempty" yaml:"per_minute"`

	// WebhookSecret is a literal secret or a reference of the form
	// "env:NAME" resolved from the process environment.
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret"`

	STT STTConfig `json:"stt" yaml:"stt"`
	TTS TTSConfig `json:"tts" yaml:"tts"`

	Greeting string `json:"greeting,omitempty" yaml:"greeting"`

	TransferProfiles []types.TransferProfile `json:"transfer_profiles,omitempty" yaml:"transfer_profiles"`

	// AssistantContext keeps its configured section order.
	AssistantContext []types.ContextSection `json:"assistant_context,omitempty" yaml:"assistant_context"`
}

// STTConfig tunes transcription for a tenant.
type STTConfig struct {
	URL       string `json:"url,omitempty" yaml:"url"`
	ChunkMS   int    `json:"chunk_ms,omitempty" yaml:"chunk_ms"`
	SilenceMS int    `json:"silence_ms,omitempty" yaml:"silence_ms"`
	Language  string `json:"language,omitempty" yaml:"language"`
	Prompt    string `json:"prompt,omitempty" yaml:"prompt"`
}

// TTSConfig selects and tunes a synthesis backend.
type TTSConfig struct {
	// Kind is "narrowband-http" or "HD-http".
	Kind string `json:"kind" yaml:"kind"`

	URL        string `json:"url,omitempty" yaml:"url"`
	VoiceID    string `json:"voice_id" yaml:"voice_id"`
	SampleRate int    `json:"sample_rate,omitempty" yaml:"sample_rate"`

	// Optional tuning, forwarded to backends that support it.
	Temperature       float64 `json:"temperature,omitempty" yaml:"temperature"`
	LengthPenalty     float64 `json:"length_penalty,omitempty" yaml:"length_penalty"`
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty" yaml:"repetition_penalty"`
	TopK              int     `json:"top_k,omitempty" yaml:"top_k"`
	TopP              float64 `json:"top_p,omitempty" yaml:"top_p"`
	Speed             float64 `json:"speed,omitempty" yaml:"speed"`
	SentenceSplit     bool    `json:"sentence_split,omitempty" yaml:"sentence_split"`
}

// NormalizeDID strips whitespace from a dialed number and validates it
// against the international form. Normalization is idempotent.
func NormalizeDID(did string) (string, error) {
	cleaned := strings.Join(strings.Fields(did), "")
	if !didPattern.MatchString(cleaned) {
		return "", fmt.Errorf("tenant: dialed number %q is not in international form", did)
	}
	return cleaned, nil
}

// Validate checks cfg against the v1 schema, returning a single joined error
// listing every failure. A validation failure causes no side effects.
func (c *Config) Validate() error {
	var errs []error

	if c.Version != SchemaVersion {
		errs = append(errs, fmt.Errorf("version %q is not %q", c.Version, SchemaVersion))
	}
	if c.TenantID == "" {
		errs = append(errs, errors.New("tenant_id is required"))
	}
	if c.MaxConcurrent < -1 {
		errs = append(errs, fmt.Errorf("max_concurrent %d must be positive, 0 (default), or -1 (unlimited)", c.MaxConcurrent))
	}
	if c.PerMinute < -1 {
		errs = append(errs, fmt.Errorf("per_minute %d must be positive, 0 (default), or -1 (unlimited)", c.PerMinute))
	}
	if c.STT.ChunkMS < 0 {
		errs = append(errs, fmt.Errorf("stt.chunk_ms %d must not be negative", c.STT.ChunkMS))
	}
	if c.STT.SilenceMS < 0 {
		errs = append(errs, fmt.Errorf("stt.silence_ms %d must not be negative", c.STT.SilenceMS))
	}
	switch c.TTS.Kind {
	case TTSKindNarrowband, TTSKindHD:
	default:
		errs = append(errs, fmt.Errorf("tts.kind %q is invalid; valid values: %s, %s", c.TTS.Kind, TTSKindNarrowband, TTSKindHD))
	}
	if c.TTS.VoiceID == "" {
		errs = append(errs, errors.New("tts.voice_id is required"))
	}
	if c.TTS.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("tts.sample_rate %d must not be negative", c.TTS.SampleRate))
	}
	for i, tp := range c.TransferProfiles {
		prefix := fmt.Sprintf("transfer_profiles[%d]", i)
		if tp.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if _, err := NormalizeDID(tp.Destination); err != nil {
			errs = append(errs, fmt.Errorf("%s.destination %q is not in international form", prefix, tp.Destination))
		}
		if tp.TimeoutSeconds < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout_seconds %d must not be negative", prefix, tp.TimeoutSeconds))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("tenant: invalid config for %q: %w", c.TenantID, errors.Join(errs...))
	}
	return nil
}

// ResolveSecret resolves the webhook secret, expanding "env:NAME"
// references. A missing or empty referenced variable resolves to "", which
// callers must treat as "no secret configured" and reject verification.
func (c *Config) ResolveSecret() string {
	if name, ok := strings.CutPrefix(c.WebhookSecret, "env:"); ok {
		return os.Getenv(name)
	}
	return c.WebhookSecret
}
