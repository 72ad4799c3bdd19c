// Package types defines the shared types used across all Ringline packages.
//
// These types form the lingua franca between the service clients, the
// endpointer, the session coordinator, and the reporting layer. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is a single entry in a call's conversation history.
type Turn struct {
	// Role is who spoke: user, assistant, or system.
	Role Role `json:"role"`

	// Content is the text of the turn. System turns carry synthetic markers
	// such as the barge-in boundary.
	Content string `json:"content"`

	// Timestamp is when the turn was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// Transcript is the artifact emitted when a call tears down. No audio is
// persisted — only the ordered turn sequence.
type Transcript struct {
	TenantID string        `json:"tenant_id"`
	CallID   string        `json:"call_id"`
	CallerID string        `json:"caller_id"`
	Duration time.Duration `json:"duration_ms"`
	Turns    []Turn        `json:"turns"`
}

// Utterance is a final or partial speech-to-text result produced by the
// endpointer. Partials are speculative and never enter conversation history.
type Utterance struct {
	// Text is the transcribed speech. Empty text is a valid final (silence
	// or an STT failure).
	Text string

	// IsFinal marks an utterance-boundary transcript. Only finals drive
	// state transitions.
	IsFinal bool

	// Onset marks the moment speech was confirmed, before any transcription
	// exists. Onset events carry no text; they exist so playback can be cut
	// the instant the caller starts talking.
	Onset bool

	// Confidence is the STT confidence score, 0 when unreported.
	Confidence float64

	// ErrTag is a structured error tag set when the STT service failed on a
	// final; the text is empty in that case.
	ErrTag string

	// Duration is the length of the captured utterance audio.
	Duration time.Duration
}

// TransferProfile describes a human transfer destination offered to the
// brain as a tool target.
type TransferProfile struct {
	// Name is a short identifier, e.g. "billing".
	Name string `json:"name" yaml:"name"`

	// Holder is the person or team answering at the destination.
	Holder string `json:"holder" yaml:"holder"`

	// Responsibilities describes when the brain should pick this profile.
	Responsibilities string `json:"responsibilities" yaml:"responsibilities"`

	// Destination is the bridge target in canonical international form.
	Destination string `json:"destination" yaml:"destination"`

	// HoldAudioURL optionally points at hold music played during the bridge.
	HoldAudioURL string `json:"hold_audio_url,omitempty" yaml:"hold_audio_url"`

	// TimeoutSeconds optionally bounds how long the bridge attempt rings.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds"`
}

// ContextSection is one named block of assistant context (pricing, hours,
// products, ...). Sections keep their configured order.
type ContextSection struct {
	Name string `json:"name" yaml:"name"`
	Text string `json:"text" yaml:"text"`
}
