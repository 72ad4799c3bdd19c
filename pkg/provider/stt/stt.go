// Package stt defines the Transcriber interface for speech-to-text backends.
//
// Unlike streaming STT SDKs, Ringline's endpointer owns utterance
// segmentation itself: it hands a Transcriber one complete utterance of PCM
// at a time and expects a single text result back. This keeps the backend
// contract trivially mockable and lets batch engines (whisper.cpp) and
// streaming engines share one interface.
package stt

import "context"

// Result is the outcome of transcribing one utterance. Empty Text is a valid
// result (pure noise, breath, or a false trigger).
type Result struct {
	Text string `json:"text"`

	// Confidence is the backend's confidence score in [0, 1]; 0 when the
	// backend does not report one.
	Confidence float64 `json:"confidence,omitempty"`
}

// Transcriber converts one utterance of 16-bit mono little-endian PCM into
// text. Implementations must be safe for concurrent use; the runtime shares
// one Transcriber across all live calls.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (Result, error)
}
