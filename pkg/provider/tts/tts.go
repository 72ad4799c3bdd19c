// Package tts defines the Synthesizer interface for text-to-speech backends
// plus the shared text shaping applied before any synthesis request.
//
// Two backend families exist: narrowband HTTP servers (kokoro) whose output
// is destined for the PSTN playback profile, and HD HTTP servers (coqui
// XTTS) played back at their native rate. Both synthesize one shaped text
// block per call and return raw 16-bit mono PCM.
package tts

import (
	"context"
	"strings"
)

// maxChunkChars bounds a single synthesis chunk. Long comma-joined sentences
// are split so the synthesizer's prosody does not run out of breath.
const maxChunkChars = 140

// Request describes one synthesis call. VoiceID and Language default from
// the backend configuration when empty.
type Request struct {
	// Text is the raw assistant text; Synthesize shapes it before upload.
	Text string

	// VoiceID selects the voice, or a cloned-voice reference for backends
	// that support cloning.
	VoiceID string

	// Language is a BCP-47 code hint.
	Language string

	// Speed is a playback rate multiplier; 0 means the backend default.
	Speed float64
}

// Audio is the result of one synthesis call: raw 16-bit mono little-endian
// PCM and the rate it was produced at.
type Audio struct {
	PCM        []byte
	SampleRate int
}

// Synthesizer converts one shaped text block into PCM. Implementations must
// be safe for concurrent use; the runtime shares one per backend across all
// live calls.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Audio, error)
}

// ShapeText normalizes assistant text for synthesis: whitespace is trimmed
// and collapsed, terminal punctuation is ensured, and sentences longer than
// 140 characters are split at commas. Chunks are joined with newlines, which
// the synthesizers treat as a pause hint.
//
// ShapeText returns "" for whitespace-only input; callers skip synthesis in
// that case.
func ShapeText(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if collapsed == "" {
		return ""
	}
	if !strings.ContainsAny(collapsed[len(collapsed)-1:], ".!?") {
		collapsed += "."
	}

	var chunks []string
	for _, sentence := range splitSentences(collapsed) {
		if len(sentence) <= maxChunkChars {
			chunks = append(chunks, sentence)
			continue
		}
		chunks = append(chunks, splitAtCommas(sentence)...)
	}
	return strings.Join(chunks, "\n")
}

// splitSentences cuts text after '.', '!' or '?' followed by a space. The
// terminator stays attached to its sentence.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		c := text[i]
		if (c == '.' || c == '!' || c == '?') && text[i+1] == ' ' {
			out = append(out, text[start:i+1])
			start = i + 2
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// splitAtCommas breaks one over-long sentence into chunks of at most
// maxChunkChars, cutting at comma boundaries where possible. A single clause
// longer than the limit is emitted as-is rather than cut mid-word.
func splitAtCommas(sentence string) []string {
	parts := strings.SplitAfter(sentence, ",")
	var out []string
	var cur strings.Builder
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+1+len(trimmed) > maxChunkChars {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(trimmed)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
