package endpoint

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Echo suppression defaults.
const (
	defaultEchoThreshold = 0.55

	// Envelopes are non-negative, so their correlation is biased high; the
	// fallback needs a much stricter cutoff than raw correlation.
	defaultEnvelopeThreshold = 0.90

	defaultReferenceMS    = 2000
	defaultRecentWindowMS = 1200
)

// EchoSuppressor mutes caller frames that correlate with recently played
// assistant audio. Carriers with no line-side echo cancellation feed our own
// prompts back into the caller stream; without suppression the endpointer
// barges the assistant in on itself.
//
// Detection is normalized cross-correlation between the incoming frame and
// the tail of a rolling reference of played audio, with a cheap envelope
// comparison as fallback for streams with codec-induced phase shift.
//
// EchoSuppressor is safe for concurrent use: the playback path records, the
// ingest path processes.
type EchoSuppressor struct {
	sampleRate   int
	threshold    float64
	envThreshold float64

	mu         sync.Mutex
	reference  []byte    // rolling buffer of played PCM, bounded by refLimit
	refLimit   int       // bytes
	lastPlayed time.Time // suppression only applies shortly after playback
	window     time.Duration
}

// EchoOption configures an EchoSuppressor.
type EchoOption func(*EchoSuppressor)

// WithEchoThreshold sets the correlation above which a frame counts as echo.
func WithEchoThreshold(t float64) EchoOption {
	return func(e *EchoSuppressor) { e.threshold = t }
}

// NewEchoSuppressor creates a suppressor for the given capture sample rate.
func NewEchoSuppressor(sampleRate int, opts ...EchoOption) *EchoSuppressor {
	e := &EchoSuppressor{
		sampleRate:   sampleRate,
		threshold:    defaultEchoThreshold,
		envThreshold: defaultEnvelopeThreshold,
		refLimit:     (sampleRate * 2 / 1000) * defaultReferenceMS,
		window:       defaultRecentWindowMS * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RecordPlayed appends assistant audio to the rolling reference. Call it
// from the playback path with PCM at the capture sample rate.
func (e *EchoSuppressor) RecordPlayed(pcm []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reference = append(e.reference, pcm...)
	if over := len(e.reference) - e.refLimit; over > 0 {
		e.reference = e.reference[over:]
	}
	e.lastPlayed = time.Now()
}

// Process returns the frame with echo removed. Frames that correlate with
// recent playback are zeroed in place; everything else passes through
// untouched. The returned slice aliases the input.
func (e *EchoSuppressor) Process(frame []byte) []byte {
	if e.isEcho(frame) {
		for i := range frame {
			frame[i] = 0
		}
	}
	return frame
}

// isEcho reports whether the frame matches the tail of the playback
// reference. Outside the recent-playback window everything is genuine
// caller audio.
func (e *EchoSuppressor) isEcho(frame []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.reference) == 0 || time.Since(e.lastPlayed) > e.window {
		return false
	}

	ref := e.reference
	if len(frame) > len(ref) {
		// The reference is shorter than one frame right after playback
		// starts; compare what we have.
		slog.Debug("echo reference shorter than frame, truncating comparison",
			"frame_bytes", len(frame), "reference_bytes", len(ref))
		frame = frame[len(frame)-len(ref):]
	}
	tail := ref[len(ref)-len(frame):]

	if corr := correlate(frame, tail); corr >= e.threshold {
		return true
	}
	return envelopeCorrelate(frame, tail) >= e.envThreshold
}

// correlate computes the normalized cross-correlation of two equal-length
// 16-bit PCM buffers, in [-1, 1].
func correlate(a, b []byte) float64 {
	n := min(len(a), len(b)) / 2
	if n == 0 {
		return 0
	}
	var dot, ea, eb float64
	for i := 0; i < n; i++ {
		sa := float64(int16(binary.LittleEndian.Uint16(a[i*2 : i*2+2])))
		sb := float64(int16(binary.LittleEndian.Uint16(b[i*2 : i*2+2])))
		dot += sa * sb
		ea += sa * sa
		eb += sb * sb
	}
	if ea == 0 || eb == 0 {
		return 0
	}
	return dot / math.Sqrt(ea*eb)
}

// envelopeCorrelate compares coarse energy envelopes instead of raw samples.
// Codec transcoding shifts phase enough to defeat sample correlation while
// leaving the energy contour intact.
func envelopeCorrelate(a, b []byte) float64 {
	const buckets = 8
	ea := envelope(a, buckets)
	eb := envelope(b, buckets)

	var dot, na, nb float64
	for i := range ea {
		dot += ea[i] * eb[i]
		na += ea[i] * ea[i]
		nb += eb[i] * eb[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}

func envelope(pcm []byte, buckets int) []float64 {
	n := len(pcm) / 2
	out := make([]float64, buckets)
	if n == 0 {
		return out
	}
	per := n / buckets
	if per == 0 {
		per = 1
	}
	for i := 0; i < n; i++ {
		bucket := i / per
		if bucket >= buckets {
			bucket = buckets - 1
		}
		s := math.Abs(float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))))
		if s > out[bucket] {
			out[bucket] = s
		}
	}
	return out
}
