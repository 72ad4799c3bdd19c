package endpoint

import (
	"encoding/binary"
	"testing"
	"time"
)

// burst builds a frame with a distinctive energy contour (quiet, loud,
// quiet) at half the frequency of tone, so its phase pattern does not line
// up with a tone reference.
func burst(ms int, amp int16) []byte {
	n := testRate * ms / 1000
	out := make([]byte, n*2)
	for i := range n {
		s := amp / 8
		if i > n/3 && i < 2*n/3 {
			s = amp
		}
		if i%4 >= 2 {
			s = -s
		}
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(s))
	}
	return out
}

func isSilent(pcm []byte) bool {
	for _, b := range pcm {
		if b != 0 {
			return false
		}
	}
	return true
}

func TestEcho_SuppressesPlayedAudio(t *testing.T) {
	e := NewEchoSuppressor(testRate)
	played := tone(100, 6000)
	e.RecordPlayed(played)

	// The carrier feeds our own tail back to us.
	frame := make([]byte, testRate*20/1000*2)
	copy(frame, played[len(played)-len(frame):])

	if got := e.Process(frame); !isSilent(got) {
		t.Error("echo of played audio not suppressed")
	}
}

func TestEcho_PassesGenuineSpeech(t *testing.T) {
	e := NewEchoSuppressor(testRate)
	e.RecordPlayed(tone(100, 6000))

	// Caller audio with a different contour.
	frame := burst(20, 9000)
	if got := e.Process(frame); isSilent(got) {
		t.Error("genuine caller audio suppressed")
	}
}

func TestEcho_NoSuppressionOutsideWindow(t *testing.T) {
	e := NewEchoSuppressor(testRate)
	played := tone(100, 6000)
	e.RecordPlayed(played)

	e.mu.Lock()
	e.lastPlayed = time.Now().Add(-5 * time.Second)
	e.mu.Unlock()

	frame := make([]byte, testRate*20/1000*2)
	copy(frame, played[len(played)-len(frame):])
	if got := e.Process(frame); isSilent(got) {
		t.Error("suppression applied long after playback ended")
	}
}

func TestEcho_NoReferencePassesThrough(t *testing.T) {
	e := NewEchoSuppressor(testRate)
	frame := tone(20, 6000)
	if got := e.Process(frame); isSilent(got) {
		t.Error("frame suppressed with empty reference")
	}
}

func TestEcho_ReferenceBounded(t *testing.T) {
	e := NewEchoSuppressor(testRate)
	for range 10 {
		e.RecordPlayed(tone(500, 6000))
	}
	e.mu.Lock()
	got := len(e.reference)
	limit := e.refLimit
	e.mu.Unlock()
	if got > limit {
		t.Errorf("reference = %d bytes; want at most %d", got, limit)
	}
}

func TestEcho_FrameLongerThanReference(t *testing.T) {
	e := NewEchoSuppressor(testRate)
	played := tone(10, 6000)
	e.RecordPlayed(played)

	// A 20 ms echo frame against a 10 ms reference: comparison truncates,
	// the matching tail still identifies it as echo.
	frame := tone(20, 6000)
	if got := e.Process(frame); !isSilent(got) {
		t.Error("echo not detected when reference shorter than frame")
	}
}

func TestCorrelate(t *testing.T) {
	a := tone(20, 6000)
	if got := correlate(a, a); got < 0.99 {
		t.Errorf("self correlation = %v; want ~1", got)
	}

	b := tone(20, 6000)
	// Inverting one signal flips the correlation sign.
	for i := 0; i+1 < len(b); i += 2 {
		s := int16(binary.LittleEndian.Uint16(b[i : i+2]))
		binary.LittleEndian.PutUint16(b[i:i+2], uint16(-s))
	}
	if got := correlate(a, b); got > -0.99 {
		t.Errorf("inverted correlation = %v; want ~-1", got)
	}

	if got := correlate(silence(20), a); got != 0 {
		t.Errorf("silence correlation = %v; want 0", got)
	}
}

func TestEnvelopeCorrelate_SurvivesPhaseShift(t *testing.T) {
	a := burst(40, 8000)

	// Shift by one sample: raw correlation of an alternating signal flips,
	// but the energy contour is unchanged.
	shifted := make([]byte, len(a))
	copy(shifted[2:], a[:len(a)-2])

	if raw := correlate(a, shifted); raw > 0.5 {
		t.Fatalf("raw correlation = %v; expected phase shift to defeat it", raw)
	}
	if env := envelopeCorrelate(a, shifted); env < 0.9 {
		t.Errorf("envelope correlation = %v; want >= 0.9", env)
	}
}
