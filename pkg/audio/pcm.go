// Package audio provides the PCM primitives used throughout the Ringline
// voice pipeline: sample conversion, resampling, energy measurement,
// filtering, and the telephony codec decoders for carrier media frames.
//
// All PCM in this package is 16-bit signed little-endian. Telephony audio is
// mono; there are no stereo paths.
package audio

import (
	"encoding/binary"
	"math"
)

// BytesPerMs returns the number of PCM bytes per millisecond of mono 16-bit
// audio at the given sample rate. Returns 0 for non-positive rates.
func BytesPerMs(sampleRate int) int {
	if sampleRate <= 0 {
		return 0
	}
	return sampleRate * 2 / 1000
}

// DurationMs returns the duration of a mono 16-bit PCM buffer in milliseconds.
func DurationMs(pcm []byte, sampleRate int) int {
	bpm := BytesPerMs(sampleRate)
	if bpm == 0 {
		return 0
	}
	return len(pcm) / bpm
}

// RMS returns the root-mean-square energy of a 16-bit signed little-endian
// PCM buffer, expressed in PCM sample units (0 to 32767). Returns 0 for
// buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Peak returns the maximum absolute sample value of a 16-bit PCM buffer,
// expressed in PCM sample units.
func Peak(pcm []byte) float64 {
	var peak float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := math.Abs(float64(int16(binary.LittleEndian.Uint16(pcm[i : i+2]))))
		if s > peak {
			peak = s
		}
	}
	return peak
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples. If
// srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// HighPass is a single-pole high-pass filter for 16-bit mono PCM. It removes
// mains hum and handset rumble below the cutoff before energy gating.
// Create one per stream; it carries filter state between calls and is not
// safe for concurrent use.
type HighPass struct {
	alpha float64
	prevX float64
	prevY float64
}

// NewHighPass creates a single-pole high-pass filter with the given cutoff
// frequency at the given sample rate.
func NewHighPass(cutoffHz float64, sampleRate int) *HighPass {
	rc := 1.0 / (2 * math.Pi * cutoffHz)
	dt := 1.0 / float64(sampleRate)
	return &HighPass{alpha: rc / (rc + dt)}
}

// Process filters pcm in place and returns it. Odd trailing bytes are left
// untouched.
func (h *HighPass) Process(pcm []byte) []byte {
	for i := 0; i+1 < len(pcm); i += 2 {
		x := float64(int16(binary.LittleEndian.Uint16(pcm[i : i+2])))
		y := h.alpha * (h.prevY + x - h.prevX)
		h.prevX = x
		h.prevY = y
		binary.LittleEndian.PutUint16(pcm[i:i+2], uint16(clampInt16(y)))
	}
	return pcm
}

// Reset clears the filter state. Use when the stream restarts to avoid a
// transient from the previous segment.
func (h *HighPass) Reset() {
	h.prevX = 0
	h.prevY = 0
}

// NormalizeRMS scales pcm so its RMS energy matches target (in PCM sample
// units). Buffers quieter than the silence floor are returned unchanged to
// avoid amplifying noise. The result is clamped to the int16 range.
func NormalizeRMS(pcm []byte, target float64) []byte {
	const silenceFloor = 10.0
	cur := RMS(pcm)
	if cur < silenceFloor || target <= 0 {
		return pcm
	}
	gain := target / cur
	out := make([]byte, len(pcm))
	copy(out, pcm)
	for i := 0; i+1 < len(out); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(out[i:i+2]))) * gain
		binary.LittleEndian.PutUint16(out[i:i+2], uint16(clampInt16(s)))
	}
	return out
}

// SoftLimit applies a tanh soft limiter that keeps peaks below the given
// ceiling (in PCM sample units) without hard clipping distortion.
func SoftLimit(pcm []byte, ceiling float64) []byte {
	if ceiling <= 0 || ceiling > 32767 {
		ceiling = 32000
	}
	out := make([]byte, len(pcm))
	copy(out, pcm)
	for i := 0; i+1 < len(out); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(out[i : i+2])))
		limited := ceiling * math.Tanh(s/ceiling)
		binary.LittleEndian.PutUint16(out[i:i+2], uint16(clampInt16(limited)))
	}
	return out
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
