package audio

import (
	"errors"
	"fmt"
)

// Codec identifies a carrier media codec negotiated for a call leg.
type Codec string

const (
	CodecPCMU  Codec = "PCMU"   // G.711 µ-law, 8 kHz
	CodecPCMA  Codec = "PCMA"   // G.711 A-law, 8 kHz
	CodecG722  Codec = "G722"   // G.722 wideband, 16 kHz audio / 8 kHz RTP clock
	CodecOpus  Codec = "OPUS"   // Opus, 48 kHz
	CodecAMRWB Codec = "AMR-WB" // not decodable; triggers codec fallback
)

// ErrUnsupportedCodec is returned by NewDecoder for codecs the runtime cannot
// decode. The media stream reacts by restarting with a fallback codec.
var ErrUnsupportedCodec = errors.New("audio: unsupported codec")

// Decoder converts carrier media payloads into 16-bit mono little-endian PCM
// at the decoder's native sample rate. Decoders carry per-stream state and
// are not safe for concurrent use.
type Decoder interface {
	// Decode converts one media payload to PCM. An error marks the payload
	// as corrupt; the caller counts consecutive failures toward fallback.
	Decode(payload []byte) ([]byte, error)

	// SampleRate is the rate of the PCM produced by Decode, in Hz.
	SampleRate() int
}

// NewDecoder returns a stateful decoder for the given codec, or
// [ErrUnsupportedCodec] if the runtime has no decoder for it.
func NewDecoder(c Codec) (Decoder, error) {
	switch c {
	case CodecPCMU:
		return g711Decoder{table: &ulawToPCM}, nil
	case CodecPCMA:
		return g711Decoder{table: &alawToPCM}, nil
	case CodecG722:
		return newG722Decoder(), nil
	case CodecOpus:
		return newOpusDecoder()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, c)
	}
}

// FallbackFor returns the codec to restart the stream with after repeated
// decode failures. The chain degrades toward µ-law, which every carrier leg
// supports. Returns "" when already at the bottom of the chain.
func FallbackFor(c Codec) Codec {
	switch c {
	case CodecOpus, CodecAMRWB:
		return CodecG722
	case CodecG722, CodecPCMA:
		return CodecPCMU
	default:
		return ""
	}
}

// ─── G.711 ────────────────────────────────────────────────────────────────────

// ulawToPCM and alawToPCM are the expansion tables for the two G.711
// companding laws, computed once at init. Table lookup keeps the per-frame
// decode cost trivial.
var (
	ulawToPCM [256]int16
	alawToPCM [256]int16
)

func init() {
	for i := range 256 {
		ulawToPCM[i] = ulawExpand(byte(i))
		alawToPCM[i] = alawExpand(byte(i))
	}
}

// ulawExpand converts a single µ-law byte to a linear sample (ITU-T G.711).
func ulawExpand(u byte) int16 {
	u = ^u
	sign := int16(u & 0x80)
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := (int16(mantissa)<<3 + 0x84) << exponent
	sample -= 0x84
	if sign != 0 {
		return -sample
	}
	return sample
}

// alawExpand converts a single A-law byte to a linear sample (ITU-T G.711).
func alawExpand(a byte) int16 {
	a ^= 0x55
	sign := a & 0x80
	exponent := (a >> 4) & 0x07
	mantissa := a & 0x0F
	var sample int16
	if exponent == 0 {
		sample = int16(mantissa)<<4 + 8
	} else {
		sample = (int16(mantissa)<<4 + 0x108) << (exponent - 1)
	}
	// A-law carries 1 in the sign bit for positive values.
	if sign != 0 {
		return sample
	}
	return -sample
}

// g711Decoder is a stateless table-lookup decoder shared by PCMU and PCMA.
type g711Decoder struct {
	table *[256]int16
}

func (d g711Decoder) Decode(payload []byte) ([]byte, error) {
	out := make([]byte, len(payload)*2)
	for i, b := range payload {
		s := d.table[b]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out, nil
}

func (d g711Decoder) SampleRate() int { return 8000 }
