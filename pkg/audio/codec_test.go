package audio

import (
	"errors"
	"testing"
)

func TestUlawExpand_Zero(t *testing.T) {
	// 0xFF encodes positive zero, 0x7F encodes negative zero.
	if got := ulawExpand(0xFF); got != 0 {
		t.Errorf("ulawExpand(0xFF) = %d, want 0", got)
	}
	if got := ulawExpand(0x7F); got != 0 {
		t.Errorf("ulawExpand(0x7F) = %d, want 0", got)
	}
}

func TestUlawExpand_Symmetry(t *testing.T) {
	// Flipping the sign bit must negate the decoded value.
	for i := range 128 {
		pos := ulawExpand(byte(i) | 0x80)
		neg := ulawExpand(byte(i))
		if pos != -neg {
			t.Fatalf("ulaw symmetry broken at %#x: +%d vs %d", i, pos, neg)
		}
	}
}

func TestAlawExpand_KnownValues(t *testing.T) {
	if got := alawExpand(0xD5); got != 8 {
		t.Errorf("alawExpand(0xD5) = %d, want 8", got)
	}
	if got := alawExpand(0x55); got != -8 {
		t.Errorf("alawExpand(0x55) = %d, want -8", got)
	}
}

func TestG711Decoder_OutputLength(t *testing.T) {
	dec, err := NewDecoder(CodecPCMU)
	if err != nil {
		t.Fatalf("NewDecoder(PCMU): %v", err)
	}
	if dec.SampleRate() != 8000 {
		t.Errorf("PCMU sample rate = %d, want 8000", dec.SampleRate())
	}
	out, err := dec.Decode(make([]byte, 160)) // 20 ms of µ-law
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != 320 {
		t.Errorf("decoded length = %d, want 320", len(out))
	}
}

func TestG722Decoder_OutputLength(t *testing.T) {
	dec := newG722Decoder()
	if dec.SampleRate() != 16000 {
		t.Errorf("G722 sample rate = %d, want 16000", dec.SampleRate())
	}
	out, err := dec.Decode(make([]byte, 160)) // 20 ms of G.722
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	// One byte in, two 16 kHz samples out.
	if len(out) != 640 {
		t.Errorf("decoded length = %d, want 640", len(out))
	}
}

func TestG722Decoder_EmptyPayload(t *testing.T) {
	dec := newG722Decoder()
	if _, err := dec.Decode(nil); err == nil {
		t.Error("empty payload should return an error")
	}
}

func TestNewDecoder_UnsupportedCodec(t *testing.T) {
	_, err := NewDecoder(CodecAMRWB)
	if !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("err = %v, want ErrUnsupportedCodec", err)
	}
	_, err = NewDecoder(Codec("EVS"))
	if !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("err = %v, want ErrUnsupportedCodec", err)
	}
}

func TestFallbackFor_Chain(t *testing.T) {
	tests := []struct {
		in   Codec
		want Codec
	}{
		{CodecOpus, CodecG722},
		{CodecAMRWB, CodecG722},
		{CodecG722, CodecPCMU},
		{CodecPCMA, CodecPCMU},
		{CodecPCMU, ""},
	}
	for _, tt := range tests {
		if got := FallbackFor(tt.in); got != tt.want {
			t.Errorf("FallbackFor(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
