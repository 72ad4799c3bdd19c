package audio

import (
	"fmt"

	"layeh.com/gopus"
)

const (
	opusSampleRate = 48000

	// opusMaxFrameSize covers the largest Opus frame duration (120 ms at
	// 48 kHz) so a single Decode call never truncates.
	opusMaxFrameSize = 5760
)

// opusDecoder wraps a gopus decoder as an [Decoder]. Carrier legs negotiate
// mono Opus at 48 kHz.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

func (d *opusDecoder) SampleRate() int { return opusSampleRate }

func (d *opusDecoder) Decode(payload []byte) ([]byte, error) {
	samples, err := d.dec.Decode(payload, opusMaxFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out, nil
}
