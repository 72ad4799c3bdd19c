// Package playback conditions synthesized audio for the line and stages it
// for the carrier. Narrowband transports get resampling, filtering, and
// level control; HD transports pass through at the native rate. The package
// also keeps a pre-warmed cache of short filler phrases so the coordinator
// can mask brain latency without a synthesis round trip.
package playback

import (
	"github.com/ringline-ai/ringline/internal/tenant"
	"github.com/ringline-ai/ringline/pkg/audio"
	"github.com/ringline-ai/ringline/pkg/provider/tts"
)

// Profile selects the conditioning applied before playback.
type Profile int

const (
	// ProfileNarrowband resamples to the PSTN rate, high-passes, normalizes
	// loudness, and soft-limits peaks.
	ProfileNarrowband Profile = iota

	// ProfileHD passes synthesized audio through at its native rate.
	ProfileHD
)

func (p Profile) String() string {
	if p == ProfileHD {
		return "hd"
	}
	return "narrowband"
}

// ProfileForKind maps a tenant TTS backend kind to a playback profile.
// Unknown kinds condition conservatively as narrowband.
func ProfileForKind(kind string) Profile {
	if kind == tenant.TTSKindHD {
		return ProfileHD
	}
	return ProfileNarrowband
}

// Conditioning defaults.
const (
	defaultPSTNRate    = 8000
	defaultRMSTarget   = 6000.0
	defaultSoftCeiling = 30000.0
	highpassCutoffHz   = 100.0
)

// Pipeline conditions synthesized segments for one transport profile.
// A Pipeline is stateless across segments and safe for concurrent use.
type Pipeline struct {
	profile    Profile
	targetRate int
	rmsTarget  float64
	ceiling    float64
}

// PipelineOption tunes a Pipeline.
type PipelineOption func(*Pipeline)

// WithTargetRate overrides the narrowband output rate.
func WithTargetRate(hz int) PipelineOption {
	return func(p *Pipeline) { p.targetRate = hz }
}

// WithRMSTarget overrides the loudness normalization target.
func WithRMSTarget(t float64) PipelineOption {
	return func(p *Pipeline) { p.rmsTarget = t }
}

// NewPipeline creates a conditioning pipeline for the given profile.
func NewPipeline(profile Profile, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		profile:    profile,
		targetRate: defaultPSTNRate,
		rmsTarget:  defaultRMSTarget,
		ceiling:    defaultSoftCeiling,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Profile reports the transport profile this pipeline conditions for.
func (p *Pipeline) Profile() Profile { return p.profile }

// Prepare conditions one synthesized segment. For HD the input is returned
// unchanged. For narrowband the PCM is resampled to the target rate,
// high-pass filtered, loudness-normalized, and soft-limited.
func (p *Pipeline) Prepare(in tts.Audio) tts.Audio {
	if p.profile == ProfileHD || len(in.PCM) == 0 {
		return in
	}

	pcm := audio.ResampleMono16(in.PCM, in.SampleRate, p.targetRate)

	// Fresh filter per segment: segments are independent playbacks, carrying
	// filter state across them smears the previous segment's tail in.
	out := make([]byte, len(pcm))
	copy(out, pcm)
	audio.NewHighPass(highpassCutoffHz, p.targetRate).Process(out)

	out = audio.NormalizeRMS(out, p.rmsTarget)
	out = audio.SoftLimit(out, p.ceiling)
	return tts.Audio{PCM: out, SampleRate: p.targetRate}
}
