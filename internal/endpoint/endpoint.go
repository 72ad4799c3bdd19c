// Package endpoint extracts utterances from a continuous caller audio
// stream. It consumes 16-bit mono PCM frames, detects speech with adaptive
// energy gating, and emits partial and final transcripts through a single
// ordered channel.
//
// The endpointer never talks to the carrier or the brain; it owns exactly
// one concern, turning frames into utterance boundaries, and leaves every
// conversational decision to the session coordinator.
package endpoint

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ringline-ai/ringline/pkg/audio"
	"github.com/ringline-ai/ringline/pkg/provider/stt"
	"github.com/ringline-ai/ringline/pkg/types"
)

// State is the endpointer's detection phase.
type State int

const (
	// StateIdle means no speech: the pre-roll ring fills and the noise
	// floor adapts.
	StateIdle State = iota

	// StateSpeaking means confirmed speech is accumulating.
	StateSpeaking

	// StateTrailing means sub-threshold audio after speech; a long enough
	// run finalizes the utterance.
	StateTrailing

	// StateFinalizing means the utterance is being transcribed.
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeaking:
		return "speaking"
	case StateTrailing:
		return "trailing"
	case StateFinalizing:
		return "finalizing"
	}
	return "unknown"
}

// ErrTagSTT marks a final whose transcription failed; its text is empty and
// the turn is omitted from history.
const ErrTagSTT = "stt_error"

// Options tunes an Endpointer. Zero values take the defaults below.
type Options struct {
	SampleRate int // Hz, default 16000

	PreRollMS     int // audio kept before speech onset, default 300
	SilenceEndMS  int // sub-threshold run that ends an utterance, default 700
	TailCushionMS int // trailing silence kept on the utterance, default 200

	// FramesRequired is the number of consecutive above-threshold frames
	// needed to confirm speech onset. Default 3.
	FramesRequired int

	// Fixed floors, used until the noise estimate has enough samples (and
	// exclusively when adaptive gating is disabled). PCM units (0..32767).
	RMSFloor  float64 // default 300
	PeakFloor float64 // default 1000

	// Adaptive noise floor. Thresholds become
	// max(floor, noise·multiplier) per metric once MinNoiseSamples frames
	// of idle audio have been observed.
	NoiseAlpha      float64 // EMA factor, default 0.05
	MinNoiseSamples int     // default 50
	RMSMultiplier   float64 // default 3.0
	PeakMultiplier  float64 // default 4.0

	// GateAdaptDisabled pins the thresholds to the fixed floors, for
	// diagnostics.
	GateAdaptDisabled bool

	PartialMinMS      int // speech needed before partials start, default 1500
	PartialIntervalMS int // spacing between partials, default 1000

	LateFinalWatchdogMS int // force a final after this much speech, default 15000
	NoFrameFinalizeMS   int // force a final when frames stop, default 1200

	// Post-playback grace bounds. The grace after an assistant segment is
	// half the segment length clamped to [GraceMinMS, GraceMaxMS].
	GraceMinMS int // default 150
	GraceMaxMS int // default 1200

	HighpassCutoffHz float64 // default 100

	// Echo optionally suppresses playback echo before gating. When set,
	// pre-roll is taken from the suppressed stream.
	Echo *EchoSuppressor
}

func (o *Options) applyDefaults() {
	if o.SampleRate <= 0 {
		o.SampleRate = 16000
	}
	if o.PreRollMS <= 0 {
		o.PreRollMS = 300
	}
	if o.SilenceEndMS <= 0 {
		o.SilenceEndMS = 700
	}
	if o.TailCushionMS <= 0 {
		o.TailCushionMS = 200
	}
	if o.FramesRequired <= 0 {
		o.FramesRequired = 3
	}
	if o.RMSFloor <= 0 {
		o.RMSFloor = 300
	}
	if o.PeakFloor <= 0 {
		o.PeakFloor = 1000
	}
	if o.NoiseAlpha <= 0 {
		o.NoiseAlpha = 0.05
	}
	if o.MinNoiseSamples <= 0 {
		o.MinNoiseSamples = 50
	}
	if o.RMSMultiplier <= 0 {
		o.RMSMultiplier = 3.0
	}
	if o.PeakMultiplier <= 0 {
		o.PeakMultiplier = 4.0
	}
	if o.PartialMinMS <= 0 {
		o.PartialMinMS = 1500
	}
	if o.PartialIntervalMS <= 0 {
		o.PartialIntervalMS = 1000
	}
	if o.LateFinalWatchdogMS <= 0 {
		o.LateFinalWatchdogMS = 15000
	}
	if o.NoFrameFinalizeMS <= 0 {
		o.NoFrameFinalizeMS = 1200
	}
	if o.GraceMinMS <= 0 {
		o.GraceMinMS = 150
	}
	if o.GraceMaxMS <= 0 {
		o.GraceMaxMS = 1200
	}
	if o.HighpassCutoffHz <= 0 {
		o.HighpassCutoffHz = 100
	}
}

// Endpointer segments one call's audio stream into utterances. Push is
// called from the media ingest loop; PlaybackFinished and Tick from the
// session coordinator. All methods are safe for concurrent use.
type Endpointer struct {
	opts        Options
	transcriber stt.Transcriber
	out         chan types.Utterance

	mu          sync.Mutex
	state       State
	highpass    *audio.HighPass
	preRoll     [][]byte // ring of recent frames, bounded by PreRollMS
	preRollMS   int
	utterance   []byte
	speakingMS  int
	trailingMS  int
	graceMS     int
	onsetFrames int

	noiseRMS     float64
	noisePeak    float64
	noiseSamples int

	sincePartialMS int
	partialSeq     int // guards against stale partials landing after a final

	lastFrameAt time.Time

	wg sync.WaitGroup
}

// New creates an Endpointer that transcribes utterances with t and emits
// them on [Endpointer.Utterances].
func New(t stt.Transcriber, opts Options) *Endpointer {
	opts.applyDefaults()
	return &Endpointer{
		opts:        opts,
		transcriber: t,
		out:         make(chan types.Utterance, 16),
		highpass:    audio.NewHighPass(opts.HighpassCutoffHz, opts.SampleRate),
	}
}

// Utterances is the ordered stream of partial and final transcripts.
func (e *Endpointer) Utterances() <-chan types.Utterance { return e.out }

// CurrentState reports the detection phase, for logging and tests.
func (e *Endpointer) CurrentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Push processes one frame of 16-bit mono PCM at the configured rate. The
// frame is filtered, gated, and routed per the current state. Push never
// blocks on transcription; finals are dispatched asynchronously.
func (e *Endpointer) Push(ctx context.Context, frame []byte) {
	if len(frame) < 2 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastFrameAt = time.Now()
	frameMS := audio.DurationMs(frame, e.opts.SampleRate)

	// Work on a copy: the media layer reuses frame buffers.
	pcm := make([]byte, len(frame))
	copy(pcm, frame)

	if e.opts.Echo != nil {
		pcm = e.opts.Echo.Process(pcm)
	}
	e.highpass.Process(pcm)

	if e.graceMS > 0 {
		// Grace consumes audio time; the frame still feeds the ring and the
		// noise estimate so re-arming starts warm.
		e.graceMS -= frameMS
		e.pushPreRoll(pcm, frameMS)
		e.adaptNoise(pcm)
		return
	}

	rms := audio.RMS(pcm)
	peak := audio.Peak(pcm)
	speech := rms >= e.thresholdRMS() && peak >= e.thresholdPeak()

	switch e.state {
	case StateIdle:
		if speech {
			e.onsetFrames++
			if e.onsetFrames >= e.opts.FramesRequired {
				e.beginUtterance(pcm, frameMS)
				return
			}
			// Unconfirmed onset still goes into the ring so a confirmed
			// onset keeps it via pre-roll.
			e.pushPreRoll(pcm, frameMS)
			return
		}
		e.onsetFrames = 0
		e.pushPreRoll(pcm, frameMS)
		e.adaptNoise(pcm)

	case StateSpeaking:
		e.utterance = append(e.utterance, pcm...)
		e.speakingMS += frameMS
		e.sincePartialMS += frameMS
		if !speech {
			e.state = StateTrailing
			e.trailingMS = frameMS
			return
		}
		if e.speakingMS >= e.opts.LateFinalWatchdogMS {
			slog.Debug("endpointer late-final watchdog fired", "speaking_ms", e.speakingMS)
			e.finalizeLocked(ctx)
			return
		}
		e.maybePartialLocked(ctx)

	case StateTrailing:
		e.utterance = append(e.utterance, pcm...)
		e.speakingMS += frameMS
		if speech {
			e.state = StateSpeaking
			e.trailingMS = 0
			return
		}
		e.trailingMS += frameMS
		if e.trailingMS >= e.opts.SilenceEndMS {
			e.finalizeLocked(ctx)
		}

	case StateFinalizing:
		// Frames arriving while a final is in flight restart detection from
		// the ring.
		e.pushPreRoll(pcm, frameMS)
	}
}

// PlaybackFinished re-arms the endpointer after an assistant segment of the
// given length, applying the bounded post-playback grace.
func (e *Endpointer) PlaybackFinished(segment time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	grace := int(segment.Milliseconds()) / 2
	if grace < e.opts.GraceMinMS {
		grace = e.opts.GraceMinMS
	}
	if grace > e.opts.GraceMaxMS {
		grace = e.opts.GraceMaxMS
	}
	e.graceMS = grace
	e.onsetFrames = 0
}

// Tick drives the no-frame watchdog: if frame delivery stopped mid-speech
// (carriers stop sending immediately on hangup), the buffered utterance is
// finalized so the last thing the caller said is not lost.
func (e *Endpointer) Tick(ctx context.Context, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateSpeaking && e.state != StateTrailing {
		return
	}
	if e.lastFrameAt.IsZero() {
		return
	}
	if now.Sub(e.lastFrameAt) >= time.Duration(e.opts.NoFrameFinalizeMS)*time.Millisecond {
		slog.Debug("endpointer no-frame finalize", "idle", now.Sub(e.lastFrameAt))
		e.finalizeLocked(ctx)
	}
}

// RunWatchdog calls Tick every 250 ms until ctx is cancelled.
func (e *Endpointer) RunWatchdog(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.Tick(ctx, now)
		}
	}
}

// Close waits for in-flight transcriptions and closes the utterance channel.
func (e *Endpointer) Close() {
	e.wg.Wait()
	close(e.out)
}

// ---- internal -------------------------------------------------------------

func (e *Endpointer) thresholdRMS() float64 {
	if e.opts.GateAdaptDisabled || e.noiseSamples < e.opts.MinNoiseSamples {
		return e.opts.RMSFloor
	}
	return max(e.opts.RMSFloor, e.noiseRMS*e.opts.RMSMultiplier)
}

func (e *Endpointer) thresholdPeak() float64 {
	if e.opts.GateAdaptDisabled || e.noiseSamples < e.opts.MinNoiseSamples {
		return e.opts.PeakFloor
	}
	return max(e.opts.PeakFloor, e.noisePeak*e.opts.PeakMultiplier)
}

func (e *Endpointer) adaptNoise(pcm []byte) {
	rms := audio.RMS(pcm)
	peak := audio.Peak(pcm)
	if e.noiseSamples == 0 {
		e.noiseRMS = rms
		e.noisePeak = peak
	} else {
		a := e.opts.NoiseAlpha
		e.noiseRMS = (1-a)*e.noiseRMS + a*rms
		e.noisePeak = (1-a)*e.noisePeak + a*peak
	}
	e.noiseSamples++
}

func (e *Endpointer) pushPreRoll(pcm []byte, frameMS int) {
	e.preRoll = append(e.preRoll, pcm)
	e.preRollMS += frameMS
	for e.preRollMS > e.opts.PreRollMS && len(e.preRoll) > 1 {
		dropped := e.preRoll[0]
		e.preRoll = e.preRoll[1:]
		e.preRollMS -= audio.DurationMs(dropped, e.opts.SampleRate)
	}
}

func (e *Endpointer) beginUtterance(pcm []byte, frameMS int) {
	e.state = StateSpeaking
	e.onsetFrames = 0
	e.trailingMS = 0
	e.sincePartialMS = 0

	// Announce confirmed speech immediately. Barge-in must not wait for the
	// first partial transcript, which is seconds away.
	select {
	case e.out <- types.Utterance{Onset: true}:
	default:
	}

	// Seed with pre-roll so soft onsets are not clipped.
	e.utterance = e.utterance[:0]
	for _, f := range e.preRoll {
		e.utterance = append(e.utterance, f...)
	}
	e.speakingMS = e.preRollMS
	e.preRoll = e.preRoll[:0]
	e.preRollMS = 0

	e.utterance = append(e.utterance, pcm...)
	e.speakingMS += frameMS
}

// maybePartialLocked dispatches a speculative transcription of the buffer so
// far, rate-limited by PartialMinMS and PartialIntervalMS.
func (e *Endpointer) maybePartialLocked(ctx context.Context) {
	if e.speakingMS < e.opts.PartialMinMS || e.sincePartialMS < e.opts.PartialIntervalMS {
		return
	}
	e.sincePartialMS = 0
	seq := e.partialSeq

	snapshot := make([]byte, len(e.utterance))
	copy(snapshot, e.utterance)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		res, err := e.transcriber.Transcribe(ctx, snapshot, e.opts.SampleRate)
		if err != nil || res.Text == "" {
			return
		}
		e.mu.Lock()
		stale := seq != e.partialSeq
		e.mu.Unlock()
		if stale {
			return
		}
		select {
		case e.out <- types.Utterance{Text: res.Text, Confidence: res.Confidence}:
		default:
			// Partials are best-effort; drop rather than stall ingest.
		}
	}()
}

// finalizeLocked snapshots the utterance, resets detection state, and
// dispatches the transcription asynchronously. Callers hold e.mu.
func (e *Endpointer) finalizeLocked(ctx context.Context) {
	e.state = StateFinalizing
	e.partialSeq++ // invalidate in-flight partials

	pcm := e.utterance
	e.utterance = nil

	// Keep at most TailCushionMS of the trailing silence.
	if excess := e.trailingMS - e.opts.TailCushionMS; excess > 0 {
		cut := audio.BytesPerMs(e.opts.SampleRate) * excess
		if cut < len(pcm) {
			pcm = pcm[:len(pcm)-cut]
		}
	}
	duration := time.Duration(audio.DurationMs(pcm, e.opts.SampleRate)) * time.Millisecond

	e.speakingMS = 0
	e.trailingMS = 0
	e.onsetFrames = 0

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		utt := types.Utterance{IsFinal: true, Duration: duration}
		res, err := e.transcriber.Transcribe(ctx, pcm, e.opts.SampleRate)
		if err != nil {
			slog.Warn("final transcription failed", "err", err)
			utt.ErrTag = ErrTagSTT
		} else {
			utt.Text = res.Text
			utt.Confidence = res.Confidence
		}

		e.mu.Lock()
		if e.state == StateFinalizing {
			e.state = StateIdle
		}
		e.mu.Unlock()

		select {
		case e.out <- utt:
		case <-ctx.Done():
		}
	}()
}
