package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ringline-ai/ringline/internal/capacity"
	"github.com/ringline-ai/ringline/internal/endpoint"
	"github.com/ringline-ai/ringline/internal/media"
	"github.com/ringline-ai/ringline/internal/observe"
	"github.com/ringline-ai/ringline/internal/playback"
	"github.com/ringline-ai/ringline/internal/tenant"
	"github.com/ringline-ai/ringline/internal/webhook"
	"github.com/ringline-ai/ringline/pkg/provider/stt"
	"github.com/ringline-ai/ringline/pkg/provider/tts"
)

// ConfigResolver maps dialed numbers to tenant configs. *tenant.Resolver
// satisfies it.
type ConfigResolver interface {
	Resolve(ctx context.Context, did string) (*tenant.Config, error)
}

// Services bundles the external collaborators every session shares.
type Services struct {
	Carrier  Carrier
	Tenants  ConfigResolver
	Capacity Admitter
	STT      stt.Transcriber

	// STTFor optionally builds a transcriber honoring the tenant's STT
	// overrides (endpoint URL, language hint, decoding prompt). When nil, or
	// when it returns nil, every call uses STT.
	STTFor func(cfg *tenant.Config) stt.Transcriber

	Brain Brain

	// Narrowband and HD are the two synthesis backends; the tenant's TTS
	// kind selects between them per call.
	Narrowband tts.Synthesizer
	HD         tts.Synthesizer

	Store   *playback.Store
	Fillers *playback.FillerCache // optional
	Report  Reporter
	Archive Archiver // optional
}

// Settings carries the deployment-level tuning shared by all sessions.
type Settings struct {
	// SampleRate is the internal PCM rate; frames and echo references are
	// carried at this rate. Defaults to 16000.
	SampleRate int

	// DefaultCaps applies where the tenant config does not override.
	DefaultCaps capacity.Caps

	// DeadAir is the silence window in LISTENING before a reprompt.
	DeadAir time.Duration

	// DeadAirMaxReprompts bounds reprompts before the call is hung up.
	DeadAirMaxReprompts int

	// Endpointer is the template endpointer tuning; per-tenant silence
	// windows override it.
	Endpointer endpoint.Options

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Registry owns all live sessions, keyed by the carrier call control id. It
// is the webhook event sink and the media stream's sink resolver.
type Registry struct {
	svc     Services
	set     Settings
	metrics *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

var (
	_ webhook.Sink   = (*Registry)(nil)
	_ media.Registry = (*Registry)(nil)
)

// NewRegistry creates the session registry.
func NewRegistry(svc Services, set Settings) *Registry {
	if set.SampleRate <= 0 {
		set.SampleRate = 16000
	}
	if set.DeadAir <= 0 {
		set.DeadAir = 12 * time.Second
	}
	metrics := set.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Registry{
		svc:      svc,
		set:      set,
		metrics:  metrics,
		sessions: make(map[string]*Session),
	}
}

// Deliver implements [webhook.Sink]: it routes one verified carrier event to
// its session's ordered queue. call.initiated creates the session; events
// for unknown calls return [webhook.ErrUnknownCall].
func (r *Registry) Deliver(ctx context.Context, ev webhook.Event) error {
	if ev.EventType == webhook.EventCallInitiated {
		return r.initiate(ctx, ev)
	}

	s, ok := r.lookup(ev.CallControlID)
	if !ok {
		return webhook.ErrUnknownCall
	}

	switch ev.EventType {
	case webhook.EventCallAnswered:
		s.enqueue(event{kind: evAnswered})
	case webhook.EventPlaybackEnded:
		s.enqueue(event{kind: evPlaybackEnded})
	case webhook.EventCallHangup:
		s.enqueue(event{kind: evHangup})
	case webhook.EventStreamingFailed:
		s.enqueue(event{kind: evStreamFailed})
	default:
		slog.Debug("ignoring carrier event", "event_type", ev.EventType, "call_control_id", ev.CallControlID)
	}
	return nil
}

// initiate creates the session and answers the call. A duplicate initiated
// event for a live call is a no-op.
func (r *Registry) initiate(ctx context.Context, ev webhook.Event) error {
	r.mu.Lock()
	if _, exists := r.sessions[ev.CallControlID]; exists {
		r.mu.Unlock()
		return nil
	}
	s := newSession(r, ev.CallControlID, ev.From, ev.To)
	r.sessions[ev.CallControlID] = s
	r.mu.Unlock()

	go s.run()
	slog.Info("session created", "call_id", s.id, "call_control_id", ev.CallControlID, "from", ev.From, "to", ev.To)

	if err := r.svc.Carrier.Answer(ctx, ev.CallControlID); err != nil {
		slog.Error("answer failed", "call_id", s.id, "err", err)
		s.enqueue(event{kind: evHangup, cause: ReasonFailed})
		return nil
	}
	return nil
}

// SinkFor implements [media.Registry]. Streams for calls that are not yet
// answered and configured are rejected.
func (r *Registry) SinkFor(callControlID string) (media.FrameSink, bool) {
	s, ok := r.lookup(callControlID)
	if !ok {
		return nil, false
	}
	ep := s.Sink()
	if ep == nil {
		return nil, false
	}
	return ep, true
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown tears down every live session, bounded by ctx.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()

	for _, s := range live {
		s.enqueue(event{kind: evHangup, cause: ReasonFailed})
	}
	deadline := time.NewTimer(5 * time.Second)
	defer deadline.Stop()
	for _, s := range live {
		select {
		case <-s.done:
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		}
	}
}

func (r *Registry) lookup(callControlID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callControlID]
	return s, ok
}

func (r *Registry) remove(callControlID string) {
	r.mu.Lock()
	delete(r.sessions, callControlID)
	r.mu.Unlock()
}

// capsFor merges the tenant's cap overrides onto the deployment defaults.
// 0 means "use default", -1 unlimited.
func (r *Registry) capsFor(cfg *tenant.Config) capacity.Caps {
	caps := r.set.DefaultCaps
	if cfg.MaxConcurrent != 0 {
		caps.Tenant = cfg.MaxConcurrent
	}
	if cfg.PerMinute != 0 {
		caps.PerMinute = cfg.PerMinute
	}
	return caps
}

// voiceFor selects the synthesis backend and playback profile for a tenant.
func (r *Registry) voiceFor(cfg *tenant.Config) (tts.Synthesizer, *playback.Pipeline) {
	profile := playback.ProfileForKind(cfg.TTS.Kind)
	if profile == playback.ProfileHD && r.svc.HD != nil {
		return r.svc.HD, playback.NewPipeline(profile)
	}
	return r.svc.Narrowband, playback.NewPipeline(playback.ProfileNarrowband)
}

// fallbackVoice is used before any tenant config exists (unconfigured DID).
func (r *Registry) fallbackVoice() (tts.Synthesizer, *playback.Pipeline) {
	return r.svc.Narrowband, playback.NewPipeline(playback.ProfileNarrowband)
}

// transcriberFor selects the transcriber for a tenant's calls.
func (r *Registry) transcriberFor(cfg *tenant.Config) stt.Transcriber {
	if r.svc.STTFor != nil {
		if t := r.svc.STTFor(cfg); t != nil {
			return t
		}
	}
	return r.svc.STT
}

// endpointerOptions derives the per-call endpointer tuning from the template
// and the tenant's STT overrides.
func (r *Registry) endpointerOptions(cfg *tenant.Config) endpoint.Options {
	opts := r.set.Endpointer
	opts.SampleRate = r.set.SampleRate
	if cfg.STT.SilenceMS > 0 {
		opts.SilenceEndMS = cfg.STT.SilenceMS
	}
	return opts
}
