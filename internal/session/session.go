// Package session is the per-call coordinator: the authoritative state
// machine that ties webhook events, media ingest, endpointing, the brain,
// synthesis, and playback together for one live call.
//
// Every session runs one goroutine that consumes an ordered event queue.
// All mutation of session state happens on that goroutine; provider I/O
// (brain streaming, synthesis) runs in per-turn goroutines that feed results
// back through the queue, so observable transitions are totally ordered.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ringline-ai/ringline/internal/capacity"
	"github.com/ringline-ai/ringline/internal/endpoint"
	"github.com/ringline-ai/ringline/internal/playback"
	"github.com/ringline-ai/ringline/internal/report"
	"github.com/ringline-ai/ringline/internal/tenant"
	"github.com/ringline-ai/ringline/pkg/audio"
	"github.com/ringline-ai/ringline/pkg/provider/brain"
	"github.com/ringline-ai/ringline/pkg/provider/tts"
	"github.com/ringline-ai/ringline/pkg/types"
)

// State is the coordinator state of one call.
type State int

const (
	StateCreated State = iota
	StateGreeting
	StateListening
	StateThinking
	StateSpeaking
	StateTransferring
	StateHangingUp
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateGreeting:
		return "greeting"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	case StateTransferring:
		return "transferring"
	case StateHangingUp:
		return "hanging_up"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Teardown reason codes, reported to the control plane and the archive.
const (
	ReasonCallerHangup    = "caller_hangup"
	ReasonAssistantHangup = "assistant_hangup"
	ReasonDeadAir         = "dead_air"
	ReasonCapacityDenied  = "capacity_denied"
	ReasonUnconfiguredDID = "unconfigured_did"
	ReasonTransferred     = "transferred"
	ReasonStreamFailed    = "streaming_failed"
	ReasonFailed          = "failed"
)

// Canned phrases for paths where the brain is not consulted.
const (
	defaultGreeting      = "Hello! How can I help you today?"
	cannedNotConfigured  = "This number is not configured yet. Please try again later. Goodbye."
	cannedAtCapacity     = "We're sorry, all of our lines are busy right now. Please call again in a few minutes. Goodbye."
	cannedApology        = "I'm sorry, I'm having trouble right now. Could you say that again?"
	cannedReprompt       = "Are you still there?"
	cannedSilenceGoodbye = "It seems you've stepped away. Goodbye."
)

// bargeInMarker is the synthetic system turn recorded when the caller
// interrupts assistant playback.
const bargeInMarker = "[caller interrupted]"

// ---- external collaborators -----------------------------------------------

// Carrier issues call-control commands back to the telephony provider.
type Carrier interface {
	Answer(ctx context.Context, callControlID string) error
	Play(ctx context.Context, callControlID, audioURL string) error
	StopPlayback(ctx context.Context, callControlID string) error
	Transfer(ctx context.Context, callControlID, to string) error
	Hangup(ctx context.Context, callControlID string) error
}

// Brain streams conversational replies. *brain.Client satisfies it.
type Brain interface {
	Stream(ctx context.Context, req brain.Request) (<-chan brain.Chunk, error)
}

// Reporter pushes lifecycle events to the control plane. *report.Client
// satisfies it.
type Reporter interface {
	CallStarted(ctx context.Context, call report.Call)
	CallerMessage(ctx context.Context, callID string, utt types.Utterance)
	CallEnded(ctx context.Context, call report.Call, reason string, transcript []types.Turn)
}

// Archiver persists transcripts at teardown. *archive.Store satisfies it; a
// nil Archiver disables archival.
type Archiver interface {
	Save(ctx context.Context, tr types.Transcript, reason string) error
}

// Admitter reserves and releases call capacity. *capacity.Controller
// satisfies it.
type Admitter interface {
	Reserve(ctx context.Context, tenantID, callID string, caps capacity.Caps) error
	Release(ctx context.Context, callID string)
}

// ---- event queue ----------------------------------------------------------

type evKind int

const (
	evAnswered evKind = iota
	evPlaybackEnded
	evHangup
	evStreamFailed
	evUtterance
	evSegment
	evBrainDone
	evDeadAir
)

// event is one entry in the session's ordered queue. seq ties turn-scoped
// events (segments, brain completion, dead-air fires) to the turn or timer
// generation that produced them; stale events are dropped.
type event struct {
	kind   evKind
	seq    int
	utt    types.Utterance
	audio  tts.Audio
	text   string
	canned bool
	reply  *brain.Reply
	err    error
	cause  string
}

// playItem is one queued playback segment.
type playItem struct {
	url      string
	duration time.Duration
	// refPCM is the played audio resampled to the endpointer rate, recorded
	// as the echo suppression reference when playback starts.
	refPCM []byte
}

// ---- session --------------------------------------------------------------

// Session is one live call. All fields past the constructor are owned by the
// run goroutine; only enqueue and Sink are called from outside.
type Session struct {
	// Immutable identity.
	id            string
	callControlID string
	from, to      string
	startedAt     time.Time

	reg    *Registry
	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	done   chan struct{}

	// Owned by the run goroutine.
	state     State
	cfg       *tenant.Config
	ep        *endpoint.Endpointer
	echo      *endpoint.EchoSuppressor
	synth     tts.Synthesizer
	pipe      *playback.Pipeline
	reserved  bool
	history   []types.Turn
	queue     []playItem
	playing   bool
	turnSeq   int
	turnStart time.Time
	reprompts int
	timerGen  int
	deadAir   *time.Timer

	// pending outcome applied when the playback queue drains.
	pendingHangup   string // teardown reason, "" when none
	pendingTransfer string // destination, "" when none

	// pendingSpeaks counts canned synthesis requests still in flight, so an
	// outcome never fires before its announcement is queued.
	pendingSpeaks int

	teardownOnce sync.Once
	torn         bool
}

func newSession(reg *Registry, callControlID, from, to string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:            uuid.NewString(),
		callControlID: callControlID,
		from:          from,
		to:            to,
		startedAt:     time.Now(),
		reg:           reg,
		ctx:           ctx,
		cancel:        cancel,
		events:        make(chan event, 64),
		done:          make(chan struct{}),
		state:         StateCreated,
	}
}

// Sink exposes the endpointer as the media frame sink. It returns nil until
// the call is answered and configured.
func (s *Session) Sink() *endpoint.Endpointer { return s.ep }

// enqueue funnels an event into the session's ordered queue. Events for a
// torn-down session are dropped.
func (s *Session) enqueue(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// run is the session goroutine. It exits only through teardown.
func (s *Session) run() {
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-s.done:
			return
		}
	}
}

func (s *Session) handle(ev event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("session transition panicked",
				"call_id", s.id, "state", s.state.String(), "panic", r)
			s.state = StateFailed
			s.teardown(ReasonFailed)
		}
	}()

	switch ev.kind {
	case evAnswered:
		s.onAnswered()
	case evPlaybackEnded:
		s.onPlaybackEnded()
	case evHangup:
		s.onHangup(ev.cause)
	case evStreamFailed:
		slog.Warn("media streaming failed", "call_id", s.id, "err", ev.err)
		s.hangupNow(ReasonStreamFailed)
	case evUtterance:
		s.onUtterance(ev.utt)
	case evSegment:
		s.onSegment(ev)
	case evBrainDone:
		s.onBrainDone(ev)
	case evDeadAir:
		s.onDeadAir(ev.seq)
	}
}

// ---- transitions ----------------------------------------------------------

func (s *Session) onAnswered() {
	if s.state != StateCreated {
		return
	}

	cfg, err := s.reg.svc.Tenants.Resolve(s.ctx, s.to)
	if err != nil {
		slog.Warn("call to unconfigured number", "call_id", s.id, "to", s.to, "err", err)
		s.synth, s.pipe = s.reg.fallbackVoice()
		s.state = StateHangingUp
		s.pendingHangup = ReasonUnconfiguredDID
		s.speakAsync(cannedNotConfigured)
		return
	}
	s.cfg = cfg
	s.synth, s.pipe = s.reg.voiceFor(cfg)

	caps := s.reg.capsFor(cfg)
	if err := s.reg.svc.Capacity.Reserve(s.ctx, cfg.TenantID, s.id, caps); err != nil {
		reason := capacity.Reason(err)
		if reason == "" {
			reason = "reserve_error"
		}
		slog.Warn("call denied", "call_id", s.id, "tenant", cfg.TenantID, "reason", reason, "err", err)
		s.reg.metrics.RecordCapacityDenial(s.ctx, cfg.TenantID, reason)
		s.state = StateHangingUp
		s.pendingHangup = ReasonCapacityDenied
		s.speakAsync(cannedAtCapacity)
		return
	}
	s.reserved = true
	s.reg.metrics.CallStarted(s.ctx, cfg.TenantID)
	s.reg.svc.Report.CallStarted(s.ctx, s.reportCall())

	s.echo = endpoint.NewEchoSuppressor(s.reg.set.SampleRate)
	opts := s.reg.endpointerOptions(cfg)
	opts.Echo = s.echo
	s.ep = endpoint.New(s.reg.transcriberFor(cfg), opts)
	go s.pumpUtterances()
	go s.ep.RunWatchdog(s.ctx)

	s.state = StateGreeting
	greeting := cfg.Greeting
	if greeting == "" {
		greeting = defaultGreeting
	}
	s.history = append(s.history, types.Turn{
		Role: types.RoleAssistant, Content: greeting, Timestamp: time.Now(),
	})
	s.speakAsync(greeting)
}

func (s *Session) onPlaybackEnded() {
	if len(s.queue) > 0 {
		item := s.queue[0]
		s.queue = s.queue[1:]
		s.reg.svc.Store.Remove(item.url)
		if s.ep != nil {
			s.ep.PlaybackFinished(item.duration)
		}
	}
	s.playing = false

	if len(s.queue) > 0 {
		s.playNext()
		return
	}

	// Queue drained: apply any pending terminal outcome first.
	switch {
	case s.pendingSpeaks > 0:
		// Canned audio is still being synthesized; the outcome waits for it.
	case s.pendingHangup != "":
		s.hangupNow(s.pendingHangup)
	case s.pendingTransfer != "":
		to := s.pendingTransfer
		s.pendingTransfer = ""
		s.state = StateTransferring
		if err := s.reg.svc.Carrier.Transfer(s.ctx, s.callControlID, to); err != nil {
			slog.Error("transfer failed", "call_id", s.id, "to", to, "err", err)
			s.hangupNow(ReasonFailed)
		}
	case s.state == StateGreeting || s.state == StateSpeaking:
		s.toListening(true)
	case s.state == StateListening:
		s.armDeadAir()
	}
}

func (s *Session) onHangup(cause string) {
	if cause == "" {
		cause = ReasonCallerHangup
	}
	if s.state == StateTransferring {
		cause = ReasonTransferred
	}
	s.teardown(cause)
}

func (s *Session) onUtterance(utt types.Utterance) {
	// Any caller speech during assistant playback is a barge-in. Onset
	// events fire the moment speech is confirmed, so playback is cut well
	// before the first transcript exists; a partial with text covers streams
	// whose onset event was lost.
	if s.playing && (s.state == StateSpeaking || s.state == StateGreeting || s.state == StateThinking) {
		if utt.Onset || utt.Text != "" {
			s.bargeIn()
		}
	}
	if !utt.IsFinal {
		return
	}

	if utt.ErrTag != "" {
		slog.Warn("transcription failed", "call_id", s.id, "tag", utt.ErrTag)
		if s.state == StateListening {
			s.speakAsync(cannedApology)
		}
		return
	}
	if utt.Text == "" {
		// Noise or breath: stay in LISTENING, restart the dead-air window.
		if s.state == StateListening {
			s.armDeadAir()
		}
		return
	}
	if s.state != StateListening {
		// A final landing outside LISTENING (raced a terminal transition, or
		// arrived mid-turn without a barge) still enters history so the turn
		// is never dropped without a trace.
		slog.Info("caller final outside listening, recorded",
			"call_id", s.id, "state", s.state)
		s.history = append(s.history, types.Turn{
			Role: types.RoleUser, Content: utt.Text, Timestamp: time.Now(),
		})
		return
	}

	s.stopDeadAir()
	s.reprompts = 0
	s.history = append(s.history, types.Turn{
		Role: types.RoleUser, Content: utt.Text, Timestamp: time.Now(),
	})
	s.reg.svc.Report.CallerMessage(s.ctx, s.id, utt)

	s.state = StateThinking
	s.turnSeq++
	s.turnStart = time.Now()
	s.playFiller()
	go s.runTurn(s.turnSeq, utt.Text, append([]types.Turn(nil), s.history...))
}

func (s *Session) onSegment(ev event) {
	if ev.seq != s.turnSeq || s.torn {
		return // barged or superseded turn
	}
	if ev.canned && s.pendingSpeaks > 0 {
		s.pendingSpeaks--
	}
	if len(ev.audio.PCM) > 0 {
		if s.state == StateThinking {
			s.state = StateSpeaking
			s.reg.metrics.TurnDuration.Record(s.ctx, time.Since(s.turnStart).Seconds())
		}
		s.enqueuePlayback(ev.audio)
		return
	}
	// Nothing speakable came back (synthesis failed or the text shaped to
	// empty); do not let a pending outcome stall behind it.
	if !s.playing && len(s.queue) == 0 {
		s.onPlaybackEnded()
	}
}

func (s *Session) onBrainDone(ev event) {
	if ev.seq != s.turnSeq || s.torn {
		return
	}
	if ev.err != nil {
		slog.Error("brain turn failed", "call_id", s.id, "err", ev.err)
		s.state = StateListening
		s.speakAsync(cannedApology)
		return
	}
	reply := ev.reply
	brain.PromoteGoodbye(reply, s.history)

	if reply.Text != "" {
		s.history = append(s.history, types.Turn{
			Role: types.RoleAssistant, Content: reply.Text, Timestamp: time.Now(),
		})
	}

	switch {
	case reply.Hangup != nil:
		s.pendingHangup = ReasonAssistantHangup
		if reply.Text == "" && reply.Hangup.GoodbyeMessage != "" {
			s.history = append(s.history, types.Turn{
				Role: types.RoleAssistant, Content: reply.Hangup.GoodbyeMessage, Timestamp: time.Now(),
			})
			s.speakAsync(reply.Hangup.GoodbyeMessage)
		}
	case reply.Transfer != nil:
		s.pendingTransfer = reply.Transfer.To
		if reply.Transfer.MessageToCaller != "" {
			s.speakAsync(reply.Transfer.MessageToCaller)
		}
	}

	if !s.playing && len(s.queue) == 0 && s.pendingSpeaks == 0 {
		// Nothing queued and nothing speakable arrived: either apply the
		// outcome now or go straight back to listening.
		s.onPlaybackEnded()
	}
}

func (s *Session) onDeadAir(gen int) {
	if gen != s.timerGen || s.state != StateListening {
		return
	}
	s.reprompts++
	if s.reprompts > s.reg.set.DeadAirMaxReprompts {
		slog.Info("dead air exhausted, hanging up", "call_id", s.id, "reprompts", s.reprompts-1)
		s.pendingHangup = ReasonDeadAir
		s.speakAsync(cannedSilenceGoodbye)
		return
	}
	s.speakAsync(cannedReprompt)
}

// bargeIn cancels in-flight playback and the remainder of the brain stream,
// then returns to LISTENING so the interrupting utterance drives the next
// turn.
func (s *Session) bargeIn() {
	slog.Info("barge-in", "call_id", s.id, "state", s.state.String())
	s.reg.metrics.RecordBargeIn(s.ctx, s.tenantID())
	s.turnSeq++ // invalidates queued segments and the brain goroutine's events

	if err := s.reg.svc.Carrier.StopPlayback(s.ctx, s.callControlID); err != nil {
		slog.Debug("stop playback failed", "call_id", s.id, "err", err)
	}
	for _, item := range s.queue {
		s.reg.svc.Store.Remove(item.url)
	}
	s.queue = nil
	s.playing = false
	s.pendingHangup = ""
	s.pendingTransfer = ""
	s.pendingSpeaks = 0

	s.history = append(s.history, types.Turn{
		Role: types.RoleSystem, Content: bargeInMarker, Timestamp: time.Now(),
	})
	s.toListening(false)
}

func (s *Session) toListening(armTimer bool) {
	s.state = StateListening
	if armTimer {
		s.armDeadAir()
	}
}

// ---- playback -------------------------------------------------------------

// enqueuePlayback stores prepared audio and queues it on the carrier.
func (s *Session) enqueuePlayback(a tts.Audio) {
	if s.torn {
		slog.Info("playback skipped", "call_id", s.id, "reason", "session_closed")
		return
	}
	if len(a.PCM) == 0 {
		return
	}
	url, err := s.reg.svc.Store.Put(a.PCM, a.SampleRate)
	if err != nil {
		slog.Error("audio store write failed", "call_id", s.id, "err", err)
		return
	}
	ref := a.PCM
	if a.SampleRate != s.reg.set.SampleRate {
		ref = audio.ResampleMono16(a.PCM, a.SampleRate, s.reg.set.SampleRate)
	}
	s.queue = append(s.queue, playItem{
		url:      url,
		duration: time.Duration(audio.DurationMs(a.PCM, a.SampleRate)) * time.Millisecond,
		refPCM:   ref,
	})
	if !s.playing {
		s.playNext()
	}
}

func (s *Session) playNext() {
	item := s.queue[0]
	if s.echo != nil {
		s.echo.RecordPlayed(item.refPCM)
	}
	s.playing = true
	if err := s.reg.svc.Carrier.Play(s.ctx, s.callControlID, item.url); err != nil {
		slog.Error("carrier play failed", "call_id", s.id, "err", err)
		// Synthesize the completion so the queue keeps draining.
		s.enqueue(event{kind: evPlaybackEnded})
	}
}

// playFiller plays a pre-synthesized acknowledgement while the brain thinks.
// Fillers are picked from the cache matching this call's playback profile.
func (s *Session) playFiller() {
	if s.reg.svc.Fillers == nil || s.pipe == nil {
		return
	}
	if a, ok := s.reg.svc.Fillers.Pick(s.pipe.Profile()); ok {
		s.enqueuePlayback(a)
	}
}

// speakAsync synthesizes text off the event loop and feeds the result back
// as a segment for the current turn.
func (s *Session) speakAsync(text string) {
	seq := s.turnSeq
	s.pendingSpeaks++
	go func() {
		a, err := s.synthesize(s.ctx, text)
		if err != nil {
			slog.Error("canned synthesis failed", "call_id", s.id, "err", err)
		}
		// An empty segment is delivered anyway so pending outcomes never
		// stall behind unplayable audio.
		s.enqueue(event{kind: evSegment, seq: seq, audio: a, text: text, canned: true})
	}()
}

// synthesize shapes, synthesizes, and conditions one text block.
func (s *Session) synthesize(ctx context.Context, text string) (tts.Audio, error) {
	shaped := tts.ShapeText(text)
	if shaped == "" {
		return tts.Audio{}, nil
	}
	req := tts.Request{Text: shaped}
	if s.cfg != nil {
		req.VoiceID = s.cfg.TTS.VoiceID
		req.Speed = s.cfg.TTS.Speed
	}
	start := time.Now()
	a, err := s.synth.Synthesize(ctx, req)
	s.reg.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return tts.Audio{}, fmt.Errorf("session: synthesize: %w", err)
	}
	return s.pipe.Prepare(a), nil
}

// ---- brain turn -----------------------------------------------------------

// runTurn streams one brain reply, synthesizing segments as they become
// speakable. It runs off the event loop; results come back through the queue
// tagged with seq so a barge-in makes them inert.
func (s *Session) runTurn(seq int, transcript string, history []types.Turn) {
	req := brain.Request{
		TenantID:   s.tenantID(),
		CallID:     s.id,
		Transcript: transcript,
		History:    history,
	}
	if s.cfg != nil {
		req.TransferProfiles = s.cfg.TransferProfiles
		req.AssistantContext = s.cfg.AssistantContext
	}

	start := time.Now()
	chunks, err := s.reg.svc.Brain.Stream(s.ctx, req)
	if err != nil {
		s.enqueue(event{kind: evBrainDone, seq: seq, err: err})
		return
	}

	seg := brain.NewSegmenter(0, 0)
	firstSegment := true
	emit := func(text string) {
		a, err := s.synthesize(s.ctx, text)
		if err != nil {
			slog.Error("segment synthesis failed", "call_id", s.id, "err", err)
			return
		}
		if firstSegment {
			s.reg.metrics.BrainDuration.Record(s.ctx, time.Since(start).Seconds())
			firstSegment = false
		}
		s.enqueue(event{kind: evSegment, seq: seq, audio: a, text: text})
	}

	for chunk := range chunks {
		if chunk.Done {
			if chunk.Err != nil {
				s.enqueue(event{kind: evBrainDone, seq: seq, err: chunk.Err})
				return
			}
			if tail := seg.Flush(); tail != "" {
				emit(tail)
			}
			s.enqueue(event{kind: evBrainDone, seq: seq, reply: chunk.Reply})
			return
		}
		for _, ready := range seg.Push(chunk.Text) {
			emit(ready)
		}
	}
	s.enqueue(event{kind: evBrainDone, seq: seq, err: errors.New("session: brain stream closed without done")})
}

// ---- timers and pumps -----------------------------------------------------

func (s *Session) armDeadAir() {
	s.stopDeadAir()
	s.timerGen++
	gen := s.timerGen
	s.deadAir = time.AfterFunc(s.reg.set.DeadAir, func() {
		s.enqueue(event{kind: evDeadAir, seq: gen})
	})
}

func (s *Session) stopDeadAir() {
	if s.deadAir != nil {
		s.deadAir.Stop()
		s.deadAir = nil
	}
	s.timerGen++
}

func (s *Session) pumpUtterances() {
	for utt := range s.ep.Utterances() {
		s.enqueue(event{kind: evUtterance, utt: utt})
	}
}

// ---- teardown -------------------------------------------------------------

// hangupNow issues the carrier hangup and tears the session down.
func (s *Session) hangupNow(reason string) {
	s.state = StateHangingUp
	if err := s.reg.svc.Carrier.Hangup(s.ctx, s.callControlID); err != nil {
		slog.Debug("carrier hangup failed", "call_id", s.id, "err", err)
	}
	s.teardown(reason)
}

// teardown runs exactly once: cancel in-flight work, release capacity, emit
// the transcript, report call end, free state. Every step past cancellation
// is best-effort.
func (s *Session) teardown(reason string) {
	s.teardownOnce.Do(func() {
		s.torn = true
		slog.Info("session teardown", "call_id", s.id, "tenant", s.tenantID(), "reason", reason,
			"duration", time.Since(s.startedAt).Round(time.Millisecond))

		s.stopDeadAir()
		s.turnSeq++ // make any in-flight turn inert
		s.cancel()
		close(s.done)
		if s.ep != nil {
			s.ep.Close()
		}
		for _, item := range s.queue {
			s.reg.svc.Store.Remove(item.url)
		}
		s.queue = nil

		// Post-cancel work gets its own bounded context.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if s.reserved {
			s.reg.svc.Capacity.Release(ctx, s.id)
			s.reg.metrics.CallEnded(ctx, s.tenantID())
		}

		tr := types.Transcript{
			TenantID: s.tenantID(),
			CallID:   s.id,
			CallerID: s.from,
			Duration: time.Since(s.startedAt),
			Turns:    s.history,
		}
		if s.reg.svc.Archive != nil {
			if err := s.reg.svc.Archive.Save(ctx, tr, reason); err != nil {
				slog.Warn("transcript archive failed", "call_id", s.id, "err", err)
			}
		}
		s.reg.svc.Report.CallEnded(ctx, s.reportCall(), reason, s.history)

		s.reg.remove(s.callControlID)
	})
}

// ---- small helpers --------------------------------------------------------

func (s *Session) tenantID() string {
	if s.cfg != nil {
		return s.cfg.TenantID
	}
	return ""
}

func (s *Session) reportCall() report.Call {
	return report.Call{CallID: s.id, TenantID: s.tenantID(), From: s.from, To: s.to}
}
