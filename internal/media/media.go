// Package media terminates the carrier's media WebSocket. It authenticates
// the upgrade, decodes base64 codec frames to 16-bit mono PCM at the target
// rate, and feeds them to the call's frame sink. Corrupt streams degrade
// through the codec fallback chain before the socket is given up on.
package media

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ringline-ai/ringline/pkg/audio"
)

// Upgrade query parameters.
const (
	QueryToken  = "token"
	QueryCallID = "call_control_id"
)

const (
	// staleFrameMax drops frames buffered on the carrier side during
	// playback; audio this old is self-echo, not caller speech.
	staleFrameMax = 2 * time.Second

	// decodeFailureLimit is the consecutive decode failures that trigger a
	// codec-fallback restart.
	decodeFailureLimit = 5

	defaultMaxRestarts = 3
	defaultTargetRate  = 16000
	defaultCodec       = audio.CodecPCMU
)

// FrameSink consumes decoded PCM frames for one call. The endpointer
// satisfies it.
type FrameSink interface {
	Push(ctx context.Context, frame []byte)
}

// Registry resolves the frame sink for a carrier call id. Media streams for
// calls without a session are rejected.
type Registry interface {
	SinkFor(callControlID string) (FrameSink, bool)
}

// inboundMessage is one carrier WebSocket message.
type inboundMessage struct {
	Event     string `json:"event"` // "start", "media", "stop"
	Codec     string `json:"codec,omitempty"`
	Payload   string `json:"payload,omitempty"`   // base64 codec frame
	Timestamp int64  `json:"timestamp,omitempty"` // unix milliseconds
}

// Handler accepts carrier media WebSocket upgrades.
type Handler struct {
	token       string
	registry    Registry
	codec       audio.Codec
	targetRate  int
	frameMS     int
	maxRestarts int

	// Seams for tests.
	newDecoder func(audio.Codec) (audio.Decoder, error)
	now        func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithCodec sets the initially negotiated codec. Default µ-law.
func WithCodec(c audio.Codec) Option {
	return func(h *Handler) { h.codec = c }
}

// WithTargetRate sets the PCM rate delivered to sinks. Default 16000.
func WithTargetRate(hz int) Option {
	return func(h *Handler) { h.targetRate = hz }
}

// WithFrameMS coalesces decoded PCM into fixed-duration frames before
// delivery. Carriers send 20 ms packets; the endpointer is tuned for larger
// analysis frames. 0 passes packets through as they arrive.
func WithFrameMS(ms int) Option {
	return func(h *Handler) { h.frameMS = ms }
}

// WithMaxRestarts bounds codec-fallback restarts per stream. Default 3.
func WithMaxRestarts(n int) Option {
	return func(h *Handler) { h.maxRestarts = n }
}

// NewHandler creates the media endpoint. token authenticates upgrades.
func NewHandler(token string, registry Registry, opts ...Option) *Handler {
	h := &Handler{
		token:       token,
		registry:    registry,
		codec:       defaultCodec,
		targetRate:  defaultTargetRate,
		maxRestarts: defaultMaxRestarts,
		newDecoder:  audio.NewDecoder,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ http.Handler = (*Handler)(nil)

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	token := r.URL.Query().Get(QueryToken)
	if h.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
		conn.Close(websocket.StatusPolicyViolation, "bad token")
		return
	}

	callID := r.URL.Query().Get(QueryCallID)
	sink, ok := h.registry.SinkFor(callID)
	if !ok {
		conn.Close(websocket.StatusPolicyViolation, "unknown session")
		return
	}

	if err := h.stream(r.Context(), conn, callID, sink); err != nil {
		slog.Warn("media stream aborted", "call_control_id", callID, "err", err)
		conn.Close(websocket.StatusUnsupportedData, "decode failed")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// stream is the per-connection read loop. A nil return is a clean end of
// stream (stop message or peer close); an error means the audio could not
// be decoded within the fallback budget.
func (h *Handler) stream(ctx context.Context, conn *websocket.Conn, callID string, sink FrameSink) error {
	codec := h.codec
	dec, restarts, err := h.decoderFor(codec, 0)
	if err != nil {
		return err
	}

	// Coalesce decoded packets into fixed-duration analysis frames.
	frameBytes := h.frameMS * audio.BytesPerMs(h.targetRate)
	var buf []byte
	deliver := func(pcm []byte) {
		if frameBytes <= 0 {
			sink.Push(ctx, pcm)
			return
		}
		buf = append(buf, pcm...)
		for len(buf) >= frameBytes {
			frame := make([]byte, frameBytes)
			copy(frame, buf)
			buf = buf[frameBytes:]
			sink.Push(ctx, frame)
		}
	}
	flush := func() {
		if len(buf) > 0 {
			sink.Push(ctx, buf)
			buf = nil
		}
	}

	failures := 0
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Peer closed or context canceled; the no-frame watchdog picks
			// up whatever the caller said last.
			flush()
			return nil
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("dropping malformed media message", "call_control_id", callID, "err", err)
			continue
		}

		switch msg.Event {
		case "start":
			if msg.Codec != "" {
				codec = audio.Codec(msg.Codec)
				dec, restarts, err = h.decoderFor(codec, restarts)
				if err != nil {
					return err
				}
				failures = 0
			}

		case "stop":
			flush()
			return nil

		case "media":
			if h.stale(msg.Timestamp) {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(msg.Payload)
			if err != nil {
				failures++
			} else if pcm, err := dec.Decode(payload); err != nil {
				failures++
			} else {
				failures = 0
				if dec.SampleRate() != h.targetRate {
					pcm = audio.ResampleMono16(pcm, dec.SampleRate(), h.targetRate)
				}
				deliver(pcm)
				continue
			}

			if failures >= decodeFailureLimit {
				codec = audio.FallbackFor(codec)
				if codec == "" {
					return fmt.Errorf("media: decode failing with no fallback left")
				}
				slog.Info("media codec fallback restart", "call_control_id", callID, "codec", codec, "restart", restarts+1)
				dec, restarts, err = h.decoderFor(codec, restarts+1)
				if err != nil {
					return err
				}
				failures = 0
			}
		}
	}
}

// decoderFor builds a decoder for codec, walking the fallback chain for
// codecs the runtime cannot decode (AMR-WB). restarts carries the running
// restart count; exceeding the budget fails the stream.
func (h *Handler) decoderFor(codec audio.Codec, restarts int) (audio.Decoder, int, error) {
	for {
		if restarts > h.maxRestarts {
			return nil, restarts, fmt.Errorf("media: restart budget exhausted (%d)", h.maxRestarts)
		}
		dec, err := h.newDecoder(codec)
		if err == nil {
			return dec, restarts, nil
		}
		next := audio.FallbackFor(codec)
		if next == "" {
			return nil, restarts, fmt.Errorf("media: no decoder for %q: %w", codec, err)
		}
		slog.Info("codec not decodable, falling back", "codec", codec, "fallback", next)
		codec = next
		restarts++
	}
}

func (h *Handler) stale(timestampMS int64) bool {
	if timestampMS <= 0 {
		return false
	}
	return h.now().Sub(time.UnixMilli(timestampMS)) > staleFrameMax
}
