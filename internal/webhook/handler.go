package webhook

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Carrier event types the runtime reacts to. Unlisted types are accepted
// and ignored so carrier-side additions do not start failing deliveries.
const (
	EventCallInitiated   = "call.initiated"
	EventCallAnswered    = "call.answered"
	EventCallHangup      = "call.hangup"
	EventPlaybackEnded   = "playback.ended"
	EventStreamingFailed = "streaming.failed"
)

// Event is one carrier webhook delivery.
type Event struct {
	EventType     string `json:"event_type"`
	CallControlID string `json:"call_control_id"`
	From          string `json:"from"`
	To            string `json:"to"`

	// HangupCause is set on call.hangup events.
	HangupCause string `json:"hangup_cause,omitempty"`

	// PlaybackURL correlates playback.ended events with the staged segment.
	PlaybackURL string `json:"playback_url,omitempty"`
}

// ErrUnknownCall is returned by a Sink when the event references a call the
// runtime has no session for. The handler responds 422.
var ErrUnknownCall = errors.New("webhook: unknown call")

// Sink consumes authenticated events, usually the session registry.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// SecretResolver returns the webhook secret for the tenant behind a dialed
// number. Used in per-tenant HMAC mode.
type SecretResolver interface {
	SecretForDID(ctx context.Context, did string) (string, error)
}

const maxBodyBytes = 1 << 20

// Handler is the carrier webhook endpoint. Verification mode depends on
// construction: with a public key it checks the platform Ed25519 signature,
// with a secret resolver it checks the tenant HMAC signature. With neither
// it fails closed.
type Handler struct {
	sink    Sink
	pub     ed25519.PublicKey
	secrets SecretResolver
	now     func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithPublicKey enables platform Ed25519 verification.
func WithPublicKey(pub ed25519.PublicKey) Option {
	return func(h *Handler) { h.pub = pub }
}

// WithSecretResolver enables per-tenant HMAC verification.
func WithSecretResolver(r SecretResolver) Option {
	return func(h *Handler) { h.secrets = r }
}

// WithClock overrides the timestamp clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// NewHandler creates the webhook endpoint delivering into sink.
func NewHandler(sink Sink, opts ...Option) *Handler {
	h := &Handler{sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ http.Handler = (*Handler)(nil)

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ts := r.Header.Get(HeaderTimestamp)
	if err := CheckTimestamp(ts, h.now()); err != nil {
		h.reject(w, r, err)
		return
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.verify(r, ts, body, ev); err != nil {
		h.reject(w, r, err)
		return
	}

	if ev.EventType == "" || ev.CallControlID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch err := h.sink.Deliver(r.Context(), ev); {
	case errors.Is(err, ErrUnknownCall):
		w.WriteHeader(http.StatusUnprocessableEntity)
	case err != nil:
		slog.Error("webhook delivery failed", "event_type", ev.EventType, "call_control_id", ev.CallControlID, "err", err)
		w.WriteHeader(http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) verify(r *http.Request, ts string, body []byte, ev Event) error {
	switch {
	case h.pub != nil:
		return VerifyEd25519(h.pub, r.Header.Get(HeaderEd25519Signature), ts, body)
	case h.secrets != nil:
		secret, err := h.secrets.SecretForDID(r.Context(), ev.To)
		if err != nil {
			return ErrBadSignature
		}
		return VerifyHMAC(secret, r.Header.Get(HeaderHMACSignature), ts, body)
	}
	return ErrBadSignature
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, err error) {
	slog.Warn("webhook rejected", "remote", r.RemoteAddr, "err", err)
	w.WriteHeader(http.StatusUnauthorized)
}
