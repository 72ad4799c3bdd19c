// Package app wires the Ringline subsystems into a running service.
//
// New connects the stores and provider clients and assembles the HTTP
// surface (carrier webhook, media WebSocket, staged audio, metrics, health).
// Run serves until the context is cancelled; Shutdown drains live calls and
// releases resources in reverse order.
//
// For testing, inject fakes via functional options (WithCarrier, WithBrain,
// etc.). When an option is not provided, New creates the real client from
// the config.
package app

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ringline-ai/ringline/internal/archive"
	"github.com/ringline-ai/ringline/internal/capacity"
	"github.com/ringline-ai/ringline/internal/carrier"
	"github.com/ringline-ai/ringline/internal/config"
	"github.com/ringline-ai/ringline/internal/endpoint"
	"github.com/ringline-ai/ringline/internal/health"
	"github.com/ringline-ai/ringline/internal/media"
	"github.com/ringline-ai/ringline/internal/observe"
	"github.com/ringline-ai/ringline/internal/playback"
	"github.com/ringline-ai/ringline/internal/report"
	"github.com/ringline-ai/ringline/internal/session"
	"github.com/ringline-ai/ringline/internal/tenant"
	"github.com/ringline-ai/ringline/internal/webhook"
	"github.com/ringline-ai/ringline/pkg/audio"
	"github.com/ringline-ai/ringline/pkg/provider/brain"
	"github.com/ringline-ai/ringline/pkg/provider/stt"
	"github.com/ringline-ai/ringline/pkg/provider/stt/whisper"
	"github.com/ringline-ai/ringline/pkg/provider/tts"
	"github.com/ringline-ai/ringline/pkg/provider/tts/coquixtts"
	"github.com/ringline-ai/ringline/pkg/provider/tts/kokoro"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	redis      *redis.Client
	tenants    tenant.Store
	counters   capacity.Counters
	resolver   *tenant.Resolver
	admission  *capacity.Controller
	carrier    session.Carrier
	sttClient  stt.Transcriber
	sttMu      sync.Mutex
	sttCache   map[string]stt.Transcriber
	brainSvc   session.Brain
	narrowband tts.Synthesizer
	hd         tts.Synthesizer
	store      *playback.Store
	fillers    *playback.FillerCache
	reporter   *report.Client
	archiver   *archive.Store
	registry   *session.Registry
	metrics    *observe.Metrics

	server *http.Server

	// closers run in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCarrier injects a call-control client instead of the Telnyx one.
func WithCarrier(c session.Carrier) Option {
	return func(a *App) { a.carrier = c }
}

// WithTranscriber injects an STT client instead of the whisper one.
func WithTranscriber(t stt.Transcriber) Option {
	return func(a *App) { a.sttClient = t }
}

// WithBrain injects a brain client.
func WithBrain(b session.Brain) Option {
	return func(a *App) { a.brainSvc = b }
}

// WithSynthesizers injects the narrowband and HD synthesis backends. hd may
// be nil.
func WithSynthesizers(narrowband, hd tts.Synthesizer) Option {
	return func(a *App) {
		a.narrowband = narrowband
		a.hd = hd
	}
}

// WithTenantStore injects the tenant config store instead of Redis.
func WithTenantStore(s tenant.Store) Option {
	return func(a *App) { a.tenants = s }
}

// WithCounters injects the capacity counter store instead of Redis.
func WithCounters(c capacity.Counters) Option {
	return func(a *App) { a.counters = c }
}

// WithMetrics injects a metrics set bound to a test meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New wires all subsystems. It performs initialization synchronously: Redis
// connection, fixture seeding, provider client construction, archive
// connection, and HTTP route assembly.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStores(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init stores: %w", err)
	}
	if err := a.initProviders(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init providers: %w", err)
	}
	if err := a.initPlayback(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init playback: %w", err)
	}
	if err := a.initArchive(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	a.initRegistry()

	handler, err := a.routes()
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init routes: %w", err)
	}
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStores connects Redis (unless both stores are injected), seeds tenant
// fixtures, and builds the resolver and admission controller.
func (a *App) initStores(ctx context.Context) error {
	if a.tenants == nil || a.counters == nil {
		redisOpts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("ping redis: %w", err)
		}
		a.redis = client
		a.closers = append(a.closers, client.Close)
		if a.tenants == nil {
			a.tenants = client
		}
		if a.counters == nil {
			a.counters = client
		}
	}

	if a.cfg.TenantFixtures != "" {
		fixtures, err := tenant.LoadFixtures(a.cfg.TenantFixtures)
		if err != nil {
			return err
		}
		if err := tenant.Seed(ctx, a.tenants, fixtures); err != nil {
			return err
		}
		slog.Info("seeded tenant fixtures", "path", a.cfg.TenantFixtures, "tenants", len(fixtures))
	}

	a.resolver = tenant.NewResolver(a.tenants)
	a.admission = capacity.New(a.counters, a.cfg.CapacityTTL)
	return nil
}

// initProviders builds the carrier, STT, TTS, and brain clients that were
// not injected.
func (a *App) initProviders() error {
	if a.carrier == nil {
		if a.cfg.TelnyxAPIKey == "" {
			return errors.New("TELNYX_API_KEY is required")
		}
		c, err := carrier.New(a.cfg.TelnyxAPIURL, a.cfg.TelnyxAPIKey,
			carrier.WithStreamURL(a.cfg.MediaStreamURL),
			carrier.WithCodec(a.cfg.TelnyxCodec),
		)
		if err != nil {
			return err
		}
		a.carrier = c
	}

	if a.sttClient == nil {
		c, err := whisper.New(a.cfg.WhisperURL, whisper.WithLanguage(a.cfg.STTLanguage))
		if err != nil {
			return err
		}
		a.sttClient = c
	}
	a.sttCache = make(map[string]stt.Transcriber)

	if a.brainSvc == nil {
		brainOpts := []brain.Option{brain.WithTimeout(a.cfg.BrainTimeout)}
		if !a.cfg.BrainStreamEnabled {
			brainOpts = append(brainOpts, brain.WithStreamingDisabled())
		}
		c, err := brain.New(a.cfg.BrainURL, brainOpts...)
		if err != nil {
			return err
		}
		a.brainSvc = c
	}

	if a.narrowband == nil {
		c, err := kokoro.New(a.cfg.KokoroURL, kokoro.WithTimeout(a.cfg.TTSTimeout))
		if err != nil {
			return err
		}
		a.narrowband = c
		// The HD backend is optional; tenants asking for it degrade to
		// narrowband when it is absent.
		if a.cfg.CoquiXTTSURL != "" {
			hd, err := coquixtts.New(a.cfg.CoquiXTTSURL, coquixtts.WithTimeout(a.cfg.TTSTimeout))
			if err != nil {
				return err
			}
			a.hd = hd
		}
	}

	a.reporter = report.New(a.cfg.ControlPlaneURL)
	return nil
}

func (a *App) initPlayback() error {
	dir := a.cfg.AudioStorageDir
	if dir == "" {
		return errors.New("AUDIO_STORAGE_DIR is required")
	}
	store, err := playback.NewStore(dir, a.cfg.AudioPublicBaseURL)
	if err != nil {
		return err
	}
	a.store = store
	a.fillers = playback.NewFillerCache()
	return nil
}

// transcriberFor builds a transcriber honoring the tenant's STT overrides
// (endpoint URL, language hint, decoding prompt). Tenants without overrides
// share the default client; clients for overriding tenants are cached by
// their effective settings.
func (a *App) transcriberFor(cfg *tenant.Config) stt.Transcriber {
	serverURL := cfg.STT.URL
	if serverURL == "" {
		serverURL = a.cfg.WhisperURL
	}
	language := cfg.STT.Language
	if language == "" {
		language = a.cfg.STTLanguage
	}
	if serverURL == a.cfg.WhisperURL && language == a.cfg.STTLanguage && cfg.STT.Prompt == "" {
		return a.sttClient
	}

	key := serverURL + "|" + language + "|" + cfg.STT.Prompt
	a.sttMu.Lock()
	defer a.sttMu.Unlock()
	if c, ok := a.sttCache[key]; ok {
		return c
	}
	opts := []whisper.Option{whisper.WithLanguage(language)}
	if cfg.STT.Prompt != "" {
		opts = append(opts, whisper.WithPrompt(cfg.STT.Prompt))
	}
	c, err := whisper.New(serverURL, opts...)
	if err != nil {
		slog.Warn("per-tenant stt client failed, using default",
			"tenant", cfg.TenantID, "url", serverURL, "err", err)
		return a.sttClient
	}
	a.sttCache[key] = c
	return c
}

// initArchive connects the optional transcript archive.
func (a *App) initArchive(ctx context.Context) error {
	if a.cfg.PostgresDSN == "" {
		return nil
	}
	st, err := archive.Open(ctx, a.cfg.PostgresDSN)
	if err != nil {
		return err
	}
	a.archiver = st
	a.closers = append(a.closers, func() error {
		st.Close()
		return nil
	})
	return nil
}

func (a *App) initRegistry() {
	svc := session.Services{
		Carrier:    a.carrier,
		Tenants:    a.resolver,
		Capacity:   a.admission,
		STT:        a.sttClient,
		STTFor:     a.transcriberFor,
		Brain:      a.brainSvc,
		Narrowband: a.narrowband,
		HD:         a.hd,
		Store:      a.store,
		Fillers:    a.fillers,
		Report:     a.reporter,
	}
	if a.archiver != nil {
		svc.Archive = a.archiver
	}

	a.registry = session.NewRegistry(svc, session.Settings{
		DefaultCaps: capacity.Caps{
			PerMinute: a.cfg.TenantPerMinuteCapDefault,
			Tenant:    a.cfg.TenantConcurrencyCapDefault,
			Global:    a.cfg.GlobalConcurrencyCap,
		},
		DeadAir:             a.cfg.DeadAir,
		DeadAirMaxReprompts: a.cfg.DeadAirMaxReprompts,
		Endpointer: endpoint.Options{
			SilenceEndMS:      a.cfg.STTSilenceMS,
			RMSFloor:          a.cfg.STTRMSFloor,
			PeakFloor:         a.cfg.STTPeakFloor,
			GateAdaptDisabled: a.cfg.STTGateDisabled,
		},
		Metrics: a.metrics,
	})
}

// ─── Routes ──────────────────────────────────────────────────────────────────

// Route paths. The audio path is derived from AUDIO_PUBLIC_BASE_URL so the
// mounted prefix matches the URLs handed to the carrier.
const (
	routeWebhook = "/webhooks/telnyx"
	routeMedia   = "/media"
	routeMetrics = "/metrics"
)

func (a *App) routes() (http.Handler, error) {
	webhookOpts := []webhook.Option{webhook.WithSecretResolver(secretResolver{a.resolver})}
	if a.cfg.TelnyxPublicKey != "" {
		pub, err := base64.StdEncoding.DecodeString(a.cfg.TelnyxPublicKey)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("TELNYX_PUBLIC_KEY is not a base64 ed25519 public key")
		}
		webhookOpts = append(webhookOpts, webhook.WithPublicKey(ed25519.PublicKey(pub)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST "+routeWebhook, observe.Middleware(routeWebhook, a.metrics,
		webhook.NewHandler(a.registry, webhookOpts...)))
	mux.Handle("GET "+routeMedia, media.NewHandler(a.cfg.MediaStreamToken, a.registry,
		media.WithCodec(audio.Codec(a.cfg.TelnyxCodec)),
		media.WithFrameMS(a.cfg.STTChunkMS),
		media.WithMaxRestarts(a.cfg.StreamRestartMax)))

	audioPath := audioRoutePath(a.cfg.AudioPublicBaseURL)
	mux.Handle("GET "+audioPath+"/", http.StripPrefix(audioPath+"/", a.store.Handler()))

	mux.Handle("GET "+routeMetrics, promhttp.Handler())
	a.healthHandler().Register(mux)

	return mux, nil
}

// audioRoutePath extracts the mount path for staged audio from the public
// base URL, defaulting to /audio.
func audioRoutePath(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "/audio"
	}
	return "/" + strings.Trim(u.Path, "/")
}

func (a *App) healthHandler() *health.Handler {
	var checkers []health.Checker
	if a.redis != nil {
		client := a.redis
		checkers = append(checkers, health.Checker{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}
	if a.archiver != nil {
		st := a.archiver
		checkers = append(checkers, health.Checker{
			Name: "archive",
			Check: func(ctx context.Context) error {
				_, err := st.Get(ctx, "healthcheck")
				return err
			},
		})
	}
	return health.New(checkers...)
}

// secretResolver adapts the tenant resolver to the webhook handler's
// per-tenant HMAC lookup.
type secretResolver struct {
	tenants *tenant.Resolver
}

func (r secretResolver) SecretForDID(ctx context.Context, did string) (string, error) {
	cfg, err := r.tenants.Resolve(ctx, did)
	if err != nil {
		return "", err
	}
	secret := cfg.ResolveSecret()
	if secret == "" {
		return "", fmt.Errorf("tenant %s has no webhook secret", cfg.TenantID)
	}
	return secret, nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and runs the background workers until ctx is cancelled.
// Call Shutdown afterwards to drain live calls.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		a.admission.RunSweeper(ctx)
		return nil
	})

	// Warming is best-effort; calls fall back to silence-while-thinking
	// until the cache is ready. Each playback profile gets its own set so HD
	// calls are not served audio conditioned for the PSTN.
	g.Go(func() error {
		a.fillers.Warm(ctx, a.narrowband, "", playback.NewPipeline(playback.ProfileNarrowband))
		if a.hd != nil {
			a.fillers.Warm(ctx, a.hd, "", playback.NewPipeline(playback.ProfileHD))
		}
		return nil
	})

	return g.Wait()
}

// Registry exposes the session registry, for tests and diagnostics.
func (a *App) Registry() *session.Registry { return a.registry }

// Handler exposes the assembled HTTP surface, for tests.
func (a *App) Handler() http.Handler { return a.server.Handler }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains live sessions, flushes pending control-plane reports, and
// releases stores. Bounded by ctx.
func (a *App) Shutdown(ctx context.Context) {
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "live_sessions", a.registry.Len())
		a.registry.Shutdown(ctx)
		a.reporter.Flush(ctx)
		a.closeAll()
		slog.Info("shutdown complete")
	})
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
