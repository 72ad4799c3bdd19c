// Package config provides the environment-driven configuration for the
// Ringline call runtime.
//
// Every recognized variable is enumerated here; FromEnv parses the whole
// surface at startup and fails with a joined error listing every invalid
// value rather than stopping at the first.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LogLevel controls log verbosity for the runtime.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration for the runtime, assembled from the
// process environment by [FromEnv].
type Config struct {
	// Port is the HTTP listen port for webhook, media WS, and metrics.
	Port int

	// LogLevel controls slog verbosity.
	LogLevel LogLevel

	// RedisURL is the connection URL for tenant config and capacity counters.
	RedisURL string

	// MediaStreamToken is the shared bearer token required on media stream
	// upgrades.
	MediaStreamToken string

	// TelnyxPublicKey is the carrier's base64-encoded Ed25519 public key for
	// webhook signature verification. Empty disables Ed25519 verification
	// (per-tenant HMAC secrets still apply).
	TelnyxPublicKey string

	// TelnyxCodec is the preferred media codec requested from the carrier.
	TelnyxCodec string

	// TelnyxAPIURL is the carrier call-control API base. Override for tests
	// and regional deployments.
	TelnyxAPIURL string

	// TelnyxAPIKey authenticates outbound call-control commands.
	TelnyxAPIKey string

	// MediaStreamURL is the public wss:// URL the carrier forks call media
	// to; it is sent with the answer command.
	MediaStreamURL string

	// Service endpoints.
	WhisperURL      string
	KokoroURL       string
	CoquiXTTSURL    string
	BrainURL        string
	ControlPlaneURL string

	// PostgresDSN enables the optional transcript archive when non-empty.
	PostgresDSN string

	// TenantFixtures is a path to a YAML file of tenant configs seeded into
	// the store at boot, for development.
	TenantFixtures string

	// Endpointer tuning.
	STTChunkMS      int
	STTSilenceMS    int
	STTLanguage     string
	STTRMSFloor     float64
	STTPeakFloor    float64
	STTGateDisabled bool

	// StreamRestartMax bounds codec-fallback restarts per media stream.
	StreamRestartMax int

	// Client timeouts and modes.
	TTSTimeout         time.Duration
	BrainTimeout       time.Duration
	BrainStreamEnabled bool

	// Capacity caps; -1 means unlimited.
	GlobalConcurrencyCap        int
	TenantConcurrencyCapDefault int
	TenantPerMinuteCapDefault   int

	// CapacityTTL guards reservation counters against coordinator crashes.
	CapacityTTL time.Duration

	// Audio asset storage for carrier-playable files.
	AudioStorageDir    string
	AudioPublicBaseURL string

	// Dead-air handling.
	DeadAir             time.Duration
	DeadAirMaxReprompts int
}

// Defaults mirrors the documented default for every optional variable.
func Defaults() *Config {
	return &Config{
		Port:                        8080,
		LogLevel:                    LogInfo,
		RedisURL:                    "redis://localhost:6379/0",
		TelnyxCodec:                 "PCMU",
		TelnyxAPIURL:                "https://api.telnyx.com",
		STTChunkMS:                  100,
		STTSilenceMS:                700,
		STTLanguage:                 "en",
		STTRMSFloor:                 300,
		STTPeakFloor:                1000,
		StreamRestartMax:            3,
		TTSTimeout:                  10 * time.Second,
		BrainTimeout:                8 * time.Second,
		BrainStreamEnabled:          true,
		GlobalConcurrencyCap:        50,
		TenantConcurrencyCapDefault: 5,
		TenantPerMinuteCapDefault:   10,
		CapacityTTL:                 30 * time.Minute,
		DeadAir:                     12 * time.Second,
		DeadAirMaxReprompts:         2,
	}
}

// FromEnv assembles a Config from the process environment on top of
// [Defaults]. All parse and validation failures are joined into one error so
// a misconfigured deployment surfaces everything at once.
func FromEnv() (*Config, error) {
	cfg := Defaults()
	var errs []error

	p := parser{errs: &errs}

	p.intVar(&cfg.Port, "PORT")
	if lvl, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = LogLevel(strings.ToLower(lvl))
	}
	p.stringVar(&cfg.RedisURL, "REDIS_URL")
	p.stringVar(&cfg.MediaStreamToken, "MEDIA_STREAM_TOKEN")
	p.stringVar(&cfg.TelnyxPublicKey, "TELNYX_PUBLIC_KEY")
	p.stringVar(&cfg.TelnyxCodec, "TELNYX_CODEC")
	p.stringVar(&cfg.TelnyxAPIURL, "TELNYX_API_URL")
	p.stringVar(&cfg.TelnyxAPIKey, "TELNYX_API_KEY")
	p.stringVar(&cfg.MediaStreamURL, "MEDIA_STREAM_URL")
	p.stringVar(&cfg.WhisperURL, "WHISPER_URL")
	p.stringVar(&cfg.KokoroURL, "KOKORO_URL")
	p.stringVar(&cfg.CoquiXTTSURL, "COQUI_XTTS_URL")
	p.stringVar(&cfg.BrainURL, "BRAIN_URL")
	p.stringVar(&cfg.ControlPlaneURL, "CONTROL_PLANE_URL")
	p.stringVar(&cfg.PostgresDSN, "POSTGRES_DSN")
	p.stringVar(&cfg.TenantFixtures, "TENANT_FIXTURES")

	p.intVar(&cfg.STTChunkMS, "STT_CHUNK_MS")
	p.intVar(&cfg.STTSilenceMS, "STT_SILENCE_MS")
	p.stringVar(&cfg.STTLanguage, "STT_LANGUAGE")
	p.floatVar(&cfg.STTRMSFloor, "STT_RMS_FLOOR")
	p.floatVar(&cfg.STTPeakFloor, "STT_PEAK_FLOOR")
	p.boolVar(&cfg.STTGateDisabled, "STT_GATE_DISABLED")
	p.intVar(&cfg.StreamRestartMax, "STREAM_RESTART_MAX")

	p.secondsVar(&cfg.TTSTimeout, "TTS_TIMEOUT_SECONDS")
	p.secondsVar(&cfg.BrainTimeout, "BRAIN_TIMEOUT_SECONDS")
	p.boolVar(&cfg.BrainStreamEnabled, "BRAIN_STREAM_ENABLED")

	p.capVar(&cfg.GlobalConcurrencyCap, "GLOBAL_CONCURRENCY_CAP")
	p.capVar(&cfg.TenantConcurrencyCapDefault, "TENANT_CONCURRENCY_CAP_DEFAULT")
	p.capVar(&cfg.TenantPerMinuteCapDefault, "TENANT_PER_MINUTE_CAP_DEFAULT")
	p.secondsVar(&cfg.CapacityTTL, "CAPACITY_TTL_SECONDS")

	p.stringVar(&cfg.AudioStorageDir, "AUDIO_STORAGE_DIR")
	p.stringVar(&cfg.AudioPublicBaseURL, "AUDIO_PUBLIC_BASE_URL")

	p.millisVar(&cfg.DeadAir, "DEAD_AIR_MS")
	p.intVar(&cfg.DeadAirMaxReprompts, "DEAD_AIR_MAX_REPROMPTS")

	if err := Validate(cfg); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// Validate checks that cfg is coherent. It returns a joined error listing
// all failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range [1, 65535]", cfg.Port))
	}
	if !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL must not be empty"))
	}
	if cfg.STTChunkMS <= 0 {
		errs = append(errs, fmt.Errorf("STT_CHUNK_MS %d must be positive", cfg.STTChunkMS))
	}
	if cfg.STTSilenceMS <= 0 {
		errs = append(errs, fmt.Errorf("STT_SILENCE_MS %d must be positive", cfg.STTSilenceMS))
	}
	if cfg.STTRMSFloor < 0 {
		errs = append(errs, fmt.Errorf("STT_RMS_FLOOR %.1f must not be negative", cfg.STTRMSFloor))
	}
	if cfg.STTPeakFloor < 0 {
		errs = append(errs, fmt.Errorf("STT_PEAK_FLOOR %.1f must not be negative", cfg.STTPeakFloor))
	}
	if cfg.StreamRestartMax < 0 {
		errs = append(errs, fmt.Errorf("STREAM_RESTART_MAX %d must not be negative", cfg.StreamRestartMax))
	}
	if cfg.TTSTimeout <= 0 {
		errs = append(errs, errors.New("TTS_TIMEOUT_SECONDS must be positive"))
	}
	if cfg.BrainTimeout <= 0 {
		errs = append(errs, errors.New("BRAIN_TIMEOUT_SECONDS must be positive"))
	}
	if cfg.CapacityTTL <= 0 {
		errs = append(errs, errors.New("CAPACITY_TTL_SECONDS must be positive"))
	}
	if cfg.DeadAir <= 0 {
		errs = append(errs, errors.New("DEAD_AIR_MS must be positive"))
	}
	if cfg.DeadAirMaxReprompts < 0 {
		errs = append(errs, fmt.Errorf("DEAD_AIR_MAX_REPROMPTS %d must not be negative", cfg.DeadAirMaxReprompts))
	}
	for _, cap := range []struct {
		name string
		val  int
	}{
		{"GLOBAL_CONCURRENCY_CAP", cfg.GlobalConcurrencyCap},
		{"TENANT_CONCURRENCY_CAP_DEFAULT", cfg.TenantConcurrencyCapDefault},
		{"TENANT_PER_MINUTE_CAP_DEFAULT", cfg.TenantPerMinuteCapDefault},
	} {
		if cap.val == 0 || cap.val < -1 {
			errs = append(errs, fmt.Errorf("%s %d must be positive or -1 (unlimited)", cap.name, cap.val))
		}
	}

	return errors.Join(errs...)
}

// parser collects typed env lookups, appending one error per bad value.
type parser struct {
	errs *[]error
}

func (p parser) stringVar(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func (p parser) intVar(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s %q is not an integer", key, v))
		return
	}
	*dst = n
}

// capVar parses a concurrency cap: a positive integer or -1 for unlimited.
func (p parser) capVar(dst *int, key string) {
	p.intVar(dst, key)
}

func (p parser) floatVar(dst *float64, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s %q is not a number", key, v))
		return
	}
	*dst = f
}

func (p parser) boolVar(dst *bool, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s %q is not a boolean", key, v))
		return
	}
	*dst = b
}

func (p parser) secondsVar(dst *time.Duration, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s %q is not an integer number of seconds", key, v))
		return
	}
	*dst = time.Duration(n) * time.Second
}

func (p parser) millisVar(dst *time.Duration, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s %q is not an integer number of milliseconds", key, v))
		return
	}
	*dst = time.Duration(n) * time.Millisecond
}
