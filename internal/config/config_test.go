package config

import (
	"strings"
	"testing"
	"time"
)

func TestFromEnv_DefaultsAreValid(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv with empty environment: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d; want 8080", cfg.Port)
	}
	if cfg.LogLevel != LogInfo {
		t.Errorf("LogLevel = %q; want info", cfg.LogLevel)
	}
	if cfg.CapacityTTL != 30*time.Minute {
		t.Errorf("CapacityTTL = %v; want 30m", cfg.CapacityTTL)
	}
}

func TestFromEnv_ParsesOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("STT_SILENCE_MS", "500")
	t.Setenv("STT_RMS_FLOOR", "250.5")
	t.Setenv("STT_GATE_DISABLED", "true")
	t.Setenv("TTS_TIMEOUT_SECONDS", "15")
	t.Setenv("STREAM_RESTART_MAX", "5")
	t.Setenv("GLOBAL_CONCURRENCY_CAP", "-1")
	t.Setenv("DEAD_AIR_MS", "8000")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d; want 9090", cfg.Port)
	}
	if cfg.LogLevel != LogDebug {
		t.Errorf("LogLevel = %q; want debug (case-folded)", cfg.LogLevel)
	}
	if cfg.STTSilenceMS != 500 {
		t.Errorf("STTSilenceMS = %d; want 500", cfg.STTSilenceMS)
	}
	if cfg.STTRMSFloor != 250.5 {
		t.Errorf("STTRMSFloor = %v; want 250.5", cfg.STTRMSFloor)
	}
	if !cfg.STTGateDisabled {
		t.Error("STTGateDisabled = false; want true")
	}
	if cfg.StreamRestartMax != 5 {
		t.Errorf("StreamRestartMax = %d; want 5", cfg.StreamRestartMax)
	}
	if cfg.TTSTimeout != 15*time.Second {
		t.Errorf("TTSTimeout = %v; want 15s", cfg.TTSTimeout)
	}
	if cfg.GlobalConcurrencyCap != -1 {
		t.Errorf("GlobalConcurrencyCap = %d; want -1", cfg.GlobalConcurrencyCap)
	}
	if cfg.DeadAir != 8*time.Second {
		t.Errorf("DeadAir = %v; want 8s", cfg.DeadAir)
	}
}

func TestFromEnv_InvalidValuesJoinAllErrors(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	t.Setenv("STT_SILENCE_MS", "abc")
	t.Setenv("BRAIN_STREAM_ENABLED", "maybe")

	_, err := FromEnv()
	if err == nil {
		t.Fatal("expected error for invalid environment")
	}
	for _, want := range []string{"PORT", "STT_SILENCE_MS", "BRAIN_STREAM_ENABLED"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		wantOK bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero port", func(c *Config) { c.Port = 0 }, false},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, false},
		{"empty redis url", func(c *Config) { c.RedisURL = "" }, false},
		{"zero cap", func(c *Config) { c.GlobalConcurrencyCap = 0 }, false},
		{"unlimited cap", func(c *Config) { c.GlobalConcurrencyCap = -1 }, true},
		{"cap below -1", func(c *Config) { c.TenantConcurrencyCapDefault = -2 }, false},
		{"negative rms floor", func(c *Config) { c.STTRMSFloor = -1 }, false},
		{"negative restart budget", func(c *Config) { c.StreamRestartMax = -1 }, false},
		{"zero restart budget", func(c *Config) { c.StreamRestartMax = 0 }, true},
		{"zero dead air", func(c *Config) { c.DeadAir = 0 }, false},
		{"negative reprompts", func(c *Config) { c.DeadAirMaxReprompts = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantOK && err != nil {
				t.Errorf("Validate returned %v; want nil", err)
			}
			if !tt.wantOK && err == nil {
				t.Error("Validate returned nil; want error")
			}
		})
	}
}

func TestValidate_ReportsEveryFailure(t *testing.T) {
	cfg := Defaults()
	cfg.Port = -1
	cfg.RedisURL = ""
	cfg.CapacityTTL = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"PORT", "REDIS_URL", "CAPACITY_TTL_SECONDS"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
