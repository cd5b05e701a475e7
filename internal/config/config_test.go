package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"BindAddr", cfg.BindAddr, ":8080"},
		{"MetricsNamespace", cfg.MetricsNamespace, "mira"},
		{"AgentMode", cfg.AgentMode, "auto"},
		{"AgentHTTPURL", cfg.AgentHTTPURL, ""},
		{"SettleWakeOnly", cfg.SettleWakeOnly, 10 * time.Second},
		{"SettleFinal", cfg.SettleFinal, 1500 * time.Millisecond},
		{"SettleInterim", cfg.SettleInterim, 3 * time.Second},
		{"MaxListening", cfg.MaxListening, 15 * time.Second},
		{"Cooldown", cfg.Cooldown, 2 * time.Second},
		{"HeadUpWindow", cfg.HeadUpWindow, 10 * time.Second},
		{"PhotoFreshWindow", cfg.PhotoFreshWindow, 5 * time.Second},
		{"PhotoMaxAge", cfg.PhotoMaxAge, 30 * time.Second},
		{"PhotoWait", cfg.PhotoWait, 3 * time.Second},
		{"DisplayColumns", cfg.DisplayColumns, 30},
		{"DisplayLines", cfg.DisplayLines, 3},
		{"DisplayFinalHistory", cfg.DisplayFinalHistory, 30},
		{"LogFormat", cfg.LogFormat, "json"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if len(cfg.WakeWords) != 0 {
		t.Fatalf("WakeWords = %v, want empty", cfg.WakeWords)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("AGENT_MODE", "HTTP")
	t.Setenv("AGENT_HTTP_URL", " http://localhost:7777/query ")
	t.Setenv("TURN_SETTLE_FINAL", "800ms")
	t.Setenv("DISPLAY_LINES", "5")
	t.Setenv("WAKE_WORDS", "hey iris, ok iris ,")
	t.Setenv("SETTINGS_DEFAULT_SPEAK_RESPONSE", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AgentMode != "http" || cfg.AgentHTTPURL != "http://localhost:7777/query" {
		t.Fatalf("agent = %q %q", cfg.AgentMode, cfg.AgentHTTPURL)
	}
	if cfg.SettleFinal != 800*time.Millisecond {
		t.Fatalf("SettleFinal = %v, want 800ms", cfg.SettleFinal)
	}
	if cfg.DisplayLines != 5 {
		t.Fatalf("DisplayLines = %d, want 5", cfg.DisplayLines)
	}
	if strings.Join(cfg.WakeWords, "|") != "hey iris|ok iris" {
		t.Fatalf("WakeWords = %v", cfg.WakeWords)
	}
	if !cfg.DefaultSpeakResponse {
		t.Fatalf("DefaultSpeakResponse = false, want true")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		key, value, wantErr string
	}{
		{"APP_SESSION_INACTIVITY_TIMEOUT", "2s", "at least 5s"},
		{"TURN_COOLDOWN", "soon", "TURN_COOLDOWN parse error"},
		{"TURN_MAX_LISTENING", "-1s", "TURN_MAX_LISTENING must be positive"},
		{"DISPLAY_COLUMNS", "0", "DISPLAY_COLUMNS must be positive"},
		{"PHOTO_MAX_AGE", "1s", "PHOTO_MAX_AGE"},
		{"AGENT_MODE", "http", "AGENT_HTTP_URL is required"},
		{"AGENT_MODE", "cli", "AGENT_MODE must be"},
		{"APP_ALLOW_ANY_ORIGIN", "maybe", "expected bool"},
		{"APP_LOG_FORMAT", "xml", "APP_LOG_FORMAT"},
	}
	for _, tt := range tests {
		setCoreEnvEmpty(t)
		t.Setenv(tt.key, tt.value)
		_, err := Load()
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Fatalf("Load() with %s=%q error = %v, want %q", tt.key, tt.value, err, tt.wantErr)
		}
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "mira.env")
	if err := os.WriteFile(path, []byte("TURN_COOLDOWN=4s\nAPP_BIND_ADDR=:9999\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("APP_ENV_FILE", path)
	// Unset rather than empty: the file never overrides variables that exist.
	os.Unsetenv("TURN_COOLDOWN")
	t.Setenv("APP_BIND_ADDR", ":7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Cooldown != 4*time.Second {
		t.Fatalf("Cooldown = %v, want 4s from env file", cfg.Cooldown)
	}
	if cfg.BindAddr != ":7070" {
		t.Fatalf("BindAddr = %q, want process env to win", cfg.BindAddr)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"APP_LOG_FORMAT",
		"TURN_SETTLE_WAKE_ONLY",
		"TURN_SETTLE_FINAL",
		"TURN_SETTLE_INTERIM",
		"TURN_MAX_LISTENING",
		"TURN_COOLDOWN",
		"TURN_HEAD_UP_WINDOW",
		"TURN_REPLAY_TIMEOUT",
		"TURN_AGENT_TIMEOUT",
		"PHOTO_FRESH_WINDOW",
		"PHOTO_MAX_AGE",
		"PHOTO_WAIT",
		"PHOTO_REQUEST_TIMEOUT",
		"DISPLAY_COLUMNS",
		"DISPLAY_LINES",
		"DISPLAY_FINAL_HISTORY",
		"DISPLAY_DURATION",
		"CUE_LISTENING_URL",
		"CUE_PROCESSING_URL",
		"CUE_PROCESSING_INTERVAL",
		"WAKE_WORDS",
		"AGENT_MODE",
		"AGENT_HTTP_URL",
		"TRANSCRIPT_REPLAY_URL",
		"LOCATION_RESOLVER_URL",
		"LOCATION_CACHE_TTL",
		"SETTINGS_PATH",
		"SETTINGS_DEFAULT_SPEAK_RESPONSE",
		"SETTINGS_DEFAULT_WAKE_REQUIRES_HEAD_UP",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
	t.Setenv("APP_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}
