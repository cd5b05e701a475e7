package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the glasses turn service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	AllowAnyOrigin           bool
	LogLevel                 string
	LogFormat                string

	// Turn timing.
	SettleWakeOnly time.Duration
	SettleFinal    time.Duration
	SettleInterim  time.Duration
	MaxListening   time.Duration
	Cooldown       time.Duration
	HeadUpWindow   time.Duration
	ReplayTimeout  time.Duration
	AgentTimeout   time.Duration

	PhotoFreshWindow    time.Duration
	PhotoMaxAge         time.Duration
	PhotoWait           time.Duration
	PhotoRequestTimeout time.Duration

	DisplayColumns      int
	DisplayLines        int
	DisplayFinalHistory int
	DisplayDuration     time.Duration

	ListeningCueURL       string
	ProcessingCueURL      string
	ProcessingCueInterval time.Duration

	// Extra wake-word spellings; empty keeps the built-in set.
	WakeWords []string

	AgentMode           string
	AgentHTTPURL        string
	TranscriptReplayURL string
	LocationResolverURL string
	LocationCacheTTL    time.Duration

	SettingsPath              string
	DefaultSpeakResponse      bool
	DefaultWakeRequiresHeadUp bool

	DatabaseURL string
}

// Load reads an optional .env file, then environment variables, and applies
// defaults. Variables already set in the process win over the file.
func Load() (Config, error) {
	envFile := envOrDefault("APP_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "mira"),
		LogLevel:            strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(envOrDefault("APP_LOG_FORMAT", "json")),
		ListeningCueURL:     stringsTrimSpace("CUE_LISTENING_URL"),
		ProcessingCueURL:    stringsTrimSpace("CUE_PROCESSING_URL"),
		WakeWords:           listFromEnv("WAKE_WORDS"),
		AgentMode:           strings.ToLower(envOrDefault("AGENT_MODE", "auto")),
		AgentHTTPURL:        stringsTrimSpace("AGENT_HTTP_URL"),
		TranscriptReplayURL: stringsTrimSpace("TRANSCRIPT_REPLAY_URL"),
		LocationResolverURL: stringsTrimSpace("LOCATION_RESOLVER_URL"),
		SettingsPath:        stringsTrimSpace("SETTINGS_PATH"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
	}

	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout, 15 * time.Second},
		{"APP_SESSION_INACTIVITY_TIMEOUT", &cfg.SessionInactivityTimeout, 2 * time.Minute},
		{"TURN_SETTLE_WAKE_ONLY", &cfg.SettleWakeOnly, 10 * time.Second},
		{"TURN_SETTLE_FINAL", &cfg.SettleFinal, 1500 * time.Millisecond},
		{"TURN_SETTLE_INTERIM", &cfg.SettleInterim, 3 * time.Second},
		{"TURN_MAX_LISTENING", &cfg.MaxListening, 15 * time.Second},
		{"TURN_COOLDOWN", &cfg.Cooldown, 2 * time.Second},
		{"TURN_HEAD_UP_WINDOW", &cfg.HeadUpWindow, 10 * time.Second},
		{"TURN_REPLAY_TIMEOUT", &cfg.ReplayTimeout, 5 * time.Second},
		{"TURN_AGENT_TIMEOUT", &cfg.AgentTimeout, 60 * time.Second},
		{"PHOTO_FRESH_WINDOW", &cfg.PhotoFreshWindow, 5 * time.Second},
		{"PHOTO_MAX_AGE", &cfg.PhotoMaxAge, 30 * time.Second},
		{"PHOTO_WAIT", &cfg.PhotoWait, 3 * time.Second},
		{"PHOTO_REQUEST_TIMEOUT", &cfg.PhotoRequestTimeout, 10 * time.Second},
		{"DISPLAY_DURATION", &cfg.DisplayDuration, 20 * time.Second},
		{"CUE_PROCESSING_INTERVAL", &cfg.ProcessingCueInterval, time.Second},
		{"LOCATION_CACHE_TTL", &cfg.LocationCacheTTL, 10 * time.Minute},
	}
	for _, d := range durations {
		v, err := durationFromEnv(d.key, d.def)
		if err != nil {
			return Config{}, err
		}
		if v <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", d.key)
		}
		*d.dst = v
	}

	ints := []struct {
		key string
		dst *int
		def int
	}{
		{"DISPLAY_COLUMNS", &cfg.DisplayColumns, 30},
		{"DISPLAY_LINES", &cfg.DisplayLines, 3},
		{"DISPLAY_FINAL_HISTORY", &cfg.DisplayFinalHistory, 30},
	}
	for _, n := range ints {
		v, err := intFromEnv(n.key, n.def)
		if err != nil {
			return Config{}, err
		}
		if v <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", n.key)
		}
		*n.dst = v
	}

	var err error
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", false); err != nil {
		return Config{}, err
	}
	if cfg.DefaultSpeakResponse, err = boolFromEnv("SETTINGS_DEFAULT_SPEAK_RESPONSE", false); err != nil {
		return Config{}, err
	}
	if cfg.DefaultWakeRequiresHeadUp, err = boolFromEnv("SETTINGS_DEFAULT_WAKE_REQUIRES_HEAD_UP", false); err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.PhotoMaxAge < cfg.PhotoFreshWindow {
		return Config{}, fmt.Errorf("PHOTO_MAX_AGE must be >= PHOTO_FRESH_WINDOW")
	}
	switch cfg.AgentMode {
	case "auto", "mock":
	case "http":
		if cfg.AgentHTTPURL == "" {
			return Config{}, fmt.Errorf("AGENT_HTTP_URL is required when AGENT_MODE=http")
		}
	default:
		return Config{}, fmt.Errorf("AGENT_MODE must be auto, http or mock")
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return Config{}, fmt.Errorf("APP_LOG_FORMAT must be json or console")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func listFromEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
