package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seanguno/hackmit-camera-project/internal/agent"
	"github.com/seanguno/hackmit-camera-project/internal/config"
	"github.com/seanguno/hackmit-camera-project/internal/glasses"
	"github.com/seanguno/hackmit-camera-project/internal/httpapi"
	"github.com/seanguno/hackmit-camera-project/internal/location"
	"github.com/seanguno/hackmit-camera-project/internal/observability"
	"github.com/seanguno/hackmit-camera-project/internal/photo"
	"github.com/seanguno/hackmit-camera-project/internal/session"
	"github.com/seanguno/hackmit-camera-project/internal/settings"
	"github.com/seanguno/hackmit-camera-project/internal/transcript"
	"github.com/seanguno/hackmit-camera-project/internal/turn"
	"github.com/seanguno/hackmit-camera-project/internal/turnlog"
	"github.com/seanguno/hackmit-camera-project/internal/wakeword"
)

const locationJanitorInterval = time.Minute

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Gateway  *glasses.Gateway
	Settings *settings.FileStore
	TurnLog  turnlog.Store
	Metrics  *observability.Metrics

	// Cleanup stops background loops and releases external resources.
	Cleanup func() error
}

// Build wires every component from cfg. Background loops owned by the build
// (settings watcher, location cache janitor) stop when Cleanup runs.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	turns, err := turnlog.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("turn log init failed: %w", err)
	}

	backend, err := agent.New(agent.Config{
		Mode:    cfg.AgentMode,
		HTTPURL: cfg.AgentHTTPURL,
		Timeout: cfg.AgentTimeout,
	})
	if err != nil {
		_ = turns.Close()
		return nil, fmt.Errorf("agent init failed: %w", err)
	}

	store, err := settings.NewFileStore(cfg.SettingsPath, settings.Settings{
		SpeakResponse:      cfg.DefaultSpeakResponse,
		WakeRequiresHeadUp: cfg.DefaultWakeRequiresHeadUp,
	}, logger.With().Str("component", "settings").Logger())
	if err != nil {
		_ = turns.Close()
		return nil, fmt.Errorf("settings init failed: %w", err)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	var bg sync.WaitGroup
	bg.Add(1)
	go func() {
		defer bg.Done()
		if err := store.Watch(bgCtx); err != nil {
			logger.Warn().Err(err).Msg("settings watcher stopped")
		}
	}()

	var resolver location.Resolver = location.UnknownResolver{}
	if cfg.LocationResolverURL != "" {
		r := location.NewHTTPResolver(cfg.LocationResolverURL, cfg.LocationCacheTTL, logger.With().Str("component", "location").Logger())
		r.StartJanitor(bgCtx, locationJanitorInterval)
		resolver = r
	}

	// nil keeps transcripts in process, recorded per connection.
	var replay transcript.Replay
	if cfg.TranscriptReplayURL != "" {
		replay = transcript.NewHTTPReplay(cfg.TranscriptReplayURL, cfg.ReplayTimeout)
	}

	detector := wakeword.Default
	if len(cfg.WakeWords) > 0 {
		detector = wakeword.New(append(wakeword.DefaultVariants(), cfg.WakeWords...)...)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)

	gateway := glasses.NewGateway(glasses.Config{
		Turn:  TurnConfig(cfg),
		Photo: PhotoConfig(cfg),
	}, glasses.Options{
		Agent:    backend,
		Replay:   replay,
		Resolver: resolver,
		Settings: store,
		TurnLog:  turns,
		Sessions: sessions,
		Metrics:  metrics,
		Detector: detector,
		Logger:   logger,
	})

	sessions.OnExpire(func(s *session.Session) {
		metrics.SessionEvents.WithLabelValues("closed").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		gateway.Disconnect(s.ID)
	})

	api := httpapi.New(cfg, sessions, gateway, store, turns, metrics)

	cleanup := func() error {
		// Hijacked websockets survive http.Server.Shutdown; stop their
		// controllers before the turn log closes under them.
		gateway.DisconnectAll()
		bgCancel()
		bg.Wait()
		var errs []string
		if err := turns.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Gateway:  gateway,
		Settings: store,
		TurnLog:  turns,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}

// TurnConfig maps the service configuration onto controller tunables.
func TurnConfig(cfg config.Config) turn.Config {
	return turn.Config{
		SettleWakeOnly:        cfg.SettleWakeOnly,
		SettleFinal:           cfg.SettleFinal,
		SettleInterim:         cfg.SettleInterim,
		MaxListening:          cfg.MaxListening,
		Cooldown:              cfg.Cooldown,
		HeadUpWindow:          cfg.HeadUpWindow,
		ReplayTimeout:         cfg.ReplayTimeout,
		AgentTimeout:          cfg.AgentTimeout,
		DisplayColumns:        cfg.DisplayColumns,
		DisplayLines:          cfg.DisplayLines,
		DisplayFinalHistory:   cfg.DisplayFinalHistory,
		DisplayDuration:       cfg.DisplayDuration,
		ListeningCueURL:       cfg.ListeningCueURL,
		ProcessingCueURL:      cfg.ProcessingCueURL,
		ProcessingCueInterval: cfg.ProcessingCueInterval,
	}
}

func PhotoConfig(cfg config.Config) photo.Config {
	return photo.Config{
		FreshWindow:    cfg.PhotoFreshWindow,
		MaxAge:         cfg.PhotoMaxAge,
		Wait:           cfg.PhotoWait,
		RequestTimeout: cfg.PhotoRequestTimeout,
	}
}
