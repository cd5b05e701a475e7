package glasses

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/seanguno/hackmit-camera-project/internal/agent"
	"github.com/seanguno/hackmit-camera-project/internal/location"
	"github.com/seanguno/hackmit-camera-project/internal/observability"
	"github.com/seanguno/hackmit-camera-project/internal/photo"
	"github.com/seanguno/hackmit-camera-project/internal/protocol"
	"github.com/seanguno/hackmit-camera-project/internal/session"
	"github.com/seanguno/hackmit-camera-project/internal/settings"
	"github.com/seanguno/hackmit-camera-project/internal/transcript"
	"github.com/seanguno/hackmit-camera-project/internal/turn"
	"github.com/seanguno/hackmit-camera-project/internal/wakeword"
)

const criticalSendTimeout = 600 * time.Millisecond

// SessionTracker is the part of the session registry the gateway updates.
type SessionTracker interface {
	Touch(sessionID string) error
	SetTurnState(sessionID, state string) error
}

type Config struct {
	Turn  turn.Config
	Photo photo.Config

	RecorderRetention   time.Duration
	RecorderMaxSegments int
}

// Gateway owns one turn controller per connected session.
type Gateway struct {
	cfg      Config
	agent    agent.Backend
	replay   transcript.Replay
	resolver location.Resolver
	settings settings.Store
	turnLog  turn.TurnLog
	sessions SessionTracker
	metrics  *observability.Metrics
	detector *wakeword.Detector
	logger   zerolog.Logger

	// photoFlights is shared by every connection's photo coordinator so a
	// capture is keyed by session id, not by connection.
	photoFlights singleflight.Group

	mu    sync.Mutex
	conns map[string]*conn
}

type conn struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Options carries the gateway collaborators. A nil Replay records
// transcripts in process per connection.
type Options struct {
	Agent    agent.Backend
	Replay   transcript.Replay
	Resolver location.Resolver
	Settings settings.Store
	TurnLog  turn.TurnLog
	Sessions SessionTracker
	Metrics  *observability.Metrics
	Detector *wakeword.Detector
	Logger   zerolog.Logger
}

func NewGateway(cfg Config, opts Options) *Gateway {
	if opts.Resolver == nil {
		opts.Resolver = location.UnknownResolver{}
	}
	return &Gateway{
		cfg:      cfg,
		agent:    opts.Agent,
		replay:   opts.Replay,
		resolver: opts.Resolver,
		settings: opts.Settings,
		turnLog:  opts.TurnLog,
		sessions: opts.Sessions,
		metrics:  opts.Metrics,
		detector: opts.Detector,
		logger:   opts.Logger,
		conns:    make(map[string]*conn),
	}
}

// RunConnection drives one device connection until inbound closes, ctx ends
// or the session is disconnected. A newer connection for the same session
// replaces the older one.
func (g *Gateway) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c := g.register(s.ID, cancel)
	defer g.unregister(s.ID, c)

	log := g.logger.With().Str("session_id", s.ID).Str("user_id", s.UserID).Logger()

	send := func(msg any) bool { return g.send(ctx, outbound, msg) }

	var (
		recorder *transcript.Recorder
		replay   = g.replay
	)
	if replay == nil {
		recorder = transcript.NewRecorder(g.cfg.RecorderRetention, g.cfg.RecorderMaxSegments)
		replay = recorder
	}
	hub := NewHub(s.ID, s.Capabilities.HasCamera, send, recorder)

	deps := turn.Deps{
		SessionID: s.ID,
		UserID:    s.UserID,
		Capabilities: turn.Capabilities{
			HasDisplay: s.Capabilities.HasDisplay,
			HasCamera:  s.Capabilities.HasCamera,
		},
		Source:   hub,
		Replay:   replay,
		Agent:    g.agent,
		Locator:  location.Tracker{Source: hub, Resolver: g.resolver},
		Audio:    hub,
		Settings: g.settings,
		TurnLog:  g.turnLog,
		Detector: g.detector,
		Logger:   g.logger,
		OnTransition: func(_, to turn.State) {
			if g.sessions != nil {
				_ = g.sessions.SetTurnState(s.ID, to.String())
			}
			g.trySend(outbound, protocol.TurnState{Type: protocol.TypeTurnState, SessionID: s.ID, State: to.String()})
		},
	}
	if s.Capabilities.HasDisplay {
		deps.Display = hub
	}
	var photos *photo.Coordinator
	if s.Capabilities.HasCamera {
		pcfg := g.cfg.Photo
		pcfg.Flights = &g.photoFlights
		photos = photo.NewCoordinator(s.ID, hub, pcfg)
		deps.Photos = photos
	}
	if g.metrics != nil {
		deps.Metrics = g.metrics
	}

	ctrl := turn.New(g.cfg.Turn, deps)
	defer func() {
		hub.Close()
		ctrl.Close()
		photos.Close()
		log.Info().Msg("glasses connection closed")
	}()

	send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: s.ID, Code: "session_ready"})
	log.Info().Bool("has_display", s.Capabilities.HasDisplay).Bool("has_camera", s.Capabilities.HasCamera).Msg("glasses connected")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			if g.sessions != nil {
				_ = g.sessions.Touch(s.ID)
			}
			switch m := msg.(type) {
			case protocol.Transcription:
				hub.HandleTranscription(m)
			case protocol.HeadPosition:
				ctrl.HandleHeadPosition(m.Position)
			case protocol.LocationUpdate:
				hub.HandleLocation(m)
			case protocol.PhotoResponse:
				hub.HandlePhotoResponse(m)
			case protocol.PlaybackDone:
				hub.HandlePlaybackDone(m)
			default:
				log.Debug().Type("message", msg).Msg("ignoring inbound message")
			}
		}
	}
}

// Disconnect ends the connection of sessionID, if any, and waits for its
// controller to shut down.
func (g *Gateway) Disconnect(sessionID string) {
	g.mu.Lock()
	c, ok := g.conns[sessionID]
	g.mu.Unlock()
	if !ok {
		return
	}
	c.cancel()
	<-c.done
}

// DisconnectAll ends every live connection and waits for their controllers.
func (g *Gateway) DisconnectAll() {
	g.mu.Lock()
	live := make([]*conn, 0, len(g.conns))
	for _, c := range g.conns {
		live = append(live, c)
	}
	g.mu.Unlock()
	for _, c := range live {
		c.cancel()
	}
	for _, c := range live {
		<-c.done
	}
}

// Connections reports how many sessions have a live controller.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

func (g *Gateway) register(sessionID string, cancel context.CancelFunc) *conn {
	c := &conn{cancel: cancel, done: make(chan struct{})}
	g.mu.Lock()
	prev := g.conns[sessionID]
	g.conns[sessionID] = c
	g.mu.Unlock()
	if prev != nil {
		prev.cancel()
		<-prev.done
	}
	return c
}

func (g *Gateway) unregister(sessionID string, c *conn) {
	g.mu.Lock()
	if g.conns[sessionID] == c {
		delete(g.conns, sessionID)
	}
	g.mu.Unlock()
	close(c.done)
}

// send waits briefly for queue space so display and playback requests are not
// lost to a momentary burst.
func (g *Gateway) send(ctx context.Context, outbound chan<- any, msg any) bool {
	timer := time.NewTimer(criticalSendTimeout)
	defer timer.Stop()
	select {
	case outbound <- msg:
		g.observeOutbound(msg, "delivered")
		return true
	case <-timer.C:
		g.observeOutbound(msg, "timeout")
		return false
	case <-ctx.Done():
		g.observeOutbound(msg, "canceled")
		return false
	}
}

// trySend never blocks; it is used from the controller goroutine.
func (g *Gateway) trySend(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
		g.observeOutbound(msg, "delivered")
	default:
		g.observeOutbound(msg, "dropped")
	}
}

func (g *Gateway) observeOutbound(msg any, result string) {
	if g.metrics == nil {
		return
	}
	t, _ := protocol.TypeOf(msg)
	g.metrics.ObserveOutboundMessage(string(t), result)
	if result != "delivered" {
		g.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
	}
}
