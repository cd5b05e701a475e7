// Package turn runs the wake-word gated conversation loop for one glasses
// session: listen after the wake word, settle, dispatch a single query, render
// the answer and cool down.
package turn

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/seanguno/hackmit-camera-project/internal/agent"
	"github.com/seanguno/hackmit-camera-project/internal/location"
	"github.com/seanguno/hackmit-camera-project/internal/photo"
	"github.com/seanguno/hackmit-camera-project/internal/settings"
	"github.com/seanguno/hackmit-camera-project/internal/transcript"
	"github.com/seanguno/hackmit-camera-project/internal/turnlog"
	"github.com/seanguno/hackmit-camera-project/internal/wakeword"
)

const turnLogSaveTimeout = 2 * time.Second

// TranscriptSource delivers live transcription. The returned func stops
// delivery and must be safe to call more than once.
type TranscriptSource interface {
	Subscribe(fn func(transcript.Event)) (unsubscribe func())
}

type Display interface {
	ShowText(ctx context.Context, text string, d time.Duration) error
}

type Audio interface {
	PlayClip(ctx context.Context, url string) error
	Speak(ctx context.Context, text string) error
}

type Locator interface {
	Locate(ctx context.Context) location.Location
}

// PhotoSource is satisfied by *photo.Coordinator.
type PhotoSource interface {
	Request()
	Await(ctx context.Context) *photo.Photo
}

type TurnLog interface {
	SaveTurn(ctx context.Context, record turnlog.TurnRecord) error
}

// Metrics receives controller measurements.
type Metrics interface {
	Transition(from, to string)
	QueryOutcome(outcome string, latency time.Duration)
	Stage(stage string, d time.Duration)
	Subscriptions(delta int)
}

type nopMetrics struct{}

func (nopMetrics) Transition(string, string) {}
func (nopMetrics) QueryOutcome(string, time.Duration) {}
func (nopMetrics) Stage(string, time.Duration) {}
func (nopMetrics) Subscriptions(int) {}

type Capabilities struct {
	HasDisplay bool
	HasCamera  bool
}

// Deps are the collaborators of one controller. Source, Replay, Agent and
// Display are required; the rest may be nil.
type Deps struct {
	SessionID    string
	UserID       string
	Capabilities Capabilities

	Source   TranscriptSource
	Replay   transcript.Replay
	Agent    agent.Backend
	Photos   PhotoSource
	Locator  Locator
	Display  Display
	Audio    Audio
	Settings settings.Store
	TurnLog  TurnLog
	Metrics  Metrics
	Detector *wakeword.Detector
	Logger   zerolog.Logger

	// OnTransition runs on the controller goroutine and must not block.
	OnTransition func(from, to State)
}

type timerKind int

const (
	timerSettle timerKind = iota
	timerMaxListening
	timerCooldown
	timerHeadWindow
	numTimers
)

var timerNames = [numTimers]string{"settle", "max_listening", "cooldown", "head_window"}

type eventKind int

const (
	evTranscript eventKind = iota
	evHead
	evTimer
	evQueryDone
)

type event struct {
	kind eventKind

	transcript transcript.Event
	subGen     uint64

	head string

	timer timerKind
	gen   uint64

	result queryResult
}

type queryResult struct {
	turnID  uint64
	outcome string
}

// activeTurn is the data one listening turn hands to its dispatch worker.
type activeTurn struct {
	id       uint64
	start    time.Time
	window   time.Duration
	liveText string
	loc      chan location.Location
}

type displayItem struct {
	text string
	dur  time.Duration
}

// Controller owns one session's turn state. All state below the mutable
// marker is touched only by the run goroutine.
type Controller struct {
	cfg      Config
	deps     Deps
	log      zerolog.Logger
	metrics  Metrics
	detector *wakeword.Detector

	ctx       context.Context
	cancel    context.CancelFunc
	events    chan event
	displayQ  chan displayItem
	done      chan struct{}
	workers   sync.WaitGroup
	closeOnce sync.Once
	current   atomic.Int32

	// mutable
	state          State
	live           *transcript.LiveBuffer
	listenStart    time.Time
	turnSeq        uint64
	turn           *activeTurn
	timers         [numTimers]*time.Timer
	timerDur       [numTimers]time.Duration
	gens           [numTimers]uint64
	set            settings.Settings
	settingsCh     <-chan settings.Settings
	settingsCancel func()
	headPos        string
	headUntil      time.Time
	unsubscribe    func()
	subGen         uint64
}

// New builds a controller and starts its goroutines. Call Close to release it.
func New(cfg Config, deps Deps) *Controller {
	cfg = cfg.withDefaults()
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Detector == nil {
		deps.Detector = wakeword.Default
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Logger.With().Str("session_id", deps.SessionID).Str("user_id", deps.UserID).Logger(),
		metrics:  deps.Metrics,
		detector: deps.Detector,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan event, 64),
		displayQ: make(chan displayItem, 32),
		done:     make(chan struct{}),
		live:     transcript.NewLiveBuffer(cfg.DisplayColumns, cfg.DisplayLines, cfg.DisplayFinalHistory),
	}
	if deps.Settings != nil {
		c.set = deps.Settings.Get(deps.UserID)
		c.settingsCh, c.settingsCancel = deps.Settings.Subscribe(deps.UserID)
	}
	c.reevaluateSubscription()

	c.goWork(c.runDisplay)
	go c.run()
	return c
}

// State reports the current state. Safe from any goroutine.
func (c *Controller) State() State { return State(c.current.Load()) }

// HandleHeadPosition records an "up" or "down" report from the device.
func (c *Controller) HandleHeadPosition(position string) {
	c.post(event{kind: evHead, head: strings.ToLower(strings.TrimSpace(position))})
}

// Close stops timers, cancels in-flight work, drops the transcription
// subscription and waits for every goroutine to exit. Safe to call twice.
func (c *Controller) Close() {
	c.closeOnce.Do(c.cancel)
	<-c.done
	c.workers.Wait()
}

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func (c *Controller) goWork(fn func(ctx context.Context)) {
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		fn(c.ctx)
	}()
}

func (c *Controller) run() {
	defer close(c.done)
	defer c.shutdown()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.events:
			c.handle(ev)
		case s, ok := <-c.settingsCh:
			if !ok {
				c.settingsCh = nil
				continue
			}
			c.set = s
			c.log.Debug().Bool("speak_response", s.SpeakResponse).Bool("wake_requires_head_up", s.WakeRequiresHeadUp).Msg("settings changed")
			c.reevaluateSubscription()
		}
	}
}

func (c *Controller) shutdown() {
	for k := timerKind(0); k < numTimers; k++ {
		c.stopTimer(k)
	}
	c.dropSubscription()
	if c.settingsCancel != nil {
		c.settingsCancel()
	}
}

func (c *Controller) handle(ev event) {
	switch ev.kind {
	case evTranscript:
		if c.unsubscribe == nil || ev.subGen != c.subGen {
			return
		}
		c.onTranscript(ev.transcript)
	case evHead:
		c.onHead(ev.head)
	case evTimer:
		if ev.gen != c.gens[ev.timer] {
			return
		}
		c.timers[ev.timer] = nil
		c.onTimer(ev.timer)
	case evQueryDone:
		c.onQueryDone(ev.result)
	}
}

func (c *Controller) onTranscript(e transcript.Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	switch c.state {
	case Idle:
		if !c.detector.ContainsWakeWord(e.Text) {
			return
		}
		if c.set.WakeRequiresHeadUp && !c.headWindowOpen() {
			c.log.Debug().Msg("wake word outside head-up window")
			return
		}
		c.startListening(e)
		c.absorb(e)
	case Listening:
		c.absorb(e)
	}
}

func (c *Controller) startListening(e transcript.Event) {
	c.transition(Listening)
	c.turnSeq++
	if c.listenStart.IsZero() {
		c.listenStart = e.At
	}
	t := &activeTurn{id: c.turnSeq, start: c.listenStart, loc: make(chan location.Location, 1)}
	c.turn = t
	c.arm(timerMaxListening, c.cfg.MaxListening)

	if c.deps.Locator == nil {
		t.loc <- location.Unknown()
	} else {
		locator := c.deps.Locator
		c.goWork(func(ctx context.Context) {
			t.loc <- locator.Locate(ctx)
		})
	}
	if c.deps.Capabilities.HasCamera && c.deps.Photos != nil {
		c.deps.Photos.Request()
	}
	if c.speechEnabled() && c.cfg.ListeningCueURL != "" && c.deps.Audio != nil {
		audio, url := c.deps.Audio, c.cfg.ListeningCueURL
		c.goWork(func(ctx context.Context) {
			if err := audio.PlayClip(ctx, url); err != nil && ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("listening cue failed")
			}
		})
	}
}

// absorb updates the live display and restarts the settle timer.
func (c *Controller) absorb(e transcript.Event) {
	rendered := c.live.Update(c.detector.StripWakeWordPrefix(e.Text), e.IsFinal)
	if strings.TrimSpace(rendered) == "" {
		rendered = ListeningMessage
	}
	c.show(rendered, c.cfg.DisplayDuration)

	settle := c.cfg.SettleInterim
	if e.IsFinal {
		settle = c.cfg.SettleFinal
		if c.detector.EndsWithWakeWord(e.Text) {
			settle = c.cfg.SettleWakeOnly
		}
	}
	c.arm(timerSettle, settle)
}

func (c *Controller) onTimer(k timerKind) {
	switch k {
	case timerSettle, timerMaxListening:
		if c.state == Listening {
			c.log.Debug().Str("timer", timerNames[k]).Msg("dispatching query")
			c.dispatch(c.timerDur[k])
		}
	case timerCooldown:
		if c.state == Cooldown {
			c.transition(Idle)
			c.reevaluateSubscription()
		}
	case timerHeadWindow:
		c.headUntil = time.Time{}
		c.reevaluateSubscription()
	}
}

// dispatch leaves Listening. Only one dispatch can happen per turn because
// the state changes before any work starts.
func (c *Controller) dispatch(fallback time.Duration) {
	c.stopTimer(timerSettle)
	c.stopTimer(timerMaxListening)

	t := c.turn
	t.window = fallback
	if !c.listenStart.IsZero() {
		t.window = time.Since(c.listenStart)
	}
	t.liveText = c.live.Text()
	c.transition(Processing)

	speak := c.speechEnabled()
	c.goWork(func(ctx context.Context) {
		outcome := c.runQuery(ctx, t, speak)
		c.post(event{kind: evQueryDone, result: queryResult{turnID: t.id, outcome: outcome}})
	})
}

func (c *Controller) onQueryDone(res queryResult) {
	if c.state != Processing || c.turn == nil || c.turn.id != res.turnID {
		return
	}
	c.turn = nil
	c.live.Reset()
	c.listenStart = time.Time{}
	if res.outcome == turnlog.OutcomeEmpty {
		c.transition(Idle)
	} else {
		c.transition(Cooldown)
		c.arm(timerCooldown, c.cfg.Cooldown)
	}
	c.reevaluateSubscription()
}

func (c *Controller) onHead(pos string) {
	if pos != "up" && pos != "down" {
		return
	}
	prev := c.headPos
	c.headPos = pos
	if prev == "down" && pos == "up" {
		c.headUntil = time.Now().Add(c.cfg.HeadUpWindow)
		c.arm(timerHeadWindow, c.cfg.HeadUpWindow)
	}
	c.reevaluateSubscription()
}

func (c *Controller) headWindowOpen() bool {
	return !c.headUntil.IsZero() && time.Now().Before(c.headUntil)
}

// reevaluateSubscription holds exactly one subscription while transcription
// is needed and none otherwise.
func (c *Controller) reevaluateSubscription() {
	want := !c.set.WakeRequiresHeadUp || c.headWindowOpen() || c.state == Listening || c.state == Processing
	switch {
	case want && c.unsubscribe == nil:
		c.subscribe()
	case !want && c.unsubscribe != nil:
		c.dropSubscription()
	}
}

func (c *Controller) subscribe() {
	if c.deps.Source == nil {
		return
	}
	c.subGen++
	gen := c.subGen
	c.unsubscribe = c.deps.Source.Subscribe(func(e transcript.Event) {
		c.post(event{kind: evTranscript, transcript: e, subGen: gen})
	})
	c.metrics.Subscriptions(1)
	c.log.Debug().Msg("transcription subscribed")
}

func (c *Controller) dropSubscription() {
	if c.unsubscribe == nil {
		return
	}
	c.unsubscribe()
	c.unsubscribe = nil
	c.metrics.Subscriptions(-1)
	c.log.Debug().Msg("transcription unsubscribed")
}

// arm replaces the timer of kind k. The generation tag makes a timer that
// already fired but was not yet handled a no-op.
func (c *Controller) arm(k timerKind, d time.Duration) {
	c.stopTimer(k)
	gen := c.gens[k]
	c.timerDur[k] = d
	c.timers[k] = time.AfterFunc(d, func() {
		c.post(event{kind: evTimer, timer: k, gen: gen})
	})
}

func (c *Controller) stopTimer(k timerKind) {
	c.gens[k]++
	if c.timers[k] != nil {
		c.timers[k].Stop()
		c.timers[k] = nil
	}
}

func (c *Controller) transition(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.current.Store(int32(to))
	c.metrics.Transition(from.String(), to.String())
	c.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("turn transition")
	if c.deps.OnTransition != nil {
		c.deps.OnTransition(from, to)
	}
}

func (c *Controller) speechEnabled() bool {
	return c.set.SpeakResponse || !c.deps.Capabilities.HasDisplay
}

func (c *Controller) show(text string, d time.Duration) {
	select {
	case c.displayQ <- displayItem{text: text, dur: d}:
	case <-c.ctx.Done():
	}
}

// runDisplay serializes display writes so live updates, the processing
// indicator and the answer arrive in order.
func (c *Controller) runDisplay(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-c.displayQ:
			if c.deps.Display == nil {
				continue
			}
			if err := c.deps.Display.ShowText(ctx, item.text, item.dur); err != nil && ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("show text failed")
			}
		}
	}
}

// runQuery is the dispatch worker. It never returns an error: every failure
// becomes a user-facing message and an outcome.
func (c *Controller) runQuery(ctx context.Context, t *activeTurn, speak bool) string {
	started := time.Now()
	record := turnlog.TurnRecord{
		SessionID:  c.deps.SessionID,
		UserID:     c.deps.UserID,
		ListenedMS: t.window.Milliseconds(),
	}

	tr, pic, loc, err := c.gather(ctx, t)
	if err != nil {
		if ctx.Err() != nil {
			return turnlog.OutcomeError
		}
		c.log.Warn().Err(err).Msg("gather query context")
		return c.finish(ctx, record, Rendering{Text: ErrorMessage}, turnlog.OutcomeError, speak, t.start, started)
	}

	text := tr.Text()
	if len(tr.Segments) == 0 {
		text = t.liveText
	}
	query := c.detector.StripWakeWordPrefix(text)
	record.Query = query
	record.HadPhoto = pic != nil
	if !loc.IsUnknown() {
		record.Location = strings.Join([]string{loc.City, loc.State, loc.Country}, ", ")
	}
	if query == "" {
		return c.finish(ctx, record, Rendering{Text: NoQueryMessage}, turnlog.OutcomeEmpty, speak, t.start, started)
	}

	c.show(ProcessingMessage, c.cfg.AgentTimeout)
	var cue *Repeater
	if speak && c.cfg.ProcessingCueURL != "" && c.deps.Audio != nil {
		audio, url := c.deps.Audio, c.cfg.ProcessingCueURL
		cue = StartRepeater(ctx, c.cfg.ProcessingCueInterval, func(ctx context.Context) {
			if err := audio.PlayClip(ctx, url); err != nil && ctx.Err() == nil {
				c.log.Debug().Err(err).Msg("processing cue failed")
			}
		})
	}

	agentStart := time.Now()
	actx, cancel := context.WithTimeout(ctx, c.cfg.AgentTimeout)
	resp, err := c.deps.Agent.Handle(actx, agent.Query{
		SessionID: c.deps.SessionID,
		UserID:    c.deps.UserID,
		Text:      query,
		Photo:     pic,
		Location:  loc,
	})
	cancel()
	cue.Stop()
	c.metrics.Stage("agent_call", time.Since(agentStart))

	if err != nil {
		if ctx.Err() != nil {
			return turnlog.OutcomeError
		}
		c.log.Warn().Err(err).Msg("agent call failed")
		return c.finish(ctx, record, Rendering{Text: ErrorMessage}, turnlog.OutcomeError, speak, t.start, started)
	}

	r := Render(resp)
	outcome := turnlog.OutcomeAnswered
	switch {
	case r.Silent:
		outcome = turnlog.OutcomeTakeover
	case r.Text == NoAnswerMessage:
		outcome = turnlog.OutcomeNoAnswer
	}
	return c.finish(ctx, record, r, outcome, speak, t.start, started)
}

// gather fetches the replayed transcript while waiting for the photo and the
// location lookup started when listening began.
func (c *Controller) gather(ctx context.Context, t *activeTurn) (transcript.Transcript, *photo.Photo, location.Location, error) {
	var (
		tr  transcript.Transcript
		pic *photo.Photo
		loc = location.Unknown()
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		fctx, cancel := context.WithTimeout(gctx, c.cfg.ReplayTimeout)
		defer cancel()
		var err error
		tr, err = c.deps.Replay.Fetch(fctx, c.deps.SessionID, t.window)
		c.metrics.Stage("replay_fetch", time.Since(start))
		if err != nil {
			return fmt.Errorf("replay fetch: %w", err)
		}
		return nil
	})
	if c.deps.Capabilities.HasCamera && c.deps.Photos != nil {
		g.Go(func() error {
			start := time.Now()
			pic = c.deps.Photos.Await(gctx)
			c.metrics.Stage("photo_wait", time.Since(start))
			return nil
		})
	}
	g.Go(func() error {
		wait := time.NewTimer(c.cfg.LocationWait)
		defer wait.Stop()
		select {
		case l := <-t.loc:
			loc = l
		case <-wait.C:
		case <-gctx.Done():
		}
		return nil
	})
	err := g.Wait()
	return tr, pic, loc, err
}

func (c *Controller) finish(ctx context.Context, record turnlog.TurnRecord, r Rendering, outcome string, speak bool, turnStart, started time.Time) string {
	c.deliver(ctx, r, speak)

	record.Outcome = outcome
	record.Response = r.Text
	c.saveTurnBestEffort(record)

	c.metrics.QueryOutcome(outcome, time.Since(started))
	c.metrics.Stage("turn_total", time.Since(turnStart))
	c.log.Info().Str("outcome", outcome).Dur("latency", time.Since(started)).Msg("turn finished")
	return outcome
}

func (c *Controller) deliver(ctx context.Context, r Rendering, speak bool) {
	if r.Silent {
		return
	}
	d := r.Duration
	if d <= 0 {
		d = c.cfg.DisplayDuration
	}
	c.show(r.Text, d)

	if !(speak || r.MustSpeak) || c.deps.Audio == nil {
		return
	}
	spoken := r.Speech
	if spoken == "" {
		spoken = r.Text
	}
	spoken = speechText(spoken)
	if spoken == "" {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, c.cfg.PlaybackTimeout)
	defer cancel()
	if err := c.deps.Audio.Speak(sctx, spoken); err != nil && ctx.Err() == nil {
		c.log.Warn().Err(err).Msg("speak failed")
	}
}

func (c *Controller) saveTurnBestEffort(record turnlog.TurnRecord) {
	if c.deps.TurnLog == nil {
		return
	}
	go func(r turnlog.TurnRecord) {
		saveCtx, cancel := context.WithTimeout(context.Background(), turnLogSaveTimeout)
		defer cancel()
		if err := c.deps.TurnLog.SaveTurn(saveCtx, r); err != nil {
			c.log.Warn().Err(err).Msg("save turn failed")
		}
	}(record)
}
