// Command glasses-sim plays the part of a pair of glasses against a running
// server: it opens a session, streams scripted speech as transcription
// fragments, answers photo and playback requests and reports per-turn latency.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seanguno/hackmit-camera-project/internal/protocol"
	"github.com/seanguno/hackmit-camera-project/internal/turn"
)

// A 1x1 JPEG, enough for a backend to see that a photo was attached.
const samplePhotoBase64 = "/9j/4AAQSkZJRgABAQAAAQABAAD/2wBDAAgGBgcGBQgHBwcJCQgKDBQNDAsLDBkSEw8UHRofHh0aHBwgJC4nICIsIxwcKDcpLDAxNDQ0Hyc5PTgyPC4zNDL/wAALCAABAAEBAREA/8QAFAABAAAAAAAAAAAAAAAAAAAACf/EABQQAQAAAAAAAAAAAAAAAAAAAAD/2gAIAQEAAD8AKp//2Q=="

type options struct {
	baseURL     string
	userID      string
	turns       int
	texts       []string
	camera      bool
	wordDelay   time.Duration
	turnTimeout time.Duration
	verbose     bool
}

type createSessionRequest struct {
	UserID    string `json:"user_id,omitempty"`
	HasCamera bool   `json:"has_camera"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// wsEnvelope covers every field the simulator reads from server messages.
type wsEnvelope struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Text      string `json:"text,omitempty"`
	State     string `json:"state,omitempty"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type turnResult struct {
	Query   string
	Answer  string
	Latency time.Duration
}

var defaultUtterances = []string{
	"hey mira what is the capital of france",
	"hey mira what am I looking at",
	"hey mira how tall is the eiffel tower",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "glasses-sim: %v\n", err)
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.turns+1)*cfg.turnTimeout+30*time.Second)
	defer cancel()

	results, err := run(ctx, cfg, os.Stdout)
	for i, r := range results {
		fmt.Printf("turn %d: latency=%s query=%q answer=%q\n", i+1, r.Latency.Round(time.Millisecond), r.Query, r.Answer)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "glasses-sim: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("glasses-sim", flag.ContinueOnError)
	var cfg options
	var textsRaw string
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "server base URL")
	fs.StringVar(&cfg.userID, "user", "glasses-sim", "user_id for the session")
	fs.IntVar(&cfg.turns, "turns", 3, "number of turns to play")
	fs.StringVar(&textsRaw, "text", "", "utterances separated by '|' (each should start with the wake word)")
	fs.BoolVar(&cfg.camera, "camera", false, "advertise a camera and answer photo requests")
	fs.DurationVar(&cfg.wordDelay, "word-delay", 120*time.Millisecond, "delay between partial transcription updates")
	fs.DurationVar(&cfg.turnTimeout, "timeout", 30*time.Second, "timeout waiting for each answer")
	fs.BoolVar(&cfg.verbose, "verbose", false, "print every server message")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.turnTimeout < time.Second {
		cfg.turnTimeout = time.Second
	}
	if cfg.wordDelay < 0 {
		cfg.wordDelay = 0
	}

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("text produced no non-empty utterances")
		}
	}
	return cfg, nil
}

// device serializes websocket writes; gorilla allows a single writer.
type device struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	verbose bool
	log     io.Writer
}

func (d *device) send(v any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return d.conn.WriteJSON(v)
}

func run(ctx context.Context, cfg options, logOut io.Writer) ([]turnResult, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	d := &device{conn: conn, verbose: cfg.verbose, log: logOut}
	if cfg.verbose {
		fmt.Fprintf(logOut, "glasses-sim: session=%s turns=%d camera=%v\n", sessionID, cfg.turns, cfg.camera)
	}

	events := make(chan wsEnvelope, 64)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go d.readLoop(events, readErr, stop)

	var results []turnResult
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		start := time.Now()
		if err := d.speak(ctx, text, cfg.wordDelay); err != nil {
			return results, fmt.Errorf("turn %d send transcription: %w", i+1, err)
		}
		answer, answeredAt, err := awaitTurn(ctx, events, readErr, cfg.turnTimeout)
		if err != nil {
			return results, fmt.Errorf("turn %d: %w", i+1, err)
		}
		results = append(results, turnResult{Query: text, Answer: answer, Latency: answeredAt.Sub(start)})
	}
	return results, nil
}

// speak streams text as growing partials followed by one final fragment.
func (d *device) speak(ctx context.Context, text string, wordDelay time.Duration) error {
	for _, partial := range partials(text) {
		if err := d.send(protocol.Transcription{Type: protocol.TypeTranscription, Text: partial}); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wordDelay):
		}
	}
	return d.send(protocol.Transcription{Type: protocol.TypeTranscription, Text: text, IsFinal: true})
}

// partials returns the word prefixes of text, shortest first, excluding the
// full text itself.
func partials(text string) []string {
	words := strings.Fields(text)
	out := make([]string, 0, len(words))
	for i := 1; i < len(words); i++ {
		out = append(out, strings.Join(words[:i], " "))
	}
	return out
}

func (d *device) readLoop(events chan<- wsEnvelope, readErr chan<- error, stop <-chan struct{}) {
	for {
		_, data, err := d.conn.ReadMessage()
		if err != nil {
			readErr <- err
			close(events)
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if d.verbose {
			fmt.Fprintf(d.log, "glasses-sim: <- %s\n", strings.TrimSpace(string(data)))
		}

		switch protocol.MessageType(env.Type) {
		case protocol.TypePhotoRequest:
			_ = d.send(protocol.PhotoResponse{
				Type:        protocol.TypePhotoResponse,
				RequestID:   env.RequestID,
				PhotoBase64: samplePhotoBase64,
				MimeType:    "image/jpeg",
			})
		case protocol.TypePlayAudio, protocol.TypeSpeak:
			_ = d.send(protocol.PlaybackDone{Type: protocol.TypePlaybackDone, RequestID: env.RequestID})
		case protocol.TypeErrorEvent:
			fmt.Fprintf(d.log, "glasses-sim: error_event code=%s detail=%s\n", env.Code, env.Detail)
		}
		select {
		case events <- env:
		case <-stop:
			return
		}
	}
}

// awaitTurn follows one turn until the controller is idle again. The answer
// is the first display after the processing indicator, or the empty-query
// message. A turn that goes idle without an answer (takeover) gets a short
// grace period for a late display and then reports an empty answer.
func awaitTurn(ctx context.Context, events <-chan wsEnvelope, readErr <-chan error, timeout time.Duration) (string, time.Time, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var (
		processing bool
		answered   bool
		idle       bool
		answer     string
		answeredAt time.Time
		grace      <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return "", time.Time{}, ctx.Err()
		case <-timer.C:
			return "", time.Time{}, errors.New("timed out")
		case err := <-readErr:
			return "", time.Time{}, fmt.Errorf("ws read: %w", err)
		case <-grace:
			return "", time.Now(), nil
		case env, ok := <-events:
			if !ok {
				return "", time.Time{}, errors.New("connection closed")
			}
			switch protocol.MessageType(env.Type) {
			case protocol.TypeDisplayText:
				if answered {
					continue
				}
				switch {
				case env.Text == turn.ProcessingMessage:
					processing = true
				case env.Text == turn.NoQueryMessage, processing:
					answered, answer, answeredAt = true, env.Text, time.Now()
				}
			case protocol.TypeTurnState:
				if env.State == "idle" {
					idle = true
					if !answered && grace == nil {
						grace = time.After(500 * time.Millisecond)
					}
				}
			}
			if answered && idle {
				return answer, answeredAt, nil
			}
		}
	}
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(createSessionRequest{UserID: cfg.userID, HasCamera: cfg.camera})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/glasses/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/glasses/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/glasses/session/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
