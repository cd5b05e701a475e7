package turn

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/seanguno/hackmit-camera-project/internal/agent"
)

// Fixed user-facing messages.
const (
	NoQueryMessage    = "No query provided"
	NoAnswerMessage   = "Sorry, I couldn't find an answer to that."
	ErrorMessage      = "Sorry, something went wrong. Please try again."
	ProcessingMessage = "Processing..."
	ListeningMessage  = "Listening..."
)

// Rendering is what to show and say for one agent answer.
type Rendering struct {
	Text     string
	Duration time.Duration
	// Speech overrides Text for audio output.
	Speech string
	// MustSpeak speaks even when speech output is otherwise off.
	MustSpeak bool
	// Silent means another component owns the display.
	Silent bool
}

// EventRenderer turns a tagged JSON answer into a Rendering.
type EventRenderer func(payload []byte) (Rendering, error)

var (
	renderersMu sync.RWMutex
	renderers   = map[string]EventRenderer{
		"display":  renderDisplayEvent,
		"speak":    renderSpeakEvent,
		"takeover": func([]byte) (Rendering, error) { return Rendering{Silent: true}, nil },
	}
)

// RegisterEvent adds or replaces the renderer for a JSON "type" tag.
func RegisterEvent(tag string, fn EventRenderer) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" || fn == nil {
		return
	}
	renderersMu.Lock()
	renderers[tag] = fn
	renderersMu.Unlock()
}

func lookupRenderer(tag string) (EventRenderer, bool) {
	renderersMu.RLock()
	defer renderersMu.RUnlock()
	fn, ok := renderers[strings.ToLower(strings.TrimSpace(tag))]
	return fn, ok
}

// Render applies the answer rules: takeover renders nothing, an empty answer
// gets NoAnswerMessage, a JSON object with a known "type" goes to its
// renderer, and anything else is plain text.
func Render(resp agent.Response) Rendering {
	if resp.Takeover {
		return Rendering{Silent: true}
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return Rendering{Text: NoAnswerMessage}
	}
	if strings.HasPrefix(text, "{") {
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(text), &envelope); err == nil && envelope.Type != "" {
			if fn, ok := lookupRenderer(envelope.Type); ok {
				if r, err := fn([]byte(text)); err == nil {
					return r
				}
			}
		}
	}
	return Rendering{Text: text}
}

var errEmptyEvent = errors.New("event has no text")

func renderDisplayEvent(payload []byte) (Rendering, error) {
	var ev struct {
		Text       string `json:"text"`
		DurationMS int64  `json:"duration_ms"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Rendering{}, err
	}
	if strings.TrimSpace(ev.Text) == "" {
		return Rendering{Text: NoAnswerMessage}, nil
	}
	return Rendering{Text: ev.Text, Duration: time.Duration(ev.DurationMS) * time.Millisecond}, nil
}

func renderSpeakEvent(payload []byte) (Rendering, error) {
	var ev struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Rendering{}, err
	}
	if strings.TrimSpace(ev.Text) == "" {
		return Rendering{}, errEmptyEvent
	}
	return Rendering{Text: ev.Text, MustSpeak: true}, nil
}
