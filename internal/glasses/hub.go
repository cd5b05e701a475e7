// Package glasses bridges one glasses WebSocket connection to the turn
// controller: it is the controller's transcription source, display, audio
// player, camera and position feed.
package glasses

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seanguno/hackmit-camera-project/internal/location"
	"github.com/seanguno/hackmit-camera-project/internal/photo"
	"github.com/seanguno/hackmit-camera-project/internal/protocol"
	"github.com/seanguno/hackmit-camera-project/internal/transcript"
)

var (
	ErrClosed      = errors.New("glasses connection closed")
	ErrSendDropped = errors.New("outbound queue full")
)

// SendFunc queues one server message. It reports false when the message was
// dropped.
type SendFunc func(msg any) bool

// Hub is the per-connection device bridge. All methods are safe for
// concurrent use.
type Hub struct {
	sessionID string
	hasCamera bool
	send      SendFunc
	recorder  *transcript.Recorder
	now       func() time.Time

	mu        sync.Mutex
	subs      map[uint64]func(transcript.Event)
	nextSub   uint64
	playbacks map[string]chan error
	photos    map[string]chan protocol.PhotoResponse
	coords    location.Coordinates
	hasCoords bool

	closed    chan struct{}
	closeOnce sync.Once
}

// NewHub builds a hub. recorder may be nil when transcripts are replayed
// from an external service.
func NewHub(sessionID string, hasCamera bool, send SendFunc, recorder *transcript.Recorder) *Hub {
	return &Hub{
		sessionID: sessionID,
		hasCamera: hasCamera,
		send:      send,
		recorder:  recorder,
		now:       time.Now,
		subs:      make(map[uint64]func(transcript.Event)),
		playbacks: make(map[string]chan error),
		photos:    make(map[string]chan protocol.PhotoResponse),
		closed:    make(chan struct{}),
	}
}

// Subscribe registers fn for live transcription. The returned func may be
// called any number of times.
func (h *Hub) Subscribe(fn func(transcript.Event)) func() {
	h.mu.Lock()
	h.nextSub++
	id := h.nextSub
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Subscribers reports how many transcription subscriptions are live.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// HandleTranscription records the fragment and fans it out. Fragments are
// stamped with the server clock; replay windows are computed on it too.
// Callbacks run outside the lock because they may block on the controller
// loop, which in turn may unsubscribe.
func (h *Hub) HandleTranscription(msg protocol.Transcription) {
	evt := transcript.Event{Text: msg.Text, IsFinal: msg.IsFinal, At: h.now()}
	if h.recorder != nil {
		h.recorder.Append(evt)
	}

	h.mu.Lock()
	fns := make([]func(transcript.Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(evt)
	}
}

func (h *Hub) HandleLocation(msg protocol.LocationUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.coords = location.Coordinates{Lat: msg.Lat, Lng: msg.Lng}
	h.hasCoords = true
}

// Coordinates returns the last reported position.
func (h *Hub) Coordinates() (location.Coordinates, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.coords, h.hasCoords
}

func (h *Hub) ShowText(_ context.Context, text string, d time.Duration) error {
	return h.emit(protocol.DisplayText{
		Type:       protocol.TypeDisplayText,
		SessionID:  h.sessionID,
		Text:       text,
		DurationMS: d.Milliseconds(),
	})
}

// PlayClip asks the device to play url and waits for playback_done.
func (h *Hub) PlayClip(ctx context.Context, url string) error {
	return h.playback(ctx, func(id string) any {
		return protocol.PlayAudio{Type: protocol.TypePlayAudio, SessionID: h.sessionID, RequestID: id, URL: url}
	})
}

// Speak asks the device to read text aloud and waits for playback_done.
func (h *Hub) Speak(ctx context.Context, text string) error {
	return h.playback(ctx, func(id string) any {
		return protocol.Speak{Type: protocol.TypeSpeak, SessionID: h.sessionID, RequestID: id, Text: text}
	})
}

func (h *Hub) playback(ctx context.Context, build func(id string) any) error {
	id := uuid.NewString()
	ch := make(chan error, 1)
	h.mu.Lock()
	h.playbacks[id] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.playbacks, id)
		h.mu.Unlock()
	}()

	if err := h.emit(build(id)); err != nil {
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-h.closed:
		return ErrClosed
	}
}

func (h *Hub) HandlePlaybackDone(msg protocol.PlaybackDone) {
	h.mu.Lock()
	ch, ok := h.playbacks[msg.RequestID]
	h.mu.Unlock()
	if !ok {
		return
	}
	var err error
	if msg.Error != "" {
		err = fmt.Errorf("device playback: %s", msg.Error)
	}
	select {
	case ch <- err:
	default:
	}
}

// RequestPhoto implements photo.Provider over the device connection.
func (h *Hub) RequestPhoto(ctx context.Context, opts photo.Options) (*photo.Photo, error) {
	if !h.hasCamera {
		return nil, photo.ErrNoCamera
	}
	id := uuid.NewString()
	ch := make(chan protocol.PhotoResponse, 1)
	h.mu.Lock()
	h.photos[id] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.photos, id)
		h.mu.Unlock()
	}()

	if err := h.emit(protocol.PhotoRequest{Type: protocol.TypePhotoRequest, SessionID: h.sessionID, RequestID: id, Size: opts.Size}); err != nil {
		return nil, err
	}
	select {
	case resp := <-ch:
		return h.decodePhoto(resp)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.closed:
		return nil, ErrClosed
	}
}

func (h *Hub) decodePhoto(resp protocol.PhotoResponse) (*photo.Photo, error) {
	if resp.Error != "" {
		return nil, fmt.Errorf("device camera: %s", resp.Error)
	}
	raw := resp.PhotoBase64
	if i := strings.Index(raw, ";base64,"); i >= 0 && strings.HasPrefix(raw, "data:") {
		raw = raw[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode photo: %w", err)
	}
	mime := resp.MimeType
	if mime == "" {
		mime = "image/jpeg"
	}
	return &photo.Photo{RequestID: resp.RequestID, Data: data, MimeType: mime, TakenAt: h.now()}, nil
}

func (h *Hub) HandlePhotoResponse(msg protocol.PhotoResponse) {
	h.mu.Lock()
	ch, ok := h.photos[msg.RequestID]
	h.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

func (h *Hub) emit(msg any) error {
	select {
	case <-h.closed:
		return ErrClosed
	default:
	}
	if !h.send(msg) {
		return ErrSendDropped
	}
	return nil
}

// Close fails pending device requests and drops all subscriptions.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.closed)
		h.mu.Lock()
		clear(h.subs)
		h.mu.Unlock()
	})
}
