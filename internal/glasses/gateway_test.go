package glasses

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/seanguno/hackmit-camera-project/internal/agent"
	"github.com/seanguno/hackmit-camera-project/internal/photo"
	"github.com/seanguno/hackmit-camera-project/internal/protocol"
	"github.com/seanguno/hackmit-camera-project/internal/session"
	"github.com/seanguno/hackmit-camera-project/internal/turn"
)

type fakeSessions struct {
	mu     sync.Mutex
	states []string
}

func (f *fakeSessions) Touch(string) error { return nil }

func (f *fakeSessions) SetTurnState(_ string, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	return nil
}

func (f *fakeSessions) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.states...)
}

func testGatewayConfig() Config {
	return Config{
		Turn: turn.Config{
			SettleWakeOnly: 200 * time.Millisecond,
			SettleFinal:    30 * time.Millisecond,
			SettleInterim:  80 * time.Millisecond,
			MaxListening:   500 * time.Millisecond,
			Cooldown:       50 * time.Millisecond,
			LocationWait:   10 * time.Millisecond,
		},
		Photo: photo.Config{Wait: 500 * time.Millisecond},
	}
}

type device struct {
	inbound  chan any
	outbound chan any
	done     chan error
}

func connect(t *testing.T, g *Gateway, s *session.Session) *device {
	t.Helper()
	d := &device{
		inbound:  make(chan any, 64),
		outbound: make(chan any, 256),
		done:     make(chan error, 1),
	}
	go func() { d.done <- g.RunConnection(context.Background(), s, d.inbound, d.outbound) }()
	t.Cleanup(func() {
		g.Disconnect(s.ID)
	})
	return d
}

// awaitDisplay answers device requests until a display_text matching want
// arrives.
func (d *device) awaitDisplay(t *testing.T, want func(string) bool) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-d.outbound:
			switch m := msg.(type) {
			case protocol.DisplayText:
				if want(m.Text) {
					return m.Text
				}
			case protocol.PhotoRequest:
				d.inbound <- protocol.PhotoResponse{
					Type:        protocol.TypePhotoResponse,
					RequestID:   m.RequestID,
					PhotoBase64: base64.StdEncoding.EncodeToString([]byte("jpeg")),
				}
			case protocol.PlayAudio:
				d.inbound <- protocol.PlaybackDone{Type: protocol.TypePlaybackDone, RequestID: m.RequestID}
			case protocol.Speak:
				d.inbound <- protocol.PlaybackDone{Type: protocol.TypePlaybackDone, RequestID: m.RequestID}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for display_text")
			return ""
		}
	}
}

func TestGatewayRunsTurnOverConnection(t *testing.T) {
	sessions := &fakeSessions{}
	g := NewGateway(testGatewayConfig(), Options{
		Agent:    agent.NewMockBackend(),
		Sessions: sessions,
		Logger:   zerolog.Nop(),
	})
	s := &session.Session{ID: "s1", UserID: "u1", Capabilities: session.Capabilities{HasDisplay: true}}
	d := connect(t, g, s)

	d.inbound <- protocol.Transcription{Type: protocol.TypeTranscription, Text: "hey mira what is the capital of france", IsFinal: true}

	got := d.awaitDisplay(t, func(text string) bool { return strings.HasPrefix(text, "You asked") })
	if got != "You asked: what is the capital of france" {
		t.Fatalf("answer = %q", got)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if st := sessions.seen(); len(st) > 0 && st[len(st)-1] == "idle" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	want := []string{"listening", "processing", "cooldown", "idle"}
	if got := sessions.seen(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("turn states = %v, want %v", got, want)
	}
}

func TestGatewayPassesDevicePhoto(t *testing.T) {
	g := NewGateway(testGatewayConfig(), Options{Agent: agent.NewMockBackend(), Logger: zerolog.Nop()})
	s := &session.Session{ID: "s2", UserID: "u2", Capabilities: session.Capabilities{HasDisplay: true, HasCamera: true}}
	d := connect(t, g, s)

	d.inbound <- protocol.Transcription{Type: protocol.TypeTranscription, Text: "hey mira what am I looking at", IsFinal: true}

	got := d.awaitDisplay(t, func(text string) bool { return strings.HasPrefix(text, "You asked") })
	if !strings.HasSuffix(got, "(with a photo)") {
		t.Fatalf("answer = %q, want photo suffix", got)
	}
}

func TestGatewayDisconnectStopsConnection(t *testing.T) {
	g := NewGateway(testGatewayConfig(), Options{Agent: agent.NewMockBackend(), Logger: zerolog.Nop()})
	s := &session.Session{ID: "s3", UserID: "u3", Capabilities: session.Capabilities{HasDisplay: true}}
	d := connect(t, g, s)

	deadline := time.Now().Add(time.Second)
	for g.Connections() != 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if g.Connections() != 1 {
		t.Fatalf("Connections() = %d, want 1", g.Connections())
	}

	g.Disconnect(s.ID)
	select {
	case err := <-d.done:
		if err != nil {
			t.Fatalf("RunConnection() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("RunConnection() did not return after Disconnect")
	}
	if g.Connections() != 0 {
		t.Fatalf("Connections() = %d, want 0", g.Connections())
	}
}

func TestGatewayReturnsWhenInboundCloses(t *testing.T) {
	g := NewGateway(testGatewayConfig(), Options{Agent: agent.NewMockBackend(), Logger: zerolog.Nop()})
	s := &session.Session{ID: "s4", UserID: "u4"}
	d := connect(t, g, s)

	close(d.inbound)
	select {
	case <-d.done:
	case <-time.After(time.Second):
		t.Fatalf("RunConnection() did not return after inbound closed")
	}
}
