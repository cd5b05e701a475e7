package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", Capabilities{HasDisplay: true, HasCamera: true})
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || !got.Capabilities.HasCamera || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}
	byUser, err := m.ByUser("u1")
	if err != nil || byUser.ID != s.ID {
		t.Fatalf("ByUser() = %+v, %v", byUser, err)
	}

	var hooked atomic.Int32
	m.OnExpire(func(*Session) { hooked.Add(1) })
	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("second End() error = %v", err)
	}
	if hooked.Load() != 1 {
		t.Fatalf("expire hook calls = %d, want 1", hooked.Load())
	}
	if _, err := m.ByUser("u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ByUser() after End error = %v, want ErrNotFound", err)
	}
}

func TestManagerTurnStateCountsTurns(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", Capabilities{HasDisplay: true})
	for _, st := range []string{"listening", "processing", "cooldown"} {
		if err := m.SetTurnState(s.ID, st); err != nil {
			t.Fatalf("SetTurnState(%q) error = %v", st, err)
		}
	}
	mid, _ := m.Get(s.ID)
	if mid.ActiveTurnID == "" || mid.TurnState != "cooldown" {
		t.Fatalf("mid-turn session = %+v", mid)
	}
	if err := m.SetTurnState(s.ID, "idle"); err != nil {
		t.Fatalf("SetTurnState(idle) error = %v", err)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ActiveTurnID != "" {
		t.Fatalf("ActiveTurnID = %q, want empty", got.ActiveTurnID)
	}
	if got.TurnCount != 1 {
		t.Fatalf("TurnCount = %d, want 1", got.TurnCount)
	}
	if err := m.SetTurnState("missing", "idle"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetTurnState(missing) error = %v, want ErrNotFound", err)
	}
}

func TestManagerJanitorExpiresThenEvicts(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create("u1", Capabilities{HasDisplay: true})
	expired := make(chan string, 1)
	m.OnExpire(func(s *Session) { expired <- s.ID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-expired:
		if id != s.ID {
			t.Fatalf("expired id = %q, want %q", id, s.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("session was not expired")
	}

	deadline := time.Now().Add(time.Second)
	for m.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after eviction", m.Len())
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestCreateRequestCapabilitiesDefaults(t *testing.T) {
	no := false
	yes := true
	tests := []struct {
		req  CreateRequest
		want Capabilities
	}{
		{req: CreateRequest{}, want: Capabilities{HasDisplay: true}},
		{req: CreateRequest{HasDisplay: &no, HasCamera: &yes}, want: Capabilities{HasCamera: true}},
	}
	for _, tt := range tests {
		if got := tt.req.Capabilities(); got != tt.want {
			t.Fatalf("Capabilities() = %+v, want %+v", got, tt.want)
		}
	}
}
