package settings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestMemoryStoreDefaultsAndPut(t *testing.T) {
	s := NewMemoryStore(Settings{SpeakResponse: true})
	if got := s.Get("u1"); got != (Settings{SpeakResponse: true}) {
		t.Fatalf("Get() = %+v, want defaults", got)
	}
	want := Settings{WakeRequiresHeadUp: true}
	if err := s.Put("u1", want); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if got := s.Get("u1"); got != want {
		t.Fatalf("Get() = %+v, want %+v", got, want)
	}
	if err := s.Put(" ", want); err == nil {
		t.Fatalf("Put() expected error for blank user")
	}
}

func TestSubscribeReceivesChangesOnly(t *testing.T) {
	s := NewMemoryStore(Settings{})
	ch, cancel := s.Subscribe("u1")
	defer cancel()

	if err := s.Put("u1", Settings{}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	select {
	case v := <-ch:
		t.Fatalf("unexpected notification %+v for unchanged settings", v)
	default:
	}

	want := Settings{WakeRequiresHeadUp: true}
	if err := s.Put("u1", want); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	select {
	case v := <-ch:
		if v != want {
			t.Fatalf("notification = %+v, want %+v", v, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("no notification")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	s := NewMemoryStore(Settings{})
	ch, cancel := s.Subscribe("u1")
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after cancel")
	}
	if err := s.Put("u1", Settings{SpeakResponse: true}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if len(s.subs) != 0 {
		t.Fatalf("subs = %d, want 0", len(s.subs))
	}
}

func TestFileStorePersistsAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := NewFileStore(path, Settings{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	want := Settings{SpeakResponse: true}
	if err := s.Put("u1", want); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	reopened, err := NewFileStore(path, Settings{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileStore() reopen error = %v", err)
	}
	if got := reopened.Get("u1"); got != want {
		t.Fatalf("Get() after reopen = %+v, want %+v", got, want)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dir entries = %d, want 1 (temp files left behind)", len(entries))
	}
}

func TestConcurrentPutsSurviveReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := NewFileStore(path, Settings{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	const users = 16
	var wg sync.WaitGroup
	for i := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Put(fmt.Sprintf("u%d", i), Settings{WakeRequiresHeadUp: true}); err != nil {
				t.Errorf("Put(u%d) error = %v", i, err)
			}
		}()
	}
	wg.Wait()

	if err := s.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	for i := range users {
		if got := s.Get(fmt.Sprintf("u%d", i)); !got.WakeRequiresHeadUp {
			t.Fatalf("Get(u%d) = %+v after reload, want head-up required", i, got)
		}
	}
}

func TestReloadNotifiesChangedUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := NewFileStore(path, Settings{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	changedCh, cancelA := s.Subscribe("a")
	defer cancelA()
	sameCh, cancelB := s.Subscribe("b")
	defer cancelB()

	raw := `{"defaults":{},"users":{"a":{"wake_requires_head_up":true}}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	select {
	case v := <-changedCh:
		if !v.WakeRequiresHeadUp {
			t.Fatalf("notification = %+v, want head-up required", v)
		}
	default:
		t.Fatalf("changed user not notified")
	}
	select {
	case v := <-sameCh:
		t.Fatalf("unchanged user notified with %+v", v)
	default:
	}
}

func TestWatchReloadsExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := NewFileStore(path, Settings{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	ch, cancel := s.Subscribe("u1")
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() { _ = s.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	raw := `{"defaults":{"speak_response":true},"users":{}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case v := <-ch:
		if !v.SpeakResponse {
			t.Fatalf("notification = %+v, want speak_response", v)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("watch did not reload")
	}
}
