package photo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/singleflight"
)

type fakeProvider struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (f *fakeProvider) RequestPhoto(ctx context.Context, _ Options) (*Photo, error) {
	n := f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Photo{RequestID: string(rune('a' + n - 1)), Data: []byte{1, 2, 3}, MimeType: "image/jpeg"}, nil
}

func TestCoordinatorReusesPendingRequest(t *testing.T) {
	p := &fakeProvider{release: make(chan struct{})}
	c := NewCoordinator("s1", p, Config{Wait: time.Second})
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Request()
		}()
	}
	wg.Wait()
	close(p.release)

	got := c.Await(context.Background())
	if got == nil {
		t.Fatalf("Await() = nil, want photo")
	}
	if p.calls.Load() != 1 {
		t.Fatalf("provider calls = %d, want 1", p.calls.Load())
	}
}

func TestCoordinatorsSharingFlightsJoinOneCapture(t *testing.T) {
	p := &fakeProvider{release: make(chan struct{})}
	flights := new(singleflight.Group)
	old := NewCoordinator("s1", p, Config{Wait: time.Second, Flights: flights})
	defer old.Close()
	replacement := NewCoordinator("s1", p, Config{Wait: time.Second, Flights: flights})
	defer replacement.Close()
	other := NewCoordinator("s2", p, Config{Wait: time.Second, Flights: flights})
	defer other.Close()

	old.Request()
	replacement.Request()
	other.Request()
	close(p.release)

	a, b := old.Await(context.Background()), replacement.Await(context.Background())
	if a == nil || b == nil {
		t.Fatalf("Await() = %v, %v, want photos", a, b)
	}
	if a.RequestID != b.RequestID {
		t.Fatalf("request ids = %q, %q, want one shared capture", a.RequestID, b.RequestID)
	}
	if other.Await(context.Background()) == nil {
		t.Fatalf("other session Await() = nil")
	}
	if p.calls.Load() != 2 {
		t.Fatalf("provider calls = %d, want 2 (one per session id)", p.calls.Load())
	}
}

func TestCoordinatorAwaitIsBounded(t *testing.T) {
	p := &fakeProvider{release: make(chan struct{})}
	defer close(p.release)
	c := NewCoordinator("s1", p, Config{Wait: 30 * time.Millisecond})
	defer c.Close()

	c.Request()
	start := time.Now()
	if got := c.Await(context.Background()); got != nil {
		t.Fatalf("Await() = %+v, want nil for slow camera", got)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Await() took %s, want bounded wait", elapsed)
	}
}

func TestCoordinatorRefetchesStalePhoto(t *testing.T) {
	p := &fakeProvider{}
	c := NewCoordinator("s1", p, Config{FreshWindow: time.Second, MaxAge: time.Minute})
	defer c.Close()
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Request()
	if c.Await(context.Background()) == nil {
		t.Fatalf("Await() = nil after first request")
	}
	c.Request()
	if p.calls.Load() != 1 {
		t.Fatalf("fresh photo refetched: calls = %d, want 1", p.calls.Load())
	}

	now = now.Add(2 * time.Second)
	c.Request()
	if c.Await(context.Background()) == nil {
		t.Fatalf("Await() = nil after refetch")
	}
	if p.calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2 after stale refetch", p.calls.Load())
	}
}

func TestCoordinatorPurgesAfterMaxAge(t *testing.T) {
	p := &fakeProvider{}
	c := NewCoordinator("s1", p, Config{FreshWindow: 10 * time.Millisecond, MaxAge: 20 * time.Millisecond})
	defer c.Close()

	c.Request()
	if c.Await(context.Background()) == nil {
		t.Fatalf("Await() = nil, want photo")
	}
	time.Sleep(80 * time.Millisecond)
	c.mu.Lock()
	held := c.photo
	c.mu.Unlock()
	if held != nil {
		t.Fatalf("photo still held after max age")
	}
}

func TestCoordinatorProviderErrorYieldsNil(t *testing.T) {
	p := &fakeProvider{err: errors.New("camera busy")}
	c := NewCoordinator("s1", p, Config{})
	defer c.Close()

	c.Request()
	if got := c.Await(context.Background()); got != nil {
		t.Fatalf("Await() = %+v, want nil", got)
	}
}

func TestCoordinatorNilSafe(t *testing.T) {
	var c *Coordinator
	c.Request()
	if c.Await(context.Background()) != nil {
		t.Fatalf("nil coordinator returned a photo")
	}
	c.Close()
}
