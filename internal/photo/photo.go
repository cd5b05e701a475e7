// Package photo coordinates the single outstanding camera capture per session.
package photo

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNoCamera is returned by providers for devices without a camera.
var ErrNoCamera = errors.New("device has no camera")

// Photo is a captured snapshot.
type Photo struct {
	RequestID string
	Data      []byte
	MimeType  string
	TakenAt   time.Time
}

// Options tune a capture request.
type Options struct {
	Size string
}

// Provider captures a photo on demand. It may fail or time out.
type Provider interface {
	RequestPhoto(ctx context.Context, opts Options) (*Photo, error)
}

// Config bounds freshness, retention and waiting.
type Config struct {
	FreshWindow    time.Duration
	MaxAge         time.Duration
	Wait           time.Duration
	RequestTimeout time.Duration

	// Flights deduplicates captures by session id. Coordinators that share it
	// join one capture, e.g. across a reconnect. Nil gives a private group.
	Flights *singleflight.Group
}

func (c Config) withDefaults() Config {
	if c.FreshWindow <= 0 {
		c.FreshWindow = 5 * time.Second
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 30 * time.Second
	}
	if c.MaxAge < c.FreshWindow {
		c.MaxAge = c.FreshWindow
	}
	if c.Wait <= 0 {
		c.Wait = 3 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.Flights == nil {
		c.Flights = new(singleflight.Group)
	}
	return c
}

// Coordinator owns the photo slot for one session: at most one capture in
// flight, a resolved photo reused while fresh and purged after MaxAge.
type Coordinator struct {
	key      string
	provider Provider
	cfg      Config
	now      func() time.Time
	flights  *singleflight.Group

	mu        sync.Mutex
	inflight  chan struct{}
	photo     *Photo
	fetchedAt time.Time
	purge     *time.Timer
	closed    bool
}

func NewCoordinator(sessionID string, provider Provider, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		key:      sessionID,
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
		flights:  cfg.Flights,
	}
}

// Request joins the outstanding capture for the session or starts one, unless
// the current photo is still fresh. Stale photos are dropped so the turn gets
// a new one.
func (c *Coordinator) Request() {
	if c == nil || c.provider == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.photo != nil && c.now().Sub(c.fetchedAt) < c.cfg.FreshWindow {
		return
	}
	c.dropLocked()

	done := make(chan struct{})
	c.inflight = done
	ch := c.flights.DoChan(c.key, c.fetch)
	go c.settle(ch, done)
}

func (c *Coordinator) fetch() (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()
	return c.provider.RequestPhoto(ctx, Options{Size: "medium"})
}

func (c *Coordinator) settle(ch <-chan singleflight.Result, done chan struct{}) {
	res := <-ch
	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(done)
	if c.inflight == done {
		c.inflight = nil
	}
	if c.closed || res.Err != nil {
		return
	}
	p, _ := res.Val.(*Photo)
	if p == nil {
		return
	}
	c.photo = p
	c.fetchedAt = c.now()
	if c.purge != nil {
		c.purge.Stop()
	}
	fetchedAt := c.fetchedAt
	c.purge = time.AfterFunc(c.cfg.MaxAge, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.fetchedAt.Equal(fetchedAt) {
			c.dropLocked()
		}
	})
}

// Await returns the resolved photo, waiting for an outstanding capture up to
// the configured bound. It returns nil rather than blocking a query on a slow
// camera.
func (c *Coordinator) Await(ctx context.Context) *Photo {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	done := c.inflight
	c.mu.Unlock()

	if done != nil {
		timer := time.NewTimer(c.cfg.Wait)
		select {
		case <-done:
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.photo == nil || c.now().Sub(c.fetchedAt) >= c.cfg.MaxAge {
		return nil
	}
	return c.photo
}

// Close drops the photo and forgets any in-flight capture.
func (c *Coordinator) Close() {
	if c == nil {
		return
	}
	c.flights.Forget(c.key)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.dropLocked()
}

func (c *Coordinator) dropLocked() {
	c.photo = nil
	c.fetchedAt = time.Time{}
	if c.purge != nil {
		c.purge.Stop()
		c.purge = nil
	}
}
