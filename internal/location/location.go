// Package location turns device coordinates into a coarse place and timezone.
package location

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seanguno/hackmit-camera-project/internal/reliability"
)

const unknown = "Unknown"

// Coordinates are WGS84 degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location is the resolved context passed to the agent.
type Location struct {
	City     string `json:"city"`
	State    string `json:"state"`
	Country  string `json:"country"`
	Timezone string `json:"timezone"`
}

// Unknown is the fallback used whenever resolution fails.
func Unknown() Location {
	return Location{City: unknown, State: unknown, Country: unknown, Timezone: unknown}
}

// IsUnknown reports whether nothing was resolved.
func (l Location) IsUnknown() bool { return l == Unknown() }

func (l Location) fill() Location {
	if strings.TrimSpace(l.City) == "" {
		l.City = unknown
	}
	if strings.TrimSpace(l.State) == "" {
		l.State = unknown
	}
	if strings.TrimSpace(l.Country) == "" {
		l.Country = unknown
	}
	if strings.TrimSpace(l.Timezone) == "" {
		l.Timezone = unknown
	}
	return l
}

// Resolver is best-effort: it never returns an error, only Unknown fields.
type Resolver interface {
	Resolve(ctx context.Context, c Coordinates) Location
}

// UnknownResolver always answers Unknown.
type UnknownResolver struct{}

func (UnknownResolver) Resolve(context.Context, Coordinates) Location { return Unknown() }

type cacheEntry struct {
	loc       Location
	expiresAt time.Time
}

// HTTPResolver calls a reverse-geocoding endpoint and caches answers per
// rounded coordinate with a TTL.
type HTTPResolver struct {
	url    string
	client *http.Client
	ttl    time.Duration
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

func NewHTTPResolver(rawURL string, ttl time.Duration, logger zerolog.Logger) *HTTPResolver {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &HTTPResolver{
		url:    strings.TrimSpace(rawURL),
		client: &http.Client{Timeout: 4 * time.Second},
		ttl:    ttl,
		logger: logger,
		cache:  make(map[string]cacheEntry),
		now:    time.Now,
	}
}

func (r *HTTPResolver) Resolve(ctx context.Context, c Coordinates) Location {
	key := cacheKey(c)
	now := r.now()
	r.mu.Lock()
	if e, ok := r.cache[key]; ok && now.Before(e.expiresAt) {
		r.mu.Unlock()
		return e.loc
	}
	r.mu.Unlock()

	loc, err := r.lookup(ctx, c)
	if err != nil {
		r.logger.Warn().Err(err).Str("coords", key).Msg("location lookup failed")
		return Unknown()
	}
	loc = loc.fill()

	r.mu.Lock()
	r.cache[key] = cacheEntry{loc: loc, expiresAt: now.Add(r.ttl)}
	r.mu.Unlock()
	return loc
}

func (r *HTTPResolver) lookup(ctx context.Context, c Coordinates) (Location, error) {
	u, err := url.Parse(r.url)
	if err != nil {
		return Location{}, fmt.Errorf("parse resolver url: %w", err)
	}
	q := u.Query()
	q.Set("lat", strconv.FormatFloat(c.Lat, 'f', 5, 64))
	q.Set("lng", strconv.FormatFloat(c.Lng, 'f', 5, 64))
	u.RawQuery = q.Encode()

	var out Location
	err = reliability.Retry(ctx, 2, 100*time.Millisecond, 400*time.Millisecond, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		res, err := r.client.Do(req)
		if err != nil {
			return fmt.Errorf("send request: %w", err)
		}
		defer res.Body.Close()
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<10))
			return &reliability.StatusError{Service: "location", Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		return json.NewDecoder(res.Body).Decode(&out)
	})
	return out, err
}

// StartJanitor evicts expired cache entries until ctx ends.
func (r *HTTPResolver) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.evictExpired()
			}
		}
	}()
}

func (r *HTTPResolver) evictExpired() {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.cache {
		if !now.Before(e.expiresAt) {
			delete(r.cache, k)
		}
	}
}

// cacheKey rounds to ~1km so nearby fixes share an answer.
func cacheKey(c Coordinates) string {
	round := func(v float64) float64 { return math.Round(v*100) / 100 }
	return strconv.FormatFloat(round(c.Lat), 'f', 2, 64) + "," + strconv.FormatFloat(round(c.Lng), 'f', 2, 64)
}

// CoordinateSource reports the device's most recent fix.
type CoordinateSource interface {
	Coordinates() (Coordinates, bool)
}

// Tracker joins a device's coordinate source with a resolver.
type Tracker struct {
	Source   CoordinateSource
	Resolver Resolver
}

// Locate resolves the latest fix, or Unknown when there is none.
func (t Tracker) Locate(ctx context.Context) Location {
	if t.Source == nil || t.Resolver == nil {
		return Unknown()
	}
	c, ok := t.Source.Coordinates()
	if !ok {
		return Unknown()
	}
	return t.Resolver.Resolve(ctx, c)
}
