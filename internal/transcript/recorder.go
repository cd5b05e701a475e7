package transcript

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	defaultRetention   = 2 * time.Minute
	defaultMaxSegments = 256
)

// Recorder is an in-process Replay for one session, fed from the live
// transcription stream. It keeps finalized segments plus the newest partial.
type Recorder struct {
	mu          sync.Mutex
	retention   time.Duration
	maxSegments int
	segments    []Segment
	partial     Segment
	now         func() time.Time
}

func NewRecorder(retention time.Duration, maxSegments int) *Recorder {
	if retention <= 0 {
		retention = defaultRetention
	}
	if maxSegments <= 0 {
		maxSegments = defaultMaxSegments
	}
	return &Recorder{retention: retention, maxSegments: maxSegments, now: time.Now}
}

func (r *Recorder) Append(evt Event) {
	text := strings.TrimSpace(evt.Text)
	at := evt.At
	if at.IsZero() {
		at = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !evt.IsFinal {
		if text == "" {
			r.partial = Segment{}
			return
		}
		// Keep the utterance start so the replay window covers the whole partial.
		if r.partial.Text == "" {
			r.partial.At = at
		}
		r.partial.Text = text
		r.partial.End = at
		return
	}

	start := at
	if r.partial.Text != "" && r.partial.At.Before(start) {
		start = r.partial.At
	}
	r.partial = Segment{}
	if text == "" {
		return
	}
	r.segments = append(r.segments, Segment{Text: text, IsFinal: true, At: start, End: at})
	r.pruneLocked(at)
}

// Fetch implements Replay. A segment is included when it was still being
// spoken inside the window, which is rounded up to whole seconds like the
// HTTP replay. The session id is implied by the recorder instance.
func (r *Recorder) Fetch(ctx context.Context, _ string, window time.Duration) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	now := r.now()
	cutoff := now.Add(-time.Duration(replaySeconds(window)) * time.Second)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(now)

	out := Transcript{}
	for _, s := range r.segments {
		if s.lastHeard().Before(cutoff) {
			continue
		}
		out.Segments = append(out.Segments, s)
	}
	if r.partial.Text != "" && !r.partial.lastHeard().Before(cutoff) {
		out.Segments = append(out.Segments, r.partial)
	}
	return out, nil
}

func (r *Recorder) pruneLocked(now time.Time) {
	drop := 0
	for drop < len(r.segments) && now.Sub(r.segments[drop].At) > r.retention {
		drop++
	}
	if over := len(r.segments) - drop - r.maxSegments; over > 0 {
		drop += over
	}
	if drop > 0 {
		r.segments = append(r.segments[:0], r.segments[drop:]...)
	}
}
