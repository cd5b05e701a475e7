package transcript

import (
	"context"
	"strings"
	"time"
)

// Event is one incremental speech-to-text fragment.
type Event struct {
	Text    string
	IsFinal bool
	At      time.Time
}

// Segment is one finalized (or in-progress) utterance in a replayed transcript.
// At is when the utterance started, End when it was last updated.
type Segment struct {
	Text    string    `json:"text"`
	IsFinal bool      `json:"is_final,omitempty"`
	At      time.Time `json:"at,omitempty"`
	End     time.Time `json:"end,omitempty"`
}

func (s Segment) lastHeard() time.Time {
	if s.End.IsZero() {
		return s.At
	}
	return s.End
}

// Transcript is what was spoken within a replay window, oldest first.
type Transcript struct {
	Segments []Segment `json:"segments"`
}

// Text joins the segments with single spaces.
func (t Transcript) Text() string {
	parts := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		if v := strings.TrimSpace(s.Text); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

// Replay returns everything spoken in roughly the last window for a session.
// Implementations may over- or under-count slightly.
type Replay interface {
	Fetch(ctx context.Context, sessionID string, window time.Duration) (Transcript, error)
}
