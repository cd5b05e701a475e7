package turnlog

import (
	"context"
	"time"
)

// Outcomes recorded for a finished turn.
const (
	OutcomeAnswered = "answered"
	OutcomeTakeover = "takeover"
	OutcomeNoAnswer = "no_answer"
	OutcomeEmpty    = "empty_query"
	OutcomeError    = "error"
)

// TurnRecord is one completed wake-word turn.
type TurnRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	Query       string    `json:"query"`
	Response    string    `json:"response"`
	Outcome     string    `json:"outcome"`
	HadPhoto    bool      `json:"had_photo"`
	Location    string    `json:"location,omitempty"`
	ListenedMS  int64     `json:"listened_ms"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists turns and lists the most recent ones per user.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	RecentTurns(ctx context.Context, userID string, limit int) ([]TurnRecord, error)
	Close() error
}
