package turnlog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultPerUserLimit = 200

var (
	newID = uuid.NewString
	now   = time.Now
)

// InMemoryStore keeps the newest turns per user in process.
type InMemoryStore struct {
	mu      sync.RWMutex
	perUser int
	records map[string][]TurnRecord
}

func NewInMemoryStore(perUser int) *InMemoryStore {
	if perUser <= 0 {
		perUser = defaultPerUserLimit
	}
	return &InMemoryStore{perUser: perUser, records: make(map[string][]TurnRecord)}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record TurnRecord) error {
	record = prepare(record)
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := append(s.records[record.UserID], record)
	if over := len(arr) - s.perUser; over > 0 {
		arr = append(arr[:0], arr[over:]...)
	}
	s.records[record.UserID] = arr
	return nil
}

// RecentTurns returns up to limit turns, newest first.
func (s *InMemoryStore) RecentTurns(_ context.Context, userID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[userID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TurnRecord, 0, limit)
	for i := len(arr) - 1; i >= len(arr)-limit; i-- {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
