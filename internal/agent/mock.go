package agent

import (
	"context"
	"fmt"
	"strings"
)

// MockBackend provides deterministic local replies when no backend is configured.
type MockBackend struct{}

func NewMockBackend() *MockBackend { return &MockBackend{} }

func (b *MockBackend) Handle(ctx context.Context, q Query) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	text := strings.TrimSpace(q.Text)
	if text == "" {
		return Response{}, ErrEmptyQuery
	}
	reply := fmt.Sprintf("You asked: %s", text)
	if q.Photo != nil {
		reply += " (with a photo)"
	}
	if city := q.Location.City; city != "" && city != "Unknown" {
		reply += fmt.Sprintf(" near %s", city)
	}
	return Response{Text: reply}, nil
}
