package turnlog

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(0), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

// prepare fills identity fields and redacts the free-text columns.
func prepare(record TurnRecord) TurnRecord {
	if record.ID == "" {
		record.ID = newID()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now().UTC()
	}
	q, qChanged := RedactPII(record.Query)
	r, rChanged := RedactPII(record.Response)
	record.Query, record.Response = q, r
	record.PIIRedacted = record.PIIRedacted || qChanged || rChanged
	return record
}
