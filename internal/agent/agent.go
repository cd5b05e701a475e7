// Package agent reaches the query backend that answers a wake-word turn.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seanguno/hackmit-camera-project/internal/location"
	"github.com/seanguno/hackmit-camera-project/internal/photo"
)

// ErrEmptyQuery is returned by backends that refuse blank input.
var ErrEmptyQuery = errors.New("agent: empty query")

// Query is what the controller sends once the user finished speaking.
type Query struct {
	SessionID string
	UserID    string
	Text      string
	Photo     *photo.Photo
	Location  location.Location
}

// Response is the backend's answer. Takeover means the backend drives the
// display itself and nothing should be rendered.
type Response struct {
	Text     string
	Takeover bool
}

// Backend answers one query. Errors are rendered as a generic failure.
type Backend interface {
	Handle(ctx context.Context, q Query) (Response, error)
}

// Config controls backend construction.
type Config struct {
	Mode    string
	HTTPURL string
	Timeout time.Duration
}

func New(cfg Config) (Backend, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPBackend(cfg.HTTPURL, cfg.Timeout), nil
		}
		return NewMockBackend(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("agent HTTP url is required for http mode")
		}
		return NewHTTPBackend(cfg.HTTPURL, cfg.Timeout), nil
	case "mock":
		return NewMockBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported agent mode %q", cfg.Mode)
	}
}
