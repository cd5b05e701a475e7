package transcript

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
	"time"

	"github.com/seanguno/hackmit-camera-project/internal/reliability"
)

// HTTPReplay fetches transcripts from an external replay endpoint.
type HTTPReplay struct {
	url      string
	client   *http.Client
	attempts int
}

func NewHTTPReplay(rawURL string, timeout time.Duration) *HTTPReplay {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPReplay{
		url:      strings.TrimSpace(rawURL),
		client:   &http.Client{Timeout: timeout},
		attempts: 3,
	}
}

func (h *HTTPReplay) Fetch(ctx context.Context, sessionID string, window time.Duration) (Transcript, error) {
	u, err := url.Parse(h.url)
	if err != nil {
		return Transcript{}, fmt.Errorf("parse replay url: %w", err)
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	q.Set("duration_seconds", strconv.Itoa(replaySeconds(window)))
	u.RawQuery = q.Encode()

	var out Transcript
	err = reliability.Retry(ctx, h.attempts, 150*time.Millisecond, time.Second, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		res, err := h.client.Do(req)
		if err != nil {
			return fmt.Errorf("send request: %w", err)
		}
		defer res.Body.Close()
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
			return &reliability.StatusError{Service: "transcript replay", Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		var t Transcript
		if err := json.NewDecoder(res.Body).Decode(&t); err != nil {
			return fmt.Errorf("decode replay: %w", err)
		}
		out = t
		return nil
	})
	if err != nil {
		return Transcript{}, err
	}
	return out, nil
}

// replaySeconds rounds up so a short window never asks for zero seconds.
func replaySeconds(window time.Duration) int {
	s := int(math.Ceil(window.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
