package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/seanguno/hackmit-camera-project/internal/location"
	"github.com/seanguno/hackmit-camera-project/internal/reliability"
)

type httpPhoto struct {
	Base64   string `json:"base64"`
	MimeType string `json:"mime_type"`
	TakenAt  string `json:"taken_at"`
}

type httpRequest struct {
	SessionID string            `json:"session_id"`
	UserID    string            `json:"user_id"`
	Query     string            `json:"query"`
	Photo     *httpPhoto        `json:"photo,omitempty"`
	Location  location.Location `json:"location"`
}

// HTTPBackend posts queries to an HTTP endpoint. JSON, SSE and NDJSON
// responses are accepted.
type HTTPBackend struct {
	url    string
	client *http.Client
}

func NewHTTPBackend(url string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPBackend{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBackend) Handle(ctx context.Context, q Query) (Response, error) {
	if strings.TrimSpace(q.Text) == "" {
		return Response{}, ErrEmptyQuery
	}
	body := httpRequest{
		SessionID: q.SessionID,
		UserID:    q.UserID,
		Query:     q.Text,
		Location:  q.Location,
	}
	if q.Photo != nil {
		body.Photo = &httpPhoto{
			Base64:   base64.StdEncoding.EncodeToString(q.Photo.Data),
			MimeType: q.Photo.MimeType,
			TakenAt:  q.Photo.TakenAt.UTC().Format(time.RFC3339),
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := b.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, &reliability.StatusError{Service: "agent", Code: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		return consumeStreaming(res.Body)
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return parseBody(raw), nil
}

func parseBody(raw []byte) Response {
	text := strings.TrimSpace(string(raw))
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Response{Text: text}
	}
	if len(obj) == 0 {
		return Response{}
	}
	if v, ok := obj["takeover"].(bool); ok && v {
		return Response{Takeover: true}
	}
	// Tagged events are rendered by the controller, so pass them through.
	if _, ok := obj["type"].(string); ok {
		return Response{Text: text}
	}
	if answer, ok := extractText(obj); ok {
		return Response{Text: answer}
	}
	// Untagged JSON without a known answer key is still an answer.
	return Response{Text: text}
}

func consumeStreaming(body io.Reader) (Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	var unstructured []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") || strings.HasPrefix(line, "id:") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			break
		}

		delta := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			if v, ok := obj["takeover"].(bool); ok && v {
				return Response{Takeover: true}, nil
			}
			text, ok := extractText(obj)
			if !ok {
				unstructured = append(unstructured, line)
				continue
			}
			delta = text
		}
		out.WriteString(delta)
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("stream read: %w", err)
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		text = strings.Join(unstructured, "\n")
	}
	return Response{Text: text}, nil
}

// extractText reports the first known answer field and whether one was present.
func extractText(obj map[string]any) (string, bool) {
	for _, k := range []string{"text", "answer", "output", "message", "delta"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}
