package session

import "time"

// CreateRequest defines payload for creating a new glasses session. Missing
// capability flags mean a display without a camera.
type CreateRequest struct {
	UserID     string `json:"user_id"`
	HasDisplay *bool  `json:"has_display,omitempty"`
	HasCamera  *bool  `json:"has_camera,omitempty"`
}

// Capabilities resolves the optional flags.
func (r CreateRequest) Capabilities() Capabilities {
	c := Capabilities{HasDisplay: true}
	if r.HasDisplay != nil {
		c.HasDisplay = *r.HasDisplay
	}
	if r.HasCamera != nil {
		c.HasCamera = *r.HasCamera
	}
	return c
}

// Capabilities describes the connected glasses.
type Capabilities struct {
	HasDisplay bool `json:"has_display"`
	HasCamera  bool `json:"has_camera"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string       `json:"session_id"`
	UserID          string       `json:"user_id"`
	Status          Status       `json:"status"`
	Capabilities    Capabilities `json:"capabilities"`
	StartedAt       time.Time    `json:"started_at"`
	LastActivityAt  time.Time    `json:"last_activity_at"`
	InactivityTTLMS int64        `json:"inactivity_ttl_ms"`
}
