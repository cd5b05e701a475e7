package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeTranscription MessageType = "transcription"
	TypeHeadPosition  MessageType = "head_position"
	TypeLocation      MessageType = "location"
	TypePhotoResponse MessageType = "photo_response"
	TypePlaybackDone  MessageType = "playback_done"

	TypeDisplayText  MessageType = "display_text"
	TypePlayAudio    MessageType = "play_audio"
	TypeSpeak        MessageType = "speak"
	TypePhotoRequest MessageType = "photo_request"
	TypeTurnState    MessageType = "turn_state"
	TypeSystemEvent  MessageType = "system_event"
	TypeErrorEvent   MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Transcription is one speech-to-text fragment from the glasses.
type Transcription struct {
	Type    MessageType `json:"type"`
	Text    string      `json:"text"`
	IsFinal bool        `json:"is_final"`
	TSMs    int64       `json:"ts_ms,omitempty"`
}

type HeadPosition struct {
	Type     MessageType `json:"type"`
	Position string      `json:"position"`
}

type LocationUpdate struct {
	Type MessageType `json:"type"`
	Lat  float64     `json:"lat"`
	Lng  float64     `json:"lng"`
}

// PhotoResponse answers a PhotoRequest. Error is set when capture failed.
type PhotoResponse struct {
	Type        MessageType `json:"type"`
	RequestID   string      `json:"request_id"`
	PhotoBase64 string      `json:"photo_base64,omitempty"`
	MimeType    string      `json:"mime_type,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// PlaybackDone answers PlayAudio and Speak once the device finished playing.
type PlaybackDone struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	Error     string      `json:"error,omitempty"`
}

type DisplayText struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Text       string      `json:"text"`
	DurationMS int64       `json:"duration_ms"`
}

type PlayAudio struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	RequestID string      `json:"request_id"`
	URL       string      `json:"url"`
}

type Speak struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	RequestID string      `json:"request_id"`
	Text      string      `json:"text"`
}

type PhotoRequest struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	RequestID string      `json:"request_id"`
	Size      string      `json:"size,omitempty"`
}

type TurnState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeTranscription:
		var msg Transcription
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeHeadPosition:
		var msg HeadPosition
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Position = strings.ToLower(strings.TrimSpace(msg.Position))
		if msg.Position != "up" && msg.Position != "down" {
			return nil, errors.New("invalid head_position")
		}
		return msg, nil
	case TypeLocation:
		var msg LocationUpdate
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Lat < -90 || msg.Lat > 90 || msg.Lng < -180 || msg.Lng > 180 {
			return nil, errors.New("invalid location")
		}
		return msg, nil
	case TypePhotoResponse:
		var msg PhotoResponse
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.RequestID == "" || (msg.PhotoBase64 == "" && msg.Error == "") {
			return nil, errors.New("invalid photo_response")
		}
		return msg, nil
	case TypePlaybackDone:
		var msg PlaybackDone
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.RequestID == "" {
			return nil, errors.New("invalid playback_done")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the type tag of any message defined here.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case Transcription:
		return m.Type, true
	case HeadPosition:
		return m.Type, true
	case LocationUpdate:
		return m.Type, true
	case PhotoResponse:
		return m.Type, true
	case PlaybackDone:
		return m.Type, true
	case DisplayText:
		return m.Type, true
	case PlayAudio:
		return m.Type, true
	case Speak:
		return m.Type, true
	case PhotoRequest:
		return m.Type, true
	case TurnState:
		return m.Type, true
	case SystemEvent:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
