package domain

import (
	"encoding/json"
	"strings"
)

// Client -> server events.
const (
	EventJoin             = "join"
	EventLeave            = "leave"
	EventHeartbeat        = "heartbeat"
	EventTranscriptReady  = "transcriptReady"
	EventStreamingStarted = "streamingStarted"
	EventStreamingStopped = "streamingStopped"
	EventPing             = "ping"
)

// Server -> client events.
const (
	EventSubscribers      = "subscribers"
	EventNewTranscript    = "newTranscript"
	EventLivestreaming    = "livestreaming"
	EventTranslation      = "translation"
	EventTranslationError = "translationError"
	EventServiceOffline   = "serviceOffline"
	EventError            = "error"
	EventPong             = "pong"
)

// Error codes carried by EventError.
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeJoinRejected  = "JOIN_REJECTED"
	ErrCodeUnknownEvent  = "UNKNOWN_EVENT"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Envelope frames every websocket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope. A nil payload produces an
// event with no data field.
func NewEnvelope(event string, payload interface{}) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// HeartbeatPayload is sent by the presenter console.
type HeartbeatPayload struct {
	ServiceCode string `json:"serviceCode"`
	Status      string `json:"status"`
}

// TranscriptReadyPayload carries one finalised source transcript.
type TranscriptReadyPayload struct {
	ServiceCode string `json:"serviceCode"`
	Transcript  string `json:"transcript"`
}

// StreamingPayload is used by streamingStarted and streamingStopped.
type StreamingPayload struct {
	ServiceID string `json:"serviceId"`
}

// SubscribersPayload is the ledger snapshot sent to monitors.
type SubscribersPayload struct {
	Languages []LanguageCount `json:"languages"`
}

// NewTranscriptPayload mirrors the untranslated transcript.
type NewTranscriptPayload struct {
	Transcript string `json:"transcript"`
	Timestamp  int64  `json:"timestamp"`
}

// TranslationPayload is delivered to one language room.
type TranslationPayload struct {
	ServiceID string `json:"serviceId"`
	Language  string `json:"language"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// TranslationErrorPayload is a non-fatal diagnostic for monitors.
type TranslationErrorPayload struct {
	Language string `json:"language"`
	Message  string `json:"message"`
}

// ServiceOfflinePayload announces the end of a session.
type ServiceOfflinePayload struct {
	ServiceID string `json:"serviceId"`
}

// ErrorPayload is returned to a single client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IsStreamingStatus reports whether a heartbeat status field means audio is
// actively flowing.
func IsStreamingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "streaming", "live", "on_air", "onair":
		return true
	default:
		return false
	}
}
