package kafka

import (
	"context"
	"errors"
)

// PresenterEvent is a presenter-side signal produced by an upstream
// speech-to-text pipeline instead of a websocket console.
type PresenterEvent struct {
	Type       string `json:"type"` // heartbeat | transcriptReady | streamingStarted | streamingStopped
	ServiceID  string `json:"service_id"`
	Status     string `json:"status,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// ErrMissingServiceID is returned for events that name no service.
var ErrMissingServiceID = errors.New("presenter event without service id")

// PresenterEventHandler handles incoming presenter events.
type PresenterEventHandler interface {
	HandlePresenterEvent(ctx context.Context, event *PresenterEvent) error
}

// PresenterEventConsumer defines the interface for consuming presenter events.
type PresenterEventConsumer interface {
	Start(ctx context.Context) error
	Close() error
}
