package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Event is one announcement on the bus. Consumers outside this process
// decode Payload according to Type.
type Event struct {
	Type      string          `json:"type"`
	ServiceID string          `json:"service_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent marshals payload into an event stamped with the current time.
func NewEvent(eventType, serviceID string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		ServiceID: serviceID,
		Payload:   data,
		Timestamp: time.Now(),
	}, nil
}

// UnmarshalPayload decodes the payload into v.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Publisher announces events on a service channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Bus is a Publisher that holds a connection. The server only announces;
// nothing in this process consumes the bus.
type Bus interface {
	Publisher
	Close() error
}
