package pubsub

import (
	"fmt"
	"time"
)

// ChannelServiceLiveness names a service's liveness channel. Kafka maps the
// prefix and suffix to a topic and uses the service id as message key.
const ChannelServiceLiveness = "caption:service:%s:liveness"

// Event types published on the liveness channel.
const (
	EventServiceTransition = "service_transition"
)

// LivenessChannel returns the liveness channel for a service.
func LivenessChannel(serviceID string) string {
	return fmt.Sprintf(ChannelServiceLiveness, serviceID)
}

// TransitionPayload describes a live-state change.
type TransitionPayload struct {
	ServiceID string    `json:"service_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Seq       uint64    `json:"seq"`
	ChangedAt time.Time `json:"changed_at"`
}
