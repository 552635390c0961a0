package domain

import (
	"encoding/json"
	"time"
)

// LiveState is the liveness of a service.
type LiveState int

const (
	// Offline means no console is connected or the session has ended.
	Offline LiveState = iota
	// Available means the control console is attached but no audio flows.
	Available
	// Streaming means audio and transcripts are actively flowing.
	Streaming
)

func (s LiveState) String() string {
	switch s {
	case Available:
		return "AVAILABLE"
	case Streaming:
		return "STREAMING"
	default:
		return "OFFLINE"
	}
}

// IsLive reports whether participants may see the language list.
func (s LiveState) IsLive() bool {
	return s == Available || s == Streaming
}

func (s LiveState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ServiceStatus is a point-in-time view of one service. ExpiresAt is nil
// when no expiry is pending.
type ServiceStatus struct {
	ServiceID       string     `json:"serviceId"`
	LiveState       LiveState  `json:"liveState"`
	ActiveLanguages []string   `json:"activeLanguages"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	Epoch           uint64     `json:"-"`
}

// Transition is one liveness change of a service. Seq increases with every
// change of that service, so observers can drop transitions that reach them
// out of order. Epoch is the service epoch after the change.
type Transition struct {
	ServiceID string
	From      LiveState
	To        LiveState
	Epoch     uint64
	Seq       uint64
}

// LanguageCount is one row of a subscriber snapshot.
type LanguageCount struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
}

// Audience selects which class of sockets receives a service-wide publish.
type Audience uint8

const (
	AudienceControl Audience = 1 << iota
	AudienceParticipant

	AudienceBoth = AudienceControl | AudienceParticipant
)

func (a Audience) String() string {
	switch a {
	case AudienceControl:
		return "control"
	case AudienceParticipant:
		return "participant"
	case AudienceBoth:
		return "both"
	default:
		return "none"
	}
}

// Includes reports whether a contains every bit of other.
func (a Audience) Includes(other Audience) bool {
	return other != 0 && a&other == other
}
