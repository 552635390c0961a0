package liveness

import (
	"time"

	"github.com/edunderwood/transcript-translate-server/internal/domain"
	pkglog "github.com/edunderwood/transcript-translate-server/pkg/log"
)

// Registry is the live-state store driven by the monitor.
type Registry interface {
	SetAvailable(serviceID string)
	SetStreaming(serviceID string, timeout time.Duration)
	Renew(serviceID string, timeout time.Duration)
	SetOffline(serviceID string)
}

// Publisher delivers service-wide events.
type Publisher interface {
	PublishToAudience(serviceID string, audience domain.Audience, event string, payload interface{}) (int, error)
}

// Monitor turns presenter signals into registry transitions.
type Monitor struct {
	registry  Registry
	publisher Publisher
	timeout   time.Duration
}

// New creates a monitor. timeout is the heartbeat expiry window.
func New(reg Registry, pub Publisher, timeout time.Duration) *Monitor {
	return &Monitor{registry: reg, publisher: pub, timeout: timeout}
}

// OnHeartbeat records a presenter heartbeat. A streaming status also marks
// the service on air and tells participants.
func (m *Monitor) OnHeartbeat(serviceID, status string) {
	m.registry.SetAvailable(serviceID)
	m.registry.Renew(serviceID, m.timeout)
	if domain.IsStreamingStatus(status) {
		m.goLive(serviceID)
	}
}

// OnAttach records a monitor console attaching to the service. The console
// must keep sending heartbeats or the service expires after the timeout.
func (m *Monitor) OnAttach(serviceID string) {
	m.registry.SetAvailable(serviceID)
	m.registry.Renew(serviceID, m.timeout)
}

// OnStreamingStarted marks the service on air.
func (m *Monitor) OnStreamingStarted(serviceID string) {
	m.goLive(serviceID)
}

// OnStreamingStopped takes the service offline.
func (m *Monitor) OnStreamingStopped(serviceID string) {
	m.registry.SetOffline(serviceID)
}

// HandleTransition announces a service going offline. It matches
// registry.TransitionFunc.
func (m *Monitor) HandleTransition(t domain.Transition) {
	if t.To != domain.Offline {
		return
	}
	m.publish(t.ServiceID, domain.AudienceBoth, domain.EventServiceOffline, domain.ServiceOfflinePayload{ServiceID: t.ServiceID})
}

func (m *Monitor) goLive(serviceID string) {
	m.registry.SetStreaming(serviceID, m.timeout)
	m.publish(serviceID, domain.AudienceParticipant, domain.EventLivestreaming, nil)
}

func (m *Monitor) publish(serviceID string, audience domain.Audience, event string, payload interface{}) {
	if _, err := m.publisher.PublishToAudience(serviceID, audience, event, payload); err != nil {
		l := pkglog.L()
		l.Error().Err(err).
			Str(pkglog.FieldServiceID, serviceID).
			Str(pkglog.FieldEvent, event).
			Msg("liveness publish failed")
	}
}
