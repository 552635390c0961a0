package registry

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/edunderwood/transcript-translate-server/internal/domain"
	pkglog "github.com/edunderwood/transcript-translate-server/pkg/log"
)

const shardCount = 32

// TransitionFunc observes liveness transitions. It is called after the
// per-service lock has been released, so transitions of one service may reach
// an observer out of order; Transition.Seq restores the order.
type TransitionFunc func(t domain.Transition)

// Registry tracks liveness and the active language set of every service.
// Mutations of one service are serialised by that service's own lock;
// unrelated services never contend.
type Registry struct {
	shards [shardCount]shard

	observersMu sync.RWMutex
	observers   []TransitionFunc

	now func() time.Time
}

type shard struct {
	mu       sync.RWMutex
	services map[string]*entry
}

type entry struct {
	mu        sync.Mutex
	state     domain.LiveState
	languages map[string]struct{}
	expiresAt time.Time
	timer     *time.Timer
	timerGen  uint64
	epoch     uint64
	seq       uint64
}

// changeLocked moves the entry to state and returns the transition to
// announce. ok is false when the state did not change.
func (e *entry) changeLocked(serviceID string, to domain.LiveState) (domain.Transition, bool) {
	from := e.state
	if from == to {
		return domain.Transition{}, false
	}
	e.state = to
	if to == domain.Offline {
		e.epoch++
	}
	e.seq++
	return domain.Transition{ServiceID: serviceID, From: from, To: to, Epoch: e.epoch, Seq: e.seq}, true
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{now: time.Now}
	for i := range r.shards {
		r.shards[i].services = make(map[string]*entry)
	}
	return r
}

// OnTransition registers an observer for liveness changes.
func (r *Registry) OnTransition(fn TransitionFunc) {
	r.observersMu.Lock()
	defer r.observersMu.Unlock()
	r.observers = append(r.observers, fn)
}

func (r *Registry) shardFor(serviceID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(serviceID))
	return &r.shards[h.Sum32()%shardCount]
}

// touch returns the entry for serviceID, creating it OFFLINE if needed.
func (r *Registry) touch(serviceID string) *entry {
	s := r.shardFor(serviceID)

	s.mu.RLock()
	e, ok := s.services[serviceID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.services[serviceID]; ok {
		return e
	}
	e = &entry{languages: make(map[string]struct{})}
	s.services[serviceID] = e
	return e
}

func (r *Registry) lookup(serviceID string) (*entry, bool) {
	s := r.shardFor(serviceID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.services[serviceID]
	return e, ok
}

func (r *Registry) notify(t domain.Transition, changed bool) {
	if !changed {
		return
	}

	l := pkglog.L()
	l.Info().
		Str(pkglog.FieldServiceID, t.ServiceID).
		Str("from", t.From.String()).
		Str(pkglog.FieldLiveState, t.To.String()).
		Uint64("seq", t.Seq).
		Msg("service liveness changed")

	r.observersMu.RLock()
	observers := make([]TransitionFunc, len(r.observers))
	copy(observers, r.observers)
	r.observersMu.RUnlock()

	for _, fn := range observers {
		fn(t)
	}
}

// SetAvailable moves an OFFLINE service to AVAILABLE. Live services are left
// as they are.
func (r *Registry) SetAvailable(serviceID string) {
	e := r.touch(serviceID)

	e.mu.Lock()
	var (
		t       domain.Transition
		changed bool
	)
	if e.state == domain.Offline {
		t, changed = e.changeLocked(serviceID, domain.Available)
	}
	e.mu.Unlock()

	r.notify(t, changed)
}

// SetStreaming marks the service STREAMING and (re)schedules its expiry at
// now+timeout. A later call replaces the pending expiry.
func (r *Registry) SetStreaming(serviceID string, timeout time.Duration) {
	e := r.touch(serviceID)

	e.mu.Lock()
	t, changed := e.changeLocked(serviceID, domain.Streaming)
	r.scheduleLocked(serviceID, e, timeout)
	e.mu.Unlock()

	r.notify(t, changed)
}

// Renew pushes the expiry of a live service to now+timeout without changing
// its state. Offline services are ignored.
func (r *Registry) Renew(serviceID string, timeout time.Duration) {
	e := r.touch(serviceID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.IsLive() {
		r.scheduleLocked(serviceID, e, timeout)
	}
}

// SetOffline immediately marks the service OFFLINE and cancels any pending
// expiry.
func (r *Registry) SetOffline(serviceID string) {
	e := r.touch(serviceID)

	e.mu.Lock()
	t, changed := r.goOfflineLocked(serviceID, e)
	e.mu.Unlock()

	r.notify(t, changed)
}

func (r *Registry) scheduleLocked(serviceID string, e *entry, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timerGen++
	gen := e.timerGen
	e.expiresAt = r.now().Add(timeout)
	e.timer = time.AfterFunc(timeout, func() {
		r.expire(serviceID, gen)
	})
}

func (r *Registry) goOfflineLocked(serviceID string, e *entry) (domain.Transition, bool) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	// Invalidates a timer callback that already fired but has not yet taken the lock.
	e.timerGen++
	e.expiresAt = time.Time{}
	return e.changeLocked(serviceID, domain.Offline)
}

func (r *Registry) expire(serviceID string, gen uint64) {
	e, ok := r.lookup(serviceID)
	if !ok {
		return
	}

	e.mu.Lock()
	if e.timerGen != gen || e.state == domain.Offline {
		e.mu.Unlock()
		return
	}
	t, changed := r.goOfflineLocked(serviceID, e)
	e.mu.Unlock()

	l := pkglog.L()
	l.Info().Str(pkglog.FieldServiceID, serviceID).Msg("heartbeat timeout, service expired")
	r.notify(t, changed)
}

// State returns the current liveness. Unknown services are OFFLINE.
func (r *Registry) State(serviceID string) domain.LiveState {
	e, ok := r.lookup(serviceID)
	if !ok {
		return domain.Offline
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsLive is true for AVAILABLE and STREAMING.
func (r *Registry) IsLive(serviceID string) bool {
	return r.State(serviceID).IsLive()
}

// IsStreaming is true for STREAMING only.
func (r *Registry) IsStreaming(serviceID string) bool {
	return r.State(serviceID) == domain.Streaming
}

// Epoch returns the number of times the service has gone OFFLINE. Work
// started under one epoch must not be published under another.
func (r *Registry) Epoch(serviceID string) uint64 {
	e, ok := r.lookup(serviceID)
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch
}

// Known reports whether the service has ever been touched.
func (r *Registry) Known(serviceID string) bool {
	_, ok := r.lookup(serviceID)
	return ok
}

// ActivateLanguage adds lang to the service's active set.
func (r *Registry) ActivateLanguage(serviceID, lang string) {
	e := r.touch(serviceID)
	e.mu.Lock()
	e.languages[lang] = struct{}{}
	e.mu.Unlock()
}

// DeactivateLanguage removes lang from the service's active set.
func (r *Registry) DeactivateLanguage(serviceID, lang string) {
	e := r.touch(serviceID)
	e.mu.Lock()
	delete(e.languages, lang)
	e.mu.Unlock()
}

// ActiveLanguages returns the sorted active language set.
func (r *Registry) ActiveLanguages(serviceID string) []string {
	e, ok := r.lookup(serviceID)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedKeys(e.languages)
}

// Status returns a snapshot of one service.
func (r *Registry) Status(serviceID string) domain.ServiceStatus {
	status := domain.ServiceStatus{ServiceID: serviceID, ActiveLanguages: []string{}}
	e, ok := r.lookup(serviceID)
	if !ok {
		return status
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	status.LiveState = e.state
	status.ActiveLanguages = sortedKeys(e.languages)
	if !e.expiresAt.IsZero() {
		at := e.expiresAt
		status.ExpiresAt = &at
	}
	status.Epoch = e.epoch
	return status
}

// LiveServices returns the sorted ids of every AVAILABLE or STREAMING service.
func (r *Registry) LiveServices() []string {
	var live []string
	for i := range r.shards {
		s := &r.shards[i]

		s.mu.RLock()
		ids := make([]string, 0, len(s.services))
		entries := make([]*entry, 0, len(s.services))
		for id, e := range s.services {
			ids = append(ids, id)
			entries = append(entries, e)
		}
		s.mu.RUnlock()

		for j, e := range entries {
			e.mu.Lock()
			if e.state.IsLive() {
				live = append(live, ids[j])
			}
			e.mu.Unlock()
		}
	}
	sort.Strings(live)
	return live
}

// Stop cancels every pending expiry timer.
func (r *Registry) Stop() {
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, e := range s.services {
			e.mu.Lock()
			if e.timer != nil {
				e.timer.Stop()
				e.timer = nil
			}
			e.mu.Unlock()
		}
		s.mu.RUnlock()
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
