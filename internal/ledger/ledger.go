package ledger

import (
	"sort"
	"sync"

	"github.com/edunderwood/transcript-translate-server/internal/domain"
	pkglog "github.com/edunderwood/transcript-translate-server/pkg/log"
)

// LanguageRegistry receives language activation side effects.
type LanguageRegistry interface {
	ActivateLanguage(serviceID, lang string)
	DeactivateLanguage(serviceID, lang string)
}

// RoomSizer reports the transport's authoritative room membership.
type RoomSizer interface {
	RoomSize(serviceID, channel string) int
}

// SnapshotFunc receives the snapshot emitted after every mutation.
type SnapshotFunc func(serviceID string, languages []domain.LanguageCount)

// Ledger counts subscribers per (service, language). The counter is a fast
// path; the transport's room size decides whether a language is really gone.
type Ledger struct {
	registry LanguageRegistry

	mu       sync.Mutex
	services map[string]*serviceLedger

	sizer    RoomSizer
	snapshot SnapshotFunc
}

type serviceLedger struct {
	mu     sync.Mutex
	counts map[string]int
}

// New creates a ledger bound to a registry.
func New(reg LanguageRegistry) *Ledger {
	return &Ledger{
		registry: reg,
		services: make(map[string]*serviceLedger),
	}
}

// SetRoomSizer installs the ground-truth membership source. Must be called
// before the ledger is shared between goroutines.
func (l *Ledger) SetRoomSizer(sizer RoomSizer) {
	l.sizer = sizer
}

// SetSnapshotFunc installs the monitor snapshot sink. Must be called before
// the ledger is shared between goroutines.
func (l *Ledger) SetSnapshotFunc(fn SnapshotFunc) {
	l.snapshot = fn
}

func (l *Ledger) service(serviceID string) *serviceLedger {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.services[serviceID]
	if !ok {
		s = &serviceLedger{counts: make(map[string]int)}
		l.services[serviceID] = s
	}
	return s
}

// Increment records one more subscriber. Reserved channels are ignored.
func (l *Ledger) Increment(serviceID, lang string) {
	if domain.IsReserved(lang) || lang == "" {
		return
	}

	s := l.service(serviceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[lang]++
	if s.counts[lang] == 1 {
		l.registry.ActivateLanguage(serviceID, lang)

		logger := pkglog.L()
		logger.Info().Str(pkglog.FieldServiceID, serviceID).Str(pkglog.FieldLanguage, lang).Msg("language activated")
	}
	l.emitLocked(serviceID, s)
}

// Decrement records one subscriber fewer, floored at zero. When the
// transport reports the room empty the entry is dropped and the language
// deactivated; a counter that drifted to zero while the room still has
// members is resynchronised from the room size instead.
func (l *Ledger) Decrement(serviceID, lang string) {
	if domain.IsReserved(lang) || lang == "" {
		return
	}

	s := l.service(serviceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	count, tracked := s.counts[lang]
	if count > 0 {
		count--
	}

	size := -1
	if l.sizer != nil {
		size = l.sizer.RoomSize(serviceID, lang)
	}

	logger := pkglog.L()
	switch {
	case size == 0 || (size < 0 && count == 0):
		delete(s.counts, lang)
		if tracked {
			l.registry.DeactivateLanguage(serviceID, lang)
			logger.Info().Str(pkglog.FieldServiceID, serviceID).Str(pkglog.FieldLanguage, lang).Msg("language deactivated")
		}
	case count == 0:
		logger.Warn().
			Str(pkglog.FieldServiceID, serviceID).
			Str(pkglog.FieldLanguage, lang).
			Int("room_size", size).
			Msg("subscriber count drifted, resyncing from room membership")
		s.counts[lang] = size
		if !tracked {
			l.registry.ActivateLanguage(serviceID, lang)
		}
	default:
		s.counts[lang] = count
	}
	l.emitLocked(serviceID, s)
}

// Count returns the current subscriber count.
func (l *Ledger) Count(serviceID, lang string) int {
	s := l.service(serviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[lang]
}

// Snapshot lists every tracked language of the service, sorted by name.
func (l *Ledger) Snapshot(serviceID string) []domain.LanguageCount {
	s := l.service(serviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotLocked(s)
}

// Emit pushes the current snapshot to the sink, e.g. when a monitor attaches.
func (l *Ledger) Emit(serviceID string) {
	s := l.service(serviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	l.emitLocked(serviceID, s)
}

// emitLocked runs under the service lock so snapshots leave in mutation order.
func (l *Ledger) emitLocked(serviceID string, s *serviceLedger) {
	if l.snapshot == nil {
		return
	}
	l.snapshot(serviceID, snapshotLocked(s))
}

func snapshotLocked(s *serviceLedger) []domain.LanguageCount {
	out := make([]domain.LanguageCount, 0, len(s.counts))
	for lang, n := range s.counts {
		out = append(out, domain.LanguageCount{Name: lang, Subscribers: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
