package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edunderwood/transcript-translate-server/internal/domain"
)

type fakeRegistry struct {
	mu          sync.Mutex
	active      map[string]bool
	activations int
	deactivated int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{active: make(map[string]bool)}
}

func (f *fakeRegistry) ActivateLanguage(serviceID, lang string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[serviceID+":"+lang] = true
	f.activations++
}

func (f *fakeRegistry) DeactivateLanguage(serviceID, lang string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, serviceID+":"+lang)
	f.deactivated++
}

func (f *fakeRegistry) isActive(serviceID, lang string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[serviceID+":"+lang]
}

type fakeRooms struct {
	mu    sync.Mutex
	sizes map[string]int
}

func (f *fakeRooms) set(serviceID, channel string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes[serviceID+":"+channel] = n
}

func (f *fakeRooms) RoomSize(serviceID, channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sizes[serviceID+":"+channel]
}

type snapshots struct {
	mu   sync.Mutex
	last map[string][]domain.LanguageCount
	n    int
}

func (s *snapshots) record(serviceID string, langs []domain.LanguageCount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		s.last = make(map[string][]domain.LanguageCount)
	}
	s.last[serviceID] = langs
	s.n++
}

func newLedger() (*Ledger, *fakeRegistry, *fakeRooms, *snapshots) {
	reg := newFakeRegistry()
	rooms := &fakeRooms{sizes: make(map[string]int)}
	snaps := &snapshots{}
	l := New(reg)
	l.SetRoomSizer(rooms)
	l.SetSnapshotFunc(snaps.record)
	return l, reg, rooms, snaps
}

func TestIncrementActivatesOnFirstSubscriber(t *testing.T) {
	l, reg, _, snaps := newLedger()

	l.Increment("100", "es")
	assert.True(t, reg.isActive("100", "es"))
	l.Increment("100", "es")

	assert.Equal(t, 2, l.Count("100", "es"))
	assert.Equal(t, 1, reg.activations)
	assert.Equal(t, 2, snaps.n)
	assert.Equal(t, []domain.LanguageCount{{Name: "es", Subscribers: 2}}, snaps.last["100"])
}

func TestReservedChannelsAreIgnored(t *testing.T) {
	l, reg, _, snaps := newLedger()

	for _, ch := range []string{domain.ChannelTranscript, domain.ChannelHeartbeat, "TRANSCRIPT", ""} {
		l.Increment("123", ch)
		l.Decrement("123", ch)
	}

	assert.Empty(t, l.Snapshot("123"))
	assert.Zero(t, reg.activations)
	assert.Zero(t, reg.deactivated)
	assert.Zero(t, snaps.n)
}

func TestDecrementRemovesEntryWhenRoomEmpty(t *testing.T) {
	l, reg, rooms, snaps := newLedger()

	rooms.set("100", "es", 1)
	l.Increment("100", "es")
	rooms.set("100", "es", 0)
	l.Decrement("100", "es")

	assert.False(t, reg.isActive("100", "es"))
	assert.Equal(t, 1, reg.deactivated)
	assert.Empty(t, l.Snapshot("100"))
	assert.Empty(t, snaps.last["100"])
}

func TestDecrementFloorsAtZero(t *testing.T) {
	l, reg, _, _ := newLedger()

	l.Decrement("100", "es")
	l.Decrement("100", "es")

	assert.Equal(t, 0, l.Count("100", "es"))
	assert.Zero(t, reg.deactivated)
}

func TestDecrementTrustsRoomMembershipOverCounter(t *testing.T) {
	l, reg, rooms, _ := newLedger()

	// Counter says one, but the transport still has two members.
	rooms.set("100", "es", 2)
	l.Increment("100", "es")
	l.Decrement("100", "es")

	assert.True(t, reg.isActive("100", "es"))
	assert.Equal(t, 2, l.Count("100", "es"))
	assert.Zero(t, reg.deactivated)
}

func TestDecrementDeactivatesWhenRoomEmptyDespiteCounter(t *testing.T) {
	l, reg, rooms, _ := newLedger()

	l.Increment("100", "es")
	l.Increment("100", "es")
	rooms.set("100", "es", 0)
	l.Decrement("100", "es")

	assert.False(t, reg.isActive("100", "es"))
	assert.Equal(t, 0, l.Count("100", "es"))
}

func TestSnapshotSortedAndPerService(t *testing.T) {
	l, _, rooms, _ := newLedger()
	rooms.set("1", "fr", 1)

	l.Increment("1", "fr")
	l.Increment("1", "de")
	l.Increment("1", "es")
	l.Increment("2", "ja")

	assert.Equal(t, []domain.LanguageCount{
		{Name: "de", Subscribers: 1},
		{Name: "es", Subscribers: 1},
		{Name: "fr", Subscribers: 1},
	}, l.Snapshot("1"))
	assert.Equal(t, []domain.LanguageCount{{Name: "ja", Subscribers: 1}}, l.Snapshot("2"))
}

func TestEmitSendsCurrentSnapshot(t *testing.T) {
	l, _, _, snaps := newLedger()
	l.Increment("1", "es")
	l.Emit("1")
	assert.Equal(t, 2, snaps.n)
	l.Emit("unknown")
	assert.Equal(t, []domain.LanguageCount{}, snaps.last["unknown"])
}

func TestNetJoinsAcrossConcurrentSubscribers(t *testing.T) {
	l, reg, rooms, _ := newLedger()

	// Membership change and ledger call are paired under one lock, the same
	// way the broadcaster pairs them per service.
	var (
		wg      sync.WaitGroup
		svcMu   sync.Mutex
		members int
	)
	const joiners = 40

	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			svcMu.Lock()
			members++
			rooms.set("100", "es", members)
			l.Increment("100", "es")
			svcMu.Unlock()

			if i%2 == 0 {
				svcMu.Lock()
				members--
				rooms.set("100", "es", members)
				l.Decrement("100", "es")
				svcMu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.GreaterOrEqual(t, l.Count("100", "es"), 0)
	assert.Equal(t, joiners/2, l.Count("100", "es"))
	assert.True(t, reg.isActive("100", "es"))
}
