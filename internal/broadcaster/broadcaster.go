package broadcaster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/edunderwood/transcript-translate-server/internal/domain"
	pkglog "github.com/edunderwood/transcript-translate-server/pkg/log"
)

var (
	// ErrUnknownSocket is returned for operations on a socket that was never
	// connected or has already disconnected.
	ErrUnknownSocket = errors.New("unknown socket")
	// ErrJoinRejected is returned when the transport refuses a membership.
	ErrJoinRejected = errors.New("join rejected by transport")
)

// Transport is a fan-out mechanism holding room memberships for its sockets.
type Transport interface {
	Name() string
	JoinRoom(socketID string, room domain.RoomKey) bool
	LeaveRoom(socketID string, room domain.RoomKey)
	RoomSize(room domain.RoomKey) int
	PublishRoom(room domain.RoomKey, message []byte) int
	PublishService(serviceID string, audience domain.Audience, message []byte) int
}

// Ledger is the subscriber counter fed by joins and leaves.
type Ledger interface {
	Increment(serviceID, lang string)
	Decrement(serviceID, lang string)
}

// Registrar wires a service into the translation collaborator.
type Registrar interface {
	EnsureWired(ctx context.Context, serviceID, orgKey string) error
}

type socket struct {
	id        string
	transport Transport
	audience  domain.Audience

	mu    sync.Mutex
	rooms map[domain.RoomKey]struct{}
}

func (s *socket) holds(room domain.RoomKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[room]
	return ok
}

func (s *socket) set(room domain.RoomKey, held bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held {
		s.rooms[room] = struct{}{}
	} else {
		delete(s.rooms, room)
	}
}

// Broadcaster maps sockets to rooms across transports and keeps the ledger in
// step with transport membership.
type Broadcaster struct {
	ledger     Ledger
	registrar  Registrar
	transports []Transport

	socketsMu sync.RWMutex
	sockets   map[string]*socket

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	wireGroup singleflight.Group
	wiredMu   sync.RWMutex
	wired     map[string]struct{}
}

// New creates a broadcaster over the given transports. registrar may be nil.
func New(ledger Ledger, registrar Registrar, transports ...Transport) *Broadcaster {
	return &Broadcaster{
		ledger:     ledger,
		registrar:  registrar,
		transports: transports,
		sockets:    make(map[string]*socket),
		locks:      make(map[string]*sync.Mutex),
		wired:      make(map[string]struct{}),
	}
}

func (b *Broadcaster) serviceLock(serviceID string) *sync.Mutex {
	b.locksMu.Lock()
	defer b.locksMu.Unlock()
	mu, ok := b.locks[serviceID]
	if !ok {
		mu = &sync.Mutex{}
		b.locks[serviceID] = mu
	}
	return mu
}

// Connect starts tracking a socket owned by transport.
func (b *Broadcaster) Connect(socketID string, transport Transport, audience domain.Audience) {
	b.socketsMu.Lock()
	b.sockets[socketID] = &socket{
		id:        socketID,
		transport: transport,
		audience:  audience,
		rooms:     make(map[domain.RoomKey]struct{}),
	}
	b.socketsMu.Unlock()
}

func (b *Broadcaster) socket(socketID string) (*socket, bool) {
	b.socketsMu.RLock()
	defer b.socketsMu.RUnlock()
	s, ok := b.sockets[socketID]
	return s, ok
}

// Join subscribes a socket to room after making sure the service is wired.
// A wiring failure leaves every structure untouched.
func (b *Broadcaster) Join(ctx context.Context, socketID string, room domain.RoomKey, orgKey string) error {
	s, ok := b.socket(socketID)
	if !ok {
		return ErrUnknownSocket
	}
	if err := b.ensureWired(ctx, room.ServiceID, orgKey); err != nil {
		return fmt.Errorf("wire service %s: %w", room.ServiceID, err)
	}

	mu := b.serviceLock(room.ServiceID)
	mu.Lock()
	defer mu.Unlock()

	if s.holds(room) {
		return nil
	}
	if !s.transport.JoinRoom(socketID, room) {
		return ErrJoinRejected
	}
	s.set(room, true)
	if room.IsLanguage() {
		b.ledger.Increment(room.ServiceID, room.Channel)
	}

	log := pkglog.L()
	log.Debug().
		Str(pkglog.FieldSocketID, socketID).
		Str(pkglog.FieldServiceID, room.ServiceID).
		Str(pkglog.FieldChannel, room.Channel).
		Msg("socket joined room")
	return nil
}

// Leave unsubscribes a socket from room. Leaving a room the socket does not
// hold is a no-op.
func (b *Broadcaster) Leave(socketID string, room domain.RoomKey) error {
	s, ok := b.socket(socketID)
	if !ok {
		return ErrUnknownSocket
	}

	mu := b.serviceLock(room.ServiceID)
	mu.Lock()
	defer mu.Unlock()

	b.leaveLocked(s, room)
	return nil
}

func (b *Broadcaster) leaveLocked(s *socket, room domain.RoomKey) {
	if !s.holds(room) {
		return
	}
	s.transport.LeaveRoom(s.id, room)
	s.set(room, false)
	if room.IsLanguage() {
		b.ledger.Decrement(room.ServiceID, room.Channel)
	}
}

// Disconnect reconciles every room the socket held and forgets it. It
// returns the rooms that were released.
func (b *Broadcaster) Disconnect(socketID string) []domain.RoomKey {
	b.socketsMu.Lock()
	s, ok := b.sockets[socketID]
	delete(b.sockets, socketID)
	b.socketsMu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	rooms := make([]domain.RoomKey, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.mu.Unlock()
	sortRooms(rooms)

	for _, room := range rooms {
		mu := b.serviceLock(room.ServiceID)
		mu.Lock()
		b.leaveLocked(s, room)
		mu.Unlock()
	}

	log := pkglog.L()
	log.Debug().Str(pkglog.FieldSocketID, socketID).Int(pkglog.FieldCount, len(rooms)).Msg("socket disconnected")
	return rooms
}

// Rooms returns the rooms a socket currently holds.
func (b *Broadcaster) Rooms(socketID string) []domain.RoomKey {
	s, ok := b.socket(socketID)
	if !ok {
		return nil
	}
	s.mu.Lock()
	rooms := make([]domain.RoomKey, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.mu.Unlock()
	sortRooms(rooms)
	return rooms
}

func sortRooms(rooms []domain.RoomKey) {
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].String() < rooms[j].String() })
}

// RoomSize sums membership of room across transports.
func (b *Broadcaster) RoomSize(serviceID, channel string) int {
	room := domain.NewRoomKey(serviceID, channel)
	n := 0
	for _, t := range b.transports {
		n += t.RoomSize(room)
	}
	return n
}

// Publish sends event to every socket in the room on every transport.
func (b *Broadcaster) Publish(serviceID, channel, event string, payload interface{}) (int, error) {
	msg, err := domain.NewEnvelope(event, payload)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", event, err)
	}
	room := domain.NewRoomKey(serviceID, channel)
	n := 0
	for _, t := range b.transports {
		n += t.PublishRoom(room, msg)
	}
	return n, nil
}

// PublishToAll sends event once to every socket attached to the service.
func (b *Broadcaster) PublishToAll(serviceID, event string, payload interface{}) (int, error) {
	return b.PublishToAudience(serviceID, domain.AudienceBoth, event, payload)
}

// PublishToAudience sends event once to every socket of the service whose
// audience is selected.
func (b *Broadcaster) PublishToAudience(serviceID string, audience domain.Audience, event string, payload interface{}) (int, error) {
	msg, err := domain.NewEnvelope(event, payload)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", event, err)
	}
	n := 0
	for _, t := range b.transports {
		n += t.PublishService(serviceID, audience, msg)
	}
	return n, nil
}

// EmitSubscribers publishes a ledger snapshot to the monitor audience. It
// matches ledger.SnapshotFunc.
func (b *Broadcaster) EmitSubscribers(serviceID string, languages []domain.LanguageCount) {
	if languages == nil {
		languages = []domain.LanguageCount{}
	}
	_, err := b.PublishToAudience(serviceID, domain.AudienceControl, domain.EventSubscribers, domain.SubscribersPayload{Languages: languages})
	if err != nil {
		log := pkglog.L()
		log.Error().Err(err).Str(pkglog.FieldServiceID, serviceID).Msg("emit subscribers failed")
	}
}

// IsWired reports whether the service completed translation registration.
func (b *Broadcaster) IsWired(serviceID string) bool {
	b.wiredMu.RLock()
	defer b.wiredMu.RUnlock()
	_, ok := b.wired[serviceID]
	return ok
}

func (b *Broadcaster) ensureWired(ctx context.Context, serviceID, orgKey string) error {
	if b.IsWired(serviceID) {
		return nil
	}
	_, err, _ := b.wireGroup.Do(serviceID, func() (interface{}, error) {
		if b.IsWired(serviceID) {
			return nil, nil
		}
		if b.registrar != nil {
			if err := b.registrar.EnsureWired(ctx, serviceID, orgKey); err != nil {
				return nil, err
			}
		}
		b.wiredMu.Lock()
		b.wired[serviceID] = struct{}{}
		b.wiredMu.Unlock()

		log := pkglog.L()
		log.Info().Str(pkglog.FieldServiceID, serviceID).Msg("service wired for translation")
		return nil, nil
	})
	return err
}
