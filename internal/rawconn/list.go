package rawconn

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/edunderwood/transcript-translate-server/internal/domain"
	"github.com/edunderwood/transcript-translate-server/internal/wsconn"
	pkglog "github.com/edunderwood/transcript-translate-server/pkg/log"
)

// Name identifies the raw connection list among broadcaster transports.
const Name = "raw"

// Conn is a raw websocket bound to a single service at connect time.
type Conn struct {
	*wsconn.Conn

	ServiceID string
	OrgKey    string
}

// List tracks raw connections per service. Raw connections only receive
// service-wide publishes and messages for the reserved raw room, and only
// once they hold that room.
type List struct {
	mu       sync.RWMutex
	conns    map[string]*Conn
	services map[string]map[string]*Conn
	rooms    map[domain.RoomKey]map[string]struct{}
	config   wsconn.Config
}

// NewList creates an empty connection list.
func NewList(cfg wsconn.Config) *List {
	return &List{
		conns:    make(map[string]*Conn),
		services: make(map[string]map[string]*Conn),
		rooms:    make(map[domain.RoomKey]map[string]struct{}),
		config:   cfg,
	}
}

// Add wraps and tracks an upgraded connection for serviceID. The connection
// is not attached to the service until it joins the raw room.
func (l *List) Add(id, serviceID, orgKey string, ws *websocket.Conn) *Conn {
	c := &Conn{
		Conn:      wsconn.New(id, ws, l.config),
		ServiceID: serviceID,
		OrgKey:    orgKey,
	}

	l.mu.Lock()
	l.conns[id] = c
	l.mu.Unlock()

	log := pkglog.L()
	log.Debug().Str(pkglog.FieldSocketID, id).Str(pkglog.FieldServiceID, serviceID).Msg("raw connection added")
	return c
}

// Remove forgets a connection and closes its send queue.
func (l *List) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.conns[id]
	if !ok {
		return
	}
	delete(l.conns, id)
	l.detachLocked(c)
	for room, members := range l.rooms {
		delete(members, id)
		if len(members) == 0 {
			delete(l.rooms, room)
		}
	}
	c.Close()
}

// CloseAll closes every tracked connection.
func (l *List) CloseAll() {
	l.mu.RLock()
	ids := make([]string, 0, len(l.conns))
	for id := range l.conns {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	for _, id := range ids {
		l.Remove(id)
	}
}

// Len returns the number of connections attached to serviceID.
// Connections that have not joined the raw room are not counted.
func (l *List) Len(serviceID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.services[serviceID])
}

// Name implements broadcaster.Transport.
func (l *List) Name() string { return Name }

// JoinRoom records membership for a tracked connection. A raw connection can
// only hold rooms of the service it connected to.
func (l *List) JoinRoom(socketID string, room domain.RoomKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.conns[socketID]
	if !ok || c.ServiceID != room.ServiceID {
		return false
	}
	members, ok := l.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		l.rooms[room] = members
	}
	members[socketID] = struct{}{}
	if room.Channel == domain.ChannelRaw {
		attached, ok := l.services[c.ServiceID]
		if !ok {
			attached = make(map[string]*Conn)
			l.services[c.ServiceID] = attached
		}
		attached[socketID] = c
	}
	return true
}

// LeaveRoom removes a room membership. Leaving the raw room detaches the
// connection from service-wide publishes.
func (l *List) LeaveRoom(socketID string, room domain.RoomKey) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.conns[socketID]; ok && room.Channel == domain.ChannelRaw && room.ServiceID == c.ServiceID {
		l.detachLocked(c)
	}
	if members, ok := l.rooms[room]; ok {
		delete(members, socketID)
		if len(members) == 0 {
			delete(l.rooms, room)
		}
	}
}

func (l *List) detachLocked(c *Conn) {
	members, ok := l.services[c.ServiceID]
	if !ok {
		return
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(l.services, c.ServiceID)
	}
}

// RoomSize returns the number of connections holding room.
func (l *List) RoomSize(room domain.RoomKey) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rooms[room])
}

// PublishRoom delivers only to the reserved raw room.
func (l *List) PublishRoom(room domain.RoomKey, message []byte) int {
	if room.Channel != domain.ChannelRaw {
		return 0
	}

	l.mu.RLock()
	targets := make([]*Conn, 0, len(l.rooms[room]))
	for id := range l.rooms[room] {
		if c, ok := l.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	l.mu.RUnlock()

	return l.sendAll(targets, message)
}

// PublishService delivers to every connection of the service. Raw
// connections belong to the participant audience.
func (l *List) PublishService(serviceID string, audience domain.Audience, message []byte) int {
	if !audience.Includes(domain.AudienceParticipant) {
		return 0
	}

	l.mu.RLock()
	targets := make([]*Conn, 0, len(l.services[serviceID]))
	for _, c := range l.services[serviceID] {
		targets = append(targets, c)
	}
	l.mu.RUnlock()

	return l.sendAll(targets, message)
}

func (l *List) sendAll(targets []*Conn, message []byte) int {
	sent := 0
	for _, c := range targets {
		if c.Send(message) {
			sent++
			continue
		}
		log := pkglog.L()
		log.Warn().Str(pkglog.FieldSocketID, c.ID).Msg("raw connection send buffer full, dropping connection")
		go l.Remove(c.ID)
	}
	return sent
}
