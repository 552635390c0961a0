package hub

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/edunderwood/transcript-translate-server/internal/domain"
	"github.com/edunderwood/transcript-translate-server/internal/wsconn"
	pkglog "github.com/edunderwood/transcript-translate-server/pkg/log"
)

// Name identifies the hub among broadcaster transports.
const Name = "hub"

// DisconnectHandler is called when a client disconnects.
type DisconnectHandler func(*Client)

// Client is a websocket connected to the room hub.
type Client struct {
	*wsconn.Conn

	Hub      *Hub
	Audience domain.Audience

	disconnectHandler DisconnectHandler
}

// SetDisconnectHandler sets the handler to be called on disconnect.
func (c *Client) SetDisconnectHandler(handler DisconnectHandler) {
	c.disconnectHandler = handler
}

// Hub tracks websocket clients and their room memberships.
type Hub struct {
	clients  map[string]*Client
	rooms    map[domain.RoomKey]map[string]*Client
	services map[string]map[string]int // serviceID -> clientID -> rooms held in that service

	unregister chan *Client
	broadcast  chan *delivery
	done       chan struct{}
	stopOnce   sync.Once

	mu     sync.RWMutex
	config wsconn.Config
}

type delivery struct {
	room      *domain.RoomKey
	serviceID string
	audience  domain.Audience
	message   []byte
}

// NewHub creates a new Hub.
func NewHub(cfg wsconn.Config) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[domain.RoomKey]map[string]*Client),
		services:   make(map[string]map[string]int),
		unregister: make(chan *Client),
		broadcast:  make(chan *delivery, 1024),
		done:       make(chan struct{}),
		config:     cfg,
	}
}

// NewClient wraps an upgraded connection. The client is not registered.
func (h *Hub) NewClient(id string, conn *websocket.Conn, audience domain.Audience) *Client {
	return &Client{
		Conn:     wsconn.New(id, conn, h.config),
		Hub:      h,
		Audience: audience,
	}
}

// Run delivers broadcasts and processes unregistrations until Stop.
func (h *Hub) Run() {
	l := pkglog.L()
	for {
		select {
		case <-h.done:
			return

		case client := <-h.unregister:
			h.remove(client)
			l.Debug().Str(pkglog.FieldSocketID, client.ID).Msg("client unregistered")

		case d := <-h.broadcast:
			h.deliver(d)
		}
	}
}

// Stop closes every client and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		for _, c := range h.clients {
			c.Close()
		}
		h.mu.Unlock()
	})
}

// Register adds a client to the hub. It is visible to JoinRoom on return.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	l := pkglog.L()
	l.Debug().
		Str(pkglog.FieldSocketID, client.ID).
		Str(pkglog.FieldAudience, client.Audience.String()).
		Msg("client registered")
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	for room, members := range h.rooms {
		if _, ok := members[client.ID]; ok {
			delete(members, client.ID)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	for serviceID, members := range h.services {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.services, serviceID)
		}
	}
	delete(h.clients, client.ID)
	client.Close()
}

func (h *Hub) removeClient(client *Client) {
	h.Unregister(client)
}

func (h *Hub) deliver(d *delivery) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	send := func(client *Client) {
		if !client.Send(d.message) {
			go h.removeClient(client)
		}
	}

	if d.room != nil {
		for _, client := range h.rooms[*d.room] {
			send(client)
		}
		return
	}
	for clientID := range h.services[d.serviceID] {
		client, ok := h.clients[clientID]
		if !ok || !d.audience.Includes(client.Audience) {
			continue
		}
		send(client)
	}
}

func (h *Hub) enqueue(d *delivery) {
	select {
	case h.broadcast <- d:
	case <-h.done:
	}
}

// Name implements broadcaster.Transport.
func (h *Hub) Name() string { return Name }

// JoinRoom adds a registered client to a room. It returns false when the
// client is unknown.
func (h *Hub) JoinRoom(socketID string, room domain.RoomKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[socketID]
	if !ok {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	if _, ok := members[socketID]; ok {
		return true
	}
	members[socketID] = client

	held, ok := h.services[room.ServiceID]
	if !ok {
		held = make(map[string]int)
		h.services[room.ServiceID] = held
	}
	held[socketID]++
	return true
}

// LeaveRoom removes a client from a room.
func (h *Hub) LeaveRoom(socketID string, room domain.RoomKey) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		return
	}
	if _, ok := members[socketID]; !ok {
		return
	}
	delete(members, socketID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}

	if held, ok := h.services[room.ServiceID]; ok {
		held[socketID]--
		if held[socketID] <= 0 {
			delete(held, socketID)
		}
		if len(held) == 0 {
			delete(h.services, room.ServiceID)
		}
	}
}

// RoomSize returns the number of clients in a room.
func (h *Hub) RoomSize(room domain.RoomKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// PublishRoom queues message for every client in room and returns the number
// of recipients at the time of the call.
func (h *Hub) PublishRoom(room domain.RoomKey, message []byte) int {
	n := h.RoomSize(room)
	if n == 0 {
		return 0
	}
	h.enqueue(&delivery{room: &room, message: message})
	return n
}

// PublishService queues message for every client holding any room of the
// service whose audience is selected.
func (h *Hub) PublishService(serviceID string, audience domain.Audience, message []byte) int {
	h.mu.RLock()
	n := 0
	for clientID := range h.services[serviceID] {
		if c, ok := h.clients[clientID]; ok && audience.Includes(c.Audience) {
			n++
		}
	}
	h.mu.RUnlock()
	if n == 0 {
		return 0
	}
	h.enqueue(&delivery{serviceID: serviceID, audience: audience, message: message})
	return n
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ReadPump reads messages until the connection closes, then runs the
// disconnect handler and unregisters the client.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		if c.disconnectHandler != nil {
			c.disconnectHandler(c)
		}
		c.Hub.Unregister(c)
	}()

	c.Conn.ReadPump(func(message []byte) {
		handler(c, message)
	})
}
