package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/edunderwood/transcript-translate-server/internal/domain"
	"github.com/edunderwood/transcript-translate-server/internal/hub"
	"github.com/edunderwood/transcript-translate-server/internal/rawconn"
	pkglog "github.com/edunderwood/transcript-translate-server/pkg/log"
	"github.com/edunderwood/transcript-translate-server/pkg/response"
)

// WSHandler upgrades participant, control and raw websocket connections.
type WSHandler struct {
	hub        *hub.Hub
	raw        *rawconn.List
	rooms      Rooms
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(h *hub.Hub, raw *rawconn.List, rooms Rooms, dispatcher *Dispatcher) *WSHandler {
	return &WSHandler{
		hub:        h,
		raw:        raw,
		rooms:      rooms,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// connContext outlives the request but keeps its logger.
func connContext(r *http.Request, socketID string) context.Context {
	l := pkglog.Ctx(r.Context()).With().Str(pkglog.FieldSocketID, socketID).Logger()
	return pkglog.WithLogger(context.Background(), l)
}

// HandleParticipant handles GET /ws.
func (h *WSHandler) HandleParticipant(w http.ResponseWriter, r *http.Request) {
	h.serveHub(w, r, domain.AudienceParticipant)
}

// HandleControl handles GET /control.
func (h *WSHandler) HandleControl(w http.ResponseWriter, r *http.Request) {
	h.serveHub(w, r, domain.AudienceControl)
}

func (h *WSHandler) serveHub(w http.ResponseWriter, r *http.Request, audience domain.Audience) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := pkglog.Ctx(r.Context())
		l.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := uuid.New().String()
	ctx := connContext(r, clientID)
	client := h.hub.NewClient(clientID, conn, audience)
	peer := &Peer{ID: clientID, Audience: audience, Conn: client}

	client.SetDisconnectHandler(func(c *hub.Client) {
		h.dispatcher.Disconnect(c.ID)
	})

	h.hub.Register(client)
	h.rooms.Connect(clientID, h.hub, audience)

	l := pkglog.Ctx(ctx)
	l.Info().Str(pkglog.FieldAudience, audience.String()).Msg("websocket connected")

	go client.WritePump()
	go client.ReadPump(func(c *hub.Client, message []byte) {
		h.dispatcher.Dispatch(ctx, peer, message)
	})
}

// HandleRaw handles GET /raw?serviceId=. The connection joins the service's
// raw room and receives every service-wide broadcast.
func (h *WSHandler) HandleRaw(w http.ResponseWriter, r *http.Request) {
	serviceID := strings.TrimSpace(r.URL.Query().Get("serviceId"))
	if serviceID == "" {
		response.BadRequest(w, r, domain.ErrMissingServiceID.Error())
		return
	}
	orgKey := r.URL.Query().Get("orgKey")

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := pkglog.Ctx(r.Context())
		l.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.New().String()
	ctx := connContext(r, connID)
	l := pkglog.ForService(ctx, serviceID)

	conn := h.raw.Add(connID, serviceID, orgKey, ws)
	peer := &Peer{ID: connID, Audience: domain.AudienceParticipant, Raw: true, Conn: conn}
	h.rooms.Connect(connID, h.raw, domain.AudienceParticipant)

	go conn.WritePump()

	if err := h.rooms.Join(ctx, connID, domain.NewRoomKey(serviceID, domain.ChannelRaw), orgKey); err != nil {
		l.Warn().Err(err).Msg("raw connection rejected")
		replyError(peer, domain.ErrCodeJoinRejected, "join rejected")
		h.rooms.Disconnect(connID)
		h.raw.Remove(connID)
		return
	}

	l.Info().Msg("raw connection attached")

	go func() {
		defer func() {
			h.rooms.Disconnect(connID)
			h.raw.Remove(connID)
			l.Info().Msg("raw connection closed")
		}()
		conn.ReadPump(func(message []byte) {
			h.dispatcher.Dispatch(ctx, peer, message)
		})
	}()
}

// RegisterRoutes registers the websocket routes.
func (h *WSHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", h.HandleParticipant).Methods(http.MethodGet)
	router.HandleFunc("/control", h.HandleControl).Methods(http.MethodGet)
	router.HandleFunc("/raw", h.HandleRaw).Methods(http.MethodGet)
}
