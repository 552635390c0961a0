package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/edunderwood/transcript-translate-server/internal/broadcaster"
	"github.com/edunderwood/transcript-translate-server/internal/domain"
	"github.com/edunderwood/transcript-translate-server/internal/kafka"
	"github.com/edunderwood/transcript-translate-server/internal/pipeline"
	"github.com/edunderwood/transcript-translate-server/internal/translation"
	pkglog "github.com/edunderwood/transcript-translate-server/pkg/log"
)

// Rooms is the socket-to-room mapping.
type Rooms interface {
	Connect(socketID string, transport broadcaster.Transport, audience domain.Audience)
	Join(ctx context.Context, socketID string, room domain.RoomKey, orgKey string) error
	Leave(socketID string, room domain.RoomKey) error
	Disconnect(socketID string) []domain.RoomKey
}

// Liveness receives presenter signals.
type Liveness interface {
	OnHeartbeat(serviceID, status string)
	OnAttach(serviceID string)
	OnStreamingStarted(serviceID string)
	OnStreamingStopped(serviceID string)
}

// Transcripts fans a transcript out to translations.
type Transcripts interface {
	HandleTranscript(ctx context.Context, serviceID, transcript string) error
}

// Snapshots re-emits the subscriber snapshot of a service.
type Snapshots interface {
	Emit(serviceID string)
}

// Sender writes an encoded message to one socket.
type Sender interface {
	Send(message []byte) bool
}

// Peer is the connection an event arrived on.
type Peer struct {
	ID       string
	Audience domain.Audience
	Raw      bool
	Conn     Sender
}

// Dispatcher routes wire events to the core components.
type Dispatcher struct {
	rooms       Rooms
	liveness    Liveness
	transcripts Transcripts
	snapshots   Snapshots
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(rooms Rooms, liveness Liveness, transcripts Transcripts, snapshots Snapshots) *Dispatcher {
	return &Dispatcher{
		rooms:       rooms,
		liveness:    liveness,
		transcripts: transcripts,
		snapshots:   snapshots,
	}
}

func reply(p *Peer, event string, payload interface{}) {
	if p == nil || p.Conn == nil {
		return
	}
	msg, err := domain.NewEnvelope(event, payload)
	if err != nil {
		l := pkglog.L()
		l.Error().Err(err).Str(pkglog.FieldEvent, event).Msg("failed to encode reply")
		return
	}
	p.Conn.Send(msg)
}

func replyError(p *Peer, code, message string) {
	reply(p, domain.EventError, domain.ErrorPayload{Code: code, Message: message})
}

// Dispatch handles one raw message from a socket. Failures are reported to
// the socket and logged; they never close the connection.
func (d *Dispatcher) Dispatch(ctx context.Context, p *Peer, message []byte) {
	l := pkglog.Ctx(ctx).With().Str(pkglog.FieldSocketID, p.ID).Logger()

	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Msg("event handler panicked")
			replyError(p, domain.ErrCodeInternalError, "internal error")
		}
	}()

	var env domain.Envelope
	if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
		replyError(p, domain.ErrCodeBadRequest, "Invalid message format")
		return
	}

	l = l.With().Str(pkglog.FieldEvent, env.Event).Logger()
	ctx = pkglog.WithLogger(ctx, l)

	var err error
	switch env.Event {
	case domain.EventJoin:
		err = d.handleJoin(ctx, p, env.Data)
	case domain.EventLeave:
		err = d.handleLeave(p, env.Data)
	case domain.EventPing:
		reply(p, domain.EventPong, nil)
	case domain.EventHeartbeat, domain.EventTranscriptReady, domain.EventStreamingStarted, domain.EventStreamingStopped:
		if p.Audience != domain.AudienceControl {
			replyError(p, domain.ErrCodeBadRequest, "presenter events require a control connection")
			return
		}
		err = d.handlePresenter(ctx, env.Event, env.Data)
		if errors.Is(err, errBadPayload) {
			replyError(p, domain.ErrCodeBadRequest, err.Error())
		}
	default:
		replyError(p, domain.ErrCodeUnknownEvent, "Unknown event: "+env.Event)
		return
	}

	if err != nil {
		l.Warn().Err(err).Msg("event dropped")
	}
}

var errBadPayload = errors.New("invalid payload")

func (d *Dispatcher) handleJoin(ctx context.Context, p *Peer, data json.RawMessage) error {
	if p.Raw {
		replyError(p, domain.ErrCodeBadRequest, "raw connections cannot change rooms")
		return nil
	}
	req, err := domain.ParseRoomRequest(data)
	if err != nil {
		replyError(p, domain.ErrCodeBadRequest, err.Error())
		return err
	}

	if err := d.rooms.Join(ctx, p.ID, req.Room, req.OrgKey); err != nil {
		msg := "join rejected"
		if errors.Is(err, translation.ErrInvalidOrgKey) {
			msg = translation.ErrInvalidOrgKey.Error()
		}
		replyError(p, domain.ErrCodeJoinRejected, msg)
		return err
	}

	if p.Audience == domain.AudienceControl {
		d.liveness.OnAttach(req.Room.ServiceID)
		d.snapshots.Emit(req.Room.ServiceID)
	}
	return nil
}

func (d *Dispatcher) handleLeave(p *Peer, data json.RawMessage) error {
	if p.Raw {
		replyError(p, domain.ErrCodeBadRequest, "raw connections cannot change rooms")
		return nil
	}
	req, err := domain.ParseRoomRequest(data)
	if err != nil {
		replyError(p, domain.ErrCodeBadRequest, err.Error())
		return err
	}
	return d.rooms.Leave(p.ID, req.Room)
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", errBadPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return nil
}

func (d *Dispatcher) handlePresenter(ctx context.Context, event string, data json.RawMessage) error {
	switch event {
	case domain.EventHeartbeat:
		var hb domain.HeartbeatPayload
		if err := decode(data, &hb); err != nil {
			return err
		}
		return d.presenterEvent(ctx, event, hb.ServiceCode, hb.Status, "")

	case domain.EventTranscriptReady:
		var tr domain.TranscriptReadyPayload
		if err := decode(data, &tr); err != nil {
			return err
		}
		return d.presenterEvent(ctx, event, tr.ServiceCode, "", tr.Transcript)

	default:
		var sp domain.StreamingPayload
		if err := decode(data, &sp); err != nil {
			return err
		}
		return d.presenterEvent(ctx, event, sp.ServiceID, "", "")
	}
}

func (d *Dispatcher) presenterEvent(ctx context.Context, event, serviceID, status, transcript string) error {
	if serviceID == "" {
		return fmt.Errorf("%w: %v", errBadPayload, domain.ErrMissingServiceID)
	}

	switch event {
	case domain.EventHeartbeat:
		d.liveness.OnHeartbeat(serviceID, status)
	case domain.EventStreamingStarted:
		d.liveness.OnStreamingStarted(serviceID)
	case domain.EventStreamingStopped:
		d.liveness.OnStreamingStopped(serviceID)
	case domain.EventTranscriptReady:
		err := d.transcripts.HandleTranscript(ctx, serviceID, transcript)
		if errors.Is(err, pipeline.ErrUnknownService) || errors.Is(err, pipeline.ErrServiceOffline) {
			l := pkglog.Ctx(ctx)
			l.Debug().Err(err).Str(pkglog.FieldServiceID, serviceID).Msg("transcript ignored")
			return nil
		}
		return err
	default:
		return fmt.Errorf("unknown presenter event %q", event)
	}
	return nil
}

// HandlePresenterEvent implements kafka.PresenterEventHandler.
func (d *Dispatcher) HandlePresenterEvent(ctx context.Context, event *kafka.PresenterEvent) error {
	return d.presenterEvent(ctx, event.Type, event.ServiceID, event.Status, event.Transcript)
}

// Disconnect releases every room held by a socket.
func (d *Dispatcher) Disconnect(socketID string) {
	d.rooms.Disconnect(socketID)
}
