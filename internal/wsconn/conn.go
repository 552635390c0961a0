package wsconn

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	pkglog "github.com/edunderwood/transcript-translate-server/pkg/log"
)

// Config holds websocket pump settings.
type Config struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

// DefaultConfig mirrors the defaults in internal/config.
func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 8192,
		SendBuffer:     256,
	}
}

// Conn is one websocket connection with a buffered outbound queue drained by
// WritePump. Send and Close may be called from any goroutine.
type Conn struct {
	ID string

	ws  *websocket.Conn
	cfg Config

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// New wraps an upgraded websocket connection.
func New(id string, ws *websocket.Conn, cfg Config) *Conn {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &Conn{
		ID:   id,
		ws:   ws,
		cfg:  cfg,
		send: make(chan []byte, cfg.SendBuffer),
	}
}

// Send queues msg without blocking. It returns false when the connection is
// closed or its buffer is full.
func (c *Conn) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which sends a close frame. Safe to call twice.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ReadPump reads messages until the connection fails and hands each one to
// handle. It closes the underlying connection before returning.
func (c *Conn) ReadPump(handle func([]byte)) {
	defer c.ws.Close()

	if c.cfg.MaxMessageSize > 0 {
		c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	}
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l := pkglog.L()
				l.Warn().Err(err).Str(pkglog.FieldSocketID, c.ID).Msg("websocket read error")
			}
			return
		}
		handle(message)
	}
}

// WritePump drains the send queue and keeps the connection alive with pings.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
