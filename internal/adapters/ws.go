package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/oasis-mind/sessioncore/internal/core"
	"github.com/oasis-mind/sessioncore/internal/domain"
	"github.com/oasis-mind/sessioncore/internal/relay"
	"github.com/oasis-mind/sessioncore/internal/signal"
)

var ErrBackpressure = errors.New("backpressure")

const writeWait = 5 * time.Second

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// WSConnection is one participant's signaling endpoint on the server side.
// It implements core.SignalConnection.
type WSConnection struct {
	conn WSConn
	send chan core.Frame
	once sync.Once
}

func NewWSConnection(conn WSConn) *WSConnection {
	return &WSConnection{
		conn: conn,
		send: make(chan core.Frame, 64),
	}
}

func (c *WSConnection) TrySend(f core.Frame) error {
	select {
	case c.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *WSConnection) Close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

// Controller owns the websocket upgrade endpoint and drives the relay from
// each connection's read loop.
type Controller struct {
	Relay      *relay.Relay
	ReadLimit  int64
	PingPeriod time.Duration
}

// Serve runs the connection until the participant disconnects. One goroutine
// per connection reads; a second one writes. The relay is always informed on
// exit so the participant cannot leak room membership.
func (ctl *Controller) Serve(ctx context.Context, ws WSConn) {
	conn := NewWSConnection(ws)
	member := &core.Member{
		Participant: domain.NewParticipant("", ""),
		Conn:        conn,
	}
	log.Info().Str("module", "adapters.ws").
		Str("participant", string(member.Participant.ID)).
		Msg("new signaling connection")

	go ctl.writePump(ctx, conn)
	ctl.readPump(ctx, member, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *WSConnection) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Str("module", "adapters.ws").Err(err).Msg("write pump exit")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, member *core.Member, c *WSConnection) {
	pongWait := ctl.PingPeriod * 10 / 9
	defer func() {
		log.Info().Str("module", "adapters.ws").
			Str("participant", string(member.Participant.ID)).
			Msg("signaling connection closed")
		ctl.Relay.Disconnect(member)
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		ctl.handle(member, c, data)
	}
}

func (ctl *Controller) handle(member *core.Member, c *WSConnection, data []byte) {
	var env signal.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Str("module", "adapters.ws").Err(err).Msg("bad envelope")
		return
	}

	switch {
	case env.Type == signal.TypeJoinRoom:
		ctl.handleJoin(member, c, &env)
	case signal.IsForward(env.Type):
		ctl.Relay.Forward(member, &env)
	case env.Type == signal.TypePing:
		ctl.reply(c, &signal.Envelope{Type: signal.TypePong})
	default:
		log.Warn().Str("module", "adapters.ws").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *Controller) handleJoin(member *core.Member, c *WSConnection, env *signal.Envelope) {
	role, err := domain.ParseRole(string(env.Role))
	if err != nil {
		ctl.reply(c, &signal.Envelope{Type: signal.TypeError, Error: "unknown role"})
		return
	}
	if env.Room == "" {
		ctl.reply(c, &signal.Envelope{Type: signal.TypeError, Error: "missing room"})
		return
	}
	member.Participant.Role = role
	if env.Name != "" {
		member.Participant.Name = env.Name
	}
	ctl.Relay.Join(member, env.Room)
}

func (ctl *Controller) reply(c *WSConnection, env *signal.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	_ = c.TrySend(core.Frame(data))
}
