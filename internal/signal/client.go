package signal

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // enough for any SDP blob
)

// Client manages a participant's WebSocket connection to the relay.
type Client struct {
	conn     *websocket.Conn
	url      string
	incoming chan *Envelope
	outgoing chan *Envelope
	done     chan struct{}
	once     sync.Once
}

func NewClient(serverURL string) *Client {
	return &Client{
		url:      serverURL,
		incoming: make(chan *Envelope, 32),
		outgoing: make(chan *Envelope, 32),
		done:     make(chan struct{}),
	}
}

// Connect dials the relay and starts the read/write pumps.
func (c *Client) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("connect signaling relay: %w", err)
	}
	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
		// The connection is gone either way; release any blocked senders.
		c.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			log.Debug().Str("module", "signal.client").Err(err).Msg("read pump exit")
			return
		}
		c.incoming <- &env
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Send queues an envelope for delivery. It never blocks indefinitely: once
// either pump has exited, whether through Close or a dead connection, the
// envelope is silently dropped.
func (c *Client) Send(env *Envelope) {
	select {
	case c.outgoing <- env:
	case <-c.done:
	}
}

// Incoming is the stream of relay envelopes. Closed when the connection drops.
func (c *Client) Incoming() <-chan *Envelope { return c.incoming }

// Close shuts the connection down. Idempotent.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}
