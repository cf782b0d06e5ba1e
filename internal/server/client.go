package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one websocket connection: a read pump feeding the relay's event
// channel and a write pump draining the send queue. The connection id is
// assigned server-side and identifies the member in whatever room it joins.
type Client struct {
	id    string
	conn  *websocket.Conn
	relay *RelayServer
	log   *log.Logger
	send  chan *ServerEvent

	// groups tracks the broadcast groups this connection is subscribed to.
	// Owned by the relay run loop.
	groups map[string]struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(conn *websocket.Conn, rs *RelayServer, l *log.Logger) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		relay:  rs,
		log:    l,
		send:   make(chan *ServerEvent, 256),
		groups: make(map[string]struct{}),
		stop:   make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(ev)
			if err != nil {
				c.log.Println("failed to serialize event:", err)
				continue
			}

			if !c.writeFrame(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeFrame(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var ev ClientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Println("error parsing event:", err)
			c.queueEvent(errEvent("invalid event format"))
			continue
		}

		ev.conn = c
		select {
		case c.relay.eventChan <- &ev:
		case <-c.stop:
			return
		default:
			c.log.Printf("event channel full, dropping %q from %s", ev.Event, c.id)
			c.queueEvent(errEvent(failureMessage(ev.Event)))
		}
	}
}

// writeFrame writes a single frame with the write deadline applied,
// reporting whether the write succeeded.
func (c *Client) writeFrame(messageType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.log.Printf("ws: write: %v", err)
		return false
	}

	return true
}

// queueEvent puts ev on the send queue without blocking; a slow consumer
// loses events rather than stalling the relay loop.
func (c *Client) queueEvent(ev *ServerEvent) bool {
	select {
	case c.send <- ev:
	default:
		c.log.Printf("send queue full for %s, dropping %q", c.id, ev.Event)
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.relay.deRegisterClient(c)
	c.stopClient()
}
