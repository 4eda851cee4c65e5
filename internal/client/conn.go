package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"chatpulse/internal/core"
	"chatpulse/internal/domain"
)

const (
	dialTimeout  = 10 * time.Second
	sendDeadline = 5 * time.Second
	sendBuffer   = 32
)

// EventHandler receives every relay event, already split into its type tag
// and raw payload.
type EventHandler func(event string, data json.RawMessage)

// Conn is the signaling connection to the relay. Writes go through a
// buffered channel so callers never block on the socket.
type Conn struct {
	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool

	handler EventHandler
}

// Dial connects to the relay's /api/ws endpoint and starts the pumps.
// Events are delivered to handler sequentially from a single goroutine.
func Dial(ctx context.Context, url string, handler EventHandler) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Conn{
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		handler: handler,
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

// Send marshals v and queues it for delivery. Fails when the outbound
// buffer is full rather than blocking the caller.
func (c *Conn) Send(v any) error {
	frame, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

func (c *Conn) writePump() {
	defer c.ws.Close()
	for frame := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(sendDeadline))
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Error().Err(err).Str("module", "client.conn").Msg("write failed")
			return
		}
	}
	c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *Conn) readPump() {
	defer c.Close()
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "client.conn").Msg("connection lost")
			}
			return
		}
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(frame, &envelope); err != nil || envelope.Type == "" {
			log.Debug().Str("module", "client.conn").Msg("dropping untyped frame")
			continue
		}
		if c.handler != nil {
			c.handler(envelope.Type, frame)
		}
	}
}

// Setup identifies this connection to the relay. Must be the first event
// sent; everything else is dropped server-side until then.
func (c *Conn) Setup(uid domain.UserID) error {
	return c.Send(struct {
		Type   string        `json:"type"`
		UserID domain.UserID `json:"userId"`
	}{core.EvSetup, uid})
}

func (c *Conn) JoinRoom(chat domain.ChatID) error {
	return c.Send(struct {
		Type   string        `json:"type"`
		RoomID domain.ChatID `json:"roomId"`
	}{core.EvJoinRoom, chat})
}

func (c *Conn) LeaveRoom(chat domain.ChatID) error {
	return c.Send(struct {
		Type   string        `json:"type"`
		RoomID domain.ChatID `json:"roomId"`
	}{core.EvLeaveRoom, chat})
}

func (c *Conn) Typing(chat domain.ChatID, uid domain.UserID, name string) error {
	return c.Send(struct {
		Type     string        `json:"type"`
		ChatID   domain.ChatID `json:"chatId"`
		UserID   domain.UserID `json:"userId"`
		UserName string        `json:"userName,omitempty"`
	}{core.EvTyping, chat, uid, name})
}

func (c *Conn) StopTyping(chat domain.ChatID, uid domain.UserID) error {
	return c.Send(struct {
		Type   string        `json:"type"`
		ChatID domain.ChatID `json:"chatId"`
		UserID domain.UserID `json:"userId"`
	}{core.EvStopTyping, chat, uid})
}

func (c *Conn) NewMessage(chat domain.ChatID, sender domain.UserID, message json.RawMessage) error {
	return c.Send(struct {
		Type     string          `json:"type"`
		ChatID   domain.ChatID   `json:"chatId"`
		SenderID domain.UserID   `json:"senderId"`
		Message  json.RawMessage `json:"message"`
	}{core.EvNewMessage, chat, sender, message})
}

func (c *Conn) Ping() error {
	return c.Send(struct {
		Type string `json:"type"`
	}{core.EvPing})
}
