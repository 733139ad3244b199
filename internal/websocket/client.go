package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The game frontend is served from another origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one WebSocket connection
type Client struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// ClientMessage is a subscription request from the client
type ClientMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// close ends the write pump. The send channel is never closed so late
// replies from the read pump cannot panic.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue queues data for the write pump without blocking
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) reply(msgType, channel string, data interface{}) {
	payload, err := json.Marshal(Message{
		Type:      msgType,
		Channel:   channel,
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		return
	}
	c.enqueue(payload)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(MessageTypeError, "", map[string]string{"error": "invalid message format"})
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		if !knownChannel(msg.Channel) {
			c.reply(MessageTypeError, msg.Channel, map[string]string{"error": "unknown channel"})
			return
		}
		if msg.Type == MessageTypeSubscribe {
			c.hub.Subscribe(c, msg.Channel)
			c.reply(MessageTypeSubscribed, msg.Channel, nil)
		} else {
			c.hub.Unsubscribe(c, msg.Channel)
			c.reply(MessageTypeUnsubscribed, msg.Channel, nil)
		}

	case MessageTypePing:
		c.reply(MessageTypePong, "", nil)

	default:
		c.logger.Debug("unknown message type", "client_id", c.id, "type", msg.Type)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// requestedChannels reads ?channels=stats,payouts; no parameter means both
func requestedChannels(r *http.Request) []string {
	raw := r.URL.Query().Get("channels")
	if raw == "" {
		return []string{ChannelStats, ChannelPayouts}
	}

	var channels []string
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if knownChannel(name) {
			channels = append(channels, name)
		}
	}
	return channels
}

// ServeWs upgrades the request and subscribes the client to its requested channels
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	channels := requestedChannels(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)
	for _, channel := range channels {
		hub.Subscribe(client, channel)
	}

	go client.writePump()
	go client.readPump()

	logger.Debug("websocket connected", "client_id", client.id, "channels", channels)
}
