package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/rps-rewards/internal/domain"
)

// Channels a client can subscribe to
const (
	ChannelStats   = "stats"
	ChannelPayouts = "payouts"
)

// Message types
const (
	MessageTypeStatsUpdate  = "stats_update"
	MessageTypePayout       = "payout"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Channel   string      `json:"channel,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// knownChannel reports whether name is a channel the hub publishes on
func knownChannel(name string) bool {
	return name == ChannelStats || name == ChannelPayouts
}

type subscription struct {
	client  *Client
	channel string
	add     bool
}

// Hub fans stats and payout events out to subscribed clients
type Hub struct {
	channels   map[string]map[*Client]struct{}
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	subs       chan subscription
	mu         sync.RWMutex
	logger     *slog.Logger
	dropped    metrics.Counter

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		channels:   make(map[string]map[*Client]struct{}),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		subs:       make(chan subscription, 64),
		logger:     logger,
		dropped:    metrics.GetOrRegisterCounter("ws.dropped", metrics.DefaultRegistry),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			h.logger.Info("websocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.remove(client)

		case sub := <-h.subs:
			h.applySubscription(sub)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// Stop stops the hub and disconnects every client
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for name, members := range h.channels {
		delete(members, client)
		if len(members) == 0 {
			delete(h.channels, name)
		}
	}
	client.close()
	h.logger.Debug("client unregistered", "client_id", client.id)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.close()
	}
	h.clients = make(map[*Client]struct{})
	h.channels = make(map[string]map[*Client]struct{})
}

func (h *Hub) applySubscription(sub subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[sub.client]; !ok {
		return
	}
	if sub.add {
		if _, ok := h.channels[sub.channel]; !ok {
			h.channels[sub.channel] = make(map[*Client]struct{})
		}
		h.channels[sub.channel][sub.client] = struct{}{}
		return
	}
	if members, ok := h.channels[sub.channel]; ok {
		delete(members, sub.client)
		if len(members) == 0 {
			delete(h.channels, sub.channel)
		}
	}
}

// deliver writes a message to every subscriber of its channel.
// Slow clients miss messages rather than stall the hub.
func (h *Hub) deliver(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.channels[message.Channel] {
		if !client.enqueue(data) {
			h.dropped.Inc(1)
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) publish(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.dropped.Inc(1)
		h.logger.Warn("broadcast channel full, dropping message", "type", message.Type)
	}
}

// BroadcastStats publishes fresh stats on the stats channel
func (h *Hub) BroadcastStats(stats domain.Stats) {
	h.publish(&Message{
		Type:      MessageTypeStatsUpdate,
		Channel:   ChannelStats,
		Data:      stats,
		Timestamp: time.Now(),
	})
}

// BroadcastPayout publishes a settled reward on the payouts channel
func (h *Hub) BroadcastPayout(settlement domain.Settlement) {
	h.publish(&Message{
		Type:      MessageTypePayout,
		Channel:   ChannelPayouts,
		Data:      settlement,
		Timestamp: time.Now(),
	})
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to a channel
func (h *Hub) Subscribe(client *Client, channel string) {
	h.changeSubscription(subscription{client: client, channel: channel, add: true})
}

// Unsubscribe removes a client from a channel
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.changeSubscription(subscription{client: client, channel: channel})
}

func (h *Hub) changeSubscription(sub subscription) {
	select {
	case h.subs <- sub:
	case <-h.ctx.Done():
	}
}

// SubscriberCount returns the number of subscribers on a channel
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// TotalConnections returns the number of connected clients
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
