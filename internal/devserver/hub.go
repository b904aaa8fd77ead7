package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/fluxbase-eu/fluxpack/internal/pubsub"
)

// wsConn is the part of a websocket connection the hub writes to.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// client is one connected reload client. Writes are serialized because
// the hub and the connection's heartbeat both write to it.
type client struct {
	id   string
	conn wsConn
	mu   sync.Mutex
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) sendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.send(data)
}

// Hub forwards build notifications from the builds channel to every
// connected client. New clients immediately receive the latest one.
type Hub struct {
	clients map[string]*client
	mu      sync.RWMutex
	ps      pubsub.PubSub
	metrics *observability.Metrics
	latest  atomic.Pointer[Notification]
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHub subscribes to the builds channel of ps. metrics may be nil.
func NewHub(ctx context.Context, ps pubsub.PubSub, metrics *observability.Metrics) (*Hub, error) {
	ctx, cancel := context.WithCancel(ctx)
	msgs, err := ps.Subscribe(ctx, pubsub.BuildsChannel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to build notifications: %w", err)
	}

	h := &Hub{
		clients: make(map[string]*client),
		ps:      ps,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.forward(msgs)
	return h, nil
}

// Publish announces a finished generation to every hub on the channel.
func (h *Hub) Publish(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return h.ps.Publish(ctx, pubsub.BuildsChannel, payload)
}

// Latest returns the most recent notification, or nil before the first build.
func (h *Hub) Latest() *Notification {
	return h.latest.Load()
}

func (h *Hub) forward(msgs <-chan pubsub.Message) {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var n Notification
			if err := json.Unmarshal(msg.Payload, &n); err != nil {
				log.Warn().Err(err).Msg("Ignoring malformed build notification")
				continue
			}
			if prev := h.latest.Load(); prev != nil && prev.Generation > n.Generation {
				continue
			}
			h.latest.Store(&n)
			h.broadcast(msg.Payload)
			if h.metrics != nil {
				h.metrics.RecordNotification(n.Type)
			}
		}
	}
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(payload); err != nil {
			log.Debug().Err(err).Str("client_id", c.id).Msg("Dropping reload client")
			h.RemoveClient(c.id)
		}
	}
}

// addClient registers a connection and sends it the latest notification.
func (h *Hub) addClient(id string, conn wsConn) *client {
	c := &client{id: id, conn: conn}

	h.mu.Lock()
	h.clients[id] = c
	n := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetDevClients(n)
	}
	log.Debug().Str("client_id", id).Int("clients", n).Msg("Reload client connected")

	if latest := h.latest.Load(); latest != nil {
		if err := c.sendJSON(latest); err != nil {
			log.Debug().Err(err).Str("client_id", id).Msg("Failed to send latest build status")
		}
	}
	return c
}

// RemoveClient unregisters and closes a connection.
func (h *Hub) RemoveClient(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	_ = c.conn.Close()
	if h.metrics != nil {
		h.metrics.SetDevClients(n)
	}
	log.Debug().Str("client_id", id).Int("clients", n).Msg("Reload client disconnected")
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ClientIDs returns the connected client IDs in sorted order.
func (h *Hub) ClientIDs() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Close stops forwarding and disconnects every client.
func (h *Hub) Close() {
	h.cancel()
	<-h.done
	for _, id := range h.ClientIDs() {
		h.RemoveClient(id)
	}
}
