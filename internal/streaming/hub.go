// Package streaming fans process and command transitions out to WebSocket
// subscribers, so an operator can watch a long-running process without
// polling the status API. Fan-out crosses instances through Redis pub/sub:
// any projector replica may receive the broker event, and every hub
// replica delivers it to its own connected clients.
package streaming

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/corebus/platform/pkg/logger"
	"github.com/corebus/platform/pkg/metrics"
)

const channelPrefix = "stream:"

// Update is one process/command transition pushed to subscribed clients.
type Update struct {
	Type        string          `json:"type"`
	CommandID   string          `json:"commandId,omitempty"`
	ProcessID   string          `json:"processId,omitempty"`
	BusinessKey string          `json:"businessKey,omitempty"`
	Step        string          `json:"step,omitempty"`
	Status      string          `json:"status,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   int64           `json:"timestamp"`
}

// Broadcast pairs a serialized update with the room it belongs to.
type Broadcast struct {
	Room    string
	Message []byte
}

// RoomForProcess returns the room name clients join to follow one process.
func RoomForProcess(processID string) string { return "process:" + processID }

// RoomForBusinessKey returns the room name for all activity on a business key.
func RoomForBusinessKey(key string) string { return "key:" + key }

// Hub manages WebSocket subscribers grouped into rooms and bridges them
// to the Redis pub/sub channel shared by all hub replicas.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Broadcast

	rooms   map[string]map[*Client]bool
	roomsMu sync.RWMutex

	redisClient *redis.Client
	redisSub    *redis.PubSub

	log     *logger.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub connects to Redis and subscribes to the shared stream channels.
func NewHub(redisClient *redis.Client, log *logger.Logger, m *metrics.Metrics) (*Hub, error) {
	ctx, cancel := context.WithCancel(context.Background())

	if err := redisClient.Ping(ctx).Err(); err != nil {
		cancel()
		return nil, err
	}

	h := &Hub{
		clients:     make(map[*Client]bool),
		register:    make(chan *Client, 256),
		unregister:  make(chan *Client, 256),
		broadcast:   make(chan *Broadcast, 1024),
		rooms:       make(map[string]map[*Client]bool),
		redisClient: redisClient,
		log:         log,
		metrics:     m,
		ctx:         ctx,
		cancel:      cancel,
	}
	h.redisSub = redisClient.PSubscribe(ctx, channelPrefix+"*")
	return h, nil
}

// Run drives the hub's event loop until Stop is called.
func (h *Hub) Run() {
	go h.listenRedis()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.clients[client] = true
			h.metrics.WSConnections.Inc()
			h.log.Debug("stream client connected")
		case client := <-h.unregister:
			h.dropClient(client)
		case b := <-h.broadcast:
			h.deliver(b)
		}
	}
}

// Stop shuts the hub down, closing every client connection.
func (h *Hub) Stop() {
	h.cancel()
}

// PublishUpdate publishes an update into the room's Redis channel. Every
// hub replica, this one included, receives it through the subscription
// and delivers it to its local room members.
func (h *Hub) PublishUpdate(ctx context.Context, room string, u Update) error {
	if u.Timestamp == 0 {
		u.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return h.redisClient.Publish(ctx, channelPrefix+room, data).Err()
}

func (h *Hub) listenRedis() {
	ch := h.redisSub.Channel()
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok || msg == nil {
				continue
			}
			h.broadcast <- &Broadcast{
				Room:    msg.Channel[len(channelPrefix):],
				Message: []byte(msg.Payload),
			}
		}
	}
}

func (h *Hub) deliver(b *Broadcast) {
	h.roomsMu.RLock()
	clients := h.rooms[b.Room]
	h.roomsMu.RUnlock()

	for client := range clients {
		select {
		case client.send <- b.Message:
			h.metrics.WSMessagesOut.Inc()
		default:
			// Slow consumer: drop the update rather than stall the hub.
			h.metrics.WSMessageDropped.Inc()
			h.log.Warn("stream update dropped, client buffer full", zap.String("room", b.Room))
		}
	}
}

func (h *Hub) joinRoom(room string, client *Client) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][client] = true
}

func (h *Hub) leaveRoom(room string, client *Client) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	if clients, ok := h.rooms[room]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) dropClient(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	h.metrics.WSConnections.Dec()

	h.roomsMu.Lock()
	for room := range client.rooms {
		if clients, ok := h.rooms[room]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.roomsMu.Unlock()

	close(client.send)
	h.log.Debug("stream client disconnected")
}

func (h *Hub) shutdown() {
	h.log.Info("shutting down stream hub")
	for client := range h.clients {
		close(client.send)
	}
	if h.redisSub != nil {
		h.redisSub.Close()
	}
}
