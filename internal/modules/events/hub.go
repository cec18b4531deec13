package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	pkgredis "github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/redis"
	"go.uber.org/zap"
)

const (
	redisChannel = "rf:events:ops"

	// buffer sizes; a slow SSE consumer drops events rather than
	// stalling publishers
	broadcastBuffer  = 256
	subscriberBuffer = 64
)

// Message is the envelope delivered to ops-feed subscribers and fanned out
// over Redis to the other instances.
type Message struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	SentAt  time.Time   `json:"sentAt"`
	Origin  string      `json:"origin,omitempty"`
}

type subscriber struct {
	id string
	ch chan Message
}

// Hub is the in-process ops event bus. Local subscribers receive every
// event published on any instance; cross-instance delivery rides Redis
// pub/sub.
type Hub struct {
	instanceID string
	rc         *pkgredis.Client
	logger     *zap.Logger

	mu   sync.RWMutex
	subs map[string]chan Message

	broadcast  chan Message
	register   chan subscriber
	unregister chan string
}

func NewHub(rc *pkgredis.Client, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		instanceID: uuid.NewString(),
		rc:         rc,
		logger:     logger.Named("EventHub"),
		subs:       make(map[string]chan Message),
		broadcast:  make(chan Message, broadcastBuffer),
		register:   make(chan subscriber, 16),
		unregister: make(chan string, 16),
	}
}

// Run drives the hub loop until the context ends.
func (h *Hub) Run(ctx context.Context) {
	if h.rc != nil {
		go h.subscribeRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.subs[sub.id] = sub.ch
			h.mu.Unlock()

		case id := <-h.unregister:
			h.mu.Lock()
			if ch, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(ch)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.deliver(msg)
			h.fanOut(ctx, msg)
		}
	}
}

// Publish queues an event. Never blocks; when the hub is saturated the
// event is dropped and counted in the log.
func (h *Hub) Publish(event string, payload interface{}) {
	msg := Message{
		Event:   event,
		Payload: payload,
		SentAt:  time.Now().UTC(),
		Origin:  h.instanceID,
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("event dropped, hub saturated", zap.String("event", event))
	}
}

// Subscribe attaches an ops-feed consumer. The returned cancel must be
// called when the consumer goes away.
func (h *Hub) Subscribe() (<-chan Message, func()) {
	sub := subscriber{id: uuid.NewString(), ch: make(chan Message, subscriberBuffer)}
	h.register <- sub
	return sub.ch, func() {
		select {
		case h.unregister <- sub.id:
		default:
			// hub already shutting down
		}
	}
}

// SubscriberCount reports attached local consumers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) deliver(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- msg:
		default:
			h.logger.Debug("subscriber lagging, event skipped",
				zap.String("subscriber", id),
				zap.String("event", msg.Event))
		}
	}
}

func (h *Hub) fanOut(ctx context.Context, msg Message) {
	if h.rc == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := h.rc.Publish(ctx, redisChannel, string(data)); err != nil {
		h.logger.Warn("event fan-out failed", zap.String("event", msg.Event), zap.Error(err))
	}
}

// subscribeRedis replays events published by other instances to the local
// subscribers. Events that originated here are skipped; Redis echoes a
// publish back to subscribers on the same instance.
func (h *Hub) subscribeRedis(ctx context.Context) {
	pubsub := h.rc.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return

		case redisMsg, ok := <-ch:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(redisMsg.Payload), &msg); err != nil {
				continue
			}
			if msg.Origin == h.instanceID {
				continue
			}
			h.deliver(msg)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
