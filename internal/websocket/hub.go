package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rag-chat-be/internal/pkg/logger"
	"rag-chat-be/internal/session"
	"rag-chat-be/pkg/rag/pipeline"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// clusterChannel carries session messages between instances behind a load balancer.
const clusterChannel = "rag_chat_session_events"

// defaultPublishTimeout bounds a cluster publish so a Redis outage cannot
// stall the caller.
const defaultPublishTimeout = 500 * time.Millisecond

var ErrSessionNotFound = errors.New("session not connected")

type sender interface {
	Send(text string) error
}

type clusterEnvelope struct {
	Origin     string `json:"origin"`
	SessionKey string `json:"session_key"`
	Message    string `json:"message"`
}

// Hub delivers text to sessions. Sessions connected to this instance are
// looked up in the registry; anything else is handed to the other instances
// over Redis pub/sub.
type Hub struct {
	registry       *session.Registry
	rdb            *redis.Client
	instanceID     string
	publishTimeout time.Duration
	logger         logger.ILogger
}

func NewHub(registry *session.Registry, rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		registry:       registry,
		rdb:            rdb,
		instanceID:     uuid.NewString(),
		publishTimeout: defaultPublishTimeout,
		logger:         log,
	}
}

// Local returns a notifier that only reaches sessions held by this instance
// and never touches Redis. The idle supervisor uses it.
func (h *Hub) Local() session.Notifier {
	return localNotifier{hub: h}
}

type localNotifier struct {
	hub *Hub
}

func (n localNotifier) Notify(sessionKey, text string) error {
	return n.hub.deliver(sessionKey, text)
}

// Notify implements the session and pipeline notifier.
func (h *Hub) Notify(sessionKey, text string) error {
	err := h.deliver(sessionKey, text)
	if !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	if h.rdb == nil {
		return fmt.Errorf("%w: %w", pipeline.ErrTransport, err)
	}

	payload, err := json.Marshal(clusterEnvelope{Origin: h.instanceID, SessionKey: sessionKey, Message: text})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.publishTimeout)
	defer cancel()
	if err := h.rdb.Publish(ctx, clusterChannel, payload).Err(); err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrTransport, err)
	}
	return nil
}

// Broadcast sends text to every session connected to this instance and
// returns how many accepted it.
func (h *Hub) Broadcast(text string) int {
	delivered := 0
	for _, e := range h.registry.Snapshot() {
		if err := h.deliver(e.Key, text); err != nil {
			h.logger.Debug("Hub", "Broadcast skipped session", map[string]interface{}{"session_key": e.Key, "error": err.Error()})
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) deliver(sessionKey, text string) error {
	conn, ok := h.registry.Conn(sessionKey)
	if !ok {
		return ErrSessionNotFound
	}
	s, ok := conn.(sender)
	if !ok {
		return fmt.Errorf("%w: connection for %s cannot send", pipeline.ErrTransport, sessionKey)
	}
	return s.Send(text)
}

// Run relays messages published by other instances until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	if h.rdb == nil {
		return
	}

	pubsub := h.rdb.Subscribe(ctx, clusterChannel)
	defer pubsub.Close()
	ch := pubsub.Channel()

	h.logger.Info("Hub", "Listening for cluster session events", map[string]interface{}{"instance_id": h.instanceID})

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.relay(msg.Payload)
		}
	}
}

func (h *Hub) relay(payload string) {
	var env clusterEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		h.logger.Warn("Hub", "Redis msg parse error", map[string]interface{}{"error": err.Error()})
		return
	}
	if env.Origin == h.instanceID {
		return
	}
	if err := h.deliver(env.SessionKey, env.Message); err != nil && !errors.Is(err, ErrSessionNotFound) {
		h.logger.Debug("Hub", "Relayed message dropped", map[string]interface{}{"session_key": env.SessionKey, "error": err.Error()})
	}
}
