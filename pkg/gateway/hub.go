package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bayu/arion/pkg/agent"
)

// EventFrame is the wire format for events streamed to task subscribers.
type EventFrame struct {
	Type      string                 `json:"type"`
	AgentName string                 `json:"agent_name,omitempty"`
	Content   map[string]interface{} `json:"content,omitempty"`
	Timestamp int64                  `json:"timestamp"`
	Seq       int64                  `json:"seq"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// TaskHub fans events for a single task out to its WebSocket subscribers.
type TaskHub struct {
	taskID  string
	logger  zerolog.Logger
	seq     int64
	mu      sync.RWMutex
	clients map[string]*wsClient
}

func newTaskHub(taskID string, logger zerolog.Logger) *TaskHub {
	return &TaskHub{
		taskID:  taskID,
		logger:  logger,
		clients: make(map[string]*wsClient),
	}
}

func (h *TaskHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *TaskHub) remove(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

// ClientCount returns the number of connected subscribers.
func (h *TaskHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an agent event to every subscriber of this task.
func (h *TaskHub) Broadcast(ev agent.Event) {
	frame := EventFrame{
		Type:      ev.Type,
		AgentName: ev.AgentName,
		Content:   ev.Content,
		Timestamp: time.Now().UnixMilli(),
		Seq:       atomic.AddInt64(&h.seq, 1),
	}

	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error().Err(err).Str("event", ev.Type).Msg("Failed to marshal event")
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.writeJSON(data); err != nil {
			h.logger.Warn().
				Err(err).
				Str("clientId", c.id).
				Str("taskId", h.taskID).
				Msg("Failed to deliver event, dropping client")
			c.conn.Close()
			h.remove(c.id)
		}
	}
}

func (h *TaskHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.conn.Close()
		delete(h.clients, id)
	}
}

// hubRegistry tracks per-task hubs, creating them lazily.
type hubRegistry struct {
	logger zerolog.Logger
	mu     sync.Mutex
	hubs   map[string]*TaskHub
}

func newHubRegistry(logger zerolog.Logger) *hubRegistry {
	return &hubRegistry{
		logger: logger,
		hubs:   make(map[string]*TaskHub),
	}
}

func (r *hubRegistry) get(taskID string) *TaskHub {
	r.mu.Lock()
	defer r.mu.Unlock()
	hub, ok := r.hubs[taskID]
	if !ok {
		hub = newTaskHub(taskID, r.logger)
		r.hubs[taskID] = hub
	}
	return hub
}

func (r *hubRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, hub := range r.hubs {
		hub.closeAll()
		delete(r.hubs, id)
	}
}
