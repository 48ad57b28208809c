package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/bayu/arion/internal/observability"
	"github.com/bayu/arion/pkg/agent"
	"github.com/bayu/arion/pkg/llm"
	"github.com/bayu/arion/pkg/store"
)

// TaskManager is the daemon surface the gateway drives: launching tasks,
// cancelling them, and forwarding user messages into running sessions.
type TaskManager interface {
	Launch(ctx context.Context, description string) (*store.Task, error)
	Cancel(taskID string) error
	Inject(taskID, message string) error
	WorkspacePath(taskID string) string
}

// StatusReporter exposes the LLM router's per-backend health snapshot.
type StatusReporter interface {
	Status() map[string]llm.BackendStatus
}

// Server is the HTTP and WebSocket gateway for the daemon.
type Server struct {
	host           string
	port           int
	manager        TaskManager
	store          *store.Store
	llmStatus      StatusReporter
	server         *http.Server
	upgrader       websocket.Upgrader
	hubs           *hubRegistry
	logger         zerolog.Logger
	isShuttingDown bool
	shutdownMu     sync.RWMutex
}

// Config holds gateway server configuration
type Config struct {
	Host      string
	Port      int
	Manager   TaskManager
	Store     *store.Store
	LLMStatus StatusReporter
	Logger    zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Manager == nil {
		return nil, fmt.Errorf("task manager is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	s := &Server{
		host:      cfg.Host,
		port:      cfg.Port,
		manager:   cfg.Manager,
		store:     cfg.Store,
		llmStatus: cfg.LLMStatus,
		hubs:      newHubRegistry(cfg.Logger),
		logger:    cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}

	return s, nil
}

// Handler builds the full HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("GET /api/tasks/{id}/turns", s.handleListTurns)
	mux.HandleFunc("GET /api/tasks/{id}/files", s.handleListFiles)
	mux.HandleFunc("GET /api/tasks/{id}/files/{path...}", s.handleDownloadFile)
	mux.HandleFunc("POST /api/tasks/{id}/cancel", s.handleCancelTask)
	mux.HandleFunc("POST /api/tasks/{id}/message", s.handleMessageTask)
	mux.HandleFunc("GET /api/llm/status", s.handleLLMStatus)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /ws/task/{id}", s.handleWebSocket)
	return mux
}

// Start starts the gateway server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().Str("host", s.host).Int("port", s.port).Msg("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop gracefully stops the gateway server
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")
	s.hubs.closeAll()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// Publish delivers an agent event to the task's WebSocket subscribers.
func (s *Server) Publish(taskID string, ev agent.Event) {
	s.hubs.get(taskID).Broadcast(ev)
}

// Emitter returns an EmitFunc bound to a task's hub, suitable for a session.
func (s *Server) Emitter(taskID string) agent.EmitFunc {
	return func(ev agent.Event) {
		s.Publish(taskID, ev)
	}
}

// inboundFrame is what clients may send over a task WebSocket.
type inboundFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	taskID := r.PathValue("id")
	if _, err := s.store.GetTask(r.Context(), taskID); err != nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &wsClient{id: clientID, conn: conn}
	hub := s.hubs.get(taskID)
	hub.add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("taskId", taskID).
		Str("ip", r.RemoteAddr).
		Msg("Task subscriber connected")

	go s.readClient(taskID, hub, client)
}

func (s *Server) readClient(taskID string, hub *TaskHub, client *wsClient) {
	defer func() {
		client.conn.Close()
		hub.remove(client.id)
		s.logger.Debug().
			Str("clientId", client.id).
			Str("taskId", taskID).
			Msg("Task subscriber disconnected")
	}()

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn().
				Err(err).
				Str("clientId", client.id).
				Msg("Ignoring malformed frame")
			continue
		}

		if frame.Type == "user_message" && frame.Content != "" {
			if err := s.manager.Inject(taskID, frame.Content); err != nil {
				s.logger.Warn().
					Err(err).
					Str("taskId", taskID).
					Msg("Failed to inject user message")
			}
		}
	}
}
