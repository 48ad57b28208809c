package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/bayu/arion/internal/config"
	"github.com/bayu/arion/internal/logger"
	"github.com/bayu/arion/internal/observability"
	"github.com/bayu/arion/internal/tracing"
	"github.com/bayu/arion/pkg/agent"
	"github.com/bayu/arion/pkg/browser"
	"github.com/bayu/arion/pkg/commandqueue"
	"github.com/bayu/arion/pkg/gateway"
	"github.com/bayu/arion/pkg/llm"
	"github.com/bayu/arion/pkg/memory"
	"github.com/bayu/arion/pkg/store"
)

// Daemon represents the Arion daemon service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	queue       *commandqueue.CommandQueue
	router      *llm.Router
	taskStore   *store.Store
	memoryMgr   *memory.Manager
	browserPool *browser.Pool

	// Services
	gatewayServer *gateway.Server
	retention     *cron.Cron

	sessions  map[string]*agent.Session
	sessionMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	zl := log.GetZerolog()
	if err := tracing.InitOpenTelemetry("arion-daemon"); err != nil {
		zl.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		zl.Info().Msg("Tracing initialized")
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		sessions:       make(map[string]*agent.Session),
		tracingEnabled: true,
	}

	if err := d.initialize(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize daemon: %w", err)
	}

	return d, nil
}

func (d *Daemon) initialize() error {
	zl := d.logger.GetZerolog()

	if err := os.MkdirAll(d.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(d.config.WorkspaceRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace root: %w", err)
	}

	d.queue = commandqueue.New()
	zl.Info().Msg("Command queue initialized")

	router, err := d.buildRouter(zl)
	if err != nil {
		return fmt.Errorf("failed to create llm router: %w", err)
	}
	d.router = router
	zl.Info().Int("backends", len(router.Status())).Msg("LLM router initialized")

	taskStore, err := store.New(store.Config{
		DBPath: filepath.Join(d.config.DataDir, "arion.db"),
		Logger: zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create task store: %w", err)
	}
	d.taskStore = taskStore
	zl.Info().Msg("Task store initialized")

	if d.config.Memory.Enabled {
		memoryMgr, err := memory.NewManager(memory.Config{
			DBPath:   filepath.Join(d.config.DataDir, "memory.db"),
			Embedder: router,
			Logger:   zl,
		})
		if err != nil {
			return fmt.Errorf("failed to create memory manager: %w", err)
		}
		d.memoryMgr = memoryMgr
		if err := memoryMgr.Watch(d.config.WorkspaceRoot); err != nil {
			zl.Warn().Err(err).Msg("Failed to watch workspace for memory notes")
		}
		zl.Info().Msg("Memory manager initialized")
	}

	d.browserPool = browser.NewPool(zl)

	gatewayServer, err := gateway.NewServer(gateway.Config{
		Host:      d.config.Gateway.Host,
		Port:      d.config.Gateway.Port,
		Manager:   d,
		Store:     taskStore,
		LLMStatus: router,
		Logger:    zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = gatewayServer

	return nil
}

// buildRouter assembles the backend priority order from configured
// credentials. A backend joins only when its credentials are present;
// Ollama is always the local fallback and the embedder.
func (d *Daemon) buildRouter(zl zerolog.Logger) (*llm.Router, error) {
	b := d.config.Backends

	ollama := llm.NewOllamaBackend(b.Ollama.URL, b.Ollama.Model, b.Ollama.EmbedModel)

	var backends []llm.Backend
	quotas := make(map[string]int)

	if b.Groq.APIKey != "" {
		groq := llm.NewGroqBackend(b.Groq.APIKey, b.Groq.Model)
		backends = append(backends, groq)
		quotas[groq.Name()] = b.Groq.RequestsPerMinute
	}
	if b.Gemini.APIKey != "" {
		gemini := llm.NewGeminiBackend(b.Gemini.APIKey, b.Gemini.Model)
		backends = append(backends, gemini)
		quotas[gemini.Name()] = b.Gemini.RequestsPerMinute
	}
	if b.Anthropic.APIKey != "" {
		anthropic := llm.NewAnthropicBackend(b.Anthropic.APIKey, b.Anthropic.Model)
		backends = append(backends, anthropic)
		quotas[anthropic.Name()] = b.Anthropic.RequestsPerMinute
	}
	if b.Cloudflare.AccountID != "" && b.Cloudflare.APIToken != "" {
		cloudflare := llm.NewCloudflareBackend(b.Cloudflare.AccountID, b.Cloudflare.APIToken, b.Cloudflare.Model)
		backends = append(backends, cloudflare)
		quotas[cloudflare.Name()] = b.Cloudflare.RequestsPerMinute
	}

	if len(backends) == 0 {
		zl.Warn().Msg("No cloud backend credentials configured, running on the local fallback only")
		backends = append(backends, ollama)
	}

	return llm.NewRouter(llm.Config{
		Backends: backends,
		Fallback: ollama,
		Quotas:   quotas,
		Embedder: ollama,
		Logger:   zl,
	})
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	zl := d.logger.GetZerolog()
	zl.Info().Msg("Starting Arion daemon")

	if err := d.gatewayServer.Start(); err != nil {
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	zl.Info().Msg("Gateway server started")

	if err := d.startRetention(); err != nil {
		zl.Warn().Err(err).Msg("Failed to start retention job")
	} else {
		zl.Info().Str("schedule", d.config.Retention.Schedule).Msg("Retention job scheduled")
	}

	zl.Info().Msg("Daemon started successfully")
	return nil
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	zl := d.logger.GetZerolog()
	zl.Info().Msg("Stopping Arion daemon")

	// Ask running sessions to stop, then wait for their queue jobs.
	d.sessionMu.RLock()
	for _, sess := range d.sessions {
		sess.Cancel()
	}
	d.sessionMu.RUnlock()

	if d.retention != nil {
		d.retention.Stop()
	}

	if err := d.gatewayServer.Stop(); err != nil {
		zl.Warn().Err(err).Msg("Gateway shutdown error")
	}

	d.cancel()
	d.wg.Wait()
	d.queue.Close()

	d.browserPool.Close()

	if d.memoryMgr != nil {
		if err := d.memoryMgr.Close(); err != nil {
			zl.Warn().Err(err).Msg("Memory manager close error")
		}
	}

	if err := d.taskStore.Close(); err != nil {
		zl.Warn().Err(err).Msg("Task store close error")
	}

	if d.tracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			zl.Warn().Err(err).Msg("Tracing shutdown error")
		}
		d.tracingEnabled = false
	}

	zl.Info().Msg("Daemon stopped")
	return nil
}

// Wait blocks until the process receives SIGINT or SIGTERM, then stops the
// daemon.
func (d *Daemon) Wait() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	zl := d.logger.GetZerolog()
	zl.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	if err := d.Stop(); err != nil {
		zl.Error().Err(err).Msg("Shutdown error")
	}
}

// Uptime reports the time since Start.
func (d *Daemon) Uptime() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return 0
	}
	return time.Since(d.startTime)
}
