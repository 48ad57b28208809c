package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bayu/arion/internal/observability"
	"github.com/bayu/arion/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// maxAttempts bounds the failover loop of a single Generate call.
	maxAttempts = 3
	// unhealthyThreshold marks a backend unhealthy after this many
	// consecutive failures.
	unhealthyThreshold = 3
	// lockoutThreshold keeps an unhealthy backend out of selection; below
	// it the backend is optimistically re-enabled on the next pass.
	lockoutThreshold = 5
	// rateWindow is the rolling accounting period for per-backend quotas.
	rateWindow = 60 * time.Second
	// defaultQuota applies to backends without a configured quota.
	defaultQuota = 10
)

// Router presents several rate-limited backends as one reliable inference
// capability with automatic failover and response normalization.
type Router struct {
	order    []Backend
	fallback Backend
	embedder Embedder
	quotas   map[string]int
	logger   zerolog.Logger

	mu     sync.Mutex
	states map[string]*backendState

	now func() time.Time
}

// Config holds router configuration
type Config struct {
	// Backends in priority order. The fallback may also appear here.
	Backends []Backend
	// Fallback is the always-available local backend used when every
	// candidate is filtered out. Required.
	Fallback Backend
	// Quotas maps backend name to requests per minute.
	Quotas map[string]int
	// Embedder serves Embed calls; typically the fallback backend.
	Embedder Embedder
	Logger   zerolog.Logger
	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// NewRouter creates a new Router
func NewRouter(cfg Config) (*Router, error) {
	observability.EnsureRegistered()

	if len(cfg.Backends) == 0 {
		return nil, fmt.Errorf("at least one backend is required")
	}
	if cfg.Fallback == nil {
		return nil, fmt.Errorf("fallback backend is required")
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	states := make(map[string]*backendState)
	for _, b := range cfg.Backends {
		states[b.Name()] = &backendState{healthy: true, windowStart: now()}
	}
	if _, ok := states[cfg.Fallback.Name()]; !ok {
		states[cfg.Fallback.Name()] = &backendState{healthy: true, windowStart: now()}
	}

	quotas := make(map[string]int, len(cfg.Quotas))
	for name, quota := range cfg.Quotas {
		quotas[name] = quota
	}

	r := &Router{
		order:    cfg.Backends,
		fallback: cfg.Fallback,
		embedder: cfg.Embedder,
		quotas:   quotas,
		logger:   cfg.Logger,
		states:   states,
		now:      now,
	}

	names := make([]string, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		names = append(names, b.Name())
	}
	cfg.Logger.Info().Strs("backends", names).Str("fallback", cfg.Fallback.Name()).Msg("LLM router initialized")

	return r, nil
}

// Generate runs one inference call with backend selection and failover. It
// returns a normalized response, or an aggregated error naming the last
// backend failure once all attempts are exhausted.
func (r *Router) Generate(ctx context.Context, req GenerateRequest) (*CompletionResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "arion.llm", "llm.generate",
		attribute.Bool("requires_vision", req.RequiresVision),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		backend := r.selectBackend(req.RequiresVision)
		start := r.now()

		resp, err := backend.Complete(ctx, req)
		elapsed := r.now().Sub(start)

		if err == nil {
			r.recordSuccess(backend.Name())
			observability.RecordBackendRequest(backend.Name(), elapsed, true)

			resp.Backend = backend.Name()
			resp.LatencyMS = elapsed.Milliseconds()

			logger.Debug().
				Str("backend", backend.Name()).
				Str("model", resp.Model).
				Int64("latency_ms", resp.LatencyMS).
				Int("tool_calls", len(resp.ToolCalls)).
				Msg("Inference call succeeded")

			return resp, nil
		}

		lastErr = err
		r.recordFailure(backend.Name(), err)
		observability.RecordBackendRequest(backend.Name(), elapsed, false)

		logger.Warn().
			Str("backend", backend.Name()).
			Int("attempt", attempt+1).
			Err(err).
			Msg("Backend call failed, failing over")
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())

	return nil, fmt.Errorf("all backends failed after %d attempts: %w", maxAttempts, lastErr)
}

// Embed converts text to a vector via the local fallback backend. It does
// not participate in failover or rate accounting.
func (r *Router) Embed(ctx context.Context, text string) ([]float32, error) {
	if r.embedder == nil {
		return nil, fmt.Errorf("no embedding backend configured")
	}
	return r.embedder.Embed(ctx, text)
}

// Status returns a snapshot of every backend's health and rate state.
func (r *Router) Status() map[string]BackendStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]BackendStatus, len(r.states))
	for name, st := range r.states {
		lastErr := st.lastError
		if len(lastErr) > 100 {
			lastErr = lastErr[:100]
		}
		out[name] = BackendStatus{
			Name:              name,
			Healthy:           st.healthy,
			WindowRequests:    st.windowRequests,
			Quota:             r.quota(name),
			ConsecutiveErrors: st.consecutiveErrors,
			LastError:         lastErr,
		}
	}
	return out
}

// selectBackend picks the first eligible backend in priority order, or the
// local fallback when nothing survives filtering.
func (r *Router) selectBackend(requiresVision bool) Backend {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, backend := range r.order {
		st := r.states[backend.Name()]

		// Optimistic re-enable: only a failure streak at the lockout
		// threshold keeps a backend excluded.
		if !st.healthy && st.consecutiveErrors < lockoutThreshold {
			st.healthy = true
			observability.SetBackendUnhealthy(backend.Name(), false)
		}
		if !st.healthy {
			continue
		}

		r.rollWindow(st)
		if st.windowRequests >= r.quota(backend.Name()) {
			continue
		}

		if requiresVision && !backend.Capabilities().Vision {
			continue
		}

		return backend
	}

	return r.fallback
}

// rollWindow resets the rate window once it is older than rateWindow.
// Caller holds r.mu.
func (r *Router) rollWindow(st *backendState) {
	if r.now().Sub(st.windowStart) > rateWindow {
		st.windowRequests = 0
		st.windowStart = r.now()
	}
}

func (r *Router) quota(name string) int {
	if q, ok := r.quotas[name]; ok {
		return q
	}
	return defaultQuota
}

func (r *Router) recordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.states[name]
	st.consecutiveErrors = 0
	r.rollWindow(st)
	st.windowRequests++

	observability.SetBackendWindowRequests(name, st.windowRequests)
}

func (r *Router) recordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.states[name]
	st.consecutiveErrors++
	st.lastError = err.Error()

	if st.consecutiveErrors >= unhealthyThreshold {
		st.healthy = false
		observability.SetBackendUnhealthy(name, true)
	}

	// A rate-limited backend sits out the rest of its window.
	if isRateLimitError(err) {
		r.rollWindow(st)
		st.windowRequests = r.quota(name)
		observability.SetBackendWindowRequests(name, st.windowRequests)
	}
}

// isRateLimitError classifies an error as a rate-limit rejection by status
// code or message signature.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate")
}
