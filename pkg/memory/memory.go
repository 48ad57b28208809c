// Package memory gives the agent cross-task recall: embedded notes stored
// in a sqlite-vec table and searched by cosine distance.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/bayu/arion/internal/observability"
	"github.com/bayu/arion/internal/tracing"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

const defaultDimension = 768

// Embedder converts text into a fixed-length vector. The LLM router
// satisfies this.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Entry is one stored memory.
type Entry struct {
	ID        string                 `json:"id"`
	Content   string                 `json:"content"`
	Kind      string                 `json:"kind"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Score     float64                `json:"score,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Manager owns the memory database.
type Manager struct {
	db        *sql.DB
	embedder  Embedder
	logger    zerolog.Logger
	dimension int

	mu      sync.RWMutex
	watcher *FileWatcher
	isDirty bool
}

// Config holds memory manager configuration
type Config struct {
	DBPath   string
	Embedder Embedder
	Logger   zerolog.Logger
	// Dimension must match the embedding model; nomic-embed-text is 768.
	Dimension int
}

// NewManager creates a new memory manager
func NewManager(cfg Config) (*Manager, error) {
	observability.EnsureRegistered()

	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = defaultDimension
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	m := &Manager{
		db:        db,
		embedder:  cfg.Embedder,
		logger:    cfg.Logger,
		dimension: cfg.Dimension,
	}

	if err := m.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	cfg.Logger.Info().Str("path", cfg.DBPath).Int("dimension", cfg.Dimension).Msg("Memory manager initialized")

	return m, nil
}

// Close stops the watcher and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	watcher := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	if watcher != nil {
		watcher.Stop()
	}
	return m.db.Close()
}

func (m *Manager) migrate() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'note',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);
	CREATE VIRTUAL TABLE IF NOT EXISTS memory_vectors USING vec0(
		memory_id TEXT PRIMARY KEY,
		embedding float[%d] distance_metric=cosine
	);
	`, m.dimension)

	if _, err := m.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create memory schema: %w", err)
	}
	return nil
}

// Store embeds content and persists it.
func (m *Manager) Store(ctx context.Context, content, kind string, metadata map[string]interface{}) (*Entry, error) {
	ctx, span := tracing.StartSpan(ctx, "arion.memory", "memory.store",
		attribute.String("kind", kind),
	)
	defer span.End()

	if kind == "" {
		kind = "note"
	}

	embedding, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("failed to embed memory: %w", err)
	}
	if len(embedding) != m.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), m.dimension)
	}

	meta, err := json.Marshal(metadata)
	if err != nil {
		meta = []byte("{}")
	}
	vec, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding: %w", err)
	}

	entry := &Entry{
		ID:        uuid.NewString(),
		Content:   content,
		Kind:      kind,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories (id, content, kind, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.Content, entry.Kind, string(meta), entry.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to insert memory: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memory_vectors (memory_id, embedding) VALUES (?, ?)`,
		entry.ID, string(vec),
	); err != nil {
		return nil, fmt.Errorf("failed to insert embedding: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit memory: %w", err)
	}

	m.updateEntryCount(ctx)

	m.logger.Debug().Str("id", entry.ID).Str("kind", kind).Msg("Stored memory")

	return entry, nil
}

// Recall embeds the query and returns the topK nearest memories, optionally
// restricted to one kind.
func (m *Manager) Recall(ctx context.Context, query, kind string, topK int) ([]Entry, error) {
	ctx, span := tracing.StartSpan(ctx, "arion.memory", "memory.recall",
		attribute.String("kind", kind),
	)
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordMemorySearch(time.Since(start)) }()

	if topK <= 0 {
		topK = 5
	}

	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	vec, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query embedding: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT m.id, m.content, m.kind, m.metadata, m.created_at,
		       vec_distance_cosine(v.embedding, ?) AS distance
		FROM memory_vectors v
		JOIN memories m ON m.id = v.memory_id
		ORDER BY distance ASC
		LIMIT ?`, string(vec), topK*2)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var meta string
		var distance float64
		if err := rows.Scan(&e.ID, &e.Content, &e.Kind, &meta, &e.CreatedAt, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		if kind != "" && e.Kind != kind {
			continue
		}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			e.Metadata = nil
		}
		e.Score = 1.0 - distance
		entries = append(entries, e)
		if len(entries) >= topK {
			break
		}
	}

	return entries, rows.Err()
}

// Count returns how many memories are stored.
func (m *Manager) Count(ctx context.Context) (int, error) {
	var n int
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n)
	return n, err
}

// Watch marks the index dirty whenever markdown notes under path change.
func (m *Manager) Watch(path string) error {
	watcher, err := NewFileWatcher(m.logger, func() {
		m.mu.Lock()
		m.isDirty = true
		m.mu.Unlock()
	})
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Watch(path); err != nil {
		watcher.Stop()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	m.mu.Lock()
	m.watcher = watcher
	m.mu.Unlock()

	return nil
}

// IsDirty reports whether watched notes changed since the last sync.
func (m *Manager) IsDirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isDirty
}

func (m *Manager) updateEntryCount(ctx context.Context) {
	if n, err := m.Count(ctx); err == nil {
		observability.SetMemoryEntries(n)
	}
}
