// Package store persists tasks and their turn traces in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bayu/arion/pkg/agent"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Task statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Task is one persisted task row.
type Task struct {
	ID           string         `json:"id"`
	Description  string         `json:"description"`
	Status       string         `json:"status"`
	Summary      string         `json:"summary,omitempty"`
	TotalTurns   int            `json:"total_turns"`
	TotalTokens  int            `json:"total_tokens"`
	BackendUsage map[string]int `json:"backend_usage,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Turn is one persisted turn row.
type Turn struct {
	TaskID       string                 `json:"task_id"`
	Turn         int                    `json:"turn"`
	ToolName     string                 `json:"tool_name"`
	ToolInput    map[string]interface{} `json:"tool_input,omitempty"`
	ToolOutput   string                 `json:"tool_output,omitempty"`
	Reasoning    string                 `json:"reasoning,omitempty"`
	Model        string                 `json:"model,omitempty"`
	Backend      string                 `json:"backend,omitempty"`
	InputTokens  int                    `json:"input_tokens"`
	OutputTokens int                    `json:"output_tokens"`
	LatencyMS    int64                  `json:"latency_ms"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Store owns the SQLite database for tasks and turns. It implements the
// session's Recorder.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Config holds store configuration
type Config struct {
	DBPath string
	Logger zerolog.Logger
}

// New opens the database, enables WAL, and creates the schema.
func New(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	cfg.Logger.Info().Str("path", cfg.DBPath).Msg("Task store initialized")

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		summary TEXT NOT NULL DEFAULT '',
		total_turns INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		backend_usage TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		turn INTEGER NOT NULL,
		tool_name TEXT NOT NULL,
		tool_input TEXT NOT NULL DEFAULT '{}',
		tool_output TEXT NOT NULL DEFAULT '',
		reasoning TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		backend TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_task ON turns(task_id, turn);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, updated_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CreateTask inserts a new pending task.
func (s *Store) CreateTask(ctx context.Context, id, description string) (*Task, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, description, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, description, StatusPending, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return &Task{
		ID:          id,
		Description: description,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// SetStatus moves a task to a new status.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}

// FinishTask records the terminal state of a run along with its totals.
func (s *Store) FinishTask(ctx context.Context, id, status, summary string, turns, tokens int, backendUsage map[string]int) error {
	usage, err := json.Marshal(backendUsage)
	if err != nil {
		usage = []byte("{}")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, summary = ?, total_turns = ?, total_tokens = ?, backend_usage = ?, updated_at = ? WHERE id = ?`,
		status, summary, turns, tokens, string(usage), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}

// GetTask loads one task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, description, status, summary, total_turns, total_tokens, backend_usage, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasks returns tasks ordered by creation time, newest first.
func (s *Store) ListTasks(ctx context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, description, status, summary, total_turns, total_tokens, backend_usage, created_at, updated_at
		 FROM tasks ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ListTurns returns a task's turns in order.
func (s *Store) ListTurns(ctx context.Context, taskID string) ([]*Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, turn, tool_name, tool_input, tool_output, reasoning, model, backend,
		        input_tokens, output_tokens, latency_ms, created_at
		 FROM turns WHERE task_id = ? ORDER BY turn ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	turns := []*Turn{}
	for rows.Next() {
		var t Turn
		var input string
		if err := rows.Scan(&t.TaskID, &t.Turn, &t.ToolName, &input, &t.ToolOutput, &t.Reasoning,
			&t.Model, &t.Backend, &t.InputTokens, &t.OutputTokens, &t.LatencyMS, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		if err := json.Unmarshal([]byte(input), &t.ToolInput); err != nil {
			t.ToolInput = map[string]interface{}{}
		}
		turns = append(turns, &t)
	}
	return turns, rows.Err()
}

// RecordTurn implements agent.Recorder.
func (s *Store) RecordTurn(ctx context.Context, rec agent.TurnRecord) error {
	input, err := json.Marshal(rec.ToolInput)
	if err != nil {
		input = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turns (task_id, turn, tool_name, tool_input, tool_output, reasoning, model, backend,
		                    input_tokens, output_tokens, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.Turn, rec.ToolName, string(input), rec.ToolOutput, rec.Reasoning,
		rec.Model, rec.Backend, rec.InputTokens, rec.OutputTokens, rec.LatencyMS, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}
	return nil
}

// PruneBefore deletes finished tasks (and their turns) older than the
// cutoff. Returns how many tasks were removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE updated_at < ? AND status IN (?, ?, ?)`,
		cutoff.UTC(), StatusCompleted, StatusFailed, StatusCancelled,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune tasks: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE task_id NOT IN (SELECT id FROM tasks)`); err != nil {
		return int(n), fmt.Errorf("failed to prune turns: %w", err)
	}

	return int(n), nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scanner) (*Task, error) {
	var t Task
	var usage string
	err := row.Scan(&t.ID, &t.Description, &t.Status, &t.Summary, &t.TotalTurns, &t.TotalTokens,
		&usage, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	if err := json.Unmarshal([]byte(usage), &t.BackendUsage); err != nil {
		t.BackendUsage = map[string]int{}
	}
	return &t, nil
}
