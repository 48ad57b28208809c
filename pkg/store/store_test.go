package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bayu/arion/pkg/agent"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	tmpDir, err := os.MkdirTemp("", "store-test-*")
	require.NoError(t, err)

	s, err := New(Config{
		DBPath: filepath.Join(tmpDir, "tasks.db"),
		Logger: zerolog.New(os.Stdout).Level(zerolog.ErrorLevel),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
		os.RemoveAll(tmpDir)
	})

	return s
}

func TestNew(t *testing.T) {
	t.Run("should require a database path", func(t *testing.T) {
		_, err := New(Config{})
		assert.ErrorContains(t, err, "database path is required")
	})
}

func TestTaskLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("should create a pending task and load it back", func(t *testing.T) {
		s := setupTestStore(t)

		created, err := s.CreateTask(ctx, "t1", "summarize a report")
		require.NoError(t, err)
		assert.Equal(t, StatusPending, created.Status)

		loaded, err := s.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "summarize a report", loaded.Description)
		assert.Equal(t, StatusPending, loaded.Status)
	})

	t.Run("should transition status", func(t *testing.T) {
		s := setupTestStore(t)

		_, err := s.CreateTask(ctx, "t1", "work")
		require.NoError(t, err)
		require.NoError(t, s.SetStatus(ctx, "t1", StatusRunning))

		loaded, err := s.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, StatusRunning, loaded.Status)
	})

	t.Run("should error on an unknown task", func(t *testing.T) {
		s := setupTestStore(t)

		err := s.SetStatus(ctx, "missing", StatusRunning)
		assert.ErrorContains(t, err, "task not found")

		_, err = s.GetTask(ctx, "missing")
		assert.ErrorContains(t, err, "task not found")
	})

	t.Run("should persist totals and backend usage on finish", func(t *testing.T) {
		s := setupTestStore(t)

		_, err := s.CreateTask(ctx, "t1", "work")
		require.NoError(t, err)

		err = s.FinishTask(ctx, "t1", StatusCompleted, "All done.", 7, 1234, map[string]int{"groq": 5, "ollama": 2})
		require.NoError(t, err)

		loaded, err := s.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, loaded.Status)
		assert.Equal(t, "All done.", loaded.Summary)
		assert.Equal(t, 7, loaded.TotalTurns)
		assert.Equal(t, 1234, loaded.TotalTokens)
		assert.Equal(t, map[string]int{"groq": 5, "ollama": 2}, loaded.BackendUsage)
	})

	t.Run("should list tasks newest first", func(t *testing.T) {
		s := setupTestStore(t)

		_, err := s.CreateTask(ctx, "t1", "first")
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		_, err = s.CreateTask(ctx, "t2", "second")
		require.NoError(t, err)

		tasks, err := s.ListTasks(ctx, 10)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, "t2", tasks[0].ID)
	})
}

func TestRecordTurn(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist turns and list them in order", func(t *testing.T) {
		s := setupTestStore(t)

		_, err := s.CreateTask(ctx, "t1", "work")
		require.NoError(t, err)

		for i := 1; i <= 3; i++ {
			err := s.RecordTurn(ctx, agent.TurnRecord{
				TaskID:       "t1",
				Turn:         i,
				ToolName:     "shell",
				ToolInput:    map[string]interface{}{"command": "ls"},
				ToolOutput:   "files",
				Reasoning:    "listing",
				Model:        "m",
				Backend:      "groq",
				InputTokens:  10,
				OutputTokens: 5,
				LatencyMS:    42,
			})
			require.NoError(t, err)
		}

		turns, err := s.ListTurns(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, turns, 3)
		assert.Equal(t, 1, turns[0].Turn)
		assert.Equal(t, "shell", turns[0].ToolName)
		assert.Equal(t, "ls", turns[0].ToolInput["command"])
		assert.Equal(t, int64(42), turns[0].LatencyMS)
	})
}

func TestPruneBefore(t *testing.T) {
	ctx := context.Background()

	t.Run("should delete old finished tasks but keep running ones", func(t *testing.T) {
		s := setupTestStore(t)

		_, err := s.CreateTask(ctx, "old-done", "x")
		require.NoError(t, err)
		require.NoError(t, s.FinishTask(ctx, "old-done", StatusCompleted, "done", 1, 1, nil))

		_, err = s.CreateTask(ctx, "old-running", "y")
		require.NoError(t, err)
		require.NoError(t, s.SetStatus(ctx, "old-running", StatusRunning))

		n, err := s.PruneBefore(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = s.GetTask(ctx, "old-done")
		assert.Error(t, err)

		_, err = s.GetTask(ctx, "old-running")
		assert.NoError(t, err)
	})
}
