package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bayu/arion/internal/config"
	"github.com/bayu/arion/internal/logger"
	"github.com/bayu/arion/pkg/store"
)

// fakeOllama answers every chat call with a plain summary, so a launched
// task completes after a single turn without any tool use.
func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"message":           map[string]string{"role": "assistant", "content": "All done."},
			"prompt_eval_count": 10,
			"eval_count":        5,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// scriptedOllama issues one file_write tool call and then finishes, so a
// launched task exercises the full think-act-observe cycle.
func scriptedOllama(t *testing.T) *httptest.Server {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := "All done."
		if calls.Add(1) == 1 {
			content = "Planning first.\n<tool_call>\n{\"name\": \"file_write\", \"arguments\": {\"path\": \"todo.md\", \"content\": \"- greet\"}}\n</tool_call>"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"message":           map[string]string{"role": "assistant", "content": content},
			"prompt_eval_count": 10,
			"eval_count":        5,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupDaemonWith(t *testing.T, ollamaURL string) *Daemon {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.WorkspaceRoot = filepath.Join(dir, "workspaces")
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Memory.Enabled = false
	cfg.Backends.Ollama.URL = ollamaURL
	cfg.Logging.Console = false

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)

	d, err := New(cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() {
		d.cancel()
		d.queue.Close()
		d.taskStore.Close()
	})

	return d
}

func setupTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	return setupDaemonWith(t, fakeOllama(t).URL)
}

func TestNew(t *testing.T) {
	t.Run("should initialize core modules", func(t *testing.T) {
		d := setupTestDaemon(t)

		assert.NotNil(t, d.queue)
		assert.NotNil(t, d.router)
		assert.NotNil(t, d.taskStore)
		assert.NotNil(t, d.browserPool)
		assert.NotNil(t, d.gatewayServer)
		assert.Nil(t, d.memoryMgr)
		assert.DirExists(t, d.config.WorkspaceRoot)
	})

	t.Run("should fall back to ollama when no credentials are set", func(t *testing.T) {
		d := setupTestDaemon(t)

		statuses := d.router.Status()
		require.Len(t, statuses, 1)
		assert.Contains(t, statuses, "ollama")
	})

	t.Run("should build the priority order from configured credentials", func(t *testing.T) {
		dir := t.TempDir()
		cfg := config.DefaultConfig()
		cfg.DataDir = filepath.Join(dir, "data")
		cfg.WorkspaceRoot = filepath.Join(dir, "workspaces")
		cfg.Memory.Enabled = false
		cfg.Backends.Groq.APIKey = "gsk_test"
		cfg.Backends.Gemini.APIKey = "AIza_test"

		log, err := logger.New(logger.Config{Level: "error"})
		require.NoError(t, err)

		d, err := New(cfg, log)
		require.NoError(t, err)
		t.Cleanup(func() {
			d.cancel()
			d.queue.Close()
			d.taskStore.Close()
		})

		statuses := d.router.Status()
		require.Len(t, statuses, 3)
		assert.Contains(t, statuses, "groq")
		assert.Contains(t, statuses, "gemini")
		assert.Contains(t, statuses, "ollama")
	})
}

func TestTaskLifecycle(t *testing.T) {
	t.Run("should run a launched task to completion", func(t *testing.T) {
		d := setupTestDaemon(t)

		task, err := d.Launch(context.Background(), "say hello")
		require.NoError(t, err)
		assert.Equal(t, store.StatusPending, task.Status)
		assert.DirExists(t, d.WorkspacePath(task.ID))

		require.Eventually(t, func() bool {
			got, err := d.taskStore.GetTask(context.Background(), task.ID)
			return err == nil && got.Status == store.StatusCompleted
		}, 5*time.Second, 20*time.Millisecond)

		got, err := d.taskStore.GetTask(context.Background(), task.ID)
		require.NoError(t, err)
		assert.Equal(t, "All done.", got.Summary)
		assert.Equal(t, 1, got.TotalTurns)
		assert.Equal(t, 15, got.TotalTokens)
		assert.Equal(t, map[string]int{"ollama": 1}, got.BackendUsage)
	})

	t.Run("should execute tool calls and record turns", func(t *testing.T) {
		d := setupDaemonWith(t, scriptedOllama(t).URL)

		task, err := d.Launch(context.Background(), "say hello")
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			got, err := d.taskStore.GetTask(context.Background(), task.ID)
			return err == nil && got.Status == store.StatusCompleted
		}, 5*time.Second, 20*time.Millisecond)

		assert.FileExists(t, filepath.Join(d.WorkspacePath(task.ID), "todo.md"))

		turns, err := d.taskStore.ListTurns(context.Background(), task.ID)
		require.NoError(t, err)
		require.Len(t, turns, 1)
		assert.Equal(t, "ollama", turns[0].Backend)
		assert.Equal(t, "file_write", turns[0].ToolName)
	})

	t.Run("should reject cancelling a task that is not running", func(t *testing.T) {
		d := setupTestDaemon(t)

		err := d.Cancel("nope")
		assert.ErrorContains(t, err, "not running")
	})

	t.Run("should reject injecting into a task that is not running", func(t *testing.T) {
		d := setupTestDaemon(t)

		err := d.Inject("nope", "hi")
		assert.ErrorContains(t, err, "not running")
	})

	t.Run("should place workspaces under the configured root", func(t *testing.T) {
		d := setupTestDaemon(t)

		assert.Equal(t,
			filepath.Join(d.config.WorkspaceRoot, "t1"),
			d.WorkspacePath("t1"))
	})
}

func TestBuildSession(t *testing.T) {
	t.Run("should register core and browser capabilities", func(t *testing.T) {
		d := setupTestDaemon(t)

		sess, err := d.buildSession("t1")
		require.NoError(t, err)
		assert.NotNil(t, sess)
		assert.DirExists(t, d.WorkspacePath("t1"))
	})
}

func TestRetention(t *testing.T) {
	t.Run("should remove stale workspaces and keep fresh ones", func(t *testing.T) {
		d := setupTestDaemon(t)

		stale := filepath.Join(d.config.WorkspaceRoot, "stale-task")
		fresh := filepath.Join(d.config.WorkspaceRoot, "fresh-task")
		require.NoError(t, os.MkdirAll(stale, 0o755))
		require.NoError(t, os.MkdirAll(fresh, 0o755))

		old := time.Now().Add(-48 * time.Hour)
		require.NoError(t, os.Chtimes(stale, old, old))

		removed := d.pruneWorkspaces(time.Now().Add(-24 * time.Hour))
		assert.Equal(t, 1, removed)
		assert.NoDirExists(t, stale)
		assert.DirExists(t, fresh)
	})

	t.Run("should never remove a workspace with a live session", func(t *testing.T) {
		d := setupTestDaemon(t)

		ws := filepath.Join(d.config.WorkspaceRoot, "live-task")
		require.NoError(t, os.MkdirAll(ws, 0o755))
		old := time.Now().Add(-48 * time.Hour)
		require.NoError(t, os.Chtimes(ws, old, old))

		sess, err := d.buildSession("live-task")
		require.NoError(t, err)
		d.trackSession("live-task", sess)
		defer d.untrackSession("live-task")

		removed := d.pruneWorkspaces(time.Now().Add(-24 * time.Hour))
		assert.Equal(t, 0, removed)
		assert.DirExists(t, ws)
	})

	t.Run("should reject an invalid schedule", func(t *testing.T) {
		d := setupTestDaemon(t)
		d.config.Retention.Schedule = "not a schedule"

		err := d.startRetention()
		assert.Error(t, err)
	})
}

func TestPublishHost(t *testing.T) {
	t.Run("should rewrite wildcard binds", func(t *testing.T) {
		assert.Equal(t, "localhost", publishHost("0.0.0.0"))
		assert.Equal(t, "localhost", publishHost(""))
		assert.Equal(t, "192.168.1.5", publishHost("192.168.1.5"))
	})
}
