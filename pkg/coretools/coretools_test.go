package coretools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/bayu/arion/pkg/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestTools(t *testing.T, cfg Config) (*tool.Registry, string) {
	tmpDir, err := os.MkdirTemp("", "coretools-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	cfg.WorkspacePath = tmpDir
	if cfg.TaskID == "" {
		cfg.TaskID = "task-1"
	}
	if cfg.PublishBaseURL == "" {
		cfg.PublishBaseURL = "http://localhost:8000"
	}

	reg := tool.NewRegistry(0)
	require.NoError(t, Register(reg, cfg))

	return reg, tmpDir
}

func TestRegister(t *testing.T) {
	t.Run("should register all core capabilities", func(t *testing.T) {
		reg, _ := setupTestTools(t, Config{})
		assert.Equal(t, []string{
			"deploy", "file_list", "file_read", "file_write",
			"python_run", "shell", "web_search",
		}, reg.Names())
	})

	t.Run("should require a workspace path", func(t *testing.T) {
		err := Register(tool.NewRegistry(0), Config{})
		assert.ErrorContains(t, err, "workspace path is required")
	})
}

func TestFileTools(t *testing.T) {
	ctx := context.Background()

	t.Run("should write and read a file back", func(t *testing.T) {
		reg, tmpDir := setupTestTools(t, Config{})

		res := reg.Execute(ctx, "file_write", map[string]interface{}{
			"path":    "notes/todo.md",
			"content": "# Plan\n- step one",
		})
		require.True(t, res.Success, res.Error)
		assert.Contains(t, res.Output, "todo.md")

		written, err := os.ReadFile(filepath.Join(tmpDir, "notes", "todo.md"))
		require.NoError(t, err)
		assert.Equal(t, "# Plan\n- step one", string(written))

		res = reg.Execute(ctx, "file_read", map[string]interface{}{"path": "notes/todo.md"})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "# Plan\n- step one", res.Output)
	})

	t.Run("should truncate long files to max_lines", func(t *testing.T) {
		reg, _ := setupTestTools(t, Config{})

		content := ""
		for i := 0; i < 10; i++ {
			content += "line\n"
		}
		res := reg.Execute(ctx, "file_write", map[string]interface{}{"path": "big.txt", "content": content})
		require.True(t, res.Success)

		res = reg.Execute(ctx, "file_read", map[string]interface{}{"path": "big.txt", "max_lines": float64(3)})
		require.True(t, res.Success)
		assert.Contains(t, res.Output, "more lines truncated")
	})

	t.Run("should reject path traversal", func(t *testing.T) {
		reg, _ := setupTestTools(t, Config{})

		res := reg.Execute(ctx, "file_write", map[string]interface{}{
			"path":    "../escape.txt",
			"content": "nope",
		})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "path traversal not allowed")

		res = reg.Execute(ctx, "file_read", map[string]interface{}{"path": "../../etc/passwd"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "path traversal not allowed")
	})

	t.Run("should report a missing file", func(t *testing.T) {
		reg, _ := setupTestTools(t, Config{})

		res := reg.Execute(ctx, "file_read", map[string]interface{}{"path": "nope.txt"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "file not found")
	})

	t.Run("should list directory entries with sizes", func(t *testing.T) {
		reg, tmpDir := setupTestTools(t, Config{})

		require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "sub"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "a.txt"), []byte("hello"), 0o644))

		res := reg.Execute(ctx, "file_list", map[string]interface{}{})
		require.True(t, res.Success)
		assert.Contains(t, res.Output, "a.txt (5.0B)")
		assert.Contains(t, res.Output, "sub/")
	})

	t.Run("should report an empty directory", func(t *testing.T) {
		reg, _ := setupTestTools(t, Config{})

		res := reg.Execute(ctx, "file_list", map[string]interface{}{})
		require.True(t, res.Success)
		assert.Equal(t, "(empty directory)", res.Output)
	})
}

func TestShellTool(t *testing.T) {
	t.Run("should capture stdout and exit code", func(t *testing.T) {
		reg, _ := setupTestTools(t, Config{})

		res := reg.Execute(context.Background(), "shell", map[string]interface{}{"command": "printf hello"})
		require.True(t, res.Success, res.Error)
		assert.Contains(t, res.Output, "STDOUT:\nhello")
		assert.Contains(t, res.Output, "EXIT CODE: 0")
	})

	t.Run("should fail on a nonzero exit code with stderr", func(t *testing.T) {
		reg, _ := setupTestTools(t, Config{})

		res := reg.Execute(context.Background(), "shell", map[string]interface{}{"command": "echo oops >&2; exit 3"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Output, "EXIT CODE: 3")
		assert.Contains(t, res.Error, "oops")
	})
}

func TestDeployTool(t *testing.T) {
	ctx := context.Background()

	t.Run("should publish a URL for an existing entry file", func(t *testing.T) {
		reg, tmpDir := setupTestTools(t, Config{TaskID: "abc123"})

		require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "site"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "site", "index.html"), []byte("<html/>"), 0o644))

		res := reg.Execute(ctx, "deploy", map[string]interface{}{"directory": "site"})
		require.True(t, res.Success, res.Error)
		assert.Contains(t, res.Output, "http://localhost:8000/api/tasks/abc123/files/site/index.html")
		assert.Equal(t, "index.html", res.Artifacts["entry_file"])
	})

	t.Run("should fail when the entry file is missing", func(t *testing.T) {
		reg, tmpDir := setupTestTools(t, Config{})

		require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "site"), 0o755))

		res := reg.Execute(ctx, "deploy", map[string]interface{}{"directory": "site"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "entry file not found")
	})
}

const fakeSearchPage = `<html><body>
<div class="results">
  <div class="result results_links">
    <h2 class="result__title">
      <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fdocs&amp;rut=x">Example Docs</a>
    </h2>
    <a class="result__snippet">Documentation for the example project with details.</a>
  </div>
  <div class="result results_links">
    <h2 class="result__title">
      <a class="result__a" href="https://other.example.org/">Other Site</a>
    </h2>
    <a class="result__snippet">Another relevant result.</a>
  </div>
</div>
</body></html>`

func TestWebSearchTool(t *testing.T) {
	t.Run("should parse results and unwrap redirect links", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "golang testing", r.URL.Query().Get("q"))
			w.Write([]byte(fakeSearchPage))
		}))
		defer server.Close()

		reg, _ := setupTestTools(t, Config{SearchBaseURL: server.URL + "/html/", HTTPClient: server.Client()})

		res := reg.Execute(context.Background(), "web_search", map[string]interface{}{"query": "golang testing"})
		require.True(t, res.Success, res.Error)
		assert.Contains(t, res.Output, "1. Example Docs")
		assert.Contains(t, res.Output, "URL: https://example.com/docs")
		assert.Contains(t, res.Output, "Documentation for the example project")
		assert.Contains(t, res.Output, "2. Other Site")
	})

	t.Run("should limit the number of results", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(fakeSearchPage))
		}))
		defer server.Close()

		reg, _ := setupTestTools(t, Config{SearchBaseURL: server.URL + "/html/", HTTPClient: server.Client()})

		res := reg.Execute(context.Background(), "web_search", map[string]interface{}{
			"query":       "anything",
			"num_results": float64(1),
		})
		require.True(t, res.Success)
		assert.Contains(t, res.Output, "1. Example Docs")
		assert.NotContains(t, res.Output, "Other Site")
	})

	t.Run("should handle an empty result page", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html><body></body></html>"))
		}))
		defer server.Close()

		reg, _ := setupTestTools(t, Config{SearchBaseURL: server.URL + "/html/", HTTPClient: server.Client()})

		res := reg.Execute(context.Background(), "web_search", map[string]interface{}{"query": "nothing"})
		require.True(t, res.Success)
		assert.Contains(t, res.Output, "No results found")
	})
}
