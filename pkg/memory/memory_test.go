package memory

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"testing"

	"github.com/bayu/arion/pkg/tool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder maps each word to a stable dimension so related texts land
// near each other.
type fakeEmbedder struct {
	dimension int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, f.dimension)
	h := fnv.New32a()
	h.Write([]byte(text))
	for i := range vec {
		vec[i] = 0.01
	}
	vec[int(h.Sum32())%f.dimension] = 1.0
	return vec, nil
}

func setupTestManager(t *testing.T) *Manager {
	tmpDir, err := os.MkdirTemp("", "memory-test-*")
	require.NoError(t, err)

	m, err := NewManager(Config{
		DBPath:    filepath.Join(tmpDir, "memory.db"),
		Embedder:  &fakeEmbedder{dimension: 8},
		Logger:    zerolog.New(os.Stdout).Level(zerolog.ErrorLevel),
		Dimension: 8,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		m.Close()
		os.RemoveAll(tmpDir)
	})

	return m
}

func TestNewManager(t *testing.T) {
	t.Run("should require a database path", func(t *testing.T) {
		_, err := NewManager(Config{Embedder: &fakeEmbedder{dimension: 8}})
		assert.ErrorContains(t, err, "database path is required")
	})

	t.Run("should require an embedder", func(t *testing.T) {
		_, err := NewManager(Config{DBPath: "/tmp/x.db"})
		assert.ErrorContains(t, err, "embedder is required")
	})
}

func TestStoreAndRecall(t *testing.T) {
	ctx := context.Background()

	t.Run("should store an entry and recall it by the same text", func(t *testing.T) {
		m := setupTestManager(t)

		entry, err := m.Store(ctx, "the user prefers dark mode", "preference", nil)
		require.NoError(t, err)
		assert.NotEmpty(t, entry.ID)

		results, err := m.Recall(ctx, "the user prefers dark mode", "", 3)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, entry.ID, results[0].ID)
		assert.InDelta(t, 1.0, results[0].Score, 0.05)
	})

	t.Run("should filter recall by kind", func(t *testing.T) {
		m := setupTestManager(t)

		_, err := m.Store(ctx, "deploy happens on fridays", "fact", nil)
		require.NoError(t, err)
		_, err = m.Store(ctx, "use tabs not spaces", "preference", nil)
		require.NoError(t, err)

		results, err := m.Recall(ctx, "deploy happens on fridays", "preference", 5)
		require.NoError(t, err)
		for _, r := range results {
			assert.Equal(t, "preference", r.Kind)
		}
	})

	t.Run("should default the kind to note", func(t *testing.T) {
		m := setupTestManager(t)

		entry, err := m.Store(ctx, "something", "", nil)
		require.NoError(t, err)
		assert.Equal(t, "note", entry.Kind)
	})

	t.Run("should count stored entries", func(t *testing.T) {
		m := setupTestManager(t)

		_, err := m.Store(ctx, "one", "note", nil)
		require.NoError(t, err)
		_, err = m.Store(ctx, "two", "note", nil)
		require.NoError(t, err)

		n, err := m.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestRegisterTools(t *testing.T) {
	ctx := context.Background()

	t.Run("should expose memory_store and memory_recall", func(t *testing.T) {
		m := setupTestManager(t)
		reg := tool.NewRegistry(0)
		require.NoError(t, m.RegisterTools(reg))

		res := reg.Execute(ctx, "memory_store", map[string]interface{}{
			"content": "the report lives in reports/q3.md",
			"kind":    "fact",
		})
		require.True(t, res.Success, res.Error)
		assert.Contains(t, res.Output, "Remembered (fact)")

		res = reg.Execute(ctx, "memory_recall", map[string]interface{}{
			"query": "the report lives in reports/q3.md",
		})
		require.True(t, res.Success, res.Error)
		assert.Contains(t, res.Output, "reports/q3.md")
	})

	t.Run("should report when nothing matches", func(t *testing.T) {
		m := setupTestManager(t)
		reg := tool.NewRegistry(0)
		require.NoError(t, m.RegisterTools(reg))

		res := reg.Execute(ctx, "memory_recall", map[string]interface{}{"query": "anything"})
		require.True(t, res.Success)
		assert.Equal(t, "No relevant memories found.", res.Output)
	})
}
