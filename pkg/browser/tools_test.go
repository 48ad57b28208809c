package browser

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/bayu/arion/pkg/tool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver scripts a page without launching chromium.
type fakeDriver struct {
	info      *PageInfo
	navigated []string
	clicks    [][2]int
	typed     []string
	scrolls   []string
	closed    bool
}

func (f *fakeDriver) Navigate(url string) error {
	f.navigated = append(f.navigated, url)
	f.info.URL = url
	return nil
}

func (f *fakeDriver) Info() (*PageInfo, error)    { return f.info, nil }
func (f *fakeDriver) Screenshot() (string, error) { return "cGln", nil }

func (f *fakeDriver) ClickAt(x, y int) error {
	f.clicks = append(f.clicks, [2]int{x, y})
	return nil
}

func (f *fakeDriver) TypeText(text string, pressEnter bool) error {
	entry := text
	if pressEnter {
		entry += "<enter>"
	}
	f.typed = append(f.typed, entry)
	return nil
}

func (f *fakeDriver) Scroll(direction string) error {
	f.scrolls = append(f.scrolls, direction)
	return nil
}

func (f *fakeDriver) Close() { f.closed = true }

func testPageInfo() *PageInfo {
	info := &PageInfo{
		URL:   "https://example.com",
		Title: "Example",
		Text:  "Welcome to the example page.",
	}
	link := Element{Index: 0, Tag: "a", Text: "Docs", Href: "https://example.com/docs"}
	link.BBox.X = 100
	link.BBox.Y = 40
	input := Element{Index: 1, Tag: "input", Text: "", Type: "text"}
	input.BBox.X = 200
	input.BBox.Y = 80
	info.Elements = []Element{link, input}
	return info
}

func setupTestBrowser(t *testing.T) (*tool.Registry, *fakeDriver) {
	fake := &fakeDriver{info: testPageInfo()}

	pool := NewPool(zerolog.New(os.Stdout).Level(zerolog.ErrorLevel))
	pool.launch = func() (driver, error) { return fake, nil }
	t.Cleanup(pool.Close)

	reg := tool.NewRegistry(0)
	require.NoError(t, pool.RegisterTools(reg, "task-1"))

	return reg, fake
}

func TestRegisterTools(t *testing.T) {
	t.Run("should register the five browsing capabilities", func(t *testing.T) {
		reg, _ := setupTestBrowser(t)
		assert.Equal(t, []string{
			"browser_click", "browser_navigate", "browser_screenshot",
			"browser_scroll", "browser_type",
		}, reg.Names())
	})
}

func TestNavigate(t *testing.T) {
	t.Run("should return page info with a screenshot artifact", func(t *testing.T) {
		reg, fake := setupTestBrowser(t)

		res := reg.Execute(context.Background(), "browser_navigate", map[string]interface{}{
			"url": "https://example.com",
		})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, []string{"https://example.com"}, fake.navigated)
		assert.Contains(t, res.Output, "Navigated to: https://example.com")
		assert.Contains(t, res.Output, `[0] <a> "Docs" https://example.com/docs`)
		assert.Equal(t, "cGln", res.Artifacts["screenshot"])
	})
}

func TestClick(t *testing.T) {
	t.Run("should click the element center by index", func(t *testing.T) {
		reg, fake := setupTestBrowser(t)

		res := reg.Execute(context.Background(), "browser_click", map[string]interface{}{
			"element_index": float64(0),
		})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, [][2]int{{100, 40}}, fake.clicks)
		assert.Contains(t, res.Output, `Clicked element [0]: <a> "Docs"`)
	})

	t.Run("should fail for an unknown index", func(t *testing.T) {
		reg, fake := setupTestBrowser(t)

		res := reg.Execute(context.Background(), "browser_click", map[string]interface{}{
			"element_index": float64(9),
		})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "element [9] not found. Available: 0-1")
		assert.Empty(t, fake.clicks)
	})
}

func TestType(t *testing.T) {
	t.Run("should click the target element first and press enter", func(t *testing.T) {
		reg, fake := setupTestBrowser(t)

		res := reg.Execute(context.Background(), "browser_type", map[string]interface{}{
			"text":          "golang",
			"element_index": float64(1),
			"press_enter":   true,
		})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, [][2]int{{200, 80}}, fake.clicks)
		assert.Equal(t, []string{"golang<enter>"}, fake.typed)
		assert.Contains(t, res.Output, `Typed: "golang" + Enter`)
	})
}

func TestScroll(t *testing.T) {
	t.Run("should scroll and report the page text", func(t *testing.T) {
		reg, fake := setupTestBrowser(t)

		res := reg.Execute(context.Background(), "browser_scroll", map[string]interface{}{
			"direction": "down",
		})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, []string{"down"}, fake.scrolls)
		assert.Contains(t, res.Output, "Scrolled down.")
	})
}

func TestPoolRelease(t *testing.T) {
	t.Run("should close the session on release", func(t *testing.T) {
		fake := &fakeDriver{info: testPageInfo()}
		pool := NewPool(zerolog.New(os.Stdout).Level(zerolog.ErrorLevel))
		pool.launch = func() (driver, error) { return fake, nil }

		_, err := pool.get("task-1")
		require.NoError(t, err)

		pool.Release("task-1")
		assert.True(t, fake.closed)
	})

	t.Run("should reuse one session per task", func(t *testing.T) {
		launches := 0
		pool := NewPool(zerolog.New(os.Stdout).Level(zerolog.ErrorLevel))
		pool.launch = func() (driver, error) {
			launches++
			return &fakeDriver{info: testPageInfo()}, nil
		}
		defer pool.Close()

		_, err := pool.get("task-1")
		require.NoError(t, err)
		_, err = pool.get("task-1")
		require.NoError(t, err)
		_, err = pool.get("task-2")
		require.NoError(t, err)

		assert.Equal(t, 2, launches)
	})

	t.Run("should surface a launch failure through the tools", func(t *testing.T) {
		pool := NewPool(zerolog.New(os.Stdout).Level(zerolog.ErrorLevel))
		pool.launch = func() (driver, error) { return nil, fmt.Errorf("no chromium") }

		reg := tool.NewRegistry(0)
		require.NoError(t, pool.RegisterTools(reg, "task-1"))

		res := reg.Execute(context.Background(), "browser_screenshot", map[string]interface{}{})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "no chromium")
	})
}
