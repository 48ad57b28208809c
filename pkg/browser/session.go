// Package browser drives a headless chromium per task through rod and
// exposes the browsing capabilities to the agent loop.
package browser

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	viewportWidth  = 1280
	viewportHeight = 800
	navTimeout     = 30 * time.Second
	settleDelay    = 2 * time.Second
	maxElements    = 50
	listedElements = 30
	pageTextCap    = 3000
)

// Element is one visible interactive element on the current page.
type Element struct {
	Index int    `json:"index"`
	Tag   string `json:"tag"`
	Text  string `json:"text"`
	Type  string `json:"type"`
	Href  string `json:"href"`
	BBox  struct {
		X int `json:"x"`
		Y int `json:"y"`
	} `json:"bbox"`
}

// PageInfo is a snapshot of the current page for the model.
type PageInfo struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Elements []Element `json:"interactive_elements"`
	Text     string    `json:"page_text"`
}

// Session is one task's live browser: a single chromium with one page.
type Session struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

func newSession() (*Session, error) {
	l := launcher.New().
		Headless(true).
		Set("no-sandbox").
		Set("disable-dev-shm-usage")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to chromium: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		b.Close()
		l.Kill()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             viewportWidth,
		Height:            viewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		b.Close()
		l.Kill()
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	return &Session{launcher: l, browser: b, page: page}, nil
}

// Close shuts the browser down.
func (s *Session) Close() {
	if s.browser != nil {
		s.browser.Close()
	}
	if s.launcher != nil {
		s.launcher.Kill()
	}
}

// Navigate loads a URL and waits for the DOM plus a settle delay.
func (s *Session) Navigate(url string) error {
	page := s.page.Timeout(navTimeout)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("page load timeout: %w", err)
	}
	time.Sleep(settleDelay)
	return nil
}

// extractInfoJS lists visible interactive elements with their center point,
// plus a text preview, as a JSON string.
var extractInfoJS = `() => {
	const selectors = 'a[href], button, input, select, textarea, [role="button"], [onclick]';
	const els = document.querySelectorAll(selectors);
	const results = [];
	let idx = 0;
	for (const el of els) {
		const rect = el.getBoundingClientRect();
		if (rect.width > 0 && rect.height > 0 &&
			rect.top < window.innerHeight && rect.bottom > 0 &&
			rect.left < window.innerWidth && rect.right > 0) {
			results.push({
				index: idx++,
				tag: el.tagName.toLowerCase(),
				text: (el.textContent || el.value || el.placeholder || el.getAttribute('aria-label') || '').trim().substring(0, 80),
				type: el.type || '',
				href: el.href || '',
				bbox: {
					x: Math.round(rect.x + rect.width/2),
					y: Math.round(rect.y + rect.height/2)
				}
			});
			if (results.length >= ` + fmt.Sprint(maxElements) + `) break;
		}
	}
	return JSON.stringify({
		url: window.location.href,
		title: document.title,
		interactive_elements: results,
		page_text: document.body ? document.body.innerText.substring(0, ` + fmt.Sprint(pageTextCap) + `) : ''
	});
}`

// Info extracts the current page snapshot.
func (s *Session) Info() (*PageInfo, error) {
	obj, err := s.page.Eval(extractInfoJS)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect page: %w", err)
	}

	var info PageInfo
	if err := json.Unmarshal([]byte(obj.Value.Str()), &info); err != nil {
		return nil, fmt.Errorf("failed to decode page info: %w", err)
	}
	return &info, nil
}

// Screenshot captures the viewport as base64 PNG.
func (s *Session) Screenshot() (string, error) {
	data, err := s.page.Screenshot(false, nil)
	if err != nil {
		return "", fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ClickAt clicks the page at viewport coordinates.
func (s *Session) ClickAt(x, y int) error {
	if err := s.page.Mouse.MoveTo(proto.Point{X: float64(x), Y: float64(y)}); err != nil {
		return err
	}
	if err := s.page.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	time.Sleep(settleDelay)
	return nil
}

// TypeText inserts text into the focused element, optionally pressing Enter.
func (s *Session) TypeText(text string, pressEnter bool) error {
	if err := s.page.InsertText(text); err != nil {
		return err
	}
	if pressEnter {
		if err := s.page.Keyboard.Press(input.Enter); err != nil {
			return err
		}
		time.Sleep(settleDelay)
	}
	return nil
}

// Scroll moves the page up or down by half a viewport.
func (s *Session) Scroll(direction string) error {
	delta := 500.0
	if direction == "up" {
		delta = -500
	}
	if err := s.page.Mouse.Scroll(0, delta, 1); err != nil {
		return err
	}
	time.Sleep(time.Second)
	return nil
}
