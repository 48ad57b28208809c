package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/bayu/arion/pkg/tool"
)

// RegisterTools adds the browsing capabilities for one task. All of them
// share the task's pooled session.
func (p *Pool) RegisterTools(reg *tool.Registry, taskID string) error {
	defs := []tool.Definition{
		p.navigateTool(taskID),
		p.clickTool(taskID),
		p.typeTool(taskID),
		p.scrollTool(taskID),
		p.screenshotTool(taskID),
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) navigateTool(taskID string) tool.Definition {
	return tool.Definition{
		Name: "browser_navigate",
		Description: "Navigate the browser to a URL. Returns page info and screenshot. " +
			"Use for: visiting websites, opening pages.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "URL to navigate to",
				},
			},
			"required": []interface{}{"url"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tool.Result, error) {
			url, _ := args["url"].(string)

			s, err := p.get(taskID)
			if err != nil {
				return &tool.Result{Success: false, Error: fmt.Sprintf("browser error: %v", err)}, nil
			}

			if err := s.Navigate(url); err != nil {
				return &tool.Result{Success: false, Error: fmt.Sprintf("browser error: %v", err)}, nil
			}

			return p.snapshot(s, func(info *PageInfo) string {
				return fmt.Sprintf("Navigated to: %s\nTitle: %s\n\nInteractive Elements:\n%s\n\nPage Text Preview:\n%s",
					info.URL, info.Title, formatElements(info.Elements, true), truncate(info.Text, 1500))
			})
		},
	}
}

func (p *Pool) clickTool(taskID string) tool.Definition {
	return tool.Definition{
		Name: "browser_click",
		Description: "Click an interactive element on the page by its index number. " +
			"First use browser_navigate or browser_screenshot to see available elements. " +
			"Elements are listed as [index] <tag> \"text\".",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"element_index": map[string]interface{}{
					"type":        "integer",
					"description": "Index number of the element to click (from the elements list)",
				},
			},
			"required": []interface{}{"element_index"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tool.Result, error) {
			index := 0
			if v, ok := args["element_index"].(float64); ok {
				index = int(v)
			}

			s, err := p.get(taskID)
			if err != nil {
				return &tool.Result{Success: false, Error: fmt.Sprintf("browser error: %v", err)}, nil
			}

			info, err := s.Info()
			if err != nil {
				return &tool.Result{Success: false, Error: fmt.Sprintf("click error: %v", err)}, nil
			}

			target := findElement(info.Elements, index)
			if target == nil {
				return &tool.Result{
					Success: false,
					Error:   fmt.Sprintf("element [%d] not found. Available: 0-%d", index, len(info.Elements)-1),
				}, nil
			}

			if err := s.ClickAt(target.BBox.X, target.BBox.Y); err != nil {
				return &tool.Result{Success: false, Error: fmt.Sprintf("click error: %v", err)}, nil
			}

			return p.snapshot(s, func(after *PageInfo) string {
				return fmt.Sprintf("Clicked element [%d]: <%s> %q\nCurrent URL: %s\nTitle: %s\n\nInteractive Elements:\n%s\n\nPage Text Preview:\n%s",
					index, target.Tag, truncate(target.Text, 50), after.URL, after.Title,
					formatElements(after.Elements, false), truncate(after.Text, 1500))
			})
		},
	}
}

func (p *Pool) typeTool(taskID string) tool.Definition {
	return tool.Definition{
		Name: "browser_type",
		Description: "Type text into the currently focused element or a specific element. " +
			"Click on an input element first, then type.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Text to type",
				},
				"element_index": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: click this element first before typing",
				},
				"press_enter": map[string]interface{}{
					"type":        "boolean",
					"description": "Press Enter after typing (for search forms)",
				},
			},
			"required": []interface{}{"text"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tool.Result, error) {
			text, _ := args["text"].(string)
			pressEnter, _ := args["press_enter"].(bool)

			s, err := p.get(taskID)
			if err != nil {
				return &tool.Result{Success: false, Error: fmt.Sprintf("browser error: %v", err)}, nil
			}

			if v, ok := args["element_index"].(float64); ok {
				info, err := s.Info()
				if err != nil {
					return &tool.Result{Success: false, Error: err.Error()}, nil
				}
				if target := findElement(info.Elements, int(v)); target != nil {
					if err := s.ClickAt(target.BBox.X, target.BBox.Y); err != nil {
						return &tool.Result{Success: false, Error: err.Error()}, nil
					}
				}
			}

			if err := s.TypeText(text, pressEnter); err != nil {
				return &tool.Result{Success: false, Error: err.Error()}, nil
			}

			info, err := s.Info()
			if err != nil {
				return &tool.Result{Success: false, Error: err.Error()}, nil
			}
			shot, err := s.Screenshot()
			if err != nil {
				return &tool.Result{Success: false, Error: err.Error()}, nil
			}

			output := fmt.Sprintf("Typed: %q", truncate(text, 100))
			if pressEnter {
				output += " + Enter"
			}
			output += "\nCurrent URL: " + info.URL

			return &tool.Result{
				Success:   true,
				Output:    output,
				Artifacts: map[string]string{"screenshot": shot},
			}, nil
		},
	}
}

func (p *Pool) scrollTool(taskID string) tool.Definition {
	return tool.Definition{
		Name:        "browser_scroll",
		Description: "Scroll the page up or down to see more content.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"direction": map[string]interface{}{
					"type":        "string",
					"enum":        []interface{}{"up", "down"},
					"description": "Direction to scroll",
				},
			},
			"required": []interface{}{"direction"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tool.Result, error) {
			direction, _ := args["direction"].(string)

			s, err := p.get(taskID)
			if err != nil {
				return &tool.Result{Success: false, Error: fmt.Sprintf("browser error: %v", err)}, nil
			}

			if err := s.Scroll(direction); err != nil {
				return &tool.Result{Success: false, Error: err.Error()}, nil
			}

			info, err := s.Info()
			if err != nil {
				return &tool.Result{Success: false, Error: err.Error()}, nil
			}
			shot, err := s.Screenshot()
			if err != nil {
				return &tool.Result{Success: false, Error: err.Error()}, nil
			}

			return &tool.Result{
				Success:   true,
				Output:    fmt.Sprintf("Scrolled %s.\nPage text:\n%s", direction, truncate(info.Text, 2000)),
				Artifacts: map[string]string{"screenshot": shot},
			}, nil
		},
	}
}

func (p *Pool) screenshotTool(taskID string) tool.Definition {
	return tool.Definition{
		Name: "browser_screenshot",
		Description: "Take a screenshot of the current page and get page info. " +
			"Use when you need to see the current state of the page.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tool.Result, error) {
			s, err := p.get(taskID)
			if err != nil {
				return &tool.Result{Success: false, Error: fmt.Sprintf("browser error: %v", err)}, nil
			}

			return p.snapshot(s, func(info *PageInfo) string {
				return fmt.Sprintf("URL: %s\nTitle: %s\n\nInteractive Elements:\n%s\n\nPage Text:\n%s",
					info.URL, info.Title, formatElements(info.Elements, false), truncate(info.Text, 2000))
			})
		},
	}
}

// snapshot extracts page info, captures a screenshot, and renders a result.
func (p *Pool) snapshot(s driver, render func(*PageInfo) string) (*tool.Result, error) {
	info, err := s.Info()
	if err != nil {
		return &tool.Result{Success: false, Error: fmt.Sprintf("browser error: %v", err)}, nil
	}
	shot, err := s.Screenshot()
	if err != nil {
		return &tool.Result{Success: false, Error: fmt.Sprintf("browser error: %v", err)}, nil
	}

	return &tool.Result{
		Success:   true,
		Output:    render(info),
		Artifacts: map[string]string{"screenshot": shot},
	}, nil
}

func findElement(elements []Element, index int) *Element {
	for i := range elements {
		if elements[i].Index == index {
			return &elements[i]
		}
	}
	return nil
}

// formatElements renders the element list shown to the model.
func formatElements(elements []Element, withHref bool) string {
	lines := make([]string, 0, listedElements)
	for _, el := range elements {
		if len(lines) >= listedElements {
			break
		}
		line := fmt.Sprintf("  [%d] <%s> %q", el.Index, el.Tag, truncate(el.Text, 50))
		if withHref && el.Href != "" {
			line += " " + truncate(el.Href, 60)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
