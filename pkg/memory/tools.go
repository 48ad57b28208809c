package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/bayu/arion/pkg/tool"
)

// RegisterTools adds the memory_store and memory_recall capabilities.
func (m *Manager) RegisterTools(reg *tool.Registry) error {
	storeDef := tool.Definition{
		Name: "memory_store",
		Description: "Save a piece of information to long-term memory so future tasks can use it. " +
			"Use for: user preferences, learned facts, reusable results.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"content": map[string]interface{}{
					"type":        "string",
					"description": "The information to remember",
				},
				"kind": map[string]interface{}{
					"type":        "string",
					"description": "Category: note, fact, preference (default: note)",
				},
			},
			"required": []interface{}{"content"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tool.Result, error) {
			content, _ := args["content"].(string)
			kind, _ := args["kind"].(string)

			entry, err := m.Store(ctx, content, kind, nil)
			if err != nil {
				return &tool.Result{Success: false, Error: err.Error()}, nil
			}
			return &tool.Result{
				Success: true,
				Output:  fmt.Sprintf("Remembered (%s): %s", entry.Kind, truncate(content, 200)),
			}, nil
		},
	}

	recallDef := tool.Definition{
		Name: "memory_recall",
		Description: "Search long-term memory for relevant information from past tasks. " +
			"Use before re-deriving something you may already know.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "What to look for",
				},
				"kind": map[string]interface{}{
					"type":        "string",
					"description": "Optional category filter",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Number of results (default: 5)",
				},
			},
			"required": []interface{}{"query"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tool.Result, error) {
			query, _ := args["query"].(string)
			kind, _ := args["kind"].(string)
			topK := 5
			if v, ok := args["top_k"].(float64); ok && v > 0 {
				topK = int(v)
			}

			entries, err := m.Recall(ctx, query, kind, topK)
			if err != nil {
				return &tool.Result{Success: false, Error: err.Error()}, nil
			}
			if len(entries) == 0 {
				return &tool.Result{Success: true, Output: "No relevant memories found."}, nil
			}

			lines := make([]string, 0, len(entries))
			for i, e := range entries {
				lines = append(lines, fmt.Sprintf("%d. [%s] %s (score %.2f)", i+1, e.Kind, e.Content, e.Score))
			}
			return &tool.Result{Success: true, Output: strings.Join(lines, "\n")}, nil
		},
	}

	if err := reg.Register(storeDef); err != nil {
		return err
	}
	return reg.Register(recallDef)
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
