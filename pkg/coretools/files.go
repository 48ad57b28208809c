package coretools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bayu/arion/pkg/tool"
)

// resolvePath joins a workspace-relative path and rejects escapes.
func resolvePath(workspace, rel string) (string, error) {
	full := filepath.Clean(filepath.Join(workspace, rel))
	root := filepath.Clean(workspace)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal not allowed")
	}
	return full, nil
}

func fileWriteTool(cfg Config) tool.Definition {
	return tool.Definition{
		Name: "file_write",
		Description: "Write content to a file. Creates the file if it doesn't exist. " +
			"Creates parent directories automatically. " +
			"Use for: creating scripts, saving data, writing reports, todo.md, etc.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File path relative to workspace (e.g., 'src/app.py', 'todo.md')",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Content to write to the file",
				},
			},
			"required": []interface{}{"path", "content"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tool.Result, error) {
			relPath, _ := args["path"].(string)
			content, _ := args["content"].(string)

			fullPath, err := resolvePath(cfg.WorkspacePath, relPath)
			if err != nil {
				return &tool.Result{Success: false, Error: err.Error()}, nil
			}

			if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
				return &tool.Result{Success: false, Error: err.Error()}, nil
			}
			if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
				return &tool.Result{Success: false, Error: err.Error()}, nil
			}

			return &tool.Result{
				Success:   true,
				Output:    fmt.Sprintf("Written %d bytes to %s", len(content), relPath),
				Artifacts: map[string]string{"file_path": relPath},
			}, nil
		},
	}
}

func fileReadTool(cfg Config) tool.Definition {
	return tool.Definition{
		Name: "file_read",
		Description: "Read content from a file. " +
			"Use for: reading data files, checking code, reviewing outputs.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File path relative to workspace",
				},
				"max_lines": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum lines to read (default: 200). Use for large files.",
				},
			},
			"required": []interface{}{"path"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tool.Result, error) {
			relPath, _ := args["path"].(string)
			maxLines := 200
			if v, ok := args["max_lines"].(float64); ok && v > 0 {
				maxLines = int(v)
			}

			fullPath, err := resolvePath(cfg.WorkspacePath, relPath)
			if err != nil {
				return &tool.Result{Success: false, Error: err.Error()}, nil
			}

			data, err := os.ReadFile(fullPath)
			if err != nil {
				if os.IsNotExist(err) {
					return &tool.Result{Success: false, Error: fmt.Sprintf("file not found: %s", relPath)}, nil
				}
				return &tool.Result{Success: false, Error: err.Error()}, nil
			}

			lines := strings.Split(string(data), "\n")
			total := len(lines)
			content := string(data)
			if total > maxLines {
				content = strings.Join(lines[:maxLines], "\n")
				content += fmt.Sprintf("\n\n... (%d more lines truncated)", total-maxLines)
			}

			return &tool.Result{Success: true, Output: content}, nil
		},
	}
}

func fileListTool(cfg Config) tool.Definition {
	return tool.Definition{
		Name: "file_list",
		Description: "List files and directories in the workspace. " +
			"Use for: exploring workspace structure, finding files.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Directory path relative to workspace (default: root)",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tool.Result, error) {
			relPath := "."
			if v, ok := args["path"].(string); ok && v != "" {
				relPath = v
			}

			fullPath, err := resolvePath(cfg.WorkspacePath, relPath)
			if err != nil {
				return &tool.Result{Success: false, Error: err.Error()}, nil
			}

			entries, err := os.ReadDir(fullPath)
			if err != nil {
				if os.IsNotExist(err) {
					return &tool.Result{Success: false, Error: fmt.Sprintf("directory not found: %s", relPath)}, nil
				}
				return &tool.Result{Success: false, Error: err.Error()}, nil
			}

			sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

			lines := []string{}
			for _, entry := range entries {
				if entry.IsDir() {
					lines = append(lines, entry.Name()+"/")
					continue
				}
				info, err := entry.Info()
				if err != nil {
					lines = append(lines, entry.Name())
					continue
				}
				lines = append(lines, fmt.Sprintf("%s (%s)", entry.Name(), formatSize(info.Size())))
			}

			if len(lines) == 0 {
				return &tool.Result{Success: true, Output: "(empty directory)"}, nil
			}

			return &tool.Result{Success: true, Output: strings.Join(lines, "\n")}, nil
		},
	}
}

func formatSize(size int64) string {
	value := float64(size)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if value < 1024 {
			return fmt.Sprintf("%.1f%s", value, unit)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.1fTB", value)
}
