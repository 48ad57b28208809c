package coretools

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/bayu/arion/pkg/tool"
)

func deployTool(cfg Config) tool.Definition {
	return tool.Definition{
		Name: "deploy",
		Description: "Deploy a static website or HTML file. Makes it accessible via a local URL. " +
			"Use for: delivering HTML reports, dashboards, web apps to the user.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"directory": map[string]interface{}{
					"type":        "string",
					"description": "Directory containing the files to deploy (relative to workspace)",
				},
				"entry_file": map[string]interface{}{
					"type":        "string",
					"description": "Entry file (default: index.html)",
				},
			},
			"required": []interface{}{"directory"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tool.Result, error) {
			directory, _ := args["directory"].(string)
			entryFile := "index.html"
			if v, ok := args["entry_file"].(string); ok && v != "" {
				entryFile = v
			}

			deployPath, err := resolvePath(cfg.WorkspacePath, directory)
			if err != nil {
				return &tool.Result{Success: false, Error: err.Error()}, nil
			}

			if _, err := os.Stat(deployPath); err != nil {
				return &tool.Result{Success: false, Error: fmt.Sprintf("directory not found: %s", directory)}, nil
			}
			if _, err := os.Stat(filepath.Join(deployPath, entryFile)); err != nil {
				return &tool.Result{
					Success: false,
					Error:   fmt.Sprintf("entry file not found: %s in %s", entryFile, directory),
				}, nil
			}

			// Served by the gateway's task file endpoint.
			url := fmt.Sprintf("%s/api/tasks/%s/files/%s",
				cfg.PublishBaseURL, cfg.TaskID, path.Join(directory, entryFile))

			return &tool.Result{
				Success:   true,
				Output:    fmt.Sprintf("Deployed! Access at:\n%s", url),
				Artifacts: map[string]string{"deployed_url": url, "entry_file": entryFile},
			}, nil
		},
	}
}
