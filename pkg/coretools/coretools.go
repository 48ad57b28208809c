// Package coretools provides the built-in capabilities every task gets:
// shell, filesystem access, python execution, static deploys, and web
// search. All of them operate inside one task's workspace directory.
package coretools

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bayu/arion/pkg/tool"
)

const defaultSearchBaseURL = "https://html.duckduckgo.com/html/"

// Config binds the core capabilities to one task.
type Config struct {
	// WorkspacePath is the task's working directory. Required.
	WorkspacePath string
	// TaskID feeds deploy URLs and log context.
	TaskID string
	// SandboxID, when set, routes shell commands through docker exec.
	SandboxID string
	// PublishBaseURL is the gateway address deploys are served from,
	// for example http://localhost:8000.
	PublishBaseURL string
	// SearchBaseURL overrides the search endpoint, for tests.
	SearchBaseURL string
	// HTTPClient overrides the search client, for tests.
	HTTPClient *http.Client
}

// Register adds all core capabilities to a registry.
func Register(reg *tool.Registry, cfg Config) error {
	if cfg.WorkspacePath == "" {
		return fmt.Errorf("workspace path is required")
	}
	if cfg.SearchBaseURL == "" {
		cfg.SearchBaseURL = defaultSearchBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}

	defs := []tool.Definition{
		shellTool(cfg),
		fileWriteTool(cfg),
		fileReadTool(cfg),
		fileListTool(cfg),
		pythonRunTool(cfg),
		deployTool(cfg),
		webSearchTool(cfg),
	}

	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}

	return nil
}
