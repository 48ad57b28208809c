package coretools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bayu/arion/pkg/tool"
)

const (
	stdoutCap = 10000
	stderrCap = 5000
)

func shellTool(cfg Config) tool.Definition {
	return tool.Definition{
		Name: "shell",
		Description: "Execute a shell command in the sandbox. " +
			"Use for: installing packages, running scripts, git, file operations, " +
			"system commands, etc. Returns stdout, stderr, and exit code.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "The bash command to execute",
				},
			},
			"required": []interface{}{"command"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tool.Result, error) {
			command, _ := args["command"].(string)

			var cmd *exec.Cmd
			if cfg.SandboxID != "" {
				cmd = exec.CommandContext(ctx, "docker", "exec", cfg.SandboxID, "bash", "-c", command)
			} else {
				cmd = exec.CommandContext(ctx, "bash", "-c", command)
				cmd.Dir = cfg.WorkspacePath
			}

			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			runErr := cmd.Run()

			if ctx.Err() == context.DeadlineExceeded {
				return &tool.Result{Success: false, Error: "command timed out"}, nil
			}

			exitCode := 0
			if runErr != nil {
				if exitErr, ok := runErr.(*exec.ExitError); ok {
					exitCode = exitErr.ExitCode()
				} else {
					return &tool.Result{
						Success: false,
						Error:   fmt.Sprintf("shell execution error: %v", runErr),
					}, nil
				}
			}

			stdoutStr := capString(stdout.String(), stdoutCap)
			stderrStr := capString(stderr.String(), stderrCap)

			parts := []string{}
			if strings.TrimSpace(stdoutStr) != "" {
				parts = append(parts, "STDOUT:\n"+stdoutStr)
			}
			if strings.TrimSpace(stderrStr) != "" {
				parts = append(parts, "STDERR:\n"+stderrStr)
			}
			parts = append(parts, fmt.Sprintf("EXIT CODE: %d", exitCode))

			res := &tool.Result{
				Success: exitCode == 0,
				Output:  strings.Join(parts, "\n"),
			}
			if exitCode != 0 {
				res.Error = stderrStr
			}
			return res, nil
		},
	}
}

func capString(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
