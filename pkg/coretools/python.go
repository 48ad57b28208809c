package coretools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bayu/arion/pkg/tool"
)

const (
	pythonStdoutCap = 8000
	pythonStderrCap = 4000
)

func pythonRunTool(cfg Config) tool.Definition {
	return tool.Definition{
		Name: "python_run",
		Description: "Execute a Python script. The script is saved to a file and executed. " +
			"Use for: data analysis, calculations, generating charts, processing files.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"code": map[string]interface{}{
					"type":        "string",
					"description": "Python code to execute",
				},
				"filename": map[string]interface{}{
					"type":        "string",
					"description": "Optional filename to save script as (default: script.py)",
				},
			},
			"required": []interface{}{"code"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tool.Result, error) {
			code, _ := args["code"].(string)
			filename := "script.py"
			if v, ok := args["filename"].(string); ok && v != "" {
				filename = v
			}

			scriptPath, err := resolvePath(cfg.WorkspacePath, filename)
			if err != nil {
				return &tool.Result{Success: false, Error: err.Error()}, nil
			}
			if err := os.MkdirAll(filepath.Dir(scriptPath), 0o755); err != nil {
				return &tool.Result{Success: false, Error: err.Error()}, nil
			}
			if err := os.WriteFile(scriptPath, []byte(code), 0o644); err != nil {
				return &tool.Result{Success: false, Error: err.Error()}, nil
			}

			cmd := exec.CommandContext(ctx, "python3", scriptPath)
			cmd.Dir = cfg.WorkspacePath

			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			runErr := cmd.Run()

			if ctx.Err() == context.DeadlineExceeded {
				return &tool.Result{Success: false, Error: "script timed out"}, nil
			}

			exitCode := 0
			if runErr != nil {
				if exitErr, ok := runErr.(*exec.ExitError); ok {
					exitCode = exitErr.ExitCode()
				} else {
					return &tool.Result{Success: false, Error: runErr.Error()}, nil
				}
			}

			stdoutStr := capString(stdout.String(), pythonStdoutCap)
			stderrStr := capString(stderr.String(), pythonStderrCap)

			parts := []string{fmt.Sprintf("Saved and executed: %s", filename)}
			if strings.TrimSpace(stdoutStr) != "" {
				parts = append(parts, "\nOutput:\n"+stdoutStr)
			}
			if strings.TrimSpace(stderrStr) != "" && exitCode != 0 {
				parts = append(parts, "\nErrors:\n"+stderrStr)
			}
			parts = append(parts, fmt.Sprintf("\nExit code: %d", exitCode))

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
