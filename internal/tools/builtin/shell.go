package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"oats/internal/tools"
)

// ShellTool runs a shell command and captures combined output. This is the
// workhorse for cluster inspection via kubectl and friends.
type ShellTool struct {
	shell string
}

// NewShell creates the shell builtin.
func NewShell() *ShellTool {
	return &ShellTool{shell: "/bin/sh"}
}

func (t *ShellTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "shell",
		Version:     "1.0.0",
		Description: "Run a shell command and return its output. Use for kubectl, curl and other CLI inspection.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The command line to execute",
				},
				"workdir": map[string]any{
					"type":        "string",
					"description": "Working directory, defaults to the process cwd",
				},
			},
			"required": []any{"command"},
		},
	}
}

func (t *ShellTool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	command, _ := call.Arguments["command"].(string)
	if command == "" {
		return tools.FailedResult(call.ID, fmt.Errorf("command must not be empty")), nil
	}

	cmd := exec.CommandContext(ctx, t.shell, "-c", command)
	if workdir, ok := call.Arguments["workdir"].(string); ok && workdir != "" {
		cmd.Dir = workdir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := &tools.Result{
		CallID:  call.ID,
		Content: stdout.String(),
		Metadata: map[string]any{
			"duration_ms": elapsed.Milliseconds(),
			"exit_code":   cmd.ProcessState.ExitCode(),
		},
	}
	if stderr.Len() > 0 {
		result.Metadata["stderr"] = stderr.String()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("shell: %w", ctx.Err())
		}
		result.Error = fmt.Sprintf("command failed: %v", err)
	}
	return result, nil
}
