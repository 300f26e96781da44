package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// CommandTool wraps an external command described by a manifest. Arguments
// are passed to the command as environment variables prefixed with TOOL_ARG_.
type CommandTool struct {
	def     Definition
	command []string
}

// NewCommandTool builds a tool from a manifest command line.
func NewCommandTool(def Definition, command []string) (*CommandTool, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("tool %s: empty command", def.Name)
	}
	return &CommandTool{def: def, command: command}, nil
}

func (t *CommandTool) Definition() Definition { return t.def }

func (t *CommandTool) Execute(ctx context.Context, call Call) (*Result, error) {
	cmd := exec.CommandContext(ctx, t.command[0], t.command[1:]...)
	cmd.Env = append(cmd.Environ(), argEnv(call.Arguments)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := &Result{
		CallID:  call.ID,
		Content: stdout.String(),
		Metadata: map[string]any{
			"duration_ms": elapsed.Milliseconds(),
		},
	}
	if stderr.Len() > 0 {
		result.Metadata["stderr"] = stderr.String()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("tool %s: %w", t.def.Name, ctx.Err())
		}
		result.Error = err.Error()
	}
	return result, nil
}

func argEnv(arguments map[string]any) []string {
	keys := make([]string, 0, len(arguments))
	for k := range arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		name := "TOOL_ARG_" + strings.ToUpper(strings.ReplaceAll(k, "-", "_"))
		env = append(env, fmt.Sprintf("%s=%v", name, arguments[k]))
	}
	return env
}
