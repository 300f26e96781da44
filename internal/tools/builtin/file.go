package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"oats/internal/tools"
)

// ReadFileTool returns file contents.
type ReadFileTool struct{}

// NewReadFile creates the read_file builtin.
func NewReadFile() *ReadFileTool { return &ReadFileTool{} }

func (t *ReadFileTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "read_file",
		Version:     "1.0.0",
		Description: "Read a file from the worker filesystem.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Absolute or relative file path",
				},
			},
			"required": []any{"path"},
		},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, _ := call.Arguments["path"].(string)
	if path == "" {
		return tools.FailedResult(call.ID, fmt.Errorf("path must not be empty")), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tools.FailedResult(call.ID, fmt.Errorf("read %s: %w", path, err)), nil
	}
	return &tools.Result{
		CallID:  call.ID,
		Content: string(data),
		Metadata: map[string]any{
			"path":  path,
			"bytes": len(data),
		},
	}, nil
}

// WriteFileTool writes content to a file, creating parent directories.
type WriteFileTool struct{}

// NewWriteFile creates the write_file builtin.
func NewWriteFile() *WriteFileTool { return &WriteFileTool{} }

func (t *WriteFileTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "write_file",
		Version:     "1.0.0",
		Description: "Write content to a file on the worker filesystem.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Destination file path",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Content to write",
				},
			},
			"required": []any{"path", "content"},
		},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, _ := call.Arguments["path"].(string)
	content, _ := call.Arguments["content"].(string)
	if path == "" {
		return tools.FailedResult(call.ID, fmt.Errorf("path must not be empty")), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return tools.FailedResult(call.ID, fmt.Errorf("create parent dirs for %s: %w", path, err)), nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return tools.FailedResult(call.ID, fmt.Errorf("write %s: %w", path, err)), nil
	}
	return &tools.Result{
		CallID:  call.ID,
		Content: fmt.Sprintf("wrote %d bytes to %s", len(content), path),
		Metadata: map[string]any{
			"path":  path,
			"bytes": len(content),
		},
	}, nil
}
