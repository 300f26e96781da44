package builtin

import (
	"context"
	"fmt"

	"oats/internal/tools"
	"oats/pkg/types"
)

// FinishName is the tool name the engine treats as loop-terminating.
const FinishName = "finish"

// FinishTool ends the investigation with a verdict and summary. The engine
// intercepts it; executing it only validates and echoes the arguments.
type FinishTool struct{}

// NewFinish creates the finish builtin.
func NewFinish() *FinishTool { return &FinishTool{} }

func (t *FinishTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        FinishName,
		Version:     "1.0.0",
		Description: "End the investigation with a verdict and a summary of findings.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"verdict": map[string]any{
					"type": "string",
					"enum": []any{"success", "failure", "inconclusive"},
				},
				"summary": map[string]any{
					"type":        "string",
					"description": "Final report of what was found and what remains open",
				},
			},
			"required": []any{"verdict", "summary"},
		},
	}
}

func (t *FinishTool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	verdict, summary, err := ParseFinishArgs(call.Arguments)
	if err != nil {
		return tools.FailedResult(call.ID, err), nil
	}
	return &tools.Result{
		CallID:  call.ID,
		Content: fmt.Sprintf("investigation finished with verdict %s: %s", verdict, summary),
	}, nil
}

// ParseFinishArgs extracts and validates finish arguments.
func ParseFinishArgs(arguments map[string]any) (types.Verdict, string, error) {
	rawVerdict, _ := arguments["verdict"].(string)
	summary, _ := arguments["summary"].(string)

	verdict := types.Verdict(rawVerdict)
	switch verdict {
	case types.VerdictSuccess, types.VerdictFailure, types.VerdictInconclusive:
	default:
		return "", "", fmt.Errorf("verdict must be success, failure or inconclusive, got %q", rawVerdict)
	}
	if summary == "" {
		return "", "", fmt.Errorf("summary must not be empty")
	}
	return verdict, summary, nil
}
