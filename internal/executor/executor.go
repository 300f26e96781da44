package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"oats/internal/config"
	"oats/internal/logging"
	"oats/internal/tools"
)

// Executor validates, times out and funnels tool calls on behalf of the
// reasoning engine.
type Executor struct {
	registry       *tools.Registry
	funnel         *Funnel
	defaultTimeout time.Duration
	logger         logging.Logger
}

// Options configures an Executor.
type Options struct {
	Registry       *tools.Registry
	ArtifactDir    string
	DefaultTimeout time.Duration
	Logger         logging.Logger
}

// New creates an Executor.
func New(opts Options) *Executor {
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = config.DefaultToolTimeout
	}
	return &Executor{
		registry:       opts.Registry,
		funnel:         NewFunnel(opts.ArtifactDir),
		defaultTimeout: timeout,
		logger:         logging.OrNop(opts.Logger),
	}
}

// Execute runs one tool call end to end. Failures surface as error
// observations rather than Go errors so the loop can continue; only context
// cancellation aborts.
func (e *Executor) Execute(ctx context.Context, call tools.Call) (Observation, error) {
	tool, err := e.registry.Get(call.Name)
	if err != nil {
		e.logger.Warn("tool lookup failed: %v", err)
		return errorObservation(err), nil
	}
	def := tool.Definition()

	if err := validateArguments(def, call.Arguments); err != nil {
		e.logger.Warn("argument validation failed for %s: %v", call.Name, err)
		return errorObservation(err), nil
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := tool.Execute(callCtx, call)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return Observation{}, fmt.Errorf("tool %s: %w", call.Name, ctx.Err())
		}
		if callCtx.Err() != nil {
			e.logger.Warn("tool %s timed out after %v", call.Name, timeout)
			return errorObservation(fmt.Errorf("tool %s timed out after %v", call.Name, timeout)), nil
		}
		e.logger.Warn("tool %s failed after %v: %v", call.Name, elapsed, err)
		return errorObservation(fmt.Errorf("tool %s: %w", call.Name, err)), nil
	}

	e.logger.Debug("tool %s completed in %v", call.Name, elapsed)

	content := result.Content
	if result.Error != "" {
		if content != "" {
			content += "\n"
		}
		content += "error: " + result.Error
	}
	if stderr, ok := result.Metadata["stderr"].(string); ok && strings.TrimSpace(stderr) != "" {
		if content != "" {
			content += "\n"
		}
		content += "stderr: " + stderr
	}

	return e.funnel.Shape(call.Name, content), nil
}

// Definitions lists every registered tool for prompt construction.
func (e *Executor) Definitions() []tools.Definition {
	return e.registry.List()
}

func errorObservation(err error) Observation {
	return Observation{Content: "error: " + err.Error()}
}

func validateArguments(def tools.Definition, arguments map[string]any) error {
	if len(def.InputSchema) == 0 {
		return nil
	}

	schemaJSON, err := json.Marshal(normalizeSchema(def.InputSchema))
	if err != nil {
		return fmt.Errorf("marshal schema for %s: %w", def.Name, err)
	}
	if arguments == nil {
		arguments = map[string]any{}
	}
	argsJSON, err := json.Marshal(arguments)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(argsJSON),
	)
	if err != nil {
		return fmt.Errorf("validate arguments for %s: %w", def.Name, err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("invalid arguments for %s: %s", def.Name, strings.Join(problems, "; "))
	}
	return nil
}

// normalizeSchema converts YAML-decoded maps with interface keys into
// JSON-compatible maps. Manifest schemas arrive through yaml.v3.
func normalizeSchema(value map[string]any) map[string]any {
	out := make(map[string]any, len(value))
	for k, v := range value {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return normalizeSchema(typed)
	case map[any]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, v := range typed {
			out[i] = normalizeValue(v)
		}
		return out
	default:
		return value
	}
}
