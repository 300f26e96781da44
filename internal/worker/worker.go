package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"oats/internal/config"
	"oats/internal/engine"
	"oats/internal/executor"
	"oats/internal/llm"
	"oats/internal/logging"
	"oats/internal/tools"
	"oats/internal/tools/builtin"
	"oats/pkg/types"
)

// Worker wires one investigation run: tool registry, executor, oracle client
// and the reasoning engine, with events streamed to a single writer.
type Worker struct {
	cfg     *config.WorkerConfig
	logger  logging.Logger
	emitter *Emitter
}

// New creates a worker emitting protocol events to out.
func New(cfg *config.WorkerConfig, logger logging.Logger, out io.Writer) *Worker {
	return &Worker{
		cfg:     cfg,
		logger:  logging.OrNop(logger),
		emitter: NewEmitter(out),
	}
}

// Run executes the investigation. It returns nil only when a finish event was
// emitted; every other outcome is an error so the process exits nonzero.
func (w *Worker) Run(ctx context.Context) error {
	registry := tools.NewRegistry()
	if err := builtin.RegisterAll(registry, w.kubernetesClient()); err != nil {
		return fmt.Errorf("register builtins: %w", err)
	}

	discovered, err := tools.Discover(w.cfg.ToolsDir, registry, w.logger)
	if err != nil {
		w.logger.Warn("tool discovery incomplete: %v", err)
	}
	w.logger.Info("tool registry ready: %d discovered tools", discovered)

	artifactDir := filepath.Join(w.cfg.ResultsDir, "artifacts")
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	exec := executor.New(executor.Options{
		Registry:       registry,
		ArtifactDir:    artifactDir,
		DefaultTimeout: w.cfg.ToolTimeout,
		Logger:         w.logger,
	})

	oracle, err := llm.New(w.cfg.Oracle, w.logger)
	if err != nil {
		return fmt.Errorf("create oracle client: %w", err)
	}
	w.logger.Info("oracle ready: provider=%s model=%s", oracle.Provider(), oracle.Model())

	eng := engine.New(oracle, exec, engine.Config{
		MaxTurns:      w.cfg.MaxTurns,
		Schema:        engine.ReplySchema(w.cfg.ReplySchema),
		Temperature:   w.cfg.Oracle.Temperature,
		MaxTokens:     w.cfg.Oracle.MaxTokens,
		PromptVersion: w.cfg.Oracle.PromptVersion,
	}, w.logger, w.emitter.Emit)

	outcome, err := eng.Run(ctx, w.cfg.Goal)
	if err != nil {
		w.emitter.Emit(types.NewErrorEvent(0, "investigation aborted: "+err.Error()))
		if closeErr := w.emitter.Close(); closeErr != nil {
			w.logger.Error("event stream error: %v", closeErr)
		}
		return fmt.Errorf("engine run: %w", err)
	}

	artifactPath, err := w.writeResult(outcome)
	if err != nil {
		w.logger.Error("writing final result failed: %v", err)
		artifactPath = ""
	}

	if !outcome.Completed {
		// The engine already emitted an error event naming the reason; the
		// process must exit nonzero without a finish event.
		if err := w.emitter.Close(); err != nil {
			w.logger.Error("event stream error: %v", err)
		}
		return fmt.Errorf("investigation failed: %s", outcome.Summary)
	}

	w.emitter.Emit(types.NewFinishEvent(outcome.Turns, outcome.Verdict, outcome.Summary, artifactPath))
	if err := w.emitter.Close(); err != nil {
		return fmt.Errorf("event stream: %w", err)
	}
	if !w.emitter.Finished() {
		return fmt.Errorf("finish event was not emitted")
	}
	return nil
}

// writeResult persists the human-readable final report.
func (w *Worker) writeResult(outcome engine.Outcome) (string, error) {
	timestamp := time.Now().UTC().Format("20060102_150405")
	path := filepath.Join(w.cfg.ResultsDir, fmt.Sprintf("final_result_%s.txt", timestamp))

	var stateJSON []byte
	if outcome.State != nil {
		stateJSON, _ = json.MarshalIndent(outcome.State, "", "  ")
	}

	report := fmt.Sprintf(
		"Goal: %s\nVerdict: %s\nTurns: %d\n\nSummary:\n%s\n\nFinal state:\n%s\n",
		w.cfg.Goal, outcome.Verdict, outcome.Turns, outcome.Summary, stateJSON)

	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return "", fmt.Errorf("write final result: %w", err)
	}
	w.logger.Info("final result written to %s", path)
	return path, nil
}

// kubernetesClient builds an in-cluster clientset. Outside a cluster the
// worker simply runs without the k8s_logs tool.
func (w *Worker) kubernetesClient() kubernetes.Interface {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		w.logger.Debug("no in-cluster kubernetes config: %v", err)
		return nil
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		w.logger.Warn("kubernetes clientset unavailable: %v", err)
		return nil
	}
	return clientset
}
