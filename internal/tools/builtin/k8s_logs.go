package builtin

import (
	"context"
	"fmt"
	"io"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"

	"oats/internal/tools"
)

const k8sLogsDefaultTailLines = int64(500)

// K8sLogsTool fetches pod logs through the Kubernetes API, avoiding a kubectl
// dependency inside the worker image.
type K8sLogsTool struct {
	client kubernetes.Interface
}

// NewK8sLogs creates the k8s_logs builtin over an existing clientset.
func NewK8sLogs(client kubernetes.Interface) *K8sLogsTool {
	return &K8sLogsTool{client: client}
}

func (t *K8sLogsTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "k8s_logs",
		Version:     "1.0.0",
		Description: "Fetch recent logs from a pod in the cluster.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"namespace": map[string]any{
					"type":        "string",
					"description": "Pod namespace",
				},
				"pod": map[string]any{
					"type":        "string",
					"description": "Pod name",
				},
				"container": map[string]any{
					"type":        "string",
					"description": "Container name, optional for single-container pods",
				},
				"tail_lines": map[string]any{
					"type":        "integer",
					"description": "Number of trailing lines to return, default 500",
				},
			},
			"required": []any{"namespace", "pod"},
		},
	}
}

func (t *K8sLogsTool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	namespace, _ := call.Arguments["namespace"].(string)
	pod, _ := call.Arguments["pod"].(string)
	if namespace == "" || pod == "" {
		return tools.FailedResult(call.ID, fmt.Errorf("namespace and pod are required")), nil
	}

	tailLines := k8sLogsDefaultTailLines
	if v, ok := call.Arguments["tail_lines"].(float64); ok && v > 0 {
		tailLines = int64(v)
	}

	opts := &corev1.PodLogOptions{TailLines: &tailLines}
	if container, ok := call.Arguments["container"].(string); ok && container != "" {
		opts.Container = container
	}

	stream, err := t.client.CoreV1().Pods(namespace).GetLogs(pod, opts).Stream(ctx)
	if err != nil {
		return tools.FailedResult(call.ID, fmt.Errorf("fetch logs for %s/%s: %w", namespace, pod, err)), nil
	}
	defer func() { _ = stream.Close() }()

	data, err := io.ReadAll(stream)
	if err != nil {
		return tools.FailedResult(call.ID, fmt.Errorf("read log stream: %w", err)), nil
	}

	return &tools.Result{
		CallID:  call.ID,
		Content: string(data),
		Metadata: map[string]any{
			"namespace":  namespace,
			"pod":        pod,
			"tail_lines": tailLines,
		},
	}, nil
}
