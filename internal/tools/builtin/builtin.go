package builtin

import (
	"k8s.io/client-go/kubernetes"

	"oats/internal/tools"
)

// RegisterAll installs every builtin into the registry. The Kubernetes
// clientset is optional; without it the k8s_logs tool is not registered.
func RegisterAll(registry *tools.Registry, k8sClient kubernetes.Interface) error {
	toolset := []tools.Tool{
		NewShell(),
		NewReadFile(),
		NewWriteFile(),
		NewHTTPGet(),
		NewFinish(),
	}
	if k8sClient != nil {
		toolset = append(toolset, NewK8sLogs(k8sClient))
	}
	for _, tool := range toolset {
		if err := registry.RegisterBuiltin(tool); err != nil {
			return err
		}
	}
	return nil
}
