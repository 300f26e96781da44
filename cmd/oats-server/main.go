package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"oats/internal/config"
	"oats/internal/logging"
	"oats/internal/orchestrator"
	"oats/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "oats-server",
		Short:         "Control plane for autonomous SRE investigations",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to a config file")
	return cmd
}

func run(ctx context.Context, configFile string) error {
	cfg, err := config.LoadServer(configFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Options{
		Level:    cfg.LogLevel,
		FilePath: cfg.LogFile,
		Console:  true,
	})
	defer logging.Sync()
	logger := logging.NewComponentLogger("server")

	clientset, err := kubernetesClient(cfg.Kubeconfig)
	if err != nil {
		return fmt.Errorf("kubernetes client: %w", err)
	}

	orch := orchestrator.NewKube(clientset, orchestrator.Options{
		Namespace:       cfg.Namespace,
		WorkerImage:     cfg.WorkerImage,
		TTLSeconds:      cfg.JobTTLSeconds,
		DeadlineSeconds: cfg.JobDeadlineSeconds,
		Logger:          logging.NewComponentLogger("orchestrator"),
	})

	srv, err := server.New(cfg, orch, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

// kubernetesClient prefers in-cluster credentials and falls back to a
// kubeconfig path for local runs.
func kubernetesClient(kubeconfig string) (kubernetes.Interface, error) {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		if kubeconfig == "" {
			return nil, fmt.Errorf("not in cluster and no kubeconfig given: %w", err)
		}
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("load kubeconfig %s: %w", kubeconfig, err)
		}
	}
	return kubernetes.NewForConfig(restConfig)
}
