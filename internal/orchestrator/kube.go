package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"oats/internal/config"
	"oats/internal/logging"
	"oats/internal/utils/id"
)

const investigationLabel = "oats.dev/investigation-id"

// Options configures the Kubernetes orchestrator.
type Options struct {
	Namespace       string
	WorkerImage     string
	TTLSeconds      int32
	DeadlineSeconds int64
	Logger          logging.Logger
}

// KubeOrchestrator runs workers as batch/v1 Jobs. Each job runs exactly one
// pod attempt; retries are the control plane's decision, not Kubernetes'.
type KubeOrchestrator struct {
	client kubernetes.Interface
	opts   Options
	logger logging.Logger
}

// NewKube creates a Kubernetes-backed orchestrator.
func NewKube(client kubernetes.Interface, opts Options) *KubeOrchestrator {
	if opts.TTLSeconds <= 0 {
		opts.TTLSeconds = config.DefaultJobTTLSeconds
	}
	if opts.DeadlineSeconds <= 0 {
		opts.DeadlineSeconds = config.DefaultJobDeadlineSeconds
	}
	return &KubeOrchestrator{
		client: client,
		opts:   opts,
		logger: logging.OrNop(opts.Logger),
	}
}

// JobName derives the deterministic job name for an investigation.
func JobName(investigationID string) string {
	return "investigation-" + id.ShortID(investigationID)
}

func (o *KubeOrchestrator) Launch(ctx context.Context, spec LaunchSpec) (string, error) {
	job := o.manifest(spec)
	created, err := o.client.BatchV1().Jobs(o.opts.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return "", fmt.Errorf("create job %s: %w", job.Name, err)
	}
	o.logger.Info("launched job %s for investigation %s", created.Name, spec.InvestigationID)
	return created.Name, nil
}

func (o *KubeOrchestrator) manifest(spec LaunchSpec) *batchv1.Job {
	backoffLimit := int32(0)
	ttl := o.opts.TTLSeconds
	deadline := o.opts.DeadlineSeconds

	env := []corev1.EnvVar{
		{Name: "OATS_GOAL", Value: spec.Goal},
		{Name: "OATS_MAX_TURNS", Value: strconv.Itoa(spec.MaxTurns)},
	}
	names := make([]string, 0, len(spec.Env))
	for name := range spec.Env {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		env = append(env, corev1.EnvVar{Name: name, Value: spec.Env[name]})
	}

	labels := map[string]string{
		"app":              "oats-worker",
		investigationLabel: spec.InvestigationID,
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      JobName(spec.InvestigationID),
			Namespace: o.opts.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoffLimit,
			TTLSecondsAfterFinished: &ttl,
			ActiveDeadlineSeconds:   &deadline,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name:  "worker",
						Image: o.opts.WorkerImage,
						Env:   env,
					}},
				},
			},
		},
	}
}

func (o *KubeOrchestrator) State(ctx context.Context, investigationID string) (*JobState, error) {
	name := JobName(investigationID)
	job, err := o.client.BatchV1().Jobs(o.opts.Namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("job %s not found: %w", name, err)
		}
		return nil, fmt.Errorf("get job %s: %w", name, err)
	}

	state := &JobState{Name: job.Name, Phase: PhasePending}
	if job.Status.StartTime != nil {
		t := job.Status.StartTime.Time
		state.StartTime = &t
	}
	if job.Status.CompletionTime != nil {
		t := job.Status.CompletionTime.Time
		state.CompletionTime = &t
	}

	switch {
	case job.Status.Succeeded > 0:
		state.Phase = PhaseSucceeded
	case job.Status.Failed > 0:
		state.Phase = PhaseFailed
		state.Reason = failureReason(job)
	case job.Status.Active > 0:
		state.Phase = PhaseRunning
	}
	for _, cond := range job.Status.Conditions {
		if cond.Type == batchv1.JobFailed && cond.Status == corev1.ConditionTrue {
			state.Phase = PhaseFailed
			state.Reason = cond.Reason
		}
	}
	return state, nil
}

func failureReason(job *batchv1.Job) string {
	for _, cond := range job.Status.Conditions {
		if cond.Type == batchv1.JobFailed && cond.Status == corev1.ConditionTrue {
			return cond.Reason
		}
	}
	return "worker pod failed"
}

func (o *KubeOrchestrator) StreamLogs(ctx context.Context, investigationID string, follow bool) (io.ReadCloser, error) {
	pods, err := o.client.CoreV1().Pods(o.opts.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", investigationLabel, investigationID),
	})
	if err != nil {
		return nil, fmt.Errorf("list pods for %s: %w", investigationID, err)
	}
	if len(pods.Items) == 0 {
		return nil, fmt.Errorf("no pods for investigation %s", investigationID)
	}

	// The single-attempt job only ever has one pod; pick the newest in case
	// an operator recreated it by hand.
	pod := pods.Items[0]
	for _, candidate := range pods.Items[1:] {
		if candidate.CreationTimestamp.After(pod.CreationTimestamp.Time) {
			pod = candidate
		}
	}

	req := o.client.CoreV1().Pods(o.opts.Namespace).GetLogs(pod.Name, &corev1.PodLogOptions{
		Container: "worker",
		Follow:    follow,
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		return nil, fmt.Errorf("stream logs for pod %s: %w", pod.Name, err)
	}
	return stream, nil
}

func (o *KubeOrchestrator) Delete(ctx context.Context, investigationID string) error {
	name := JobName(investigationID)
	propagation := metav1.DeletePropagationForeground
	err := o.client.BatchV1().Jobs(o.opts.Namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete job %s: %w", name, err)
	}
	o.logger.Info("deleted job %s", name)
	return nil
}
