package orchestrator

import (
	"context"
	"io"
	"time"
)

// JobPhase is the coarse runtime state of a worker job.
type JobPhase string

const (
	PhasePending   JobPhase = "pending"
	PhaseRunning   JobPhase = "running"
	PhaseSucceeded JobPhase = "succeeded"
	PhaseFailed    JobPhase = "failed"
)

// Terminal reports whether the phase is final.
func (p JobPhase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// LaunchSpec describes one worker job to materialize.
type LaunchSpec struct {
	InvestigationID string
	Goal            string
	MaxTurns        int
	// Env carries additional environment for the worker container, the
	// oracle settings included.
	Env map[string]string
}

// JobState is a point-in-time view of a worker job.
type JobState struct {
	Name           string
	Phase          JobPhase
	Reason         string
	StartTime      *time.Time
	CompletionTime *time.Time
}

// Orchestrator materializes investigations as ephemeral worker jobs.
type Orchestrator interface {
	// Launch creates the job and returns its name.
	Launch(ctx context.Context, spec LaunchSpec) (string, error)
	// State looks up the job backing an investigation.
	State(ctx context.Context, investigationID string) (*JobState, error)
	// StreamLogs opens the worker's stdout stream. With follow the stream
	// stays open until the job ends or the context is cancelled.
	StreamLogs(ctx context.Context, investigationID string, follow bool) (io.ReadCloser, error)
	// Delete removes the job and its pods.
	Delete(ctx context.Context, investigationID string) error
}
