package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Fake is an in-memory Orchestrator for tests and local development. Jobs
// start in the running phase; tests move them with Complete and Fail and feed
// log lines with AppendLog.
type Fake struct {
	mu   sync.Mutex
	jobs map[string]*fakeJob
}

type fakeJob struct {
	name      string
	spec      LaunchSpec
	phase     JobPhase
	reason    string
	logs      bytes.Buffer
	startedAt time.Time
	endedAt   *time.Time
}

// NewFake creates an empty fake orchestrator.
func NewFake() *Fake {
	return &Fake{jobs: make(map[string]*fakeJob)}
}

func (f *Fake) Launch(_ context.Context, spec LaunchSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.jobs[spec.InvestigationID]; exists {
		return "", fmt.Errorf("job for investigation %s already exists", spec.InvestigationID)
	}
	job := &fakeJob{
		name:      JobName(spec.InvestigationID),
		spec:      spec,
		phase:     PhaseRunning,
		startedAt: time.Now(),
	}
	f.jobs[spec.InvestigationID] = job
	return job.name, nil
}

func (f *Fake) State(_ context.Context, investigationID string) (*JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[investigationID]
	if !ok {
		return nil, fmt.Errorf("job for investigation %s not found", investigationID)
	}
	started := job.startedAt
	return &JobState{
		Name:           job.name,
		Phase:          job.phase,
		Reason:         job.reason,
		StartTime:      &started,
		CompletionTime: job.endedAt,
	}, nil
}

func (f *Fake) StreamLogs(_ context.Context, investigationID string, _ bool) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[investigationID]
	if !ok {
		return nil, fmt.Errorf("job for investigation %s not found", investigationID)
	}
	snapshot := make([]byte, job.logs.Len())
	copy(snapshot, job.logs.Bytes())
	return io.NopCloser(bytes.NewReader(snapshot)), nil
}

func (f *Fake) Delete(_ context.Context, investigationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[investigationID]; !ok {
		return fmt.Errorf("job for investigation %s not found", investigationID)
	}
	delete(f.jobs, investigationID)
	return nil
}

// AppendLog feeds a worker stdout line into the fake's log stream.
func (f *Fake) AppendLog(investigationID, line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[investigationID]; ok {
		job.logs.WriteString(line)
		job.logs.WriteByte('\n')
	}
}

// Complete moves a job to the succeeded phase.
func (f *Fake) Complete(investigationID string) {
	f.finish(investigationID, PhaseSucceeded, "")
}

// Fail moves a job to the failed phase with a reason.
func (f *Fake) Fail(investigationID, reason string) {
	f.finish(investigationID, PhaseFailed, reason)
}

func (f *Fake) finish(investigationID string, phase JobPhase, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[investigationID]; ok {
		job.phase = phase
		job.reason = reason
		now := time.Now()
		job.endedAt = &now
	}
}

// Launched reports whether a job exists for the investigation.
func (f *Fake) Launched(investigationID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[investigationID]
	return ok
}
