package orchestrator

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeLifecycle(t *testing.T) {
	t.Parallel()

	fake := NewFake()
	spec := LaunchSpec{InvestigationID: "inv-1", Goal: "g", MaxTurns: 15}

	name, err := fake.Launch(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, JobName("inv-1"), name)
	require.True(t, fake.Launched("inv-1"))

	_, err = fake.Launch(context.Background(), spec)
	require.Error(t, err, "duplicate launches are rejected")

	state, err := fake.State(context.Background(), "inv-1")
	require.NoError(t, err)
	require.Equal(t, PhaseRunning, state.Phase)
	require.Nil(t, state.CompletionTime)

	fake.Complete("inv-1")
	state, err = fake.State(context.Background(), "inv-1")
	require.NoError(t, err)
	require.Equal(t, PhaseSucceeded, state.Phase)
	require.NotNil(t, state.CompletionTime)
	require.True(t, state.Phase.Terminal())

	require.NoError(t, fake.Delete(context.Background(), "inv-1"))
	require.Error(t, fake.Delete(context.Background(), "inv-1"))
	require.False(t, fake.Launched("inv-1"))
}

func TestFakeFailureReason(t *testing.T) {
	t.Parallel()

	fake := NewFake()
	_, err := fake.Launch(context.Background(), LaunchSpec{InvestigationID: "inv-2", Goal: "g"})
	require.NoError(t, err)

	fake.Fail("inv-2", "DeadlineExceeded")
	state, err := fake.State(context.Background(), "inv-2")
	require.NoError(t, err)
	require.Equal(t, PhaseFailed, state.Phase)
	require.Equal(t, "DeadlineExceeded", state.Reason)
}

func TestFakeStreamLogsSnapshot(t *testing.T) {
	t.Parallel()

	fake := NewFake()
	_, err := fake.Launch(context.Background(), LaunchSpec{InvestigationID: "inv-3", Goal: "g"})
	require.NoError(t, err)

	fake.AppendLog("inv-3", `{"type":"status","phase":"started"}`)
	fake.AppendLog("inv-3", `{"type":"thought","thought":"hm"}`)

	stream, err := fake.StreamLogs(context.Background(), "inv-3", false)
	require.NoError(t, err)
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	require.Equal(t, "{\"type\":\"status\",\"phase\":\"started\"}\n{\"type\":\"thought\",\"thought\":\"hm\"}\n", string(data))

	_, err = fake.StreamLogs(context.Background(), "missing", false)
	require.Error(t, err)
}
