package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"oats/internal/executor"
	"oats/internal/llm"
	"oats/internal/tools"
	"oats/pkg/types"
)

type probeTool struct {
	output string
	calls  int
}

func (p *probeTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "probe",
		Version:     "1.0.0",
		Description: "return a canned observation",
	}
}

func (p *probeTool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	p.calls++
	return &tools.Result{CallID: call.ID, Content: p.output}, nil
}

func newTestEngine(t *testing.T, oracle llm.Client, maxTurns int) (*Engine, *probeTool, *[]types.Event) {
	t.Helper()

	probe := &probeTool{output: "pods are healthy"}
	registry := tools.NewRegistry()
	require.NoError(t, registry.RegisterBuiltin(probe))
	require.NoError(t, registry.RegisterBuiltin(&finishStub{}))

	exec := executor.New(executor.Options{
		Registry:    registry,
		ArtifactDir: t.TempDir(),
	})

	var events []types.Event
	sink := func(ev types.Event) { events = append(events, ev) }

	eng := New(oracle, exec, Config{MaxTurns: maxTurns, Schema: SchemaAuto}, nil, sink)
	return eng, probe, &events
}

// finishStub registers the finish tool name so prompt construction lists it;
// the engine intercepts the call before execution.
type finishStub struct{}

func (f *finishStub) Definition() tools.Definition {
	return tools.Definition{Name: "finish", Version: "1.0.0", Description: "end the investigation"}
}

func (f *finishStub) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	return &tools.Result{CallID: call.ID}, nil
}

func rsaReplyWith(tool, params string) string {
	return fmt.Sprintf(`{
		"reflect": "thinking",
		"strategize": "next step",
		"state": {"goal": "", "facts": [{"description": "a finding"}]},
		"act": {"tool_name": %q, "parameters": %s, "reason": "because"}
	}`, tool, params)
}

func TestRunFinishesWithVerdict(t *testing.T) {
	t.Parallel()

	oracle := llm.NewMockClient("").
		Enqueue(rsaReplyWith("probe", `{}`)).
		Enqueue(rsaReplyWith("finish", `{"verdict": "success", "summary": "found the root cause"}`))

	eng, probe, events := newTestEngine(t, oracle, 10)
	outcome, err := eng.Run(context.Background(), "find the crash")
	require.NoError(t, err)

	require.True(t, outcome.Completed)
	require.Equal(t, types.VerdictSuccess, outcome.Verdict)
	require.Equal(t, "found the root cause", outcome.Summary)
	require.Equal(t, 2, outcome.Turns)
	require.Equal(t, 1, probe.calls)
	require.Len(t, outcome.State.Facts, 1)

	var kinds []types.EventType
	for _, ev := range *events {
		kinds = append(kinds, ev.Type)
	}
	require.Equal(t, []types.EventType{
		types.EventStatus,
		types.EventThought, types.EventAction, types.EventObservation,
		types.EventThought, types.EventAction,
	}, kinds)
}

func TestRunRetriesMalformedReplyWithoutConsumingTurn(t *testing.T) {
	t.Parallel()

	oracle := llm.NewMockClient("").
		Enqueue("I refuse to emit JSON today.").
		Enqueue(rsaReplyWith("finish", `{"verdict": "inconclusive", "summary": "ran out of leads"}`))

	eng, _, _ := newTestEngine(t, oracle, 5)
	outcome, err := eng.Run(context.Background(), "g")
	require.NoError(t, err)

	require.True(t, outcome.Completed)
	require.Equal(t, types.VerdictInconclusive, outcome.Verdict)
	require.Equal(t, 1, outcome.Turns, "the malformed reply must not advance the turn counter")

	calls := oracle.Calls()
	require.Len(t, calls, 2)
	last := calls[1].Messages[len(calls[1].Messages)-1]
	require.Contains(t, last.Content, "could not be parsed")
}

func TestRunFailsAfterConsecutiveMalformedReplies(t *testing.T) {
	t.Parallel()

	oracle := llm.NewMockClient("").
		Enqueue("garbage one").
		Enqueue("garbage two")

	eng, _, _ := newTestEngine(t, oracle, 5)
	outcome, err := eng.Run(context.Background(), "g")
	require.NoError(t, err)

	require.False(t, outcome.Completed)
	require.Equal(t, types.VerdictFailure, outcome.Verdict)
	require.Contains(t, outcome.Summary, "malformed")
	require.Equal(t, 2, oracle.CallCount())
}

func TestRunFailsWhenTurnBudgetExhausted(t *testing.T) {
	t.Parallel()

	oracle := llm.NewMockClient("").
		Enqueue(rsaReplyWith("probe", `{}`)).
		Enqueue(rsaReplyWith("probe", `{}`))

	eng, _, events := newTestEngine(t, oracle, 2)
	outcome, err := eng.Run(context.Background(), "g")
	require.NoError(t, err)

	require.False(t, outcome.Completed)
	require.Equal(t, types.VerdictFailure, outcome.Verdict)
	require.Contains(t, outcome.Summary, "turn budget")
	require.Equal(t, 2, outcome.Turns)

	last := (*events)[len(*events)-1]
	require.Equal(t, types.EventError, last.Type)
	require.Contains(t, last.Message, "turn budget")
}

func TestRunRejectsInvalidFinishArguments(t *testing.T) {
	t.Parallel()

	oracle := llm.NewMockClient("").
		Enqueue(rsaReplyWith("finish", `{"verdict": "maybe", "summary": "s"}`)).
		Enqueue(rsaReplyWith("finish", `{"verdict": "failure", "summary": "could not reproduce"}`))

	eng, _, events := newTestEngine(t, oracle, 5)
	outcome, err := eng.Run(context.Background(), "g")
	require.NoError(t, err)

	require.True(t, outcome.Completed)
	require.Equal(t, types.VerdictFailure, outcome.Verdict)
	require.Equal(t, "could not reproduce", outcome.Summary)
	require.Equal(t, 2, outcome.Turns, "an invalid finish call consumes its turn")

	var sawInvalidFinish bool
	for _, ev := range *events {
		if ev.Type == types.EventError && ev.Turn == 1 {
			sawInvalidFinish = true
		}
	}
	require.True(t, sawInvalidFinish)
}

func TestRunSurfacesOracleFailure(t *testing.T) {
	t.Parallel()

	oracle := llm.NewMockClient("").
		EnqueueError(fmt.Errorf("provider melted down"))

	eng, _, events := newTestEngine(t, oracle, 5)
	outcome, err := eng.Run(context.Background(), "g")
	require.NoError(t, err)

	require.False(t, outcome.Completed)
	require.Equal(t, types.VerdictFailure, outcome.Verdict)
	require.Contains(t, outcome.Summary, "oracle unavailable")

	var sawError bool
	for _, ev := range *events {
		sawError = sawError || ev.Type == types.EventError
	}
	require.True(t, sawError)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	oracle := llm.NewMockClient("")
	eng, _, _ := newTestEngine(t, oracle, 5)
	_, err := eng.Run(ctx, "g")
	require.ErrorIs(t, err, context.Canceled)
}

func TestStagnationTrackerFiresOncePerTask(t *testing.T) {
	t.Parallel()

	tracker := newStagnationTracker()
	state := types.NewState("g")
	state.Tasks = []types.Task{{ID: "task-1", Description: "chase the leak", Status: types.TaskActive}}

	var fired int
	for turn := 1; turn <= 12; turn++ {
		delta := turn <= 5
		if _, ok := tracker.observe(state, delta); ok {
			fired++
		}
	}
	require.Equal(t, 1, fired)

	// A new active task re-arms the tracker.
	state.Tasks[0].ID = "task-2"
	for turn := 1; turn <= 12; turn++ {
		if _, ok := tracker.observe(state, false); ok {
			fired++
		}
	}
	require.Equal(t, 2, fired)
}

func TestStagnationTrackerResetsWithoutActiveTask(t *testing.T) {
	t.Parallel()

	tracker := newStagnationTracker()
	idle := types.NewState("g")
	for i := 0; i < 20; i++ {
		_, ok := tracker.observe(idle, false)
		require.False(t, ok)
	}
}
