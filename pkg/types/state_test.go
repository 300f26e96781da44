package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"Pod OOMKilled", "pod oomkilled"},
		{"  pod   OOMKilled  ", "pod oomkilled"},
		{"pod\toomkilled\n", "pod oomkilled"},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, NormalizeKey(tc.in))
	}
}

func TestActiveTask(t *testing.T) {
	t.Parallel()

	state := NewState("find the leak")
	require.Nil(t, state.ActiveTask())

	state.Tasks = []Task{
		{ID: "task-1", Status: TaskDone},
		{ID: "task-2", Status: TaskActive},
		{ID: "task-3", Status: TaskBlocked},
	}
	active := state.ActiveTask()
	require.NotNil(t, active)
	require.Equal(t, "task-2", active.ID)
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	original := &State{
		Goal:     "goal",
		Tasks:    []Task{{ID: "task-1", Status: TaskActive}},
		Facts:    []Fact{{ID: "fact-1", Description: "api latency is high", Turn: 2}},
		RuledOut: []string{"dns"},
		Unknowns: []string{"which deploy"},
	}

	clone := original.Clone()
	clone.Tasks[0].Status = TaskDone
	clone.Facts[0].Description = "changed"
	clone.RuledOut[0] = "changed"
	clone.Unknowns[0] = "changed"

	require.Equal(t, TaskActive, original.Tasks[0].Status)
	require.Equal(t, "api latency is high", original.Facts[0].Description)
	require.Equal(t, "dns", original.RuledOut[0])
	require.Equal(t, "which deploy", original.Unknowns[0])
}

func TestArchetypePhases(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"triage", "hypothesize", "verify", "conclude"}, ArchetypeInvestigate.Phases())
	require.Equal(t, []string{"design", "build", "validate"}, ArchetypeCreate.Phases())
	require.Equal(t, []string{"inspect", "change", "verify"}, ArchetypeModify.Phases())
	require.Equal(t, []string{"plan", "apply", "confirm"}, ArchetypeProvision.Phases())
	require.Equal(t, []string{"explore"}, ArchetypeUnorthodox.Phases())
	require.Equal(t, []string{"explore"}, Archetype("nonsense").Phases())
	require.False(t, Archetype("nonsense").Valid())
}
