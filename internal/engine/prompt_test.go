package engine

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"oats/internal/llm"
	"oats/internal/tools"
)

func TestSystemPromptListsTools(t *testing.T) {
	t.Parallel()

	builder := NewPromptBuilder("v3", SchemaRSA)
	defs := []tools.Definition{
		{Name: "shell", Version: "1.0.0", Description: "run a shell command"},
		{Name: "finish", Version: "1.0.0", Description: "end the investigation"},
	}

	system, _ := builder.Build("{}", defs, nil, nil)
	require.Contains(t, system, "shell: run a shell command")
	require.Contains(t, system, "finish: end the investigation")
	require.Contains(t, system, "Prompt version: v3")
	require.Contains(t, system, "reflect")
	require.Contains(t, system, "at most one task active")
}

func TestSystemPromptLegacyShape(t *testing.T) {
	t.Parallel()

	builder := NewPromptBuilder("v1", SchemaLegacy)
	system, _ := builder.Build("{}", nil, nil, nil)
	require.Contains(t, system, `"thought"`)
	require.NotContains(t, system, `"strategize"`)
}

func TestBuildOrdersHistory(t *testing.T) {
	t.Parallel()

	builder := NewPromptBuilder("v3", SchemaRSA)
	history := []TurnRecord{
		{Turn: 1, Thought: "first", Action: &Action{ToolName: "shell"}, Observation: "obs one"},
		{Turn: 2, Thought: "second", Action: &Action{ToolName: "shell"}, Observation: "obs two"},
	}

	_, messages := builder.Build(`{"goal":"g"}`, nil, history, nil)
	require.Len(t, messages, 6, "state, two turn pairs, final instruction")

	require.Equal(t, llm.RoleUser, messages[0].Role)
	require.Contains(t, messages[0].Content, "Current working state")

	require.Equal(t, llm.RoleAssistant, messages[1].Role)
	require.Contains(t, messages[1].Content, "first")
	require.Equal(t, llm.RoleUser, messages[2].Role)
	require.Contains(t, messages[2].Content, "obs one")

	final := messages[len(messages)-1]
	require.Equal(t, llm.RoleUser, final.Role)
	require.Contains(t, final.Content, "Continue the investigation")
}

func TestBuildAppendsDirectives(t *testing.T) {
	t.Parallel()

	builder := NewPromptBuilder("v3", SchemaRSA)
	_, messages := builder.Build("{}", nil, nil, []string{"Step back and re-plan."})

	final := messages[len(messages)-1]
	require.Contains(t, final.Content, "Step back and re-plan.")
	require.Contains(t, final.Content, "Continue the investigation")
	require.Less(t,
		strings.Index(final.Content, "Step back"),
		strings.Index(final.Content, "Continue the investigation"))
}

func TestThinObservation(t *testing.T) {
	t.Parallel()

	short := "a\nb\nc"
	require.Equal(t, short, thinObservation(short))

	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	thinned := thinObservation(strings.Join(lines, "\n"))
	out := strings.Split(thinned, "\n")
	require.Len(t, out, 16)
	require.Equal(t, "line 0", out[0])
	require.Equal(t, "line 9", out[9])
	require.Equal(t, "[25 lines omitted]", out[10])
	require.Equal(t, "line 39", out[15])
}

func TestBuildThinsOversizedHistory(t *testing.T) {
	t.Parallel()

	builder := NewPromptBuilder("v3", SchemaRSA)

	hugeObservation := strings.Repeat("the quick brown fox jumps over the lazy dog\n", 400)
	var history []TurnRecord
	for turn := 1; turn <= 12; turn++ {
		history = append(history, TurnRecord{
			Turn:        turn,
			Thought:     "thinking",
			Action:      &Action{ToolName: "shell"},
			Observation: hugeObservation,
		})
	}

	system, messages := builder.Build("{}", nil, history, nil)
	require.LessOrEqual(t, builder.countTokens(system, messages), promptTokenBudget+promptTokenBudget/2,
		"heaviest thinning level must land near the budget")

	var joined strings.Builder
	for _, msg := range messages {
		joined.WriteString(msg.Content)
		joined.WriteString("\n")
	}
	require.Contains(t, joined.String(), "Observation (turn 12)", "recent turns stay present")
}
