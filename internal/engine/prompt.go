package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"oats/internal/llm"
	"oats/internal/tools"
)

const (
	// promptTokenBudget caps the assembled prompt. Thinning levels engage
	// progressively when the budget is exceeded.
	promptTokenBudget = 12000

	observationHeadLines = 10
	observationTailLines = 5
	recentTurnsKeptWhole = 3
)

// TurnRecord is one completed turn kept in the prompt history.
type TurnRecord struct {
	Turn        int
	Thought     string
	Action      *Action
	Observation string
}

// PromptBuilder assembles oracle requests from state, history and directives.
// Building is pure; the same inputs always produce the same prompt.
type PromptBuilder struct {
	version string
	schema  ReplySchema

	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
}

// NewPromptBuilder creates a builder for the given prompt version and schema.
func NewPromptBuilder(version string, schema ReplySchema) *PromptBuilder {
	if version == "" {
		version = "v3"
	}
	return &PromptBuilder{version: version, schema: schema}
}

// Build assembles the system prompt and message history for one oracle call.
// Directives are one-shot instructions appended to the final user message.
func (b *PromptBuilder) Build(stateJSON string, defs []tools.Definition, history []TurnRecord, directives []string) (string, []llm.Message) {
	system := b.systemPrompt(defs)

	for level := 0; level <= 3; level++ {
		messages := b.assemble(stateJSON, history, directives, level)
		if b.countTokens(system, messages) <= promptTokenBudget || level == 3 {
			return system, messages
		}
	}
	// Unreachable; the level-3 assembly always returns above.
	return system, nil
}

func (b *PromptBuilder) systemPrompt(defs []tools.Definition) string {
	var sb strings.Builder

	sb.WriteString("You are an autonomous SRE investigator operating inside a Kubernetes cluster.\n")
	sb.WriteString("You work in bounded turns. Each turn you reflect on what you know, update your working state, and take exactly one action.\n\n")

	sb.WriteString("Available tools:\n")
	for _, def := range defs {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", def.Name, def.Description))
		if len(def.InputSchema) > 0 {
			if schema, err := json.Marshal(def.InputSchema); err == nil {
				sb.WriteString(fmt.Sprintf("  input schema: %s\n", schema))
			}
		}
	}
	sb.WriteString("\n")

	if b.schema == SchemaLegacy {
		sb.WriteString("Reply with a single JSON object:\n")
		sb.WriteString(`{"thought": "...", "action": {"tool_name": "...", "parameters": {...}, "reason": "..."}}`)
		sb.WriteString("\n")
	} else {
		sb.WriteString("Reply with a single JSON object:\n")
		sb.WriteString(`{"reflect": "what the last observation taught you", "strategize": "your plan for this turn", "state": {"goal": "...", "tasks": [...], "facts": [...], "ruled_out": [...], "unknowns": [...]}, "act": {"tool_name": "...", "parameters": {...}, "reason": "..."}}`)
		sb.WriteString("\n\n")
		sb.WriteString("State rules: keep at most one task active. Never drop established facts or ruled-out causes. ")
		sb.WriteString("Record each new finding as a fact. When the goal is resolved or cannot be resolved, call the finish tool with a verdict and summary.\n")
	}

	sb.WriteString(fmt.Sprintf("\nPrompt version: %s\n", b.version))
	return sb.String()
}

func (b *PromptBuilder) assemble(stateJSON string, history []TurnRecord, directives []string, level int) []llm.Message {
	kept := history
	if level >= 3 && len(history) > 1 {
		// Keep the first turn for orientation plus the most recent turns.
		keepRecent := recentTurnsKeptWhole
		if keepRecent > len(history)-1 {
			keepRecent = len(history) - 1
		}
		kept = append([]TurnRecord{history[0]}, history[len(history)-keepRecent:]...)
	}

	var messages []llm.Message
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: "Current working state:\n" + stateJSON,
	})

	for i, record := range kept {
		messages = append(messages, llm.Message{
			Role:    llm.RoleAssistant,
			Content: renderTurn(record),
		})

		observation := record.Observation
		recent := i >= len(kept)-recentTurnsKeptWhole
		switch {
		case level >= 2 && !recent:
			observation = "[observation omitted]"
		case level >= 1 && !recent:
			observation = thinObservation(observation)
		}
		messages = append(messages, llm.Message{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Observation (turn %d):\n%s", record.Turn, observation),
		})
	}

	final := "Continue the investigation. Reply with a single JSON object."
	if len(directives) > 0 {
		final = strings.Join(directives, "\n") + "\n\n" + final
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: final})
	return messages
}

func renderTurn(record TurnRecord) string {
	payload := map[string]any{"thought": record.Thought}
	if record.Action != nil {
		payload["action"] = map[string]any{
			"tool_name":  record.Action.ToolName,
			"parameters": record.Action.Parameters,
			"reason":     record.Action.Reason,
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return record.Thought
	}
	return string(data)
}

// thinObservation keeps the head and tail of a long observation.
func thinObservation(observation string) string {
	lines := strings.Split(observation, "\n")
	total := len(lines)
	if total <= observationHeadLines+observationTailLines {
		return observation
	}
	omitted := total - observationHeadLines - observationTailLines
	out := make([]string, 0, observationHeadLines+observationTailLines+1)
	out = append(out, lines[:observationHeadLines]...)
	out = append(out, fmt.Sprintf("[%d lines omitted]", omitted))
	out = append(out, lines[total-observationTailLines:]...)
	return strings.Join(out, "\n")
}

func (b *PromptBuilder) countTokens(system string, messages []llm.Message) int {
	b.encoderOnce.Do(func() {
		encoder, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			b.encoder = encoder
		}
	})

	total := b.countText(system)
	for _, msg := range messages {
		total += b.countText(msg.Content) + 4
	}
	return total
}

func (b *PromptBuilder) countText(text string) int {
	if b.encoder != nil {
		return len(b.encoder.Encode(text, nil, nil))
	}
	// Rough fallback when the encoding tables are unavailable.
	return len(text) / 4
}
