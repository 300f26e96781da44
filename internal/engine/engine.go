package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"oats/internal/executor"
	"oats/internal/llm"
	"oats/internal/logging"
	"oats/internal/tools"
	"oats/internal/tools/builtin"
	"oats/internal/utils/id"
	"oats/pkg/types"
)

const (
	// maxConsecutiveParseFailures bounds the soft retries for malformed
	// oracle replies before the investigation fails.
	maxConsecutiveParseFailures = 2

	// stagnationTaskTurns and stagnationFlatTurns gate the one-shot forced
	// reflection directive.
	stagnationTaskTurns = 8
	stagnationFlatTurns = 2
)

// EventSink receives every protocol event the engine emits, in order.
type EventSink func(types.Event)

// Config tunes one engine run.
type Config struct {
	MaxTurns      int
	Schema        ReplySchema
	Temperature   float64
	MaxTokens     int
	PromptVersion string
}

// Outcome is the terminal result of an investigation run. Completed is true
// only when the oracle called the finish tool; budget exhaustion, repeated
// parse failures and oracle outages leave it false.
type Outcome struct {
	Verdict   types.Verdict
	Summary   string
	State     *types.State
	Turns     int
	Completed bool
}

// Engine drives the bounded reflect-strategize-act loop: each turn it asks
// the oracle for a reply, merges the proposed state, and dispatches exactly
// one tool call.
type Engine struct {
	oracle  llm.Client
	exec    *executor.Executor
	builder *PromptBuilder
	cfg     Config
	logger  logging.Logger
	sink    EventSink
}

// New creates an engine. The sink may be nil.
func New(oracle llm.Client, exec *executor.Executor, cfg Config, logger logging.Logger, sink EventSink) *Engine {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 15
	}
	if cfg.Schema == "" {
		cfg.Schema = SchemaAuto
	}
	if sink == nil {
		sink = func(types.Event) {}
	}
	return &Engine{
		oracle:  oracle,
		exec:    exec,
		builder: NewPromptBuilder(cfg.PromptVersion, cfg.Schema),
		cfg:     cfg,
		logger:  logging.OrNop(logger),
		sink:    sink,
	}
}

// Run executes the loop until the oracle finishes, the turn budget runs out,
// or a fatal error occurs. Context cancellation is the only condition that
// returns a non-nil error.
func (e *Engine) Run(ctx context.Context, goal string) (Outcome, error) {
	state := types.NewState(goal)
	var history []TurnRecord
	var directives []string

	parseFailures := 0
	stagnation := newStagnationTracker()

	e.sink(types.NewStatusEvent(0, "investigation started"))

	turn := 1
	for turn <= e.cfg.MaxTurns {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		reply, raw, err := e.oracleTurn(ctx, state, history, directives)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}
			e.logger.Error("oracle call failed on turn %d: %v", turn, err)
			e.sink(types.NewErrorEvent(turn, fmt.Sprintf("oracle unavailable: %v", err)))
			return e.fail(state, turn-1, fmt.Sprintf("oracle unavailable: %v", err)), nil
		}
		directives = nil

		if reply == nil {
			// Malformed reply: retry the same turn with a corrective
			// instruction instead of consuming budget.
			parseFailures++
			e.logger.Warn("unparseable oracle reply on turn %d (failure %d)", turn, parseFailures)
			e.sink(types.NewErrorEvent(turn, "oracle reply could not be parsed"))
			if parseFailures >= maxConsecutiveParseFailures {
				return e.fail(state, turn-1, "oracle produced consecutive malformed replies"), nil
			}
			directives = append(directives, malformedReplyDirective(raw))
			continue
		}
		parseFailures = 0

		merged, mergeOutcome := MergeState(state, reply.State, turn)
		for _, warning := range mergeOutcome.Warnings {
			e.sink(types.NewErrorEvent(turn, "state warning: "+warning))
		}
		state = merged

		e.sink(types.NewThoughtEvent(turn, reply.Thought))
		action := reply.Action
		e.sink(types.NewActionEvent(turn, action.ToolName, action.Parameters, action.Reason))

		if action.ToolName == builtin.FinishName {
			verdict, summary, err := builtin.ParseFinishArgs(action.Parameters)
			if err != nil {
				e.sink(types.NewErrorEvent(turn, "invalid finish call: "+err.Error()))
				history = append(history, TurnRecord{
					Turn:        turn,
					Thought:     reply.Thought,
					Action:      action,
					Observation: "error: " + err.Error(),
				})
				turn++
				continue
			}
			e.logger.Info("investigation finished on turn %d with verdict %s", turn, verdict)
			return Outcome{Verdict: verdict, Summary: summary, State: state, Turns: turn, Completed: true}, nil
		}

		obs, err := e.exec.Execute(ctx, tools.Call{
			ID:        id.NewCallID(),
			Name:      action.ToolName,
			Arguments: action.Parameters,
		})
		if err != nil {
			return Outcome{}, err
		}
		e.sink(types.NewObservationEvent(turn, obs.Content, obs.Truncated, obs.ArtifactPath))

		history = append(history, TurnRecord{
			Turn:        turn,
			Thought:     reply.Thought,
			Action:      action,
			Observation: obs.Content,
		})

		if directive, ok := stagnation.observe(state, mergeOutcome.Delta); ok {
			e.logger.Info("forcing reflection on turn %d: no progress detected", turn)
			e.sink(types.NewStatusEvent(turn, "forced reflection"))
			directives = append(directives, directive)
		}
		turn++
	}

	summary := fmt.Sprintf("turn budget of %d exhausted before the investigation concluded", e.cfg.MaxTurns)
	e.logger.Warn("turn budget of %d exhausted", e.cfg.MaxTurns)
	e.sink(types.NewErrorEvent(e.cfg.MaxTurns, summary))
	return e.fail(state, e.cfg.MaxTurns, summary), nil
}

// oracleTurn builds the prompt, calls the oracle and parses the reply. A nil
// reply with a nil error means the reply was unparseable.
func (e *Engine) oracleTurn(ctx context.Context, state *types.State, history []TurnRecord, directives []string) (*ParsedReply, string, error) {
	stateJSON, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("marshal state: %w", err)
	}

	system, messages := e.builder.Build(string(stateJSON), e.exec.Definitions(), history, directives)
	resp, err := e.oracle.Complete(ctx, llm.Request{
		System:      system,
		Messages:    messages,
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		return nil, "", err
	}

	reply, err := ParseReply(resp.Content, e.cfg.Schema)
	if err != nil {
		e.logger.Debug("reply parse error: %v", err)
		return nil, resp.Content, nil
	}
	return reply, resp.Content, nil
}

func (e *Engine) fail(state *types.State, turns int, summary string) Outcome {
	return Outcome{
		Verdict: types.VerdictFailure,
		Summary: summary,
		State:   state,
		Turns:   turns,
	}
}

func malformedReplyDirective(raw string) string {
	const keep = 200
	if len(raw) > keep {
		raw = raw[:keep] + "..."
	}
	return fmt.Sprintf(
		"Your previous reply could not be parsed as a single JSON object (it began: %q). "+
			"Reply again with exactly one JSON object and no surrounding prose.", raw)
}

// stagnationTracker watches for a run that keeps working the same task
// without changing state, and issues at most one reflection directive per
// task.
type stagnationTracker struct {
	taskID      string
	turnsOnTask int
	flatTurns   int
	reflected   map[string]bool
}

func newStagnationTracker() *stagnationTracker {
	return &stagnationTracker{reflected: make(map[string]bool)}
}

func (s *stagnationTracker) observe(state *types.State, delta bool) (string, bool) {
	active := state.ActiveTask()
	if active == nil {
		s.taskID = ""
		s.turnsOnTask = 0
		s.flatTurns = 0
		return "", false
	}

	if active.ID != s.taskID {
		s.taskID = active.ID
		s.turnsOnTask = 0
		s.flatTurns = 0
	}
	s.turnsOnTask++
	if delta {
		s.flatTurns = 0
	} else {
		s.flatTurns++
	}

	if s.turnsOnTask >= stagnationTaskTurns &&
		s.flatTurns >= stagnationFlatTurns &&
		!s.reflected[active.ID] {
		s.reflected[active.ID] = true
		return fmt.Sprintf(
			"You have spent %d turns on task %q without recording new findings. "+
				"Step back: re-read your facts and unknowns, state what approach has not worked, "+
				"and either change strategy or mark the task blocked.",
			s.turnsOnTask, active.Description), true
	}
	return "", false
}
