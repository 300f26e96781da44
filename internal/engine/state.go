package engine

import (
	"fmt"
	"reflect"

	"oats/pkg/types"
)

// MergeOutcome reports what a state merge changed.
type MergeOutcome struct {
	// Delta is true when the merged state differs from the previous one.
	Delta bool
	// Warnings lists invariant repairs, surfaced as warning events.
	Warnings []string
}

// MergeState folds an oracle-proposed state into the authoritative one.
//
// Facts and ruled-out entries are unions keyed by normalized description, so
// the oracle cannot silently drop established knowledge. Unknowns and tasks
// are replaced wholesale, with the at-most-one-active task invariant enforced
// by downgrading extras to blocked.
func MergeState(current, proposed *types.State, turn int) (*types.State, MergeOutcome) {
	if proposed == nil {
		return current, MergeOutcome{}
	}

	merged := current.Clone()
	outcome := MergeOutcome{}

	merged.Facts = unionFacts(current.Facts, proposed.Facts, turn)
	merged.RuledOut = unionStrings(current.RuledOut, proposed.RuledOut)
	merged.Unknowns = append([]string(nil), proposed.Unknowns...)

	tasks, warnings := normalizeTasks(proposed.Tasks)
	merged.Tasks = tasks
	outcome.Warnings = warnings

	if proposed.Goal != "" && proposed.Goal != current.Goal {
		outcome.Warnings = append(outcome.Warnings,
			"oracle attempted to rewrite the goal; keeping the original")
	}

	outcome.Delta = !statesEqual(current, merged)
	return merged, outcome
}

func unionFacts(existing, proposed []types.Fact, turn int) []types.Fact {
	out := append([]types.Fact(nil), existing...)
	seen := make(map[string]bool, len(existing))
	for _, fact := range existing {
		seen[types.NormalizeKey(fact.Description)] = true
	}

	for _, fact := range proposed {
		key := types.NormalizeKey(fact.Description)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if fact.Turn == 0 {
			fact.Turn = turn
		}
		if fact.ID == "" {
			fact.ID = fmt.Sprintf("fact-%d", len(out)+1)
		}
		out = append(out, fact)
	}
	return out
}

func unionStrings(existing, proposed []string) []string {
	out := append([]string(nil), existing...)
	seen := make(map[string]bool, len(existing))
	for _, entry := range existing {
		seen[types.NormalizeKey(entry)] = true
	}
	for _, entry := range proposed {
		key := types.NormalizeKey(entry)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, entry)
	}
	return out
}

func normalizeTasks(proposed []types.Task) ([]types.Task, []string) {
	out := append([]types.Task(nil), proposed...)
	var warnings []string

	activeSeen := false
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = fmt.Sprintf("task-%d", i+1)
		}
		switch out[i].Status {
		case types.TaskActive:
			if activeSeen {
				warnings = append(warnings, fmt.Sprintf(
					"task %s downgraded to blocked: only one task may be active", out[i].ID))
				out[i].Status = types.TaskBlocked
				continue
			}
			activeSeen = true
		case types.TaskBlocked, types.TaskDone:
		default:
			warnings = append(warnings, fmt.Sprintf(
				"task %s had unknown status %q, marked blocked", out[i].ID, out[i].Status))
			out[i].Status = types.TaskBlocked
		}
	}
	return out, warnings
}

func statesEqual(a, b *types.State) bool {
	return a.Goal == b.Goal &&
		reflect.DeepEqual(a.Tasks, b.Tasks) &&
		reflect.DeepEqual(a.Facts, b.Facts) &&
		reflect.DeepEqual(a.RuledOut, b.RuledOut) &&
		reflect.DeepEqual(a.Unknowns, b.Unknowns)
}
