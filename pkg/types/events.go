package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
)

// EventType discriminates the worker event union.
type EventType string

const (
	EventThought     EventType = "thought"
	EventAction      EventType = "action"
	EventObservation EventType = "observation"
	EventStatus      EventType = "status"
	EventError       EventType = "error"
	EventFinish      EventType = "finish"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventThought, EventAction, EventObservation, EventStatus, EventError, EventFinish:
		return true
	}
	return false
}

// Verdict is the terminal judgement carried by a finish event.
type Verdict string

const (
	VerdictSuccess      Verdict = "success"
	VerdictFailure      Verdict = "failure"
	VerdictInconclusive Verdict = "inconclusive"
)

// Event is one line of the worker's stdout protocol. Exactly one JSON object
// per line; payload fields are populated according to Type.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Turn      int       `json:"turn"`
	Timestamp time.Time `json:"timestamp"`

	// thought
	Thought string `json:"thought,omitempty"`

	// action
	Tool      string         `json:"tool,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Reason    string         `json:"reason,omitempty"`

	// observation
	Content      string `json:"content,omitempty"`
	Truncated    bool   `json:"truncated,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty"`

	// status
	Phase string `json:"phase,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// finish
	Verdict Verdict `json:"verdict,omitempty"`
	Summary string  `json:"summary,omitempty"`
}

func newEvent(eventType EventType, turn int) Event {
	return Event{
		ID:        ksuid.New().String(),
		Type:      eventType,
		Turn:      turn,
		Timestamp: time.Now().UTC(),
	}
}

// NewThoughtEvent records the oracle's reasoning text for a turn.
func NewThoughtEvent(turn int, thought string) Event {
	ev := newEvent(EventThought, turn)
	ev.Thought = thought
	return ev
}

// NewActionEvent records a tool dispatch.
func NewActionEvent(turn int, tool string, arguments map[string]any, reason string) Event {
	ev := newEvent(EventAction, turn)
	ev.Tool = tool
	ev.Arguments = arguments
	ev.Reason = reason
	return ev
}

// NewObservationEvent records a tool result as seen by the oracle.
func NewObservationEvent(turn int, content string, truncated bool, artifactPath string) Event {
	ev := newEvent(EventObservation, turn)
	ev.Content = content
	ev.Truncated = truncated
	ev.ArtifactPath = artifactPath
	return ev
}

// NewStatusEvent records a lifecycle or progress annotation.
func NewStatusEvent(turn int, phase string) Event {
	ev := newEvent(EventStatus, turn)
	ev.Phase = phase
	return ev
}

// NewErrorEvent records a non-fatal or fatal error surfaced to observers.
func NewErrorEvent(turn int, message string) Event {
	ev := newEvent(EventError, turn)
	ev.Message = message
	return ev
}

// NewFinishEvent records the terminal verdict of an investigation.
func NewFinishEvent(turn int, verdict Verdict, summary, artifactPath string) Event {
	ev := newEvent(EventFinish, turn)
	ev.Verdict = verdict
	ev.Summary = summary
	ev.ArtifactPath = artifactPath
	return ev
}

// ParseEvent decodes a single protocol line. It rejects payloads whose type
// discriminator is missing or unknown.
func ParseEvent(line []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if !ev.Type.Valid() {
		return Event{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return ev, nil
}

// Encode renders the event as a single JSON line without a trailing newline.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}
