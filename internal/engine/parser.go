package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"oats/pkg/types"
)

// ReplySchema selects which oracle reply shapes the parser accepts.
type ReplySchema string

const (
	// SchemaAuto accepts both shapes; a reply carrying both reads as RSA.
	SchemaAuto ReplySchema = "auto"
	// SchemaRSA accepts only the reflect-strategize-act shape.
	SchemaRSA ReplySchema = "rsa"
	// SchemaLegacy accepts only the thought-action shape.
	SchemaLegacy ReplySchema = "legacy"
)

// Action is the oracle's requested next step.
type Action struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
	Reason     string         `json:"reason"`
}

// ParsedReply is a decoded oracle turn.
type ParsedReply struct {
	Reflect    string
	Strategize string
	Thought    string
	State      *types.State
	Action     *Action
}

type rsaReply struct {
	Reflect    string       `json:"reflect"`
	Strategize string       `json:"strategize"`
	State      *types.State `json:"state"`
	Act        *Action      `json:"act"`
}

type legacyReply struct {
	Thought string  `json:"thought"`
	Action  *Action `json:"action"`
}

// ParseReply decodes an oracle reply, repairing malformed JSON before giving
// up. The returned error marks a soft retry for the loop.
func ParseReply(raw string, schema ReplySchema) (*ParsedReply, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("reply contains no JSON object")
	}

	decoded, err := decodeObject(payload)
	if err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(payload)
		if repairErr != nil {
			return nil, fmt.Errorf("decode reply: %w", err)
		}
		decoded, err = decodeObject(repaired)
		if err != nil {
			return nil, fmt.Errorf("decode repaired reply: %w", err)
		}
		payload = repaired
	}

	isRSA := hasAnyKey(decoded, "act", "reflect", "strategize")
	switch schema {
	case SchemaRSA:
		if !isRSA {
			return nil, fmt.Errorf("reply does not match the reflect-strategize-act shape")
		}
	case SchemaLegacy:
		isRSA = false
	case SchemaAuto:
	default:
		return nil, fmt.Errorf("unknown reply schema %q", schema)
	}

	if isRSA {
		return parseRSA(payload)
	}
	return parseLegacy(payload)
}

func parseRSA(payload string) (*ParsedReply, error) {
	var reply rsaReply
	if err := json.Unmarshal([]byte(payload), &reply); err != nil {
		return nil, fmt.Errorf("decode reflect-strategize-act reply: %w", err)
	}
	if reply.Act == nil || reply.Act.ToolName == "" {
		return nil, fmt.Errorf("reply is missing act.tool_name")
	}
	return &ParsedReply{
		Reflect:    reply.Reflect,
		Strategize: reply.Strategize,
		Thought:    joinThought(reply.Reflect, reply.Strategize),
		State:      reply.State,
		Action:     reply.Act,
	}, nil
}

func parseLegacy(payload string) (*ParsedReply, error) {
	var reply legacyReply
	if err := json.Unmarshal([]byte(payload), &reply); err != nil {
		return nil, fmt.Errorf("decode thought-action reply: %w", err)
	}
	if reply.Action == nil || reply.Action.ToolName == "" {
		return nil, fmt.Errorf("reply is missing action.tool_name")
	}
	return &ParsedReply{
		Thought: reply.Thought,
		Action:  reply.Action,
	}, nil
}

func decodeObject(payload string) (map[string]json.RawMessage, error) {
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

func hasAnyKey(decoded map[string]json.RawMessage, keys ...string) bool {
	for _, key := range keys {
		if _, ok := decoded[key]; ok {
			return true
		}
	}
	return false
}

// extractJSON returns the first top-level JSON object in raw, tolerating
// markdown fences and prose around it.
func extractJSON(raw string) string {
	text := strings.TrimSpace(raw)

	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			candidate := strings.TrimSpace(rest[:end])
			if strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}

	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	// Unbalanced braces: hand the tail to the repairer.
	return text[start:]
}

func joinThought(reflect, strategize string) string {
	switch {
	case reflect == "":
		return strategize
	case strategize == "":
		return reflect
	default:
		return reflect + "\n" + strategize
	}
}
