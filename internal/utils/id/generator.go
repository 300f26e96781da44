package id

import (
	"strings"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// NewInvestigationID generates the canonical investigation identifier.
func NewInvestigationID() string {
	return uuid.NewString()
}

// ShortID returns the first eight hex characters of an investigation
// identifier, used to derive job names.
func ShortID(investigationID string) string {
	compact := strings.ReplaceAll(investigationID, "-", "")
	if len(compact) <= 8 {
		return compact
	}
	return compact[:8]
}

// NewArtifactSuffix returns a sortable unique suffix for artifact filenames.
func NewArtifactSuffix() string {
	return ksuid.New().String()
}

// NewCallID generates an identifier for a single tool invocation.
func NewCallID() string {
	return "call-" + ksuid.New().String()
}

// NewEventID generates a sortable identifier for protocol events.
func NewEventID() string {
	return ksuid.New().String()
}
