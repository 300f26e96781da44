package llm

import (
	"context"
	"fmt"

	"oats/internal/config"
	"oats/internal/errors"
	"oats/internal/logging"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the oracle conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion request to the oracle.
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// TokenUsage reports billed token counts for a completion.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the oracle's reply to a completion request.
type Response struct {
	Content    string
	StopReason string
	Usage      TokenUsage
}

// Client is the oracle contract the reasoning engine depends on.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Model() string
	Provider() string
}

// New constructs the configured provider client wrapped with retry and
// circuit breaker protection.
func New(cfg config.OracleConfig, logger logging.Logger) (Client, error) {
	logger = logging.OrNop(logger)

	var base Client
	switch cfg.Provider {
	case "anthropic":
		base = NewAnthropicClient(cfg, logger)
	case "openai":
		base = NewOpenAIClient(cfg, logger)
	case "mock":
		base = NewMockClient(cfg.Model)
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}

	retryConfig := errors.DefaultRetryConfig()
	breaker := errors.NewCircuitBreaker(
		fmt.Sprintf("oracle-%s", cfg.Provider),
		errors.DefaultCircuitBreakerConfig(),
	)
	return NewRetryClient(base, retryConfig, breaker, logger), nil
}
