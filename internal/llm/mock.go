package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient replays scripted responses and records requests. Tests drive the
// reasoning loop with it instead of a live provider.
type MockClient struct {
	mu        sync.Mutex
	model     string
	responses []*Response
	errs      []error
	calls     []Request
	index     int
}

// NewMockClient creates a mock oracle with no scripted replies.
func NewMockClient(model string) *MockClient {
	if model == "" {
		model = "mock-model"
	}
	return &MockClient{model: model}
}

func (m *MockClient) Model() string    { return m.model }
func (m *MockClient) Provider() string { return "mock" }

// Enqueue scripts a successful reply.
func (m *MockClient) Enqueue(content string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, &Response{Content: content, StopReason: "end_turn"})
	m.errs = append(m.errs, nil)
	return m
}

// EnqueueError scripts a failed call.
func (m *MockClient) EnqueueError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, nil)
	m.errs = append(m.errs, err)
	return m
}

// Calls returns a copy of every request seen so far.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// CallCount returns the number of Complete invocations.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	if m.index >= len(m.responses) {
		return nil, fmt.Errorf("mock oracle exhausted after %d calls", len(m.responses))
	}
	resp, err := m.responses[m.index], m.errs[m.index]
	m.index++
	if err != nil {
		return nil, err
	}
	return resp, nil
}
