package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a controllable Client for tests. Responses and errors are
// consumed in order; positions with a nil error return the next response.
type MockClient struct {
	mu            sync.Mutex
	responses     []CompletionResponse
	responseIndex int
	errors        []error
	errorIndex    int
	calls         int

	// Script, when set, overrides the canned queues and computes the
	// response from the request. Useful for stage-level tests.
	Script func(in CompletionRequest) (CompletionResponse, error)
}

// NewMockClient creates a mock with predefined responses and errors.
func NewMockClient(responses []CompletionResponse, errors []error) *MockClient {
	return &MockClient{responses: responses, errors: errors}
}

// Complete returns the next scripted response or error.
func (m *MockClient) Complete(_ context.Context, in CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.Script != nil {
		return m.Script(in)
	}

	if m.errorIndex < len(m.errors) {
		err := m.errors[m.errorIndex]
		m.errorIndex++
		if err != nil {
			return CompletionResponse{}, err
		}
	}

	if m.responseIndex >= len(m.responses) {
		return CompletionResponse{}, fmt.Errorf("mock client: no more responses")
	}
	resp := m.responses[m.responseIndex]
	m.responseIndex++
	return resp, nil
}

// ModelName implements Client.
func (m *MockClient) ModelName() string { return "mock" }

// Calls returns how many Complete calls the mock has served.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
