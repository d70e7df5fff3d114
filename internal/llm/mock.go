package llm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// MockResponse is one scripted grading reply. A non-nil Err is returned
// instead of the content.
type MockResponse struct {
	Content json.RawMessage
	Usage   Usage
	Err     error
}

// MockProvider replays scripted grading replies in order and keeps every
// request it saw, so tests can inspect the prompt that was sent. With
// Repeat set the last reply is served again once the script runs out;
// otherwise an empty script answers like an unreachable model.
type MockProvider struct {
	mu     sync.Mutex
	script []MockResponse
	served int
	Repeat bool
	Calls  []Request
}

var errScriptExhausted = errors.New("mock: no scripted reply left")

// NewMockProvider creates a MockProvider that replies with script.
func NewMockProvider(script ...MockResponse) *MockProvider {
	return &MockProvider{script: script}
}

func (m *MockProvider) Generate(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, req)

	i := m.served
	switch {
	case i < len(m.script):
		m.served++
	case m.Repeat && len(m.script) > 0:
		i = len(m.script) - 1
	default:
		return nil, &ErrProviderUnavailable{Err: errScriptExhausted}
	}

	r := m.script[i]
	if r.Err != nil {
		return nil, r.Err
	}
	return &Response{Content: r.Content, Usage: r.Usage, Model: "mock", StopReason: "end"}, nil
}

func (m *MockProvider) ModelID() string { return "mock" }

// AddResponse appends a reply to the script.
func (m *MockProvider) AddResponse(r MockResponse) {
	m.mu.Lock()
	m.script = append(m.script, r)
	m.mu.Unlock()
}

// CallCount is the number of requests the model received.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
