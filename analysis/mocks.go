package analysis

import (
	"context"
	"encoding/json"
	"sync"
)

// MockClient returns canned responses for tests
type MockClient struct {
	mu       sync.Mutex
	Response json.RawMessage
	Err      error
	Prompts  []string
}

func (m *MockClient) Complete(_ context.Context, prompt string, _ map[string]interface{}) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Response, nil
}

// CallCount reports how many completions were requested
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}
