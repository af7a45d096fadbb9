package notify

import (
	"context"
	"fmt"
	"sync"
)

// MockMailer captures sent mail for tests. Addresses listed in FailFor
// return an error instead of being recorded.
type MockMailer struct {
	mu      sync.Mutex
	Sent    []MockMessage
	FailFor map[string]bool
}

// MockMessage is one captured delivery
type MockMessage struct {
	To      string
	Subject string
	Body    string
}

// NewMockMailer creates an empty mock mailer
func NewMockMailer() *MockMailer {
	return &MockMailer{FailFor: make(map[string]bool)}
}

func (m *MockMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailFor[to] {
		return fmt.Errorf("smtp refused recipient %s", to)
	}
	m.Sent = append(m.Sent, MockMessage{To: to, Subject: subject, Body: body})
	return nil
}

// SentTo returns the captured messages for one recipient
func (m *MockMailer) SentTo(to string) []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MockMessage
	for _, msg := range m.Sent {
		if msg.To == to {
			out = append(out, msg)
		}
	}
	return out
}
