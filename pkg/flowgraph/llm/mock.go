package llm

import (
	"context"
	"slices"
	"sync"
)

// Call records one Invoke on a MockClient.
type Call struct {
	System   string
	Messages []Message
}

// MockResponse is one scripted reply: text, or an error when Err is set.
type MockResponse struct {
	Text string
	Err  error
}

// MockClient is a scripted Client for tests.
//
// Replies are consumed in order; once the script runs out the last reply
// repeats. A MockClient is safe for concurrent use.
type MockClient struct {
	mu         sync.Mutex
	script     []MockResponse
	next       int
	invokeFunc func(ctx context.Context, system string, messages []Message) (string, error)
	calls      []Call
}

// NewMockClient creates a mock that replies with responses in order.
func NewMockClient(responses ...string) *MockClient {
	m := &MockClient{}
	return m.WithResponses(responses...)
}

// WithResponses appends text replies to the script.
func (m *MockClient) WithResponses(responses ...string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range responses {
		m.script = append(m.script, MockResponse{Text: r})
	}
	return m
}

// WithError appends an error reply to the script.
func (m *MockClient) WithError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, MockResponse{Err: err})
	return m
}

// WithScript appends arbitrary replies to the script.
func (m *MockClient) WithScript(replies ...MockResponse) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, replies...)
	return m
}

// WithInvokeFunc replaces the script with fn.
func (m *MockClient) WithInvokeFunc(fn func(ctx context.Context, system string, messages []Message) (string, error)) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invokeFunc = fn
	return m
}

// Invoke implements Client.
func (m *MockClient) Invoke(ctx context.Context, system string, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.calls = append(m.calls, Call{System: system, Messages: slices.Clone(messages)})
	fn := m.invokeFunc
	var reply MockResponse
	if fn == nil && len(m.script) > 0 {
		reply = m.script[min(m.next, len(m.script)-1)]
		m.next++
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, system, messages)
	}
	return reply.Text, reply.Err
}

// Calls returns a copy of every recorded call.
func (m *MockClient) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallCount returns the number of Invoke calls.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastCall returns the most recent call, or nil.
func (m *MockClient) LastCall() *Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	c := m.calls[len(m.calls)-1]
	return &c
}

// Reset clears recorded calls and rewinds the script.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.next = 0
}
