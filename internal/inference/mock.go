package inference

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockEngineName = "mock"

// MockCall records one Generate invocation for assertions.
type MockCall struct {
	System string
	User   string
	Start  time.Time
	End    time.Time
}

// MockEngine is a deterministic Engine for testing.
//
// Responses come from, in order of precedence: Respond (a function of the
// request), the Responses queue (consumed one per call), or ResponseText.
// Latency, failure injection, and call recording make it suitable for both
// pipeline determinism tests and gate overlap measurement.
type MockEngine struct {
	Latency      time.Duration
	ResponseText string
	Responses    []string
	Respond      func(req *Request) (string, error)
	ShouldFail   bool
	FailAfter    int // fail every call after the Nth (0 = never)

	mu        sync.Mutex
	calls     []MockCall
	nextResp  int
	callCount atomic.Int64
}

// NewMockEngine creates a mock with a small default latency.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		Latency:      time.Millisecond,
		ResponseText: "{}",
	}
}

// Name returns the engine identifier.
func (m *MockEngine) Name() string { return MockEngineName }

// Generate returns the next scripted response.
func (m *MockEngine) Generate(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	count := m.callCount.Add(1)

	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			m.record(req, start)
			return nil, NewError(KindTimeout, "mock cancelled", ctx.Err())
		}
	}

	if m.ShouldFail || (m.FailAfter > 0 && int(count) > m.FailAfter) {
		m.record(req, start)
		return nil, NewError(KindBackend, fmt.Sprintf("mock failure on call %d", count), nil)
	}

	text, err := m.nextResponse(req)
	m.record(req, start)
	if err != nil {
		return nil, err
	}

	return &Result{
		Text:             text,
		PromptTokens:     len(req.System)/4 + len(req.User)/4,
		CompletionTokens: len(text) / 4,
		Duration:         time.Since(start),
	}, nil
}

func (m *MockEngine) nextResponse(req *Request) (string, error) {
	if m.Respond != nil {
		return m.Respond(req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextResp < len(m.Responses) {
		text := m.Responses[m.nextResp]
		m.nextResp++
		return text, nil
	}
	return m.ResponseText, nil
}

func (m *MockEngine) record(req *Request, start time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		System: req.System,
		User:   req.User,
		Start:  start,
		End:    time.Now(),
	})
}

// CallCount returns how many Generate calls were made.
func (m *MockEngine) CallCount() int {
	return int(m.callCount.Load())
}

// Calls returns a copy of the recorded calls.
func (m *MockEngine) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// Reset clears recorded calls and the scripted response cursor.
func (m *MockEngine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.nextResp = 0
	m.callCount.Store(0)
}
