// Package metrics provides usage tracking for inference calls.
package metrics

import (
	"context"
	"sync"
	"time"

	"voxcast/internal/inference"
)

// Usage accumulates token counts and timing for a set of inference calls.
type Usage struct {
	Calls            int           `json:"calls"`
	Failures         int           `json:"failures"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalDuration    time.Duration `json:"total_duration"`
}

// Tracker records per-engine usage. Safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	total Usage
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Record adds one call's outcome.
func (t *Tracker) Record(res *inference.Result, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total.Calls++
	if err != nil {
		t.total.Failures++
		return
	}
	if res != nil {
		t.total.PromptTokens += res.PromptTokens
		t.total.CompletionTokens += res.CompletionTokens
		t.total.TotalDuration += res.Duration
	}
}

// Total returns a copy of the accumulated usage.
func (t *Tracker) Total() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Reset clears the accumulated usage.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = Usage{}
}

// Instrumented wraps an Engine and records every call into a Tracker.
type Instrumented struct {
	engine  inference.Engine
	tracker *Tracker
}

// NewInstrumented wraps engine so its usage flows into tracker.
func NewInstrumented(engine inference.Engine, tracker *Tracker) *Instrumented {
	return &Instrumented{engine: engine, tracker: tracker}
}

// Generate forwards to the wrapped engine and records the outcome.
func (i *Instrumented) Generate(ctx context.Context, req *inference.Request) (*inference.Result, error) {
	res, err := i.engine.Generate(ctx, req)
	i.tracker.Record(res, err)
	return res, err
}

// Name returns the wrapped engine's identifier.
func (i *Instrumented) Name() string { return i.engine.Name() }
