package metrics

import (
	"context"
	"sync"
	"testing"

	"voxcast/internal/inference"
)

func TestTrackerRecord(t *testing.T) {
	tr := NewTracker()

	tr.Record(&inference.Result{PromptTokens: 100, CompletionTokens: 20}, nil)
	tr.Record(&inference.Result{PromptTokens: 50, CompletionTokens: 10}, nil)
	tr.Record(nil, inference.NewError(inference.KindBackend, "boom", nil))

	got := tr.Total()
	if got.Calls != 3 {
		t.Errorf("calls = %d, want 3", got.Calls)
	}
	if got.Failures != 1 {
		t.Errorf("failures = %d, want 1", got.Failures)
	}
	if got.PromptTokens != 150 {
		t.Errorf("prompt tokens = %d, want 150", got.PromptTokens)
	}
	if got.CompletionTokens != 30 {
		t.Errorf("completion tokens = %d, want 30", got.CompletionTokens)
	}

	tr.Reset()
	if got := tr.Total(); got.Calls != 0 {
		t.Errorf("calls after reset = %d, want 0", got.Calls)
	}
}

func TestInstrumentedEngine(t *testing.T) {
	eng := inference.NewMockEngine()
	eng.Latency = 0
	eng.ResponseText = `{"ok": true}`

	tr := NewTracker()
	wrapped := NewInstrumented(eng, tr)

	if wrapped.Name() != eng.Name() {
		t.Errorf("name = %q, want %q", wrapped.Name(), eng.Name())
	}

	for i := 0; i < 5; i++ {
		if _, err := wrapped.Generate(context.Background(), &inference.Request{User: "hi"}); err != nil {
			t.Fatalf("generate: %v", err)
		}
	}

	got := tr.Total()
	if got.Calls != 5 {
		t.Errorf("calls = %d, want 5", got.Calls)
	}
	if got.PromptTokens == 0 || got.CompletionTokens == 0 {
		t.Error("token counts not recorded")
	}
}

func TestTrackerConcurrent(t *testing.T) {
	tr := NewTracker()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Record(&inference.Result{PromptTokens: 1, CompletionTokens: 1}, nil)
			}
		}()
	}
	wg.Wait()

	if got := tr.Total(); got.Calls != 1000 || got.PromptTokens != 1000 {
		t.Errorf("total = %+v, want 1000 calls and 1000 prompt tokens", got)
	}
}
