package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T, runner Runner) *Scheduler {
	t.Helper()
	if runner == nil {
		runner = func(ctx context.Context, job *Job) error { return nil }
	}
	s, err := New(Config{Runner: runner})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestQueue_PriorityThenCreation(t *testing.T) {
	s := newTestScheduler(t, nil)
	ctx := context.Background()

	older := NewJob("doc-a", TypeFullDocument, -1, PriorityNormal, false)
	older.CreatedAt = time.Now().Add(-time.Minute)
	newer := NewJob("doc-b", TypeFullDocument, -1, PriorityNormal, false)
	urgent := NewJob("doc-c", TypeFullDocument, -1, PriorityForeground, true)

	for _, j := range []*Job{newer, older, urgent} {
		if err := s.Enqueue(ctx, j); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	want := []string{"doc-c", "doc-a", "doc-b"}
	for i, expected := range want {
		job := s.Dequeue()
		if job == nil || job.DocumentID != expected {
			t.Fatalf("pop %d: expected %s, got %+v", i, expected, job)
		}
	}
}

func TestEnqueue_RejectsDuplicates(t *testing.T) {
	s := newTestScheduler(t, nil)
	ctx := context.Background()

	if err := s.Enqueue(ctx, NewJob("doc-1", TypeFullDocument, -1, PriorityNormal, false)); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	err := s.Enqueue(ctx, NewJob("doc-1", TypeFullDocument, -1, PriorityForeground, true))
	if !errors.Is(err, ErrDuplicateJob) {
		t.Errorf("expected ErrDuplicateJob, got %v", err)
	}

	// A different job type for the same document is not a duplicate.
	if err := s.Enqueue(ctx, NewJob("doc-1", TypeDiscoveryOnly, -1, PriorityNormal, false)); err != nil {
		t.Errorf("different type should enqueue: %v", err)
	}
	// Same type, different chapter is not a duplicate either.
	if err := s.Enqueue(ctx, NewJob("doc-1", TypeSingleChapter, 0, PriorityNormal, false)); err != nil {
		t.Errorf("chapter 0: %v", err)
	}
	if err := s.Enqueue(ctx, NewJob("doc-1", TypeSingleChapter, 1, PriorityNormal, false)); err != nil {
		t.Errorf("chapter 1: %v", err)
	}
}

func TestEnqueue_RejectsCancelledDocument(t *testing.T) {
	s := newTestScheduler(t, nil)
	ctx := context.Background()

	s.CancelForDocument(ctx, "doc-1")
	err := s.Enqueue(ctx, NewJob("doc-1", TypeFullDocument, -1, PriorityNormal, false))
	if !errors.Is(err, ErrDocumentCancelled) {
		t.Errorf("expected ErrDocumentCancelled, got %v", err)
	}
}

func TestPauseResume_NoWorkLost(t *testing.T) {
	s := newTestScheduler(t, nil)
	ctx := context.Background()

	for _, id := range []string{"doc-1", "doc-2", "doc-3"} {
		if err := s.Enqueue(ctx, NewJob(id, TypeFullDocument, -1, PriorityNormal, false)); err != nil {
			t.Fatalf("Enqueue %s: %v", id, err)
		}
	}

	s.Pause()
	if job := s.Dequeue(); job != nil {
		t.Errorf("Dequeue while paused should return nil, got %+v", job)
	}

	// Enqueue while paused also goes to the held list.
	if err := s.Enqueue(ctx, NewJob("doc-4", TypeFullDocument, -1, PriorityNormal, false)); err != nil {
		t.Fatalf("Enqueue while paused: %v", err)
	}

	s.Resume()
	seen := 0
	for s.Dequeue() != nil {
		seen++
	}
	if seen != 4 {
		t.Errorf("expected 4 jobs after resume, got %d", seen)
	}
}

func TestCancelForDocument_RemovesQueuedAndCancelsActive(t *testing.T) {
	started := make(chan string, 1)
	release := make(chan struct{})
	var cancelled sync.Map

	runner := func(ctx context.Context, job *Job) error {
		started <- job.DocumentID
		select {
		case <-ctx.Done():
			cancelled.Store(job.DocumentID, true)
			return ctx.Err()
		case <-release:
			return nil
		}
	}

	s := newTestScheduler(t, runner)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := s.Enqueue(ctx, NewJob("doc-1", TypeFullDocument, -1, PriorityForeground, false)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Enqueue(ctx, NewJob("doc-1", TypeDiscoveryOnly, -1, PriorityNormal, false)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	go s.Run(ctx)

	select {
	case doc := <-started:
		if doc != "doc-1" {
			t.Fatalf("expected doc-1 active, got %s", doc)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	s.CancelForDocument(ctx, "doc-1")

	// The active job's context must have been cancelled.
	deadline := time.After(2 * time.Second)
	for {
		if _, ok := cancelled.Load("doc-1"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("active job was not cancelled")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The queued job for the same document must be gone.
	if s.QueueLen() != 0 {
		t.Errorf("queued jobs for cancelled document should be removed, %d left", s.QueueLen())
	}
	if !s.IsCancelled("doc-1") {
		t.Error("document should be in the cancelled set")
	}
}

func TestRun_ProcessesInPriorityOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	runner := func(ctx context.Context, job *Job) error {
		mu.Lock()
		order = append(order, job.DocumentID)
		n := len(order)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
		return nil
	}

	s := newTestScheduler(t, runner)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Enqueue before starting the loop so ordering is deterministic.
	low := NewJob("low", TypeFullDocument, -1, PriorityBackground, false)
	mid := NewJob("mid", TypeFullDocument, -1, PriorityNormal, false)
	high := NewJob("high", TypeFullDocument, -1, PriorityForeground, true)
	for _, j := range []*Job{low, mid, high} {
		if err := s.Enqueue(ctx, j); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	go s.Run(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"high", "mid", "low"}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}
