package inference

import (
	"context"
	"sync"
)

// Gate is a bounded slot pool with strict FIFO fairness. The default single
// slot guarantees no two inference calls ever overlap in wall-clock time;
// the slot count is a parameter so a multi-model future only changes the
// constructor argument.
//
// The gate never aborts a holder: cancellation of a waiter removes it from
// the queue, but a caller that already holds a slot runs its call to
// completion and is responsible for discarding the result if its context
// was cancelled meanwhile.
type Gate struct {
	mu      sync.Mutex
	slots   int
	inUse   int
	waiters []chan struct{}
}

// NewGate creates a gate with the given number of slots (minimum 1).
func NewGate(slots int) *Gate {
	if slots < 1 {
		slots = 1
	}
	return &Gate{slots: slots}
}

// Acquire blocks until a slot is free or ctx is cancelled. Waiters are
// granted slots in arrival order.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.inUse < g.slots && len(g.waiters) == 0 {
		g.inUse++
		g.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	g.waiters = append(g.waiters, ready)
	g.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		for i, w := range g.waiters {
			if w == ready {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		g.mu.Unlock()
		// The slot was granted between ctx firing and taking the lock;
		// hand it back so the next waiter runs.
		g.Release()
		return ctx.Err()
	}
}

// Release frees a slot, waking the longest-waiting acquirer if any.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.waiters) > 0 {
		next := g.waiters[0]
		g.waiters = g.waiters[1:]
		close(next)
		return
	}
	if g.inUse > 0 {
		g.inUse--
	}
}

// Do runs fn while holding a slot.
func (g *Gate) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn(ctx)
}

// Exclusive wraps an engine so every Generate call holds a gate slot.
// This is the form the pipeline consumes: apparent parallelism upstream
// never produces overlapping model calls.
type Exclusive struct {
	engine Engine
	gate   *Gate
}

// NewExclusive wraps engine behind gate.
func NewExclusive(engine Engine, gate *Gate) *Exclusive {
	return &Exclusive{engine: engine, gate: gate}
}

// Generate acquires a slot, issues one call, and releases.
func (e *Exclusive) Generate(ctx context.Context, req *Request) (*Result, error) {
	if err := e.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer e.gate.Release()
	return e.engine.Generate(ctx, req)
}

// Name returns the wrapped engine's name.
func (e *Exclusive) Name() string { return e.engine.Name() }
