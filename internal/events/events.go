// Package events carries pipeline progress as a subscribable stream instead
// of callbacks, so consumers (CLI progress display, downstream audio work)
// compose without capturing closures over pipeline state.
package events

import (
	"sync"
	"time"

	"voxcast/internal/character"
)

// Kind classifies an event.
type Kind string

const (
	// KindProgress reports human-readable progress with a percentage.
	KindProgress Kind = "progress"
	// KindDiscovery fires the instant a character is first seen in Pass 1.
	KindDiscovery Kind = "discovery"
	// KindBatchComplete fires after each Pass-3 batch with a snapshot of
	// the accumulated registry, enabling incremental downstream work.
	KindBatchComplete Kind = "batch_complete"
	// KindJobState reports job status transitions.
	KindJobState Kind = "job_state"
)

// Event is one pipeline notification. Only the fields relevant to the kind
// are populated.
type Event struct {
	Kind       Kind
	Time       time.Time
	DocumentID string

	// KindProgress
	Message string
	Percent int

	// KindDiscovery
	EntityName string

	// KindBatchComplete
	ChapterIndex int
	BatchIndex   int
	TotalBatches int
	Snapshot     map[string]*character.Record

	// KindJobState
	JobID    string
	JobState string
}

const subscriberBuffer = 64

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// that stops draining loses events rather than stalling the pipeline.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a receive channel and a cancel function. The channel is
// closed on cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers ev to all current subscribers without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not draining; drop rather than stall.
		}
	}
}
