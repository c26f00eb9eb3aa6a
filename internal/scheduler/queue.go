package scheduler

import (
	"container/heap"
	"sync"
)

// jobQueue is a thread-safe priority queue. Higher priority pops first;
// equal priorities pop in creation order (FIFO by insertion sequence for
// identical timestamps).
type jobQueue struct {
	mu     sync.Mutex
	items  jobHeap
	seq    uint64
	notify chan struct{}
}

func newJobQueue() *jobQueue {
	q := &jobQueue{
		items:  make(jobHeap, 0),
		notify: make(chan struct{}, 1),
	}
	heap.Init(&q.items)
	return q
}

func (q *jobQueue) push(job *Job) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, &jobItem{job: job, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop blocks until a job is available or done is closed.
func (q *jobQueue) pop(done <-chan struct{}) *Job {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			item := heap.Pop(&q.items).(*jobItem)
			q.mu.Unlock()
			return item.job
		}
		q.mu.Unlock()

		select {
		case <-done:
			return nil
		case <-q.notify:
		}
	}
}

func (q *jobQueue) tryPop() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*jobItem).job
}

func (q *jobQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// drain removes and returns every queued job in pop order.
func (q *jobQueue) drain() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Job, 0, q.items.Len())
	for q.items.Len() > 0 {
		out = append(out, heap.Pop(&q.items).(*jobItem).job)
	}
	return out
}

// removeWhere removes queued jobs matching the predicate and returns them.
func (q *jobQueue) removeWhere(match func(*Job) bool) []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed []*Job
	kept := make(jobHeap, 0, q.items.Len())
	for _, item := range q.items {
		if match(item.job) {
			removed = append(removed, item.job)
		} else {
			kept = append(kept, item)
		}
	}
	q.items = kept
	heap.Init(&q.items)
	return removed
}

// snapshot returns the queued jobs without removing them, in no particular
// order.
func (q *jobQueue) snapshot() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Job, 0, q.items.Len())
	for _, item := range q.items {
		out = append(out, item.job)
	}
	return out
}

// contains reports whether any queued job matches the predicate.
func (q *jobQueue) contains(match func(*Job) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if match(item.job) {
			return true
		}
	}
	return false
}

type jobItem struct {
	job *Job
	seq uint64
}

// jobHeap implements heap.Interface: max-heap on priority, then earliest
// CreatedAt, then insertion sequence.
type jobHeap []*jobItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	if !h[i].job.CreatedAt.Equal(h[j].job.CreatedAt) {
		return h[i].job.CreatedAt.Before(h[j].job.CreatedAt)
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*jobItem)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
