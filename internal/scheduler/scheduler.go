package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"voxcast/internal/events"
	"voxcast/internal/store"
)

// ErrDuplicateJob is returned when an equivalent job is already queued.
var ErrDuplicateJob = errors.New("equivalent job already queued")

// ErrDocumentCancelled is returned when enqueueing work for a document that
// has been cancelled.
var ErrDocumentCancelled = errors.New("document is cancelled")

// Runner executes one job. It must respect context cancellation: the
// scheduler cancels the job's context on pause and per-document cancel.
type Runner func(ctx context.Context, job *Job) error

// Scheduler owns the job queue and runs jobs one at a time.
type Scheduler struct {
	runner Runner
	store  *store.Store
	bus    *events.Bus
	logger *slog.Logger

	queue *jobQueue

	mu        sync.Mutex
	paused    bool
	held      []*Job
	cancelled map[string]struct{}
	active    *activeJob
}

type activeJob struct {
	job    *Job
	cancel context.CancelFunc
}

// Config wires a new scheduler.
type Config struct {
	Runner Runner
	Store  *store.Store // optional; enables persistence and restart recovery
	Bus    *events.Bus  // optional
	Logger *slog.Logger
}

// New creates a scheduler. Runner is required.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("scheduler requires a runner")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:    cfg.Runner,
		store:     cfg.Store,
		bus:       cfg.Bus,
		logger:    logger.With("component", "scheduler"),
		queue:     newJobQueue(),
		cancelled: make(map[string]struct{}),
	}, nil
}

// Enqueue adds a job to the queue. Equivalent queued jobs and jobs for
// cancelled documents are rejected.
func (s *Scheduler) Enqueue(ctx context.Context, job *Job) error {
	s.mu.Lock()
	if _, gone := s.cancelled[job.DocumentID]; gone {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDocumentCancelled, job.DocumentID)
	}
	key := job.equivalenceKey()
	dup := s.queue.contains(func(j *Job) bool { return j.equivalenceKey() == key })
	if !dup {
		for _, h := range s.held {
			if h.equivalenceKey() == key {
				dup = true
				break
			}
		}
	}
	if dup {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateJob, key)
	}
	paused := s.paused
	s.mu.Unlock()

	if s.store != nil {
		rec := &store.JobRecord{
			ID:           job.ID,
			DocumentID:   job.DocumentID,
			JobType:      string(job.Type),
			ChapterIndex: job.ChapterIndex,
			Priority:     job.Priority,
			CreatedAt:    job.CreatedAt,
		}
		if err := s.store.CreateJob(ctx, rec); err != nil {
			return err
		}
	}

	if paused {
		s.mu.Lock()
		s.held = append(s.held, job)
		s.mu.Unlock()
	} else {
		s.queue.push(job)
	}

	s.logger.Info("job enqueued",
		"job_id", job.ID, "document_id", job.DocumentID, "type", job.Type, "priority", job.Priority)
	return nil
}

// Dequeue removes and returns the highest-priority job, or nil while the
// scheduler is paused or the queue is empty.
func (s *Scheduler) Dequeue() *Job {
	s.mu.Lock()
	paused := s.paused
	s.mu.Unlock()
	if paused {
		return nil
	}
	return s.queue.tryPop()
}

// Pause holds all queued work aside and cancels the running job's context.
// No work is discarded; Resume re-enqueues everything held.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = true
	active := s.active
	s.mu.Unlock()

	held := s.queue.drain()
	s.mu.Lock()
	s.held = append(s.held, held...)
	s.mu.Unlock()

	if active != nil {
		active.cancel()
	}
	s.logger.Info("scheduler paused", "held_jobs", len(held))
}

// Resume re-enqueues held jobs and unpauses.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = false
	held := s.held
	s.held = nil
	s.mu.Unlock()

	for _, job := range held {
		s.queue.push(job)
	}
	s.logger.Info("scheduler resumed", "requeued_jobs", len(held))
}

// CancelForDocument cancels all work for a document: queued jobs are
// removed, the active job is cancelled if it is processing that document,
// and future enqueues for the document are rejected.
func (s *Scheduler) CancelForDocument(ctx context.Context, documentID string) {
	s.mu.Lock()
	s.cancelled[documentID] = struct{}{}
	kept := s.held[:0]
	for _, h := range s.held {
		if h.DocumentID != documentID {
			kept = append(kept, h)
		}
	}
	s.held = kept
	active := s.active
	s.mu.Unlock()

	removed := s.queue.removeWhere(func(j *Job) bool { return j.DocumentID == documentID })

	if active != nil && active.job.DocumentID == documentID {
		active.cancel()
	}

	if s.store != nil {
		if err := s.store.CancelJobsForDocument(ctx, documentID); err != nil {
			s.logger.Warn("failed to mark jobs cancelled", "document_id", documentID, "error", err)
		}
		if err := s.store.SetDocumentStatus(ctx, documentID, store.DocumentCancelled, ""); err != nil {
			s.logger.Warn("failed to mark document cancelled", "document_id", documentID, "error", err)
		}
	}

	s.logger.Info("document cancelled", "document_id", documentID, "removed_jobs", len(removed))
}

// IsCancelled reports whether a document has been cancelled. The pipeline
// consults this before every state mutation so in-flight results for a
// cancelled document are discarded.
func (s *Scheduler) IsCancelled(documentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, gone := s.cancelled[documentID]
	return gone
}

// ResumeIncomplete scans persisted state for documents left pending or
// in-progress by an unclean shutdown and re-enqueues a full-document job
// for each. Returns the number of jobs enqueued.
func (s *Scheduler) ResumeIncomplete(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}

	if n, err := s.store.ResetStalledJobs(ctx); err != nil {
		return 0, err
	} else if n > 0 {
		s.logger.Info("reset stalled job records", "count", n)
	}

	docs, err := s.store.ListDocumentsByStatus(ctx, store.DocumentPending, store.DocumentInProgress)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, doc := range docs {
		job := NewJob(doc.ID, TypeFullDocument, -1, PriorityNormal, false)
		if err := s.Enqueue(ctx, job); err != nil {
			if errors.Is(err, ErrDuplicateJob) {
				continue
			}
			s.logger.Warn("failed to re-enqueue incomplete document",
				"document_id", doc.ID, "error", err)
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		s.logger.Info("re-enqueued incomplete documents", "count", enqueued)
	}
	return enqueued, nil
}

// QueueLen returns the number of queued (not held) jobs.
func (s *Scheduler) QueueLen() int { return s.queue.len() }

// QueuedJobs returns a snapshot of the jobs currently waiting, including
// jobs held aside while paused.
func (s *Scheduler) QueuedJobs() []*Job {
	jobs := s.queue.snapshot()
	s.mu.Lock()
	jobs = append(jobs, s.held...)
	s.mu.Unlock()
	return jobs
}

// Run processes jobs until ctx is cancelled. Jobs execute one at a time;
// within a job, any parallelism is the runner's concern.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started")
	for {
		job := s.queue.pop(ctx.Done())
		if job == nil {
			s.logger.Info("scheduler stopping")
			return
		}

		s.mu.Lock()
		if s.paused {
			// Paused between pop and processing: hold the job aside.
			s.held = append(s.held, job)
			s.mu.Unlock()
			continue
		}
		if _, gone := s.cancelled[job.DocumentID]; gone {
			s.mu.Unlock()
			s.finishJob(ctx, job, store.JobCancelled, "")
			continue
		}
		jobCtx, cancel := context.WithCancel(ctx)
		s.active = &activeJob{job: job, cancel: cancel}
		s.mu.Unlock()

		s.runJob(ctx, jobCtx, job)

		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
		cancel()
	}
}

func (s *Scheduler) runJob(ctx, jobCtx context.Context, job *Job) {
	s.logger.Info("job started", "job_id", job.ID, "document_id", job.DocumentID, "type", job.Type)
	s.markJob(ctx, job, store.JobRunning, "")

	err := s.runner(jobCtx, job)

	switch {
	case err == nil:
		s.finishJob(ctx, job, store.JobCompleted, "")
	case errors.Is(err, context.Canceled) || s.IsCancelled(job.DocumentID):
		s.finishJob(ctx, job, store.JobCancelled, "")
	default:
		s.logger.Error("job failed", "job_id", job.ID, "error", err)
		s.finishJob(ctx, job, store.JobFailed, err.Error())
	}
}

func (s *Scheduler) markJob(ctx context.Context, job *Job, status store.JobStatus, errMsg string) {
	if s.store != nil {
		if err := s.store.UpdateJobStatus(ctx, job.ID, status, errMsg); err != nil {
			s.logger.Warn("failed to update job status", "job_id", job.ID, "error", err)
		}
	}
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Kind:       events.KindJobState,
			DocumentID: job.DocumentID,
			JobID:      job.ID,
			JobState:   string(status),
		})
	}
}

func (s *Scheduler) finishJob(ctx context.Context, job *Job, status store.JobStatus, errMsg string) {
	s.markJob(ctx, job, status, errMsg)
	s.logger.Info("job finished", "job_id", job.ID, "status", status)
}
