// Package scheduler queues analysis jobs by priority and serializes their
// execution: pause and resume without losing work, cancel per document, and
// re-enqueue interrupted documents after a restart.
package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobType selects how much of the pipeline a job runs.
type JobType string

const (
	TypeDiscoveryOnly JobType = "discovery-only"
	TypeFullDocument  JobType = "full-document"
	TypeSingleChapter JobType = "single-chapter"
	TypeTraitsOnly    JobType = "traits-only"
	TypeAudioOnly     JobType = "audio-only"
)

// Priority levels. Higher values run first; foreground user requests
// preempt queued background work.
const (
	PriorityBackground = 0
	PriorityNormal     = 10
	PriorityForeground = 20
)

// Job is one queued analysis request. Jobs are immutable once created; the
// queue orders them by (priority desc, createdAt asc).
type Job struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	Type         JobType   `json:"type"`
	ChapterIndex int       `json:"chapter_index"` // -1 = whole document
	Priority     int       `json:"priority"`
	CreatedAt    time.Time `json:"created_at"`
	Foreground   bool      `json:"foreground"`
}

// NewJob creates a job with a fresh id and creation timestamp.
func NewJob(documentID string, jobType JobType, chapterIndex, priority int, foreground bool) *Job {
	return &Job{
		ID:           uuid.NewString(),
		DocumentID:   documentID,
		Type:         jobType,
		ChapterIndex: chapterIndex,
		Priority:     priority,
		CreatedAt:    time.Now().UTC(),
		Foreground:   foreground,
	}
}

// equivalenceKey identifies jobs that would do the same work; a second
// enqueue of an equivalent job is rejected while the first is queued.
func (j *Job) equivalenceKey() string {
	return fmt.Sprintf("%s|%s|%d", j.DocumentID, j.Type, j.ChapterIndex)
}
