package store

import (
	"context"
	"path/filepath"
	"testing"

	"voxcast/internal/character"
	"voxcast/internal/merge"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "voxcast.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDocumentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &Document{
		ID:           "doc-1",
		Title:        "Chapter One",
		Status:       DocumentPending,
		ChapterCount: 3,
		SourcePaths:  []string{"/books/ch1.txt", "/books/ch2.txt", "/books/ch3.txt"},
	}
	if err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	if err := s.SetDocumentStatus(ctx, "doc-1", DocumentInProgress, ""); err != nil {
		t.Fatalf("SetDocumentStatus: %v", err)
	}

	got, err := s.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != DocumentInProgress {
		t.Errorf("expected in_progress, got %s", got.Status)
	}
	if len(got.SourcePaths) != 3 || got.SourcePaths[0] != "/books/ch1.txt" {
		t.Errorf("source paths did not round-trip: %v", got.SourcePaths)
	}

	if missing, err := s.GetDocument(ctx, "nope"); err != nil || missing != nil {
		t.Errorf("missing document: got %+v, %v", missing, err)
	}
}

func TestListDocumentsByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, st := range []DocumentStatus{DocumentPending, DocumentInProgress, DocumentCompleted} {
		doc := &Document{ID: string(rune('a' + i)), Title: "t", Status: st}
		if err := s.UpsertDocument(ctx, doc); err != nil {
			t.Fatalf("UpsertDocument: %v", err)
		}
	}

	docs, err := s.ListDocumentsByStatus(ctx, DocumentPending, DocumentInProgress)
	if err != nil {
		t.Fatalf("ListDocumentsByStatus: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("expected 2 incomplete documents, got %d", len(docs))
	}
}

func TestEntityUpsertAndFetch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &character.Record{
		CanonicalName: "Harry",
		Chapter:       0,
		Traits:        []string{"brave"},
		Dialogues:     []character.Dialogue{{UnitIndex: 0, Text: "Hi", Emotion: "neutral", Intensity: 0.5}},
	}
	if err := s.UpsertEntity(ctx, "doc-1", rec); err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}

	// Same key and chapter again: must update, not duplicate.
	rec.Traits = []string{"brave", "loyal"}
	if err := s.UpsertEntity(ctx, "doc-1", rec); err != nil {
		t.Fatalf("UpsertEntity update: %v", err)
	}

	// Same character in a later chapter: separate row.
	ch2 := rec.Clone()
	ch2.Chapter = 1
	if err := s.UpsertEntity(ctx, "doc-1", ch2); err != nil {
		t.Fatalf("UpsertEntity chapter 1: %v", err)
	}

	records, err := s.FetchEntities(ctx, "doc-1")
	if err != nil {
		t.Fatalf("FetchEntities: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if len(records[0].Traits) != 2 {
		t.Errorf("upsert did not replace payload: %v", records[0].Traits)
	}
	if len(records[0].Dialogues) != 1 || records[0].Dialogues[0].Text != "Hi" {
		t.Errorf("dialogue payload lost: %+v", records[0].Dialogues)
	}
}

func TestMergedProfilesReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := []*merge.Profile{{Name: "Harry", Traits: []string{"brave"}}}
	if err := s.ReplaceMergedProfiles(ctx, "doc-1", first); err != nil {
		t.Fatalf("ReplaceMergedProfiles: %v", err)
	}

	second := []*merge.Profile{
		{Name: "Harry", Traits: []string{"brave", "loyal"}},
		{Name: "Hermione", Traits: []string{"clever"}},
	}
	if err := s.ReplaceMergedProfiles(ctx, "doc-1", second); err != nil {
		t.Fatalf("ReplaceMergedProfiles second: %v", err)
	}

	profiles, err := s.FetchMergedProfiles(ctx, "doc-1")
	if err != nil {
		t.Fatalf("FetchMergedProfiles: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("replace should leave exactly the new set, got %d", len(profiles))
	}
	if len(profiles[0].Traits) != 2 {
		t.Errorf("old merged payload survived: %v", profiles[0].Traits)
	}
}

func TestJobRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &JobRecord{ID: "job-1", DocumentID: "doc-1", JobType: "full-document", ChapterIndex: -1, Priority: 5}
	if err := s.CreateJob(ctx, rec); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := s.UpdateJobStatus(ctx, "job-1", JobRunning, ""); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}

	// Simulate an unclean shutdown: the running job should be re-queued.
	n, err := s.ResetStalledJobs(ctx)
	if err != nil {
		t.Fatalf("ResetStalledJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 stalled job reset, got %d", n)
	}

	jobs, err := s.ListJobs(ctx, JobQueued, 10)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "job-1" {
		t.Errorf("stalled job not back in queued state: %+v", jobs)
	}
}

func TestCancelJobsForDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"j1", "j2"} {
		if err := s.CreateJob(ctx, &JobRecord{ID: id, DocumentID: "doc-1", JobType: "full-document"}); err != nil {
			t.Fatalf("CreateJob %s: %v", id, err)
		}
	}
	if err := s.CreateJob(ctx, &JobRecord{ID: "j3", DocumentID: "doc-2", JobType: "full-document"}); err != nil {
		t.Fatalf("CreateJob j3: %v", err)
	}

	if err := s.CancelJobsForDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("CancelJobsForDocument: %v", err)
	}

	cancelled, err := s.ListJobs(ctx, JobCancelled, 10)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(cancelled) != 2 {
		t.Errorf("expected 2 cancelled jobs, got %d", len(cancelled))
	}
	queued, _ := s.ListJobs(ctx, JobQueued, 10)
	if len(queued) != 1 || queued[0].DocumentID != "doc-2" {
		t.Errorf("other document's job should stay queued: %+v", queued)
	}
}
