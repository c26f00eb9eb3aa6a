// Package pipeline orchestrates document analysis: chapters are segmented,
// run through the three extraction passes with checkpoint writes at unit
// and batch granularity, and finally merged into document-wide profiles.
//
// Cancellation is cooperative. The cancelled flag is checked at unit and
// pass boundaries and again after every inference call returns: a call
// already dispatched is never interrupted, but its result is discarded
// with no checkpoint write and no registry mutation.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"voxcast/internal/character"
	"voxcast/internal/checkpoint"
	"voxcast/internal/events"
	"voxcast/internal/extract"
	"voxcast/internal/inference"
	"voxcast/internal/merge"
	"voxcast/internal/segment"
)

// Mode selects how much of the pipeline a run covers.
type Mode string

const (
	// ModeFull runs all three passes and the cross-chapter merge.
	ModeFull Mode = "full"
	// ModeDiscovery runs Pass 1 only.
	ModeDiscovery Mode = "discovery"
	// ModeTraits runs Pass 3 over previously persisted characters.
	ModeTraits Mode = "traits"
	// ModeAudio republishes batch snapshots from persisted state for
	// downstream audio work; no inference happens.
	ModeAudio Mode = "audio"
)

// Document is the unit of work handed to the pipeline. Chapter texts are
// supplied by the caller; file parsing is not the pipeline's concern.
type Document struct {
	ID       string
	Title    string
	Chapters []string
}

// ResultStore is the narrow persistence interface the pipeline consumes.
type ResultStore interface {
	UpsertEntity(ctx context.Context, documentID string, rec *character.Record) error
	FetchEntities(ctx context.Context, documentID string) ([]*character.Record, error)
	ReplaceMergedProfiles(ctx context.Context, documentID string, profiles []*merge.Profile) error
}

// Config tunes a pipeline instance.
type Config struct {
	UnitSizeChars            int
	MaxContextCharsPerEntity int
	Pass3BatchSize           int
	// PreprocessConcurrency bounds non-inference unit preparation;
	// inference itself always serializes through the gate.
	PreprocessConcurrency int
}

func (c Config) withDefaults() Config {
	if c.UnitSizeChars <= 0 {
		c.UnitSizeChars = segment.DefaultMaxUnitChars
	}
	if c.MaxContextCharsPerEntity <= 0 {
		c.MaxContextCharsPerEntity = 12000
	}
	if c.Pass3BatchSize < extract.MinBatchSize {
		c.Pass3BatchSize = 2
	}
	if c.Pass3BatchSize > extract.MaxBatchSize {
		c.Pass3BatchSize = extract.MaxBatchSize
	}
	if c.PreprocessConcurrency <= 0 {
		c.PreprocessConcurrency = 1
	}
	return c
}

// Pipeline runs document analysis.
type Pipeline struct {
	cfg         Config
	engine      inference.Engine
	extractor   *extract.Extractor
	checkpoints *checkpoint.Store
	store       ResultStore
	bus         *events.Bus
	logger      *slog.Logger

	// isCancelled reports whether a document was cancelled out of band
	// (e.g. by the scheduler) while its job is still executing.
	isCancelled func(documentID string) bool
}

// New creates a pipeline. Engine, checkpoint store, and result store are
// required; bus may be nil.
func New(cfg Config, engine inference.Engine, checkpoints *checkpoint.Store, st ResultStore, bus *events.Bus, logger *slog.Logger) (*Pipeline, error) {
	if engine == nil {
		return nil, fmt.Errorf("no inference engine available")
	}
	if checkpoints == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if st == nil {
		return nil, fmt.Errorf("result store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	return &Pipeline{
		cfg:    cfg,
		engine: engine,
		extractor: extract.New(engine, extract.Options{
			MaxContextPerEntity: cfg.MaxContextCharsPerEntity,
		}, logger),
		checkpoints: checkpoints,
		store:       st,
		bus:         bus,
		logger:      logger.With("component", "pipeline"),
	}, nil
}

// SetCancelledCheck installs the out-of-band cancellation probe.
func (p *Pipeline) SetCancelledCheck(fn func(documentID string) bool) {
	p.isCancelled = fn
}

// cancelled reports whether work for doc should stop. Checked at unit and
// pass boundaries and after every inference call.
func (p *Pipeline) cancelled(ctx context.Context, documentID string) bool {
	if ctx.Err() != nil {
		return true
	}
	return p.isCancelled != nil && p.isCancelled(documentID)
}

// Run executes one analysis job. chapterIndex < 0 means all chapters.
// Cancellation returns context.Canceled with no further persisted effects.
func (p *Pipeline) Run(ctx context.Context, doc *Document, mode Mode, chapterIndex int) error {
	if doc == nil || !hasAnalyzableChapter(doc.Chapters) {
		return fmt.Errorf("document has no analyzable chapters")
	}

	logger := p.logger.With("document_id", doc.ID, "mode", mode)
	logger.Info("analysis started", "chapters", len(doc.Chapters))

	switch mode {
	case ModeTraits:
		return p.runTraitsOnly(ctx, doc)
	case ModeAudio:
		return p.republishSnapshots(ctx, doc)
	}

	for idx, text := range doc.Chapters {
		if chapterIndex >= 0 && idx != chapterIndex {
			continue
		}
		if strings.TrimSpace(text) == "" {
			logger.Warn("skipping empty chapter", "chapter", idx)
			continue
		}
		if p.cancelled(ctx, doc.ID) {
			return context.Canceled
		}
		if err := p.runChapter(ctx, doc, idx, text, mode); err != nil {
			return err
		}
	}

	if mode == ModeDiscovery {
		p.progress(doc.ID, "discovery complete", 100)
		return nil
	}

	return p.mergeDocument(ctx, doc)
}

// runTraitsOnly re-synthesizes traits and voices for already-persisted
// characters, then re-merges.
func (p *Pipeline) runTraitsOnly(ctx context.Context, doc *Document) error {
	records, err := p.store.FetchEntities(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("fetch entities: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("document has no analyzable chapters")
	}

	batches := chunkRecords(records, p.cfg.Pass3BatchSize)
	for bi, batch := range batches {
		if p.cancelled(ctx, doc.ID) {
			return context.Canceled
		}
		analyses := p.extractor.SynthesizeBatch(ctx, batch)
		if p.cancelled(ctx, doc.ID) {
			return context.Canceled
		}
		for _, rec := range batch {
			key := character.Key(rec.CanonicalName)
			if analysis, ok := analyses[key]; ok {
				rec.Traits = analysis.Traits
				rec.Voice = analysis.Voice.Clone()
				if len(analysis.Relationships) > 0 {
					rec.Relationships = normalizeRelationships(analysis.Relationships)
				}
			}
			if err := p.store.UpsertEntity(ctx, doc.ID, rec); err != nil {
				return fmt.Errorf("persist entity: %w", err)
			}
		}
		p.progress(doc.ID, fmt.Sprintf("traits batch %d/%d", bi+1, len(batches)),
			(bi+1)*100/len(batches))
	}

	return p.mergeDocument(ctx, doc)
}

// republishSnapshots emits batch-complete events over persisted state so a
// downstream consumer (audio rendering) can redo its work without re-running
// inference.
func (p *Pipeline) republishSnapshots(ctx context.Context, doc *Document) error {
	records, err := p.store.FetchEntities(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("fetch entities: %w", err)
	}

	byChapter := make(map[int]map[string]*character.Record)
	for _, rec := range records {
		if byChapter[rec.Chapter] == nil {
			byChapter[rec.Chapter] = make(map[string]*character.Record)
		}
		byChapter[rec.Chapter][character.Key(rec.CanonicalName)] = rec.Clone()
	}

	for idx := range doc.Chapters {
		snapshot, ok := byChapter[idx]
		if !ok {
			continue
		}
		if p.cancelled(ctx, doc.ID) {
			return context.Canceled
		}
		p.publish(events.Event{
			Kind:         events.KindBatchComplete,
			DocumentID:   doc.ID,
			ChapterIndex: idx,
			BatchIndex:   0,
			TotalBatches: 1,
			Snapshot:     snapshot,
		})
	}
	return nil
}

// mergeDocument combines all persisted per-chapter records into merged
// profiles and stores them.
func (p *Pipeline) mergeDocument(ctx context.Context, doc *Document) error {
	if p.cancelled(ctx, doc.ID) {
		return context.Canceled
	}

	records, err := p.store.FetchEntities(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("fetch entities for merge: %w", err)
	}

	profiles := merge.Document(records)
	for _, profile := range profiles {
		for _, flag := range profile.Flags {
			p.logger.Warn("consistency flag",
				"document_id", doc.ID, "character", profile.Name,
				"kind", flag.Kind, "severity", flag.Severity, "detail", flag.Description)
		}
	}

	if p.cancelled(ctx, doc.ID) {
		return context.Canceled
	}
	if err := p.store.ReplaceMergedProfiles(ctx, doc.ID, profiles); err != nil {
		return fmt.Errorf("persist merged profiles: %w", err)
	}

	p.progress(doc.ID, fmt.Sprintf("merged %d characters", len(profiles)), 100)
	p.logger.Info("analysis complete", "document_id", doc.ID, "characters", len(profiles))
	return nil
}

func (p *Pipeline) progress(documentID, message string, percent int) {
	p.publish(events.Event{
		Kind:       events.KindProgress,
		DocumentID: documentID,
		Message:    message,
		Percent:    percent,
	})
}

func (p *Pipeline) publish(ev events.Event) {
	if p.bus != nil {
		p.bus.Publish(ev)
	}
}

func hasAnalyzableChapter(chapters []string) bool {
	for _, ch := range chapters {
		if strings.TrimSpace(ch) != "" {
			return true
		}
	}
	return false
}

func normalizeRelationships(rels map[string]string) map[string]string {
	out := make(map[string]string, len(rels))
	for other, relType := range rels {
		out[character.Key(other)] = strings.ToLower(strings.TrimSpace(relType))
	}
	return out
}

func chunkRecords(records []*character.Record, size int) [][]*character.Record {
	if size < 1 {
		size = 1
	}
	var batches [][]*character.Record
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}

// unitInfo is the result of non-inference unit preparation.
type unitInfo struct {
	text  string
	blank bool
}

// prepareUnits runs cheap per-unit preparation with bounded parallelism.
// This is the only place the pipeline fans out; every inference call still
// serializes through the engine's gate.
func prepareUnits(ctx context.Context, units []string, concurrency int) []unitInfo {
	if concurrency < 1 {
		concurrency = 1
	}
	out := make([]unitInfo, len(units))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, u := range units {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, u string) {
			defer wg.Done()
			defer func() { <-sem }()
			out[i] = unitInfo{
				text:  u,
				blank: strings.TrimSpace(u) == "",
			}
		}(i, u)
	}
	wg.Wait()
	return out
}
