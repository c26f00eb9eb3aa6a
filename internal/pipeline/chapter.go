package pipeline

import (
	"context"
	"fmt"
	"strings"

	"voxcast/internal/character"
	"voxcast/internal/checkpoint"
	"voxcast/internal/events"
	"voxcast/internal/segment"
)

// keyMomentIntensity is the threshold above which an utterance is recorded
// as a key moment for its speaker.
const keyMomentIntensity = 0.8

// keyMomentMaxChars truncates key moment text.
const keyMomentMaxChars = 120

// runChapter executes the extraction passes for one chapter, resuming from
// a checkpoint when a valid one exists. Resume rules by last completed pass:
//
//	0: start over
//	1: Pass 1 from the next unit, then Pass 2 from unit 0
//	2: Pass 2 from the next unit
//	3: Pass 3, skipping already-completed characters
func (p *Pipeline) runChapter(ctx context.Context, doc *Document, chapterIdx int, text string, mode Mode) error {
	logger := p.logger.With("document_id", doc.ID, "chapter", chapterIdx)
	hash := checkpoint.HashContent(text)

	cp, err := p.checkpoints.Load(doc.ID, chapterIdx, hash)
	if err != nil {
		logger.Warn("checkpoint load failed, starting fresh", "error", err)
		cp = nil
	}

	units := segment.Split(text, p.cfg.UnitSizeChars)
	prepared := prepareUnits(ctx, units, p.cfg.PreprocessConcurrency)

	var acc *character.Accumulator
	resumePass, resumeUnit := 0, -1
	pass3Done := make(map[string]bool)
	if cp != nil {
		acc = character.Restore(chapterIdx, p.cfg.MaxContextCharsPerEntity, cp.Entities)
		resumePass = cp.LastCompletedPass
		resumeUnit = cp.LastCompletedUnit
		for k := range cp.Pass3Completed {
			pass3Done[k] = true
		}
		logger.Info("resuming from checkpoint", "pass", resumePass, "unit", resumeUnit)
	} else {
		acc = character.NewAccumulator(chapterIdx, p.cfg.MaxContextCharsPerEntity)
	}

	save := func(pass, unit int) error {
		return p.checkpoints.Save(&checkpoint.Checkpoint{
			DocumentID:        doc.ID,
			ChapterIndex:      chapterIdx,
			ContentHash:       hash,
			LastCompletedPass: pass,
			LastCompletedUnit: unit,
			Entities:          acc.Snapshot(),
			Pass3Completed:    pass3Done,
		})
	}

	// Pass 1: discovery.
	if resumePass <= 1 {
		start := 0
		if resumePass == 1 {
			start = resumeUnit + 1
		}
		if err := p.runPass1(ctx, doc, chapterIdx, prepared, acc, start, save); err != nil {
			return err
		}
	}

	if mode == ModeDiscovery {
		if err := p.persistAll(ctx, doc.ID, acc); err != nil {
			return err
		}
		p.checkpoints.Delete(doc.ID, chapterIdx)
		return nil
	}

	// Pass 2: dialogue extraction.
	if resumePass <= 2 {
		start := 0
		if resumePass == 2 {
			start = resumeUnit + 1
		}
		if err := p.runPass2(ctx, doc, chapterIdx, prepared, acc, start, save); err != nil {
			return err
		}
	}

	// Pass 3: trait and voice synthesis.
	if err := p.runPass3(ctx, doc, chapterIdx, acc, pass3Done, save); err != nil {
		return err
	}

	if err := p.persistAll(ctx, doc.ID, acc); err != nil {
		return err
	}
	p.checkpoints.Delete(doc.ID, chapterIdx)
	logger.Info("chapter complete", "characters", acc.Len())
	return nil
}

func (p *Pipeline) runPass1(ctx context.Context, doc *Document, chapterIdx int, units []unitInfo, acc *character.Accumulator, start int, save func(pass, unit int) error) error {
	logger := p.logger.With("document_id", doc.ID, "chapter", chapterIdx, "pass", 1)
	for i := start; i < len(units); i++ {
		if p.cancelled(ctx, doc.ID) {
			return context.Canceled
		}
		unit := units[i]
		if unit.blank {
			if err := save(1, i); err != nil {
				return err
			}
			continue
		}

		names, err := p.extractor.DiscoverNames(ctx, unit.text)
		if err != nil {
			logger.Warn("discovery failed for unit, continuing", "unit", i, "error", err)
		}
		if p.cancelled(ctx, doc.ID) {
			return context.Canceled
		}

		for _, name := range names {
			key, created := acc.RegisterOrTouch(name)
			acc.AppendContext(key, unit.text)
			if created {
				// Persist a minimal record immediately so discoveries
				// survive a crash before the chapter completes.
				if err := p.store.UpsertEntity(ctx, doc.ID, acc.Get(key)); err != nil {
					return fmt.Errorf("persist discovered character %q: %w", key, err)
				}
				p.publish(events.Event{
					Kind:         events.KindDiscovery,
					DocumentID:   doc.ID,
					ChapterIndex: chapterIdx,
					EntityName:   name,
				})
				logger.Info("character discovered", "name", name, "unit", i)
			}
		}

		if err := save(1, i); err != nil {
			return err
		}
		p.progress(doc.ID, fmt.Sprintf("chapter %d discovery %d/%d", chapterIdx, i+1, len(units)),
			passPercent(0, i+1, len(units)))
	}
	return nil
}

func (p *Pipeline) runPass2(ctx context.Context, doc *Document, chapterIdx int, units []unitInfo, acc *character.Accumulator, start int, save func(pass, unit int) error) error {
	logger := p.logger.With("document_id", doc.ID, "chapter", chapterIdx, "pass", 2)
	for i := start; i < len(units); i++ {
		if p.cancelled(ctx, doc.ID) {
			return context.Canceled
		}
		unit := units[i]
		if unit.blank {
			if err := save(2, i); err != nil {
				return err
			}
			continue
		}

		known := knownNames(acc)
		utterances, err := p.extractor.ExtractUtterances(ctx, unit.text, known)
		if err != nil {
			logger.Warn("dialogue extraction failed for unit, continuing", "unit", i, "error", err)
		}
		if p.cancelled(ctx, doc.ID) {
			return context.Canceled
		}

		touched := make(map[string]bool)
		for _, utt := range utterances {
			key := character.Key(utt.Speaker)
			if key == character.Key(character.NarratorName) {
				key, _ = acc.RegisterOrTouch(character.NarratorName)
			} else if acc.Get(key) == nil {
				// Speaker never discovered in Pass 1; attribution is
				// unreliable, so the line is dropped.
				logger.Debug("dropping dialogue for unknown speaker", "speaker", utt.Speaker, "unit", i)
				continue
			}
			acc.AppendDialogue(key, character.Dialogue{
				UnitIndex: i,
				Text:      utt.Text,
				Emotion:   utt.Emotion,
				Intensity: utt.Intensity,
			})
			if utt.Intensity >= keyMomentIntensity {
				acc.AddKeyMoment(key, truncate(utt.Text, keyMomentMaxChars))
			}
			touched[key] = true
		}
		for key := range touched {
			if err := p.store.UpsertEntity(ctx, doc.ID, acc.Get(key)); err != nil {
				return fmt.Errorf("persist character %q: %w", key, err)
			}
		}

		if err := save(2, i); err != nil {
			return err
		}
		p.progress(doc.ID, fmt.Sprintf("chapter %d dialogue %d/%d", chapterIdx, i+1, len(units)),
			passPercent(1, i+1, len(units)))
	}
	return nil
}

func (p *Pipeline) runPass3(ctx context.Context, doc *Document, chapterIdx int, acc *character.Accumulator, pass3Done map[string]bool, save func(pass, unit int) error) error {
	logger := p.logger.With("document_id", doc.ID, "chapter", chapterIdx, "pass", 3)

	// Keys() is sorted, so batch composition is identical between a fresh
	// run and one resumed from a checkpoint.
	var pending []*character.Record
	for _, key := range acc.Keys() {
		if !pass3Done[key] {
			pending = append(pending, acc.Get(key))
		}
	}
	batches := chunkRecords(pending, p.cfg.Pass3BatchSize)
	total := len(batches) + countDone(pass3Done, p.cfg.Pass3BatchSize)

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
			analysis, ok := analyses[key]
			if !ok {
				continue
			}
			acc.SetTraitsAndVoice(key, analysis.Traits, analysis.Voice)
			if len(analysis.Relationships) > 0 {
				acc.SetRelationships(key, normalizeRelationships(analysis.Relationships))
			}
			pass3Done[key] = true
		}

		if err := save(3, -1); err != nil {
			return err
		}
		p.publish(events.Event{
			Kind:         events.KindBatchComplete,
			DocumentID:   doc.ID,
			ChapterIndex: chapterIdx,
			BatchIndex:   bi,
			TotalBatches: total,
			Snapshot:     acc.Snapshot(),
		})
		logger.Info("synthesis batch complete", "batch", bi+1, "of", len(batches))
	}
	return nil
}

// persistAll upserts every accumulated record for the chapter.
func (p *Pipeline) persistAll(ctx context.Context, documentID string, acc *character.Accumulator) error {
	for _, key := range acc.Keys() {
		if err := p.store.UpsertEntity(ctx, documentID, acc.Get(key)); err != nil {
			return fmt.Errorf("persist entity %q: %w", key, err)
		}
	}
	return nil
}

// knownNames returns the canonical display names for the Pass-2 prompt.
func knownNames(acc *character.Accumulator) []string {
	keys := acc.Keys()
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, acc.Get(key).CanonicalName)
	}
	return names
}

// passPercent maps progress within one of the three passes onto 0..100.
func passPercent(passIdx, done, total int) int {
	if total == 0 {
		return passIdx * 33
	}
	return passIdx*33 + done*33/total
}

func countDone(done map[string]bool, batchSize int) int {
	if batchSize < 1 {
		batchSize = 1
	}
	return (len(done) + batchSize - 1) / batchSize
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max])
}
