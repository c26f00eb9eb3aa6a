// Package extract implements the three-pass extraction protocol: entity
// discovery, utterance extraction, and trait/voice synthesis. Each call
// covers one unit (Passes 1 and 2) or one batch of characters (Pass 3);
// the pipeline owns iteration, accumulation, and checkpointing.
package extract

import (
	"context"
	"log/slog"
	"strings"

	"voxcast/internal/character"
	"voxcast/internal/inference"
)

// Batch size bounds for Pass 3. Batching amortizes prompt overhead; more
// than four characters per call degrades output quality on small models.
const (
	MinBatchSize = 1
	MaxBatchSize = 4
)

// Options tunes the extractor.
type Options struct {
	// Pass1HeadChars truncates discovery prompts; 0 uses the default.
	Pass1HeadChars int
	// MaxContextPerEntity caps the aggregated Pass-3 context.
	MaxContextPerEntity int
}

// Extractor issues the per-pass inference calls and parses their output.
type Extractor struct {
	engine inference.Engine
	opts   Options
	logger *slog.Logger
}

// New creates an extractor. The engine is expected to already be gated.
func New(engine inference.Engine, opts Options, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		engine: engine,
		opts:   opts,
		logger: logger.With("component", "extract"),
	}
}

// Utterance is one Pass-2 tuple before attribution.
type Utterance struct {
	Speaker   string
	Text      string
	Emotion   string
	Intensity float64
}

// Analysis is the Pass-3 output for one character.
type Analysis struct {
	Traits        []string
	Voice         character.VoiceProfile
	Relationships map[string]string
}

type pass1Response struct {
	Characters []string `json:"characters"`
}

type pass2Response struct {
	Dialogs []struct {
		Speaker   string   `json:"speaker"`
		Text      string   `json:"text"`
		Emotion   string   `json:"emotion"`
		Intensity *float64 `json:"intensity"`
	} `json:"dialogs"`
}

type pass3Response struct {
	Characters []struct {
		Name         string   `json:"name"`
		Traits       []string `json:"traits"`
		VoiceProfile struct {
			Pitch     *float64 `json:"pitch"`
			Speed     *float64 `json:"speed"`
			Energy    *float64 `json:"energy"`
			Gender    string   `json:"gender"`
			Age       string   `json:"age"`
			Tone      string   `json:"tone"`
			Accent    string   `json:"accent"`
			SpeakerID *int     `json:"speaker_id"`
		} `json:"voice_profile"`
		Relationships map[string]string `json:"relationships"`
	} `json:"characters"`
}

// DiscoverNames runs Pass 1 on one unit and returns normalized,
// case-insensitively deduplicated character names in model order.
func (e *Extractor) DiscoverNames(ctx context.Context, unitText string) ([]string, error) {
	system, user := buildPass1Prompt(unitText, e.opts.Pass1HeadChars)
	result, err := e.engine.Generate(ctx, &inference.Request{
		System:      system,
		User:        user,
		MaxTokens:   pass1MaxTokens,
		Temperature: pass1Temperature,
	})
	if err != nil {
		return nil, err
	}

	var resp pass1Response
	if err := decodeValidated(result.Text, pass1Schema, &resp); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	names := make([]string, 0, len(resp.Characters))
	for _, name := range resp.Characters {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		key := character.Key(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, name)
	}
	return names, nil
}

// ExtractUtterances runs Pass 2 on one unit. The returned tuples keep the
// model's order; speaker resolution against the registry happens in the
// pipeline. Emotion defaults to neutral, intensity to 0.5 clamped to [0,1].
func (e *Extractor) ExtractUtterances(ctx context.Context, unitText string, known []string) ([]Utterance, error) {
	system, user := buildPass2Prompt(unitText, known)
	result, err := e.engine.Generate(ctx, &inference.Request{
		System:      system,
		User:        user,
		MaxTokens:   pass2MaxTokens,
		Temperature: pass2Temperature,
	})
	if err != nil {
		return nil, err
	}

	var resp pass2Response
	if err := decodeValidated(result.Text, pass2Schema, &resp); err != nil {
		return nil, err
	}

	utterances := make([]Utterance, 0, len(resp.Dialogs))
	for _, d := range resp.Dialogs {
		text := strings.TrimSpace(d.Text)
		if text == "" {
			continue
		}
		emotion := strings.TrimSpace(strings.ToLower(d.Emotion))
		if emotion == "" {
			emotion = "neutral"
		}
		intensity := 0.5
		if d.Intensity != nil {
			intensity = clamp01(*d.Intensity)
		}
		utterances = append(utterances, Utterance{
			Speaker:   strings.TrimSpace(d.Speaker),
			Text:      text,
			Emotion:   emotion,
			Intensity: intensity,
		})
	}
	return utterances, nil
}

// SynthesizeBatch runs Pass 3 on a batch of characters and returns analyses
// keyed by canonical character key. Characters the model skipped, and the
// whole batch on call or parse failure, get the name-heuristic fallback so
// no character is ever left without a voice.
func (e *Extractor) SynthesizeBatch(ctx context.Context, batch []*character.Record) map[string]Analysis {
	out := make(map[string]Analysis, len(batch))

	system, user := buildPass3Prompt(batch, e.opts.MaxContextPerEntity)
	result, err := e.engine.Generate(ctx, &inference.Request{
		System:      system,
		User:        user,
		MaxTokens:   pass3TokensPerEntity * len(batch),
		Temperature: pass3Temperature,
	})

	var resp pass3Response
	if err == nil {
		err = decodeValidated(result.Text, pass3Schema, &resp)
	}
	if err != nil {
		e.logger.Warn("pass 3 batch failed, applying heuristic fallback",
			"batch_size", len(batch), "error", err)
		for _, rec := range batch {
			out[character.Key(rec.CanonicalName)] = e.fallbackFor(rec.CanonicalName)
		}
		return out
	}

	byKey := make(map[string]Analysis, len(resp.Characters))
	for _, c := range resp.Characters {
		traits := make([]string, 0, len(c.Traits))
		for _, t := range c.Traits {
			if t = strings.TrimSpace(t); t != "" {
				traits = append(traits, t)
			}
		}
		vp := c.VoiceProfile
		byKey[character.Key(c.Name)] = Analysis{
			Traits: traits,
			Voice: character.VoiceProfile{
				Pitch:     vp.Pitch,
				Speed:     vp.Speed,
				Energy:    vp.Energy,
				Gender:    strings.ToLower(strings.TrimSpace(vp.Gender)),
				Age:       strings.ToLower(strings.TrimSpace(vp.Age)),
				Tone:      strings.TrimSpace(vp.Tone),
				Accent:    strings.TrimSpace(vp.Accent),
				SpeakerID: vp.SpeakerID,
			},
			Relationships: c.Relationships,
		}
	}

	for _, rec := range batch {
		key := character.Key(rec.CanonicalName)
		analysis, ok := byKey[key]
		if !ok || len(analysis.Traits) == 0 {
			e.logger.Debug("no traits returned, applying heuristic fallback",
				"character", rec.CanonicalName)
			analysis = e.fallbackFor(rec.CanonicalName)
		}
		out[key] = analysis
	}
	return out
}

func (e *Extractor) fallbackFor(name string) Analysis {
	if character.Key(name) == character.Key(character.NarratorName) {
		return NarratorAnalysis()
	}
	return HeuristicAnalysis(name)
}
