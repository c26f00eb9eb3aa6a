package extract

import (
	"context"
	"strings"
	"testing"

	"voxcast/internal/character"
	"voxcast/internal/inference"
)

func newTestExtractor(engine inference.Engine) *Extractor {
	return New(engine, Options{MaxContextPerEntity: 10000}, nil)
}

func TestDiscoverNames_Dedupes(t *testing.T) {
	engine := inference.NewMockEngine()
	engine.ResponseText = `{"characters": ["Harry", "harry", "  ", "Hermione", "HARRY"]}`

	names, err := newTestExtractor(engine).DiscoverNames(context.Background(), "some text")
	if err != nil {
		t.Fatalf("DiscoverNames: %v", err)
	}
	want := []string{"Harry", "Hermione"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("name %d: expected %q, got %q", i, want[i], names[i])
		}
	}
}

func TestDiscoverNames_RecoversFencedJSON(t *testing.T) {
	engine := inference.NewMockEngine()
	engine.ResponseText = "Here are the characters:\n```json\n{\"characters\": [\"Ron\"]}\n```\nDone."

	names, err := newTestExtractor(engine).DiscoverNames(context.Background(), "text")
	if err != nil {
		t.Fatalf("DiscoverNames: %v", err)
	}
	if len(names) != 1 || names[0] != "Ron" {
		t.Errorf("expected [Ron], got %v", names)
	}
}

func TestDiscoverNames_MalformedOutput(t *testing.T) {
	engine := inference.NewMockEngine()
	engine.ResponseText = "I could not find any characters, sorry!"

	_, err := newTestExtractor(engine).DiscoverNames(context.Background(), "text")
	if err == nil {
		t.Fatal("expected parse error for prose output")
	}
}

func TestExtractUtterances_Defaults(t *testing.T) {
	engine := inference.NewMockEngine()
	engine.ResponseText = `{"dialogs": [
		{"speaker": "Harry", "text": "Hello"},
		{"speaker": "Narrator", "text": "The room fell silent.", "emotion": "", "intensity": 3.5},
		{"speaker": "Ron", "text": "", "emotion": "angry"},
		{"speaker": "Hermione", "text": "Careful!", "emotion": "worried", "intensity": -1}
	]}`

	utterances, err := newTestExtractor(engine).ExtractUtterances(context.Background(), "text", []string{"Harry"})
	if err != nil {
		t.Fatalf("ExtractUtterances: %v", err)
	}
	if len(utterances) != 3 {
		t.Fatalf("empty-text tuple should be dropped: got %d utterances", len(utterances))
	}
	if utterances[0].Emotion != "neutral" || utterances[0].Intensity != 0.5 {
		t.Errorf("missing emotion/intensity should default: %+v", utterances[0])
	}
	if utterances[1].Intensity != 1.0 {
		t.Errorf("intensity should clamp to 1.0, got %v", utterances[1].Intensity)
	}
	if utterances[2].Intensity != 0.0 {
		t.Errorf("intensity should clamp to 0.0, got %v", utterances[2].Intensity)
	}
}

func TestSynthesizeBatch_ParsesProfiles(t *testing.T) {
	engine := inference.NewMockEngine()
	engine.ResponseText = `{"characters": [{
		"name": "Hagrid",
		"traits": ["gruff", "warm"],
		"voice_profile": {"pitch": 0.8, "speed": 0.9, "energy": 0.7, "gender": "Male", "age": "middle-aged", "tone": "booming", "speaker_id": 77},
		"relationships": {"Harry": "friend"}
	}]}`

	batch := []*character.Record{{CanonicalName: "Hagrid"}}
	out := newTestExtractor(engine).SynthesizeBatch(context.Background(), batch)

	analysis, ok := out["hagrid"]
	if !ok {
		t.Fatal("expected analysis keyed by canonical key")
	}
	if len(analysis.Traits) != 2 {
		t.Errorf("traits: %v", analysis.Traits)
	}
	if analysis.Voice.Gender != "male" {
		t.Errorf("gender should be normalized lowercase, got %q", analysis.Voice.Gender)
	}
	if analysis.Voice.Pitch == nil || *analysis.Voice.Pitch != 0.8 {
		t.Errorf("pitch: %v", analysis.Voice.Pitch)
	}
	if analysis.Relationships["Harry"] != "friend" {
		t.Errorf("relationships: %v", analysis.Relationships)
	}
}

func TestSynthesizeBatch_FallbackOnFailure(t *testing.T) {
	engine := inference.NewMockEngine()
	engine.ShouldFail = true

	batch := []*character.Record{
		{CanonicalName: "Mr. Dursley"},
		{CanonicalName: "Mrs. Weasley"},
	}
	out := newTestExtractor(engine).SynthesizeBatch(context.Background(), batch)

	if len(out) != 2 {
		t.Fatalf("every batch member must get a fallback, got %d", len(out))
	}
	if out["mr. dursley"].Voice.Gender != "male" {
		t.Errorf("title heuristic should infer male for Mr., got %q", out["mr. dursley"].Voice.Gender)
	}
	if out["mrs. weasley"].Voice.Gender != "female" {
		t.Errorf("title heuristic should infer female for Mrs., got %q", out["mrs. weasley"].Voice.Gender)
	}
	for key, a := range out {
		if len(a.Traits) == 0 {
			t.Errorf("%s: fallback must not leave traits empty", key)
		}
		if a.Voice.SpeakerID == nil {
			t.Errorf("%s: fallback must assign a speaker id", key)
		}
	}
}

func TestSynthesizeBatch_FallbackForSkippedCharacter(t *testing.T) {
	engine := inference.NewMockEngine()
	// The model only answered for one of two requested characters.
	engine.ResponseText = `{"characters": [{"name": "Harry", "traits": ["brave"], "voice_profile": {"pitch": 1.0}}]}`

	batch := []*character.Record{
		{CanonicalName: "Harry"},
		{CanonicalName: "Professor Snape"},
	}
	out := newTestExtractor(engine).SynthesizeBatch(context.Background(), batch)

	if out["harry"].Traits[0] != "brave" {
		t.Errorf("model answer should win for Harry: %v", out["harry"].Traits)
	}
	snape := out["professor snape"]
	if len(snape.Traits) == 0 {
		t.Fatal("skipped character must get a fallback")
	}
	if snape.Traits[0] != "scholarly" {
		t.Errorf("role table should map professor to scholarly, got %v", snape.Traits)
	}
}

func TestBuildPass3Prompt_FullContextPerCharacter(t *testing.T) {
	// Each character gets the full context budget regardless of batch size.
	snippets := []string{
		strings.Repeat("Alice walked the long road north. ", 12),
		strings.Repeat("Bob sharpened the axe by the fire. ", 12),
		strings.Repeat("Clara read late into the night. ", 12),
		strings.Repeat("Dunn said nothing and watched. ", 12),
	}
	batch := make([]*character.Record, len(snippets))
	for i, s := range snippets {
		batch[i] = &character.Record{
			CanonicalName:   string(rune('A' + i)),
			ContextSnippets: []string{s},
		}
	}

	// 500 covers each snippet alone but not a quarter of it.
	_, user := buildPass3Prompt(batch, 500)
	for i, s := range snippets {
		if !strings.Contains(user, s) {
			t.Errorf("character %d context truncated in batched prompt", i)
		}
	}
}

func TestHeuristicAnalysis_Deterministic(t *testing.T) {
	a := HeuristicAnalysis("Captain Hook")
	b := HeuristicAnalysis("Captain Hook")
	if *a.Voice.SpeakerID != *b.Voice.SpeakerID {
		t.Error("speaker id must be deterministic for a given name")
	}
	if a.Traits[0] != "commanding" {
		t.Errorf("captain should map to commanding, got %v", a.Traits)
	}
}
