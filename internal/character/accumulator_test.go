package character

import (
	"strings"
	"testing"
)

func TestAccumulator_CaseInsensitiveIdentity(t *testing.T) {
	acc := NewAccumulator(0, 1000)

	key1, created1 := acc.RegisterOrTouch("Harry")
	key2, created2 := acc.RegisterOrTouch("harry")
	key3, created3 := acc.RegisterOrTouch("  HARRY  ")

	if key1 != key2 || key2 != key3 {
		t.Fatalf("keys differ: %q %q %q", key1, key2, key3)
	}
	if !created1 {
		t.Error("first registration should create")
	}
	if created2 || created3 {
		t.Error("later spellings should not create new characters")
	}
	if acc.Len() != 1 {
		t.Errorf("expected 1 character, got %d", acc.Len())
	}
	if got := acc.Get(key1).CanonicalName; got != "Harry" {
		t.Errorf("canonical name should be the first spelling, got %q", got)
	}
}

func TestAccumulator_BlankNameIgnored(t *testing.T) {
	acc := NewAccumulator(0, 1000)
	if key, created := acc.RegisterOrTouch("   "); key != "" || created {
		t.Errorf("blank name should not register, got key=%q created=%v", key, created)
	}
}

func TestAccumulator_ContextCap(t *testing.T) {
	acc := NewAccumulator(0, 100)
	key, _ := acc.RegisterOrTouch("Hermione")

	acc.AppendContext(key, strings.Repeat("a", 60))
	acc.AppendContext(key, strings.Repeat("b", 60)) // truncated to 40
	acc.AppendContext(key, strings.Repeat("c", 60)) // no-op, cap reached

	rec := acc.Get(key)
	if rec.ContextChars != 100 {
		t.Errorf("expected 100 context chars, got %d", rec.ContextChars)
	}
	if len(rec.ContextSnippets) != 2 {
		t.Errorf("expected 2 snippets, got %d", len(rec.ContextSnippets))
	}
	if len(rec.ContextSnippets[1]) != 40 {
		t.Errorf("second snippet should be truncated to 40, got %d", len(rec.ContextSnippets[1]))
	}
}

func TestAccumulator_DialogueOrder(t *testing.T) {
	acc := NewAccumulator(0, 1000)
	key, _ := acc.RegisterOrTouch("Ron")

	acc.AppendDialogue(key, Dialogue{UnitIndex: 0, Text: "first"})
	acc.AppendDialogue(key, Dialogue{UnitIndex: 0, Text: "second"})
	acc.AppendDialogue(key, Dialogue{UnitIndex: 1, Text: "third"})

	rec := acc.Get(key)
	want := []string{"first", "second", "third"}
	for i, d := range rec.Dialogues {
		if d.Text != want[i] {
			t.Errorf("dialogue %d: expected %q, got %q", i, want[i], d.Text)
		}
	}
}

func TestAccumulator_SnapshotIsolation(t *testing.T) {
	acc := NewAccumulator(2, 1000)
	key, _ := acc.RegisterOrTouch("Dumbledore")
	acc.AppendContext(key, "the headmaster spoke")
	acc.SetTraitsAndVoice(key, []string{"wise"}, VoiceProfile{Pitch: Float(0.85), Gender: "male"})

	snap := acc.Snapshot()

	// Mutating the live registry must not leak into the snapshot.
	acc.AppendDialogue(key, Dialogue{Text: "later line"})
	acc.SetTraitsAndVoice(key, []string{"wise", "calm"}, VoiceProfile{Pitch: Float(0.5)})

	rec := snap[key]
	if len(rec.Dialogues) != 0 {
		t.Error("snapshot picked up dialogue added after Snapshot()")
	}
	if len(rec.Traits) != 1 || rec.Traits[0] != "wise" {
		t.Errorf("snapshot traits mutated: %v", rec.Traits)
	}
	if *rec.Voice.Pitch != 0.85 {
		t.Errorf("snapshot voice mutated: pitch=%v", *rec.Voice.Pitch)
	}
	if rec.Chapter != 2 {
		t.Errorf("expected chapter 2, got %d", rec.Chapter)
	}
}

func TestRestore_RoundTrip(t *testing.T) {
	acc := NewAccumulator(1, 1000)
	key, _ := acc.RegisterOrTouch("Hagrid")
	acc.AppendContext(key, "a giant of a man")
	acc.AppendDialogue(key, Dialogue{Text: "Yer a wizard"})

	restored := Restore(1, 1000, acc.Snapshot())
	if restored.Len() != 1 {
		t.Fatalf("expected 1 record after restore, got %d", restored.Len())
	}
	rec := restored.Get(key)
	if rec.ContextChars != len("a giant of a man") {
		t.Errorf("context chars not restored: %d", rec.ContextChars)
	}
	if len(rec.Dialogues) != 1 {
		t.Errorf("dialogues not restored: %d", len(rec.Dialogues))
	}

	// Context cap continues from restored state.
	restored.AppendContext(key, strings.Repeat("z", 2000))
	if got := restored.Get(key).ContextChars; got != 1000 {
		t.Errorf("cap not enforced after restore: %d", got)
	}
}

func TestAccumulator_KeysSorted(t *testing.T) {
	acc := NewAccumulator(0, 1000)
	for _, name := range []string{"Zeta", "alpha", "Mid"} {
		acc.RegisterOrTouch(name)
	}
	keys := acc.Keys()
	want := []string{"alpha", "mid", "zeta"}
	for i, k := range keys {
		if k != want[i] {
			t.Errorf("key %d: expected %q, got %q", i, want[i], k)
		}
	}
}
