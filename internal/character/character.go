// Package character defines the entity model produced by chapter analysis:
// per-chapter accumulated records, voice profiles, dialogue, and the
// document-wide merged profile.
package character

import "strings"

// The synthetic speaker used for descriptive prose between dialogue lines.
const NarratorName = "Narrator"

// Key returns the canonical registry key for a character name.
// Identity is case-insensitive: "Harry" and "harry" are the same character.
func Key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// VoiceProfile holds the synthesis parameters assigned to a character.
// Numeric fields are pointers so an absent value is distinguishable from
// zero; cross-chapter merging averages only the values actually present.
type VoiceProfile struct {
	Pitch     *float64 `json:"pitch,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Energy    *float64 `json:"energy,omitempty"`
	Gender    string   `json:"gender,omitempty"`
	Age       string   `json:"age,omitempty"`
	Tone      string   `json:"tone,omitempty"`
	Accent    string   `json:"accent,omitempty"`
	SpeakerID *int     `json:"speaker_id,omitempty"`
}

// Clone returns a deep copy of the profile.
func (v VoiceProfile) Clone() VoiceProfile {
	out := v
	out.Pitch = clonePtr(v.Pitch)
	out.Speed = clonePtr(v.Speed)
	out.Energy = clonePtr(v.Energy)
	out.SpeakerID = clonePtr(v.SpeakerID)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Float returns a pointer to f, for building profiles inline.
func Float(f float64) *float64 { return &f }

// Int returns a pointer to i, for building profiles inline.
func Int(i int) *int { return &i }

// Dialogue is one extracted utterance attributed to a character.
type Dialogue struct {
	UnitIndex int     `json:"unit_index"`
	Text      string  `json:"text"`
	Emotion   string  `json:"emotion"`
	Intensity float64 `json:"intensity"`
}

// KeyMoment records a notable beat for a character within a chapter.
// Moments are deduplicated by (chapter, moment) during merging.
type KeyMoment struct {
	Chapter int    `json:"chapter"`
	Moment  string `json:"moment"`
}

// Record is the accumulated per-chapter state of one character. Records are
// created on first discovery in Pass 1, grown by Passes 2 and 3, and never
// destroyed within a chapter run.
type Record struct {
	CanonicalName   string            `json:"canonical_name"`
	Chapter         int               `json:"chapter"`
	ContextSnippets []string          `json:"context_snippets,omitempty"`
	ContextChars    int               `json:"context_chars"`
	Dialogues       []Dialogue        `json:"dialogues,omitempty"`
	Traits          []string          `json:"traits,omitempty"`
	Voice           VoiceProfile      `json:"voice"`
	KeyMoments      []KeyMoment       `json:"key_moments,omitempty"`
	Relationships   map[string]string `json:"relationships,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	out := *r
	out.ContextSnippets = append([]string(nil), r.ContextSnippets...)
	out.Dialogues = append([]Dialogue(nil), r.Dialogues...)
	out.Traits = append([]string(nil), r.Traits...)
	out.KeyMoments = append([]KeyMoment(nil), r.KeyMoments...)
	out.Voice = r.Voice.Clone()
	if r.Relationships != nil {
		out.Relationships = make(map[string]string, len(r.Relationships))
		for k, v := range r.Relationships {
			out.Relationships[k] = v
		}
	}
	return &out
}

// AggregatedContext joins the stored context snippets for Pass-3 prompting,
// capped at maxChars.
func (r *Record) AggregatedContext(maxChars int) string {
	joined := strings.Join(r.ContextSnippets, "\n---BREAK---\n")
	if maxChars > 0 && len(joined) > maxChars {
		joined = joined[:maxChars]
	}
	return joined
}
