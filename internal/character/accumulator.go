package character

import "sort"

// Accumulator is the per-chapter character registry. It is keyed by the
// canonical lower-cased name and written by a single pipeline goroutine per
// chapter run; it is not safe for concurrent writers.
type Accumulator struct {
	chapter    int
	maxContext int
	records    map[string]*Record
}

// NewAccumulator creates an empty registry for one chapter run.
// maxContext caps the total context characters stored per character.
func NewAccumulator(chapter, maxContext int) *Accumulator {
	return &Accumulator{
		chapter:    chapter,
		maxContext: maxContext,
		records:    make(map[string]*Record),
	}
}

// Restore rebuilds a registry from a checkpoint snapshot. Records are deep
// copied so the checkpoint owner and the live registry never alias.
func Restore(chapter, maxContext int, snapshot map[string]*Record) *Accumulator {
	acc := NewAccumulator(chapter, maxContext)
	for key, rec := range snapshot {
		acc.records[key] = rec.Clone()
	}
	return acc
}

// RegisterOrTouch ensures a record exists for name and returns its key along
// with whether the character was newly discovered. The first spelling seen
// becomes the canonical display name.
func (a *Accumulator) RegisterOrTouch(name string) (key string, created bool) {
	key = Key(name)
	if key == "" {
		return "", false
	}
	if _, ok := a.records[key]; !ok {
		a.records[key] = &Record{
			CanonicalName: name,
			Chapter:       a.chapter,
		}
		created = true
	}
	return key, created
}

// Get returns the record for key, or nil.
func (a *Accumulator) Get(key string) *Record {
	return a.records[key]
}

// Len returns the number of registered characters.
func (a *Accumulator) Len() int { return len(a.records) }

// Keys returns all registry keys in sorted order. Sorted iteration keeps
// Pass-3 batch composition identical between a fresh run and a resumed one.
func (a *Accumulator) Keys() []string {
	keys := make([]string, 0, len(a.records))
	for k := range a.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AppendContext attributes unit text to a character as discovery context.
// Text beyond the per-character cap is truncated; once the cap is reached
// the call is a no-op.
func (a *Accumulator) AppendContext(key, text string) {
	rec, ok := a.records[key]
	if !ok || text == "" {
		return
	}
	if a.maxContext > 0 {
		remaining := a.maxContext - rec.ContextChars
		if remaining <= 0 {
			return
		}
		if len(text) > remaining {
			text = text[:remaining]
		}
	}
	rec.ContextSnippets = append(rec.ContextSnippets, text)
	rec.ContextChars += len(text)
}

// AppendDialogue adds an utterance to a character's ordered dialogue list.
func (a *Accumulator) AppendDialogue(key string, d Dialogue) {
	rec, ok := a.records[key]
	if !ok {
		return
	}
	rec.Dialogues = append(rec.Dialogues, d)
}

// AddKeyMoment records a notable beat for a character.
func (a *Accumulator) AddKeyMoment(key, moment string) {
	rec, ok := a.records[key]
	if !ok || moment == "" {
		return
	}
	rec.KeyMoments = append(rec.KeyMoments, KeyMoment{Chapter: a.chapter, Moment: moment})
}

// SetTraitsAndVoice stores the Pass-3 synthesis output for a character.
func (a *Accumulator) SetTraitsAndVoice(key string, traits []string, profile VoiceProfile) {
	rec, ok := a.records[key]
	if !ok {
		return
	}
	rec.Traits = append([]string(nil), traits...)
	rec.Voice = profile.Clone()
}

// SetRelationships stores relationship types keyed by the other character's
// canonical key.
func (a *Accumulator) SetRelationships(key string, rels map[string]string) {
	rec, ok := a.records[key]
	if !ok || len(rels) == 0 {
		return
	}
	if rec.Relationships == nil {
		rec.Relationships = make(map[string]string, len(rels))
	}
	for other, relType := range rels {
		rec.Relationships[Key(other)] = relType
	}
}

// Snapshot returns an immutable deep copy of the registry for checkpointing.
func (a *Accumulator) Snapshot() map[string]*Record {
	out := make(map[string]*Record, len(a.records))
	for key, rec := range a.records {
		out[key] = rec.Clone()
	}
	return out
}
