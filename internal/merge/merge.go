// Package merge combines per-chapter character records into document-wide
// profiles and flags inconsistencies across chapters.
//
// The merge is a pure function of the input set: traits and key moments are
// deduplicated unions, numeric voice parameters are arithmetic means of the
// values present, and relationship types keep the most specific value seen.
// Results are canonicalized (sorted) so the outcome is independent of
// chapter order, making the merge associative and commutative.
package merge

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"voxcast/internal/character"
)

// Profile is the merged document-wide view of one character. Profiles are
// derived values: they are recomputed from chapter records, never mutated.
type Profile struct {
	Name          string                 `json:"name"`
	Traits        []string               `json:"traits,omitempty"`
	Voice         character.VoiceProfile `json:"voice"`
	Dialogues     int                    `json:"dialogues"`
	Chapters      []int                  `json:"chapters"`
	KeyMoments    []character.KeyMoment  `json:"key_moments,omitempty"`
	Relationships map[string]string      `json:"relationships,omitempty"`
	Flags         []Inconsistency        `json:"flags,omitempty"`
}

// InconsistencyKind classifies a cross-chapter consistency failure.
type InconsistencyKind string

const (
	// KindGender means both male and female indicators were observed.
	KindGender InconsistencyKind = "gender"
	// KindVoiceVariance means a numeric voice parameter drifts across
	// chapters beyond the tolerated deviation.
	KindVoiceVariance InconsistencyKind = "voice-profile-variance"
)

// Inconsistency is a diagnostic attached to a merged profile.
type Inconsistency struct {
	EntityName  string            `json:"entity_name"`
	Kind        InconsistencyKind `json:"kind"`
	Description string            `json:"description"`
	Severity    float64           `json:"severity"`
}

// RelationOther is the least specific relationship type; any other type
// observed for the same pair replaces it.
const RelationOther = "other"

// varianceThreshold is the tolerated standard deviation of a numeric voice
// parameter across chapters before a flag is raised.
const varianceThreshold = 0.3

// genderFlagSeverity is the fixed severity of a gender conflict.
const genderFlagSeverity = 0.9

var maleIndicators = map[string]bool{
	"male": true, "man": true, "boy": true, "gentleman": true,
	"mr": true, "mr.": true, "sir": true, "lord": true, "king": true,
	"father": true, "husband": true, "brother": true,
}

var femaleIndicators = map[string]bool{
	"female": true, "woman": true, "girl": true, "lady": true,
	"mrs": true, "mrs.": true, "ms": true, "ms.": true, "miss": true,
	"madam": true, "queen": true, "mother": true, "wife": true, "sister": true,
}

// Document merges all per-chapter records of a document, grouped by
// canonical case-insensitive name, and returns profiles sorted by name.
func Document(records []*character.Record) []*Profile {
	groups := make(map[string][]*character.Record)
	for _, rec := range records {
		if rec == nil {
			continue
		}
		key := character.Key(rec.CanonicalName)
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], rec)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*Profile, 0, len(keys))
	for _, k := range keys {
		out = append(out, mergeGroup(groups[k]))
	}
	return out
}

// mergeGroup merges the chapter records of a single character.
func mergeGroup(records []*character.Record) *Profile {
	p := &Profile{
		Name:          pickName(records),
		Relationships: make(map[string]string),
	}

	traitSet := make(map[string]bool)
	momentSet := make(map[string]character.KeyMoment)
	chapterSet := make(map[int]bool)
	var pitches, speeds, energies []float64

	for _, rec := range records {
		chapterSet[rec.Chapter] = true
		p.Dialogues += len(rec.Dialogues)

		for _, trait := range rec.Traits {
			trait = strings.TrimSpace(trait)
			if trait != "" {
				traitSet[trait] = true
			}
		}
		for _, m := range rec.KeyMoments {
			momentSet[fmt.Sprintf("%d\x00%s", m.Chapter, m.Moment)] = m
		}
		for other, relType := range rec.Relationships {
			p.Relationships[other] = moreSpecific(p.Relationships[other], relType)
		}

		if rec.Voice.Pitch != nil {
			pitches = append(pitches, *rec.Voice.Pitch)
		}
		if rec.Voice.Speed != nil {
			speeds = append(speeds, *rec.Voice.Speed)
		}
		if rec.Voice.Energy != nil {
			energies = append(energies, *rec.Voice.Energy)
		}
	}

	p.Traits = sortedKeys(traitSet)
	p.Chapters = sortedInts(chapterSet)
	p.KeyMoments = sortedMoments(momentSet)
	if len(p.Relationships) == 0 {
		p.Relationships = nil
	}

	p.Voice = mergeVoice(records, pitches, speeds, energies)
	p.Flags = checkConsistency(p.Name, records, pitches, speeds, energies)

	return p
}

// pickName chooses the display name deterministically: the lexicographically
// smallest canonical spelling, so chapter order cannot change the result.
func pickName(records []*character.Record) string {
	name := ""
	for _, rec := range records {
		if name == "" || rec.CanonicalName < name {
			name = rec.CanonicalName
		}
	}
	return name
}

// moreSpecific keeps the more specific of two relationship types. "other"
// loses to anything; between two specific types the lexicographically
// smaller wins so the choice is order-independent.
func moreSpecific(current, candidate string) string {
	candidate = strings.TrimSpace(strings.ToLower(candidate))
	if candidate == "" {
		return current
	}
	if current == "" {
		return candidate
	}
	if current == RelationOther {
		return candidate
	}
	if candidate == RelationOther {
		return current
	}
	if candidate < current {
		return candidate
	}
	return current
}

// mergeVoice averages numeric fields over the values present and takes
// majority (ties broken lexicographically) for categorical fields.
func mergeVoice(records []*character.Record, pitches, speeds, energies []float64) character.VoiceProfile {
	var v character.VoiceProfile
	if len(pitches) > 0 {
		v.Pitch = character.Float(mean(pitches))
	}
	if len(speeds) > 0 {
		v.Speed = character.Float(mean(speeds))
	}
	if len(energies) > 0 {
		v.Energy = character.Float(mean(energies))
	}

	v.Gender = majorityString(records, func(r *character.Record) string { return r.Voice.Gender })
	v.Age = majorityString(records, func(r *character.Record) string { return r.Voice.Age })
	v.Tone = majorityString(records, func(r *character.Record) string { return r.Voice.Tone })
	v.Accent = majorityString(records, func(r *character.Record) string { return r.Voice.Accent })

	var ids []float64
	for _, rec := range records {
		if rec.Voice.SpeakerID != nil {
			ids = append(ids, float64(*rec.Voice.SpeakerID))
		}
	}
	if len(ids) > 0 {
		v.SpeakerID = character.Int(int(mean(ids) + 0.5))
	}
	return v
}

func majorityString(records []*character.Record, get func(*character.Record) string) string {
	counts := make(map[string]int)
	for _, rec := range records {
		if s := strings.TrimSpace(strings.ToLower(get(rec))); s != "" {
			counts[s]++
		}
	}
	best, bestCount := "", 0
	for s, n := range counts {
		if n > bestCount || (n == bestCount && s < best) {
			best, bestCount = s, n
		}
	}
	return best
}

// checkConsistency runs the cross-chapter checks and returns diagnostics.
func checkConsistency(name string, records []*character.Record, pitches, speeds, energies []float64) []Inconsistency {
	var flags []Inconsistency

	for _, field := range []struct {
		label  string
		values []float64
	}{
		{"pitch", pitches},
		{"speed", speeds},
		{"energy", energies},
	} {
		sd := stdDev(field.values)
		if sd > varianceThreshold {
			flags = append(flags, Inconsistency{
				EntityName: name,
				Kind:       KindVoiceVariance,
				Description: fmt.Sprintf("%s varies across chapters (stddev %.2f over %d chapters)",
					field.label, sd, len(field.values)),
				Severity: clamp(sd/0.5, 0.3, 1.0),
			})
		}
	}

	male, female := false, false
	for _, rec := range records {
		switch strings.ToLower(rec.Voice.Gender) {
		case "male":
			male = true
		case "female":
			female = true
		}
		for _, trait := range rec.Traits {
			for _, word := range strings.Fields(strings.ToLower(trait)) {
				if maleIndicators[word] {
					male = true
				}
				if femaleIndicators[word] {
					female = true
				}
			}
		}
	}
	if male && female {
		flags = append(flags, Inconsistency{
			EntityName:  name,
			Kind:        KindGender,
			Description: "both male and female indicators observed across chapters",
			Severity:    genderFlagSeverity,
		})
	}

	return flags
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the population standard deviation; fewer than two samples have
// no spread.
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedInts(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func sortedMoments(set map[string]character.KeyMoment) []character.KeyMoment {
	if len(set) == 0 {
		return nil
	}
	out := make([]character.KeyMoment, 0, len(set))
	for _, m := range set {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Chapter != out[j].Chapter {
			return out[i].Chapter < out[j].Chapter
		}
		return out[i].Moment < out[j].Moment
	})
	return out
}
