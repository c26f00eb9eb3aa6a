package extract

import (
	"hash/fnv"
	"strings"

	"voxcast/internal/character"
)

// Name-heuristic fallback applied when Pass 3 returns no traits for a
// character or an entire batch fails. The result is a deterministic
// function of the name alone, so resumed and fresh runs agree.

var maleTitles = map[string]bool{
	"mr": true, "mr.": true, "sir": true, "lord": true, "king": true,
	"prince": true, "duke": true, "count": true, "baron": true,
	"father": true, "brother": true, "uncle": true, "master": true,
}

var femaleTitles = map[string]bool{
	"mrs": true, "mrs.": true, "ms": true, "ms.": true, "miss": true,
	"lady": true, "queen": true, "princess": true, "duchess": true,
	"madam": true, "madame": true, "mother": true, "sister": true, "aunt": true,
}

// roleTraits maps leading title/role words to a representative trait.
var roleTraits = map[string]string{
	"professor": "scholarly",
	"doctor":    "precise",
	"dr":        "precise",
	"dr.":       "precise",
	"captain":   "commanding",
	"general":   "commanding",
	"sergeant":  "gruff",
	"king":      "authoritative",
	"queen":     "authoritative",
	"lord":      "formal",
	"lady":      "formal",
	"father":    "gentle",
	"mother":    "gentle",
	"nurse":     "caring",
	"judge":     "stern",
}

// speaker id ranges follow the VCTK layout used by the synthesis side.
const (
	femaleSpeakerBase, femaleSpeakerSpan   = 10, 41 // 10-50
	maleSpeakerBase, maleSpeakerSpan       = 51, 40 // 51-90
	neutralSpeakerBase, neutralSpeakerSpan = 91, 18 // 91-108
)

// HeuristicAnalysis derives traits and a voice profile from a character's
// name when the model gave nothing usable.
func HeuristicAnalysis(name string) Analysis {
	words := strings.Fields(strings.ToLower(name))

	gender := ""
	trait := ""
	for _, w := range words {
		if maleTitles[w] && gender == "" {
			gender = "male"
		}
		if femaleTitles[w] && gender == "" {
			gender = "female"
		}
		if t, ok := roleTraits[w]; ok && trait == "" {
			trait = t
		}
	}

	traits := []string{"steady"}
	if trait != "" {
		traits = []string{trait, "steady"}
	}

	pitch := 1.0
	switch gender {
	case "male":
		pitch = 0.9
	case "female":
		pitch = 1.1
	}

	return Analysis{
		Traits: traits,
		Voice: character.VoiceProfile{
			Pitch:     character.Float(pitch),
			Speed:     character.Float(1.0),
			Energy:    character.Float(0.7),
			Gender:    gender,
			Tone:      "neutral",
			SpeakerID: character.Int(speakerIDFor(name, gender)),
		},
	}
}

// NarratorAnalysis is the fixed profile for the synthetic narrator.
func NarratorAnalysis() Analysis {
	return Analysis{
		Traits: []string{"measured", "clear"},
		Voice: character.VoiceProfile{
			Pitch:     character.Float(1.0),
			Speed:     character.Float(0.95),
			Energy:    character.Float(0.6),
			Age:       "middle-aged",
			Tone:      "even narration",
			SpeakerID: character.Int(neutralSpeakerBase),
		},
	}
}

// speakerIDFor maps a name into the speaker range for its inferred gender.
func speakerIDFor(name, gender string) int {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(name))))
	n := int(h.Sum32())
	if n < 0 {
		n = -n
	}
	switch gender {
	case "female":
		return femaleSpeakerBase + n%femaleSpeakerSpan
	case "male":
		return maleSpeakerBase + n%maleSpeakerSpan
	default:
		return neutralSpeakerBase + n%neutralSpeakerSpan
	}
}
