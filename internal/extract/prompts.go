package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"voxcast/internal/character"
)

// Generation parameters per pass. Discovery and synthesis run near-greedy;
// utterance extraction gets slightly more room for paraphrase tolerance.
const (
	pass1MaxTokens   = 256
	pass1Temperature = 0.1

	pass2MaxTokens   = 1024
	pass2Temperature = 0.15

	pass3TokensPerEntity = 512
	pass3Temperature     = 0.1
)

// pass1HeadChars truncates discovery prompts to the head of the unit;
// names overwhelmingly appear early and the shorter prompt is much cheaper.
const defaultPass1HeadChars = 5000

const jsonReminder = "Respond with a single valid JSON object and nothing else."

func buildPass1Prompt(unitText string, headChars int) (system, user string) {
	if headChars <= 0 {
		headChars = defaultPass1HeadChars
	}
	if len(unitText) > headChars {
		unitText = unitText[:headChars]
	}

	system = "You are a character name extraction engine. Extract only character names that appear in the provided text."
	user = fmt.Sprintf(`RULES:
- Extract only proper names written in the text (e.g. "Harry Potter", "Hermione", "Mr. Dursley")
- No pronouns, no generic descriptions (the boy, the woman), no group references
- No titles alone (Professor, Sir) unless the title is used as the character's name
- Do not split full names: if "Harry Potter" appears, do not also list "Potter"
- Include a name only if the character speaks, acts, or is directly described here

OUTPUT FORMAT:
{"characters": ["Name1", "Name2"]}

TEXT:
%s

%s`, unitText, jsonReminder)
	return system, user
}

func buildPass2Prompt(unitText string, known []string) (system, user string) {
	names := make([]string, 0, len(known)+1)
	names = append(names, known...)
	names = append(names, character.NarratorName)
	namesJSON, _ := json.Marshal(names)

	system = "You are a dialog extraction engine. Extract quoted speech and attribute it to the correct speaker. Output valid JSON only."
	user = fmt.Sprintf(`KNOWN CHARACTERS: %s

RULES:
1. Extract text inside quotation marks and attribute it to the nearest character
   name appearing before or after the quote (within ~200 characters). Use
   attribution verbs: said, asked, replied, whispered, shouted, muttered.
2. Attribute descriptive prose between dialogs to "Narrator", in segments of
   one to three sentences.
3. For each segment infer an emotion (neutral, happy, sad, angry, surprised,
   fearful, excited, worried, curious, defiant) and an intensity from 0.0 to 1.0.
4. Preserve the order of appearance. Use "Unknown" when the speaker cannot be
   determined.

OUTPUT FORMAT:
{"dialogs": [{"speaker": "Name", "text": "...", "emotion": "neutral", "intensity": 0.5}]}

TEXT:
%s

%s`, namesJSON, unitText, jsonReminder)
	return system, user
}

func buildPass3Prompt(batch []*character.Record, maxContext int) (system, user string) {
	// maxContext caps each character's context individually, not the batch.
	var sb strings.Builder
	for i, rec := range batch {
		fmt.Fprintf(&sb, "CHARACTER %d: %q\nCONTEXT:\n%s\n\n",
			i+1, rec.CanonicalName, rec.AggregatedContext(maxContext))
	}

	system = "You are a character analyst for TTS voice casting. Extract observable traits and suggest a voice profile for each character. JSON only."
	user = fmt.Sprintf(`%sFOR EACH CHARACTER EXTRACT:
- "traits": three to five concise traits of one or two words each
  (e.g. "gravelly voice", "dry humor", "nervous", "slow pacing")
- "voice_profile": pitch/speed/energy as numbers near 1.0, gender
  (male|female), age (child|young|middle-aged|elderly), tone (brief),
  accent (optional), speaker_id (integer 0-108)
- "relationships": map of other character name to one of
  family|friend|enemy|romantic|mentor|colleague|other, when evident

TRAIT TO VOICE HINTS:
- gravelly/deep/commanding: pitch 0.8-0.9
- bright/light/young: pitch 1.1-1.2
- nervous/anxious/frantic: speed 1.1-1.2, energy 0.8
- calm/measured/authoritative: speed 0.9, energy 0.6

SPEAKER_ID RANGES: female young 10-30, female adult 31-50,
male young 51-70, male adult 71-90, elderly or character voices 91-108.

OUTPUT FORMAT:
{"characters": [{"name": "...", "traits": ["..."], "voice_profile": {"pitch": 1.0, "speed": 1.0, "energy": 0.7, "gender": "male", "age": "young", "tone": "...", "accent": "", "speaker_id": 45}, "relationships": {"Other Name": "friend"}}]}

%s`, sb.String(), jsonReminder)
	return system, user
}

// clamp01 bounds an intensity into [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
