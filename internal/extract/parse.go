package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrParse means model output could not be recovered into the expected
// structure. Callers treat the unit/batch as an empty result.
var ErrParse = errors.New("unparseable model output")

// Response schemas per pass. Validation catches structurally wrong output
// (e.g. a string where the dialog list should be) before it reaches the
// accumulator; schema failures downgrade to ErrParse, never a crash.
var (
	pass1Schema = jsonschema.MustCompileString("pass1.json", `{
		"type": "object",
		"required": ["characters"],
		"properties": {
			"characters": {"type": "array", "items": {"type": "string"}}
		}
	}`)

	pass2Schema = jsonschema.MustCompileString("pass2.json", `{
		"type": "object",
		"required": ["dialogs"],
		"properties": {
			"dialogs": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["speaker", "text"],
					"properties": {
						"speaker": {"type": "string"},
						"text": {"type": "string"},
						"emotion": {"type": "string"},
						"intensity": {"type": "number"}
					}
				}
			}
		}
	}`)

	pass3Schema = jsonschema.MustCompileString("pass3.json", `{
		"type": "object",
		"required": ["characters"],
		"properties": {
			"characters": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["name"],
					"properties": {
						"name": {"type": "string"},
						"traits": {"type": "array", "items": {"type": "string"}},
						"voice_profile": {"type": "object"},
						"relationships": {"type": "object"}
					}
				}
			}
		}
	}`)
)

// extractJSON recovers the JSON object from raw model output: markdown code
// fences are stripped and, failing a clean parse, the outermost balanced
// object is extracted from surrounding prose.
func extractJSON(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: empty output", ErrParse)
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != content {
		candidates = append(candidates, stripped)
	}
	if outer := outermostObject(content); outer != "" && outer != content {
		candidates = append(candidates, outer)
	}

	for _, candidate := range candidates {
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no valid JSON object found", ErrParse)
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// outermostObject returns the first balanced top-level {...} in s, honoring
// string literals and escapes.
func outermostObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// decodeValidated extracts JSON from content, validates it against schema,
// and unmarshals into out.
func decodeValidated(content string, schema *jsonschema.Schema, out any) error {
	raw, err := extractJSON(content)
	if err != nil {
		return err
	}

	var generic any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	if err := schema.Validate(generic); err != nil {
		return fmt.Errorf("%w: schema validation: %v", ErrParse, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	return nil
}
