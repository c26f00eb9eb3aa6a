// Package segment splits chapter text into bounded units that fit within a
// model context window while preferring natural boundaries.
//
// Units are exact, non-overlapping slices of the input: concatenating them
// reproduces the original text byte for byte. The splitter consumes greedily
// from the front and searches backward from each tentative cut for a
// paragraph break, then a sentence terminator, so unit count stays minimal
// while breaks land on natural boundaries whenever one exists inside the
// lookback window.
package segment

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxUnitChars is the unit size used when the caller passes a
// non-positive maximum.
const DefaultMaxUnitChars = 10000

// lookbackFraction bounds how far back from the tentative cut the splitter
// searches for a boundary (80%-100% of the maximum unit size).
const lookbackFraction = 0.8

// sentence terminators, searched in order of preference after paragraph
// breaks. The two-byte sequences keep the terminator with the earlier unit.
var sentenceBreaks = []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}

// Split divides text into ordered units of at most maxUnitChars characters.
// Text that already fits is returned as a single unit. Empty input yields a
// single empty unit so callers can treat the result as non-empty.
func Split(text string, maxUnitChars int) []string {
	if maxUnitChars <= 0 {
		maxUnitChars = DefaultMaxUnitChars
	}
	if len(text) <= maxUnitChars {
		return []string{text}
	}

	var units []string
	remainder := text
	for len(remainder) > maxUnitChars {
		cut := findCut(remainder, maxUnitChars)
		units = append(units, remainder[:cut])
		remainder = remainder[cut:]
	}
	if len(remainder) > 0 {
		units = append(units, remainder)
	}
	return units
}

// findCut returns the index to cut the next unit at, in (0, max].
func findCut(text string, max int) int {
	window := text[:max]
	floor := int(float64(max) * lookbackFraction)

	// Paragraph break wins. The break stays with the earlier unit so the
	// next unit starts at the first character of the next paragraph.
	if idx := strings.LastIndex(window[floor:], "\n\n"); idx >= 0 {
		return floor + idx + 2
	}

	// Otherwise the latest sentence terminator inside the window.
	best := -1
	for _, term := range sentenceBreaks {
		if idx := strings.LastIndex(window[floor:], term); idx >= 0 && floor+idx > best {
			best = floor + idx
		}
	}
	if best >= 0 {
		return best + 2
	}

	// No boundary in the lookback window: hard cut, backed off so the cut
	// never lands inside a multi-byte rune.
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		return max
	}
	return cut
}
