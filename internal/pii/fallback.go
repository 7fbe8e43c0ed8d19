package pii

import "regexp"

// Local regex fallback. Runs synchronously with no external dependency, so
// PII detection degrades rather than disappears when every recognizer is
// down. Candidates here carry deliberately modest scores; checksum
// validation raises the structured ones that survive.

type fallbackPattern struct {
	entityType string
	re         *regexp.Regexp
	score      float64
}

var fallbackPatterns = []fallbackPattern{
	{TypePESEL, regexp.MustCompile(`\b\d{11}\b`), 0.5},
	{TypeNIP, regexp.MustCompile(`\b\d{3}[- ]?\d{3}[- ]?\d{2}[- ]?\d{2}\b`), 0.4},
	{TypeREGON, regexp.MustCompile(`\b\d{9}\b|\b\d{14}\b`), 0.4},
	{TypeCreditCard, regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`), 0.5},
	{TypeEmail, regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`), 0.85},
	{TypePhone, regexp.MustCompile(`\+\d{1,3}[ -]?\d{2,3}[ -]?\d{3}[ -]?\d{3,4}\b`), 0.6},
}

// scanFallback returns raw candidates; checksum validation and merging
// happen later alongside the recognizer results.
func scanFallback(text string) []Entity {
	var out []Entity
	for _, fp := range fallbackPatterns {
		for _, loc := range fp.re.FindAllStringIndex(text, -1) {
			out = append(out, Entity{
				Type:   fp.entityType,
				Start:  loc[0],
				End:    loc[1],
				Score:  fp.score,
				Source: SourceRegex,
			})
		}
	}
	return out
}
