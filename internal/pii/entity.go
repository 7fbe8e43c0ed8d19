// Package pii reconciles entity candidates from parallel language-specific
// recognizer services and a local regex fallback into one sorted,
// non-overlapping, confidence-ranked list. Structured identifiers are
// checksum-validated; a failing checksum removes the candidate outright.
package pii

import "sort"

// Entity types. The recognizer services use the same names.
const (
	TypePESEL      = "PESEL"
	TypeNIP        = "NIP"
	TypeREGON      = "REGON"
	TypeCreditCard = "CREDIT_CARD"
	TypeEmail      = "EMAIL_ADDRESS"
	TypePhone      = "PHONE_NUMBER"
	TypePerson     = "PERSON"
)

// SourceRegex marks entities found by the local fallback scanner.
const SourceRegex = "regex"

// Entity is one PII candidate. Start and End are byte offsets into the
// text that was scanned.
type Entity struct {
	Type   string  `json:"type"`
	Start  int     `json:"start"`
	End    int     `json:"end"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

func (e Entity) overlaps(o Entity) bool {
	return e.Start < o.End && o.Start < e.End
}

// Merge sorts candidates by start and sweeps left to right; of two
// overlapping entities the higher-score one survives. The result is sorted
// by start and pairwise non-overlapping.
func Merge(candidates []Entity) []Entity {
	if len(candidates) == 0 {
		return nil
	}
	sorted := make([]Entity, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].Score > sorted[j].Score
	})

	out := sorted[:1]
	for _, e := range sorted[1:] {
		top := &out[len(out)-1]
		if !e.overlaps(*top) {
			out = append(out, e)
			continue
		}
		if e.Score > top.Score {
			// e starts at or after top, so replacing top cannot
			// reintroduce an overlap with anything before it
			*top = e
		}
	}
	return out
}
