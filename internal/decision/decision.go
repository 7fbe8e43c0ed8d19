// Package decision maps a clamped threat score to one of the four gate
// decisions through the policy threshold table. Pure lookup, no state.
package decision

import (
	"github.com/vigil-labs/vigil-gate/internal/config"
)

// Decision is one of the four gate outcomes.
type Decision string

const (
	Allow         Decision = config.DecisionAllow
	SanitizeLight Decision = config.DecisionSanitizeLight
	SanitizeHeavy Decision = config.DecisionSanitizeHeavy
	Block         Decision = config.DecisionBlock
)

// Severity orders decisions for monotonicity checks: ALLOW < SANITIZE_LIGHT
// < SANITIZE_HEAVY < BLOCK.
func (d Decision) Severity() int {
	switch d {
	case Allow:
		return 0
	case SanitizeLight:
		return 1
	case SanitizeHeavy:
		return 2
	case Block:
		return 3
	}
	return -1
}

// Table resolves scores against one validated policy snapshot. Ranges are
// [Min, Max) except the last, which is closed so a score of exactly 100
// resolves to the most severe range.
type Table struct {
	ranges []config.ThresholdRange
}

// NewTable builds a lookup table from validated thresholds.
func NewTable(p *config.Policy) *Table {
	return &Table{ranges: p.Thresholds}
}

// Decide maps a clamped score to a decision. Scores outside [0,100] are
// clamped defensively even though callers already clamp.
func (t *Table) Decide(score float64) Decision {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	for i, r := range t.ranges {
		if score >= r.Min && (score < r.Max || (i == len(t.ranges)-1 && score == r.Max)) {
			return Decision(r.Decision)
		}
	}
	// unreachable for a validated table
	return Block
}
