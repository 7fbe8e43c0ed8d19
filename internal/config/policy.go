package config

import (
	"fmt"
	"regexp"
)

// Decision names used in threshold ranges, ordered by severity.
const (
	DecisionAllow         = "ALLOW"
	DecisionSanitizeLight = "SANITIZE_LIGHT"
	DecisionSanitizeHeavy = "SANITIZE_HEAVY"
	DecisionBlock         = "BLOCK"
)

var decisionSeverity = map[string]int{
	DecisionAllow:         0,
	DecisionSanitizeLight: 1,
	DecisionSanitizeHeavy: 2,
	DecisionBlock:         3,
}

// Policy is one immutable detection rule snapshot. A validated Policy is
// never mutated; reloads build a new one and swap the pointer.
type Policy struct {
	Version      string            `yaml:"version"`
	Categories   []Category        `yaml:"categories"`
	Keywords     []Keyword         `yaml:"keywords"`
	Phrases      []string          `yaml:"phrases"`
	Thresholds   []ThresholdRange  `yaml:"thresholds"`
	Correlations []CorrelationRule `yaml:"correlations"`
	Prefilter    PrefilterPolicy   `yaml:"prefilter"`
	Arbiter      ArbiterPolicy     `yaml:"arbiter"`
	Sanitize     SanitizePolicy    `yaml:"sanitize"`
}

// Category defines one threat category. First pattern match scores
// base_weight * multiplier; further matches saturate toward max_score.
// Severity orders categories for the light-sanitization floor.
type Category struct {
	Name       string   `yaml:"name"`
	BaseWeight float64  `yaml:"base_weight"`
	Multiplier float64  `yaml:"multiplier"`
	MaxScore   float64  `yaml:"max_score"`
	Severity   int      `yaml:"severity"`
	Patterns   []string `yaml:"patterns"`
}

// Keyword binds one literal to a category for the prefilter automaton.
// Literals may be written in any form in the file; the prefilter derives
// the matchable form through the request-time normalizer.
type Keyword struct {
	Literal  string `yaml:"literal"`
	Category string `yaml:"category"`
}

// ThresholdRange maps [Min, Max) to a decision. The last range is closed
// at Max so that a score of exactly 100 resolves.
type ThresholdRange struct {
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
	Decision string  `yaml:"decision"`
}

// CorrelationRule adds Bonus once when every listed category scored nonzero.
type CorrelationRule struct {
	Categories []string `yaml:"categories"`
	Bonus      float64  `yaml:"bonus"`
}

type PrefilterPolicy struct {
	// RouteToACThreshold is the phrase-bonus count at which an otherwise
	// quiet request is still forwarded to the automaton stage.
	RouteToACThreshold int     `yaml:"route_to_ac_threshold"`
	BloomFPRate        float64 `yaml:"bloom_fp_rate"`
}

type ArbiterPolicy struct {
	Branches []BranchPolicy `yaml:"branches"`
	// FailOpen controls what an unavailable classifier branch means:
	// true excludes it and renormalizes weights, false forces BLOCK.
	FailOpen bool `yaml:"fail_open"`
}

type BranchPolicy struct {
	ID     string  `yaml:"id"`
	Weight float64 `yaml:"weight"`
	// OverrideConfidence forces BLOCK when the branch reports confidence
	// at or above this value. Zero disables the override for the branch.
	OverrideConfidence float64 `yaml:"override_confidence"`
}

type SanitizePolicy struct {
	BlockMessage       string `yaml:"block_message"`
	RedactToken        string `yaml:"redact_token"`
	LightSeverityFloor int    `yaml:"light_severity_floor"`
}

// DefaultPolicy returns the built-in rule snapshot. Loaded files overlay
// onto this, so absent keys keep these values.
func DefaultPolicy() *Policy {
	return &Policy{
		Version: "builtin",
		Thresholds: []ThresholdRange{
			{Min: 0, Max: 25, Decision: DecisionAllow},
			{Min: 25, Max: 50, Decision: DecisionSanitizeLight},
			{Min: 50, Max: 75, Decision: DecisionSanitizeHeavy},
			{Min: 75, Max: 100, Decision: DecisionBlock},
		},
		Prefilter: PrefilterPolicy{
			RouteToACThreshold: 2,
			BloomFPRate:        0.01,
		},
		Arbiter: ArbiterPolicy{
			Branches: []BranchPolicy{
				{ID: "heuristic", Weight: 0.5},
				{ID: "similarity", Weight: 0.2},
				{ID: "classifier", Weight: 0.3, OverrideConfidence: 0.9},
			},
			FailOpen: true,
		},
		Sanitize: SanitizePolicy{
			BlockMessage:       "This request was blocked by content safety policy.",
			RedactToken:        "[REDACTED]",
			LightSeverityFloor: 2,
		},
	}
}

// Validate rejects a snapshot that could misroute traffic: duplicate or
// dangling category names, uncompilable patterns, empty keyword literals,
// threshold ranges with gaps or overlaps, correlation rules with fewer than
// two categories. A Policy that fails validation is never activated.
func (p *Policy) Validate() error {
	byName := make(map[string]bool, len(p.Categories))
	for _, c := range p.Categories {
		if c.Name == "" {
			return fmt.Errorf("category with empty name")
		}
		if byName[c.Name] {
			return fmt.Errorf("duplicate category %q", c.Name)
		}
		byName[c.Name] = true
		if c.BaseWeight < 0 || c.Multiplier < 0 {
			return fmt.Errorf("category %q: negative weight or multiplier", c.Name)
		}
		if c.MaxScore != 0 && c.MaxScore < c.BaseWeight*c.Multiplier {
			return fmt.Errorf("category %q: max_score %.1f below base score %.1f",
				c.Name, c.MaxScore, c.BaseWeight*c.Multiplier)
		}
		for _, pat := range c.Patterns {
			if _, err := regexp.Compile(pat); err != nil {
				return fmt.Errorf("category %q: pattern %q: %w", c.Name, pat, err)
			}
		}
	}

	for _, k := range p.Keywords {
		if k.Literal == "" {
			return fmt.Errorf("keyword with empty literal (category %q)", k.Category)
		}
		if !byName[k.Category] {
			return fmt.Errorf("keyword %q references unknown category %q", k.Literal, k.Category)
		}
	}

	if err := p.validateThresholds(); err != nil {
		return err
	}

	for i, r := range p.Correlations {
		if len(r.Categories) < 2 {
			return fmt.Errorf("correlation rule %d: needs at least 2 categories", i)
		}
		for _, name := range r.Categories {
			if !byName[name] {
				return fmt.Errorf("correlation rule %d references unknown category %q", i, name)
			}
		}
	}

	var total float64
	for _, b := range p.Arbiter.Branches {
		if b.Weight < 0 {
			return fmt.Errorf("arbiter branch %q: negative weight", b.ID)
		}
		if b.OverrideConfidence < 0 || b.OverrideConfidence > 1 {
			return fmt.Errorf("arbiter branch %q: override_confidence %.2f outside [0,1]", b.ID, b.OverrideConfidence)
		}
		// The heuristic branch always reports confidence 1.0, so an
		// override threshold on it would force BLOCK on every request.
		if b.ID == "heuristic" && b.OverrideConfidence > 0 {
			return fmt.Errorf("arbiter branch %q: override_confidence not allowed on the heuristic branch", b.ID)
		}
		total += b.Weight
	}
	if len(p.Arbiter.Branches) > 0 && total == 0 {
		return fmt.Errorf("arbiter branch weights sum to zero")
	}

	if p.Sanitize.BlockMessage == "" {
		return fmt.Errorf("sanitize: empty block_message")
	}
	return nil
}

// validateThresholds requires exactly four ranges that tile [0,100] in
// order with no gap or overlap, mapped to decisions of non-decreasing
// severity. Anything else rejects the snapshot.
func (p *Policy) validateThresholds() error {
	if len(p.Thresholds) != 4 {
		return fmt.Errorf("thresholds: want 4 ranges, got %d", len(p.Thresholds))
	}
	prevSeverity := -1
	for i, r := range p.Thresholds {
		sev, ok := decisionSeverity[r.Decision]
		if !ok {
			return fmt.Errorf("thresholds[%d]: unknown decision %q", i, r.Decision)
		}
		if sev < prevSeverity {
			return fmt.Errorf("thresholds[%d]: %s after a more severe decision", i, r.Decision)
		}
		prevSeverity = sev
		if r.Max <= r.Min {
			return fmt.Errorf("thresholds[%d]: empty range [%.1f,%.1f)", i, r.Min, r.Max)
		}
		if i == 0 {
			if r.Min != 0 {
				return fmt.Errorf("thresholds: first range starts at %.1f, want 0", r.Min)
			}
			continue
		}
		prev := p.Thresholds[i-1]
		if r.Min < prev.Max {
			return fmt.Errorf("thresholds[%d]: overlaps previous range at %.1f", i, r.Min)
		}
		if r.Min > prev.Max {
			return fmt.Errorf("thresholds[%d]: gap between %.1f and %.1f", i, prev.Max, r.Min)
		}
	}
	if last := p.Thresholds[3]; last.Max != 100 {
		return fmt.Errorf("thresholds: last range ends at %.1f, want 100", last.Max)
	}
	return nil
}

// CategoryByName returns the category definition, or nil.
func (p *Policy) CategoryByName(name string) *Category {
	for i := range p.Categories {
		if p.Categories[i].Name == name {
			return &p.Categories[i]
		}
	}
	return nil
}
