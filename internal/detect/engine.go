// Package detect scores normalized text against the candidate categories
// the prefilter selected, then applies correlation bonuses for category
// combinations that co-occur.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/vigil-labs/vigil-gate/internal/config"
)

// Span marks one matched region of the normalized text.
type Span struct {
	Category string `json:"category"`
	Severity int    `json:"severity"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

// CategoryResult aggregates all pattern matches for one category.
type CategoryResult struct {
	Score      float64  `json:"score"`
	MatchCount int      `json:"match_count"`
	Samples    []string `json:"samples,omitempty"`
}

// Breakdown is the audit view of one scoring pass.
type Breakdown struct {
	PerCategory       map[string]CategoryResult `json:"per_category"`
	CorrelationBonus  float64                   `json:"correlation_bonus"`
	RawScore          float64                   `json:"raw_score"`
	ClampedScore      float64                   `json:"clamped_score"`
	Spans             []Span                    `json:"-"`
	AbandonedPatterns []string                  `json:"abandoned_patterns,omitempty"`
}

type compiledPattern struct {
	id string
	re *regexp.Regexp
}

type compiledCategory struct {
	def      config.Category
	patterns []compiledPattern
}

// Engine is immutable after New and safe for concurrent use.
type Engine struct {
	categories   map[string]compiledCategory
	correlations []config.CorrelationRule
	budget       time.Duration
	maxSamples   int
	logger       *slog.Logger
}

func New(p *config.Policy, scan config.ScanConfig, logger *slog.Logger) (*Engine, error) {
	e := &Engine{
		categories:   make(map[string]compiledCategory, len(p.Categories)),
		correlations: p.Correlations,
		budget:       scan.PatternBudget,
		maxSamples:   scan.MaxSamples,
		logger:       logger,
	}
	if e.budget <= 0 {
		e.budget = 50 * time.Millisecond
	}
	if e.maxSamples <= 0 {
		e.maxSamples = 3
	}
	for _, cat := range p.Categories {
		cc := compiledCategory{def: cat}
		for i, pat := range cat.Patterns {
			re, err := regexp.Compile(pat)
			if err != nil {
				return nil, fmt.Errorf("category %q pattern %d: %w", cat.Name, i, err)
			}
			cc.patterns = append(cc.patterns, compiledPattern{
				id: fmt.Sprintf("%s/%d", cat.Name, i),
				re: re,
			})
		}
		e.categories[cat.Name] = cc
	}
	return e, nil
}

// Evaluate scores normalized text against the candidate categories only and
// folds in correlation bonuses. The raw sum is clamped to [0,100].
func (e *Engine) Evaluate(ctx context.Context, normalized string, candidates []string) Breakdown {
	bd := Breakdown{PerCategory: make(map[string]CategoryResult, len(candidates))}

	for _, name := range candidates {
		cc, ok := e.categories[name]
		if !ok {
			continue
		}
		var result CategoryResult
		for _, cp := range cc.patterns {
			locs, ok := e.findWithBudget(ctx, cp, normalized)
			if !ok {
				bd.AbandonedPatterns = append(bd.AbandonedPatterns, cp.id)
				continue
			}
			for _, loc := range locs {
				result.MatchCount++
				if len(result.Samples) < e.maxSamples {
					result.Samples = append(result.Samples, normalized[loc[0]:loc[1]])
				}
				bd.Spans = append(bd.Spans, Span{
					Category: name,
					Severity: cc.def.Severity,
					Start:    loc[0],
					End:      loc[1],
				})
			}
		}
		if result.MatchCount > 0 {
			result.Score = categoryScore(cc.def, result.MatchCount)
			bd.PerCategory[name] = result
		}
	}

	bd.CorrelationBonus = e.correlationBonus(bd.PerCategory)
	for _, r := range bd.PerCategory {
		bd.RawScore += r.Score
	}
	bd.RawScore += bd.CorrelationBonus
	bd.ClampedScore = clamp(bd.RawScore, 0, 100)
	return bd
}

// findWithBudget evaluates one pattern under the per-pattern time budget.
// The scan runs in its own goroutine; if the budget expires first the
// pattern is abandoned for this request and its partial result discarded.
// The budget holds even if the matcher's runtime cannot be proven linear.
func (e *Engine) findWithBudget(ctx context.Context, cp compiledPattern, text string) ([][]int, bool) {
	type scanResult struct{ locs [][]int }
	done := make(chan scanResult, 1)
	go func() {
		done <- scanResult{locs: cp.re.FindAllStringIndex(text, -1)}
	}()

	timer := time.NewTimer(e.budget)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.locs, true
	case <-timer.C:
		e.logger.Warn("pattern over budget, abandoned", "pattern", cp.id, "budget", e.budget)
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// categoryScore starts at base_weight * multiplier for the first match.
// When max_score is set, every further match adds half of the remaining
// headroom, so repeated trivial matches saturate instead of growing
// without bound.
func categoryScore(cat config.Category, matches int) float64 {
	base := cat.BaseWeight * cat.Multiplier
	if cat.MaxScore <= 0 || matches <= 1 {
		if cat.MaxScore > 0 && base > cat.MaxScore {
			return cat.MaxScore
		}
		return base
	}
	score := base
	for i := 1; i < matches; i++ {
		score += (cat.MaxScore - score) / 2
	}
	return score
}

// correlationBonus adds each rule's bonus once when every category in its
// set scored nonzero. Catches attacks that spread signal across categories
// that individually stay under threshold.
func (e *Engine) correlationBonus(hits map[string]CategoryResult) float64 {
	var bonus float64
	for _, rule := range e.correlations {
		all := true
		for _, name := range rule.Categories {
			if hits[name].Score <= 0 {
				all = false
				break
			}
		}
		if all {
			bonus += rule.Bonus
		}
	}
	return bonus
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
