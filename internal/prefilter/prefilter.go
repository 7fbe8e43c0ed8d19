// Package prefilter narrows the set of threat categories worth scoring.
// A bloom filter over character q-grams of every configured keyword and
// phrase gives cheap rejection for benign traffic; an Aho-Corasick
// automaton over the keyword literals confirms which categories actually
// appear. Both structures are built from literals passed through the
// request-time normalizer, so a literal written as "Ignore" in the policy
// file still matches normalized input.
package prefilter

import (
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cloudflare/ahocorasick"

	"github.com/vigil-labs/vigil-gate/internal/config"
	"github.com/vigil-labs/vigil-gate/internal/textnorm"
)

const (
	minGramSize = 3
	maxGramSize = 8
)

// Result is the outcome of one prefilter scan.
type Result struct {
	// Candidates holds every category whose keyword the automaton found.
	// Empty means the pipeline short-circuits to ALLOW with score 0.
	Candidates []string
	// PhraseBonus counts configured phrases whose q-grams all tested
	// positive. It routes ambiguous requests to the automaton and feeds
	// the audit breakdown.
	PhraseBonus int
	// Routed reports whether the automaton stage ran at all.
	Routed bool
}

type entry struct {
	grams      []string
	categories []string // nil for bare phrases
}

// Prefilter is immutable after Build and safe for concurrent use.
type Prefilter struct {
	q              int
	filter         *bloom.BloomFilter
	matcher        *ahocorasick.Matcher
	literalCats    [][]string // automaton dictionary index -> categories
	entries        []entry
	routeThreshold int
}

// Build compiles the prefilter for one policy snapshot. The policy has
// already been validated; Build cannot fail.
func Build(p *config.Policy) *Prefilter {
	literalCategories := make(map[string][]string)
	order := make([]string, 0, len(p.Keywords))
	for _, kw := range p.Keywords {
		lit := textnorm.Normalize(kw.Literal).Normalized
		if lit == "" {
			continue
		}
		if _, seen := literalCategories[lit]; !seen {
			order = append(order, lit)
		}
		literalCategories[lit] = appendUnique(literalCategories[lit], kw.Category)
	}

	phrases := make([]string, 0, len(p.Phrases))
	for _, ph := range p.Phrases {
		if n := textnorm.Normalize(ph).Normalized; n != "" {
			phrases = append(phrases, n)
		}
	}

	q := gramSize(order, phrases)

	pf := &Prefilter{
		q:              q,
		literalCats:    make([][]string, 0, len(order)),
		routeThreshold: p.Prefilter.RouteToACThreshold,
	}

	totalGrams := 0
	addEntry := func(text string, cats []string) {
		g := grams(text, q)
		pf.entries = append(pf.entries, entry{grams: g, categories: cats})
		totalGrams += len(g)
	}
	for _, lit := range order {
		addEntry(lit, literalCategories[lit])
	}
	for _, ph := range phrases {
		addEntry(ph, nil)
	}

	fpRate := p.Prefilter.BloomFPRate
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}
	if totalGrams == 0 {
		totalGrams = 1
	}
	pf.filter = bloom.NewWithEstimates(uint(totalGrams), fpRate)
	for _, e := range pf.entries {
		for _, g := range e.grams {
			pf.filter.Add([]byte(g))
		}
	}

	if len(order) > 0 {
		pf.matcher = ahocorasick.NewStringMatcher(order)
		for _, lit := range order {
			pf.literalCats = append(pf.literalCats, literalCategories[lit])
		}
	}
	return pf
}

// Scan runs both stages against normalized text. The bloom stage may only
// ever skip the automaton when no keyword can possibly be present; it never
// suppresses an automaton hit.
func (pf *Prefilter) Scan(normalized string) Result {
	if pf.matcher == nil {
		return Result{}
	}

	positive := pf.positiveGrams(normalized)

	bonus := 0
	literalPossible := false
	for _, e := range pf.entries {
		if !allPositive(e.grams, positive) {
			continue
		}
		if e.categories == nil {
			bonus++
		} else {
			literalPossible = true
		}
	}

	route := literalPossible || bonus > 0
	if !route && pf.routeThreshold > 0 && len(positive) >= pf.routeThreshold {
		route = true
	}
	if !route {
		return Result{PhraseBonus: bonus}
	}

	res := Result{PhraseBonus: bonus, Routed: true}
	seen := make(map[string]bool)
	for _, idx := range pf.matcher.Match([]byte(normalized)) {
		for _, cat := range pf.literalCats[idx] {
			if !seen[cat] {
				seen[cat] = true
				res.Candidates = append(res.Candidates, cat)
			}
		}
	}
	return res
}

// positiveGrams returns the distinct text q-grams the bloom filter reports
// as possibly present.
func (pf *Prefilter) positiveGrams(text string) map[string]bool {
	positive := make(map[string]bool)
	runes := []rune(text)
	if len(runes) < pf.q {
		return positive
	}
	tested := make(map[string]bool, len(runes))
	for i := 0; i+pf.q <= len(runes); i++ {
		g := string(runes[i : i+pf.q])
		if tested[g] {
			continue
		}
		tested[g] = true
		if pf.filter.Test([]byte(g)) {
			positive[g] = true
		}
	}
	return positive
}

// allPositive reports whether every gram is in the positive set. An entry
// shorter than the gram size has no grams and counts as possibly present;
// it costs the cheap rejection, never the detection.
func allPositive(grams []string, positive map[string]bool) bool {
	for _, g := range grams {
		if !positive[g] {
			return false
		}
	}
	return true
}

func gramSize(literals, phrases []string) int {
	q := maxGramSize
	shortest := func(items []string) {
		for _, s := range items {
			if n := len([]rune(s)); n < q {
				q = n
			}
		}
	}
	shortest(literals)
	shortest(phrases)
	if q < minGramSize {
		q = minGramSize
	}
	return q
}

func grams(s string, q int) []string {
	runes := []rune(s)
	if len(runes) < q {
		return nil
	}
	out := make([]string, 0, len(runes)-q+1)
	for i := 0; i+q <= len(runes); i++ {
		out = append(out, string(runes[i:i+q]))
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
