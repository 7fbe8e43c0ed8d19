// Package arbiter fuses the in-process heuristic score with up to two
// external branches: a semantic similarity service and a safety classifier.
// Branch calls run concurrently behind circuit breakers; an unavailable
// branch is excluded and the remaining weights renormalized, it never
// silently counts as zero.
package arbiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vigil-labs/vigil-gate/internal/config"
	"github.com/vigil-labs/vigil-gate/internal/decision"
)

// Branch IDs, matching the policy arbiter section.
const (
	BranchHeuristic  = "heuristic"
	BranchSimilarity = "similarity"
	BranchClassifier = "classifier"
)

// BranchScore is one branch's contribution.
type BranchScore struct {
	BranchID   string  `json:"branch_id"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Available  bool    `json:"available"`
}

// Result is the fused outcome.
type Result struct {
	FusedScore      float64           `json:"fused_score"`
	OverrideApplied bool              `json:"override_applied"`
	OverrideReason  string            `json:"override_reason,omitempty"`
	FinalDecision   decision.Decision `json:"final_decision"`
	Branches        []BranchScore     `json:"branches"`
}

type externalBranch struct {
	id      string
	scorer  Scorer
	breaker *CircuitBreaker
}

// Arbiter is safe for concurrent use; the circuit breakers are its only
// mutable state.
type Arbiter struct {
	external []externalBranch
	logger   *slog.Logger
}

// New wires the external branches from service config. A branch with no
// URL is simply not part of the fusion; only a configured branch that
// stops answering counts as unavailable.
func New(cfg config.BranchesConfig, logger *slog.Logger) *Arbiter {
	a := &Arbiter{logger: logger}
	add := func(id string, ep config.BranchEndpoint) {
		if ep.URL == "" {
			return
		}
		a.external = append(a.external, externalBranch{
			id:      id,
			scorer:  NewHTTPScorer(ep),
			breaker: NewCircuitBreaker(cfg.CircuitBreaker),
		})
	}
	add(BranchSimilarity, cfg.Similarity)
	add(BranchClassifier, cfg.Classifier)
	return a
}

// WithScorer replaces a branch's scorer. Test seam.
func (a *Arbiter) WithScorer(id string, s Scorer) *Arbiter {
	for i := range a.external {
		if a.external[i].id == id {
			a.external[i].scorer = s
			return a
		}
	}
	a.external = append(a.external, externalBranch{
		id:      id,
		scorer:  s,
		breaker: NewCircuitBreaker(config.CircuitBreakerConfig{FailureThreshold: 5}),
	})
	return a
}

// Evaluate fuses the heuristic score with the external branches and maps
// the fused score through the threshold table, unless an override forces
// BLOCK first.
func (a *Arbiter) Evaluate(ctx context.Context, text string, heuristicScore float64, policy *config.Policy, table *decision.Table) Result {
	branches := []BranchScore{{
		BranchID:   BranchHeuristic,
		Score:      heuristicScore,
		Confidence: 1,
		Available:  true,
	}}

	results := make([]BranchScore, len(a.external))
	var wg sync.WaitGroup
	for i, b := range a.external {
		wg.Add(1)
		go func(i int, b externalBranch) {
			defer wg.Done()
			results[i] = a.callBranch(ctx, b, text)
		}(i, b)
	}
	wg.Wait()
	branches = append(branches, results...)

	res := Result{Branches: branches}
	res.FusedScore = fuse(branches, policy.Arbiter.Branches)

	for _, bs := range branches {
		bp := branchPolicy(policy.Arbiter.Branches, bs.BranchID)
		if bp == nil || bp.OverrideConfidence <= 0 {
			continue
		}
		if bs.Available && bs.Confidence >= bp.OverrideConfidence {
			res.OverrideApplied = true
			res.OverrideReason = fmt.Sprintf("branch %s confidence %.2f >= %.2f",
				bs.BranchID, bs.Confidence, bp.OverrideConfidence)
			break
		}
	}

	if !policy.Arbiter.FailOpen {
		for _, bs := range branches {
			if bs.BranchID == BranchClassifier && !bs.Available {
				res.OverrideApplied = true
				res.OverrideReason = "classifier unavailable, fail_open disabled"
				break
			}
		}
	}

	if res.OverrideApplied {
		res.FinalDecision = decision.Block
	} else {
		res.FinalDecision = table.Decide(res.FusedScore)
	}
	return res
}

func (a *Arbiter) callBranch(ctx context.Context, b externalBranch, text string) BranchScore {
	bs := BranchScore{BranchID: b.id}
	if !b.breaker.Allow() {
		a.logger.Debug("branch circuit open", "branch", b.id)
		return bs
	}
	score, conf, err := b.scorer.Score(ctx, text)
	if err != nil {
		b.breaker.RecordFailure()
		a.logger.Warn("branch unavailable", "branch", b.id, "error", err)
		return bs
	}
	b.breaker.RecordSuccess()
	bs.Score = score
	bs.Confidence = conf
	bs.Available = true
	return bs
}

// fuse computes the weighted mean over available branches, renormalizing
// the configured weights over the available subset.
func fuse(branches []BranchScore, policies []config.BranchPolicy) float64 {
	var weighted, total float64
	for _, bs := range branches {
		if !bs.Available {
			continue
		}
		bp := branchPolicy(policies, bs.BranchID)
		if bp == nil || bp.Weight <= 0 {
			continue
		}
		weighted += bp.Weight * bs.Score
		total += bp.Weight
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

func branchPolicy(policies []config.BranchPolicy, id string) *config.BranchPolicy {
	for i := range policies {
		if policies[i].ID == id {
			return &policies[i]
		}
	}
	return nil
}
