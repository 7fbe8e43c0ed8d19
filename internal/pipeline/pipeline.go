// Package pipeline is the single synchronous entry point of the gate: one
// Check call per inbound prompt, composing normalization, prefilter,
// pattern scoring, correlation, decision, arbiter fusion, PII detection,
// and sanitization. The gateway handler owns transport; the pipeline owns
// no transport concerns.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vigil-labs/vigil-gate/internal/arbiter"
	"github.com/vigil-labs/vigil-gate/internal/config"
	"github.com/vigil-labs/vigil-gate/internal/decision"
	"github.com/vigil-labs/vigil-gate/internal/detect"
	"github.com/vigil-labs/vigil-gate/internal/pii"
	"github.com/vigil-labs/vigil-gate/internal/prefilter"
	"github.com/vigil-labs/vigil-gate/internal/sanitize"
	"github.com/vigil-labs/vigil-gate/internal/telemetry"
	"github.com/vigil-labs/vigil-gate/internal/textnorm"
)

// Request is one inbound prompt to check.
type Request struct {
	RequestID string
	SessionID string
	Text      string
}

// Result is the pipeline's answer for one request.
type Result struct {
	Decision      decision.Decision `json:"decision"`
	OutputText    string            `json:"output_text"`
	Breakdown     detect.Breakdown  `json:"score_breakdown"`
	Arbiter       *arbiter.Result   `json:"arbiter,omitempty"`
	PII           []pii.Entity      `json:"pii_summary"`
	RemovalPct    float64           `json:"removal_pct"`
	RedactedSpans []sanitize.Span   `json:"redacted_spans,omitempty"`
	ShortCircuit  bool              `json:"short_circuit"`
}

// ruleset bundles everything compiled from one policy snapshot. Swapped
// atomically on reload; a request works against exactly one ruleset.
type ruleset struct {
	policy    *config.Policy
	prefilter *prefilter.Prefilter
	engine    *detect.Engine
	table     *decision.Table
	enforcer  *sanitize.Enforcer
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	rules   atomic.Pointer[ruleset]
	scan    config.ScanConfig
	arbiter *arbiter.Arbiter
	pii     *pii.Detector
	metrics *telemetry.Metrics
	sink    telemetry.Sink
	logger  *slog.Logger
}

func New(cfg *config.Config, policy *config.Policy, arb *arbiter.Arbiter, det *pii.Detector, metrics *telemetry.Metrics, sink telemetry.Sink, logger *slog.Logger) (*Pipeline, error) {
	p := &Pipeline{
		scan:    cfg.Scan,
		arbiter: arb,
		pii:     det,
		metrics: metrics,
		sink:    sink,
		logger:  logger,
	}
	if err := p.Reload(policy); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload compiles a new ruleset from a validated snapshot and swaps it in.
// In-flight requests keep the ruleset they started with.
func (p *Pipeline) Reload(policy *config.Policy) error {
	engine, err := detect.New(policy, p.scan, p.logger)
	if err != nil {
		return fmt.Errorf("compile detection engine: %w", err)
	}
	p.rules.Store(&ruleset{
		policy:    policy,
		prefilter: prefilter.Build(policy),
		engine:    engine,
		table:     decision.NewTable(policy),
		enforcer:  sanitize.New(policy.Sanitize),
	})
	return nil
}

// Check runs the full pipeline for one request. It never fails open or
// closed by accident: external failures degrade the inputs, and the only
// error returned is caller cancellation.
func (p *Pipeline) Check(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	rs := p.rules.Load()

	normStart := time.Now()
	text := textnorm.Normalize(req.Text)
	p.metrics.RecordStage("normalize", msSince(normStart))

	// PII recognition fans out concurrently with scoring; both join
	// before the output is composed.
	piiCh := make(chan []pii.Entity, 1)
	go func() {
		piiStart := time.Now()
		entities := p.pii.Detect(ctx, text.Normalized)
		p.metrics.RecordStage("pii", msSince(piiStart))
		piiCh <- entities
	}()

	preStart := time.Now()
	pre := rs.prefilter.Scan(text.Normalized)
	p.metrics.RecordStage("prefilter", msSince(preStart))

	res := &Result{}
	if len(pre.Candidates) == 0 {
		// dominant benign path: no candidate categories, no scoring
		p.metrics.ShortCircuitTotal.Inc()
		res.ShortCircuit = true
		res.Decision = decision.Allow
		res.Breakdown.PerCategory = map[string]detect.CategoryResult{}
	} else {
		scanStart := time.Now()
		res.Breakdown = rs.engine.Evaluate(ctx, text.Normalized, pre.Candidates)
		p.metrics.RecordStage("scan", msSince(scanStart))
		for _, pat := range res.Breakdown.AbandonedPatterns {
			p.metrics.RecordPatternTimeout(pat)
		}

		arbStart := time.Now()
		arbRes := p.arbiter.Evaluate(ctx, text.Normalized, res.Breakdown.ClampedScore, rs.policy, rs.table)
		p.metrics.RecordStage("arbiter", msSince(arbStart))
		for _, b := range arbRes.Branches {
			p.metrics.RecordBranch(b.BranchID, b.Available)
		}
		res.Arbiter = &arbRes
		res.Decision = arbRes.FinalDecision
	}

	select {
	case entities := <-piiCh:
		res.PII = entities
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for _, e := range res.PII {
		p.metrics.RecordPIIEntity(e.Type, e.Source)
	}

	sanStart := time.Now()
	out := rs.enforcer.Apply(res.Decision, text, res.Breakdown.Spans, res.PII)
	p.metrics.RecordStage("sanitize", msSince(sanStart))
	res.OutputText = out.OutputText
	res.RemovalPct = out.RemovalPct
	res.RedactedSpans = out.RedactedSpans

	durationMs := msSince(start)
	overridden := res.Arbiter != nil && res.Arbiter.OverrideApplied
	p.metrics.RecordCheck(string(res.Decision), overridden, durationMs)
	p.metrics.RemovalPct.Observe(res.RemovalPct)
	p.audit(req, res, durationMs)
	return res, nil
}

// audit hands one record to the sink. Best-effort; the sink never blocks
// the response path.
func (p *Pipeline) audit(req Request, res *Result, durationMs float64) {
	rec := &telemetry.AuditRecord{
		RequestID:    req.RequestID,
		SessionID:    req.SessionID,
		CreatedAt:    time.Now().UTC(),
		Decision:     string(res.Decision),
		ClampedScore: res.Breakdown.ClampedScore,
		Overridden:   res.Arbiter != nil && res.Arbiter.OverrideApplied,
		ShortCircuit: res.ShortCircuit,
		RemovalPct:   res.RemovalPct,
		PIICount:     len(res.PII),
		DurationMs:   durationMs,
	}
	if res.Arbiter != nil {
		rec.FusedScore = res.Arbiter.FusedScore
	}
	if breakdown, err := json.Marshal(res.Breakdown); err == nil {
		rec.Breakdown = breakdown
	}
	p.sink.Write(rec)
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
