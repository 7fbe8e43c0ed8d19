// Package sanitize turns a decision plus matched spans into the output
// text the caller may forward. The BLOCK path is a constructor that never
// receives any request text, so leaking a derivative of the input on BLOCK
// is impossible by construction rather than guarded by a conditional.
package sanitize

import (
	"sort"
	"strings"

	"github.com/vigil-labs/vigil-gate/internal/config"
	"github.com/vigil-labs/vigil-gate/internal/decision"
	"github.com/vigil-labs/vigil-gate/internal/detect"
	"github.com/vigil-labs/vigil-gate/internal/pii"
	"github.com/vigil-labs/vigil-gate/internal/textnorm"
)

// Span is one redacted region, offsets into the normalized text.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
}

// Result is the enforcer's output for one request.
type Result struct {
	Decision      decision.Decision `json:"decision"`
	OutputText    string            `json:"output_text"`
	RemovalPct    float64           `json:"removal_pct"`
	RedactedSpans []Span            `json:"redacted_spans,omitempty"`
}

// Enforcer applies the per-decision removal policy.
type Enforcer struct {
	policy config.SanitizePolicy
}

func New(policy config.SanitizePolicy) *Enforcer {
	return &Enforcer{policy: policy}
}

// Apply produces the output text for a decision.
//
//   - ALLOW passes the raw input through untouched.
//   - SANITIZE_LIGHT redacts pattern spans of categories at or above the
//     severity floor.
//   - SANITIZE_HEAVY redacts every pattern span plus every PII span.
//   - BLOCK returns the fixed policy message; note Apply never forwards
//     the text to the block path.
func (e *Enforcer) Apply(dec decision.Decision, text textnorm.Text, patternSpans []detect.Span, entities []pii.Entity) Result {
	switch dec {
	case decision.Allow:
		return Result{Decision: dec, OutputText: text.Raw}
	case decision.SanitizeLight:
		var spans []Span
		for _, s := range patternSpans {
			if s.Severity >= e.policy.LightSeverityFloor {
				spans = append(spans, Span{Start: s.Start, End: s.End, Label: s.Category})
			}
		}
		return e.redact(dec, text.Normalized, spans)
	case decision.SanitizeHeavy:
		var spans []Span
		for _, s := range patternSpans {
			spans = append(spans, Span{Start: s.Start, End: s.End, Label: s.Category})
		}
		for _, ent := range entities {
			spans = append(spans, Span{Start: ent.Start, End: ent.End, Label: ent.Type})
		}
		return e.redact(dec, text.Normalized, spans)
	default:
		return e.blockResult()
	}
}

// blockResult builds the BLOCK response. It deliberately takes no
// arguments: there is no value here a bug could leak.
func (e *Enforcer) blockResult() Result {
	return Result{
		Decision:   decision.Block,
		OutputText: e.policy.BlockMessage,
		RemovalPct: 100,
	}
}

// redact replaces each merged span with the redaction token and reports
// how much of the text was removed.
func (e *Enforcer) redact(dec decision.Decision, text string, spans []Span) Result {
	merged := mergeSpans(spans, len(text))
	if len(merged) == 0 {
		return Result{Decision: dec, OutputText: text}
	}

	token := e.policy.RedactToken
	if token == "" {
		token = "[REDACTED]"
	}

	var b strings.Builder
	pos := 0
	redacted := 0
	for _, s := range merged {
		b.WriteString(text[pos:s.Start])
		b.WriteString(token)
		redacted += s.End - s.Start
		pos = s.End
	}
	b.WriteString(text[pos:])

	pct := 0.0
	if len(text) > 0 {
		pct = float64(redacted) / float64(len(text)) * 100
	}
	return Result{
		Decision:      dec,
		OutputText:    b.String(),
		RemovalPct:    pct,
		RedactedSpans: merged,
	}
}

// mergeSpans clips spans to the text, sorts them, and coalesces overlaps
// so the splice loop sees disjoint ascending intervals. A coalesced span
// keeps the label of its earliest contributor.
func mergeSpans(spans []Span, textLen int) []Span {
	var valid []Span
	for _, s := range spans {
		if s.Start < 0 {
			s.Start = 0
		}
		if s.End > textLen {
			s.End = textLen
		}
		if s.Start < s.End {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Start < valid[j].Start })

	out := valid[:1]
	for _, s := range valid[1:] {
		top := &out[len(out)-1]
		if s.Start <= top.End {
			if s.End > top.End {
				top.End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	return out
}
