package decision

import (
	"testing"

	"github.com/vigil-labs/vigil-gate/internal/config"
)

func defaultTable() *Table {
	return NewTable(config.DefaultPolicy())
}

func TestDecideBoundaries(t *testing.T) {
	tbl := defaultTable()
	tests := []struct {
		score float64
		want  Decision
	}{
		{0, Allow},
		{24.9, Allow},
		{25, SanitizeLight},
		{49.9, SanitizeLight},
		{50, SanitizeHeavy},
		{74.9, SanitizeHeavy},
		{75, Block},
		{93, Block},
		{100, Block},
	}
	for _, tt := range tests {
		if got := tbl.Decide(tt.score); got != tt.want {
			t.Errorf("Decide(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestDecideClampsOutOfRange(t *testing.T) {
	tbl := defaultTable()
	if got := tbl.Decide(-5); got != Allow {
		t.Errorf("Decide(-5) = %v, want Allow", got)
	}
	if got := tbl.Decide(250); got != Block {
		t.Errorf("Decide(250) = %v, want Block", got)
	}
}

// A strictly higher score never maps to a less severe decision.
func TestDecideMonotonic(t *testing.T) {
	tbl := defaultTable()
	prev := -1
	for s := 0.0; s <= 100; s += 0.5 {
		sev := tbl.Decide(s).Severity()
		if sev < prev {
			t.Fatalf("severity dropped from %d to %d at score %v", prev, sev, s)
		}
		prev = sev
	}
}

func TestSeverityOrder(t *testing.T) {
	order := []Decision{Allow, SanitizeLight, SanitizeHeavy, Block}
	for i := 1; i < len(order); i++ {
		if order[i].Severity() <= order[i-1].Severity() {
			t.Errorf("%v not more severe than %v", order[i], order[i-1])
		}
	}
	if Decision("BOGUS").Severity() != -1 {
		t.Errorf("unknown decision should have severity -1")
	}
}
