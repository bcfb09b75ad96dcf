package netsync

import (
	"math"
	"testing"
)

func TestCorrectionStrength(t *testing.T) {
	cases := []struct {
		name    string
		err     float64
		force   bool
		want    float64
		pending bool
	}{
		{"below minor threshold ignored", 0.03, false, 0, false},
		{"minor error nudges", 0.1, false, 0.05, true},
		{"moderate error scales", 0.5, false, 0.3, true},
		{"small scaled error clamps up", 0.3, false, 0.18, true},
		{"large error clamps down", 2.0, false, 0.8, true},
		{"overflow snaps", 6.0, false, 1.0, true},
		{"forced small error uses floor", 0.1, true, 0.1, true},
		{"forced zero error uses floor", 0.0, true, 0.1, true},
	}

	for _, tc := range cases {
		g := NewReconciliationGateway()
		g.OnServerState([3]float64{1, 2, 3}, tc.err, tc.force)

		c, ok := g.ConsumeCorrection()
		if ok != tc.pending {
			t.Errorf("%s: pending = %v, want %v", tc.name, ok, tc.pending)
			continue
		}
		if !ok {
			continue
		}
		if math.Abs(c.Strength-tc.want) > 1e-9 {
			t.Errorf("%s: strength = %v, want %v", tc.name, c.Strength, tc.want)
		}
		if c.Position != [3]float64{1, 2, 3} {
			t.Errorf("%s: position = %v", tc.name, c.Position)
		}
	}
}

func TestCorrectionConsumedOnce(t *testing.T) {
	g := NewReconciliationGateway()
	g.OnServerState([3]float64{5, 0, 0}, 1.0, false)

	if _, ok := g.ConsumeCorrection(); !ok {
		t.Fatal("expected a pending correction")
	}
	if _, ok := g.ConsumeCorrection(); ok {
		t.Error("correction must not be consumable twice")
	}
}

func TestNewerCorrectionReplacesPending(t *testing.T) {
	g := NewReconciliationGateway()
	g.OnServerState([3]float64{1, 0, 0}, 1.0, false)
	g.OnServerState([3]float64{2, 0, 0}, 2.0, false)

	c, ok := g.ConsumeCorrection()
	if !ok {
		t.Fatal("expected a pending correction")
	}
	if c.Position != [3]float64{2, 0, 0} {
		t.Errorf("expected latest position, got %v", c.Position)
	}
}
