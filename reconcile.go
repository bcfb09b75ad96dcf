package netsync

import "sync"

const (
	// Error magnitudes, in world units
	correctionThreshold = 0.25
	minorThreshold      = 0.05
	snapThreshold       = 5.0

	minStrength   = 0.1
	maxStrength   = 0.8
	nudgeStrength = 0.05
	strengthScale = 0.6
)

// Correction is a pending blend toward the authoritative position.
// Strength 1 means snap.
type Correction struct {
	Position [3]float64
	Strength float64
}

// ReconciliationGateway receives authoritative corrections from the
// transport and exposes each as a one-shot correction vector for the
// caller's prediction loop.
type ReconciliationGateway struct {
	mu      sync.Mutex
	pending *Correction
}

// NewReconciliationGateway creates an empty gateway
func NewReconciliationGateway() *ReconciliationGateway {
	return &ReconciliationGateway{}
}

// OnServerState stores the authoritative position and computes the
// correction strength from the error magnitude
func (g *ReconciliationGateway) OnServerState(pos [3]float64, errMag float64, force bool) {
	var strength float64
	switch {
	case errMag > snapThreshold:
		// Too large to blend smoothly
		strength = 1
	case force || errMag > correctionThreshold:
		strength = Clamp(errMag*strengthScale, minStrength, maxStrength)
	case errMag > minorThreshold:
		strength = nudgeStrength
	default:
		return
	}

	g.mu.Lock()
	g.pending = &Correction{Position: pos, Strength: strength}
	g.mu.Unlock()
}

// ConsumeCorrection returns the pending correction exactly once
func (g *ReconciliationGateway) ConsumeCorrection() (Correction, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return Correction{}, false
	}
	c := *g.pending
	g.pending = nil
	return c, true
}
