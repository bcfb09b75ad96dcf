package netsync

import (
	"sync"
	"time"
)

// ScoreState holds the two team counters. Both direct score events and
// periodic sync events merge by max, so out-of-order delivery across the
// transport and offline paths cannot regress a score.
type ScoreState struct {
	mu            sync.Mutex
	jackalopes    int
	mercs         int
	updatedAt     time.Time
	appliedDirect int
}

// NewScoreState creates a zeroed ScoreState
func NewScoreState() *ScoreState {
	return &ScoreState{}
}

// Scores returns the current (jackalopes, mercs) counters
func (s *ScoreState) Scores() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jackalopes, s.mercs
}

// UpdatedAt returns when a score last changed
func (s *ScoreState) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// AppliedDirect returns how many direct score events were applied. Two
// observers reporting the same kill under distinct event ids both land here;
// the counter makes that double-count at least visible.
func (s *ScoreState) AppliedDirect() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appliedDirect
}

// AddPoint increments the counter for role locally and returns the new
// totals, for broadcasting as a direct event. Spectators score nothing.
func (s *ScoreState) AddPoint(role Role) (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch role {
	case RoleJackalope:
		s.jackalopes++
	case RoleMerc:
		s.mercs++
	default:
		return s.jackalopes, s.mercs
	}
	s.updatedAt = time.Now()
	return s.jackalopes, s.mercs
}

// ApplyDirect applies a direct scoring event. Totals never regress: a stale
// observer proposing lower counts cannot undo points already recorded.
func (s *ScoreState) ApplyDirect(jackalopes, mercs int) {
	if jackalopes < 0 || mercs < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if jackalopes > s.jackalopes {
		s.jackalopes = jackalopes
	}
	if mercs > s.mercs {
		s.mercs = mercs
	}
	s.appliedDirect++
	s.updatedAt = time.Now()
}

// ApplySync applies a periodic sync event: each counter only moves up
func (s *ScoreState) ApplySync(jackalopes, mercs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	if jackalopes > s.jackalopes {
		s.jackalopes = jackalopes
		changed = true
	}
	if mercs > s.mercs {
		s.mercs = mercs
		changed = true
	}
	if changed {
		s.updatedAt = time.Now()
	}
}

// Reset zeroes both counters
func (s *ScoreState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jackalopes = 0
	s.mercs = 0
	s.updatedAt = time.Now()
}
