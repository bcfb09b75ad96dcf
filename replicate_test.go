package netsync

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// captureStateSink records outbound player updates
type captureStateSink struct {
	msgs []PlayerUpdateMsg
}

func (s *captureStateSink) SendUpdate(msg PlayerUpdateMsg) {
	s.msgs = append(s.msgs, msg)
}

func newTestReplicator(store SharedStore) (*StateReplicator, *captureStateSink, *SyncContext) {
	ctx := newTestContext(DefaultConfig(), store, nil)
	sink := &captureStateSink{}
	r := NewStateReplicator(ctx, sink, NewReconciliationGateway())
	return r, sink, ctx
}

func TestPublishStateThrottled(t *testing.T) {
	r, sink, ctx := newTestReplicator(nil)
	ctx.setStatus(StatusConnected, 0, nil)

	// Caller spams faster than the outbound rate; only the first passes
	// the limiter's burst
	for i := 0; i < 10; i++ {
		r.PublishState([3]float64{float64(i), 0, 0}, [4]float64{0, 0, 0, 1}, [3]float64{}, nil)
	}
	if len(sink.msgs) != 1 {
		t.Errorf("expected 1 update through the throttle, got %d", len(sink.msgs))
	}
}

func TestPublishStateDropsWhenNotReady(t *testing.T) {
	r, sink, _ := newTestReplicator(nil)

	r.PublishState([3]float64{1, 0, 0}, [4]float64{0, 0, 0, 1}, [3]float64{}, nil)
	if len(sink.msgs) != 0 {
		t.Errorf("expected silent drop while disconnected, got %d updates", len(sink.msgs))
	}
}

func TestPublishStateCarriesSequenceAndRole(t *testing.T) {
	r, sink, ctx := newTestReplicator(nil)
	ctx.setStatus(StatusConnected, 0, nil)
	ctx.setIdentity(PlayerIdentity{Index: 1, Role: RoleMerc})

	r.PublishState([3]float64{1, 2, 3}, [4]float64{0, 0, 0, 1}, [3]float64{4, 5, 6}, nil)
	if len(sink.msgs) != 1 {
		t.Fatalf("expected 1 update, got %d", len(sink.msgs))
	}
	msg := sink.msgs[0]
	if msg.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", msg.Sequence)
	}
	if msg.Role != "merc" {
		t.Errorf("role = %q, want merc", msg.Role)
	}
}

func TestRemoteStateDerivesMovementFlags(t *testing.T) {
	r, _, _ := newTestReplicator(nil)

	r.OnRemoteState("r1", PlayerUpdateMsg{Velocity: [3]float64{1, 0, 0}, Sequence: 1})
	ent, ok := r.Remote("r1")
	if !ok {
		t.Fatal("entity not created")
	}
	if !ent.Flags.Walking || ent.Flags.Running {
		t.Errorf("speed 1.0 should walk, not run: %+v", ent.Flags)
	}

	r.OnRemoteState("r1", PlayerUpdateMsg{Velocity: [3]float64{6, 0, 2}, Sequence: 2})
	ent, _ = r.Remote("r1")
	if !ent.Flags.Running {
		t.Errorf("speed > %v should run: %+v", runSpeedThreshold, ent.Flags)
	}

	// Vertical velocity alone is not movement
	r.OnRemoteState("r1", PlayerUpdateMsg{Velocity: [3]float64{0, 9, 0}, Sequence: 3})
	ent, _ = r.Remote("r1")
	if ent.Flags.Walking {
		t.Errorf("vertical velocity should not set walking: %+v", ent.Flags)
	}
}

func TestRemoteStateExplicitFlagsWin(t *testing.T) {
	r, _, _ := newTestReplicator(nil)

	r.OnRemoteState("r1", PlayerUpdateMsg{
		Velocity: [3]float64{9, 0, 0},
		Flags:    &MovementFlags{Walking: false, Running: false, LightOn: true},
		Sequence: 1,
	})
	ent, _ := r.Remote("r1")
	want := MovementFlags{LightOn: true}
	if diff := cmp.Diff(want, ent.Flags); diff != "" {
		t.Errorf("flags mismatch (-want +got):\n%s", diff)
	}
}

func TestStaleSequenceDropped(t *testing.T) {
	r, _, _ := newTestReplicator(nil)

	r.OnRemoteState("r1", PlayerUpdateMsg{Position: [3]float64{5, 0, 0}, Sequence: 10})
	r.OnRemoteState("r1", PlayerUpdateMsg{Position: [3]float64{1, 0, 0}, Sequence: 4})

	ent, _ := r.Remote("r1")
	if ent.Position != [3]float64{5, 0, 0} {
		t.Errorf("stale update applied: %v", ent.Position)
	}
}

func TestOwnIDRedirectsToReconciliation(t *testing.T) {
	ctx := newTestContext(DefaultConfig(), nil, nil)
	ctx.setStatus(StatusConnected, 0, nil)
	recon := NewReconciliationGateway()
	sink := &captureStateSink{}
	r := NewStateReplicator(ctx, sink, recon)

	r.PublishState([3]float64{0, 0, 0}, [4]float64{0, 0, 0, 1}, [3]float64{}, nil)

	// An authoritative echo of our own id far from the predicted position
	r.OnRemoteState(ctx.PlayerID(), PlayerUpdateMsg{Position: [3]float64{1, 0, 0}})

	if _, ok := r.Remote(ctx.PlayerID()); ok {
		t.Error("own id must not appear in the remote table")
	}
	c, ok := recon.ConsumeCorrection()
	if !ok {
		t.Fatal("expected a pending correction")
	}
	if c.Position != [3]float64{1, 0, 0} {
		t.Errorf("correction position = %v", c.Position)
	}
}

func TestEvictAndClear(t *testing.T) {
	r, _, _ := newTestReplicator(nil)
	r.OnRemoteState("r1", PlayerUpdateMsg{Sequence: 1})
	r.OnRemoteState("r2", PlayerUpdateMsg{Sequence: 1})

	r.Evict("r1")
	if _, ok := r.Remote("r1"); ok {
		t.Error("r1 should be evicted")
	}

	r.Clear()
	if got := r.Remotes(); len(got) != 0 {
		t.Errorf("expected empty table after clear, got %d", len(got))
	}
}

func TestLivenessSweep(t *testing.T) {
	r, _, _ := newTestReplicator(nil)
	r.OnRemoteState("silent", PlayerUpdateMsg{Sequence: 1})
	r.OnRemoteState("active", PlayerUpdateMsg{Sequence: 1})

	// Backdate one entity past the liveness window
	r.mu.Lock()
	r.remotes["silent"].LastSeen = time.Now().Add(-DefaultConfig().EntityTimeout - time.Second)
	r.mu.Unlock()

	r.sweep()

	if _, ok := r.Remote("silent"); ok {
		t.Error("silent entity should be swept")
	}
	if _, ok := r.Remote("active"); !ok {
		t.Error("active entity should survive the sweep")
	}
}

func TestRemotesSnapshot(t *testing.T) {
	r, _, _ := newTestReplicator(nil)
	r.OnRemoteState("r1", PlayerUpdateMsg{Position: [3]float64{1, 2, 3}, Sequence: 1, Role: "merc"})

	got := r.Remotes()
	want := []RemoteEntityState{{
		ID:       "r1",
		Position: [3]float64{1, 2, 3},
		Sequence: 1,
		Role:     "merc",
	}}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(RemoteEntityState{}, "LastSeen")); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}
