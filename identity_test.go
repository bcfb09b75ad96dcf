package netsync

import (
	"strconv"
	"testing"
	"time"
)

func TestRoleForIndex(t *testing.T) {
	if RoleForIndex(0, 4) != RoleJackalope {
		t.Error("index 0 should be jackalope")
	}
	if RoleForIndex(1, 4) != RoleMerc {
		t.Error("index 1 should be merc")
	}
	if RoleForIndex(2, 4) != RoleJackalope {
		t.Error("index 2 should be jackalope")
	}
	if RoleForIndex(4, 4) != RoleSpectator {
		t.Error("index 4 should overflow to spectator")
	}
	if RoleForIndex(9, 4) != RoleSpectator {
		t.Error("index 9 should overflow to spectator")
	}
}

func TestIdentityAssignmentPermutation(t *testing.T) {
	store := NewMemoryStore()

	const n = 4
	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		ctx := newTestContext(DefaultConfig(), store, nil)
		a := NewIdentityAssignor(ctx)
		ident := a.Identity()
		if seen[ident.Index] {
			t.Fatalf("index %d assigned twice", ident.Index)
		}
		seen[ident.Index] = true
		want := RoleForIndex(ident.Index, 4)
		if ident.Role != want {
			t.Errorf("index %d: role = %s, want %s", ident.Index, ident.Role, want)
		}
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			t.Errorf("index %d never assigned", i)
		}
	}
}

func TestIdentityAssignedOnce(t *testing.T) {
	ctx := newTestContext(DefaultConfig(), nil, nil)
	a := NewIdentityAssignor(ctx)

	first := a.Identity()
	second := a.Identity()
	if first != second {
		t.Errorf("identity changed between accesses: %+v != %+v", first, second)
	}
}

func TestIdentityOverflowSpectator(t *testing.T) {
	store := NewMemoryStore()
	var last PlayerIdentity
	for i := 0; i < 5; i++ {
		ctx := newTestContext(DefaultConfig(), store, nil)
		last = NewIdentityAssignor(ctx).Identity()
	}
	if last.Index != 4 {
		t.Fatalf("expected index 4, got %d", last.Index)
	}
	if last.Role != RoleSpectator {
		t.Errorf("expected spectator, got %s", last.Role)
	}
}

func TestForceRoleAdjustsParity(t *testing.T) {
	ctx := newTestContext(DefaultConfig(), nil, nil)
	a := NewIdentityAssignor(ctx)

	ident := a.Identity() // index 0, jackalope
	if ident.Role != RoleJackalope {
		t.Fatalf("expected jackalope, got %s", ident.Role)
	}

	a.ForceRole(RoleMerc)
	ident = a.Identity()
	if ident.Role != RoleMerc {
		t.Errorf("expected merc after force, got %s", ident.Role)
	}
	if ident.Index%2 != 1 {
		t.Errorf("expected odd index after forcing merc, got %d", ident.Index)
	}

	// Forcing the role it already has changes nothing
	a.ForceRole(RoleMerc)
	if got := a.Identity(); got != ident {
		t.Errorf("identity changed on redundant force: %+v", got)
	}

	// Spectator cannot be forced
	a.ForceRole(RoleSpectator)
	if got := a.Identity(); got.Role != RoleMerc {
		t.Errorf("spectator force should be ignored, got %s", got.Role)
	}
}

func TestResetCounterNotifiesAndClears(t *testing.T) {
	store := NewMemoryStore()
	ctx := newTestContext(DefaultConfig(), store, nil)
	a := NewIdentityAssignor(ctx)
	a.Identity()

	fired := 0
	a.OnReset(func() { fired++ })
	a.ResetCounter()

	if fired != 1 {
		t.Errorf("expected 1 reset notification, got %d", fired)
	}
	if _, ok, _ := store.Get(keyPlayerCount); ok {
		t.Error("counter key should be cleared")
	}

	// Next session starts from 0 again
	ctx2 := newTestContext(DefaultConfig(), store, nil)
	if got := NewIdentityAssignor(ctx2).Identity().Index; got != 0 {
		t.Errorf("expected index 0 after reset, got %d", got)
	}
}

func TestIdleCounterReset(t *testing.T) {
	store := NewMemoryStore()

	// A stale counter from long-dead sessions
	store.Set(keyPlayerCount, "7")
	stale := time.Now().Add(-10 * time.Minute).UnixMilli()
	store.Set(keyPlayerCountUpdated, strconv.FormatInt(stale, 10))

	ctx := newTestContext(DefaultConfig(), store, nil)
	ident := NewIdentityAssignor(ctx).Identity()
	if ident.Index != 0 {
		t.Errorf("expected stale counter reset to yield index 0, got %d", ident.Index)
	}
}

func TestIdentityStoreUnavailable(t *testing.T) {
	ctx := newTestContext(DefaultConfig(), failStore{}, nil)
	ident := NewIdentityAssignor(ctx).Identity()
	if ident.Index != 0 {
		t.Errorf("expected local fallback index 0, got %d", ident.Index)
	}
	if ident.Role != RoleJackalope {
		t.Errorf("expected jackalope, got %s", ident.Role)
	}
}
