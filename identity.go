package netsync

import (
	"strconv"
	"sync"
	"time"
)

// Role is one of the two player categories, assigned by index parity
type Role int

const (
	RoleJackalope Role = iota // even indices
	RoleMerc                  // odd indices
	RoleSpectator             // overflow past MaxPlayers
)

func (r Role) String() string {
	switch r {
	case RoleJackalope:
		return "jackalope"
	case RoleMerc:
		return "merc"
	case RoleSpectator:
		return "spectator"
	}
	return "unknown"
}

// RoleForIndex maps a player index to its role. Indices at or past max
// degrade to spectator instead of erroring.
func RoleForIndex(index, max int) Role {
	if max > 0 && index >= max {
		return RoleSpectator
	}
	if index%2 == 0 {
		return RoleJackalope
	}
	return RoleMerc
}

// PlayerIdentity is the (index, role, name) triple assigned once per session
type PlayerIdentity struct {
	Index int
	Role  Role
	Name  string
}

const (
	keyPlayerCount        = "player_count"
	keyPlayerCountUpdated = "player_count_updated"
)

// IdentityAssignor derives this session's player index and role from the
// shared counter. Assignment is lazy and happens at most once; ForceRole and
// ResetCounter are the only mutations after that.
type IdentityAssignor struct {
	ctx     *SyncContext
	counter *SharedCounter

	mu       sync.Mutex
	assigned bool
	ident    PlayerIdentity

	resets *registry[struct{}]
}

// NewIdentityAssignor creates an assignor on the context's shared store
func NewIdentityAssignor(ctx *SyncContext) *IdentityAssignor {
	return &IdentityAssignor{
		ctx:     ctx,
		counter: NewSharedCounter(ctx.store, keyPlayerCount),
		resets:  newRegistry[struct{}](),
	}
}

// Identity returns the assigned identity, computing it on first access
func (a *IdentityAssignor) Identity() PlayerIdentity {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.assigned {
		a.ident = a.assign()
		a.assigned = true
		a.ctx.setIdentity(a.ident)
	}
	return a.ident
}

// assign performs the read-increment-write on the shared counter. Caller
// must hold mu.
func (a *IdentityAssignor) assign() PlayerIdentity {
	now := time.Now()
	if raw, ok, err := a.ctx.store.Get(keyPlayerCountUpdated); err == nil && ok {
		if ms, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			if now.Sub(time.UnixMilli(ms)) >= a.ctx.cfg.CounterIdleReset {
				// Counter is stale from a long-dead set of sessions
				a.counter.Reset()
			}
		}
	}

	index := a.counter.Next()
	if err := a.ctx.store.Set(keyPlayerCountUpdated, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		a.ctx.log.Warnf("identity: activity timestamp not recorded: %v", err)
	}

	ident := PlayerIdentity{
		Index: index,
		Role:  RoleForIndex(index, a.ctx.cfg.MaxPlayers),
		Name:  a.ctx.cfg.PlayerName,
	}
	a.ctx.log.Infof("identity assigned: index=%d role=%s", ident.Index, ident.Role)
	return ident
}

// ForceRole adjusts the cached index's parity to match the requested role.
// The shared counter is untouched. Spectator cannot be forced.
func (a *IdentityAssignor) ForceRole(role Role) {
	if role != RoleJackalope && role != RoleMerc {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.assigned {
		a.ident = a.assign()
		a.assigned = true
	}
	if RoleForIndex(a.ident.Index, 0) != role {
		a.ident.Index++
	}
	a.ident.Role = role
	a.ctx.setIdentity(a.ident)
}

// ResetCounter clears the shared counter and notifies same-process
// listeners. Cross-context sessions observe the change through the store's
// own notification mechanism.
func (a *IdentityAssignor) ResetCounter() {
	a.counter.Reset()
	a.ctx.store.Delete(keyPlayerCountUpdated)
	a.resets.publish(struct{}{})
}

// OnReset subscribes to same-process counter resets
func (a *IdentityAssignor) OnReset(fn func()) CancelFunc {
	return a.resets.subscribe(func(struct{}) { fn() })
}
