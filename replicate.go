package netsync

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// Horizontal speed thresholds for derived movement flags
	walkSpeedThreshold = 0.2
	runSpeedThreshold  = 5.5

	entitySweepInterval = 5 * time.Second
)

// stateSink delivers outbound movement state to the wire
type stateSink interface {
	SendUpdate(msg PlayerUpdateMsg)
}

// RemoteEntityState is the last-known state of one remote player
type RemoteEntityState struct {
	ID       string
	Position [3]float64
	Rotation [4]float64
	Velocity [3]float64
	Health   int
	Role     string
	Flags    MovementFlags
	Sequence uint64
	LastSeen time.Time
}

// StateReplicator publishes local movement state at a capped rate and
// maintains the table of remote entities
type StateReplicator struct {
	ctx     *SyncContext
	sink    stateSink
	recon   *ReconciliationGateway
	limiter *rate.Limiter

	mu          sync.RWMutex
	remotes     map[string]*RemoteEntityState
	seq         uint64
	lastLocal   [3]float64
	hasLocal    bool
	sweepCancel CancelFunc
}

// NewStateReplicator creates a replicator sending through sink
func NewStateReplicator(ctx *SyncContext, sink stateSink, recon *ReconciliationGateway) *StateReplicator {
	return &StateReplicator{
		ctx:     ctx,
		sink:    sink,
		recon:   recon,
		limiter: rate.NewLimiter(rate.Limit(ctx.cfg.PublishRate), 1),
		remotes: make(map[string]*RemoteEntityState),
	}
}

// Start begins the liveness sweep that evicts silent entities
func (r *StateReplicator) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sweepCancel != nil {
		return
	}
	r.sweepCancel = r.ctx.sched.Every(entitySweepInterval, r.sweep)
}

// Stop halts the liveness sweep
func (r *StateReplicator) Stop() {
	r.mu.Lock()
	cancel := r.sweepCancel
	r.sweepCancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// PublishState sends the local movement state, throttled to the configured
// outbound rate regardless of caller frequency. Drops silently when the
// transport is not ready.
func (r *StateReplicator) PublishState(pos [3]float64, rot [4]float64, vel [3]float64, flags *MovementFlags) {
	if !r.limiter.Allow() {
		return
	}
	status := r.ctx.Status()
	if status != StatusConnected && status != StatusOffline {
		return
	}

	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.lastLocal = pos
	r.hasLocal = true
	r.mu.Unlock()

	role := ""
	if ident, ok := r.ctx.Identity(); ok {
		role = ident.Role.String()
	}
	r.sink.SendUpdate(PlayerUpdateMsg{
		ID:       r.ctx.PlayerID(),
		Position: pos,
		Rotation: rot,
		Velocity: vel,
		Sequence: seq,
		Role:     role,
		Flags:    flags,
	})
}

// OnRemoteState updates or creates the entity for id. Updates bearing the
// local id are authoritative echoes and route to the reconciliation path
// instead.
func (r *StateReplicator) OnRemoteState(id string, msg PlayerUpdateMsg) {
	if id == "" {
		id = msg.ID
	}
	if id == "" {
		return
	}
	if id == r.ctx.PlayerID() || id == r.ctx.SessionID() {
		r.reconcileLocal(msg)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ent, ok := r.remotes[id]
	if !ok {
		ent = &RemoteEntityState{ID: id}
		r.remotes[id] = ent
	} else if msg.Sequence != 0 && msg.Sequence < ent.Sequence {
		// Out-of-order update, last write wins by sequence
		ent.LastSeen = time.Now()
		return
	}

	ent.Position = msg.Position
	ent.Rotation = msg.Rotation
	ent.Velocity = msg.Velocity
	ent.Sequence = msg.Sequence
	ent.LastSeen = time.Now()
	if msg.Health != 0 {
		ent.Health = msg.Health
	}
	if msg.Role != "" {
		ent.Role = msg.Role
	}
	if msg.Flags != nil {
		ent.Flags = *msg.Flags
	} else {
		speed := HorizontalSpeed(msg.Velocity)
		ent.Flags.Walking = speed > walkSpeedThreshold
		ent.Flags.Running = speed > runSpeedThreshold
	}
}

// reconcileLocal turns an authoritative echo of the local player into a
// correction
func (r *StateReplicator) reconcileLocal(msg PlayerUpdateMsg) {
	r.mu.RLock()
	local := r.lastLocal
	has := r.hasLocal
	r.mu.RUnlock()
	if !has {
		return
	}
	r.recon.OnServerState(msg.Position, Distance3(local, msg.Position), false)
}

// Remote returns the entity for id, if known
func (r *StateReplicator) Remote(id string) (RemoteEntityState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ent, ok := r.remotes[id]
	if !ok {
		return RemoteEntityState{}, false
	}
	return *ent, true
}

// Remotes returns a snapshot of all known remote entities
func (r *StateReplicator) Remotes() []RemoteEntityState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RemoteEntityState, 0, len(r.remotes))
	for _, ent := range r.remotes {
		out = append(out, *ent)
	}
	return out
}

// Evict removes an entity after a player_left notification
func (r *StateReplicator) Evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.remotes, id)
}

// Clear empties the remote table. Used on reconnect; the server's fresh
// state repopulates it.
func (r *StateReplicator) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remotes = make(map[string]*RemoteEntityState)
}

// sweep evicts entities past the liveness timeout
func (r *StateReplicator) sweep() {
	cutoff := time.Now().Add(-r.ctx.cfg.EntityTimeout)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ent := range r.remotes {
		if ent.LastSeen.Before(cutoff) {
			r.ctx.log.Debugf("evicting silent entity %s", id)
			delete(r.remotes, id)
		}
	}
}
