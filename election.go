package netsync

import (
	"strconv"
	"sync"
	"time"
)

const (
	keyHostID        = "host_id"
	keyHostHeartbeat = "host_heartbeat"
	// keyHostServer marks the current host as a server-handshake claimant,
	// which outranks heartbeat-elected hosts
	keyHostServer = "host_server"
)

// HostElection gives one session authority over shared counters when no
// central server arbitrates them. A host rewrites its heartbeat each cycle;
// non-hosts promote themselves when the heartbeat goes stale. Connecting to
// a real server overrides all of this: the first session through the
// handshake is host.
type HostElection struct {
	ctx      *SyncContext
	onChange func(isHost bool)

	mu          sync.Mutex
	isHost      bool
	serverClaim bool
	cancel      CancelFunc
}

// NewHostElection creates an election participant. onChange may be nil.
func NewHostElection(ctx *SyncContext, onChange func(isHost bool)) *HostElection {
	return &HostElection{ctx: ctx, onChange: onChange}
}

// Start begins the heartbeat/check cycle
func (e *HostElection) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	e.cancel = e.ctx.sched.Every(e.ctx.cfg.HeartbeatInterval, e.Cycle)
}

// Stop halts the cycle. A stopped host simply lets its heartbeat go stale.
func (e *HostElection) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// IsHost reports whether this session currently holds host authority
func (e *HostElection) IsHost() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isHost
}

// ClaimServerHost designates this session host after a real-server
// handshake. The claim overrides heartbeat-based election outright: an
// offline-elected host is displaced and yields at its next cycle. Among
// handshake completers the first one through wins; later completers find the
// earlier claim's marker and stand down.
func (e *HostElection) ClaimServerHost() {
	if e.serverHostLive() {
		if id, ok, err := e.ctx.store.Get(keyHostID); err == nil && ok && id != e.ctx.SessionID() {
			e.setHost(false)
			return
		}
	}
	e.mu.Lock()
	e.serverClaim = true
	e.mu.Unlock()
	e.setHost(true)
	e.writeHeartbeat()
}

// Cycle runs one election step: hosts refresh their heartbeat, non-hosts
// check its age and promote on timeout. Exported so simulations and tests
// can drive election without the scheduler.
func (e *HostElection) Cycle() {
	if e.IsHost() {
		// A server-handshake claimant displaces us outright; a racing
		// offline promotion resolves by lower session id
		if id, ok, err := e.ctx.store.Get(keyHostID); err == nil && ok && id != e.ctx.SessionID() {
			if e.serverHostLive() || (id < e.ctx.SessionID() && e.heartbeatFresh()) {
				e.ctx.log.Infof("host election: yielding to %s", id)
				e.setHost(false)
				return
			}
		}
		e.writeHeartbeat()
		return
	}

	if e.heartbeatFresh() {
		return
	}
	e.ctx.log.Infof("host election: heartbeat stale, promoting self")
	e.mu.Lock()
	e.serverClaim = false
	e.mu.Unlock()
	e.setHost(true)
	e.writeHeartbeat()
}

// serverHostLive reports whether the live heartbeat belongs to a session
// that claimed host through a real-server handshake
func (e *HostElection) serverHostLive() bool {
	v, ok, err := e.ctx.store.Get(keyHostServer)
	if err != nil || !ok || v != "1" {
		return false
	}
	return e.heartbeatFresh()
}

func (e *HostElection) heartbeatFresh() bool {
	raw, ok, err := e.ctx.store.Get(keyHostHeartbeat)
	if err != nil || !ok {
		return false
	}
	ms, perr := strconv.ParseInt(raw, 10, 64)
	if perr != nil {
		return false
	}
	return time.Since(time.UnixMilli(ms)) <= e.ctx.cfg.HeartbeatTimeout
}

func (e *HostElection) writeHeartbeat() {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := e.ctx.store.Set(keyHostID, e.ctx.SessionID()); err != nil {
		e.ctx.log.Warnf("host election: heartbeat write failed: %v", err)
		return
	}
	e.ctx.store.Set(keyHostHeartbeat, now)

	e.mu.Lock()
	claim := e.serverClaim
	e.mu.Unlock()
	if claim {
		e.ctx.store.Set(keyHostServer, "1")
	} else {
		e.ctx.store.Delete(keyHostServer)
	}
}

func (e *HostElection) setHost(host bool) {
	e.mu.Lock()
	changed := e.isHost != host
	e.isHost = host
	if !host {
		e.serverClaim = false
	}
	e.mu.Unlock()
	if changed && e.onChange != nil {
		e.onChange(host)
	}
}
