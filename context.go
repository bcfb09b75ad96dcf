package netsync

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SyncContext is the shared state injected into every component: connection
// status, this session's identity, measured latency, the logger, the
// scheduler and the typed event registries. Consumers read it through
// accessors; only the owning components mutate it.
type SyncContext struct {
	cfg   Config
	log   *Logger
	sched Scheduler
	store SharedStore

	sessionID string

	mu        sync.RWMutex
	status    ConnStatus
	playerID  string
	identity  PlayerIdentity
	hasIdent  bool
	latency   time.Duration

	connEvents *registry[ConnectionEvent]
	gameEvents *registry[GameEvent]
}

func newSyncContext(cfg Config, store SharedStore, sched Scheduler, logger *Logger) *SyncContext {
	return &SyncContext{
		cfg:        cfg,
		log:        logger,
		sched:      sched,
		store:      store,
		sessionID:  uuid.NewString(),
		connEvents: newRegistry[ConnectionEvent](),
		gameEvents: newRegistry[GameEvent](),
	}
}

// SessionID is this session's unique id, fixed at bootstrap
func (sc *SyncContext) SessionID() string { return sc.sessionID }

// PlayerID is the session-local player identifier: the server-assigned id
// once connected, the session id before that
func (sc *SyncContext) PlayerID() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.playerID != "" {
		return sc.playerID
	}
	return sc.sessionID
}

func (sc *SyncContext) setPlayerID(id string) {
	sc.mu.Lock()
	sc.playerID = id
	sc.mu.Unlock()
}

// Status returns the current connection status
func (sc *SyncContext) Status() ConnStatus {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.status
}

func (sc *SyncContext) setStatus(s ConnStatus, attempt int, cause error) {
	sc.mu.Lock()
	changed := sc.status != s
	sc.status = s
	sc.mu.Unlock()
	if changed {
		sc.connEvents.publish(ConnectionEvent{Status: s, Attempt: attempt, Err: cause})
	}
}

// Latency is the half round-trip time of the most recent successful probe
func (sc *SyncContext) Latency() time.Duration {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.latency
}

func (sc *SyncContext) setLatency(d time.Duration) {
	sc.mu.Lock()
	sc.latency = d
	sc.mu.Unlock()
}

// Identity returns the assigned identity, if one has been assigned yet
func (sc *SyncContext) Identity() (PlayerIdentity, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.identity, sc.hasIdent
}

func (sc *SyncContext) setIdentity(ident PlayerIdentity) {
	sc.mu.Lock()
	sc.identity = ident
	sc.hasIdent = true
	sc.mu.Unlock()
}

// OnConnectionEvent subscribes to connection status changes
func (sc *SyncContext) OnConnectionEvent(fn func(ConnectionEvent)) CancelFunc {
	return sc.connEvents.subscribe(fn)
}

// OnGameEvent subscribes to deduplicated game events
func (sc *SyncContext) OnGameEvent(fn func(GameEvent)) CancelFunc {
	return sc.gameEvents.subscribe(fn)
}

func (sc *SyncContext) publishGameEvent(ev GameEvent) {
	sc.gameEvents.publish(ev)
}
