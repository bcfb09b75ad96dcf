package netsync

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Manager wires the components together and routes inbound wire messages.
// It is the single entry point for callers: rendering, physics and input
// code talk to a Manager and never to the components directly.
type Manager struct {
	ctx        *SyncContext
	store      SharedStore
	ownStore   *SQLiteStore // closed on teardown when we opened it
	transport  *TransportSession
	identity   *IdentityAssignor
	replicator *StateReplicator
	dedup      *EventDeduplicator
	offline    *OfflineFallbackChannel
	election   *HostElection
	recon      *ReconciliationGateway
	score      *ScoreState

	mu            sync.Mutex
	scoreSyncStop CancelFunc
	unsubEvents   CancelFunc
}

// New creates a Manager from cfg. With a StorePath it opens the shared
// sqlite store; otherwise coordination is limited to this process.
func New(cfg Config) (*Manager, error) {
	logger := NewLogger(cfg.LogLevel)
	sched := NewScheduler()

	var store SharedStore
	var owned *SQLiteStore
	if cfg.StorePath != "" {
		s, err := OpenSQLiteStore(cfg.StorePath, sched, logger)
		if err != nil {
			return nil, err
		}
		store = s
		owned = s
	} else {
		store = NewMemoryStore()
	}

	m := build(cfg, store, sched, logger)
	m.ownStore = owned
	return m, nil
}

// NewWithStore creates a Manager on an injected store and scheduler. Used
// by tests and multi-session simulations.
func NewWithStore(cfg Config, store SharedStore, sched Scheduler) *Manager {
	return build(cfg, store, sched, NewLogger(cfg.LogLevel))
}

func build(cfg Config, store SharedStore, sched Scheduler, logger *Logger) *Manager {
	ctx := newSyncContext(cfg, store, sched, logger)

	m := &Manager{
		ctx:   ctx,
		store: store,
		recon: NewReconciliationGateway(),
		score: NewScoreState(),
	}

	m.offline = NewOfflineFallbackChannel(ctx, m.HandleText)

	sessionKey := cfg.SessionKey
	if sessionKey == "" && len(cfg.SessionSecret) > 0 {
		key, err := MintSessionKey(cfg.SessionSecret, cfg.PlayerName, ctx.SessionID())
		if err != nil {
			logger.Warnf("session key mint failed: %v", err)
		} else {
			sessionKey = key
		}
	}
	m.transport = NewTransportSession(ctx, m.offline, m, sessionKey)

	m.identity = NewIdentityAssignor(ctx)
	m.replicator = NewStateReplicator(ctx, m.transport, m.recon)

	var mirror eventSink
	if cfg.LocalMirror {
		mirror = offlineEventSink{m.offline}
	}
	m.dedup = NewEventDeduplicator(ctx, m.transport, mirror)

	m.election = NewHostElection(ctx, m.onHostChange)
	m.unsubEvents = ctx.OnGameEvent(m.applyEvent)
	return m
}

// offlineEventSink mirrors emitted events over the broadcast channel
type offlineEventSink struct {
	ch *OfflineFallbackChannel
}

func (s offlineEventSink) SendEvent(msg GameEventMsg) {
	raw, err := json.Marshal(Envelope{Type: MsgGameEvent, Data: msg})
	if err != nil {
		return
	}
	s.ch.Broadcast(raw)
}

// Connect bootstraps the session: identity assignment, transport
// connection, offline observation and host election
func (m *Manager) Connect() {
	m.identity.Identity()
	m.offline.Start()
	m.replicator.Start()
	m.election.Start()
	m.transport.Connect()
}

// Disconnect tears the session down. Idempotent.
func (m *Manager) Disconnect() {
	m.transport.Disconnect()
	m.election.Stop()
	m.replicator.Stop()
	m.offline.Stop()
	m.mu.Lock()
	if m.scoreSyncStop != nil {
		m.scoreSyncStop()
		m.scoreSyncStop = nil
	}
	m.mu.Unlock()
}

// Close releases everything Disconnect does plus owned resources
func (m *Manager) Close() error {
	m.Disconnect()
	if m.unsubEvents != nil {
		m.unsubEvents()
	}
	if m.ownStore != nil {
		return m.ownStore.Close()
	}
	return nil
}

// Identity returns this session's player identity, assigning it if needed
func (m *Manager) Identity() PlayerIdentity { return m.identity.Identity() }

// ForceRole overrides the assigned role, for testing and operator control
func (m *Manager) ForceRole(role Role) { m.identity.ForceRole(role) }

// ResetCounter clears the shared player counter
func (m *Manager) ResetCounter() { m.identity.ResetCounter() }

// Status returns the connection status
func (m *Manager) Status() ConnStatus { return m.ctx.Status() }

// Latency returns the measured one-way latency estimate
func (m *Manager) Latency() time.Duration { return m.ctx.Latency() }

// IsHost reports whether this session holds host authority
func (m *Manager) IsHost() bool { return m.election.IsHost() }

// Scores returns the current (jackalopes, mercs) totals
func (m *Manager) Scores() (int, int) { return m.score.Scores() }

// RemotePlayers returns the last-known state of all remote entities
func (m *Manager) RemotePlayers() []RemoteEntityState { return m.replicator.Remotes() }

// ConsumeCorrection returns the pending authoritative correction at most
// once
func (m *Manager) ConsumeCorrection() (Correction, bool) { return m.recon.ConsumeCorrection() }

// OnConnectionEvent subscribes to connection status changes
func (m *Manager) OnConnectionEvent(fn func(ConnectionEvent)) CancelFunc {
	return m.ctx.OnConnectionEvent(fn)
}

// OnGameEvent subscribes to deduplicated game events
func (m *Manager) OnGameEvent(fn func(GameEvent)) CancelFunc {
	return m.ctx.OnGameEvent(fn)
}

// PublishState pushes a local position/velocity sample toward other
// sessions, throttled to the configured rate
func (m *Manager) PublishState(pos [3]float64, rot [4]float64, vel [3]float64, flags *MovementFlags) {
	m.replicator.PublishState(pos, rot, vel, flags)
}

// Shoot emits a shot event
func (m *Manager) Shoot(origin, direction [3]float64) {
	m.dedup.Emit(ShotEvent{
		EventMeta: m.newMeta(),
		OriginPos: origin,
		Direction: direction,
	})
}

// RequestRespawn emits a respawn request for playerID at spawn
func (m *Manager) RequestRespawn(playerID string, spawn [3]float64) {
	m.dedup.Emit(RespawnEvent{
		EventMeta:     m.newMeta(),
		PlayerID:      playerID,
		RequestedBy:   m.ctx.PlayerID(),
		SpawnPosition: spawn,
	})
}

// RecordKill scores a point for role locally and broadcasts the new totals
// as a direct event
func (m *Manager) RecordKill(role Role) {
	j, s := m.score.AddPoint(role)
	m.dedup.Emit(ScoreEvent{
		EventMeta:  m.newMeta(),
		ScoreType:  ScoreTypeDirect,
		Jackalopes: j,
		Mercs:      s,
	})
}

// RequestScores asks the host to broadcast its score totals
func (m *Manager) RequestScores() {
	m.dedup.Emit(ScoreRequestEvent{EventMeta: m.newMeta()})
}

func (m *Manager) newMeta() EventMeta {
	return EventMeta{
		ID:     m.dedup.NewID(),
		Origin: m.ctx.PlayerID(),
		SentAt: time.Now().UnixMilli(),
	}
}

// HandleText routes one JSON wire message. Implements inboundRouter; also
// the delivery point for offline broadcasts.
func (m *Manager) HandleText(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		m.ctx.log.Warnf("malformed message dropped: %v", err)
		return
	}

	switch env.Type {
	case MsgConnection, MsgWelcome, MsgAuthSuccess, MsgJoinSuccess:
		m.handleWelcome(env.Data)
	case MsgPlayerUpdate:
		var msg PlayerUpdateMsg
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			m.ctx.log.Warnf("malformed player_update dropped: %v", err)
			return
		}
		m.replicator.OnRemoteState(msg.ID, msg)
	case MsgGameEvent:
		var msg GameEventMsg
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			m.ctx.log.Warnf("malformed game_event dropped: %v", err)
			return
		}
		ev, ok := eventFromWire(msg)
		if !ok {
			m.ctx.log.Debugf("unknown event type %q dropped", msg.EventType)
			return
		}
		m.dedup.Receive(ev)
	case MsgPlayerJoined:
		var msg PlayerJoinedMsg
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		m.ctx.log.Infof("player joined: %s", msg.ID)
	case MsgPlayerLeft:
		var msg PlayerLeftMsg
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		m.replicator.Evict(msg.ID)
	case MsgPlayerList:
		var msg PlayerListMsg
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		for id, update := range msg.Players {
			m.replicator.OnRemoteState(id, update)
		}
	case MsgPong:
		var msg PingMsg
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		m.transport.HandlePong(msg)
	case MsgServerState:
		var msg ServerStateMsg
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		m.recon.OnServerState(msg.Position, msg.PositionError, msg.ForceCorrection)
	case MsgKeepalive:
		// Liveness only
	default:
		m.ctx.log.Debugf("unhandled message type %q", env.Type)
	}
}

// HandleBinary routes one msgpack binary frame (always a player_update).
// Implements inboundRouter.
func (m *Manager) HandleBinary(raw []byte) {
	var msg PlayerUpdateMsg
	if err := msgpack.Unmarshal(raw, &msg); err != nil {
		m.ctx.log.Warnf("malformed binary frame dropped: %v", err)
		return
	}
	m.replicator.OnRemoteState(msg.ID, msg)
}

// handleWelcome processes the server handshake: adopt the assigned id,
// clear the stale remote table, seed the fresh roster, and claim host if we
// are first through
func (m *Manager) handleWelcome(data json.RawMessage) {
	var msg WelcomeMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		m.ctx.log.Warnf("malformed welcome dropped: %v", err)
		return
	}
	if msg.ID != "" {
		m.ctx.setPlayerID(msg.ID)
	}
	m.replicator.Clear()
	for id, update := range msg.GameState {
		m.replicator.OnRemoteState(id, update)
	}
	m.election.ClaimServerHost()
	m.ctx.log.Infof("welcome: id=%s session=%s", msg.ID, msg.Session)
}

// applyEvent consumes deduplicated events that this core owns state for
func (m *Manager) applyEvent(ev GameEvent) {
	switch e := ev.(type) {
	case ScoreEvent:
		if e.ScoreType == ScoreTypeDirect {
			m.score.ApplyDirect(e.Jackalopes, e.Mercs)
		} else {
			m.score.ApplySync(e.Jackalopes, e.Mercs)
		}
	case ScoreRequestEvent:
		if m.election.IsHost() {
			m.broadcastScoreSync()
		}
	}
}

// onHostChange starts or stops the host's periodic score sync
func (m *Manager) onHostChange(isHost bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if isHost {
		if m.scoreSyncStop == nil {
			m.scoreSyncStop = m.ctx.sched.Every(m.ctx.cfg.ScoreSyncInterval, m.broadcastScoreSync)
		}
		return
	}
	if m.scoreSyncStop != nil {
		m.scoreSyncStop()
		m.scoreSyncStop = nil
	}
}

func (m *Manager) broadcastScoreSync() {
	j, s := m.score.Scores()
	m.dedup.Emit(ScoreEvent{
		EventMeta:  m.newMeta(),
		ScoreType:  ScoreTypeSync,
		Jackalopes: j,
		Mercs:      s,
	})
}
