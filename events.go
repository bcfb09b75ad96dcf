package netsync

import "sync"

// ConnStatus is the connection state of a session
type ConnStatus int

const (
	StatusDisconnected ConnStatus = iota
	StatusConnecting
	StatusConnected
	StatusOffline
)

func (s ConnStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusOffline:
		return "offline"
	}
	return "unknown"
}

// ConnectionEvent is published on every connection status change
type ConnectionEvent struct {
	Status  ConnStatus
	Attempt int   // reconnect attempt counter, 0 outside reconnection
	Err     error // cause, when one exists
}

// EventMeta is the common header of every game event. ID is the dedup key.
type EventMeta struct {
	ID     string
	Origin string
	SentAt int64
}

// Meta returns the event header
func (m EventMeta) Meta() EventMeta { return m }

func (EventMeta) isGameEvent() {}

// GameEvent is the closed union of discrete game events. Only the types in
// this file implement it, so switches over the concrete types are
// exhaustive.
type GameEvent interface {
	isGameEvent()
	Meta() EventMeta
}

// ShotEvent is a fired projectile
type ShotEvent struct {
	EventMeta
	OriginPos [3]float64
	Direction [3]float64
}

// RespawnEvent requests that a player respawn at a position
type RespawnEvent struct {
	EventMeta
	PlayerID      string
	RequestedBy   string
	SpawnPosition [3]float64
}

// ScoreEvent proposes new score totals. Both direct and sync events merge
// by max, so stale proposals cannot lower a counter.
type ScoreEvent struct {
	EventMeta
	ScoreType  string
	Jackalopes int
	Mercs      int
}

// ScoreRequestEvent asks the host to broadcast its score totals
type ScoreRequestEvent struct {
	EventMeta
}

// registry is a typed subscription list. Publish fan-out is synchronous and
// runs outside the lock.
type registry[T any] struct {
	mu     sync.Mutex
	subs   map[int]func(T)
	nextID int
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{subs: make(map[int]func(T))}
}

func (r *registry[T]) subscribe(fn func(T)) CancelFunc {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

func (r *registry[T]) publish(v T) {
	r.mu.Lock()
	fns := make([]func(T), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// eventToWire converts a GameEvent into its wire form
func eventToWire(ev GameEvent) GameEventMsg {
	meta := ev.Meta()
	msg := GameEventMsg{
		ShotID:    meta.ID,
		Source:    meta.Origin,
		Timestamp: meta.SentAt,
	}
	switch e := ev.(type) {
	case ShotEvent:
		msg.EventType = EventShot
		origin, dir := e.OriginPos, e.Direction
		msg.Origin = &origin
		msg.Direction = &dir
	case RespawnEvent:
		msg.EventType = EventRespawn
		msg.PlayerID = e.PlayerID
		msg.RequestedBy = e.RequestedBy
		spawn := e.SpawnPosition
		msg.SpawnPosition = &spawn
	case ScoreEvent:
		msg.EventType = EventScoreUpdate
		msg.ScoreType = e.ScoreType
		j, m := e.Jackalopes, e.Mercs
		msg.JackalopesScore = &j
		msg.MercsScore = &m
	case ScoreRequestEvent:
		msg.EventType = EventScoreRequest
	}
	return msg
}

// eventFromWire converts a wire message into a GameEvent. Returns false for
// unknown event types.
func eventFromWire(msg GameEventMsg) (GameEvent, bool) {
	meta := EventMeta{ID: msg.ShotID, Origin: msg.Source, SentAt: msg.Timestamp}
	switch msg.EventType {
	case EventShot:
		ev := ShotEvent{EventMeta: meta}
		if msg.Origin != nil {
			ev.OriginPos = *msg.Origin
		}
		if msg.Direction != nil {
			ev.Direction = *msg.Direction
		}
		return ev, true
	case EventRespawn:
		ev := RespawnEvent{EventMeta: meta, PlayerID: msg.PlayerID, RequestedBy: msg.RequestedBy}
		if msg.SpawnPosition != nil {
			ev.SpawnPosition = *msg.SpawnPosition
		}
		return ev, true
	case EventScoreUpdate:
		ev := ScoreEvent{EventMeta: meta, ScoreType: msg.ScoreType}
		if msg.JackalopesScore != nil {
			ev.Jackalopes = *msg.JackalopesScore
		}
		if msg.MercsScore != nil {
			ev.Mercs = *msg.MercsScore
		}
		return ev, true
	case EventScoreRequest:
		return ScoreRequestEvent{EventMeta: meta}, true
	}
	return nil, false
}
