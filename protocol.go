package netsync

import "encoding/json"

// Client -> Server message types
const (
	MsgAuth        = "auth"
	MsgJoinSession = "join_session"
	MsgKeepalive   = "keepalive"
	MsgPing        = "ping"
)

// Server -> Client message types
const (
	MsgConnection   = "connection"
	MsgWelcome      = "welcome"
	MsgAuthSuccess  = "auth_success"
	MsgJoinSuccess  = "join_success"
	MsgPlayerJoined = "player_joined"
	MsgPlayerLeft   = "player_left"
	MsgPlayerList   = "player_list"
	MsgPong         = "pong"
	MsgServerState  = "server_state"
)

// Bidirectional message types
const (
	MsgPlayerUpdate = "player_update"
	MsgGameEvent    = "game_event"
)

// Game event discriminators carried inside game_event messages
const (
	EventShot         = "player_shoot"
	EventRespawn      = "player_respawn"
	EventScoreUpdate  = "game_score_update"
	EventScoreRequest = "game_score_request"
)

// Score event kinds. Direct events originate from an observed kill; sync
// events are the host's periodic broadcast. Both merge by max.
const (
	ScoreTypeDirect = "direct"
	ScoreTypeSync   = "sync"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// InEnvelope is used for incoming messages; json.RawMessage avoids
// double-unmarshal
type InEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AuthMsg announces this session to the server
type AuthMsg struct {
	PlayerName string `json:"playerName"`
	SessionKey string `json:"sessionKey,omitempty"`
}

// WelcomeMsg is the server's handshake response
type WelcomeMsg struct {
	ID        string                     `json:"id"`
	Session   string                     `json:"session,omitempty"`
	GameState map[string]PlayerUpdateMsg `json:"gameState,omitempty"`
}

// MovementFlags carries coarse movement state alongside a player update.
// When absent the receiver derives walking/running from velocity.
type MovementFlags struct {
	Walking bool `json:"walking" msgpack:"w"`
	Running bool `json:"running" msgpack:"r"`
	LightOn bool `json:"lightOn,omitempty" msgpack:"l"`
}

// PlayerUpdateMsg is the periodic movement state message. On the wire it is
// either a JSON game message or a msgpack-encoded binary frame.
type PlayerUpdateMsg struct {
	ID       string         `json:"id,omitempty" msgpack:"id"`
	Position [3]float64     `json:"position" msgpack:"p"`
	Rotation [4]float64     `json:"rotation" msgpack:"q"`
	Velocity [3]float64     `json:"velocity" msgpack:"v"`
	Sequence uint64         `json:"sequence" msgpack:"s"`
	Health   int            `json:"health,omitempty" msgpack:"hp"`
	Role     string         `json:"role,omitempty" msgpack:"role"`
	Flags    *MovementFlags `json:"flags,omitempty" msgpack:"f"`
}

// GameEventMsg is the wire form of every discrete game event. ShotID is the
// dedup key for all event types, not only shots.
type GameEventMsg struct {
	EventType string `json:"event_type"`
	ShotID    string `json:"shotId"`
	Source    string `json:"source,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// player_shoot
	Origin    *[3]float64 `json:"origin,omitempty"`
	Direction *[3]float64 `json:"direction,omitempty"`

	// player_respawn
	PlayerID      string      `json:"player_id,omitempty"`
	RequestedBy   string      `json:"requestedBy,omitempty"`
	SpawnPosition *[3]float64 `json:"spawnPosition,omitempty"`

	// game_score_update
	ScoreType       string `json:"scoreType,omitempty"`
	JackalopesScore *int   `json:"jackalopesScore,omitempty"`
	MercsScore      *int   `json:"mercsScore,omitempty"`
}

// PlayerJoinedMsg notifies that a remote player entered the session
type PlayerJoinedMsg struct {
	ID string `json:"id"`
}

// PlayerLeftMsg notifies that a remote player left the session
type PlayerLeftMsg struct {
	ID string `json:"id"`
}

// PlayerListMsg carries the full remote roster
type PlayerListMsg struct {
	Players map[string]PlayerUpdateMsg `json:"players"`
}

// KeepaliveMsg is the low-frequency idle-timeout preventer
type KeepaliveMsg struct {
	Timestamp int64 `json:"timestamp"`
}

// PingMsg is the latency probe; the server echoes it back as pong
type PingMsg struct {
	Nonce  string `json:"nonce"`
	SentAt int64  `json:"sentAt"`
}

// ServerStateMsg is an authoritative correction for the local player
type ServerStateMsg struct {
	Position        [3]float64 `json:"position"`
	PositionError   float64    `json:"positionError,omitempty"`
	ForceCorrection bool       `json:"forceCorrection,omitempty"`
}
