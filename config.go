package netsync

import (
	"os"
	"strconv"
	"time"
)

// Config carries every tunable of the core. Components read it through the
// SyncContext they are constructed with; nothing consults package globals.
type Config struct {
	// ServerURL is the websocket endpoint, e.g. ws://localhost:8082/ws
	ServerURL  string
	PlayerName string
	// SessionKey joins an existing session. Empty mints a guest key.
	SessionKey string
	// SessionSecret signs and verifies guest session keys
	SessionSecret []byte
	// StorePath is the sqlite shared-store file. Empty uses a MemoryStore,
	// which limits cross-session coordination to this process.
	StorePath string
	LogLevel  LogLevel
	// LocalMirror additionally broadcasts emitted events over the offline
	// channel, for same-machine multi-session testing
	LocalMirror bool
	// MaxPlayers caps role assignment; indices past it become spectators
	MaxPlayers int

	ProbeTimeout         time.Duration
	DialTimeout          time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	OfflineRetryInterval time.Duration
	KeepaliveInterval    time.Duration
	PingInterval         time.Duration
	// PublishRate caps outbound state updates, in updates per second
	PublishRate       float64
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	// CounterIdleReset resets the shared player counter after this much
	// inactivity
	CounterIdleReset time.Duration
	// EntityTimeout evicts remote entities not heard from for this long
	EntityTimeout     time.Duration
	ScoreSyncInterval time.Duration
}

// DefaultConfig returns the standard tuning
func DefaultConfig() Config {
	return Config{
		ServerURL:            "ws://localhost:8082/ws",
		PlayerName:           "Player",
		LogLevel:             LogWarn,
		MaxPlayers:           4,
		ProbeTimeout:         3 * time.Second,
		DialTimeout:          5 * time.Second,
		ReconnectInterval:    2 * time.Second,
		MaxReconnectAttempts: 10,
		OfflineRetryInterval: 10 * time.Second,
		KeepaliveInterval:    30 * time.Second,
		PingInterval:         2 * time.Second,
		PublishRate:          20,
		HeartbeatInterval:    5 * time.Second,
		HeartbeatTimeout:     10 * time.Second,
		CounterIdleReset:     5 * time.Minute,
		EntityTimeout:        15 * time.Second,
		ScoreSyncInterval:    10 * time.Second,
	}
}

// FromEnv overlays JKL_-prefixed environment variables onto cfg
func (c Config) FromEnv() Config {
	if v := os.Getenv("JKL_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("JKL_PLAYER_NAME"); v != "" {
		c.PlayerName = v
	}
	if v := os.Getenv("JKL_SESSION_KEY"); v != "" {
		c.SessionKey = v
	}
	if v := os.Getenv("JKL_SESSION_SECRET"); v != "" {
		c.SessionSecret = []byte(v)
	}
	if v := os.Getenv("JKL_STORE_PATH"); v != "" {
		c.StorePath = v
	}
	if v := os.Getenv("JKL_LOG_LEVEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LogLevel = LogLevel(n)
		}
	}
	if v := os.Getenv("JKL_LOCAL_MIRROR"); v == "1" || v == "true" {
		c.LocalMirror = true
	}
	return c
}
