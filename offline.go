package netsync

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	broadcastPrefix = "bc_"
	broadcastTTL    = time.Second
)

// offlineEnvelope is the value written under each broadcast key
type offlineEnvelope struct {
	Sender  string          `json:"sender"`
	SentAt  int64           `json:"sentAt"`
	Payload json.RawMessage `json:"payload"`
}

// OfflineFallbackChannel re-implements broadcast semantics over the shared
// store when no server is reachable. Each message is written under a fresh
// key that other sessions observe through store change notification; the
// writer deletes the key shortly after to bound growth.
type OfflineFallbackChannel struct {
	ctx *SyncContext
	// deliver receives the raw wire payload of each foreign broadcast
	deliver func(raw []byte)

	mu        sync.Mutex
	cancelSub CancelFunc
	reapers   map[string]CancelFunc
}

// NewOfflineFallbackChannel creates the channel; deliver is invoked for
// every broadcast from another session
func NewOfflineFallbackChannel(ctx *SyncContext, deliver func(raw []byte)) *OfflineFallbackChannel {
	return &OfflineFallbackChannel{
		ctx:     ctx,
		deliver: deliver,
		reapers: make(map[string]CancelFunc),
	}
}

// Start begins observing broadcasts from other sessions
func (o *OfflineFallbackChannel) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelSub != nil {
		return
	}
	o.cancelSub = o.ctx.store.Subscribe(o.onStoreChange)
}

// Stop cancels the subscription and any pending key reapers
func (o *OfflineFallbackChannel) Stop() {
	o.mu.Lock()
	cancel := o.cancelSub
	o.cancelSub = nil
	reapers := o.reapers
	o.reapers = make(map[string]CancelFunc)
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, r := range reapers {
		r()
	}
}

// Broadcast writes the message under a fresh unique key and schedules its
// removal
func (o *OfflineFallbackChannel) Broadcast(payload []byte) error {
	env := offlineEnvelope{
		Sender:  o.ctx.SessionID(),
		SentAt:  time.Now().UnixMilli(),
		Payload: payload,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	key := broadcastPrefix + uuid.NewString()
	if err := o.ctx.store.Set(key, string(raw)); err != nil {
		return err
	}

	reap := o.ctx.sched.After(broadcastTTL, func() {
		o.ctx.store.Delete(key)
		o.mu.Lock()
		delete(o.reapers, key)
		o.mu.Unlock()
	})
	o.mu.Lock()
	o.reapers[key] = reap
	o.mu.Unlock()
	return nil
}

func (o *OfflineFallbackChannel) onStoreChange(key, value string) {
	if len(key) < len(broadcastPrefix) || key[:len(broadcastPrefix)] != broadcastPrefix {
		return
	}
	if value == "" {
		// Key reaped by its writer
		return
	}
	var env offlineEnvelope
	if err := json.Unmarshal([]byte(value), &env); err != nil {
		o.ctx.log.Warnf("offline broadcast: malformed message dropped: %v", err)
		return
	}
	if env.Sender == o.ctx.SessionID() {
		return
	}
	o.deliver(env.Payload)
}
