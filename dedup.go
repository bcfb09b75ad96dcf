package netsync

import (
	"fmt"
	"sync"
	"time"
)

const seenCapacity = 150

// eventSink delivers an emitted event toward other sessions
type eventSink interface {
	SendEvent(msg GameEventMsg)
}

// EventDeduplicator guarantees at-most-once application of game events. The
// event id is the sole dedup key on every receiver; the seen set is bounded
// and evicts its oldest half when full.
type EventDeduplicator struct {
	ctx    *SyncContext
	sink   eventSink
	mirror eventSink // optional offline mirror for local testing

	mu         sync.Mutex
	seen       map[string]struct{}
	order      []string
	duplicates int
}

// NewEventDeduplicator creates a deduplicator sending through sink. mirror
// may be nil.
func NewEventDeduplicator(ctx *SyncContext, sink eventSink, mirror eventSink) *EventDeduplicator {
	return &EventDeduplicator{
		ctx:    ctx,
		sink:   sink,
		mirror: mirror,
		seen:   make(map[string]struct{}),
	}
}

// NewID generates a globally-unique event id: timestamp, random suffix and
// the emitter id
func (d *EventDeduplicator) NewID() string {
	origin := d.ctx.PlayerID()
	if len(origin) > 8 {
		origin = origin[:8]
	}
	return fmt.Sprintf("%d-%s-%s", time.Now().UnixMilli(), GenerateID(3), origin)
}

// Emit records the event as seen, hands it to the transport and, when a
// mirror is configured, to the offline broadcast channel
func (d *EventDeduplicator) Emit(ev GameEvent) {
	meta := ev.Meta()
	d.mu.Lock()
	d.record(meta.ID)
	d.mu.Unlock()

	msg := eventToWire(ev)
	d.sink.SendEvent(msg)
	if d.mirror != nil {
		d.mirror.SendEvent(msg)
	}
}

// Receive applies an inbound event unless its id was already seen.
// Duplicates are dropped without side effects and only counted.
func (d *EventDeduplicator) Receive(ev GameEvent) {
	meta := ev.Meta()
	d.mu.Lock()
	if _, dup := d.seen[meta.ID]; dup {
		d.duplicates++
		d.mu.Unlock()
		d.ctx.log.Debugf("duplicate event dropped: %s", meta.ID)
		return
	}
	d.record(meta.ID)
	d.mu.Unlock()

	d.ctx.publishGameEvent(ev)
}

// Duplicates returns how many duplicate events were discarded
func (d *EventDeduplicator) Duplicates() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duplicates
}

// SeenCount returns the current size of the seen set
func (d *EventDeduplicator) SeenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// record adds an id to the seen set, evicting the oldest half past
// capacity. Caller must hold mu.
func (d *EventDeduplicator) record(id string) {
	if _, ok := d.seen[id]; ok {
		return
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)

	if len(d.order) > seenCapacity {
		half := len(d.order) / 2
		for _, old := range d.order[:half] {
			delete(d.seen, old)
		}
		d.order = append(d.order[:0:0], d.order[half:]...)
	}
}
