package netsync

import (
	"fmt"
	"strings"
	"testing"
)

// captureSink records events handed to the wire
type captureSink struct {
	msgs []GameEventMsg
}

func (s *captureSink) SendEvent(msg GameEventMsg) {
	s.msgs = append(s.msgs, msg)
}

func shotWithID(id string) ShotEvent {
	return ShotEvent{EventMeta: EventMeta{ID: id, Origin: "peer-1", SentAt: 1}}
}

func TestReceiveAppliesExactlyOnce(t *testing.T) {
	ctx := newTestContext(DefaultConfig(), nil, nil)
	d := NewEventDeduplicator(ctx, &captureSink{}, nil)

	applied := 0
	ctx.OnGameEvent(func(GameEvent) { applied++ })

	ev := shotWithID("e1")
	d.Receive(ev)
	d.Receive(ev)

	if applied != 1 {
		t.Errorf("expected 1 application, got %d", applied)
	}
	if d.Duplicates() != 1 {
		t.Errorf("expected 1 counted duplicate, got %d", d.Duplicates())
	}
}

func TestDuplicateAcrossChannels(t *testing.T) {
	// The same shot arriving via transport and via offline broadcast must
	// spawn exactly one projectile
	ctx := newTestContext(DefaultConfig(), nil, nil)
	d := NewEventDeduplicator(ctx, &captureSink{}, nil)

	spawns := 0
	ctx.OnGameEvent(func(ev GameEvent) {
		if _, ok := ev.(ShotEvent); ok {
			spawns++
		}
	})

	wire := eventToWire(shotWithID("shot-7"))
	fromTransport, _ := eventFromWire(wire)
	fromBroadcast, _ := eventFromWire(wire)
	d.Receive(fromTransport)
	d.Receive(fromBroadcast)

	if spawns != 1 {
		t.Errorf("expected exactly one spawn, got %d", spawns)
	}
}

func TestEmitSeedsSeenSet(t *testing.T) {
	ctx := newTestContext(DefaultConfig(), nil, nil)
	sink := &captureSink{}
	d := NewEventDeduplicator(ctx, sink, nil)

	applied := 0
	ctx.OnGameEvent(func(GameEvent) { applied++ })

	ev := shotWithID("mine")
	d.Emit(ev)
	if len(sink.msgs) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(sink.msgs))
	}

	// Our own event echoed back must not re-apply
	d.Receive(ev)
	if applied != 0 {
		t.Errorf("own echoed event applied %d times, want 0", applied)
	}
}

func TestEmitMirrorsToOfflineSink(t *testing.T) {
	ctx := newTestContext(DefaultConfig(), nil, nil)
	sink := &captureSink{}
	mirror := &captureSink{}
	d := NewEventDeduplicator(ctx, sink, mirror)

	d.Emit(shotWithID("m1"))
	if len(sink.msgs) != 1 || len(mirror.msgs) != 1 {
		t.Errorf("expected event on both sinks, got %d/%d", len(sink.msgs), len(mirror.msgs))
	}
}

func TestSeenSetEvictsOldestHalf(t *testing.T) {
	ctx := newTestContext(DefaultConfig(), nil, nil)
	d := NewEventDeduplicator(ctx, &captureSink{}, nil)

	for i := 0; i <= seenCapacity; i++ {
		d.Receive(shotWithID(fmt.Sprintf("e%d", i)))
	}

	want := seenCapacity - seenCapacity/2 + 1
	if d.SeenCount() != want {
		t.Errorf("expected %d entries after eviction, got %d", want, d.SeenCount())
	}

	// The oldest ids were evicted, so they apply again; the newest do not
	applied := 0
	ctx.OnGameEvent(func(GameEvent) { applied++ })
	d.Receive(shotWithID("e0"))
	d.Receive(shotWithID(fmt.Sprintf("e%d", seenCapacity)))
	if applied != 1 {
		t.Errorf("expected only the evicted id to re-apply, got %d applications", applied)
	}
}

func TestNewIDShape(t *testing.T) {
	ctx := newTestContext(DefaultConfig(), nil, nil)
	d := NewEventDeduplicator(ctx, &captureSink{}, nil)

	a := d.NewID()
	b := d.NewID()
	if a == b {
		t.Errorf("ids should be unique, got %q twice", a)
	}
	if parts := strings.Split(a, "-"); len(parts) < 3 {
		t.Errorf("id %q should carry timestamp, random suffix and origin", a)
	}
}
