package poll

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gridpoint-energy/fleetview/dashboard/internal/geo"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTracker_AdvancesWhenStill(t *testing.T) {
	tr := NewTracker(nil, 0)
	fixed := map[string]geo.Point{
		"sys-1": {Lat: 40.0, Lon: -105.0},
		"sys-2": {Lat: 40.1, Lon: -105.1},
	}

	// First pass: nothing prior, not a move; index advances.
	tr.Observe(fixed)
	prev := tr.Index()
	for i := 0; i < len(DefaultLadder)+2; i++ {
		tr.Observe(fixed)
		if tr.Index() < prev {
			t.Fatalf("index decreased on identical positions: %d -> %d", prev, tr.Index())
		}
		prev = tr.Index()
	}
	if tr.Index() != len(DefaultLadder)-1 {
		t.Errorf("index = %d, want clamped at %d", tr.Index(), len(DefaultLadder)-1)
	}
	if tr.Delay() != DefaultLadder[len(DefaultLadder)-1] {
		t.Errorf("delay = %v, want slowest rung", tr.Delay())
	}
}

func TestTracker_ResetsOnMove(t *testing.T) {
	tr := NewTracker(nil, 0)
	start := geo.Point{Lat: 40.0, Lon: -105.0}

	tr.Observe(map[string]geo.Point{"sys-1": start})
	tr.Observe(map[string]geo.Point{"sys-1": start})
	tr.Observe(map[string]geo.Point{"sys-1": start})
	if tr.Index() == 0 {
		t.Fatal("expected index to have advanced")
	}

	moved := geo.OffsetMeters(start, 25, 0)
	delay := tr.Observe(map[string]geo.Point{"sys-1": moved})
	if tr.Index() != 0 {
		t.Errorf("index = %d after >20m move, want 0", tr.Index())
	}
	if delay != DefaultLadder[0] {
		t.Errorf("delay = %v, want fastest rung", delay)
	}
}

func TestTracker_SmallMoveDoesNotReset(t *testing.T) {
	tr := NewTracker(nil, 0)
	start := geo.Point{Lat: 40.0, Lon: -105.0}

	tr.Observe(map[string]geo.Point{"sys-1": start})
	nudged := geo.OffsetMeters(start, 10, 0)
	tr.Observe(map[string]geo.Point{"sys-1": nudged})
	if tr.Index() != 2 {
		t.Errorf("index = %d, want 2 (a 10m nudge is not a move)", tr.Index())
	}
}

func TestTracker_FirstSightingNotAMove(t *testing.T) {
	tr := NewTracker(nil, 0)
	tr.Observe(map[string]geo.Point{"sys-1": {Lat: 1, Lon: 1}})
	// New system appears far away from anything: still not a move.
	tr.Observe(map[string]geo.Point{
		"sys-1": {Lat: 1, Lon: 1},
		"sys-2": {Lat: 50, Lon: 50},
	})
	if tr.Index() != 2 {
		t.Errorf("index = %d, first sighting must not reset", tr.Index())
	}
}

func TestTracker_VanishedSystemsDropped(t *testing.T) {
	tr := NewTracker(nil, 0)
	a := geo.Point{Lat: 40.0, Lon: -105.0}
	tr.Observe(map[string]geo.Point{"sys-1": a})
	// sys-1 vanishes for a pass, then reappears 1km away: treated as a
	// fresh sighting, not a move.
	tr.Observe(map[string]geo.Point{})
	tr.Observe(map[string]geo.Point{"sys-1": geo.OffsetMeters(a, 1000, 0)})
	if tr.Index() == 0 {
		t.Error("reappearance after a dropped pass must not count as movement")
	}
}

func TestTracker_Reset(t *testing.T) {
	tr := NewTracker(nil, 0)
	p := map[string]geo.Point{"sys-1": {Lat: 1, Lon: 1}}
	tr.Observe(p)
	tr.Observe(p)
	tr.Reset()
	if tr.Index() != 0 {
		t.Error("Reset must return to the fastest cadence")
	}
	// Previous positions forgotten: a far jump after reset is not a move.
	tr.Observe(map[string]geo.Point{"sys-1": {Lat: 30, Lon: 30}})
	if tr.Index() != 1 {
		t.Errorf("index = %d, want 1 after post-reset first sighting", tr.Index())
	}
}

func TestRunner_FetchesAndStopsOnCancel(t *testing.T) {
	ladder := []time.Duration{time.Millisecond, 2 * time.Millisecond}
	tr := NewTracker(ladder, 0)

	fetches := make(chan struct{}, 16)
	fetch := func(ctx context.Context) (map[string]geo.Point, error) {
		fetches <- struct{}{}
		return map[string]geo.Point{"s": {Lat: 1, Lon: 1}}, nil
	}

	r := NewRunner(tr, fetch, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Wait for at least two passes.
	for i := 0; i < 2; i++ {
		select {
		case <-fetches:
		case <-time.After(time.Second):
			t.Fatal("runner did not fetch")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("unexpected run error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("runner did not stop on cancel")
	}
}

func TestRunner_KickResetsCadence(t *testing.T) {
	// A long ladder delay that would block the test without a kick.
	ladder := []time.Duration{time.Hour, time.Hour}
	tr := NewTracker(ladder, 0)

	fetches := make(chan struct{}, 16)
	fetch := func(ctx context.Context) (map[string]geo.Point, error) {
		fetches <- struct{}{}
		return nil, nil
	}

	r := NewRunner(tr, fetch, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	<-fetches // initial pass

	r.Kick()
	select {
	case <-fetches:
	case <-time.After(time.Second):
		t.Fatal("kick did not trigger an immediate fetch")
	}
}
