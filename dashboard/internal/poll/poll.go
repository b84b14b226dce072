// Package poll adapts the snapshot-fetch cadence to observed movement.
//
// # Design
//
// The decision logic lives in Tracker, a pure state machine over a fixed
// ascending ladder of delays: any tracked system moving more than the
// threshold resets to the fastest cadence, a quiet pass advances one step
// toward the slowest. The Runner wraps a Tracker in a single-flight,
// self-rescheduling timer: a slow fetch delays the next one rather than
// overlapping it, and a filter change cancels the pending timer and fetches
// immediately.
package poll

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gridpoint-energy/fleetview/dashboard/internal/geo"
)

// DefaultLadder is the ascending delay ladder, fastest first.
var DefaultLadder = []time.Duration{
	15 * time.Second,
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	300 * time.Second,
	600 * time.Second,
	1200 * time.Second,
	1800 * time.Second,
}

// DefaultMoveThresholdMeters is the movement that resets the cadence.
const DefaultMoveThresholdMeters = 20.0

// Tracker decides the next fetch delay from observed positions.
//
// Not safe for concurrent use; the Runner mutates it from a single
// goroutine, matching the engine's single-mutator model.
type Tracker struct {
	ladder          []time.Duration
	moveThresholdM  float64
	previous        map[string]geo.Point
	index           int
}

// NewTracker creates a tracker over the given ladder. A nil or empty ladder
// and a non-positive threshold fall back to the defaults.
func NewTracker(ladder []time.Duration, moveThresholdM float64) *Tracker {
	if len(ladder) == 0 {
		ladder = DefaultLadder
	}
	if moveThresholdM <= 0 {
		moveThresholdM = DefaultMoveThresholdMeters
	}
	return &Tracker{
		ladder:         ladder,
		moveThresholdM: moveThresholdM,
		previous:       make(map[string]geo.Point),
	}
}

// Observe ingests the current pass's positions (system_id -> fix) and
// returns the delay before the next fetch.
//
// A system with no prior position is not a move event. previous positions
// are fully replaced afterwards, so vanished systems are dropped.
func (t *Tracker) Observe(positions map[string]geo.Point) time.Duration {
	moved := false
	for id, cur := range positions {
		prev, ok := t.previous[id]
		if !ok {
			continue
		}
		if geo.DistanceMeters(prev, cur) > t.moveThresholdM {
			moved = true
			break
		}
	}

	if moved {
		t.index = 0
	} else if t.index < len(t.ladder)-1 {
		t.index++
	}

	next := make(map[string]geo.Point, len(positions))
	for id, p := range positions {
		next[id] = p
	}
	t.previous = next

	return t.ladder[t.index]
}

// Index returns the current position in the ladder.
func (t *Tracker) Index() int { return t.index }

// Delay returns the current ladder delay without observing a pass.
func (t *Tracker) Delay() time.Duration { return t.ladder[t.index] }

// Reset returns the tracker to the fastest cadence and forgets all
// previous positions. Used when the active filter set changes and the old
// dataset no longer applies.
func (t *Tracker) Reset() {
	t.index = 0
	t.previous = make(map[string]geo.Point)
}

// FetchFunc performs one snapshot fetch pass and returns the positions it
// observed. Errors are the caller's to surface; the runner keeps polling.
type FetchFunc func(ctx context.Context) (map[string]geo.Point, error)

// Runner drives a Tracker with a self-rescheduling timer.
type Runner struct {
	tracker *Tracker
	fetch   FetchFunc
	logger  *slog.Logger

	kickCh    chan struct{}
	lastDelay atomic.Int64 // nanoseconds, for status reporting
}

// NewRunner creates a runner around the tracker and fetch function.
func NewRunner(tracker *Tracker, fetch FetchFunc, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		tracker: tracker,
		fetch:   fetch,
		logger:  logger,
		kickCh:  make(chan struct{}, 1),
	}
}

// Kick cancels the pending delay and triggers an immediate fetch. Called on
// filter changes. Coalesces if a kick is already pending.
func (r *Runner) Kick() {
	select {
	case r.kickCh <- struct{}{}:
	default:
	}
}

// Run fetches immediately, then sleeps ladder[index] between passes.
// Blocks until the context is cancelled. Never two fetches in flight: the
// next delay starts only after the previous fetch settles.
func (r *Runner) Run(ctx context.Context) error {
	for {
		delay := r.runOnce(ctx)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-r.kickCh:
			timer.Stop()
			r.tracker.Reset()
			r.logger.Debug("poll kicked, refetching immediately")
		case <-timer.C:
		}
	}
}

// runOnce performs a single fetch pass and returns the next delay.
func (r *Runner) runOnce(ctx context.Context) time.Duration {
	start := time.Now()
	positions, err := r.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		// Keep the current cadence on failure; the last good view stays up.
		r.logger.Warn("snapshot fetch failed", "error", err)
		delay := r.tracker.Delay()
		r.lastDelay.Store(int64(delay))
		return delay
	}

	delay := r.tracker.Observe(positions)
	r.lastDelay.Store(int64(delay))
	r.logger.Debug("poll pass complete",
		"systems", len(positions),
		"next_delay", delay,
		"elapsed", time.Since(start))
	return delay
}

// LastDelay returns the most recently scheduled delay. Safe to call from
// other goroutines for status reporting.
func (r *Runner) LastDelay() time.Duration {
	return time.Duration(r.lastDelay.Load())
}
