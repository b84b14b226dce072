// Package quota meters map-tile fetches against a fleet-shared monthly
// free-tier budget and enforces provider fallback under budget pressure.
//
// # Design
//
// Three pieces, composed by the engine:
//
//   - Usage: this device's monthly attempt counters, persisted locally,
//     with unflushed deltas tracked per provider
//   - Flusher: ships non-zero deltas to the fleet aggregation endpoint on
//     an interval and best-effort at teardown (at-least-once; a lost
//     teardown batch under-counts, a retried one over-counts by at most
//     one batch)
//   - Guard: polls fleet-wide status and applies the provider selection
//     policy with hysteresis
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gridpoint-energy/fleetview/dashboard/internal/kvstore"
)

// usageKey is where Usage persists its state.
const usageKey = kvstore.Namespace + ":tile_usage"

// usageState is the persisted shape.
type usageState struct {
	MonthKey string         `json:"month_key"`
	Counts   map[string]int `json:"counts"`
	Pending  map[string]int `json:"pending"`
}

func freshState(monthKey string) usageState {
	return usageState{
		MonthKey: monthKey,
		Counts:   make(map[string]int),
		Pending:  make(map[string]int),
	}
}

// MonthKey formats t as the UTC "YYYY-MM" accounting bucket.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Usage tracks this device's tile-fetch attempts for the current UTC month.
//
// State is written through to the store on every mutation and re-read at
// startup, so counts survive process restarts. A stored month that differs
// from the wall-clock month is discarded wholesale: no carryover, no
// negative correction.
type Usage struct {
	store  kvstore.Store
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	state usageState
}

// NewUsage loads persisted usage, discarding stale-month state. now may be
// nil outside tests.
func NewUsage(ctx context.Context, store kvstore.Store, logger *slog.Logger, now func() time.Time) (*Usage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}

	u := &Usage{
		store:  store,
		logger: logger.With("component", "tile_usage"),
		now:    now,
	}

	month := MonthKey(now())
	u.state = freshState(month)

	data, err := store.Get(ctx, usageKey)
	if err != nil {
		return nil, fmt.Errorf("loading tile usage: %w", err)
	}
	if data != nil {
		var stored usageState
		if err := json.Unmarshal(data, &stored); err != nil {
			// Corrupt state: start the month over rather than fail the session.
			u.logger.Warn("discarding unreadable tile usage state", "error", err)
		} else if stored.MonthKey == month {
			if stored.Counts == nil {
				stored.Counts = make(map[string]int)
			}
			if stored.Pending == nil {
				stored.Pending = make(map[string]int)
			}
			u.state = stored
		} else {
			u.logger.Info("tile usage month rolled over",
				"stored", stored.MonthKey,
				"current", month)
		}
	}

	return u, nil
}

// RecordAttempt counts one tile-fetch attempt against the provider for the
// current UTC month and persists the updated state.
func (u *Usage) RecordAttempt(ctx context.Context, provider string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.rolloverLocked()
	u.state.Counts[provider]++
	u.state.Pending[provider]++
	return u.persistLocked(ctx)
}

// Count returns this device's attempts for the provider this month.
func (u *Usage) Count(provider string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rolloverLocked()
	return u.state.Counts[provider]
}

// Pending returns the unflushed delta for the provider.
func (u *Usage) Pending(provider string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rolloverLocked()
	return u.state.Pending[provider]
}

// MonthKey returns the current accounting bucket.
func (u *Usage) MonthKey() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rolloverLocked()
	return u.state.MonthKey
}

// TakePending snapshots the non-zero pending deltas for a flush attempt.
// The deltas stay in place until Acknowledge confirms delivery.
func (u *Usage) TakePending() map[string]int {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rolloverLocked()

	out := make(map[string]int)
	for provider, delta := range u.state.Pending {
		if delta > 0 {
			out[provider] = delta
		}
	}
	return out
}

// Acknowledge subtracts a successfully delivered delta. Attempts recorded
// while the flush was in flight remain pending for the next interval.
func (u *Usage) Acknowledge(ctx context.Context, provider string, delta int) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.rolloverLocked()
	remaining := u.state.Pending[provider] - delta
	if remaining < 0 {
		remaining = 0
	}
	if remaining == 0 {
		delete(u.state.Pending, provider)
	} else {
		u.state.Pending[provider] = remaining
	}
	return u.persistLocked(ctx)
}

// rolloverLocked replaces the whole state when the wall-clock month has
// moved past the stored one.
func (u *Usage) rolloverLocked() {
	month := MonthKey(u.now())
	if u.state.MonthKey == month {
		return
	}
	u.logger.Info("resetting tile usage for new month",
		"old", u.state.MonthKey,
		"new", month)
	u.state = freshState(month)
}

// persistLocked writes the current state through to the store. A store
// failure is logged, not fatal: in-memory accounting keeps working and the
// next mutation retries the write.
func (u *Usage) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(u.state)
	if err != nil {
		return fmt.Errorf("encoding tile usage: %w", err)
	}
	if err := u.store.Set(ctx, usageKey, data); err != nil {
		u.logger.Warn("persisting tile usage failed", "error", err)
	}
	return nil
}
