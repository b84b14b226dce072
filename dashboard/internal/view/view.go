// Package view assembles the derived view model handed to the rendering
// layer.
//
// # Design
//
// A classification pass is a pure transformation of (snapshot records,
// realtime cache, clock): fuse push updates, drop non-live records, group,
// correlate events. The result is published atomically; readers always see
// either the previous complete snapshot or the new one, never a partial
// update. A failed fetch keeps the last good snapshot on screen behind a
// warning banner rather than flashing a blank state.
package view

import (
	"strings"
	"sync"
	"time"

	"github.com/gridpoint-energy/fleetview/dashboard/internal/events"
	"github.com/gridpoint-energy/fleetview/dashboard/internal/geo"
	"github.com/gridpoint-energy/fleetview/dashboard/internal/grouping"
	"github.com/gridpoint-energy/fleetview/dashboard/internal/realtime"
	"github.com/gridpoint-energy/fleetview/pkg/types"
)

// Snapshot is one published view model.
type Snapshot struct {
	Groups   []*grouping.NodeGroup
	Mapped   []*grouping.NodeGroup
	Unmapped []*grouping.NodeGroup
	Events   []*events.EventGroup

	PushConnected bool
	GeneratedAt   time.Time

	// Stale marks a retained last-good view after a fetch failure.
	Stale    bool
	Warnings []string
}

// Model builds and publishes view snapshots.
type Model struct {
	cache           *realtime.Cache
	stalenessWindow time.Duration
	now             func() time.Time

	mu      sync.RWMutex
	current *Snapshot
}

// NewModel creates a view model builder. now may be nil outside tests.
func NewModel(cache *realtime.Cache, stalenessWindow time.Duration, now func() time.Time) *Model {
	if stalenessWindow <= 0 {
		stalenessWindow = events.DefaultStalenessWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Model{
		cache:           cache,
		stalenessWindow: stalenessWindow,
		now:             now,
	}
}

// ApplyRecords runs one classification pass over freshly fetched records
// and publishes the result.
func (m *Model) ApplyRecords(records []*types.SystemRecord) *Snapshot {
	now := m.now()

	fused := m.cache.FuseAll(records)
	groups := grouping.BuildGroups(fused)

	snap := &Snapshot{
		Groups:        groups,
		Mapped:        grouping.Mapped(groups),
		Unmapped:      grouping.Unmapped(groups),
		Events:        events.Correlate(groups, now, m.stalenessWindow),
		PushConnected: m.cache.Connected(),
		GeneratedAt:   now,
	}

	m.mu.Lock()
	m.current = snap
	m.mu.Unlock()
	return snap
}

// fetchFailedPrefix marks the single warning slot held by fetch failures.
const fetchFailedPrefix = "snapshot fetch failed: "

// ApplyFetchError republishes the last good snapshot marked stale, with a
// banner warning. The view never goes blank over a collaborator outage.
// Consecutive failures update the one banner rather than stacking; a
// sustained outage keeps the warning list bounded.
func (m *Model) ApplyFetchError(err error) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.current
	if prev == nil {
		prev = &Snapshot{GeneratedAt: m.now()}
	}

	warnings := make([]string, 0, len(prev.Warnings)+1)
	for _, w := range prev.Warnings {
		if !strings.HasPrefix(w, fetchFailedPrefix) {
			warnings = append(warnings, w)
		}
	}

	snap := *prev
	snap.Stale = true
	snap.PushConnected = m.cache.Connected()
	snap.Warnings = append(warnings, fetchFailedPrefix+err.Error())
	m.current = &snap
	return &snap
}

// Current returns the last published snapshot, or nil before the first
// pass completes.
func (m *Model) Current() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Positions extracts raw fixes (system_id -> point) for the poll scheduler.
// Deliberately independent of liveness and fusion: movement detection runs
// on whatever the snapshot delivered.
func Positions(records []*types.SystemRecord) map[string]geo.Point {
	out := make(map[string]geo.Point)
	for _, r := range records {
		if r.GPS == nil {
			continue
		}
		out[r.SystemID] = geo.Point{Lat: r.GPS.Lat, Lon: r.GPS.Lon}
	}
	return out
}
