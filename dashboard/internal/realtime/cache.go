// Package realtime merges push-channel updates onto snapshot records,
// bounded by a freshness window.
//
// # Design
//
// One cache entry per node: a newer push fully replaces the prior entry for
// that node, with no partial merge across pushes. Fusion never mutates the
// snapshot record in place; it returns a copy with the metric fields
// overridden, so readers never see a partially-updated record.
//
// A disconnected or never-connected push channel is not an error. The cache
// simply stops overriding and classification proceeds on snapshot data; the
// connection status is exposed for display.
package realtime

import (
	"sync"
	"time"

	"github.com/gridpoint-energy/fleetview/pkg/types"
)

// DefaultFreshnessWindow is how long a push entry overrides snapshot data.
const DefaultFreshnessWindow = 30 * time.Second

// entry is one node's cached push update.
type entry struct {
	update     types.PushUpdate
	receivedAt time.Time
}

// Cache holds the last push update per node.
type Cache struct {
	freshness time.Duration
	now       func() time.Time

	mu        sync.RWMutex
	entries   map[string]entry
	connected bool
}

// NewCache creates a cache with the given freshness window. A non-positive
// window falls back to the default. now may be nil outside tests.
func NewCache(freshness time.Duration, now func() time.Time) *Cache {
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		freshness: freshness,
		now:       now,
		entries:   make(map[string]entry),
	}
}

// OnMessage stores a push update verbatim as the entry for its node,
// overwriting any prior entry. Last write wins per node.
func (c *Cache) OnMessage(nodeID string, update types.PushUpdate) {
	if nodeID == "" {
		nodeID = update.NodeID
	}
	c.mu.Lock()
	c.entries[nodeID] = entry{update: update, receivedAt: c.now()}
	c.mu.Unlock()
}

// SetConnected records the push channel's connection state.
func (c *Cache) SetConnected(connected bool) {
	c.mu.Lock()
	c.connected = connected
	c.mu.Unlock()
}

// Connected reports whether the push channel is currently connected.
func (c *Cache) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Fuse returns the record with metric fields overridden by a fresh push
// entry for its node, if one carries a matching system id. Identity and GPS
// are never overridden. Records without a fresh matching entry come back
// unchanged (same pointer).
func (c *Cache) Fuse(rec *types.SystemRecord) *types.SystemRecord {
	if rec == nil || rec.NodeID == nil {
		return rec
	}

	c.mu.RLock()
	e, ok := c.entries[*rec.NodeID]
	c.mu.RUnlock()
	if !ok {
		return rec
	}
	if c.now().Sub(e.receivedAt) >= c.freshness {
		return rec
	}

	for i := range e.update.Systems {
		s := &e.update.Systems[i]
		if s.SystemID != rec.SystemID {
			continue
		}
		fused := *rec
		fused.SOC = s.SOC
		fused.PowerOutW = s.PowerOutW
		fused.VoltL1 = s.VoltL1
		fused.VoltL2 = s.VoltL2
		fused.VoltL3 = s.VoltL3
		fused.CurrentA = s.CurrentA
		fused.LiveSource = types.SourcePush
		received := e.receivedAt
		fused.PushedAt = &received
		return &fused
	}
	return rec
}

// FuseAll applies Fuse to every record, preserving order.
func (c *Cache) FuseAll(records []*types.SystemRecord) []*types.SystemRecord {
	out := make([]*types.SystemRecord, len(records))
	for i, r := range records {
		out[i] = c.Fuse(r)
	}
	return out
}

// Len returns the number of cached node entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
