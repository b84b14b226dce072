// Package grouping clusters individual system records into logical node
// groups and computes non-overlapping display positions for co-located
// groups.
//
// # Design
//
// Groups are recomputed from scratch on every classification pass; they are
// pure functions of the (already fused) snapshot and carry no identity
// across passes. Non-live records never enter a group.
//
// Group order follows first appearance in the snapshot, and logger order
// within a group is lexicographic by system id, so two passes over the same
// snapshot produce byte-identical output. Map iteration is never used for
// anything ordered.
package grouping

import (
	"sort"

	"github.com/gridpoint-energy/fleetview/dashboard/internal/geo"
	"github.com/gridpoint-energy/fleetview/dashboard/internal/liveness"
	"github.com/gridpoint-energy/fleetview/pkg/types"
)

// NodeGroup is one displayable cluster of systems.
//
// Key is the owning node id when present, otherwise the host system id,
// otherwise the first member's system id.
type NodeGroup struct {
	Key     string
	Host    *types.SystemRecord
	Loggers []*types.SystemRecord

	// Members is the de-duplicated union, host first.
	Members []*types.SystemRecord

	// Position is the group's representative map position: the host's fix
	// when present, else the first member with a fix, else nil. Groups with
	// nil Position are listed, not mapped.
	Position *geo.Point

	Severity liveness.Severity
}

// groupKey returns the grouping key for a record: node_id, then
// host_system_id, then the record's own system_id.
func groupKey(r *types.SystemRecord) string {
	if r.NodeID != nil && *r.NodeID != "" {
		return *r.NodeID
	}
	if r.HostSystemID != nil && *r.HostSystemID != "" {
		return *r.HostSystemID
	}
	return r.SystemID
}

// BuildGroups partitions live records into node groups.
//
// Every live record lands in exactly one group. Non-live records are
// dropped here and never reach correlation or display.
func BuildGroups(records []*types.SystemRecord) []*NodeGroup {
	byKey := make(map[string]*NodeGroup)
	var order []string

	for _, r := range records {
		if !liveness.IsLive(r) {
			continue
		}
		key := groupKey(r)
		g, ok := byKey[key]
		if !ok {
			g = &NodeGroup{Key: key}
			byKey[key] = g
			order = append(order, key)
		}
		if g.Host == nil && r.Role != types.RoleLogger {
			g.Host = r
		} else {
			g.Loggers = append(g.Loggers, r)
		}
	}

	groups := make([]*NodeGroup, 0, len(order))
	for _, key := range order {
		g := byKey[key]
		finalize(g)
		groups = append(groups, g)
	}
	return groups
}

// finalize computes the derived fields of a group after partitioning.
func finalize(g *NodeGroup) {
	sort.SliceStable(g.Loggers, func(i, j int) bool {
		return g.Loggers[i].SystemID < g.Loggers[j].SystemID
	})

	seen := make(map[string]bool)
	g.Members = g.Members[:0]
	if g.Host != nil {
		g.Members = append(g.Members, g.Host)
		seen[g.Host.SystemID] = true
	}
	for _, l := range g.Loggers {
		if seen[l.SystemID] {
			continue
		}
		seen[l.SystemID] = true
		g.Members = append(g.Members, l)
	}

	g.Position = representativePosition(g)

	g.Severity = liveness.SeverityNeutral
	for _, m := range g.Members {
		g.Severity = liveness.Max(g.Severity, liveness.SeverityOf(m))
	}
}

// representativePosition picks the group's map anchor.
func representativePosition(g *NodeGroup) *geo.Point {
	if g.Host != nil && g.Host.GPS != nil {
		return &geo.Point{Lat: g.Host.GPS.Lat, Lon: g.Host.GPS.Lon}
	}
	for _, m := range g.Members {
		if m.GPS != nil {
			return &geo.Point{Lat: m.GPS.Lat, Lon: m.GPS.Lon}
		}
	}
	return nil
}

// Mapped returns the groups that have a position fix, preserving order.
func Mapped(groups []*NodeGroup) []*NodeGroup {
	out := make([]*NodeGroup, 0, len(groups))
	for _, g := range groups {
		if g.Position != nil {
			out = append(out, g)
		}
	}
	return out
}

// Unmapped returns the groups without a fix, preserving order. These are
// listed separately from mapped groups.
func Unmapped(groups []*NodeGroup) []*NodeGroup {
	out := make([]*NodeGroup, 0)
	for _, g := range groups {
		if g.Position == nil {
			out = append(out, g)
		}
	}
	return out
}
