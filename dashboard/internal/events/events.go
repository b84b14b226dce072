// Package events associates node groups with active operational events.
//
// Rosters are rebuilt from scratch on every classification pass; there is no
// incremental state. A record whose event participation has not been
// refreshed within the staleness window is treated as having gone stale for
// that event and is excluded until a fresher update arrives.
package events

import (
	"sort"
	"time"

	"github.com/gridpoint-energy/fleetview/dashboard/internal/grouping"
	"github.com/gridpoint-energy/fleetview/pkg/types"
)

// DefaultStalenessWindow is the maximum age of an event_updated_at
// timestamp before a record drops out of its event roster.
const DefaultStalenessWindow = 300 * time.Second

// EventGroup is the per-event roster of participating systems, keyed by the
// node group each system belongs to.
type EventGroup struct {
	EventID string

	// PerNodeLoggers maps a node group key to the ascending-sorted system
	// ids participating in this event from that node.
	PerNodeLoggers map[string][]string
}

// Correlate builds event rosters from the current pass's node groups.
//
// Only live, logger-role members with a non-null event id inside the
// staleness window are counted. Returned groups are sorted by event id.
func Correlate(groups []*grouping.NodeGroup, now time.Time, stalenessWindow time.Duration) []*EventGroup {
	if stalenessWindow <= 0 {
		stalenessWindow = DefaultStalenessWindow
	}
	cutoff := now.Add(-stalenessWindow).Unix()

	byEvent := make(map[string]*EventGroup)
	for _, g := range groups {
		for _, m := range g.Members {
			if m.Role != types.RoleLogger || m.EventID == nil {
				continue
			}
			if m.EventUpdatedAt < cutoff {
				continue
			}
			eg, ok := byEvent[*m.EventID]
			if !ok {
				eg = &EventGroup{
					EventID:        *m.EventID,
					PerNodeLoggers: make(map[string][]string),
				}
				byEvent[*m.EventID] = eg
			}
			eg.PerNodeLoggers[g.Key] = append(eg.PerNodeLoggers[g.Key], m.SystemID)
		}
	}

	out := make([]*EventGroup, 0, len(byEvent))
	for _, eg := range byEvent {
		for key := range eg.PerNodeLoggers {
			sort.Strings(eg.PerNodeLoggers[key])
		}
		out = append(out, eg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}
