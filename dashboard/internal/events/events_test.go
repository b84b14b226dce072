package events

import (
	"testing"
	"time"

	"github.com/gridpoint-energy/fleetview/dashboard/internal/grouping"
	"github.com/gridpoint-energy/fleetview/pkg/types"
)

func str(s string) *string   { return &s }
func f64(v float64) *float64 { return &v }

func logger(id, nodeID, eventID string, updatedAt time.Time) *types.SystemRecord {
	return &types.SystemRecord{
		SystemID:       id,
		NodeID:         str(nodeID),
		Role:           types.RoleLogger,
		SOC:            f64(50),
		EventID:        str(eventID),
		EventUpdatedAt: updatedAt.Unix(),
	}
}

func TestCorrelate_RosterWithinWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	groups := grouping.BuildGroups([]*types.SystemRecord{
		logger("log-b", "n1", "ev1", now.Add(-10*time.Second)),
		logger("log-a", "n1", "ev1", now.Add(-299*time.Second)),
		logger("log-c", "n2", "ev1", now),
		logger("log-d", "n2", "ev2", now),
	})

	egs := Correlate(groups, now, DefaultStalenessWindow)
	if len(egs) != 2 {
		t.Fatalf("expected 2 event groups, got %d", len(egs))
	}
	if egs[0].EventID != "ev1" || egs[1].EventID != "ev2" {
		t.Fatalf("events not sorted: %s, %s", egs[0].EventID, egs[1].EventID)
	}

	n1 := egs[0].PerNodeLoggers["n1"]
	if len(n1) != 2 || n1[0] != "log-a" || n1[1] != "log-b" {
		t.Errorf("n1 roster = %v, want [log-a log-b]", n1)
	}
	if got := egs[0].PerNodeLoggers["n2"]; len(got) != 1 || got[0] != "log-c" {
		t.Errorf("n2 roster = %v, want [log-c]", got)
	}
}

func TestCorrelate_StaleExcluded(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	groups := grouping.BuildGroups([]*types.SystemRecord{
		logger("log-old", "n1", "ev1", now.Add(-301*time.Second)),
		logger("log-new", "n2", "ev1", now.Add(-5*time.Second)),
	})

	egs := Correlate(groups, now, DefaultStalenessWindow)
	if len(egs) != 1 {
		t.Fatalf("expected 1 event group, got %d", len(egs))
	}
	if _, ok := egs[0].PerNodeLoggers["n1"]; ok {
		t.Error("stale node must be excluded from the roster, not zeroed")
	}
	if _, ok := egs[0].PerNodeLoggers["n2"]; !ok {
		t.Error("fresh node missing from roster")
	}
}

func TestCorrelate_HostsAndNonEventRecordsIgnored(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	host := &types.SystemRecord{
		SystemID: "host-1", NodeID: str("n1"), Role: types.RoleHost,
		SOC: f64(80), EventID: str("ev1"), EventUpdatedAt: now.Unix(),
	}
	plain := &types.SystemRecord{
		SystemID: "log-plain", NodeID: str("n1"), Role: types.RoleLogger, SOC: f64(80),
	}
	groups := grouping.BuildGroups([]*types.SystemRecord{host, plain})

	egs := Correlate(groups, now, DefaultStalenessWindow)
	if len(egs) != 0 {
		t.Errorf("expected no event groups, got %d", len(egs))
	}
}

func TestCorrelate_RebuiltEachPass(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	groups := grouping.BuildGroups([]*types.SystemRecord{
		logger("log-a", "n1", "ev1", now),
	})

	first := Correlate(groups, now, DefaultStalenessWindow)
	if len(first) != 1 {
		t.Fatal("expected roster on first pass")
	}

	// Same records, 301s later: participation has gone stale.
	later := Correlate(groups, now.Add(301*time.Second), DefaultStalenessWindow)
	if len(later) != 0 {
		t.Error("roster must be rebuilt from scratch and exclude stale entries")
	}
}
