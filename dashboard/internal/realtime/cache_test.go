package realtime

import (
	"testing"
	"time"

	"github.com/gridpoint-energy/fleetview/pkg/types"
)

func f64(v float64) *float64 { return &v }
func str(s string) *string   { return &s }

// fakeClock is a settable now() for cache tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time     { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func push(nodeID, systemID string, soc float64) types.PushUpdate {
	return types.PushUpdate{
		NodeID:  nodeID,
		Systems: []types.PushSystem{{SystemID: systemID, SOC: f64(soc)}},
	}
}

func snapshotRec(systemID, nodeID string, soc float64) *types.SystemRecord {
	return &types.SystemRecord{
		SystemID: systemID,
		NodeID:   str(nodeID),
		SOC:      f64(soc),
		GPS:      &types.GPSFix{Lat: 40, Lon: -105},
	}
}

func TestFuse_FreshPushOverridesMetrics(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewCache(DefaultFreshnessWindow, clk.now)

	c.OnMessage("n1", push("n1", "sys-1", 42))
	rec := snapshotRec("sys-1", "n1", 80)

	fused := c.Fuse(rec)
	if fused == rec {
		t.Fatal("expected a fused copy, got the snapshot record")
	}
	if fused.SOC == nil || *fused.SOC != 42 {
		t.Errorf("soc = %v, want pushed 42", fused.SOC)
	}
	if fused.LiveSource != types.SourcePush {
		t.Errorf("live source = %s, want push", fused.LiveSource)
	}
	// Identity and GPS never overridden.
	if fused.SystemID != "sys-1" || fused.GPS == nil || fused.GPS.Lat != 40 {
		t.Error("fusion must not touch identity or GPS")
	}
	// Original untouched (apply-then-publish).
	if *rec.SOC != 80 || rec.LiveSource == types.SourcePush {
		t.Error("snapshot record mutated in place")
	}
}

func TestFuse_StaleEntryIgnored(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewCache(30*time.Second, clk.now)

	c.OnMessage("n1", push("n1", "sys-1", 42))
	clk.advance(31 * time.Second)

	rec := snapshotRec("sys-1", "n1", 80)
	fused := c.Fuse(rec)
	if fused != rec {
		t.Error("stale entry must leave the snapshot record untouched")
	}
	if *fused.SOC != 80 {
		t.Errorf("soc = %v, want snapshot value 80", *fused.SOC)
	}
}

func TestFuse_BoundaryJustInsideWindow(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewCache(30*time.Second, clk.now)

	c.OnMessage("n1", push("n1", "sys-1", 42))
	clk.advance(29 * time.Second)

	if got := c.Fuse(snapshotRec("sys-1", "n1", 80)); *got.SOC != 42 {
		t.Errorf("soc = %v, want pushed value inside window", *got.SOC)
	}
}

func TestFuse_NoMatchingSystem(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewCache(0, clk.now)

	c.OnMessage("n1", push("n1", "sys-other", 42))
	rec := snapshotRec("sys-1", "n1", 80)
	if got := c.Fuse(rec); got != rec {
		t.Error("entry without a matching system id must not override")
	}
}

func TestFuse_NoNodeID(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewCache(0, clk.now)
	rec := &types.SystemRecord{SystemID: "sys-1", SOC: f64(80)}
	if got := c.Fuse(rec); got != rec {
		t.Error("record without node id cannot be fused")
	}
}

func TestOnMessage_LastWriteWins(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewCache(0, clk.now)

	first := types.PushUpdate{NodeID: "n1", Systems: []types.PushSystem{
		{SystemID: "sys-1", SOC: f64(10)},
		{SystemID: "sys-2", SOC: f64(20)},
	}}
	second := push("n1", "sys-1", 99) // no sys-2: full replacement

	c.OnMessage("n1", first)
	c.OnMessage("n1", second)

	if got := c.Fuse(snapshotRec("sys-1", "n1", 80)); *got.SOC != 99 {
		t.Errorf("sys-1 soc = %v, want 99 from the newer push", *got.SOC)
	}
	// sys-2 was only in the replaced entry: no override.
	rec2 := snapshotRec("sys-2", "n1", 70)
	if got := c.Fuse(rec2); got != rec2 {
		t.Error("entry replacement must not partially merge old systems")
	}
}

func TestFuse_RevertsToSnapshotAfterWindow(t *testing.T) {
	// Scenario from the fusion contract: push overrides, then after the
	// window the next snapshot value shows through.
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewCache(30*time.Second, clk.now)

	c.OnMessage("n1", push("n1", "host-1", 55))
	if got := c.Fuse(snapshotRec("host-1", "n1", 80)); *got.SOC != 55 {
		t.Fatalf("soc = %v, want pushed 55", *got.SOC)
	}

	clk.advance(31 * time.Second)
	next := snapshotRec("host-1", "n1", 61)
	got := c.Fuse(next)
	if *got.SOC != 61 || got.LiveSource == types.SourcePush {
		t.Errorf("expected fall back to snapshot value 61, got %v (%s)", *got.SOC, got.LiveSource)
	}
}

func TestConnectedStatus(t *testing.T) {
	c := NewCache(0, nil)
	if c.Connected() {
		t.Error("never-connected channel must report disconnected")
	}
	c.SetConnected(true)
	if !c.Connected() {
		t.Error("expected connected")
	}
	// Disconnection never blocks fusion or classification.
	c.SetConnected(false)
	rec := snapshotRec("sys-1", "n1", 80)
	if got := c.Fuse(rec); got != rec {
		t.Error("disconnected cache with no entry must pass records through")
	}
}

func TestNodeFromTopic(t *testing.T) {
	if got := nodeFromTopic("fleet/n42/systems"); got != "n42" {
		t.Errorf("got %q, want n42", got)
	}
	if got := nodeFromTopic("flat"); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
