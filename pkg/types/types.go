// Package types defines the core domain types shared between the dashboard
// engine and the fleet API.
//
// # Design Principles
//
// 1. Simplicity: Types represent the domain model directly, no ORM abstractions
// 2. Serialization: All types are JSON-serializable for API transport
// 3. Nullability: Absent telemetry is a valid state, modeled with pointers
package types

import (
	"time"
)

// =============================================================================
// SYSTEM RECORD
// =============================================================================

// Role classifies a system within a node.
type Role string

const (
	// RoleHost - the inverter/battery unit that anchors a node
	RoleHost Role = "host"
	// RoleLogger - a logger or meter attached to a node
	RoleLogger Role = "logger"
)

// LiveSource records where a system's displayed metrics came from.
type LiveSource string

const (
	// SourceSnapshot - metrics delivered by the periodic snapshot fetch
	SourceSnapshot LiveSource = "snapshot"
	// SourcePush - metrics overridden by a fresh push-channel update
	SourcePush LiveSource = "push"
)

// GPSSource records how a position fix was obtained.
type GPSSource string

const (
	GPSSourceDevice GPSSource = "gps"
	GPSSourceManual GPSSource = "manual"
)

// GPSFix is a position fix attached to a system record.
type GPSFix struct {
	Lat    float64   `json:"lat"`
	Lon    float64   `json:"lon"`
	Source GPSSource `json:"source,omitempty"`
	// AgeSeconds is the age of the fix at snapshot time.
	AgeSeconds float64 `json:"age_seconds,omitempty"`
}

// SystemRecord is one telemetry source as delivered by the snapshot fetch.
//
// system_id is the identity; node_id is a grouping attribute only. Every
// metric field is nullable: a fully-null record is valid input and is
// filtered by the liveness classifier before it reaches any other component.
type SystemRecord struct {
	SystemID     string  `json:"system_id"`
	NodeID       *string `json:"node_id,omitempty"`
	HostSystemID *string `json:"host_system_id,omitempty"`
	Role         Role    `json:"role,omitempty"`

	// Core metrics. All optional.
	SOC          *float64   `json:"soc,omitempty"`      // state of charge, percent
	PowerOutW    *float64   `json:"power_out_w,omitempty"`
	VoltL1       *float64   `json:"volt_l1,omitempty"`
	VoltL2       *float64   `json:"volt_l2,omitempty"`
	VoltL3       *float64   `json:"volt_l3,omitempty"`
	CurrentA     *float64   `json:"current_a,omitempty"`
	GPSUpdatedAt *time.Time `json:"gps_updated_at,omitempty"`

	GPS *GPSFix `json:"gps,omitempty"`

	// Event participation
	EventID        *string `json:"event_id,omitempty"`
	EventUpdatedAt int64   `json:"event_updated_at,omitempty"` // epoch seconds

	AlertsCount    int  `json:"alerts_count"`
	ManualOverride bool `json:"manual_override,omitempty"`

	SnapshotAt time.Time `json:"snapshot_at,omitempty"`

	// Set by realtime fusion; never delivered by the snapshot API.
	LiveSource LiveSource `json:"live_source,omitempty"`
	PushedAt   *time.Time `json:"pushed_at,omitempty"`
}

// HasGPS reports whether the record carries a usable position fix.
func (r *SystemRecord) HasGPS() bool {
	return r.GPS != nil
}

// =============================================================================
// PUSH CHANNEL
// =============================================================================

// PushSystem is one system's metric payload inside a push update.
type PushSystem struct {
	SystemID  string    `json:"system_id"`
	SOC       *float64  `json:"soc,omitempty"`
	PowerOutW *float64  `json:"power_out_w,omitempty"`
	VoltL1    *float64  `json:"volt_l1,omitempty"`
	VoltL2    *float64  `json:"volt_l2,omitempty"`
	VoltL3    *float64  `json:"volt_l3,omitempty"`
	CurrentA  *float64  `json:"current_a,omitempty"`
	TS        time.Time `json:"ts,omitempty"`
}

// PushUpdate is one push-channel message: all systems of one node.
type PushUpdate struct {
	NodeID  string       `json:"node_id"`
	Systems []PushSystem `json:"systems"`
	TS      time.Time    `json:"ts,omitempty"`
}

// =============================================================================
// TILE QUOTA
// =============================================================================

// TileIncrement is the delta POSTed to the quota aggregation endpoint.
//
// The server aggregates by summation, so at-least-once delivery over-counts
// by at most one unflushed batch per failure.
type TileIncrement struct {
	Provider  string `json:"provider"`
	Delta     int    `json:"delta"`
	MonthKey  string `json:"month_key"`
	SessionID string `json:"session_id"`
}

// TileFleetStatus is the fleet-wide quota status returned by the fleet API.
type TileFleetStatus struct {
	Providers           []string           `json:"providers"`
	Blocked             map[string]bool    `json:"blocked"`
	FleetTotals         map[string]int64   `json:"fleet_totals"`
	Pct                 map[string]float64 `json:"pct"`
	MonthKey            string             `json:"month_key"`
	RecommendedProvider string             `json:"recommended_provider"`
	Thresholds          TileThresholds     `json:"thresholds"`
}

// TileThresholds carries server-side guardrail tuning.
type TileThresholds struct {
	GuardrailPct float64 `json:"guardrail_pct"`
}

// =============================================================================
// SESSION HEARTBEAT
// =============================================================================

// Heartbeat reports a dashboard session's health to the fleet API.
type Heartbeat struct {
	SessionID      string    `json:"session_id"`
	Timestamp      time.Time `json:"timestamp"`
	Version        string    `json:"version"`
	PushConnected  bool      `json:"push_connected"`
	SystemsVisible int       `json:"systems_visible"`
	NodesVisible   int       `json:"nodes_visible"`
	PollDelaySec   int       `json:"poll_delay_sec"`
	MemoryMB       float64   `json:"memory_mb"`
	CPUPercent     float64   `json:"cpu_percent"`
	GoroutineCount int       `json:"goroutine_count"`
}
