// Package liveness decides whether a fetched system record carries any
// signal worth displaying, and maps records to display severities.
//
// # Design
//
// Both functions are pure predicates over a single record. Absent fields are
// valid input, never errors: a record with every field null is simply not
// live, and a live record with no metric data is "neutral". Records that
// fail IsLive are filtered out before they reach grouping, correlation or
// fusion.
package liveness

import (
	"github.com/gridpoint-energy/fleetview/pkg/types"
)

// Severity is a display status class with a fixed total order.
type Severity int

const (
	SeverityNeutral Severity = iota
	SeverityOK
	SeverityWarn
	SeverityBad
	SeverityAlert
)

// String returns the severity's display name.
func (s Severity) String() string {
	switch s {
	case SeverityAlert:
		return "alert"
	case SeverityBad:
		return "bad"
	case SeverityWarn:
		return "warn"
	case SeverityOK:
		return "ok"
	default:
		return "neutral"
	}
}

// Charge thresholds for the primary metric.
const (
	chargeBadBelow  = 25.0
	chargeWarnBelow = 40.0
)

// IsLive reports whether a record represents signal worth displaying.
//
// A record is live if any of: a manual override is set, it participates in
// an event, it has active alerts, or any core metric field is present.
func IsLive(r *types.SystemRecord) bool {
	if r == nil {
		return false
	}
	if r.ManualOverride {
		return true
	}
	if r.EventID != nil {
		return true
	}
	if r.AlertsCount > 0 {
		return true
	}
	return r.SOC != nil ||
		r.PowerOutW != nil ||
		r.VoltL1 != nil ||
		r.VoltL2 != nil ||
		r.VoltL3 != nil ||
		r.CurrentA != nil ||
		r.GPSUpdatedAt != nil
}

// SeverityOf maps a record to its display severity.
//
// Active alerts dominate, then state-of-charge thresholds. Without a state
// of charge, any other electrical reading still counts as metric data and
// reads ok; neutral is reserved for records with no metric data at all. A
// GPS timestamp alone carries no health signal and stays neutral.
func SeverityOf(r *types.SystemRecord) Severity {
	if r == nil {
		return SeverityNeutral
	}
	if r.AlertsCount > 0 {
		return SeverityAlert
	}
	if r.SOC == nil {
		if hasElectricalMetric(r) {
			return SeverityOK
		}
		return SeverityNeutral
	}
	switch {
	case *r.SOC < chargeBadBelow:
		return SeverityBad
	case *r.SOC < chargeWarnBelow:
		return SeverityWarn
	default:
		return SeverityOK
	}
}

func hasElectricalMetric(r *types.SystemRecord) bool {
	return r.PowerOutW != nil ||
		r.VoltL1 != nil ||
		r.VoltL2 != nil ||
		r.VoltL3 != nil ||
		r.CurrentA != nil
}

// Max returns the higher of two severities.
func Max(a, b Severity) Severity {
	if a > b {
		return a
	}
	return b
}
