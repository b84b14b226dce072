package grouping

import (
	"math"

	"github.com/gridpoint-energy/fleetview/dashboard/internal/geo"
)

// Spiderfy defaults, in meters.
const (
	spiderfyBaseRadius = 24.0
	spiderfyRadiusStep = 6.0
	spiderfyCapCount   = 6
)

// Spiderfy computes display positions for n group markers sharing one map
// anchor.
//
// Markers are spread on a circle whose radius grows with the (capped)
// marker count; marker i sits at angle 2*pi*i/n. A single marker gets the
// anchor back unchanged. The result depends only on (anchor, n), so callers
// must pass members in the group's canonical order for stable assignment.
func Spiderfy(anchor geo.Point, n int) []geo.Point {
	if n <= 1 {
		return []geo.Point{anchor}
	}

	capped := n
	if capped > spiderfyCapCount {
		capped = spiderfyCapCount
	}
	radius := spiderfyBaseRadius + float64(capped)*spiderfyRadiusStep

	out := make([]geo.Point, n)
	for i := 0; i < n; i++ {
		angle := 2 * math.Pi * float64(i) / float64(n)
		east := radius * math.Cos(angle)
		north := radius * math.Sin(angle)
		out[i] = geo.OffsetMeters(anchor, east, north)
	}
	return out
}
