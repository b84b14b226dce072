// Package geo provides the small amount of spherical math the dashboard
// needs: great-circle distance for movement detection and local planar
// offsets for marker declustering.
package geo

import (
	"math"
)

const (
	// earthRadiusM is the mean Earth radius.
	earthRadiusM = 6371000.0

	// metersPerDegree is the length of one degree of latitude. Longitude
	// degrees shrink with cos(lat); see OffsetMeters.
	metersPerDegree = 111320.0
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lon float64
}

// DistanceMeters returns the great-circle (haversine) distance between two
// points in meters.
func DistanceMeters(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// OffsetMeters shifts a point by (east, north) meters using a local
// equirectangular approximation. Only valid for small offsets (tens of
// meters); this is not a geodesic projection.
func OffsetMeters(p Point, eastM, northM float64) Point {
	latRad := p.Lat * math.Pi / 180
	mPerDegLon := metersPerDegree * math.Cos(latRad)
	if mPerDegLon == 0 {
		// Degenerate at the poles; keep longitude unchanged.
		return Point{Lat: p.Lat + northM/metersPerDegree, Lon: p.Lon}
	}
	return Point{
		Lat: p.Lat + northM/metersPerDegree,
		Lon: p.Lon + eastM/mPerDegLon,
	}
}
