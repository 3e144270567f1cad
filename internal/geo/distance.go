package geo

import (
	"github.com/golang/geo/s2"
)

// meanEarthRadius is the mean radius used for great-circle distances.
const meanEarthRadius = 6371000.0

// GreatCircleMeters returns the great-circle distance between two points.
// Used for diagnostics only; the spatial stages work in projected meters.
func GreatCircleMeters(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * meanEarthRadius
}
