// Package geo holds the coordinate handling shared by the spatial stages:
// the planar projection used for metric distances, bounding boxes, and
// great-circle diagnostics.
package geo

import "math"

// EarthRadiusMeters is the spherical radius used by the EPSG:3857 projection.
const EarthRadiusMeters = 6378137.0

// maxMercatorLat is the latitude at which web mercator becomes square.
const maxMercatorLat = 85.05112878

// XY is a planar coordinate in meters.
type XY struct {
	X float64
	Y float64
}

// Project converts WGS84 degrees to web mercator (EPSG:3857) meters.
// Latitudes beyond the projection limit are clamped.
func Project(lat, lon float64) XY {
	lat = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, lat))
	x := EarthRadiusMeters * lon * math.Pi / 180
	y := EarthRadiusMeters * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return XY{X: x, Y: y}
}

// Unproject converts web mercator meters back to WGS84 degrees.
func Unproject(p XY) (lat, lon float64) {
	lon = p.X / EarthRadiusMeters * 180 / math.Pi
	lat = (2*math.Atan(math.Exp(p.Y/EarthRadiusMeters)) - math.Pi/2) * 180 / math.Pi
	return lat, lon
}

// Distance returns the planar distance between two projected points.
func Distance(a, b XY) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
