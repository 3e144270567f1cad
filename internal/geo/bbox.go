package geo

import (
	"math"

	"github.com/twpayne/go-geom"
)

// BBox represents a geographic bounding box in degrees. It is the
// serialisable form of an XY geom.Bounds with x as longitude.
type BBox struct {
	MinLon float64 `json:"min_lon" yaml:"min_lon"`
	MaxLon float64 `json:"max_lon" yaml:"max_lon"`
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
}

// FromBounds converts the first two dimensions of b. An empty b yields an
// inverted box for which Empty reports true.
func FromBounds(b *geom.Bounds) BBox {
	if b.IsEmpty() {
		return BBox{MinLon: math.Inf(1), MaxLon: math.Inf(-1), MinLat: math.Inf(1), MaxLat: math.Inf(-1)}
	}
	return BBox{MinLon: b.Min(0), MaxLon: b.Max(0), MinLat: b.Min(1), MaxLat: b.Max(1)}
}

// Bounds returns b as an XY geom.Bounds.
func (b BBox) Bounds() *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// BoundsOf returns the extent of the given lat/lon pairs. ok is false when
// coords is empty.
func BoundsOf(lats, lons []float64) (box BBox, ok bool) {
	n := min(len(lats), len(lons))
	if n == 0 {
		return BBox{}, false
	}

	flat := make([]float64, 0, n*2)
	for i := 0; i < n; i++ {
		flat = append(flat, lons[i], lats[i])
	}
	return FromBounds(geom.NewBounds(geom.XY).Extend(geom.NewMultiPointFlat(geom.XY, flat))), true
}

// Pad grows the box by padding degrees on every side.
func (b BBox) Pad(padding float64) BBox {
	return BBox{
		MinLon: b.MinLon - padding,
		MaxLon: b.MaxLon + padding,
		MinLat: b.MinLat - padding,
		MaxLat: b.MaxLat + padding,
	}
}

// Contains reports whether the point lies inside the box, edges included.
func (b BBox) Contains(lat, lon float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// Overlaps reports whether b and o share at least one point. Empty boxes
// overlap nothing.
func (b BBox) Overlaps(o BBox) bool {
	if b.Empty() || o.Empty() {
		return false
	}
	return b.Bounds().Overlaps(geom.XY, o.Bounds())
}

// Empty reports whether the box is inverted on either axis.
func (b BBox) Empty() bool {
	return b.Bounds().IsEmpty()
}
