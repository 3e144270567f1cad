// Package area builds the accessible-area mask from a bathymetry raster and
// restricts point sets to it.
package area

import (
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/fault"
	"github.com/sells-group/habitat-cli/internal/geo"
	"github.com/sells-group/habitat-cli/internal/model"
	"github.com/sells-group/habitat-cli/internal/raster"
)

// ExclusionRule removes cells from the accessible area regardless of depth.
type ExclusionRule interface {
	Excluded(lat, lon float64) bool
}

// NoExclusion keeps every cell.
type NoExclusion struct{}

// Excluded implements ExclusionRule.
func (NoExclusion) Excluded(float64, float64) bool { return false }

// Default offsets of the corner carve-out, in degrees.
const (
	DefaultCarveLonOffset = 4.0
	DefaultCarveLatOffset = 15.5
)

// CornerCarveOut drops the south-east corner of the study area, which lies
// across an isthmus from the rest of the range. Box is the padded bounding
// box; a cell is kept iff lon < MaxLon-Padding-LonOffset or
// lat > MinLat-Padding+LatOffset.
type CornerCarveOut struct {
	Box       geo.BBox
	Padding   float64
	LonOffset float64
	LatOffset float64
}

// NewCornerCarveOut returns the carve-out with the default offsets.
func NewCornerCarveOut(box geo.BBox, padding float64) CornerCarveOut {
	return CornerCarveOut{Box: box, Padding: padding, LonOffset: DefaultCarveLonOffset, LatOffset: DefaultCarveLatOffset}
}

// Excluded implements ExclusionRule.
func (c CornerCarveOut) Excluded(lat, lon float64) bool {
	keep := lon < c.Box.MaxLon-c.Padding-c.LonOffset || lat > c.Box.MinLat-c.Padding+c.LatOffset
	return !keep
}

// Build clips bathy to box (edges included) and marks a cell accessible when
// its depth is finite, no deeper than maxDepth, and not excluded by rule. A
// box with no finite cells yields an all-zero mask; callers check Accessible.
func Build(bathy *raster.Grid, box geo.BBox, maxDepth float64, rule ExclusionRule) (*raster.Mask, error) {
	if maxDepth <= 0 {
		return nil, fault.Input("area.Build", "max depth must be positive, got %g", maxDepth)
	}
	if bathy == nil {
		return nil, fault.Input("area.Build", "bathymetry grid is nil")
	}
	if rule == nil {
		rule = NoExclusion{}
	}

	clipped := bathy.Clip(box)
	mask := raster.NewMask(clipped.Axes)
	for r := 0; r < clipped.Rows(); r++ {
		for c := 0; c < clipped.Cols(); c++ {
			depth := clipped.At(r, c)
			if math.IsNaN(depth) || math.IsInf(depth, 0) || depth < -maxDepth {
				continue
			}
			lat, lon := clipped.Center(r, c)
			if rule.Excluded(lat, lon) {
				continue
			}
			mask.Cells[mask.Index(r, c)] = 1
		}
	}

	zap.L().Info("accessible area built",
		zap.Int("rows", mask.Rows()),
		zap.Int("cols", mask.Cols()),
		zap.Int("accessible_cells", mask.Count()),
		zap.Float64("max_depth", maxDepth),
	)
	return mask, nil
}

// Accessible returns a ConfigError when mask has no accessible cell.
func Accessible(mask *raster.Mask) error {
	if mask == nil || mask.Count() == 0 {
		return fault.Config("accessible_area", "no accessible cells; check the bounding box, padding and max depth")
	}
	return nil
}

// InitialBoundingBox returns the extent of points grown by padding degrees.
// ok is false for an empty input.
func InitialBoundingBox(points []model.GeoPoint, padding float64) (geo.BBox, bool) {
	lats := make([]float64, len(points))
	lons := make([]float64, len(points))
	for i, p := range points {
		lats[i] = p.Latitude
		lons[i] = p.Longitude
	}
	box, ok := geo.BoundsOf(lats, lons)
	if !ok {
		return geo.BBox{}, false
	}
	return box.Pad(padding), true
}

// FilterBoundingBox keeps the points inside box, preserving order.
func FilterBoundingBox(points []model.GeoPoint, box geo.BBox) []model.GeoPoint {
	kept := make([]model.GeoPoint, 0, len(points))
	for _, p := range points {
		if box.Contains(p.Latitude, p.Longitude) {
			kept = append(kept, p)
		}
	}
	zap.L().Info("bounding box filter",
		zap.Int("before", len(points)),
		zap.Int("after", len(kept)),
	)
	return kept
}

// Filter splits points into those whose nearest mask cell is accessible and
// the rest. Points outside the mask extent are rejected before snapping.
// Both outputs keep the input order, and filtering kept again changes
// nothing.
func Filter(points []model.GeoPoint, mask *raster.Mask) (kept, removed []model.GeoPoint) {
	kept = make([]model.GeoPoint, 0, len(points))
	extent := mask.Extent()
	for _, p := range points {
		if extent.Contains(p.Latitude, p.Longitude) && mask.Contains(p.Latitude, p.Longitude) {
			kept = append(kept, p)
		} else {
			removed = append(removed, p)
		}
	}

	zap.L().Info("accessible area filter",
		zap.Int("before", len(points)),
		zap.Int("after", len(kept)),
		zap.Int("removed", len(removed)),
	)
	return kept, removed
}
