package envdata

import (
	"math"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/geo"
)

// DistanceToShore is the covariate served by CoastlineDistance.
const DistanceToShore = "distance_to_shore_m"

// CoastlineDistance measures the planar distance in web mercator meters from
// a point to the nearest coastline segment.
type CoastlineDistance struct {
	lines []*geom.LineString
}

// NewCoastlineDistance builds a provider from lines given in lon/lat
// degrees. Lines are projected once.
func NewCoastlineDistance(lines []*geom.LineString) *CoastlineDistance {
	projected := make([]*geom.LineString, 0, len(lines))
	for _, ls := range lines {
		if ls == nil || ls.NumCoords() < 1 {
			continue
		}
		flat := make([]float64, 0, ls.NumCoords()*2)
		for i := 0; i < ls.NumCoords(); i++ {
			c := ls.Coord(i)
			p := geo.Project(c.Y(), c.X())
			flat = append(flat, p.X, p.Y)
		}
		projected = append(projected, geom.NewLineStringFlat(geom.XY, flat))
	}
	return &CoastlineDistance{lines: projected}
}

// LoadCoastline reads the polylines and polygon rings of a shapefile.
func LoadCoastline(path string) (*CoastlineDistance, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "envdata: open coastline %s", path)
	}
	defer func() { _ = reader.Close() }()

	var lines []*geom.LineString
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		parts := shapeLines(shape)
		if len(parts) == 0 {
			skipped++
			continue
		}
		lines = append(lines, parts...)
	}
	if len(lines) == 0 {
		return nil, eris.Errorf("envdata: coastline %s has no line geometry", path)
	}

	zap.L().Debug("envdata: coastline loaded",
		zap.String("path", path),
		zap.Int("lines", len(lines)),
		zap.Int("skipped", skipped),
	)
	return NewCoastlineDistance(lines), nil
}

// shapeLines splits a polyline or polygon into one line string per part.
// Other shapes yield nothing.
func shapeLines(shape shp.Shape) []*geom.LineString {
	var (
		numParts int32
		parts    []int32
		points   []shp.Point
	)
	switch s := shape.(type) {
	case *shp.PolyLine:
		numParts, parts, points = s.NumParts, s.Parts, s.Points
	case *shp.Polygon:
		numParts, parts, points = s.NumParts, s.Parts, s.Points
	default:
		return nil
	}
	if numParts == 0 || len(points) == 0 {
		return nil
	}

	out := make([]*geom.LineString, 0, numParts)
	for i := int32(0); i < numParts; i++ {
		start := parts[i]
		end := int32(len(points))
		if i+1 < numParts {
			end = parts[i+1]
		}
		if end <= start {
			continue
		}
		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, points[j].X, points[j].Y)
		}
		out = append(out, geom.NewLineStringFlat(geom.XY, flat))
	}
	return out
}

// Covariates implements Provider.
func (c *CoastlineDistance) Covariates() []string { return []string{DistanceToShore} }

// Value implements Provider.
func (c *CoastlineDistance) Value(name string, lat, lon float64) (float64, error) {
	if name != DistanceToShore {
		return 0, eris.Wrapf(ErrUnknownCovariate, "coastline %q", name)
	}
	return c.Distance(lat, lon), nil
}

// Distance returns the distance in meters to the nearest line, or NaN when
// there are no lines.
func (c *CoastlineDistance) Distance(lat, lon float64) float64 {
	p := geo.Project(lat, lon)
	pt := geom.Coord{p.X, p.Y}
	best := math.Inf(1)
	for _, ls := range c.lines {
		if boundsDistance(ls.Bounds(), p) >= best {
			continue
		}
		var d float64
		if ls.NumCoords() == 1 {
			d = geo.Distance(p, geo.XY{X: ls.Coord(0).X(), Y: ls.Coord(0).Y()})
		} else {
			d = xy.DistanceFromPointToLineString(geom.XY, pt, ls.FlatCoords())
		}
		best = math.Min(best, d)
	}
	if math.IsInf(best, 1) {
		return math.NaN()
	}
	return best
}

// boundsDistance is a lower bound on the distance from p to anything inside b.
func boundsDistance(b *geom.Bounds, p geo.XY) float64 {
	dx := math.Max(0, math.Max(b.Min(0)-p.X, p.X-b.Max(0)))
	dy := math.Max(0, math.Max(b.Min(1)-p.Y, p.Y-b.Max(1)))
	return math.Hypot(dx, dy)
}
