// Package raster provides the lat/lon grids consumed by the accessible-area
// and background-sampling stages: monotonic coordinate axes, nearest-cell
// lookup, clipping, smoothing, and an XYZ text loader.
package raster

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/habitat-cli/internal/geo"
)

// Axes holds the coordinate vectors of a rectangular, axis-aligned grid.
// Each vector is strictly monotonic, increasing or decreasing.
type Axes struct {
	Lats []float64 `json:"lats"`
	Lons []float64 `json:"lons"`
}

// Rows returns the number of latitude rows.
func (a Axes) Rows() int { return len(a.Lats) }

// Cols returns the number of longitude columns.
func (a Axes) Cols() int { return len(a.Lons) }

// Size returns the number of cells.
func (a Axes) Size() int { return len(a.Lats) * len(a.Lons) }

// Index returns the row-major offset of cell (r, c).
func (a Axes) Index(r, c int) int { return r*len(a.Lons) + c }

// Cell returns the row and column of a row-major offset.
func (a Axes) Cell(i int) (r, c int) { return i / len(a.Lons), i % len(a.Lons) }

// Center returns the coordinates of cell (r, c).
func (a Axes) Center(r, c int) (lat, lon float64) { return a.Lats[r], a.Lons[c] }

// Validate checks that both axes are non-empty and strictly monotonic.
func (a Axes) Validate() error {
	if len(a.Lats) == 0 || len(a.Lons) == 0 {
		return eris.New("raster: empty axis")
	}
	if !monotonic(a.Lats) {
		return eris.New("raster: latitude axis is not monotonic")
	}
	if !monotonic(a.Lons) {
		return eris.New("raster: longitude axis is not monotonic")
	}
	return nil
}

// Extent returns the bounding box spanned by the cell centres. It is empty
// when either axis is.
func (a Axes) Extent() geo.BBox {
	b := geom.NewBounds(geom.XY)
	if len(a.Lats) > 0 && len(a.Lons) > 0 {
		// Monotonic axes: the two opposite corners bound every centre.
		b.Extend(geom.NewLineStringFlat(geom.XY, []float64{
			a.Lons[0], a.Lats[0],
			a.Lons[len(a.Lons)-1], a.Lats[len(a.Lats)-1],
		}))
	}
	return geo.FromBounds(b)
}

// Nearest snaps a point to the nearest cell. Ties go to the lower index.
func (a Axes) Nearest(lat, lon float64) (r, c int) {
	return nearestIndex(a.Lats, lat), nearestIndex(a.Lons, lon)
}

// nearestIndex returns the index of the element of the monotonic vector xs
// closest to v.
func nearestIndex(xs []float64, v float64) int {
	n := len(xs)
	if n == 1 {
		return 0
	}
	increasing := xs[n-1] >= xs[0]
	var i int
	if increasing {
		i = sort.SearchFloat64s(xs, v)
	} else {
		i = sort.Search(n, func(k int) bool { return xs[k] <= v })
	}
	switch {
	case i <= 0:
		return 0
	case i >= n:
		return n - 1
	}
	if abs(xs[i-1]-v) <= abs(xs[i]-v) {
		return i - 1
	}
	return i
}

// span returns the half-open index range of xs whose values lie in [lo, hi].
func span(xs []float64, lo, hi float64) (start, end int) {
	start, end = -1, -1
	for i, x := range xs {
		if x >= lo && x <= hi {
			if start < 0 {
				start = i
			}
			end = i + 1
		}
	}
	if start < 0 {
		return 0, 0
	}
	return start, end
}

func monotonic(xs []float64) bool {
	if len(xs) < 2 {
		return true
	}
	inc := xs[1] > xs[0]
	for i := 1; i < len(xs); i++ {
		if inc && xs[i] <= xs[i-1] {
			return false
		}
		if !inc && xs[i] >= xs[i-1] {
			return false
		}
	}
	return true
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
