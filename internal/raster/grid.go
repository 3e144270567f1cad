package raster

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/habitat-cli/internal/geo"
)

// Grid is a float raster stored row-major over its axes. NaN marks no data.
type Grid struct {
	Axes
	Data []float64 `json:"data"`
}

// NewGrid allocates a NaN-filled grid over the given axes.
func NewGrid(lats, lons []float64) *Grid {
	data := make([]float64, len(lats)*len(lons))
	for i := range data {
		data[i] = math.NaN()
	}
	return &Grid{Axes: Axes{Lats: lats, Lons: lons}, Data: data}
}

// At returns the value of cell (r, c).
func (g *Grid) At(r, c int) float64 { return g.Data[g.Index(r, c)] }

// Set stores v in cell (r, c).
func (g *Grid) Set(r, c int, v float64) { g.Data[g.Index(r, c)] = v }

// NearestValue returns the value of the cell nearest to the point.
func (g *Grid) NearestValue(lat, lon float64) float64 {
	r, c := g.Nearest(lat, lon)
	return g.At(r, c)
}

// Validate checks the axes and the data length.
func (g *Grid) Validate() error {
	if err := g.Axes.Validate(); err != nil {
		return err
	}
	if len(g.Data) != g.Size() {
		return eris.Errorf("raster: grid has %d values for %dx%d cells", len(g.Data), g.Rows(), g.Cols())
	}
	return nil
}

// Clip returns the sub-grid whose cell centres fall inside box, edges
// included. The result shares no memory with g and may be empty.
func (g *Grid) Clip(box geo.BBox) *Grid {
	if !box.Overlaps(g.Extent()) {
		return &Grid{}
	}
	r0, r1 := span(g.Lats, box.MinLat, box.MaxLat)
	c0, c1 := span(g.Lons, box.MinLon, box.MaxLon)
	if r1 <= r0 || c1 <= c0 {
		return &Grid{}
	}

	lats := append([]float64(nil), g.Lats[r0:r1]...)
	lons := append([]float64(nil), g.Lons[c0:c1]...)
	out := &Grid{Axes: Axes{Lats: lats, Lons: lons}, Data: make([]float64, len(lats)*len(lons))}
	for r := r0; r < r1; r++ {
		copy(out.Data[(r-r0)*len(lons):(r-r0+1)*len(lons)], g.Data[g.Index(r, c0):g.Index(r, c1-1)+1])
	}
	return out
}

// FiniteCount returns the number of non-NaN, non-infinite cells.
func (g *Grid) FiniteCount() int {
	n := 0
	for _, v := range g.Data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			n++
		}
	}
	return n
}

// Mask is a binary raster; a cell value of 1 marks an accessible cell.
type Mask struct {
	Axes
	Cells []uint8 `json:"cells"`
}

// NewMask allocates an all-zero mask over the given axes.
func NewMask(axes Axes) *Mask {
	return &Mask{Axes: axes, Cells: make([]uint8, axes.Size())}
}

// At returns the value of cell (r, c).
func (m *Mask) At(r, c int) uint8 { return m.Cells[m.Index(r, c)] }

// Contains reports whether the cell nearest to the point is accessible.
func (m *Mask) Contains(lat, lon float64) bool {
	if m.Size() == 0 {
		return false
	}
	r, c := m.Nearest(lat, lon)
	return m.At(r, c) == 1
}

// Count returns the number of accessible cells.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Cells {
		if v == 1 {
			n++
		}
	}
	return n
}
