// Package spatial answers proximity queries over projected point sets and
// implements greedy spatial thinning.
package spatial

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/sells-group/habitat-cli/internal/geo"
	"github.com/sells-group/habitat-cli/internal/model"
)

// node is a projected point tagged with its position in the input slice.
type node struct {
	geo.XY
	idx int
}

// Compare implements kdtree.Comparable.
func (p node) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(node)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	default:
		panic("spatial: illegal dimension")
	}
}

// Dims implements kdtree.Comparable.
func (p node) Dims() int { return 2 }

// Distance returns the squared planar distance.
func (p node) Distance(c kdtree.Comparable) float64 {
	q := c.(node)
	dx := p.X - q.X
	dy := p.Y - q.Y
	return dx*dx + dy*dy
}

// nodes satisfies kdtree.Interface.
type nodes []node

func (p nodes) Index(i int) kdtree.Comparable         { return p[i] }
func (p nodes) Len() int                              { return len(p) }
func (p nodes) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p nodes) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(plane{nodes: p, Dim: d}, kdtree.MedianOfRandoms(plane{nodes: p, Dim: d}, 100))
}

// plane implements kdtree.SortSlicer along one dimension.
type plane struct {
	nodes
	kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.nodes[i].X < p.nodes[j].X
	case 1:
		return p.nodes[i].Y < p.nodes[j].Y
	default:
		panic("spatial: illegal dimension")
	}
}

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{nodes: p.nodes[start:end], Dim: p.Dim}
}

func (p plane) Swap(i, j int) {
	p.nodes[i], p.nodes[j] = p.nodes[j], p.nodes[i]
}

// Index is an immutable proximity index over a snapshot of projected
// coordinates. Build a new one when the point set changes.
type Index struct {
	xy   []geo.XY
	tree *kdtree.Tree
}

// NewIndex builds an index over xy. The slice is copied.
func NewIndex(xy []geo.XY) *Index {
	snapshot := append([]geo.XY(nil), xy...)
	idx := &Index{xy: snapshot}
	if len(snapshot) == 0 {
		return idx
	}
	pts := make(nodes, len(snapshot))
	for i, p := range snapshot {
		pts[i] = node{XY: p, idx: i}
	}
	idx.tree = kdtree.New(pts, false)
	return idx
}

// ProjectPoints projects every point to web mercator meters.
func ProjectPoints(points []model.GeoPoint) []geo.XY {
	out := make([]geo.XY, len(points))
	for i, p := range points {
		out[i] = geo.Project(p.Latitude, p.Longitude)
	}
	return out
}

// IndexPoints projects points and builds an index over them.
func IndexPoints(points []model.GeoPoint) *Index {
	return NewIndex(ProjectPoints(points))
}

// Len returns the number of indexed points.
func (x *Index) Len() int { return len(x.xy) }

// Point returns the projected coordinate of point i.
func (x *Index) Point(i int) geo.XY { return x.xy[i] }

// Within returns, in ascending order, every indexed point whose distance to p
// is at most r.
func (x *Index) Within(p geo.XY, r float64) []int {
	if x.tree == nil || r < 0 {
		return nil
	}
	// Widen the keeper slightly so boundary points survive float rounding in
	// the squared comparison; the exact test below decides membership.
	keeper := kdtree.NewDistKeeper(r*r*(1+1e-9) + 1e-9)
	x.tree.NearestSet(keeper, node{XY: p, idx: -1})

	out := make([]int, 0, keeper.Len())
	for _, cd := range keeper.Heap {
		if cd.Comparable == nil {
			continue
		}
		n := cd.Comparable.(node)
		if geo.Distance(n.XY, p) <= r {
			out = append(out, n.idx)
		}
	}
	sort.Ints(out)
	return out
}

// QueryRadius returns, in ascending order, the points within r of point i,
// excluding i itself.
func (x *Index) QueryRadius(i int, r float64) []int {
	all := x.Within(x.xy[i], r)
	out := all[:0]
	for _, j := range all {
		if j != i {
			out = append(out, j)
		}
	}
	return out
}

// Nearest returns the indexed point closest to p and its distance. It
// returns -1 and +Inf for an empty index.
func (x *Index) Nearest(p geo.XY) (int, float64) {
	if x.tree == nil {
		return -1, math.Inf(1)
	}
	got, d2 := x.tree.Nearest(node{XY: p, idx: -1})
	if got == nil {
		return -1, math.Inf(1)
	}
	return got.(node).idx, math.Sqrt(d2)
}
