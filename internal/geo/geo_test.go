package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twpayne/go-geom"
)

func TestProjectRoundTrip(t *testing.T) {
	for _, c := range [][2]float64{{0, 0}, {36.5, 14.2}, {-33.9, 151.2}, {60, -179.5}} {
		lat, lon := Unproject(Project(c[0], c[1]))
		assert.InDelta(t, c[0], lat, 1e-9)
		assert.InDelta(t, c[1], lon, 1e-9)
	}
}

func TestProjectEquatorScale(t *testing.T) {
	// One degree of longitude at the equator is ~111.32 km in EPSG:3857.
	a := Project(0, 0)
	b := Project(0, 1)
	assert.InDelta(t, 111319.49, Distance(a, b), 0.1)
}

func TestProjectClampsPoles(t *testing.T) {
	p := Project(90, 0)
	assert.False(t, math.IsInf(p.Y, 0))
	assert.InDelta(t, Project(maxMercatorLat, 0).Y, p.Y, 1e-6)
}

func TestBoundsOfAndPad(t *testing.T) {
	box, ok := BoundsOf([]float64{10, 12, 11}, []float64{-5, 3, 0})
	assert.True(t, ok)
	assert.Equal(t, BBox{MinLon: -5, MaxLon: 3, MinLat: 10, MaxLat: 12}, box)

	padded := box.Pad(1)
	assert.Equal(t, BBox{MinLon: -6, MaxLon: 4, MinLat: 9, MaxLat: 13}, padded)
	assert.True(t, padded.Contains(13, 4))
	assert.False(t, padded.Contains(13.01, 4))
}

func TestBoundsOfEmpty(t *testing.T) {
	_, ok := BoundsOf(nil, nil)
	assert.False(t, ok)
	assert.True(t, BBox{MinLon: 1, MaxLon: 0}.Empty())
	assert.False(t, BBox{}.Empty())
}

func TestBBoxGeomBounds(t *testing.T) {
	box := BBox{MinLon: -81.5, MaxLon: -68.5, MinLat: 8.5, MaxLat: 21.5}
	b := box.Bounds()
	assert.Equal(t, geom.XY, b.Layout())
	assert.Equal(t, []float64{-81.5, 8.5}, []float64{b.Min(0), b.Min(1)})
	assert.Equal(t, []float64{-68.5, 21.5}, []float64{b.Max(0), b.Max(1)})
	assert.Equal(t, box, FromBounds(b))

	empty := FromBounds(geom.NewBounds(geom.XY))
	assert.True(t, empty.Empty())
	assert.False(t, empty.Contains(0, 0))
	assert.True(t, FromBounds(geom.NewBounds(geom.NoLayout)).Empty())
}

func TestBBoxOverlaps(t *testing.T) {
	box := BBox{MinLon: 0, MaxLon: 10, MinLat: 0, MaxLat: 10}

	tests := []struct {
		name  string
		other BBox
		want  bool
	}{
		{"inside", BBox{MinLon: 2, MaxLon: 3, MinLat: 2, MaxLat: 3}, true},
		{"partial", BBox{MinLon: 5, MaxLon: 15, MinLat: -5, MaxLat: 5}, true},
		{"shared edge", BBox{MinLon: 10, MaxLon: 12, MinLat: 0, MaxLat: 10}, true},
		{"disjoint lon", BBox{MinLon: 11, MaxLon: 12, MinLat: 0, MaxLat: 10}, false},
		{"disjoint lat", BBox{MinLon: 0, MaxLon: 10, MinLat: -3, MaxLat: -1}, false},
		{"inverted", BBox{MinLon: 5, MaxLon: 4, MinLat: 0, MaxLat: 10}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, box.Overlaps(tt.other))
			assert.Equal(t, tt.want, tt.other.Overlaps(box))
		})
	}
}

func TestGreatCircleMeters(t *testing.T) {
	// One degree of latitude on the mean sphere.
	assert.InDelta(t, 111194.9, GreatCircleMeters(0, 0, 1, 0), 1)
	assert.InDelta(t, 0, GreatCircleMeters(45, 45, 45, 45), 1e-9)
}
