// Package sampling draws density-weighted background points from the
// accessible area and prepares the combined presence/background dataset.
package sampling

import (
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/habitat-cli/internal/fault"
	"github.com/sells-group/habitat-cli/internal/model"
	"github.com/sells-group/habitat-cli/internal/raster"
)

// Surface is a probability surface over the cells of a mask. Weights sum to
// one over accessible cells and are zero elsewhere.
type Surface struct {
	raster.Axes
	Weights []float64
}

// CountRaster increments the nearest mask cell of every occurrence that
// lies inside the mask extent on an accessible cell. It returns the
// row-major counts and the number of occurrences dropped for lying outside
// the area.
func CountRaster(mask *raster.Mask, occurrences []model.GeoPoint) ([]float64, int) {
	counts := make([]float64, mask.Size())
	extent := mask.Extent()
	dropped := 0
	for _, p := range occurrences {
		if !extent.Contains(p.Latitude, p.Longitude) || !mask.Contains(p.Latitude, p.Longitude) {
			dropped++
			continue
		}
		r, c := mask.Nearest(p.Latitude, p.Longitude)
		counts[mask.Index(r, c)]++
	}
	return counts, dropped
}

// NewSurface rasterizes occurrences onto mask, smooths the counts with a
// Gaussian of sigma cells, and normalizes over the accessible cells. A
// surface with no mass is a ConfigError.
func NewSurface(mask *raster.Mask, occurrences []model.GeoPoint, sigma float64) (*Surface, error) {
	if mask == nil || mask.Size() == 0 {
		return nil, fault.Config("background_sampling", "accessible area is empty")
	}
	if sigma < 0 {
		return nil, fault.Input("sampling.NewSurface", "smoothing sigma must be non-negative, got %g", sigma)
	}

	counts, dropped := CountRaster(mask, occurrences)
	weights := raster.GaussianFilter(counts, mask.Rows(), mask.Cols(), sigma)
	for i, v := range mask.Cells {
		if v != 1 {
			weights[i] = 0
		}
	}

	total := floats.Sum(weights)
	if !(total > 0) {
		return nil, fault.Config("background_sampling",
			"probability surface sums to zero (%d occurrences, %d outside the accessible area)", len(occurrences), dropped)
	}
	floats.Scale(1/total, weights)

	zap.L().Info("background probability surface",
		zap.Int("occurrences", len(occurrences)),
		zap.Int("outside_area", dropped),
		zap.Int("nonzero_cells", nonZero(weights)),
		zap.Float64("sigma", sigma),
	)
	return &Surface{Axes: mask.Axes, Weights: weights}, nil
}

// Sample draws size cells with replacement, proportional to their weight,
// and returns their centres as background points labelled 0 with keys
// bg-<n>. The draw is fully determined by seed.
func (s *Surface) Sample(size int, seed uint64) ([]model.GeoPoint, error) {
	if size <= 0 {
		return nil, fault.Input("sampling.Sample", "sample size must be positive, got %d", size)
	}

	cat := distuv.NewCategorical(s.Weights, rand.NewPCG(seed, seed))
	out := make([]model.GeoPoint, size)
	for n := range out {
		i := int(cat.Rand())
		r, c := s.Cell(i)
		lat, lon := s.Center(r, c)
		out[n] = model.NewPoint(fmt.Sprintf("bg-%d", n), lat, lon, model.LabelBackground)
	}
	return out, nil
}

// SampleBackground draws size background points from mask, weighted by the
// smoothed density of occurrences. Output length always equals size and
// duplicates are allowed.
func SampleBackground(mask *raster.Mask, occurrences []model.GeoPoint, size int, sigma float64, seed uint64) ([]model.GeoPoint, error) {
	if size <= 0 {
		return nil, fault.Input("sampling.SampleBackground", "sample size must be positive, got %d", size)
	}
	surface, err := NewSurface(mask, occurrences, sigma)
	if err != nil {
		return nil, err
	}
	points, err := surface.Sample(size, seed)
	if err != nil {
		return nil, err
	}
	zap.L().Info("background points sampled", zap.Int("size", len(points)), zap.Uint64("seed", seed))
	return points, nil
}

func nonZero(xs []float64) int {
	n := 0
	for _, x := range xs {
		if x != 0 {
			n++
		}
	}
	return n
}
