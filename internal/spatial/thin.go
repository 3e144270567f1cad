package spatial

import (
	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/fault"
	"github.com/sells-group/habitat-cli/internal/model"
)

// Thin removes every point within minDistanceM of an earlier surviving point.
// It is a single greedy pass in input order, so the result depends on that
// order. Survivors keep their relative order and are pairwise at least
// minDistanceM apart in projected meters.
func Thin(points []model.GeoPoint, minDistanceM float64) ([]model.GeoPoint, error) {
	if minDistanceM <= 0 {
		return nil, fault.Input("spatial.Thin", "min distance must be positive, got %g", minDistanceM)
	}

	idx := IndexPoints(points)
	removed := make([]bool, len(points))
	kept := make([]model.GeoPoint, 0, len(points))
	for i := range points {
		if removed[i] {
			continue
		}
		kept = append(kept, points[i])
		for _, j := range idx.Within(idx.Point(i), minDistanceM) {
			if j != i {
				removed[j] = true
			}
		}
	}

	zap.L().Info("spatial thinning",
		zap.Int("before", len(points)),
		zap.Int("after", len(kept)),
		zap.Float64("min_distance_m", minDistanceM),
	)
	return kept, nil
}
