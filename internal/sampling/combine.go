package sampling

import (
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/model"
	"github.com/sells-group/habitat-cli/internal/spatial"
)

// FilterByDistance keeps the points whose nearest neighbour in others is at
// least minDistanceM away in projected meters. An empty others keeps
// everything.
func FilterByDistance(points, others []model.GeoPoint, minDistanceM float64) []model.GeoPoint {
	idx := spatial.IndexPoints(others)
	kept := make([]model.GeoPoint, 0, len(points))
	for i, xy := range spatial.ProjectPoints(points) {
		if _, d := idx.Nearest(xy); d >= minDistanceM {
			kept = append(kept, points[i])
		}
	}
	zap.L().Info("presence/background separation",
		zap.Int("before", len(points)),
		zap.Int("after", len(kept)),
		zap.Float64("min_distance_m", minDistanceM),
	)
	return kept
}

// Combine labels presence points 1 and background points 0, concatenates
// them, and shuffles the result deterministically from seed. Inputs are not
// modified.
func Combine(presence, background []model.GeoPoint, seed uint64) []model.GeoPoint {
	out := make([]model.GeoPoint, 0, len(presence)+len(background))
	for _, p := range presence {
		p.Label = model.LabelPresence
		out = append(out, p)
	}
	for _, p := range background {
		p.Label = model.LabelBackground
		out = append(out, p)
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })

	zap.L().Info("combined presence and background",
		zap.Int("presence", len(presence)),
		zap.Int("background", len(background)),
		zap.Int("total", len(out)),
	)
	return out
}
