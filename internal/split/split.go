// Package split partitions labelled point sets into spatially separated
// train/test sets and cross-validation folds.
package split

import (
	"math"
	"math/rand/v2"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/fault"
	"github.com/sells-group/habitat-cli/internal/model"
	"github.com/sells-group/habitat-cli/internal/spatial"
)

// TrainTest holds disjoint, ascending index sets into the split input.
// Dropped are points inside a test point's buffer that were never selected
// for test; they belong to neither set.
type TrainTest struct {
	Train   []int
	Test    []int
	Dropped []int
}

// TrainTestSplit grows a test set by repeatedly drawing a random point from
// the remaining pool and removing every pool member within minDistanceM of
// it, until the test set holds ceil(n*testFraction) points or the pool is
// empty. What is left in the pool becomes train. An exhausted pool under-fills
// the test set without error.
func TrainTestSplit(points []model.GeoPoint, testFraction, minDistanceM float64, seed uint64) (TrainTest, error) {
	const op = "split.TrainTestSplit"
	switch {
	case len(points) == 0:
		return TrainTest{}, fault.Input(op, "no points to split")
	case !(testFraction > 0 && testFraction < 1):
		return TrainTest{}, fault.Input(op, "test fraction must be in (0,1), got %g", testFraction)
	case minDistanceM <= 0:
		return TrainTest{}, fault.Input(op, "min distance must be positive, got %g", minDistanceM)
	}

	idx := spatial.IndexPoints(points)
	target := int(math.Ceil(float64(len(points)) * testFraction))

	// pool is kept sorted so a seeded draw is reproducible.
	pool := make([]int, len(points))
	for i := range pool {
		pool[i] = i
	}
	inPool := make([]bool, len(points))
	for i := range inPool {
		inPool[i] = true
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	var test []int
	for len(test) < target && len(pool) > 0 {
		pick := pool[rng.IntN(len(pool))]
		test = append(test, pick)
		inPool[pick] = false
		for _, j := range idx.Within(idx.Point(pick), minDistanceM) {
			inPool[j] = false
		}
		pool = compact(pool, inPool)
	}

	selected := make([]bool, len(points))
	for _, i := range test {
		selected[i] = true
	}
	var out TrainTest
	for i := range points {
		switch {
		case selected[i]:
			out.Test = append(out.Test, i)
		case inPool[i]:
			out.Train = append(out.Train, i)
		default:
			out.Dropped = append(out.Dropped, i)
		}
	}

	log := zap.L().With(zap.String("component", "split"))
	if len(out.Test) < target {
		log.Warn("test set under-filled; pool exhausted",
			zap.Int("target", target),
			zap.Int("test", len(out.Test)),
		)
	}
	log.Info("spatial train/test split",
		zap.Int("points", len(points)),
		zap.Int("train", len(out.Train)),
		zap.Int("test", len(out.Test)),
		zap.Int("dropped", len(out.Dropped)),
		zap.Float64("min_distance_m", minDistanceM),
	)
	return out, nil
}

// compact removes indices no longer in the pool, preserving order.
func compact(pool []int, inPool []bool) []int {
	out := pool[:0]
	for _, i := range pool {
		if inPool[i] {
			out = append(out, i)
		}
	}
	return out
}

// AssignFolds visits points in order. Each unassigned point opens the next
// round-robin fold and pulls every neighbour within minDistanceM into it,
// overwriting any earlier assignment. The counter advances once per opened
// cluster. The result is deterministic and aligned with points.
func AssignFolds(points []model.GeoPoint, numFolds int, minDistanceM float64) ([]int, error) {
	const op = "split.AssignFolds"
	if numFolds <= 0 {
		return nil, fault.Input(op, "fold count must be positive, got %d", numFolds)
	}
	if minDistanceM <= 0 {
		return nil, fault.Input(op, "min distance must be positive, got %g", minDistanceM)
	}

	idx := spatial.IndexPoints(points)
	folds := make([]int, len(points))
	for i := range folds {
		folds[i] = model.NoFold
	}

	current := 0
	for i := range points {
		if folds[i] != model.NoFold {
			continue
		}
		folds[i] = current
		for _, j := range idx.QueryRadius(i, minDistanceM) {
			folds[j] = current
		}
		current = (current + 1) % numFolds
	}

	zap.L().Debug("spatial folds assigned",
		zap.Int("points", len(points)),
		zap.Ints("fold_sizes", FoldSizes(folds, numFolds)),
	)
	return folds, nil
}

// FoldSizes counts the points in each fold id in [0, numFolds).
func FoldSizes(folds []int, numFolds int) []int {
	sizes := make([]int, numFolds)
	for _, f := range folds {
		if f >= 0 && f < numFolds {
			sizes[f]++
		}
	}
	return sizes
}

// Stratified splits the positions of labels into train and validation sets
// that preserve the class ratio. Each class contributes round(n*valFraction)
// members to validation, clamped so both sides get at least one. A class
// with fewer than two members cannot be split and is an InputError. Both
// outputs are ascending.
func Stratified(labels []int, valFraction float64, seed uint64) (train, val []int, err error) {
	const op = "split.Stratified"
	if !(valFraction > 0 && valFraction < 1) {
		return nil, nil, fault.Input(op, "validation fraction must be in (0,1), got %g", valFraction)
	}
	if len(labels) == 0 {
		return nil, nil, fault.Input(op, "no labels to split")
	}

	byClass := make(map[int][]int)
	for i, l := range labels {
		byClass[l] = append(byClass[l], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewPCG(seed, seed))
	for _, c := range classes {
		members := byClass[c]
		if len(members) < 2 {
			return nil, nil, fault.Input(op, "class %d has %d member(s); need at least 2", c, len(members))
		}
		nVal := int(math.Round(float64(len(members)) * valFraction))
		nVal = max(1, min(nVal, len(members)-1))

		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		val = append(val, members[:nVal]...)
		train = append(train, members[nVal:]...)
	}
	sort.Ints(train)
	sort.Ints(val)
	return train, val, nil
}
