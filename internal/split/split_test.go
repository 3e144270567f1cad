package split

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/habitat-cli/internal/fault"
	"github.com/sells-group/habitat-cli/internal/geo"
	"github.com/sells-group/habitat-cli/internal/model"
	"github.com/sells-group/habitat-cli/internal/spatial"
)

const metersPerDegree = geo.EarthRadiusMeters * math.Pi / 180

// line returns n points on the equator spaced stepM meters apart.
func line(n int, stepM float64) []model.GeoPoint {
	out := make([]model.GeoPoint, n)
	for i := range out {
		out[i] = model.NewPoint(fmt.Sprintf("p%d", i), 0, float64(i)*stepM/metersPerDegree, i%2)
	}
	return out
}

func scatter(n int, seed uint64) []model.GeoPoint {
	rng := rand.New(rand.NewPCG(seed, seed))
	out := make([]model.GeoPoint, n)
	for i := range out {
		out[i] = model.NewPoint(fmt.Sprintf("p%d", i), 10+rng.Float64(), 20+rng.Float64(), rng.IntN(2))
	}
	return out
}

func TestTrainTestSplit_BufferAndPartition(t *testing.T) {
	t.Parallel()

	points := scatter(300, 11)
	const d = 10_000.0
	tt, err := TrainTestSplit(points, 0.2, d, 42)
	require.NoError(t, err)

	all := append(append(append([]int(nil), tt.Train...), tt.Test...), tt.Dropped...)
	sort.Ints(all)
	require.Len(t, all, len(points))
	for i, v := range all {
		require.Equal(t, i, v, "every index appears exactly once")
	}

	assert.LessOrEqual(t, len(tt.Test), int(math.Ceil(300*0.2)))
	assert.NotEmpty(t, tt.Test)

	xy := spatial.ProjectPoints(points)
	for _, a := range tt.Test {
		for _, b := range tt.Train {
			assert.Greater(t, geo.Distance(xy[a], xy[b]), d)
		}
	}
	for _, c := range tt.Dropped {
		near := false
		for _, a := range tt.Test {
			if geo.Distance(xy[a], xy[c]) <= d {
				near = true
				break
			}
		}
		assert.True(t, near, "dropped point %d lies in some test buffer", c)
	}
}

func TestTrainTestSplit_Deterministic(t *testing.T) {
	t.Parallel()

	points := scatter(200, 5)
	a, err := TrainTestSplit(points, 0.25, 5_000, 7)
	require.NoError(t, err)
	b, err := TrainTestSplit(points, 0.25, 5_000, 7)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTrainTestSplit_UnderFill(t *testing.T) {
	t.Parallel()

	// Ten points 100 m apart with a 10 km buffer: the first pick empties the pool.
	tt, err := TrainTestSplit(line(10, 100), 0.5, 10_000, 1)
	require.NoError(t, err)
	assert.Len(t, tt.Test, 1)
	assert.Empty(t, tt.Train)
	assert.Len(t, tt.Dropped, 9)
}

func TestTrainTestSplit_FarApartFillsTarget(t *testing.T) {
	t.Parallel()

	tt, err := TrainTestSplit(line(10, 50_000), 0.25, 1_000, 3)
	require.NoError(t, err)
	assert.Len(t, tt.Test, 3) // ceil(2.5)
	assert.Len(t, tt.Train, 7)
	assert.Empty(t, tt.Dropped)
}

func TestTrainTestSplit_InvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		points   []model.GeoPoint
		fraction float64
		distance float64
	}{
		{"empty", nil, 0.2, 100},
		{"zero fraction", line(3, 1), 0, 100},
		{"whole fraction", line(3, 1), 1, 100},
		{"zero distance", line(3, 1), 0.2, 0},
		{"negative distance", line(3, 1), 0.2, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := TrainTestSplit(tt.points, tt.fraction, tt.distance, 1)
			require.Error(t, err)
			assert.True(t, fault.IsInput(err))
		})
	}
}

func TestAssignFolds_RoundRobinClusters(t *testing.T) {
	t.Parallel()

	// Three tight clusters 100 km apart, points interleaved in input order.
	mk := func(key string, clusterKm, offsetM float64) model.GeoPoint {
		return model.NewPoint(key, 0, (clusterKm*1000+offsetM)/metersPerDegree, 0)
	}
	points := []model.GeoPoint{
		mk("a0", 0, 0), mk("b0", 100, 0), mk("a1", 0, 50), mk("c0", 200, 0),
		mk("b1", 100, 80), mk("c1", 200, 30), mk("a2", 0, 90),
	}

	folds, err := AssignFolds(points, 2, 500)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 0, 0, 1, 0, 0}, folds)
	assert.Equal(t, []int{5, 2}, FoldSizes(folds, 2))
}

func TestAssignFolds_CompleteAndNeighboursShare(t *testing.T) {
	t.Parallel()

	points := scatter(250, 21)
	const d = 8_000.0
	folds, err := AssignFolds(points, 5, d)
	require.NoError(t, err)
	require.Len(t, folds, len(points))
	for _, f := range folds {
		assert.GreaterOrEqual(t, f, 0)
		assert.Less(t, f, 5)
	}

	again, err := AssignFolds(points, 5, d)
	require.NoError(t, err)
	assert.Equal(t, folds, again)

	// The point that opened a fold shares it with every neighbour it absorbed,
	// unless a later opener overwrote that neighbour.
	idx := spatial.IndexPoints(points)
	opened := make([]bool, len(points))
	seen := make([]bool, len(points))
	for i := range points {
		if seen[i] {
			continue
		}
		opened[i] = true
		seen[i] = true
		for _, j := range idx.QueryRadius(i, d) {
			seen[j] = true
		}
	}
	last := make([]int, len(points))
	for i := range last {
		last[i] = -1
	}
	for i := range points {
		if !opened[i] {
			continue
		}
		last[i] = i
		for _, j := range idx.QueryRadius(i, d) {
			last[j] = i
		}
	}
	for j, opener := range last {
		assert.Equal(t, folds[opener], folds[j])
	}
}

func TestAssignFolds_OverwritesEarlierAssignment(t *testing.T) {
	t.Parallel()

	// a and c are 1.5 km apart and b lies within 1 km of both.
	points := []model.GeoPoint{
		model.NewPoint("a", 0, 0, 0),
		model.NewPoint("c", 0, 1_500/metersPerDegree, 0),
		model.NewPoint("b", 0, 900/metersPerDegree, 0),
	}
	folds, err := AssignFolds(points, 3, 1_000)
	require.NoError(t, err)
	// a pulls b into fold 0; c is unassigned, opens fold 1 and overwrites b.
	assert.Equal(t, []int{0, 1, 1}, folds)
}

func TestAssignFolds_InvalidInput(t *testing.T) {
	t.Parallel()

	_, err := AssignFolds(line(3, 1), 0, 100)
	assert.True(t, fault.IsInput(err))
	_, err = AssignFolds(line(3, 1), 3, 0)
	assert.True(t, fault.IsInput(err))
}

func TestStratified(t *testing.T) {
	t.Parallel()

	labels := make([]int, 40)
	for i := range labels {
		if i%4 == 0 {
			labels[i] = 1
		}
	}

	train, val, err := Stratified(labels, 0.2, 0)
	require.NoError(t, err)
	assert.Len(t, val, 8)
	assert.Len(t, train, 32)
	assert.True(t, sort.IntsAreSorted(train))
	assert.True(t, sort.IntsAreSorted(val))

	pos := 0
	for _, i := range val {
		pos += labels[i]
	}
	assert.Equal(t, 2, pos)

	train2, val2, err := Stratified(labels, 0.2, 0)
	require.NoError(t, err)
	assert.Equal(t, train, train2)
	assert.Equal(t, val, val2)
}

func TestStratified_ClampsSmallClasses(t *testing.T) {
	t.Parallel()

	train, val, err := Stratified([]int{1, 1, 0, 0, 0, 0, 0, 0, 0, 0}, 0.1, 3)
	require.NoError(t, err)
	// round(0.2)=0 for the positives is clamped up to one.
	assert.Len(t, val, 2)
	assert.Len(t, train, 8)
}

func TestStratified_Errors(t *testing.T) {
	t.Parallel()

	_, _, err := Stratified([]int{1, 0, 0, 0}, 0.25, 1)
	assert.True(t, fault.IsInput(err))
	_, _, err = Stratified([]int{1, 1, 0, 0}, 0, 1)
	assert.True(t, fault.IsInput(err))
	_, _, err = Stratified(nil, 0.2, 1)
	assert.True(t, fault.IsInput(err))
}
