package training

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/habitat-cli/internal/fault"
	"github.com/sells-group/habitat-cli/internal/model"
	"github.com/sells-group/habitat-cli/internal/split"
)

// CVParams is the immutable configuration of one cross-validation run. It is
// passed by value to every fold.
type CVParams struct {
	NumFolds     int
	MinDistanceM float64
	ValFraction  float64
	Seed         uint64
	Hyperparams  Hyperparams
	// Concurrency bounds the number of folds fitted at once; values below
	// one run folds sequentially.
	Concurrency int
}

// FoldResult holds the outcome of one held-out fold. Skipped folds carry
// NaN metrics and the reason they could not be scored.
type FoldResult struct {
	Fold       int           `json:"fold"`
	TrainSize  int           `json:"train_size"`
	ValSize    int           `json:"val_size"`
	TestSize   int           `json:"test_size"`
	Metrics    Metrics       `json:"metrics"`
	Threshold  float64       `json:"threshold"`
	Iterations int           `json:"iterations"`
	Skipped    bool          `json:"skipped"`
	Reason     string        `json:"reason,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// CVReport aggregates the folds of one cross-validation run. MeanF1 and
// StdF1 (population) cover the scored folds only and are NaN when none
// were scored.
type CVReport struct {
	Folds  []FoldResult `json:"folds"`
	MeanF1 float64      `json:"mean_f1"`
	StdF1  float64      `json:"std_f1"`
	Scored int          `json:"scored"`
}

// Thresholds returns the selected threshold of every fold.
func (r *CVReport) Thresholds() []float64 {
	out := make([]float64, len(r.Folds))
	for i, f := range r.Folds {
		out[i] = f.Threshold
	}
	return out
}

// CrossValidate assigns spatial folds to ds once and scores each fold as the
// held-out test set: the remaining points are split into stratified
// train/validation sets, trainer is fitted with early stopping on
// validation, a threshold is selected on validation, and the test fold is
// scored. Folds whose test set is empty or single-class, or whose remainder
// holds fewer than two points of either class, are reported as skipped
// rather than failing the run. Invalid params fail before any fold runs.
func CrossValidate(ctx context.Context, ds model.Dataset, params CVParams, trainer Trainer) (*CVReport, error) {
	if ds.Len() == 0 {
		return nil, fault.Config("cross_validation", "dataset is empty")
	}
	if params.NumFolds <= 0 {
		return nil, fault.Input("training.CrossValidate", "fold count must be positive, got %d", params.NumFolds)
	}
	if !(params.ValFraction > 0 && params.ValFraction < 1) {
		return nil, fault.Input("training.CrossValidate", "validation fraction must be in (0,1), got %g", params.ValFraction)
	}
	if !(params.MinDistanceM > 0) {
		return nil, fault.Input("training.CrossValidate", "minimum fold distance must be positive, got %g", params.MinDistanceM)
	}

	folds, err := split.AssignFolds(ds.Points, params.NumFolds, params.MinDistanceM)
	if err != nil {
		return nil, err
	}
	x, y := ds.Matrix()

	log := zap.L().With(zap.String("component", "cv"))
	log.Info("cross-validation started",
		zap.Int("points", ds.Len()),
		zap.Int("folds", params.NumFolds),
		zap.Ints("fold_sizes", split.FoldSizes(folds, params.NumFolds)),
	)

	results := make([]FoldResult, params.NumFolds)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, params.Concurrency))
	for k := 0; k < params.NumFolds; k++ {
		g.Go(func() error {
			res, err := runFold(gctx, k, params, x, y, folds, trainer)
			if err != nil {
				return eris.Wrapf(err, "training: fold %d", k)
			}
			if res.Skipped {
				log.Warn("fold skipped", zap.Int("fold", k), zap.String("reason", res.Reason))
			} else {
				log.Info("fold scored",
					zap.Int("fold", k),
					zap.Float64("precision", res.Metrics.Precision),
					zap.Float64("recall", res.Metrics.Recall),
					zap.Float64("f1", res.Metrics.F1),
					zap.Float64("threshold", res.Threshold),
				)
			}
			results[k] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &CVReport{Folds: results, MeanF1: math.NaN(), StdF1: math.NaN()}
	var scores []float64
	for _, r := range results {
		if !r.Skipped {
			scores = append(scores, r.Metrics.F1)
		}
	}
	report.Scored = len(scores)
	if len(scores) > 0 {
		report.MeanF1, report.StdF1 = stat.PopMeanStdDev(scores, nil)
	}

	log.Info("cross-validation complete",
		zap.Int("scored", report.Scored),
		zap.Float64("mean_f1", report.MeanF1),
		zap.Float64("std_f1", report.StdF1),
	)
	return report, nil
}

func runFold(ctx context.Context, k int, params CVParams, x [][]float64, y []int, folds []int, trainer Trainer) (FoldResult, error) {
	start := time.Now()
	res := FoldResult{Fold: k, Threshold: math.NaN(), Metrics: Metrics{Precision: math.NaN(), Recall: math.NaN(), F1: math.NaN()}}
	skip := func(format string, args ...any) (FoldResult, error) {
		res.Skipped = true
		res.Reason = fmt.Sprintf(format, args...)
		res.Duration = time.Since(start)
		return res, nil
	}

	var testIdx, restIdx []int
	for i, f := range folds {
		if f == k {
			testIdx = append(testIdx, i)
		} else {
			restIdx = append(restIdx, i)
		}
	}
	res.TestSize = len(testIdx)

	xTest, yTest := rows(x, y, testIdx)
	if len(testIdx) == 0 {
		return skip("test fold is empty")
	}
	if classes(yTest) < 2 {
		return skip("test fold holds a single class")
	}

	xRest, yRest := rows(x, y, restIdx)
	if n, c := smallestClass(yRest); n < 2 {
		return skip("cannot stratify remaining folds: class %d has %d member(s)", c, n)
	}
	trainPos, valPos, err := split.Stratified(yRest, params.ValFraction, params.Seed)
	if err != nil {
		return res, err
	}
	xTrain, yTrain := rows(xRest, yRest, trainPos)
	xVal, yVal := rows(xRest, yRest, valPos)
	res.TrainSize, res.ValSize = len(trainPos), len(valPos)

	clf, err := trainer.Fit(ctx, FitInput{
		XTrain:         xTrain,
		YTrain:         yTrain,
		XVal:           xVal,
		YVal:           yVal,
		PositiveWeight: PositiveWeight(yTrain),
		Params:         params.Hyperparams,
	})
	if err != nil {
		return res, err
	}

	threshold, err := SelectThreshold(clf.PredictProba(xVal), yVal)
	if err != nil {
		return res, err
	}
	res.Threshold = threshold
	res.Iterations = clf.Iterations()
	res.Metrics = Evaluate(yTest, Predict(clf.PredictProba(xTest), threshold))
	res.Duration = time.Since(start)
	return res, nil
}

// rows gathers the rows of x and y at idx.
func rows(x [][]float64, y []int, idx []int) ([][]float64, []int) {
	xs := make([][]float64, len(idx))
	ys := make([]int, len(idx))
	for i, j := range idx {
		xs[i] = x[j]
		ys[i] = y[j]
	}
	return xs, ys
}

// smallestClass returns the size and label of the rarest of the presence
// and background classes in y. A class that is absent counts as zero.
func smallestClass(y []int) (n, label int) {
	counts := map[int]int{model.LabelBackground: 0, model.LabelPresence: 0}
	for _, v := range y {
		counts[v]++
	}
	n = math.MaxInt
	for _, c := range []int{model.LabelBackground, model.LabelPresence} {
		if counts[c] < n {
			n, label = counts[c], c
		}
	}
	return n, label
}

func classes(y []int) int {
	seen := map[int]struct{}{}
	for _, v := range y {
		seen[v] = struct{}{}
	}
	return len(seen)
}
