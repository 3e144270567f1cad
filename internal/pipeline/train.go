package pipeline

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/config"
	"github.com/sells-group/habitat-cli/internal/envdata"
	"github.com/sells-group/habitat-cli/internal/fault"
	"github.com/sells-group/habitat-cli/internal/model"
	"github.com/sells-group/habitat-cli/internal/raster"
	"github.com/sells-group/habitat-cli/internal/split"
	"github.com/sells-group/habitat-cli/internal/training"
)

// Optimise searches the configured hyperparameter space, scoring each
// candidate by cross-validating train. It returns nil when optimisation is
// disabled.
func Optimise(ctx context.Context, cfg *config.Config, train model.Dataset, trainer training.Trainer) (*training.Study, error) {
	if !cfg.Optimisation.Enabled {
		return nil, nil
	}
	search := training.RandomSearch{
		Trials: cfg.Optimisation.Trials,
		Seed:   cfg.Optimisation.Seed,
		Space:  cfg.Optimisation.Params,
	}
	objective := training.CVObjective(train, cfg.CVParams(cfg.Model), trainer)
	study, err := search.Optimize(ctx, cfg.Model, objective)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: optimise")
	}
	return study, nil
}

// FinalModel is the model fitted on the whole training set.
type FinalModel struct {
	Classifier training.Classifier
	Threshold  float64
	TrainSize  int
	ValSize    int
}

// TrainFinal holds out a stratified validation split of train, fits trainer
// with early stopping against it, and selects the decision threshold on the
// validation probabilities.
func TrainFinal(ctx context.Context, cfg *config.Config, train model.Dataset, trainer training.Trainer) (*FinalModel, error) {
	x, y := train.Matrix()
	trIdx, valIdx, err := split.Stratified(y, cfg.Training.ValProp, cfg.Training.Seed)
	if err != nil {
		return nil, err
	}
	xTr, yTr := pick(x, y, trIdx)
	xVal, yVal := pick(x, y, valIdx)

	clf, err := trainer.Fit(ctx, training.FitInput{
		XTrain:         xTr,
		YTrain:         yTr,
		XVal:           xVal,
		YVal:           yVal,
		PositiveWeight: training.PositiveWeight(yTr),
		Params:         cfg.Model,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: fit final model")
	}
	threshold, err := training.SelectThreshold(clf.PredictProba(xVal), yVal)
	if err != nil {
		return nil, err
	}

	zap.L().Info("final model trained",
		zap.String("component", "pipeline"),
		zap.Int("train", len(trIdx)),
		zap.Int("val", len(valIdx)),
		zap.Int("iterations", clf.Iterations()),
		zap.Float64("threshold", threshold),
	)
	return &FinalModel{Classifier: clf, Threshold: threshold, TrainSize: len(trIdx), ValSize: len(valIdx)}, nil
}

// Evaluate scores clf on the held-out test set at threshold.
func Evaluate(clf training.Classifier, test model.Dataset, threshold float64) (training.Metrics, error) {
	if test.Len() == 0 {
		return training.Metrics{}, fault.Config("evaluation", "test set is empty")
	}
	x, y := test.Matrix()
	m := training.Evaluate(y, training.Predict(clf.PredictProba(x), threshold))
	zap.L().Info("test set evaluated",
		zap.String("component", "pipeline"),
		zap.Float64("precision", m.Precision),
		zap.Float64("recall", m.Recall),
		zap.Float64("f1", m.F1),
	)
	return m, nil
}

// PredictArea predicts the presence probability of every accessible cell.
// Inaccessible cells are NaN.
func PredictArea(ctx context.Context, clf training.Classifier, mask *raster.Mask, env envdata.Provider, features []string) (*raster.Grid, error) {
	cells := make([]model.GeoPoint, 0, mask.Count())
	index := make([]int, 0, mask.Count())
	for i, v := range mask.Cells {
		if v != 1 {
			continue
		}
		lat, lon := mask.Center(mask.Cell(i))
		cells = append(cells, model.NewPoint("", lat, lon, model.LabelBackground))
		index = append(index, i)
	}

	enriched, _, err := envdata.Enrich(ctx, env, cells, features, false)
	if err != nil {
		return nil, err
	}
	x, _ := model.NewDataset(enriched, features).Matrix()

	grid := raster.NewGrid(mask.Lats, mask.Lons)
	for k, p := range clf.PredictProba(x) {
		grid.Data[index[k]] = p
	}
	return grid, nil
}

// FoldRecords converts a cross-validation report into store records.
func FoldRecords(r *training.CVReport) []model.FoldRecord {
	out := make([]model.FoldRecord, len(r.Folds))
	for i, f := range r.Folds {
		out[i] = model.FoldRecord{
			Fold:       f.Fold,
			TrainSize:  f.TrainSize,
			ValSize:    f.ValSize,
			TestSize:   f.TestSize,
			Precision:  f.Metrics.Precision,
			Recall:     f.Metrics.Recall,
			F1:         f.Metrics.F1,
			Threshold:  f.Threshold,
			Iterations: f.Iterations,
			Skipped:    f.Skipped,
			Reason:     f.Reason,
		}
	}
	return out
}

func pick(x [][]float64, y []int, idx []int) ([][]float64, []int) {
	xs := make([][]float64, len(idx))
	ys := make([]int, len(idx))
	for i, j := range idx {
		xs[i] = x[j]
		ys[i] = y[j]
	}
	return xs, ys
}

func nanOr(v, fallback float64) float64 {
	if math.IsNaN(v) {
		return fallback
	}
	return v
}
