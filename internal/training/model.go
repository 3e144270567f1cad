// Package training runs the spatial cross-validation loop around an opaque
// classifier: per-fold fitting, threshold selection, evaluation, and
// hyperparameter search.
package training

import (
	"context"
)

// Hyperparams configures a Trainer. Implementations ignore fields they do
// not use.
type Hyperparams struct {
	NEstimators         int     `json:"n_estimators" yaml:"n_estimators" mapstructure:"n_estimators"`
	LearningRate        float64 `json:"learning_rate" yaml:"learning_rate" mapstructure:"learning_rate"`
	RegLambda           float64 `json:"reg_lambda" yaml:"reg_lambda" mapstructure:"reg_lambda"`
	EarlyStoppingRounds int     `json:"early_stopping_rounds" yaml:"early_stopping_rounds" mapstructure:"early_stopping_rounds"`
}

// DefaultHyperparams returns the parameters used when nothing is configured.
func DefaultHyperparams() Hyperparams {
	return Hyperparams{
		NEstimators:         2000,
		LearningRate:        0.03,
		RegLambda:           1.0,
		EarlyStoppingRounds: 50,
	}
}

// FitInput is everything a Trainer sees for one fit.
type FitInput struct {
	XTrain [][]float64
	YTrain []int
	XVal   [][]float64
	YVal   []int

	// PositiveWeight scales the loss of presence samples.
	PositiveWeight float64
	Params         Hyperparams
}

// Trainer fits a binary classifier, stopping early against the validation set.
type Trainer interface {
	Fit(ctx context.Context, in FitInput) (Classifier, error)
}

// Classifier is a fitted model.
type Classifier interface {
	// PredictProba returns the presence probability of every row.
	PredictProba(x [][]float64) []float64
	// FeatureImportances returns one non-negative score per column.
	FeatureImportances() []float64
	// Iterations returns the number of boosting rounds or epochs kept.
	Iterations() int
}

// Predict applies threshold to probabilities; p >= threshold is presence.
func Predict(probs []float64, threshold float64) []int {
	out := make([]int, len(probs))
	for i, p := range probs {
		if p >= threshold {
			out[i] = 1
		}
	}
	return out
}

// PositiveWeight returns n_negative / max(n_positive, 1).
func PositiveWeight(labels []int) float64 {
	var pos, neg int
	for _, y := range labels {
		if y == 1 {
			pos++
		} else {
			neg++
		}
	}
	return float64(neg) / float64(max(pos, 1))
}
