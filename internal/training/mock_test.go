package training

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// --- Trainer Mock ---

type mockTrainer struct {
	mock.Mock
}

func (m *mockTrainer) Fit(ctx context.Context, in FitInput) (Classifier, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Classifier), args.Error(1)
}

// columnClassifier returns column 0 as the presence probability.
type columnClassifier struct{}

func (columnClassifier) PredictProba(x [][]float64) []float64 {
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = row[0]
	}
	return out
}

func (columnClassifier) FeatureImportances() []float64 { return []float64{1} }

func (columnClassifier) Iterations() int { return 7 }
