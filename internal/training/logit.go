package training

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// LogitTrainer fits an L2-regularized logistic regression on standardized
// features with full-batch gradient descent. Each round is one gradient
// step; training stops once validation log-loss has not improved for
// EarlyStoppingRounds rounds and the best coefficients are kept.
type LogitTrainer struct{}

// LogitModel is a fitted LogitTrainer model. Missing inputs are imputed
// with the training mean.
type LogitModel struct {
	Mean          []float64 `json:"mean"`
	Scale         []float64 `json:"scale"`
	Coef          []float64 `json:"coef"`
	Intercept     float64   `json:"intercept"`
	BestIteration int       `json:"best_iteration"`
}

// Fit implements Trainer.
func (LogitTrainer) Fit(ctx context.Context, in FitInput) (Classifier, error) {
	if len(in.XTrain) == 0 {
		return nil, eris.New("training: empty training set")
	}
	if len(in.XTrain) != len(in.YTrain) || len(in.XVal) != len(in.YVal) {
		return nil, eris.New("training: feature and label lengths differ")
	}
	p := len(in.XTrain[0])
	params := in.Params
	if params.NEstimators <= 0 {
		return nil, eris.Errorf("training: n_estimators must be positive, got %d", params.NEstimators)
	}
	if params.LearningRate <= 0 {
		return nil, eris.Errorf("training: learning_rate must be positive, got %g", params.LearningRate)
	}

	m := &LogitModel{Mean: make([]float64, p), Scale: make([]float64, p), Coef: make([]float64, p)}
	col := make([]float64, 0, len(in.XTrain))
	for j := 0; j < p; j++ {
		col = col[:0]
		for _, row := range in.XTrain {
			if v := row[j]; !math.IsNaN(v) {
				col = append(col, v)
			}
		}
		m.Mean[j], m.Scale[j] = 0, 1
		if len(col) > 0 {
			mean, std := stat.PopMeanStdDev(col, nil)
			m.Mean[j] = mean
			if std > 1e-12 {
				m.Scale[j] = std
			}
		}
	}

	x := m.design(in.XTrain)
	xVal := m.design(in.XVal)
	n := len(in.YTrain)

	posWeight := in.PositiveWeight
	if posWeight <= 0 {
		posWeight = 1
	}
	y := make([]float64, n)
	w := make([]float64, n)
	for i, label := range in.YTrain {
		w[i] = 1
		if label == 1 {
			y[i] = 1
			w[i] = posWeight
		}
	}
	totalWeight := floats.Sum(w)

	beta := mat.NewVecDense(p+1, nil)
	best := mat.VecDenseCopyOf(beta)
	bestLoss := math.Inf(1)
	bestIter := 0

	var z, grad mat.VecDense
	resid := mat.NewVecDense(n, nil)
	for iter := 1; iter <= params.NEstimators; iter++ {
		if iter%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, eris.Wrap(err, "training: fit cancelled")
			}
		}

		z.MulVec(x, beta)
		for i := 0; i < n; i++ {
			resid.SetVec(i, w[i]*(sigmoid(z.AtVec(i))-y[i])/totalWeight)
		}
		grad.MulVec(x.T(), resid)
		for j := 1; j <= p; j++ {
			grad.SetVec(j, grad.AtVec(j)+params.RegLambda*beta.AtVec(j)/totalWeight)
		}
		beta.AddScaledVec(beta, -params.LearningRate, &grad)

		if xVal == nil {
			best.CopyVec(beta)
			bestIter = iter
			continue
		}
		loss := logLoss(xVal, beta, in.YVal)
		if loss < bestLoss {
			bestLoss, bestIter = loss, iter
			best.CopyVec(beta)
		} else if params.EarlyStoppingRounds > 0 && iter-bestIter >= params.EarlyStoppingRounds {
			break
		}
	}

	m.Intercept = best.AtVec(0)
	for j := 0; j < p; j++ {
		m.Coef[j] = best.AtVec(j + 1)
	}
	m.BestIteration = bestIter

	zap.L().Debug("logistic model fitted",
		zap.Int("rows", n),
		zap.Int("features", p),
		zap.Int("best_iteration", bestIter),
		zap.Float64("val_log_loss", bestLoss),
	)
	return m, nil
}

// design builds the standardized design matrix with a leading intercept
// column. It returns nil for an empty input.
func (m *LogitModel) design(rows [][]float64) *mat.Dense {
	if len(rows) == 0 {
		return nil
	}
	p := len(m.Mean)
	x := mat.NewDense(len(rows), p+1, nil)
	for i, row := range rows {
		x.Set(i, 0, 1)
		for j := 0; j < p; j++ {
			v := row[j]
			if math.IsNaN(v) {
				v = m.Mean[j]
			}
			x.Set(i, j+1, (v-m.Mean[j])/m.Scale[j])
		}
	}
	return x
}

// PredictProba implements Classifier.
func (m *LogitModel) PredictProba(rows [][]float64) []float64 {
	x := m.design(rows)
	if x == nil {
		return nil
	}
	beta := mat.NewVecDense(len(m.Coef)+1, append([]float64{m.Intercept}, m.Coef...))
	var z mat.VecDense
	z.MulVec(x, beta)
	out := make([]float64, len(rows))
	for i := range out {
		out[i] = sigmoid(z.AtVec(i))
	}
	return out
}

// FeatureImportances returns the absolute standardized coefficients scaled
// to sum to one.
func (m *LogitModel) FeatureImportances() []float64 {
	out := make([]float64, len(m.Coef))
	for j, c := range m.Coef {
		out[j] = math.Abs(c)
	}
	if total := floats.Sum(out); total > 0 {
		floats.Scale(1/total, out)
	}
	return out
}

// Iterations implements Classifier.
func (m *LogitModel) Iterations() int { return m.BestIteration }

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// logLoss is the mean binary cross-entropy of the model beta on x.
func logLoss(x *mat.Dense, beta *mat.VecDense, y []int) float64 {
	const eps = 1e-15
	var z mat.VecDense
	z.MulVec(x, beta)
	var loss float64
	for i, label := range y {
		p := math.Min(math.Max(sigmoid(z.AtVec(i)), eps), 1-eps)
		if label == 1 {
			loss -= math.Log(p)
		} else {
			loss -= math.Log(1 - p)
		}
	}
	return loss / float64(len(y))
}
