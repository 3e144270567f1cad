package training

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/model"
)

// Objective scores one hyperparameter set; lower is better. It must not
// retain or mutate state between calls.
type Objective func(ctx context.Context, params Hyperparams) (float64, error)

// Range bounds one searchable hyperparameter. A positive Step restricts
// draws to Min + k*Step.
type Range struct {
	Use  bool    `json:"use" yaml:"use" mapstructure:"use"`
	Min  float64 `json:"min" yaml:"min" mapstructure:"min"`
	Max  float64 `json:"max" yaml:"max" mapstructure:"max"`
	Step float64 `json:"step" yaml:"step" mapstructure:"step"`
}

func (r Range) draw(rng *rand.Rand) float64 {
	if r.Max <= r.Min {
		return r.Min
	}
	if r.Step > 0 {
		steps := int(math.Floor((r.Max-r.Min)/r.Step + 1e-9))
		return r.Min + float64(rng.IntN(steps+1))*r.Step
	}
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

// SearchSpace lists the hyperparameters a search may vary.
type SearchSpace struct {
	NEstimators  Range `json:"n_estimators" yaml:"n_estimators" mapstructure:"n_estimators"`
	LearningRate Range `json:"learning_rate" yaml:"learning_rate" mapstructure:"learning_rate"`
	RegLambda    Range `json:"reg_lambda" yaml:"reg_lambda" mapstructure:"reg_lambda"`
}

// Trial is one evaluated hyperparameter set.
type Trial struct {
	Number int         `json:"number"`
	Params Hyperparams `json:"params"`
	Value  float64     `json:"value"`
}

// Study is the outcome of a search.
type Study struct {
	Trials []Trial `json:"trials"`
	Best   Trial   `json:"best"`
}

// RandomSearch evaluates the base hyperparameters as trial 0 and then
// Trials-1 random draws from Space.
type RandomSearch struct {
	Trials int
	Seed   uint64
	Space  SearchSpace
}

// Suggest returns base with every enabled range replaced by a random draw.
func (s RandomSearch) Suggest(rng *rand.Rand, base Hyperparams) Hyperparams {
	p := base
	if s.Space.NEstimators.Use {
		p.NEstimators = int(math.Round(s.Space.NEstimators.draw(rng)))
	}
	if s.Space.LearningRate.Use {
		p.LearningRate = s.Space.LearningRate.draw(rng)
	}
	if s.Space.RegLambda.Use {
		p.RegLambda = s.Space.RegLambda.draw(rng)
	}
	return p
}

// Optimize runs the search and returns every trial with the lowest-valued
// one as Best. Ties keep the earlier trial.
func (s RandomSearch) Optimize(ctx context.Context, base Hyperparams, objective Objective) (*Study, error) {
	n := max(1, s.Trials)
	rng := rand.New(rand.NewPCG(s.Seed, s.Seed))
	log := zap.L().With(zap.String("component", "optimiser"))

	study := &Study{}
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "training: optimisation cancelled")
		}
		params := base
		if i > 0 {
			params = s.Suggest(rng, base)
		}
		value, err := objective(ctx, params)
		if err != nil {
			return nil, eris.Wrapf(err, "training: trial %d", i)
		}
		trial := Trial{Number: i, Params: params, Value: value}
		study.Trials = append(study.Trials, trial)
		if i == 0 || value < study.Best.Value {
			study.Best = trial
		}
		log.Info("trial complete",
			zap.Int("trial", i),
			zap.Float64("value", value),
			zap.Int("n_estimators", params.NEstimators),
			zap.Float64("learning_rate", params.LearningRate),
			zap.Float64("reg_lambda", params.RegLambda),
		)
	}
	return study, nil
}

// CVObjective returns an Objective that cross-validates ds with each
// candidate and scores it as -mean F1. A NaN mean (no scored folds) scores
// zero.
func CVObjective(ds model.Dataset, params CVParams, trainer Trainer) Objective {
	return func(ctx context.Context, hp Hyperparams) (float64, error) {
		p := params
		p.Hyperparams = hp
		report, err := CrossValidate(ctx, ds, p, trainer)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(report.MeanF1) {
			return 0, nil
		}
		return -report.MeanF1, nil
	}
}
