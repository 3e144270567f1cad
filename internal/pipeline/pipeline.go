// Package pipeline runs a habitat-suitability experiment end to end:
// dataset loading, preprocessing, the spatial train/test split, optional
// hyperparameter optimisation, cross-validation, final training, evaluation,
// interpretation, and the production artifacts.
package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/config"
	"github.com/sells-group/habitat-cli/internal/model"
	"github.com/sells-group/habitat-cli/internal/occurrence"
	"github.com/sells-group/habitat-cli/internal/report"
	"github.com/sells-group/habitat-cli/internal/store"
	"github.com/sells-group/habitat-cli/internal/training"
)

// Phase names, in execution order.
const (
	PhaseDataset       = "dataset"
	PhasePreprocess    = "preprocess"
	PhaseSplit         = "split"
	PhaseOptimise      = "optimise"
	PhaseCrossValidate = "cross_validate"
	PhaseTrain         = "train"
	PhaseEvaluate      = "evaluate"
	PhaseInterpret     = "interpret"
	PhaseProduction    = "production"
)

// Pipeline orchestrates the phases of an experiment.
type Pipeline struct {
	cfg     *config.Config
	store   store.Store
	sources Sources
	trainer training.Trainer
	now     func() time.Time
}

// New creates a Pipeline. cfg is never mutated; stages that tune it work on
// copies.
func New(cfg *config.Config, st store.Store, src Sources, trainer training.Trainer) *Pipeline {
	return &Pipeline{cfg: cfg, store: st, sources: src, trainer: trainer, now: time.Now}
}

// Result is the outcome of a full experiment.
type Result struct {
	RunID     string
	OutputDir string
	Config    config.Config
	CV        *training.CVReport
	Study     *training.Study
	Test      training.Metrics
	Threshold float64
	TrainSize int
	TestSize  int
	Phases    []model.PhaseResult
}

// runState tracks one experiment run in the store.
type runState struct {
	p      *Pipeline
	runID  string
	log    *zap.Logger
	phases []model.PhaseResult
}

func (r *runState) setStatus(ctx context.Context, status model.RunStatus) {
	if err := r.p.store.UpdateRunStatus(ctx, r.runID, status); err != nil {
		r.log.Warn("pipeline: failed to update status", zap.Error(err))
	}
}

// track runs fn as a named phase, recording its duration and outcome. A
// phase result preset to skipped keeps that status.
func (r *runState) track(ctx context.Context, name string, fn func() (*model.PhaseResult, error)) error {
	phase, phaseErr := r.p.store.CreatePhase(ctx, r.runID, name)
	if phaseErr != nil {
		r.log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
	}

	start := time.Now()
	res, err := fn()
	duration := time.Since(start).Milliseconds()

	if res == nil {
		res = &model.PhaseResult{}
	}
	res.Name = name
	res.Duration = duration

	switch {
	case err != nil:
		res.Status = model.PhaseStatusFailed
		res.Error = err.Error()
		r.log.Error("pipeline: phase failed",
			zap.String("phase", name),
			zap.Int64("duration_ms", duration),
			zap.Error(err),
		)
	case res.Status == model.PhaseStatusSkipped:
		r.log.Info("pipeline: phase skipped", zap.String("phase", name))
	default:
		res.Status = model.PhaseStatusComplete
		r.log.Info("pipeline: phase complete",
			zap.String("phase", name),
			zap.Int64("duration_ms", duration),
		)
	}

	if phase != nil {
		if cerr := r.p.store.CompletePhase(ctx, phase.ID, res); cerr != nil {
			r.log.Warn("pipeline: failed to complete phase", zap.String("phase", name), zap.Error(cerr))
		}
	}
	r.phases = append(r.phases, *res)
	return err
}

// fail marks the run failed and returns err.
func (r *runState) fail(ctx context.Context, err error) error {
	if ferr := r.p.store.FailRun(ctx, r.runID, err.Error()); ferr != nil {
		r.log.Warn("pipeline: failed to record failure", zap.Error(ferr))
	}
	return err
}

// Run executes the full experiment and writes its artifacts to a fresh
// experiment directory under the configured output root.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	cfg := *p.cfg
	exp := model.Experiment{Title: cfg.Experiment.Title, Description: cfg.Experiment.Description}
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("experiment", exp.Title))
	log.Info("pipeline: running experiment")

	run, err := p.store.CreateRun(ctx, exp)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	rs := &runState{p: p, runID: run.ID, log: log.With(zap.String("run_id", run.ID))}
	result := &Result{RunID: run.ID}

	dir, err := report.NewExperimentDir(cfg.Output.Dir, exp.Title, p.now())
	if err != nil {
		return nil, rs.fail(ctx, err)
	}
	result.OutputDir = dir
	if err := report.WriteConfig(dir, cfg); err != nil {
		return nil, rs.fail(ctx, err)
	}

	// Dataset
	rs.setStatus(ctx, model.RunStatusLoading)
	var presenceRecs, backgroundRecs []occurrence.Record
	err = rs.track(ctx, PhaseDataset, func() (*model.PhaseResult, error) {
		var err error
		if presenceRecs, err = p.sources.Presence(ctx); err != nil {
			return nil, err
		}
		if backgroundRecs, err = p.sources.Background(ctx); err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"presence_records":   len(presenceRecs),
			"background_records": len(backgroundRecs),
		}}, nil
	})
	if err != nil {
		return nil, rs.fail(ctx, err)
	}

	// Preprocess
	rs.setStatus(ctx, model.RunStatusPreprocessing)
	var prep *Prepared
	err = rs.track(ctx, PhasePreprocess, func() (*model.PhaseResult, error) {
		bathy, err := p.sources.Bathymetry(ctx)
		if err != nil {
			return nil, err
		}
		env, err := p.sources.Environment(ctx, cfg.Preprocessing.EnvironmentData)
		if err != nil {
			return nil, err
		}
		if prep, err = Preprocess(ctx, &cfg, presenceRecs, backgroundRecs, bathy, env); err != nil {
			return nil, err
		}
		if _, err := p.store.SavePoints(ctx, run.ID, store.SetDataset, prep.Dataset.Points); err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: prep.Stats}, nil
	})
	if err != nil {
		return nil, rs.fail(ctx, err)
	}

	// Split
	rs.setStatus(ctx, model.RunStatusSplitting)
	var train, test model.Dataset
	err = rs.track(ctx, PhaseSplit, func() (*model.PhaseResult, error) {
		var err error
		if train, test, err = SplitDataset(prep.Dataset, cfg.DataSplit); err != nil {
			return nil, err
		}
		if err := report.WriteSplitStats(dir, report.NewSplitStats(train, test)); err != nil {
			return nil, err
		}
		if _, err := p.store.SavePoints(ctx, run.ID, store.SetTrain, train.Points); err != nil {
			return nil, err
		}
		if _, err := p.store.SavePoints(ctx, run.ID, store.SetTest, test.Points); err != nil {
			return nil, err
		}
		meta := map[string]any{"train": train.Len(), "test": test.Len()}
		if sep := MinSeparation(train, test); !math.IsInf(sep, 0) {
			meta["min_separation_m"] = sep
		}
		return &model.PhaseResult{Metadata: meta}, nil
	})
	if err != nil {
		return nil, rs.fail(ctx, err)
	}
	result.TrainSize, result.TestSize = train.Len(), test.Len()

	// Optimise
	rs.setStatus(ctx, model.RunStatusOptimising)
	err = rs.track(ctx, PhaseOptimise, func() (*model.PhaseResult, error) {
		study, err := Optimise(ctx, &cfg, train, p.trainer)
		if err != nil {
			return nil, err
		}
		if study == nil {
			return &model.PhaseResult{Status: model.PhaseStatusSkipped}, nil
		}
		result.Study = study
		cfg = cfg.WithHyperparams(study.Best.Params)
		if err := report.WriteConfig(dir, cfg); err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"trials":     len(study.Trials),
			"best_trial": study.Best.Number,
			"best_f1":    nanOr(-study.Best.Value, 0),
		}}, nil
	})
	if err != nil {
		return nil, rs.fail(ctx, err)
	}

	// Cross-validate
	rs.setStatus(ctx, model.RunStatusValidating)
	err = rs.track(ctx, PhaseCrossValidate, func() (*model.PhaseResult, error) {
		cv, err := training.CrossValidate(ctx, train, cfg.CVParams(cfg.Model), p.trainer)
		if err != nil {
			return nil, err
		}
		result.CV = cv
		if err := p.store.SaveFolds(ctx, run.ID, "cv", FoldRecords(cv)); err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"scored":  cv.Scored,
			"mean_f1": nanOr(cv.MeanF1, 0),
		}}, nil
	})
	if err != nil {
		return nil, rs.fail(ctx, err)
	}

	// Train
	rs.setStatus(ctx, model.RunStatusTraining)
	var final *FinalModel
	err = rs.track(ctx, PhaseTrain, func() (*model.PhaseResult, error) {
		var err error
		if final, err = TrainFinal(ctx, &cfg, train, p.trainer); err != nil {
			return nil, err
		}
		cfg = cfg.WithThreshold(final.Threshold)
		result.Threshold = final.Threshold
		if err := report.WriteConfig(dir, cfg); err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"iterations": final.Classifier.Iterations(),
			"threshold":  final.Threshold,
		}}, nil
	})
	if err != nil {
		return nil, rs.fail(ctx, err)
	}

	// Evaluate
	err = rs.track(ctx, PhaseEvaluate, func() (*model.PhaseResult, error) {
		var err error
		if result.Test, err = Evaluate(final.Classifier, test, final.Threshold); err != nil {
			return nil, err
		}
		res := report.Results{
			CV:        report.NewCVSection(result.CV),
			Test:      report.NewTestSection(result.Test),
			Threshold: &result.Threshold,
		}
		wb := report.Workbook{CV: result.CV, Test: &result.Test, Study: result.Study}
		if result.Study != nil {
			res.Optimisation = report.NewOptimisationSection(result.Study)
		}
		if err := report.WriteResults(dir, res); err != nil {
			return nil, err
		}
		if err := report.WriteWorkbook(dir, wb); err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{"test_f1": result.Test.F1}}, nil
	})
	if err != nil {
		return nil, rs.fail(ctx, err)
	}

	// Interpret
	err = rs.track(ctx, PhaseInterpret, func() (*model.PhaseResult, error) {
		features := prep.Dataset.Features
		if err := report.WriteFeatureImportance(dir, features, final.Classifier.FeatureImportances()); err != nil {
			return nil, err
		}
		grid, err := PredictArea(ctx, final.Classifier, prep.Area.Mask, prep.Provider, features)
		if err != nil {
			return nil, err
		}
		if err := report.WriteSuitability(dir, grid); err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{"cells": prep.Area.Mask.Count()}}, nil
	})
	if err != nil {
		return nil, rs.fail(ctx, err)
	}

	// Production
	err = rs.track(ctx, PhaseProduction, func() (*model.PhaseResult, error) {
		if err := report.WriteProduction(dir, final.Classifier, prep.Dataset.Features, cfg.Prediction.Threshold); err != nil {
			return nil, err
		}
		return nil, report.WriteConfig(dir, cfg)
	})
	if err != nil {
		return nil, rs.fail(ctx, err)
	}

	result.Config = cfg
	result.Phases = rs.phases
	runResult := &model.RunResult{
		CVMeanF1:      nanOr(result.CV.MeanF1, 0),
		CVStdF1:       nanOr(result.CV.StdF1, 0),
		TestF1:        result.Test.F1,
		TestPrecision: result.Test.Precision,
		TestRecall:    result.Test.Recall,
		Threshold:     result.Threshold,
		TrainSize:     result.TrainSize,
		TestSize:      result.TestSize,
		Phases:        result.Phases,
		OutputDir:     dir,
	}
	if err := p.store.UpdateRunResult(ctx, run.ID, runResult); err != nil {
		log.Warn("pipeline: failed to save run result", zap.Error(err))
	}

	log.Info("pipeline: experiment complete",
		zap.String("run_id", run.ID),
		zap.String("output_dir", dir),
		zap.Float64("cv_mean_f1", result.CV.MeanF1),
		zap.Float64("test_f1", result.Test.F1),
	)
	return result, nil
}
