package store

import (
	"context"
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/habitat-cli/internal/model"
)

// Point set names used when snapshotting a run's dataset.
const (
	SetDataset = "dataset"
	SetTrain   = "train"
	SetTest    = "test"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Title  string          `json:"title,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for experiment bookkeeping.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, exp model.Experiment) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, reason string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error
	ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error)

	// Dataset snapshots
	SavePoints(ctx context.Context, runID, set string, points []model.GeoPoint) (int64, error)
	LoadPoints(ctx context.Context, runID, set string) ([]model.GeoPoint, error)

	// Cross-validation folds
	SaveFolds(ctx context.Context, runID, stage string, folds []model.FoldRecord) error
	ListFolds(ctx context.Context, runID, stage string) ([]model.FoldRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// encodeFeatures marshals the covariates, leaving out NaN values; a missing
// covariate reads back as NaN.
func encodeFeatures(features map[string]float64) ([]byte, error) {
	finite := make(map[string]float64, len(features))
	for k, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		finite[k] = v
	}
	data, err := json.Marshal(finite)
	return data, eris.Wrap(err, "store: marshal features")
}

func decodeFeatures(data []byte) (map[string]float64, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var features map[string]float64
	if err := json.Unmarshal(data, &features); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal features")
	}
	if len(features) == 0 {
		return nil, nil
	}
	return features, nil
}

// nullFloat maps NaN to SQL NULL.
func nullFloat(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

// floatOrNaN maps SQL NULL back to NaN.
func floatOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
