package model

import "time"

// RunStatus represents the current state of an experiment run.
type RunStatus string

const (
	RunStatusQueued        RunStatus = "queued"
	RunStatusLoading       RunStatus = "loading"
	RunStatusPreprocessing RunStatus = "preprocessing"
	RunStatusSplitting     RunStatus = "splitting"
	RunStatusOptimising    RunStatus = "optimising"
	RunStatusValidating    RunStatus = "validating"
	RunStatusTraining      RunStatus = "training"
	RunStatusComplete      RunStatus = "complete"
	RunStatusFailed        RunStatus = "failed"
)

// Experiment describes what a run is trying to show.
type Experiment struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Species     string `json:"species,omitempty"`
}

// Run represents a single experiment run.
type Run struct {
	ID         string     `json:"id"`
	Experiment Experiment `json:"experiment"`
	Status     RunStatus  `json:"status"`
	Result     *RunResult `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	CVMeanF1      float64       `json:"cv_mean_f1"`
	CVStdF1       float64       `json:"cv_std_f1"`
	TestF1        float64       `json:"test_f1"`
	TestPrecision float64       `json:"test_precision"`
	TestRecall    float64       `json:"test_recall"`
	Threshold     float64       `json:"threshold"`
	TrainSize     int           `json:"train_size"`
	TestSize      int           `json:"test_size"`
	Phases        []PhaseResult `json:"phases"`
	OutputDir     string        `json:"output_dir,omitempty"`
}

// RunPhase represents a phase within a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseStatus represents the current state of a pipeline phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult holds the outcome of a pipeline phase.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// FoldRecord is the persisted summary of one cross-validation fold. Metrics
// are NaN for skipped folds.
type FoldRecord struct {
	Fold       int     `json:"fold"`
	TrainSize  int     `json:"train_size"`
	ValSize    int     `json:"val_size"`
	TestSize   int     `json:"test_size"`
	Precision  float64 `json:"precision"`
	Recall     float64 `json:"recall"`
	F1         float64 `json:"f1"`
	Threshold  float64 `json:"threshold"`
	Iterations int     `json:"iterations"`
	Skipped    bool    `json:"skipped"`
	Reason     string  `json:"reason,omitempty"`
}
