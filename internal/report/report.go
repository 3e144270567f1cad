// Package report writes the artifacts of an experiment run into its output
// directory: results, split statistics, production model files, a
// configuration snapshot, and a per-fold workbook.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/habitat-cli/internal/model"
	"github.com/sells-group/habitat-cli/internal/raster"
	"github.com/sells-group/habitat-cli/internal/training"
)

// Artifact file names, relative to the experiment directory.
const (
	ResultsFile           = "results.json"
	SplitStatsFile        = "data_split_stats.txt"
	ConfigFile            = "config.yaml"
	FeatureImportanceFile = "feature_importance.json"
	WorkbookFile          = "results.xlsx"
	SuitabilityFile       = "suitability.csv"
	ModelDir              = "model"
)

// NewExperimentDir creates <root>/<YYYY-MM-DD_HH-MM>[_<title>] and returns
// its path. An existing directory with the same name is an error so two runs
// never share output.
func NewExperimentDir(root, title string, now time.Time) (string, error) {
	name := now.Format("2006-01-02_15-04")
	if title != "" {
		name += "_" + title
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", eris.Wrapf(err, "report: create output root %s", root)
	}
	dir := filepath.Join(root, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "report: create experiment dir %s", dir)
	}
	zap.L().Info("created experiment folder", zap.String("component", "report"), zap.String("path", dir))
	return dir, nil
}

// Percent converts a fraction to a percentage rounded to two decimals. NaN
// maps to nil so it serializes as JSON null.
func Percent(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	p := math.Round(v*100*100) / 100
	return &p
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// CVSection summarizes a cross-validation report. Scores are percentages;
// skipped folds appear as null.
type CVSection struct {
	MeanF1        *float64   `json:"mean_f1"`
	StdF1         *float64   `json:"std_f1"`
	Precision     []*float64 `json:"precision"`
	Recall        []*float64 `json:"recall"`
	F1            []*float64 `json:"f1"`
	BestThreshold []*float64 `json:"best_threshold"`
	NumTrees      []int      `json:"num_trees"`
	Skipped       []int      `json:"skipped,omitempty"`
}

// NewCVSection builds the section for r.
func NewCVSection(r *training.CVReport) *CVSection {
	s := &CVSection{
		MeanF1:        Percent(r.MeanF1),
		StdF1:         Percent(r.StdF1),
		Precision:     make([]*float64, len(r.Folds)),
		Recall:        make([]*float64, len(r.Folds)),
		F1:            make([]*float64, len(r.Folds)),
		BestThreshold: make([]*float64, len(r.Folds)),
		NumTrees:      make([]int, len(r.Folds)),
	}
	for i, f := range r.Folds {
		if f.Skipped {
			s.Skipped = append(s.Skipped, f.Fold)
			continue
		}
		s.Precision[i] = Percent(f.Metrics.Precision)
		s.Recall[i] = Percent(f.Metrics.Recall)
		s.F1[i] = Percent(f.Metrics.F1)
		s.BestThreshold[i] = finite(f.Threshold)
		s.NumTrees[i] = f.Iterations
	}
	return s
}

// TestSection holds the held-out test scores as percentages.
type TestSection struct {
	Precision *float64 `json:"precision"`
	Recall    *float64 `json:"recall"`
	F1        *float64 `json:"f1"`
}

// NewTestSection builds the section for m.
func NewTestSection(m training.Metrics) *TestSection {
	return &TestSection{Precision: Percent(m.Precision), Recall: Percent(m.Recall), F1: Percent(m.F1)}
}

// OptimisationSection records the hyperparameter search outcome.
type OptimisationSection struct {
	Trials     int                  `json:"trials"`
	BestTrial  int                  `json:"best_trial"`
	BestF1     *float64             `json:"best_f1"`
	BestParams training.Hyperparams `json:"best_params"`
}

// NewOptimisationSection builds the section for study. Trial values are
// negated mean F1.
func NewOptimisationSection(study *training.Study) *OptimisationSection {
	return &OptimisationSection{
		Trials:     len(study.Trials),
		BestTrial:  study.Best.Number,
		BestF1:     Percent(-study.Best.Value),
		BestParams: study.Best.Params,
	}
}

// Results is the content of results.json.
type Results struct {
	CV           *CVSection           `json:"cv,omitempty"`
	Test         *TestSection         `json:"test,omitempty"`
	Optimisation *OptimisationSection `json:"optimisation,omitempty"`
	Threshold    *float64             `json:"threshold,omitempty"`
}

// WriteResults writes results.json with four-space indentation.
func WriteResults(dir string, res Results) error {
	return writeJSON(filepath.Join(dir, ResultsFile), res, "    ")
}

// ReadResults loads results.json from dir.
func ReadResults(dir string) (*Results, error) {
	data, err := os.ReadFile(filepath.Join(dir, ResultsFile))
	if err != nil {
		return nil, eris.Wrap(err, "report: read results")
	}
	var res Results
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, eris.Wrap(err, "report: parse results")
	}
	return &res, nil
}

// SplitStats counts the labels on each side of the train/test split.
type SplitStats struct {
	TrainPresence   int
	TrainBackground int
	TestPresence    int
	TestBackground  int
}

// NewSplitStats counts labels in train and test.
func NewSplitStats(train, test model.Dataset) SplitStats {
	var s SplitStats
	s.TrainPresence, s.TrainBackground = train.LabelCounts()
	s.TestPresence, s.TestBackground = test.LabelCounts()
	return s
}

func (s SplitStats) String() string {
	return fmt.Sprintf(
		"--- Training dataset ---\nSize: %d\nPresence points: %d\nBackground points: %d\n\n"+
			"--- Testing dataset ---\nSize: %d\nPresence points: %d\nBackground points: %d\n",
		s.TrainPresence+s.TrainBackground, s.TrainPresence, s.TrainBackground,
		s.TestPresence+s.TestBackground, s.TestPresence, s.TestBackground,
	)
}

// WriteSplitStats writes data_split_stats.txt.
func WriteSplitStats(dir string, s SplitStats) error {
	path := filepath.Join(dir, SplitStatsFile)
	return eris.Wrap(os.WriteFile(path, []byte(s.String()), 0o644), "report: write split stats")
}

// WriteConfig snapshots cfg as YAML. It is called after every stage that
// changes the configuration, so the last write wins.
func WriteConfig(dir string, cfg any) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "report: marshal config")
	}
	return eris.Wrap(os.WriteFile(filepath.Join(dir, ConfigFile), data, 0o644), "report: write config")
}

// WriteFeatureImportance writes feature_importance.json mapping each
// feature name to its importance.
func WriteFeatureImportance(dir string, names []string, importances []float64) error {
	if len(names) != len(importances) {
		return eris.Errorf("report: %d feature names for %d importances", len(names), len(importances))
	}
	out := make(map[string]*float64, len(names))
	for i, n := range names {
		out[n] = finite(importances[i])
	}
	return writeJSON(filepath.Join(dir, FeatureImportanceFile), out, "    ")
}

// WriteProduction writes the files inference code needs under model/:
// model.json, feature_names.json, and threshold.txt.
func WriteProduction(dir string, clf training.Classifier, features []string, threshold float64) error {
	modelDir := filepath.Join(dir, ModelDir)
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return eris.Wrap(err, "report: create model dir")
	}
	if err := writeJSON(filepath.Join(modelDir, "model.json"), clf, ""); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(modelDir, "feature_names.json"), features, ""); err != nil {
		return err
	}
	t := strconv.FormatFloat(threshold, 'g', -1, 64)
	if err := os.WriteFile(filepath.Join(modelDir, "threshold.txt"), []byte(t), 0o644); err != nil {
		return eris.Wrap(err, "report: write threshold")
	}
	zap.L().Info("saved production model", zap.String("component", "report"), zap.String("path", modelDir))
	return nil
}

// WriteSuitability writes the predicted presence probability over the
// accessible area as an XYZ grid.
func WriteSuitability(dir string, g *raster.Grid) error {
	f, err := os.Create(filepath.Join(dir, SuitabilityFile))
	if err != nil {
		return eris.Wrap(err, "report: create suitability")
	}
	if err := raster.WriteXYZ(f, g, "suitability"); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrap(err, "report: write suitability")
	}
	return eris.Wrap(f.Close(), "report: close suitability")
}

func writeJSON(path string, v any, indent string) error {
	var (
		data []byte
		err  error
	)
	if indent == "" {
		data, err = json.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", indent)
	}
	if err != nil {
		return eris.Wrapf(err, "report: marshal %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "report: write %s", filepath.Base(path))
	}
	return nil
}
