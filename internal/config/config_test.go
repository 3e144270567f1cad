package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/area"
	"github.com/sells-group/habitat-cli/internal/fault"
	"github.com/sells-group/habitat-cli/internal/geo"
	"github.com/sells-group/habitat-cli/internal/training"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "habitat.db", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, int32(2), cfg.Store.MinConns)
	assert.Equal(t, "utf-8", cfg.Data.Species.Encoding)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, filepath.Join("data", "species", "presence.tsv"), cfg.Data.Species.PresencePath())
	assert.Equal(t, filepath.Join("data", "environmental", "bathymetry.csv"), cfg.Data.Environmental.BathymetryPath())
	assert.Empty(t, cfg.Data.Environmental.CoastlinePath())
	assert.InDelta(t, 2.0, cfg.Preprocessing.AccessibleArea.Padding, 1e-9)
	assert.InDelta(t, 200.0, cfg.Preprocessing.AccessibleArea.MaxDepth, 1e-9)
	assert.Equal(t, ExclusionNone, cfg.Preprocessing.AccessibleArea.Exclusion)
	assert.InDelta(t, area.DefaultCarveLatOffset, cfg.Preprocessing.AccessibleArea.CarveLatOffset, 1e-9)
	assert.True(t, cfg.Preprocessing.DropNAEnvironmental)
	assert.Equal(t, 10000, cfg.Preprocessing.BgSampleSize)
	assert.Equal(t, uint64(42), cfg.Preprocessing.Seed)
	assert.InDelta(t, 0.2, cfg.DataSplit.TestProp, 1e-9)
	assert.Equal(t, 5, cfg.Training.NumFolds)
	assert.Equal(t, 1, cfg.Training.Concurrency)
	assert.Equal(t, training.DefaultHyperparams(), cfg.Model)
	assert.False(t, cfg.Optimisation.Enabled)
	assert.True(t, cfg.Optimisation.Params.LearningRate.Use)
	assert.InDelta(t, 100.0, cfg.Optimisation.Params.NEstimators.Step, 1e-9)
	assert.InDelta(t, training.DefaultThreshold, cfg.Prediction.Threshold, 1e-9)
	assert.Equal(t, "outputs/experiments", cfg.Output.Dir)

	assert.NoError(t, cfg.Validate("run"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/habitat
log:
  level: debug
  format: console
preprocessing:
  environment_data: [temperature, salinity]
  accessible_area:
    exclusion: corner_carve_out
model:
  learning_rate: 0.1
training:
  num_folds: 4
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []string{"temperature", "salinity"}, cfg.Preprocessing.EnvironmentData)
	assert.Equal(t, ExclusionCorner, cfg.Preprocessing.AccessibleArea.Exclusion)
	assert.InDelta(t, 0.1, cfg.Model.LearningRate, 1e-9)
	assert.Equal(t, 4, cfg.Training.NumFolds)
	// Defaults still apply for unset values
	assert.Equal(t, 2000, cfg.Model.NEstimators)
	assert.InDelta(t, 10000.0, cfg.Training.MinDistanceBetweenFoldsM, 1e-9)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("HABITAT_STORE_DRIVER", "postgres")
	t.Setenv("HABITAT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("HABITAT_TRAINING_NUM_FOLDS", "3")
	t.Setenv("HABITAT_PREPROCESSING_BG_SMOOTHING_SIGMA", "0.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Training.NumFolds)
	assert.InDelta(t, 0.5, cfg.Preprocessing.BgSmoothingSigma, 1e-9)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Data.Species.PresenceDataPath = "presence.tsv"
	cfg.Data.Species.BackgroundDataPath = "background.tsv"
	cfg.Data.Environmental.BathymetryFile = "bathymetry.csv"
	cfg.Preprocessing.AccessibleArea.Padding = 2
	cfg.Preprocessing.AccessibleArea.MaxDepth = 200
	cfg.Preprocessing.AccessibleArea.Exclusion = ExclusionNone
	cfg.Preprocessing.CoordUncertaintyThreshold = 1000
	cfg.Preprocessing.SpatialThinningMinDistanceM = 1000
	cfg.Preprocessing.BgSampleSize = 100
	cfg.DataSplit.TestProp = 0.2
	cfg.DataSplit.MinDistanceBetweenTrainAndTestM = 5000
	cfg.Training.NumFolds = 5
	cfg.Training.MinDistanceBetweenFoldsM = 5000
	cfg.Training.ValProp = 0.2
	cfg.Training.Concurrency = 1
	cfg.Model = training.DefaultHyperparams()
	cfg.Prediction.Threshold = 0.5
	return cfg
}

func TestValidateModes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"run", "cv", "area", "runs"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.True(t, fault.IsConfig(err))
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/habitat"
	assert.NoError(t, cfg.Validate("runs"))

	cfg.Store.Driver = "mysql"
	err = cfg.Validate("runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidateAreaSkipsBackground(t *testing.T) {
	cfg := validDefaults()
	cfg.Data.Species.BackgroundDataPath = ""

	assert.NoError(t, cfg.Validate("area"))

	err := cfg.Validate("cv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "background_data_path is required")
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Preprocessing.AccessibleArea.MaxDepth = 0
	cfg.Preprocessing.AccessibleArea.Exclusion = "isthmus"
	cfg.Training.NumFolds = 1
	cfg.DataSplit.TestProp = 1
	cfg.Model.LearningRate = 0

	err := cfg.Validate("cv")
	require.Error(t, err)
	assert.True(t, fault.IsConfig(err))
	msg := err.Error()
	assert.Contains(t, msg, "max_depth must be > 0")
	assert.Contains(t, msg, "exclusion must be")
	assert.Contains(t, msg, "num_folds must be >= 2")
	assert.Contains(t, msg, "test_prop must be between 0 and 1")
	assert.Contains(t, msg, "learning_rate must be > 0")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Training.Concurrency = 0
	err := cfg.Validate("cv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency must be between 1 and 32")

	cfg.Training.Concurrency = 33
	assert.Error(t, cfg.Validate("cv"))

	cfg.Training.Concurrency = 32
	assert.NoError(t, cfg.Validate("cv"))
}

func TestValidateOptimisation(t *testing.T) {
	cfg := validDefaults()
	cfg.Optimisation.Params.RegLambda = training.Range{Use: true, Min: 5, Max: 1}

	// Disabled search is not checked.
	assert.NoError(t, cfg.Validate("run"))

	cfg.Optimisation.Enabled = true
	cfg.Optimisation.Trials = 0
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "optimisation.trials must be >= 1")
	assert.Contains(t, err.Error(), "optimisation.params.reg_lambda")

	// cv never runs the search.
	assert.NoError(t, cfg.Validate("cv"))
}

func TestWithHyperparamsAndThresholdCopy(t *testing.T) {
	cfg := validDefaults()
	params := training.Hyperparams{NEstimators: 10, LearningRate: 0.5}

	tuned := cfg.WithHyperparams(params)
	final := tuned.WithThreshold(0.3)

	assert.Equal(t, params, tuned.Model)
	assert.Equal(t, training.DefaultHyperparams(), cfg.Model)
	assert.InDelta(t, 0.5, tuned.Prediction.Threshold, 1e-9)
	assert.InDelta(t, 0.3, final.Prediction.Threshold, 1e-9)
	assert.InDelta(t, 0.5, cfg.Prediction.Threshold, 1e-9)
}

func TestCVParams(t *testing.T) {
	cfg := validDefaults()
	cfg.Training.Seed = 7
	params := training.Hyperparams{NEstimators: 3}

	cv := cfg.CVParams(params)
	assert.Equal(t, 5, cv.NumFolds)
	assert.InDelta(t, 5000.0, cv.MinDistanceM, 1e-9)
	assert.InDelta(t, 0.2, cv.ValFraction, 1e-9)
	assert.Equal(t, uint64(7), cv.Seed)
	assert.Equal(t, params, cv.Hyperparams)
	assert.Equal(t, 1, cv.Concurrency)
}

func TestAccessibleAreaRule(t *testing.T) {
	box := geo.BBox{MinLat: 0, MaxLat: 30, MinLon: 0, MaxLon: 20}

	a := AccessibleAreaConfig{Exclusion: ExclusionNone}
	assert.IsType(t, area.NoExclusion{}, a.Rule(box))

	a = AccessibleAreaConfig{Exclusion: ExclusionCorner, Padding: 1, CarveLonOffset: 4, CarveLatOffset: 15.5}
	rule := a.Rule(box)
	// lon >= 20-1-4 and lat <= 0-1+15.5 is carved out.
	assert.True(t, rule.Excluded(5, 18))
	assert.False(t, rule.Excluded(20, 18))
	assert.False(t, rule.Excluded(5, 10))
}
