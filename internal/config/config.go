package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/habitat-cli/internal/area"
	"github.com/sells-group/habitat-cli/internal/fault"
	"github.com/sells-group/habitat-cli/internal/geo"
	"github.com/sells-group/habitat-cli/internal/training"
)

// Config holds the full application configuration.
type Config struct {
	Experiment    ExperimentConfig     `yaml:"experiment" mapstructure:"experiment"`
	Data          DataConfig           `yaml:"data" mapstructure:"data"`
	Preprocessing PreprocessingConfig  `yaml:"preprocessing" mapstructure:"preprocessing"`
	DataSplit     DataSplitConfig      `yaml:"data_split" mapstructure:"data_split"`
	Training      TrainingConfig       `yaml:"training" mapstructure:"training"`
	Model         training.Hyperparams `yaml:"model" mapstructure:"model"`
	Optimisation  OptimisationConfig   `yaml:"optimisation" mapstructure:"optimisation"`
	Prediction    PredictionConfig     `yaml:"prediction" mapstructure:"prediction"`
	Output        OutputConfig         `yaml:"output" mapstructure:"output"`
	Store         StoreConfig          `yaml:"store" mapstructure:"store"`
	Log           LogConfig            `yaml:"log" mapstructure:"log"`
}

// ExperimentConfig names a run.
type ExperimentConfig struct {
	Title       string `yaml:"title" mapstructure:"title"`
	Description string `yaml:"description" mapstructure:"description"`
}

// DataConfig locates the raw inputs.
type DataConfig struct {
	Species       SpeciesConfig       `yaml:"species" mapstructure:"species"`
	Environmental EnvironmentalConfig `yaml:"environmental" mapstructure:"environmental"`
}

// SpeciesConfig locates the GBIF occurrence exports.
type SpeciesConfig struct {
	Folder             string `yaml:"folder" mapstructure:"folder"`
	PresenceDataPath   string `yaml:"presence_data_path" mapstructure:"presence_data_path"`
	BackgroundDataPath string `yaml:"background_data_path" mapstructure:"background_data_path"`
	Encoding           string `yaml:"encoding" mapstructure:"encoding"`
}

// PresencePath returns the presence export joined to the species folder.
func (s SpeciesConfig) PresencePath() string {
	return filepath.Join(s.Folder, s.PresenceDataPath)
}

// BackgroundPath returns the background export joined to the species folder.
func (s SpeciesConfig) BackgroundPath() string {
	return filepath.Join(s.Folder, s.BackgroundDataPath)
}

// EnvironmentalConfig locates the covariate grids, bathymetry and coastline.
type EnvironmentalConfig struct {
	Folder            string `yaml:"folder" mapstructure:"folder"`
	BathymetryFile    string `yaml:"bathymetry_file" mapstructure:"bathymetry_file"`
	CoastlineDataPath string `yaml:"coastline_data_path" mapstructure:"coastline_data_path"`
}

// BathymetryPath returns the bathymetry grid joined to the environmental folder.
func (e EnvironmentalConfig) BathymetryPath() string {
	return filepath.Join(e.Folder, e.BathymetryFile)
}

// CoastlinePath returns the coastline shapefile path, or "" when unset.
func (e EnvironmentalConfig) CoastlinePath() string {
	if e.CoastlineDataPath == "" {
		return ""
	}
	return filepath.Join(e.Folder, e.CoastlineDataPath)
}

// AccessibleAreaConfig configures the accessible-area mask.
type AccessibleAreaConfig struct {
	Padding        float64 `yaml:"padding" mapstructure:"padding"`
	MaxDepth       float64 `yaml:"max_depth" mapstructure:"max_depth"`
	Exclusion      string  `yaml:"exclusion" mapstructure:"exclusion"`
	CarveLonOffset float64 `yaml:"carve_lon_offset" mapstructure:"carve_lon_offset"`
	CarveLatOffset float64 `yaml:"carve_lat_offset" mapstructure:"carve_lat_offset"`
}

// Exclusion rule names.
const (
	ExclusionNone   = "none"
	ExclusionCorner = "corner_carve_out"
)

// Rule returns the configured exclusion rule for the padded study box.
func (a AccessibleAreaConfig) Rule(box geo.BBox) area.ExclusionRule {
	if a.Exclusion != ExclusionCorner {
		return area.NoExclusion{}
	}
	return area.CornerCarveOut{
		Box:       box,
		Padding:   a.Padding,
		LonOffset: a.CarveLonOffset,
		LatOffset: a.CarveLatOffset,
	}
}

// PreprocessingConfig configures filtering, thinning and background sampling.
type PreprocessingConfig struct {
	AccessibleArea                        AccessibleAreaConfig `yaml:"accessible_area" mapstructure:"accessible_area"`
	CoordUncertaintyThreshold             float64              `yaml:"coord_uncertainty_threshold" mapstructure:"coord_uncertainty_threshold"`
	DropNACoordUncertainty                bool                 `yaml:"drop_na_coord_uncertainty" mapstructure:"drop_na_coord_uncertainty"`
	DropNAEnvironmental                   bool                 `yaml:"drop_na_environmental" mapstructure:"drop_na_environmental"`
	EnvironmentData                       []string             `yaml:"environment_data" mapstructure:"environment_data"`
	SpatialThinningMinDistanceM           float64              `yaml:"spatial_thinning_min_distance_m" mapstructure:"spatial_thinning_min_distance_m"`
	MinDistanceBetweenPresenceAndAbsenceM float64              `yaml:"min_distance_between_presence_and_absence_m" mapstructure:"min_distance_between_presence_and_absence_m"`
	BgSampleSize                          int                  `yaml:"bg_sample_size" mapstructure:"bg_sample_size"`
	BgSmoothingSigma                      float64              `yaml:"bg_smoothing_sigma" mapstructure:"bg_smoothing_sigma"`
	Seed                                  uint64               `yaml:"seed" mapstructure:"seed"`
}

// DataSplitConfig configures the spatially blocked train/test split.
type DataSplitConfig struct {
	TestProp                        float64 `yaml:"test_prop" mapstructure:"test_prop"`
	MinDistanceBetweenTrainAndTestM float64 `yaml:"min_distance_between_train_and_test_m" mapstructure:"min_distance_between_train_and_test_m"`
	Seed                            uint64  `yaml:"seed" mapstructure:"seed"`
}

// TrainingConfig configures cross-validation and the final fit.
type TrainingConfig struct {
	NumFolds                 int     `yaml:"num_folds" mapstructure:"num_folds"`
	MinDistanceBetweenFoldsM float64 `yaml:"min_distance_between_folds_m" mapstructure:"min_distance_between_folds_m"`
	ValProp                  float64 `yaml:"val_prop" mapstructure:"val_prop"`
	Seed                     uint64  `yaml:"seed" mapstructure:"seed"`
	Concurrency              int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// OptimisationConfig configures the hyperparameter search.
type OptimisationConfig struct {
	Enabled bool                 `yaml:"enabled" mapstructure:"enabled"`
	Trials  int                  `yaml:"trials" mapstructure:"trials"`
	Seed    uint64               `yaml:"seed" mapstructure:"seed"`
	Params  training.SearchSpace `yaml:"params" mapstructure:"params"`
}

// PredictionConfig holds the decision threshold applied to probabilities.
type PredictionConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
}

// OutputConfig locates experiment artifacts.
type OutputConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CVParams returns the cross-validation parameters for the given hyperparameters.
func (c *Config) CVParams(params training.Hyperparams) training.CVParams {
	return training.CVParams{
		NumFolds:     c.Training.NumFolds,
		MinDistanceM: c.Training.MinDistanceBetweenFoldsM,
		ValFraction:  c.Training.ValProp,
		Seed:         c.Training.Seed,
		Hyperparams:  params,
		Concurrency:  c.Training.Concurrency,
	}
}

// WithHyperparams returns a copy of the config using params for the model.
func (c *Config) WithHyperparams(params training.Hyperparams) Config {
	out := *c
	out.Model = params
	return out
}

// WithThreshold returns a copy of the config using threshold for prediction.
func (c *Config) WithThreshold(threshold float64) Config {
	out := *c
	out.Prediction.Threshold = threshold
	return out
}

// Validate checks the settings required by mode: "run", "cv", "area" or "runs".
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		add("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		add("store.database_url is required for postgres")
	}

	switch mode {
	case "runs":
	case "area":
		c.validateData(add, false)
		c.validatePreprocessing(add)
	case "cv", "run":
		c.validateData(add, true)
		c.validatePreprocessing(add)
		c.validateSplit(add)
		c.validateModel(add)
		if mode == "run" {
			c.validateOptimisation(add)
		}
	default:
		return fault.Config("config", "unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return fault.Config("config", "%s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateData(add func(string, ...any), background bool) {
	if c.Data.Species.PresenceDataPath == "" {
		add("data.species.presence_data_path is required")
	}
	if background && c.Data.Species.BackgroundDataPath == "" {
		add("data.species.background_data_path is required")
	}
	if c.Data.Environmental.BathymetryFile == "" {
		add("data.environmental.bathymetry_file is required")
	}
}

func (c *Config) validatePreprocessing(add func(string, ...any)) {
	p := c.Preprocessing
	if p.AccessibleArea.Padding < 0 {
		add("preprocessing.accessible_area.padding must be >= 0")
	}
	if p.AccessibleArea.MaxDepth <= 0 {
		add("preprocessing.accessible_area.max_depth must be > 0")
	}
	switch p.AccessibleArea.Exclusion {
	case ExclusionNone, ExclusionCorner:
	default:
		add("preprocessing.accessible_area.exclusion must be %s or %s", ExclusionNone, ExclusionCorner)
	}
	if p.CoordUncertaintyThreshold <= 0 {
		add("preprocessing.coord_uncertainty_threshold must be > 0")
	}
	if p.SpatialThinningMinDistanceM <= 0 {
		add("preprocessing.spatial_thinning_min_distance_m must be > 0")
	}
	if p.MinDistanceBetweenPresenceAndAbsenceM < 0 {
		add("preprocessing.min_distance_between_presence_and_absence_m must be >= 0")
	}
	if p.BgSampleSize <= 0 {
		add("preprocessing.bg_sample_size must be > 0")
	}
	if p.BgSmoothingSigma < 0 {
		add("preprocessing.bg_smoothing_sigma must be >= 0")
	}
}

func (c *Config) validateSplit(add func(string, ...any)) {
	if c.DataSplit.TestProp <= 0 || c.DataSplit.TestProp >= 1 {
		add("data_split.test_prop must be between 0 and 1")
	}
	if c.DataSplit.MinDistanceBetweenTrainAndTestM <= 0 {
		add("data_split.min_distance_between_train_and_test_m must be > 0")
	}
	if c.Training.NumFolds < 2 {
		add("training.num_folds must be >= 2")
	}
	if c.Training.MinDistanceBetweenFoldsM <= 0 {
		add("training.min_distance_between_folds_m must be > 0")
	}
	if c.Training.ValProp <= 0 || c.Training.ValProp >= 1 {
		add("training.val_prop must be between 0 and 1")
	}
	if c.Training.Concurrency < 1 || c.Training.Concurrency > 32 {
		add("training.concurrency must be between 1 and 32")
	}
}

func (c *Config) validateModel(add func(string, ...any)) {
	if c.Model.NEstimators <= 0 {
		add("model.n_estimators must be > 0")
	}
	if c.Model.LearningRate <= 0 {
		add("model.learning_rate must be > 0")
	}
	if c.Model.RegLambda < 0 {
		add("model.reg_lambda must be >= 0")
	}
	if c.Model.EarlyStoppingRounds < 0 {
		add("model.early_stopping_rounds must be >= 0")
	}
	if c.Prediction.Threshold < 0 || c.Prediction.Threshold > 1 {
		add("prediction.threshold must be between 0 and 1")
	}
}

func (c *Config) validateOptimisation(add func(string, ...any)) {
	if !c.Optimisation.Enabled {
		return
	}
	if c.Optimisation.Trials < 1 {
		add("optimisation.trials must be >= 1")
	}
	ranges := map[string]training.Range{
		"n_estimators":  c.Optimisation.Params.NEstimators,
		"learning_rate": c.Optimisation.Params.LearningRate,
		"reg_lambda":    c.Optimisation.Params.RegLambda,
	}
	for _, name := range []string{"n_estimators", "learning_rate", "reg_lambda"} {
		r := ranges[name]
		if r.Use && (r.Max < r.Min || r.Step < 0) {
			add("optimisation.params.%s needs min <= max and step >= 0", name)
		}
	}
}

// Load reads configuration from config.yaml, environment variables and
// defaults, in increasing order of precedence for the first two.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("HABITAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	hp := training.DefaultHyperparams()

	v.SetDefault("experiment.title", "")
	v.SetDefault("experiment.description", "")
	v.SetDefault("data.species.folder", "data/species")
	v.SetDefault("data.species.presence_data_path", "presence.tsv")
	v.SetDefault("data.species.background_data_path", "background.tsv")
	v.SetDefault("data.species.encoding", "utf-8")
	v.SetDefault("data.environmental.folder", "data/environmental")
	v.SetDefault("data.environmental.bathymetry_file", "bathymetry.csv")
	v.SetDefault("data.environmental.coastline_data_path", "")
	v.SetDefault("preprocessing.accessible_area.padding", 2.0)
	v.SetDefault("preprocessing.accessible_area.max_depth", 200.0)
	v.SetDefault("preprocessing.accessible_area.exclusion", ExclusionNone)
	v.SetDefault("preprocessing.accessible_area.carve_lon_offset", area.DefaultCarveLonOffset)
	v.SetDefault("preprocessing.accessible_area.carve_lat_offset", area.DefaultCarveLatOffset)
	v.SetDefault("preprocessing.coord_uncertainty_threshold", 1000.0)
	v.SetDefault("preprocessing.drop_na_coord_uncertainty", false)
	v.SetDefault("preprocessing.drop_na_environmental", true)
	v.SetDefault("preprocessing.environment_data", []string{})
	v.SetDefault("preprocessing.spatial_thinning_min_distance_m", 1000.0)
	v.SetDefault("preprocessing.min_distance_between_presence_and_absence_m", 1000.0)
	v.SetDefault("preprocessing.bg_sample_size", 10000)
	v.SetDefault("preprocessing.bg_smoothing_sigma", 2.0)
	v.SetDefault("preprocessing.seed", 42)
	v.SetDefault("data_split.test_prop", 0.2)
	v.SetDefault("data_split.min_distance_between_train_and_test_m", 10000.0)
	v.SetDefault("data_split.seed", 42)
	v.SetDefault("training.num_folds", 5)
	v.SetDefault("training.min_distance_between_folds_m", 10000.0)
	v.SetDefault("training.val_prop", 0.2)
	v.SetDefault("training.seed", 0)
	v.SetDefault("training.concurrency", 1)
	v.SetDefault("model.n_estimators", hp.NEstimators)
	v.SetDefault("model.learning_rate", hp.LearningRate)
	v.SetDefault("model.reg_lambda", hp.RegLambda)
	v.SetDefault("model.early_stopping_rounds", hp.EarlyStoppingRounds)
	v.SetDefault("optimisation.enabled", false)
	v.SetDefault("optimisation.trials", 20)
	v.SetDefault("optimisation.seed", 42)
	v.SetDefault("optimisation.params.n_estimators.use", true)
	v.SetDefault("optimisation.params.n_estimators.min", 100.0)
	v.SetDefault("optimisation.params.n_estimators.max", 3000.0)
	v.SetDefault("optimisation.params.n_estimators.step", 100.0)
	v.SetDefault("optimisation.params.learning_rate.use", true)
	v.SetDefault("optimisation.params.learning_rate.min", 0.01)
	v.SetDefault("optimisation.params.learning_rate.max", 0.3)
	v.SetDefault("optimisation.params.learning_rate.step", 0.0)
	v.SetDefault("optimisation.params.reg_lambda.use", true)
	v.SetDefault("optimisation.params.reg_lambda.min", 0.0)
	v.SetDefault("optimisation.params.reg_lambda.max", 10.0)
	v.SetDefault("optimisation.params.reg_lambda.step", 0.0)
	v.SetDefault("prediction.threshold", training.DefaultThreshold)
	v.SetDefault("output.dir", "outputs/experiments")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "habitat.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
