package pipeline

import (
	"fmt"
	"math"

	"github.com/sells-group/habitat-cli/internal/config"
	"github.com/sells-group/habitat-cli/internal/envdata"
	"github.com/sells-group/habitat-cli/internal/occurrence"
	"github.com/sells-group/habitat-cli/internal/raster"
	"github.com/sells-group/habitat-cli/internal/training"
)

func axis(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// fixtureSources covers a shallow 1x1 degree patch of sea. Presence sits in
// two clusters three kilometres apart along a meridian; background records
// form a regular lattice between them.
func fixtureSources() *staticSources {
	lats := axis(50.0, 0.05, 21)
	lons := axis(-5.0, 0.05, 21)
	bathy := raster.NewGrid(lats, lons)
	temp := raster.NewGrid(lats, lons)
	for r := range lats {
		for c := range lons {
			bathy.Set(r, c, -10)
			temp.Set(r, c, 10+lats[r]-50+lons[c]+5)
		}
	}

	var presence []occurrence.Record
	for i := 0; i < 10; i++ {
		presence = append(presence,
			occurrence.Record{GBIFID: fmt.Sprintf("a%d", i), Latitude: 50.2 + float64(i)*0.03, Longitude: -4.8, Uncertainty: 10},
			occurrence.Record{GBIFID: fmt.Sprintf("b%d", i), Latitude: 50.5 + float64(i)*0.03, Longitude: -4.2, Uncertainty: 10},
		)
	}

	var background []occurrence.Record
	for i := 0; i < 7; i++ {
		for j := 0; j < 8; j++ {
			background = append(background, occurrence.Record{
				GBIFID:      fmt.Sprintf("g%d-%d", i, j),
				Latitude:    50.15 + float64(i)*0.1,
				Longitude:   -4.85 + float64(j)*0.1,
				Uncertainty: math.NaN(),
			})
		}
	}

	return &staticSources{
		presence:   presence,
		background: background,
		bathymetry: bathy,
		env:        envdata.NewGridProvider(map[string]*raster.Grid{"temperature": temp}),
	}
}

func testConfig(outputDir string) *config.Config {
	return &config.Config{
		Experiment: config.ExperimentConfig{Title: "first_run", Description: "Ensuring the pipeline can run."},
		Preprocessing: config.PreprocessingConfig{
			AccessibleArea: config.AccessibleAreaConfig{
				Padding:   0.1,
				MaxDepth:  200,
				Exclusion: config.ExclusionNone,
			},
			CoordUncertaintyThreshold:             1000,
			DropNAEnvironmental:                   true,
			EnvironmentData:                       []string{"temperature"},
			SpatialThinningMinDistanceM:           1000,
			MinDistanceBetweenPresenceAndAbsenceM: 1000,
			BgSampleSize:                          60,
			BgSmoothingSigma:                      1,
			Seed:                                  42,
		},
		DataSplit: config.DataSplitConfig{TestProp: 0.2, MinDistanceBetweenTrainAndTestM: 2000, Seed: 42},
		Training: config.TrainingConfig{
			NumFolds:                 5,
			MinDistanceBetweenFoldsM: 2000,
			ValProp:                  0.2,
			Seed:                     0,
			Concurrency:              2,
		},
		Model:      training.Hyperparams{NEstimators: 100, LearningRate: 0.1, RegLambda: 1, EarlyStoppingRounds: 10},
		Prediction: config.PredictionConfig{Threshold: training.DefaultThreshold},
		Output:     config.OutputConfig{Dir: outputDir},
	}
}

// constClassifier predicts the same probability for every row.
type constClassifier struct {
	p float64
}

func (c constClassifier) PredictProba(x [][]float64) []float64 {
	out := make([]float64, len(x))
	for i := range out {
		out[i] = c.p
	}
	return out
}

func (c constClassifier) FeatureImportances() []float64 { return []float64{1} }

func (c constClassifier) Iterations() int { return 1 }
