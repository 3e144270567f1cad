package pipeline

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/area"
	"github.com/sells-group/habitat-cli/internal/config"
	"github.com/sells-group/habitat-cli/internal/envdata"
	"github.com/sells-group/habitat-cli/internal/fault"
	"github.com/sells-group/habitat-cli/internal/geo"
	"github.com/sells-group/habitat-cli/internal/model"
	"github.com/sells-group/habitat-cli/internal/occurrence"
	"github.com/sells-group/habitat-cli/internal/raster"
	"github.com/sells-group/habitat-cli/internal/sampling"
	"github.com/sells-group/habitat-cli/internal/spatial"
	"github.com/sells-group/habitat-cli/internal/split"
)

// Area is the accessible area of a study and the presence points inside it.
type Area struct {
	Box      geo.BBox
	Mask     *raster.Mask
	Presence []model.GeoPoint
	Removed  int
}

// BuildArea bounds presence with the configured padding, builds the
// accessible-area mask from bathy, and keeps the presence points that fall
// inside it.
func BuildArea(cfg config.AccessibleAreaConfig, presence []model.GeoPoint, bathy *raster.Grid) (*Area, error) {
	box, ok := area.InitialBoundingBox(presence, cfg.Padding)
	if !ok {
		return nil, fault.Config("accessible_area", "no presence points to bound the study area")
	}
	mask, err := area.Build(bathy, box, cfg.MaxDepth, cfg.Rule(box))
	if err != nil {
		return nil, err
	}
	if err := area.Accessible(mask); err != nil {
		return nil, err
	}
	kept, removed := area.Filter(presence, mask)
	zap.L().Info("presence filtered to accessible area",
		zap.String("component", "pipeline"),
		zap.Int("kept", len(kept)),
		zap.Int("removed", len(removed)),
	)
	return &Area{Box: box, Mask: mask, Presence: kept, Removed: len(removed)}, nil
}

// Prepared is the labelled dataset produced by preprocessing together with
// the accessible area it was drawn from.
type Prepared struct {
	Dataset  model.Dataset
	Area     *Area
	Stats    map[string]any
	Provider envdata.Provider
}

// Preprocess turns raw occurrence records into a combined, covariate-enriched
// dataset: both sets are quality filtered, the accessible area is built
// around presence, background records outside it or too close to presence
// are dropped, presence is enriched and thinned, and background points are
// sampled from the smoothed density of the surviving background records.
func Preprocess(ctx context.Context, cfg *config.Config, presenceRecs, backgroundRecs []occurrence.Record, bathy *raster.Grid, env envdata.Provider) (*Prepared, error) {
	pc := cfg.Preprocessing
	opts := occurrence.FilterOptions{
		UncertaintyThreshold:   pc.CoordUncertaintyThreshold,
		DropMissingUncertainty: pc.DropNACoordUncertainty,
	}
	presence := occurrence.FilterBasicIssues(presenceRecs, opts)
	background := occurrence.FilterBasicIssues(backgroundRecs, opts)

	ar, err := BuildArea(pc.AccessibleArea, presence, bathy)
	if err != nil {
		return nil, err
	}

	background = area.FilterBoundingBox(background, ar.Box)
	background, _ = area.Filter(background, ar.Mask)
	background = sampling.FilterByDistance(background, ar.Presence, pc.MinDistanceBetweenPresenceAndAbsenceM)

	features := pc.EnvironmentData
	presence, droppedPresence, err := envdata.Enrich(ctx, env, ar.Presence, features, pc.DropNAEnvironmental)
	if err != nil {
		return nil, err
	}
	thinned, err := spatial.Thin(presence, pc.SpatialThinningMinDistanceM)
	if err != nil {
		return nil, err
	}
	if len(thinned) == 0 {
		return nil, fault.Config("preprocess", "no presence points left after filtering")
	}

	sampled, err := sampling.SampleBackground(ar.Mask, background, pc.BgSampleSize, pc.BgSmoothingSigma, pc.Seed)
	if err != nil {
		return nil, err
	}
	sampled, droppedBackground, err := envdata.Enrich(ctx, env, sampled, features, pc.DropNAEnvironmental)
	if err != nil {
		return nil, err
	}

	ds := model.NewDataset(sampling.Combine(thinned, sampled, pc.Seed), features)
	nPresence, nBackground := ds.LabelCounts()
	return &Prepared{
		Dataset:  ds,
		Area:     ar,
		Provider: env,
		Stats: map[string]any{
			"presence_records":           len(presenceRecs),
			"background_records":         len(backgroundRecs),
			"accessible_cells":           ar.Mask.Count(),
			"presence_outside_area":      ar.Removed,
			"presence_missing_covariate": droppedPresence,
			"presence_thinned":           len(presence) - len(thinned),
			"background_density_records": len(background),
			"background_missing_value":   droppedBackground,
			"presence":                   nPresence,
			"background":                 nBackground,
		},
	}, nil
}

// SplitDataset partitions ds into spatially separated train and test sets.
func SplitDataset(ds model.Dataset, cfg config.DataSplitConfig) (train, test model.Dataset, err error) {
	tt, err := split.TrainTestSplit(ds.Points, cfg.TestProp, cfg.MinDistanceBetweenTrainAndTestM, cfg.Seed)
	if err != nil {
		return model.Dataset{}, model.Dataset{}, err
	}
	train, test = ds.Subset(tt.Train), ds.Subset(tt.Test)
	if train.Len() == 0 {
		return model.Dataset{}, model.Dataset{}, fault.Config("data_split", "no training points left after the test buffer; lower data_split.min_distance_between_train_and_test_m")
	}
	zap.L().Info("train/test split",
		zap.String("component", "pipeline"),
		zap.Int("train", train.Len()),
		zap.Int("test", test.Len()),
		zap.Int("dropped", len(tt.Dropped)),
	)
	return train, test, nil
}

// MinSeparation returns the great-circle distance in metres between the
// closest test and training points, or +Inf when either set is empty. The
// candidate neighbour of each test point is found in projected space.
func MinSeparation(train, test model.Dataset) float64 {
	idx := spatial.IndexPoints(train.Points)
	best := math.Inf(1)
	for _, p := range test.Points {
		i, _ := idx.Nearest(geo.Project(p.Latitude, p.Longitude))
		if i < 0 {
			break
		}
		q := train.Points[i]
		best = math.Min(best, geo.GreatCircleMeters(p.Latitude, p.Longitude, q.Latitude, q.Longitude))
	}
	return best
}
