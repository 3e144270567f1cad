package pipeline

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/habitat-cli/internal/config"
	"github.com/sells-group/habitat-cli/internal/envdata"
	"github.com/sells-group/habitat-cli/internal/fault"
	"github.com/sells-group/habitat-cli/internal/occurrence"
	"github.com/sells-group/habitat-cli/internal/raster"
)

// Sources supplies the raw inputs of an experiment.
type Sources interface {
	Presence(ctx context.Context) ([]occurrence.Record, error)
	Background(ctx context.Context) ([]occurrence.Record, error)
	Bathymetry(ctx context.Context) (*raster.Grid, error)
	Environment(ctx context.Context, names []string) (envdata.Provider, error)
}

// FileSources reads inputs from the paths in the data configuration.
type FileSources struct {
	data        config.DataConfig
	concurrency int
}

// NewFileSources returns the file-backed sources for cfg.
func NewFileSources(cfg *config.Config) *FileSources {
	return &FileSources{data: cfg.Data, concurrency: cfg.Training.Concurrency}
}

// Presence loads the species occurrence export.
func (s *FileSources) Presence(ctx context.Context) ([]occurrence.Record, error) {
	recs, err := occurrence.LoadFile(ctx, s.data.Species.PresencePath(), s.data.Species.Encoding)
	return recs, eris.Wrap(err, "pipeline: load presence")
}

// Background loads the background occurrence export.
func (s *FileSources) Background(ctx context.Context) ([]occurrence.Record, error) {
	recs, err := occurrence.LoadFile(ctx, s.data.Species.BackgroundPath(), s.data.Species.Encoding)
	return recs, eris.Wrap(err, "pipeline: load background")
}

// Bathymetry loads the depth grid.
func (s *FileSources) Bathymetry(ctx context.Context) (*raster.Grid, error) {
	g, err := raster.ReadXYZFile(ctx, s.data.Environmental.BathymetryPath())
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load bathymetry")
	}
	if err := g.Validate(); err != nil {
		return nil, eris.Wrap(err, "pipeline: validate bathymetry")
	}
	return g, nil
}

// Environment loads one grid per covariate from the environmental folder.
// distance_to_shore_m is served from the coastline shapefile instead.
func (s *FileSources) Environment(ctx context.Context, names []string) (envdata.Provider, error) {
	gridNames := slices.DeleteFunc(slices.Clone(names), func(n string) bool { return n == envdata.DistanceToShore })
	grids, err := envdata.LoadGrids(ctx, s.data.Environmental.Folder, gridNames, s.concurrency)
	if err != nil {
		return nil, err
	}
	if len(gridNames) == len(names) {
		return grids, nil
	}

	path := s.data.Environmental.CoastlinePath()
	if path == "" {
		return nil, fault.Config("environment", "%s requires data.environmental.coastline_data_path", envdata.DistanceToShore)
	}
	coast, err := envdata.LoadCoastline(path)
	if err != nil {
		return nil, err
	}
	return envdata.Multi{grids, coast}, nil
}
