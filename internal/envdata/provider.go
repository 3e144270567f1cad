// Package envdata attaches environmental covariates to points: gridded
// layers sampled at the nearest cell and distance to the coastline.
package envdata

import (
	"context"
	"math"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/habitat-cli/internal/model"
	"github.com/sells-group/habitat-cli/internal/raster"
)

// ErrUnknownCovariate is returned for a covariate no provider serves.
var ErrUnknownCovariate = eris.New("envdata: unknown covariate")

// Provider looks up covariate values at a location. NaN means no data.
type Provider interface {
	Covariates() []string
	Value(name string, lat, lon float64) (float64, error)
}

// GridProvider serves one raster per covariate by nearest-cell lookup.
type GridProvider struct {
	grids map[string]*raster.Grid
}

// NewGridProvider wraps the given named grids.
func NewGridProvider(grids map[string]*raster.Grid) *GridProvider {
	return &GridProvider{grids: grids}
}

// Covariates implements Provider.
func (g *GridProvider) Covariates() []string {
	names := make([]string, 0, len(g.grids))
	for n := range g.grids {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Value implements Provider.
func (g *GridProvider) Value(name string, lat, lon float64) (float64, error) {
	grid, ok := g.grids[name]
	if !ok {
		return 0, eris.Wrapf(ErrUnknownCovariate, "grid %q", name)
	}
	if grid.Size() == 0 {
		return math.NaN(), nil
	}
	return grid.NearestValue(lat, lon), nil
}

// LoadGrids reads <dir>/<name>.csv for every name concurrently.
func LoadGrids(ctx context.Context, dir string, names []string, concurrency int) (*GridProvider, error) {
	grids := make([]*raster.Grid, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, concurrency))
	for i, name := range names {
		g.Go(func() error {
			grid, err := raster.ReadXYZFile(gctx, filepath.Join(dir, name+".csv"))
			if err != nil {
				return eris.Wrapf(err, "envdata: load %s", name)
			}
			if err := grid.Validate(); err != nil {
				return eris.Wrapf(err, "envdata: validate %s", name)
			}
			grids[i] = grid
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byName := make(map[string]*raster.Grid, len(names))
	for i, name := range names {
		byName[name] = grids[i]
		zap.L().Debug("envdata: grid loaded",
			zap.String("covariate", name),
			zap.Int("rows", grids[i].Rows()),
			zap.Int("cols", grids[i].Cols()),
		)
	}
	return NewGridProvider(byName), nil
}

// Multi dispatches each covariate to the first provider that serves it.
type Multi []Provider

// Covariates implements Provider.
func (m Multi) Covariates() []string {
	var names []string
	seen := make(map[string]bool)
	for _, p := range m {
		for _, n := range p.Covariates() {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}

// Value implements Provider.
func (m Multi) Value(name string, lat, lon float64) (float64, error) {
	for _, p := range m {
		for _, n := range p.Covariates() {
			if n == name {
				return p.Value(name, lat, lon)
			}
		}
	}
	return 0, eris.Wrapf(ErrUnknownCovariate, "%q", name)
}

// Enrich returns copies of points with every named covariate attached. With
// dropNA, points missing any covariate are dropped and counted.
func Enrich(ctx context.Context, p Provider, points []model.GeoPoint, names []string, dropNA bool) ([]model.GeoPoint, int, error) {
	out := make([]model.GeoPoint, 0, len(points))
	dropped := 0
	for i, pt := range points {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, eris.Wrap(err, "envdata: enrich cancelled")
			}
		}
		missing := false
		for _, name := range names {
			v, err := p.Value(name, pt.Latitude, pt.Longitude)
			if err != nil {
				return nil, 0, err
			}
			if math.IsNaN(v) {
				missing = true
			}
			pt = pt.WithFeature(name, v)
		}
		if missing && dropNA {
			dropped++
			continue
		}
		out = append(out, pt)
	}

	zap.L().Info("environmental covariates attached",
		zap.Strings("covariates", names),
		zap.Int("before", len(points)),
		zap.Int("after", len(out)),
		zap.Int("dropped_missing", dropped),
	)
	return out, dropped, nil
}
