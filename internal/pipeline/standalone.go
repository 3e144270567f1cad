package pipeline

import (
	"context"

	"github.com/sells-group/habitat-cli/internal/occurrence"
	"github.com/sells-group/habitat-cli/internal/training"
)

// AreaSummary describes an accessible area without running an experiment.
type AreaSummary struct {
	*Area
	Records         int
	QualityFiltered int
	Accessible      int
}

// Area builds the accessible area around the configured presence records.
// Nothing is written to the store.
func (p *Pipeline) Area(ctx context.Context) (*AreaSummary, error) {
	recs, err := p.sources.Presence(ctx)
	if err != nil {
		return nil, err
	}
	bathy, err := p.sources.Bathymetry(ctx)
	if err != nil {
		return nil, err
	}
	presence := occurrence.FilterBasicIssues(recs, occurrence.FilterOptions{
		UncertaintyThreshold:   p.cfg.Preprocessing.CoordUncertaintyThreshold,
		DropMissingUncertainty: p.cfg.Preprocessing.DropNACoordUncertainty,
	})
	ar, err := BuildArea(p.cfg.Preprocessing.AccessibleArea, presence, bathy)
	if err != nil {
		return nil, err
	}
	return &AreaSummary{
		Area:            ar,
		Records:         len(recs),
		QualityFiltered: len(presence),
		Accessible:      ar.Mask.Count(),
	}, nil
}

// CrossValidate preprocesses and splits the configured data, then
// cross-validates the training set with the configured hyperparameters.
// Nothing is written to the store or the output directory.
func (p *Pipeline) CrossValidate(ctx context.Context) (*training.CVReport, error) {
	presenceRecs, err := p.sources.Presence(ctx)
	if err != nil {
		return nil, err
	}
	backgroundRecs, err := p.sources.Background(ctx)
	if err != nil {
		return nil, err
	}
	bathy, err := p.sources.Bathymetry(ctx)
	if err != nil {
		return nil, err
	}
	env, err := p.sources.Environment(ctx, p.cfg.Preprocessing.EnvironmentData)
	if err != nil {
		return nil, err
	}
	prep, err := Preprocess(ctx, p.cfg, presenceRecs, backgroundRecs, bathy, env)
	if err != nil {
		return nil, err
	}
	train, _, err := SplitDataset(prep.Dataset, p.cfg.DataSplit)
	if err != nil {
		return nil, err
	}
	return training.CrossValidate(ctx, train, p.cfg.CVParams(p.cfg.Model), p.trainer)
}
