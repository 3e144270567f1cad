package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/habitat-cli/internal/envdata"
	"github.com/sells-group/habitat-cli/internal/model"
	"github.com/sells-group/habitat-cli/internal/occurrence"
	"github.com/sells-group/habitat-cli/internal/raster"
	"github.com/sells-group/habitat-cli/internal/store"
)

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateRun(ctx context.Context, exp model.Experiment) (*model.Run, error) {
	args := m.Called(ctx, exp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	args := m.Called(ctx, runID, status)
	return args.Error(0)
}

func (m *mockStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	args := m.Called(ctx, runID, result)
	return args.Error(0)
}

func (m *mockStore) FailRun(ctx context.Context, runID string, reason string) error {
	args := m.Called(ctx, runID, reason)
	return args.Error(0)
}

func (m *mockStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Run), args.Error(1)
}

func (m *mockStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	args := m.Called(ctx, runID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RunPhase), args.Error(1)
}

func (m *mockStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	args := m.Called(ctx, phaseID, result)
	return args.Error(0)
}

func (m *mockStore) ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RunPhase), args.Error(1)
}

func (m *mockStore) SavePoints(ctx context.Context, runID, set string, points []model.GeoPoint) (int64, error) {
	args := m.Called(ctx, runID, set, points)
	return int64(args.Int(0)), args.Error(1)
}

func (m *mockStore) LoadPoints(ctx context.Context, runID, set string) ([]model.GeoPoint, error) {
	args := m.Called(ctx, runID, set)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.GeoPoint), args.Error(1)
}

func (m *mockStore) SaveFolds(ctx context.Context, runID, stage string, folds []model.FoldRecord) error {
	args := m.Called(ctx, runID, stage, folds)
	return args.Error(0)
}

func (m *mockStore) ListFolds(ctx context.Context, runID, stage string) ([]model.FoldRecord, error) {
	args := m.Called(ctx, runID, stage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.FoldRecord), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Static Sources ---

type staticSources struct {
	presence   []occurrence.Record
	background []occurrence.Record
	bathymetry *raster.Grid
	env        envdata.Provider
	err        error
}

func (s *staticSources) Presence(context.Context) ([]occurrence.Record, error) {
	return s.presence, s.err
}

func (s *staticSources) Background(context.Context) ([]occurrence.Record, error) {
	return s.background, nil
}

func (s *staticSources) Bathymetry(context.Context) (*raster.Grid, error) {
	return s.bathymetry, nil
}

func (s *staticSources) Environment(context.Context, []string) (envdata.Provider, error) {
	return s.env, nil
}
