package store

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/habitat-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var runColumns = []string{"id", "experiment", "status", "result", "error", "created_at", "updated_at"}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), []byte(`{"title":"first_run"}`), "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), model.Experiment{Title: "first_run"})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	result := []byte(`{"cv_mean_f1":0.7,"cv_std_f1":0.1,"test_f1":0,"test_precision":0,"test_recall":0,"threshold":0.5,"train_size":10,"test_size":2,"phases":null}`)
	errMsg := "boom"

	mock.ExpectQuery(`SELECT id, experiment, status, result, error, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("run-1", []byte(`{"title":"t"}`), model.RunStatusFailed, &result, &errMsg, now, now))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "t", run.Experiment.Title)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	require.NotNil(t, run.Result)
	assert.InDelta(t, 0.7, run.Result.CVMeanF1, 1e-9)
	assert.Equal(t, "boom", run.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, experiment, status, result, error, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRunsFilters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM runs WHERE true AND status = \$1 AND experiment->>'title' = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("complete", "alpha", 5, 10).
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("run-1", []byte(`{"title":"alpha"}`), model.RunStatusComplete, (*[]byte)(nil), (*string)(nil), now, now))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusComplete, Title: "alpha", Limit: 5, Offset: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].Result)
	assert.Empty(t, runs[0].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1`).
		WithArgs("training", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusTraining)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1, error = \$2`).
		WithArgs("failed", "no accessible cells", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailRun(context.Background(), "run-1", "no accessible cells"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompletePhase(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE run_phases SET status = \$1, result = \$2 WHERE id = \$3`).
		WithArgs("complete", pgxmock.AnyArg(), "phase-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.CompletePhase(context.Background(), "phase-1", &model.PhaseResult{Name: "split", Status: model.PhaseStatusComplete})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SavePoints(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM run_points WHERE run_id = \$1 AND set_name = \$2`).
		WithArgs("run-1", SetTrain).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"run_points"}, pointColumns).WillReturnResult(2)

	points := []model.GeoPoint{
		model.NewPoint("a", 56.1, -3.2, model.LabelPresence).WithFeature("temperature", 11),
		model.NewPoint("bg-0", 56.2, -3.1, model.LabelBackground),
	}
	n, err := s.SavePoints(context.Background(), "run-1", SetTrain, points)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SavePoints_CopyError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM run_points`).
		WithArgs("run-1", SetTest).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"run_points"}, pointColumns).WillReturnError(fmt.Errorf("connection reset"))

	_, err := s.SavePoints(context.Background(), "run-1", SetTest, []model.GeoPoint{model.NewPoint("a", 1, 2, 1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save test points for run run-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadPoints(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT point_key, latitude, longitude, label, fold, features FROM run_points`).
		WithArgs("run-1", SetDataset).
		WillReturnRows(pgxmock.NewRows([]string{"point_key", "latitude", "longitude", "label", "fold", "features"}).
			AddRow("a", 56.1, -3.2, 1, 3, []byte(`{"temperature":11}`)).
			AddRow("bg-0", 56.2, -3.1, 0, -1, []byte(`{}`)))

	points, err := s.LoadPoints(context.Background(), "run-1", SetDataset)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 3, points[0].Fold)
	assert.InDelta(t, 11.0, points[0].Feature("temperature"), 1e-12)
	assert.Equal(t, model.LabelBackground, points[1].Label)
	assert.Nil(t, points[1].Features)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveFolds(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_run_folds"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_run_folds"}, foldColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "run_folds"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	err := s.SaveFolds(context.Background(), "run-1", "cv", []model.FoldRecord{
		{Fold: 0, F1: 0.5, Precision: 0.5, Recall: 0.5, Threshold: 0.4},
		{Fold: 1, F1: math.NaN(), Precision: math.NaN(), Recall: math.NaN(), Threshold: math.NaN(), Skipped: true},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListFolds(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	f1 := 0.6
	reason := "test fold is empty"

	mock.ExpectQuery(`FROM run_folds WHERE run_id = \$1 AND stage = \$2 ORDER BY fold`).
		WithArgs("run-1", "cv").
		WillReturnRows(pgxmock.NewRows([]string{
			"fold", "train_size", "val_size", "test_size", "precision_score", "recall_score", "f1_score",
			"threshold", "iterations", "skipped", "reason",
		}).
			AddRow(0, 10, 2, 4, &f1, &f1, &f1, &f1, 9, false, (*string)(nil)).
			AddRow(1, 0, 0, 0, (*float64)(nil), (*float64)(nil), (*float64)(nil), (*float64)(nil), 0, true, &reason))

	folds, err := s.ListFolds(context.Background(), "run-1", "cv")
	require.NoError(t, err)
	require.Len(t, folds, 2)
	assert.InDelta(t, 0.6, folds[0].F1, 1e-12)
	assert.True(t, math.IsNaN(folds[1].F1))
	assert.Equal(t, "test fold is empty", folds[1].Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPointEWKB(t *testing.T) {
	data, err := pointEWKB(model.NewPoint("a", 56.1, -3.2, model.LabelPresence))
	require.NoError(t, err)

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	pt, ok := g.(*geom.Point)
	require.True(t, ok)
	assert.Equal(t, 4326, pt.SRID())
	assert.InDelta(t, -3.2, pt.X(), 1e-12)
	assert.InDelta(t, 56.1, pt.Y(), 1e-12)
}
