package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/db"
	"github.com/sells-group/habitat-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, experiment, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"update_run_result": `UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, experiment, status, result, error, created_at, updated_at FROM runs WHERE id = $1`,
	"insert_phase":      `INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
	"complete_phase":    `UPDATE run_phases SET status = $1, result = $2 WHERE id = $3`,
}

// pointColumns is the COPY column order for run_points.
var pointColumns = []string{"run_id", "set_name", "idx", "point_key", "latitude", "longitude", "label", "fold", "features", "geom"}

// foldColumns is the upsert column order for run_folds.
var foldColumns = []string{
	"run_id", "stage", "fold", "train_size", "val_size", "test_size",
	"precision_score", "recall_score", "f1_score", "threshold", "iterations", "skipped", "reason",
}

var foldUpsert = db.Upsert{
	Table:        "run_folds",
	Columns:      foldColumns,
	ConflictKeys: []string{"run_id", "stage", "fold"},
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// run_points.geom holds an EWKB point with SRID 4326; ST_GeomFromEWKB(geom)
// turns it into a PostGIS geometry.
const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	experiment JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_points (
	run_id    TEXT NOT NULL REFERENCES runs(id),
	set_name  TEXT NOT NULL,
	idx       INTEGER NOT NULL,
	point_key TEXT NOT NULL,
	latitude  DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	label     SMALLINT NOT NULL,
	fold      INTEGER NOT NULL DEFAULT -1,
	features  JSONB,
	geom      BYTEA,
	PRIMARY KEY (run_id, set_name, idx)
);

CREATE TABLE IF NOT EXISTS run_folds (
	run_id          TEXT NOT NULL REFERENCES runs(id),
	stage           TEXT NOT NULL,
	fold            INTEGER NOT NULL,
	train_size      INTEGER NOT NULL,
	val_size        INTEGER NOT NULL,
	test_size       INTEGER NOT NULL,
	precision_score DOUBLE PRECISION,
	recall_score    DOUBLE PRECISION,
	f1_score        DOUBLE PRECISION,
	threshold       DOUBLE PRECISION,
	iterations      INTEGER NOT NULL DEFAULT 0,
	skipped         BOOLEAN NOT NULL DEFAULT false,
	reason          TEXT,
	PRIMARY KEY (run_id, stage, fold)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, exp model.Experiment) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	expJSON, err := json.Marshal(exp)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal experiment")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, experiment, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, expJSON, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:         id,
		Experiment: exp,
		Status:     model.RunStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, experiment, status, result, error, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPostgresRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, experiment, status, result, error, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Title != "" {
		query += fmt.Sprintf(` AND experiment->>'title' = $%d`, argIdx)
		args = append(args, filter.Title)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal phase result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE run_phases SET status = $1, result = $2 WHERE id = $3`,
		string(result.Status), resultJSON, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("phase not found: %s", phaseID)
	}
	return nil
}

func (s *PostgresStore) ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, name, status, result, started_at FROM run_phases WHERE run_id = $1 ORDER BY started_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list phases for run %s", runID)
	}
	defer rows.Close()

	var phases []model.RunPhase
	for rows.Next() {
		var p model.RunPhase
		var resultNull *[]byte
		if err := rows.Scan(&p.ID, &p.RunID, &p.Name, &p.Status, &resultNull, &p.StartedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan phase")
		}
		if resultNull != nil {
			p.Result = &model.PhaseResult{}
			if err := json.Unmarshal(*resultNull, p.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal phase result")
			}
		}
		phases = append(phases, p)
	}
	return phases, eris.Wrap(rows.Err(), "postgres: list phases iterate")
}

// SavePoints replaces the named point set of a run, streaming the rows with
// COPY. Each row carries an EWKB point geometry.
func (s *PostgresStore) SavePoints(ctx context.Context, runID, set string, points []model.GeoPoint) (int64, error) {
	if _, err := s.pool.Exec(ctx, `DELETE FROM run_points WHERE run_id = $1 AND set_name = $2`, runID, set); err != nil {
		return 0, eris.Wrapf(err, "postgres: clear %s points for run %s", set, runID)
	}

	rows := make([][]any, len(points))
	for i, p := range points {
		features, err := encodeFeatures(p.Features)
		if err != nil {
			return 0, err
		}
		wkb, err := pointEWKB(p)
		if err != nil {
			return 0, err
		}
		rows[i] = []any{runID, set, i, p.Key, p.Latitude, p.Longitude, p.Label, p.Fold, features, wkb}
	}

	n, err := db.CopyFromBatched(ctx, s.pool, "run_points", pointColumns, rows, 0)
	if err != nil {
		return n, eris.Wrapf(err, "postgres: save %s points for run %s", set, runID)
	}

	zap.L().Debug("points saved",
		zap.String("component", "store.postgres"),
		zap.String("run_id", runID),
		zap.String("set", set),
		zap.Int64("rows", n),
	)
	return n, nil
}

func (s *PostgresStore) LoadPoints(ctx context.Context, runID, set string) ([]model.GeoPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT point_key, latitude, longitude, label, fold, features FROM run_points
		 WHERE run_id = $1 AND set_name = $2 ORDER BY idx`,
		runID, set,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load %s points for run %s", set, runID)
	}
	defer rows.Close()

	var points []model.GeoPoint
	for rows.Next() {
		var p model.GeoPoint
		var features []byte
		if err := rows.Scan(&p.Key, &p.Latitude, &p.Longitude, &p.Label, &p.Fold, &features); err != nil {
			return nil, eris.Wrap(err, "postgres: scan point")
		}
		if p.Features, err = decodeFeatures(features); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, eris.Wrap(rows.Err(), "postgres: load points iterate")
}

// SaveFolds upserts the fold summaries of one cross-validation stage.
func (s *PostgresStore) SaveFolds(ctx context.Context, runID, stage string, folds []model.FoldRecord) error {
	rows := make([][]any, len(folds))
	for i, f := range folds {
		rows[i] = []any{
			runID, stage, f.Fold, f.TrainSize, f.ValSize, f.TestSize,
			nullFloat(f.Precision), nullFloat(f.Recall), nullFloat(f.F1), nullFloat(f.Threshold),
			f.Iterations, f.Skipped, f.Reason,
		}
	}

	_, err := foldUpsert.Exec(ctx, s.pool, rows)
	return eris.Wrapf(err, "postgres: save folds for run %s", runID)
}

func (s *PostgresStore) ListFolds(ctx context.Context, runID, stage string) ([]model.FoldRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fold, train_size, val_size, test_size, precision_score, recall_score, f1_score, threshold, iterations, skipped, reason
		 FROM run_folds WHERE run_id = $1 AND stage = $2 ORDER BY fold`,
		runID, stage,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list folds for run %s", runID)
	}
	defer rows.Close()

	var folds []model.FoldRecord
	for rows.Next() {
		var f model.FoldRecord
		var precision, recall, f1, threshold *float64
		var reason *string
		if err := rows.Scan(&f.Fold, &f.TrainSize, &f.ValSize, &f.TestSize,
			&precision, &recall, &f1, &threshold, &f.Iterations, &f.Skipped, &reason); err != nil {
			return nil, eris.Wrap(err, "postgres: scan fold")
		}
		f.Precision = floatOrNaN(precision)
		f.Recall = floatOrNaN(recall)
		f.F1 = floatOrNaN(f1)
		f.Threshold = floatOrNaN(threshold)
		if reason != nil {
			f.Reason = *reason
		}
		folds = append(folds, f)
	}
	return folds, eris.Wrap(rows.Err(), "postgres: list folds iterate")
}

func scanPostgresRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var expJSON []byte
	var resultNull *[]byte
	var errMsg *string

	if err := row.Scan(&r.ID, &expJSON, &r.Status, &resultNull, &errMsg, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(expJSON, &r.Experiment); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal experiment")
	}
	if resultNull != nil {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(*resultNull, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	return &r, nil
}

// pointEWKB encodes the point's location as little-endian EWKB with SRID 4326.
func pointEWKB(p model.GeoPoint) ([]byte, error) {
	g := geom.NewPointFlat(geom.XY, []float64{p.Longitude, p.Latitude}).SetSRID(4326)
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: encode point %s", p.Key)
	}
	return data, nil
}
