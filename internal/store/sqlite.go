package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/habitat-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode
// and foreign key enforcement on a single shared connection.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas below are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	experiment TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_points (
	run_id    TEXT NOT NULL REFERENCES runs(id),
	set_name  TEXT NOT NULL,
	idx       INTEGER NOT NULL,
	point_key TEXT NOT NULL,
	latitude  REAL NOT NULL,
	longitude REAL NOT NULL,
	label     INTEGER NOT NULL,
	fold      INTEGER NOT NULL DEFAULT -1,
	features  TEXT,
	PRIMARY KEY (run_id, set_name, idx)
);

CREATE TABLE IF NOT EXISTS run_folds (
	run_id          TEXT NOT NULL REFERENCES runs(id),
	stage           TEXT NOT NULL,
	fold            INTEGER NOT NULL,
	train_size      INTEGER NOT NULL,
	val_size        INTEGER NOT NULL,
	test_size       INTEGER NOT NULL,
	precision_score REAL,
	recall_score    REAL,
	f1_score        REAL,
	threshold       REAL,
	iterations      INTEGER NOT NULL DEFAULT 0,
	skipped         INTEGER NOT NULL DEFAULT 0,
	reason          TEXT,
	PRIMARY KEY (run_id, stage, fold)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, exp model.Experiment) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	expJSON, err := json.Marshal(exp)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal experiment")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, experiment, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(expJSON), string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:         id,
		Experiment: exp,
		Status:     model.RunStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, experiment, status, result, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, experiment, status, result, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Title != "" {
		query += ` AND json_extract(experiment, '$.title') = ?`
		args = append(args, filter.Title)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phase result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

func (s *SQLiteStore) ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, name, status, result, started_at FROM run_phases WHERE run_id = ? ORDER BY started_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list phases for run %s", runID)
	}
	defer rows.Close()

	var phases []model.RunPhase
	for rows.Next() {
		var p model.RunPhase
		var resultJSON sql.NullString
		if err := rows.Scan(&p.ID, &p.RunID, &p.Name, &p.Status, &resultJSON, &p.StartedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan phase")
		}
		if resultJSON.Valid {
			p.Result = &model.PhaseResult{}
			if err := json.Unmarshal([]byte(resultJSON.String), p.Result); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal phase result")
			}
		}
		phases = append(phases, p)
	}
	return phases, eris.Wrap(rows.Err(), "sqlite: list phases iterate")
}

// SavePoints replaces the named point set of a run in one transaction.
func (s *SQLiteStore) SavePoints(ctx context.Context, runID, set string, points []model.GeoPoint) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: save points: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_points WHERE run_id = ? AND set_name = ?`, runID, set); err != nil {
		return 0, eris.Wrapf(err, "sqlite: clear %s points for run %s", set, runID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_points (run_id, set_name, idx, point_key, latitude, longitude, label, fold, features)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare point insert")
	}
	defer stmt.Close()

	for i, p := range points {
		features, err := encodeFeatures(p.Features)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, runID, set, i, p.Key, p.Latitude, p.Longitude, p.Label, p.Fold, string(features)); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert point %d", i)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: save points: commit tx")
	}
	return int64(len(points)), nil
}

func (s *SQLiteStore) LoadPoints(ctx context.Context, runID, set string) ([]model.GeoPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT point_key, latitude, longitude, label, fold, features FROM run_points
		 WHERE run_id = ? AND set_name = ? ORDER BY idx`,
		runID, set,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load %s points for run %s", set, runID)
	}
	defer rows.Close()

	var points []model.GeoPoint
	for rows.Next() {
		var p model.GeoPoint
		var features sql.NullString
		if err := rows.Scan(&p.Key, &p.Latitude, &p.Longitude, &p.Label, &p.Fold, &features); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan point")
		}
		if p.Features, err = decodeFeatures([]byte(features.String)); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, eris.Wrap(rows.Err(), "sqlite: load points iterate")
}

// SaveFolds upserts the fold summaries of one cross-validation stage.
func (s *SQLiteStore) SaveFolds(ctx context.Context, runID, stage string, folds []model.FoldRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: save folds: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, f := range folds {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_folds (run_id, stage, fold, train_size, val_size, test_size, precision_score, recall_score, f1_score, threshold, iterations, skipped, reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (run_id, stage, fold) DO UPDATE SET
			   train_size = excluded.train_size, val_size = excluded.val_size, test_size = excluded.test_size,
			   precision_score = excluded.precision_score, recall_score = excluded.recall_score, f1_score = excluded.f1_score,
			   threshold = excluded.threshold, iterations = excluded.iterations,
			   skipped = excluded.skipped, reason = excluded.reason`,
			runID, stage, f.Fold, f.TrainSize, f.ValSize, f.TestSize,
			nullFloat(f.Precision), nullFloat(f.Recall), nullFloat(f.F1), nullFloat(f.Threshold),
			f.Iterations, f.Skipped, f.Reason,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert fold %d for run %s", f.Fold, runID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: save folds: commit tx")
}

func (s *SQLiteStore) ListFolds(ctx context.Context, runID, stage string) ([]model.FoldRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fold, train_size, val_size, test_size, precision_score, recall_score, f1_score, threshold, iterations, skipped, reason
		 FROM run_folds WHERE run_id = ? AND stage = ? ORDER BY fold`,
		runID, stage,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list folds for run %s", runID)
	}
	defer rows.Close()

	var folds []model.FoldRecord
	for rows.Next() {
		var f model.FoldRecord
		var precision, recall, f1, threshold *float64
		var reason sql.NullString
		if err := rows.Scan(&f.Fold, &f.TrainSize, &f.ValSize, &f.TestSize,
			&precision, &recall, &f1, &threshold, &f.Iterations, &f.Skipped, &reason); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fold")
		}
		f.Precision = floatOrNaN(precision)
		f.Recall = floatOrNaN(recall)
		f.F1 = floatOrNaN(f1)
		f.Threshold = floatOrNaN(threshold)
		f.Reason = reason.String
		folds = append(folds, f)
	}
	return folds, eris.Wrap(rows.Err(), "sqlite: list folds iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var expJSON string
	var resultJSON, errMsg sql.NullString

	err := row.Scan(&r.ID, &expJSON, &r.Status, &resultJSON, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(expJSON), &r.Experiment); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal experiment")
	}
	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	r.Error = errMsg.String
	return &r, nil
}
