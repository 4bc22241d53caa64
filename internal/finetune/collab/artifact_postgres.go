package collab

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/rivermuse/finetune-engine/internal/circuitbreaker"
	"github.com/rivermuse/finetune-engine/internal/finetune/ferrors"
)

// PostgresArtifactStore implements the ArtifactStore collaborator (spec
// §4.9, §6) with run/iteration/param/metric metadata in Postgres
// (grounded on internal/db.Client's connection-pool + circuit-breaker
// shape) and model binaries on a local filesystem path, the
// filesystem-backed half SPEC_FULL calls for as a stand-in for a
// production object-storage artifact bucket.
//
//	CREATE TABLE ft_iterations (name TEXT PRIMARY KEY, archived BOOLEAN NOT NULL DEFAULT FALSE, created_at TIMESTAMPTZ NOT NULL);
//	CREATE TABLE ft_runs (iteration TEXT NOT NULL, name TEXT NOT NULL, status TEXT NOT NULL, model_uploaded BOOLEAN NOT NULL DEFAULT FALSE, created_at TIMESTAMPTZ NOT NULL, finished_at TIMESTAMPTZ, PRIMARY KEY (iteration, name));
//	CREATE TABLE ft_run_params (iteration TEXT NOT NULL, run_name TEXT NOT NULL, key TEXT NOT NULL, value TEXT NOT NULL, PRIMARY KEY (iteration, run_name, key));
//	CREATE TABLE ft_run_metrics (id SERIAL PRIMARY KEY, iteration TEXT NOT NULL, run_name TEXT NOT NULL, key TEXT NOT NULL, value DOUBLE PRECISION NOT NULL, step INT NOT NULL, created_at TIMESTAMPTZ NOT NULL);
//	CREATE TABLE ft_models (iteration TEXT NOT NULL, run_name TEXT NOT NULL, path TEXT NOT NULL, uploaded_at TIMESTAMPTZ NOT NULL, PRIMARY KEY (iteration, run_name));
type PostgresArtifactStore struct {
	db      *circuitbreaker.DatabaseWrapper
	logger  *zap.Logger
	baseDir string
}

func NewPostgresArtifactStore(rawDB *sql.DB, logger *zap.Logger, baseDir string) *PostgresArtifactStore {
	return &PostgresArtifactStore{
		db:      circuitbreaker.NewDatabaseWrapper(rawDB, logger),
		logger:  logger,
		baseDir: baseDir,
	}
}

func (s *PostgresArtifactStore) CreateIteration(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ft_iterations (name, archived, created_at) VALUES ($1, FALSE, $2)
		ON CONFLICT (name) DO NOTHING`, name, time.Now().UTC())
	if err != nil {
		return ferrors.Wrap(ferrors.KindTransient, "create iteration", err)
	}
	return nil
}

func (s *PostgresArtifactStore) RenameIteration(ctx context.Context, name, newName string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE ft_iterations SET name = $2 WHERE name = $1`, name, newName)
	if err != nil {
		return ferrors.Wrap(ferrors.KindTransient, "rename iteration", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ferrors.New(ferrors.KindNotFound, "iteration not found: "+name)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE ft_runs SET iteration = $2 WHERE iteration = $1`, name, newName); err != nil {
		return ferrors.Wrap(ferrors.KindTransient, "rename iteration runs", err)
	}
	return nil
}

func (s *PostgresArtifactStore) DeleteIteration(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE ft_iterations SET archived = TRUE WHERE name = $1`, name)
	if err != nil {
		return ferrors.Wrap(ferrors.KindTransient, "archive iteration", err)
	}
	return nil
}

func (s *PostgresArtifactStore) CreateRun(ctx context.Context, iteration, runName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ft_runs (iteration, name, status, model_uploaded, created_at)
		VALUES ($1, $2, 'RUNNING', FALSE, $3)
		ON CONFLICT (iteration, name) DO NOTHING`, iteration, runName, time.Now().UTC())
	if err != nil {
		return ferrors.Wrap(ferrors.KindTransient, "create run", err)
	}
	return nil
}

func (s *PostgresArtifactStore) RunStatus(ctx context.Context, iteration, runName string) (string, bool, error) {
	row, err := s.db.QueryRowContextCB(ctx, `SELECT status FROM ft_runs WHERE iteration = $1 AND name = $2`, iteration, runName)
	if err != nil {
		return "", false, ferrors.Wrap(ferrors.KindTransient, "query run status", err)
	}
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, ferrors.Wrap(ferrors.KindTransient, "scan run status", err)
	}
	return status, true, nil
}

func (s *PostgresArtifactStore) FinishRun(ctx context.Context, iteration, runName string, failed bool) error {
	status := "FINISHED"
	if failed {
		status = "FAILED"
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE ft_runs SET status = $3, finished_at = $4 WHERE iteration = $1 AND name = $2`,
		iteration, runName, status, time.Now().UTC())
	if err != nil {
		return ferrors.Wrap(ferrors.KindTransient, "finish run", err)
	}
	return nil
}

func (s *PostgresArtifactStore) LogParam(ctx context.Context, iteration, runName, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ft_run_params (iteration, run_name, key, value) VALUES ($1,$2,$3,$4)
		ON CONFLICT (iteration, run_name, key) DO UPDATE SET value = EXCLUDED.value`,
		iteration, runName, key, value)
	if err != nil {
		return ferrors.Wrap(ferrors.KindTransient, "log param", err)
	}
	return nil
}

func (s *PostgresArtifactStore) LogMetric(ctx context.Context, iteration, runName, key string, value float64, step int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ft_run_metrics (iteration, run_name, key, value, step, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		iteration, runName, key, value, step, time.Now().UTC())
	if err != nil {
		return ferrors.Wrap(ferrors.KindTransient, "log metric", err)
	}
	if key == "model_uploaded" && value == 1 {
		_, err := s.db.ExecContext(ctx, `UPDATE ft_runs SET model_uploaded = TRUE WHERE iteration = $1 AND name = $2`, iteration, runName)
		if err != nil {
			return ferrors.Wrap(ferrors.KindTransient, "mark model uploaded", err)
		}
	}
	return nil
}

func (s *PostgresArtifactStore) modelPath(iteration, runName string) string {
	return filepath.Join(s.baseDir, iteration, runName+".model")
}

func (s *PostgresArtifactStore) LogModel(ctx context.Context, iteration, runName string, r io.Reader) error {
	path := s.modelPath(iteration, runName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ferrors.Wrap(ferrors.KindTransient, "create model dir", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return ferrors.Wrap(ferrors.KindTransient, "create model file", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return ferrors.Wrap(ferrors.KindTransient, "write model file", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ft_models (iteration, run_name, path, uploaded_at) VALUES ($1,$2,$3,$4)
		ON CONFLICT (iteration, run_name) DO UPDATE SET path = EXCLUDED.path, uploaded_at = EXCLUDED.uploaded_at`,
		iteration, runName, path, time.Now().UTC())
	if err != nil {
		return ferrors.Wrap(ferrors.KindTransient, "record model artifact", err)
	}
	return nil
}

func (s *PostgresArtifactStore) LoadModel(ctx context.Context, iteration, runName string) (io.ReadCloser, error) {
	row, err := s.db.QueryRowContextCB(ctx, `SELECT path FROM ft_models WHERE iteration = $1 AND run_name = $2`, iteration, runName)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindTransient, "query model path", err)
	}
	var path string
	if err := row.Scan(&path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ferrors.New(ferrors.KindNotFound, fmt.Sprintf("model not found for %s/%s", iteration, runName))
		}
		return nil, ferrors.Wrap(ferrors.KindTransient, "scan model path", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindTransient, "open model file", err)
	}
	return f, nil
}

func (s *PostgresArtifactStore) DeleteModel(ctx context.Context, iteration, runName string) error {
	row, err := s.db.QueryRowContextCB(ctx, `SELECT path FROM ft_models WHERE iteration = $1 AND run_name = $2`, iteration, runName)
	if err == nil {
		var path string
		if scanErr := row.Scan(&path); scanErr == nil {
			_ = os.Remove(path)
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ft_models WHERE iteration = $1 AND run_name = $2`, iteration, runName); err != nil {
		return ferrors.Wrap(ferrors.KindTransient, "delete model record", err)
	}
	return nil
}

func (s *PostgresArtifactStore) SearchRuns(ctx context.Context, iteration string, filter RunFilter) ([]RunRecord, error) {
	q := `SELECT name, status, model_uploaded FROM ft_runs WHERE iteration = $1`
	args := []interface{}{iteration}
	if filter.Status != "" {
		q += ` AND status = $2`
		args = append(args, filter.Status)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindTransient, "search runs", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var name, status string
		var uploaded bool
		if err := rows.Scan(&name, &status, &uploaded); err != nil {
			return nil, ferrors.Wrap(ferrors.KindTransient, "scan run", err)
		}
		if filter.ModelUploaded != nil && uploaded != *filter.ModelUploaded {
			continue
		}
		record := RunRecord{Name: name, Status: status}
		record.Params, _ = s.runParams(ctx, iteration, name)
		record.Metrics, _ = s.latestRunMetrics(ctx, iteration, name)
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *PostgresArtifactStore) runParams(ctx context.Context, iteration, runName string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM ft_run_params WHERE iteration = $1 AND run_name = $2`, iteration, runName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *PostgresArtifactStore) latestRunMetrics(ctx context.Context, iteration, runName string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (key) key, value FROM ft_run_metrics
		WHERE iteration = $1 AND run_name = $2 ORDER BY key, created_at DESC`, iteration, runName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]float64{}
	for rows.Next() {
		var k string
		var v float64
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *PostgresArtifactStore) GetExperiment(ctx context.Context, name string) (ExperimentRecord, error) {
	row, err := s.db.QueryRowContextCB(ctx, `SELECT name, archived, created_at FROM ft_iterations WHERE name = $1`, name)
	if err != nil {
		return ExperimentRecord{}, ferrors.Wrap(ferrors.KindTransient, "query experiment", err)
	}
	var rec ExperimentRecord
	if err := row.Scan(&rec.Name, &rec.Archived, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ExperimentRecord{}, ferrors.New(ferrors.KindNotFound, "iteration not found: "+name)
		}
		return ExperimentRecord{}, ferrors.Wrap(ferrors.KindTransient, "scan experiment", err)
	}
	return rec, nil
}

func (s *PostgresArtifactStore) RenameExperiment(ctx context.Context, name, newName string) error {
	return s.RenameIteration(ctx, name, newName)
}

var _ ArtifactStore = (*PostgresArtifactStore)(nil)
