package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/voxkit/backend/pkg/logger"
	"github.com/voxkit/backend/services/speech/entity"
)

type postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle as the job store.
func NewPostgres(db *sql.DB) Storage {
	return &postgres{db: db}
}

// OpenPostgres connects to the database and verifies the connection.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the jobs table when it does not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	type          TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	progress      INTEGER NOT NULL DEFAULT 0,
	file_path     TEXT NOT NULL,
	parameters    TEXT,
	result_json   TEXT,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	duration      DOUBLE PRECISION
)`

	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure jobs schema: %w", err)
	}
	return nil
}

func (s *postgres) CreateJob(ctx context.Context, job *entity.Job) error {
	log := logger.FromContext(ctx)

	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to encode job parameters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, progress, file_path, parameters, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.Type, job.Status, job.Progress, job.InputPath, string(params), job.CreatedAt,
	)
	if err != nil {
		log.Error("failed to create job", "error", err, "job_id", job.ID)
		return fmt.Errorf("failed to create job: %w", err)
	}
	log.Debug("created job", "job_id", job.ID, "type", job.Type)

	return nil
}

func (s *postgres) GetJob(ctx context.Context, jobID string) (*entity.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, status, progress, file_path, parameters,
		       result_json, error_message, created_at, started_at, completed_at, duration
		FROM jobs WHERE id = $1`, jobID)

	var (
		job        entity.Job
		params     sql.NullString
		resultJSON sql.NullString
		errMsg     sql.NullString
	)
	err := row.Scan(
		&job.ID, &job.Type, &job.Status, &job.Progress, &job.InputPath, &params,
		&resultJSON, &errMsg, &job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.Duration,
	)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &job.Params); err != nil {
			return nil, fmt.Errorf("failed to decode job parameters: %w", err)
		}
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var result entity.TranscriptionResult
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("failed to decode job result: %w", err)
		}
		job.Result = &result
	}
	job.Error = errMsg.String

	return &job, nil
}

func (s *postgres) UpdateStatus(ctx context.Context, jobID string, status entity.JobStatus, progress int, errMsg string) error {
	log := logger.FromContext(ctx)

	// One statement so the stamp rules stay atomic per call.
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = $2,
			progress = $3,
			error_message = CASE WHEN $4 <> '' THEN $4 ELSE error_message END,
			started_at = CASE
				WHEN $2 = 'processing' AND started_at IS NULL THEN $5
				ELSE started_at END,
			completed_at = CASE
				WHEN $2 IN ('completed', 'failed') THEN $5
				ELSE completed_at END,
			duration = CASE
				WHEN $2 IN ('completed', 'failed') AND started_at IS NOT NULL
					THEN EXTRACT(EPOCH FROM ($5::timestamptz - started_at))
				ELSE duration END
		WHERE id = $1`,
		jobID, status, progress, errMsg, time.Now().UTC(),
	)
	if err != nil {
		log.Error("failed to update job status", "error", err, "job_id", jobID)
		return fmt.Errorf("failed to update job status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	log.Debug("updated job status", "job_id", jobID, "status", status, "progress", progress)

	return nil
}

func (s *postgres) SaveResult(ctx context.Context, jobID string, result *entity.TranscriptionResult) error {
	log := logger.FromContext(ctx)

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode job result: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET result_json = $2 WHERE id = $1`, jobID, string(payload))
	if err != nil {
		log.Error("failed to save job result", "error", err, "job_id", jobID)
		return fmt.Errorf("failed to save job result: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save job result: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	log.Debug("saved job result", "job_id", jobID)

	return nil
}
