package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/veritas-ed/docproc/constants"
	"github.com/veritas-ed/docproc/internal/common"
	"github.com/veritas-ed/docproc/internal/entity"
)

// sqliteJobRepo implements JobRepository over an embedded SQLite file
// for local runs and tests. Timestamps are stored as RFC 3339 text.
type sqliteJobRepo struct {
	db  *sql.DB
	log *slog.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS document_jobs (
	id TEXT PRIMARY KEY,
	external_job_id TEXT NOT NULL UNIQUE,
	file_name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	extracted_content TEXT,
	metadata TEXT NOT NULL DEFAULT '{}',
	submitted_at TEXT NOT NULL,
	processed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_document_jobs_status ON document_jobs (status, submitted_at);
`

// OpenSQLite opens (and migrates) a SQLite-backed job repository.
// Use ":memory:" for an ephemeral store.
func OpenSQLite(ctx context.Context, path string, log *slog.Logger) (JobRepository, *sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, common.WrapError(common.ErrDatabase, err.Error())
	}
	// A single connection keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, nil, common.WrapError(common.ErrDatabase, err.Error())
	}
	log.Info("sqlite job store ready", "path", path)
	return &sqliteJobRepo{db: db, log: log}, db, nil
}

func (r *sqliteJobRepo) Create(ctx context.Context, job *entity.DocumentJob) error {
	meta, err := marshalMetadata(job.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO document_jobs (id, external_job_id, file_name, status, metadata, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID.String(), job.ExternalJobID, job.FileName, string(job.Status),
		string(meta), job.SubmittedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		r.log.Error("document_job create failed", "external_job_id", job.ExternalJobID, "err", err)
		return common.WrapError(common.ErrDatabase, err.Error())
	}
	r.log.Info("document_job created", "job_id", job.ID, "external_job_id", job.ExternalJobID)
	return nil
}

func (r *sqliteJobRepo) GetByExternalJobID(ctx context.Context, externalJobID string) (*entity.DocumentJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, external_job_id, file_name, status, extracted_content, metadata, submitted_at, processed_at
		FROM document_jobs
		WHERE external_job_id = ?`,
		externalJobID,
	)
	job, err := scanSQLiteJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFoundErrorf("no document job for reference %q", externalJobID)
	}
	if err != nil {
		r.log.Error("document_job lookup failed", "external_job_id", externalJobID, "err", err)
		return nil, err
	}
	return job, nil
}

func (r *sqliteJobRepo) CompleteExtraction(ctx context.Context, jobID uuid.UUID, content string, meta map[string]any, minChars int) (bool, error) {
	patch, err := marshalMetadata(meta)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE document_jobs
		SET extracted_content = ?,
		    status = ?,
		    processed_at = ?,
		    metadata = json_patch(coalesce(metadata, '{}'), ?)
		WHERE id = ?
		  AND status <> ?
		  AND coalesce(length(extracted_content), 0) <= ?`,
		content, string(constants.JobStatusCompleted),
		time.Now().UTC().Format(time.RFC3339Nano), string(patch),
		jobID.String(), string(constants.JobStatusCompleted), minChars,
	)
	if err != nil {
		r.log.Error("document_job completion failed", "job_id", jobID, "err", err)
		return false, common.WrapError(common.ErrDatabase, err.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, common.WrapError(common.ErrDatabase, err.Error())
	}
	if n == 0 {
		r.log.Info("document_job completion skipped, already applied", "job_id", jobID)
		return false, nil
	}
	r.log.Info("document_job completed", "job_id", jobID, "content_length", len(content))
	return true, nil
}

func (r *sqliteJobRepo) MarkFailed(ctx context.Context, jobID uuid.UUID, message string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE document_jobs
		SET status = ?,
		    processed_at = ?,
		    metadata = json_patch(coalesce(metadata, '{}'), json_object('error', ?))
		WHERE id = ?
		  AND status <> ?`,
		string(constants.JobStatusFailed), time.Now().UTC().Format(time.RFC3339Nano),
		message, jobID.String(), string(constants.JobStatusCompleted),
	)
	if err != nil {
		r.log.Error("document_job failure mark failed", "job_id", jobID, "err", err)
		return common.WrapError(common.ErrDatabase, err.Error())
	}
	r.log.Warn("document_job marked failed", "job_id", jobID, "error", message)
	return nil
}

func (r *sqliteJobRepo) ListByStatus(ctx context.Context, status constants.JobStatus, limit int) ([]*entity.DocumentJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, external_job_id, file_name, status, extracted_content, metadata, submitted_at, processed_at
		FROM document_jobs
		WHERE status = ?
		ORDER BY submitted_at DESC
		LIMIT ?`,
		string(status), limit,
	)
	if err != nil {
		r.log.Error("document_job list failed", "status", status, "err", err)
		return nil, common.WrapError(common.ErrDatabase, err.Error())
	}
	defer rows.Close()

	var jobs []*entity.DocumentJob
	for rows.Next() {
		job, err := scanSQLiteJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanSQLiteJob(scan func(dest ...any) error) (*entity.DocumentJob, error) {
	var (
		job         entity.DocumentJob
		id          string
		stat        string
		content     sql.NullString
		meta        string
		submittedAt string
		processedAt sql.NullString
	)
	if err := scan(&id, &job.ExternalJobID, &job.FileName, &stat, &content, &meta, &submittedAt, &processedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, common.WrapError(common.ErrDatabase, err.Error())
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, common.WrapError(common.ErrDatabase, "bad job id: "+err.Error())
	}
	job.ID = parsed
	job.Status = constants.JobStatus(stat)
	if content.Valid {
		job.ExtractedContent = &content.String
	}
	if job.Metadata, err = unmarshalMetadata([]byte(meta)); err != nil {
		return nil, err
	}
	if job.SubmittedAt, err = time.Parse(time.RFC3339Nano, submittedAt); err != nil {
		return nil, common.WrapError(common.ErrDatabase, "bad submitted_at: "+err.Error())
	}
	if processedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, processedAt.String)
		if err != nil {
			return nil, common.WrapError(common.ErrDatabase, "bad processed_at: "+err.Error())
		}
		job.ProcessedAt = &t
	}
	return &job, nil
}
