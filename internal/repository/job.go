package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veritas-ed/docproc/constants"
	"github.com/veritas-ed/docproc/internal/common"
	"github.com/veritas-ed/docproc/internal/entity"
)

// JobRepository persists document-job rows. The completion handler only
// ever reads a job once and writes it at most once per invocation; the
// conditional CompleteExtraction is the single source of truth for
// "done".
type JobRepository interface {
	Create(ctx context.Context, job *entity.DocumentJob) error
	GetByExternalJobID(ctx context.Context, externalJobID string) (*entity.DocumentJob, error)
	// CompleteExtraction persists the extracted content and merges meta
	// into the metadata map. The update is guarded: it applies only if
	// the job is not already COMPLETED and its current content is at or
	// below minChars. Returns false when the guard rejected the write,
	// which callers treat as a duplicate delivery.
	CompleteExtraction(ctx context.Context, jobID uuid.UUID, content string, meta map[string]any, minChars int) (bool, error)
	MarkFailed(ctx context.Context, jobID uuid.UUID, message string) error
	ListByStatus(ctx context.Context, status constants.JobStatus, limit int) ([]*entity.DocumentJob, error)
}

type pgJobRepo struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewJobRepository returns the Postgres-backed repository.
func NewJobRepository(pool *pgxpool.Pool, log *slog.Logger) JobRepository {
	return &pgJobRepo{pool: pool, log: log}
}

const jobColumns = `id, external_job_id, file_name, status, extracted_content, metadata, submitted_at, processed_at`

func (r *pgJobRepo) Create(ctx context.Context, job *entity.DocumentJob) error {
	meta, err := marshalMetadata(job.Metadata)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO document_jobs (id, external_job_id, file_name, status, metadata, submitted_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		job.ID, job.ExternalJobID, job.FileName, string(job.Status), string(meta), job.SubmittedAt,
	)
	if err != nil {
		r.log.Error("document_job create failed", "external_job_id", job.ExternalJobID, "err", err)
		return common.WrapError(common.ErrDatabase, err.Error())
	}
	r.log.Info("document_job created", "job_id", job.ID, "external_job_id", job.ExternalJobID)
	return nil
}

func (r *pgJobRepo) GetByExternalJobID(ctx context.Context, externalJobID string) (*entity.DocumentJob, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM document_jobs
		WHERE external_job_id = $1`,
		externalJobID,
	)

	var (
		job  entity.DocumentJob
		stat string
		meta []byte
	)
	err := row.Scan(&job.ID, &job.ExternalJobID, &job.FileName, &stat,
		&job.ExtractedContent, &meta, &job.SubmittedAt, &job.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.NotFoundErrorf("no document job for reference %q", externalJobID)
	}
	if err != nil {
		r.log.Error("document_job lookup failed", "external_job_id", externalJobID, "err", err)
		return nil, common.WrapError(common.ErrDatabase, err.Error())
	}
	job.Status = constants.JobStatus(stat)
	if job.Metadata, err = unmarshalMetadata(meta); err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *pgJobRepo) CompleteExtraction(ctx context.Context, jobID uuid.UUID, content string, meta map[string]any, minChars int) (bool, error) {
	patch, err := marshalMetadata(meta)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE document_jobs
		SET extracted_content = $2,
		    status = $3,
		    processed_at = now(),
		    metadata = coalesce(metadata, '{}'::jsonb) || $4::jsonb
		WHERE id = $1
		  AND status <> $5
		  AND coalesce(length(extracted_content), 0) <= $6`,
		jobID, content, string(constants.JobStatusCompleted), string(patch),
		string(constants.JobStatusCompleted), minChars,
	)
	if err != nil {
		r.log.Error("document_job completion failed", "job_id", jobID, "err", err)
		return false, common.WrapError(common.ErrDatabase, err.Error())
	}
	if tag.RowsAffected() == 0 {
		r.log.Info("document_job completion skipped, already applied", "job_id", jobID)
		return false, nil
	}
	r.log.Info("document_job completed", "job_id", jobID, "content_length", len(content))
	return true, nil
}

func (r *pgJobRepo) MarkFailed(ctx context.Context, jobID uuid.UUID, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE document_jobs
		SET status = $2,
		    processed_at = now(),
		    metadata = coalesce(metadata, '{}'::jsonb) || jsonb_build_object('error', $3::text)
		WHERE id = $1
		  AND status <> $4`,
		jobID, string(constants.JobStatusFailed), message, string(constants.JobStatusCompleted),
	)
	if err != nil {
		r.log.Error("document_job failure mark failed", "job_id", jobID, "err", err)
		return common.WrapError(common.ErrDatabase, err.Error())
	}
	r.log.Warn("document_job marked failed", "job_id", jobID, "error", message)
	return nil
}

func (r *pgJobRepo) ListByStatus(ctx context.Context, status constants.JobStatus, limit int) ([]*entity.DocumentJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM document_jobs
		WHERE status = $1
		ORDER BY submitted_at DESC
		LIMIT $2`,
		string(status), limit,
	)
	if err != nil {
		r.log.Error("document_job list failed", "status", status, "err", err)
		return nil, common.WrapError(common.ErrDatabase, err.Error())
	}
	defer rows.Close()

	var jobs []*entity.DocumentJob
	for rows.Next() {
		var (
			job  entity.DocumentJob
			stat string
			meta []byte
		)
		if err := rows.Scan(&job.ID, &job.ExternalJobID, &job.FileName, &stat,
			&job.ExtractedContent, &meta, &job.SubmittedAt, &job.ProcessedAt); err != nil {
			return nil, common.WrapError(common.ErrDatabase, err.Error())
		}
		job.Status = constants.JobStatus(stat)
		if job.Metadata, err = unmarshalMetadata(meta); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

func marshalMetadata(meta map[string]any) ([]byte, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, common.WrapError(common.ErrInternal, "marshal metadata: "+err.Error())
	}
	return b, nil
}

func unmarshalMetadata(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, common.WrapError(common.ErrInternal, "unmarshal metadata: "+err.Error())
	}
	return meta, nil
}
