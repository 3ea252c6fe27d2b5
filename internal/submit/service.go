package submit

import (
	"context"
	"log/slog"
	"path"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/veritas-ed/docproc/constants"
	"github.com/veritas-ed/docproc/internal/common"
	"github.com/veritas-ed/docproc/internal/entity"
	"github.com/veritas-ed/docproc/internal/repository"
	"github.com/veritas-ed/docproc/internal/storage"
)

// Service performs the upstream submission step: it uploads the source
// document and creates the work record in SUBMITTED. Talking to the
// external document-AI processor (which assigns the job reference)
// happens outside this service; the caller passes the reference in.
type Service struct {
	jobs         repository.JobRepository
	store        storage.Store
	uploadPrefix string
	log          *slog.Logger
}

func NewService(jobs repository.JobRepository, store storage.Store, uploadPrefix string, log *slog.Logger) *Service {
	if uploadPrefix == "" {
		uploadPrefix = "uploads"
	}
	return &Service{jobs: jobs, store: store, uploadPrefix: uploadPrefix, log: log}
}

// Submit uploads data under uploads/<job id>/<file name> and records the
// job. The content type is sniffed from the bytes.
func (s *Service) Submit(ctx context.Context, fileName string, data []byte, externalJobID string) (*entity.DocumentJob, error) {
	if externalJobID == "" {
		return nil, common.InvalidInputError("external job reference is required")
	}
	if fileName == "" {
		return nil, common.InvalidInputError("file name is required")
	}
	if len(data) == 0 {
		return nil, common.InvalidInputError("document is empty")
	}

	contentType := mimetype.Detect(data).String()
	job := &entity.DocumentJob{
		ID:            uuid.New(),
		ExternalJobID: externalJobID,
		FileName:      fileName,
		Status:        constants.JobStatusSubmitted,
		SubmittedAt:   time.Now().UTC(),
	}
	key := path.Join(s.uploadPrefix, job.ID.String(), fileName)

	if err := s.store.Upload(ctx, key, data, contentType); err != nil {
		s.log.Error("submit.upload.failed", "file_name", fileName, "err", err)
		return nil, err
	}

	job.Metadata = map[string]any{
		"source_object": key,
		"content_type":  contentType,
		"size_bytes":    len(data),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		s.log.Error("submit.record.failed", "file_name", fileName, "err", err)
		return nil, err
	}

	s.log.Info("submit.ok",
		"job_id", job.ID,
		"external_job_id", externalJobID,
		"key", key,
		"content_type", contentType,
	)
	return job, nil
}
