package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/veritas-ed/docproc/constants"
	"github.com/veritas-ed/docproc/internal/repository"
)

// Service is a tiny façade over the job repository that produces XLSX
// bytes for operational reports.
type Service struct {
	jobs   repository.JobRepository
	logger *slog.Logger
}

func NewService(jobs repository.JobRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, logger: logger}
}

// ExportJobsXLSX returns an XLSX workbook (as bytes) listing jobs in the
// given status, newest first.
func (s *Service) ExportJobsXLSX(ctx context.Context, status constants.JobStatus, limit int) ([]byte, error) {
	start := time.Now()
	if limit <= 0 {
		limit = 500
	}

	jobs, err := s.jobs.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Jobs"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		_, err := f.NewSheet(sheet)
		if err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	// Drop the default sheet so the workbook opens on Jobs.
	if sheet != "Sheet1" {
		_ = f.DeleteSheet("Sheet1")
	}

	headers := []string{
		"Job ID",
		"External Job ID",
		"File Name",
		"Status",
		"Content Length",
		"Word Count",
		"Page Count",
		"Submitted At",
		"Processed At",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
	}

	for rowIdx, job := range jobs {
		processedAt := ""
		if job.ProcessedAt != nil {
			processedAt = job.ProcessedAt.UTC().Format(time.RFC3339)
		}
		values := []any{
			job.ID.String(),
			job.ExternalJobID,
			job.FileName,
			string(job.Status),
			job.ContentLength(),
			metaNumber(job.Metadata, "word_count"),
			metaNumber(job.Metadata, "page_count"),
			job.SubmittedAt.UTC().Format(time.RFC3339),
			processedAt,
		}
		for colIdx, v := range values {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	s.logger.Info("exported job report", "status", status, "rows", len(jobs), "took", time.Since(start))
	return buf.Bytes(), nil
}

// metaNumber pulls a numeric metadata field, tolerating the float64 that
// JSON round-trips produce.
func metaNumber(meta map[string]any, key string) int {
	if meta == nil {
		return 0
	}
	switch v := meta[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
