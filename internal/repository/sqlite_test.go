package repository

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-ed/docproc/constants"
	"github.com/veritas-ed/docproc/internal/common"
	"github.com/veritas-ed/docproc/internal/entity"
)

func openTestRepo(t *testing.T) JobRepository {
	t.Helper()
	repo, db, err := OpenSQLite(context.Background(), ":memory:", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return repo
}

func seedJob(t *testing.T, repo JobRepository, ref string) *entity.DocumentJob {
	t.Helper()
	job := &entity.DocumentJob{
		ID:            uuid.New(),
		ExternalJobID: ref,
		FileName:      "report.pdf",
		Status:        constants.JobStatusSubmitted,
		Metadata:      map[string]any{"source_object": "uploads/x/report.pdf"},
		SubmittedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, repo.Create(context.Background(), job))
	return job
}

func TestCreateAndGetByExternalJobID(t *testing.T) {
	repo := openTestRepo(t)
	seeded := seedJob(t, repo, "projects/x/operations/op-1")

	job, err := repo.GetByExternalJobID(context.Background(), "projects/x/operations/op-1")

	require.NoError(t, err)
	assert.Equal(t, seeded.ID, job.ID)
	assert.Equal(t, constants.JobStatusSubmitted, job.Status)
	assert.Nil(t, job.ExtractedContent)
	assert.Nil(t, job.ProcessedAt)
	assert.Equal(t, "uploads/x/report.pdf", job.Metadata["source_object"])
	assert.True(t, seeded.SubmittedAt.Equal(job.SubmittedAt))
}

func TestGetByExternalJobIDNotFound(t *testing.T) {
	repo := openTestRepo(t)

	_, err := repo.GetByExternalJobID(context.Background(), "missing-ref")

	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestCompleteExtractionAppliesOnce(t *testing.T) {
	repo := openTestRepo(t)
	job := seedJob(t, repo, "op-2")
	content := strings.Repeat("extracted text ", 20)
	meta := map[string]any{"word_count": 40, "page_count": 3}

	applied, err := repo.CompleteExtraction(context.Background(), job.ID, content, meta, 100)
	require.NoError(t, err)
	assert.True(t, applied)

	// A redelivered completion must hit the guard.
	applied, err = repo.CompleteExtraction(context.Background(), job.ID, "other content", meta, 100)
	require.NoError(t, err)
	assert.False(t, applied)

	stored, err := repo.GetByExternalJobID(context.Background(), "op-2")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, stored.Status)
	require.NotNil(t, stored.ExtractedContent)
	assert.Equal(t, content, *stored.ExtractedContent)
	require.NotNil(t, stored.ProcessedAt)
	assert.EqualValues(t, 40, metaInt(stored.Metadata, "word_count"))
	assert.EqualValues(t, 3, metaInt(stored.Metadata, "page_count"))
	assert.Equal(t, "uploads/x/report.pdf", stored.Metadata["source_object"], "existing metadata must survive the merge")
}

func TestCompleteExtractionAllowsShortContentRewrite(t *testing.T) {
	repo := openTestRepo(t)
	job := seedJob(t, repo, "op-3")

	applied, err := repo.CompleteExtraction(context.Background(), job.ID, "tiny", map[string]any{}, 100)
	require.NoError(t, err)
	assert.True(t, applied)

	// Content below the threshold does not trip the length guard, but
	// the status guard still rejects the rewrite.
	applied, err = repo.CompleteExtraction(context.Background(), job.ID, "tiny again", map[string]any{}, 100)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMarkFailed(t *testing.T) {
	repo := openTestRepo(t)
	job := seedJob(t, repo, "op-4")

	require.NoError(t, repo.MarkFailed(context.Background(), job.ID, "result file never appeared"))

	stored, err := repo.GetByExternalJobID(context.Background(), "op-4")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, stored.Status)
	assert.Equal(t, "result file never appeared", stored.Metadata["error"])
	require.NotNil(t, stored.ProcessedAt)
}

func TestMarkFailedDoesNotRevertCompleted(t *testing.T) {
	repo := openTestRepo(t)
	job := seedJob(t, repo, "op-5")
	_, err := repo.CompleteExtraction(context.Background(), job.ID, strings.Repeat("x", 200), map[string]any{}, 100)
	require.NoError(t, err)

	require.NoError(t, repo.MarkFailed(context.Background(), job.ID, "late failure"))

	stored, err := repo.GetByExternalJobID(context.Background(), "op-5")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, stored.Status, "completed is terminal")
}

func TestListByStatus(t *testing.T) {
	repo := openTestRepo(t)
	first := seedJob(t, repo, "op-6")
	second := seedJob(t, repo, "op-7")
	_, err := repo.CompleteExtraction(context.Background(), second.ID, strings.Repeat("y", 150), map[string]any{}, 100)
	require.NoError(t, err)

	submitted, err := repo.ListByStatus(context.Background(), constants.JobStatusSubmitted, 10)
	require.NoError(t, err)
	require.Len(t, submitted, 1)
	assert.Equal(t, first.ID, submitted[0].ID)

	completed, err := repo.ListByStatus(context.Background(), constants.JobStatusCompleted, 10)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, second.ID, completed[0].ID)
}

func metaInt(meta map[string]any, key string) int64 {
	switch v := meta[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return -1
	}
}
