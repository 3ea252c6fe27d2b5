package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/veritas-ed/docproc/constants"
)

// DocumentJob represents one asynchronous extraction job for data
// transfer between layers.
type DocumentJob struct {
	ID               uuid.UUID           `json:"id"`
	ExternalJobID    string              `json:"external_job_id"`
	FileName         string              `json:"file_name"`
	Status           constants.JobStatus `json:"status"`
	ExtractedContent *string             `json:"extracted_content,omitempty"`
	Metadata         map[string]any      `json:"metadata,omitempty"`
	SubmittedAt      time.Time           `json:"submitted_at"`
	ProcessedAt      *time.Time          `json:"processed_at,omitempty"`
}

// ContentLength returns the length of the extracted content, zero when
// nothing has been persisted yet.
func (j *DocumentJob) ContentLength() int {
	if j.ExtractedContent == nil {
		return 0
	}
	return len(*j.ExtractedContent)
}
