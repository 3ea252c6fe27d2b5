package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veritas-ed/docproc/internal/common"
	"github.com/veritas-ed/docproc/internal/entity"
	"github.com/veritas-ed/docproc/internal/status"
	"github.com/veritas-ed/docproc/internal/storage"
)

// JobStore is the slice of the job repository the handler needs.
type JobStore interface {
	GetByExternalJobID(ctx context.Context, externalJobID string) (*entity.DocumentJob, error)
	CompleteExtraction(ctx context.Context, jobID uuid.UUID, content string, meta map[string]any, minChars int) (bool, error)
	MarkFailed(ctx context.Context, jobID uuid.UUID, message string) error
}

// ResultStore is the slice of the object store the handler needs.
type ResultStore interface {
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Options tunes the completion handler.
type Options struct {
	// ResultPrefix is the bucket prefix under which the external
	// processor writes result artifacts, keyed by operation id.
	ResultPrefix string
	// DedupeMinChars: a record already holding more content than this is
	// treated as an already-processed duplicate delivery. Negative means
	// "use the default"; zero is honored as given.
	DedupeMinChars int
	// MarkFailedOnError transitions the record to FAILED on terminal
	// errors after the record was resolved. Off by default: leaving the
	// record untouched lets at-least-once redelivery retry cleanly.
	MarkFailedOnError bool
}

// Result summarizes one handled notification.
type Result struct {
	JobID         uuid.UUID `json:"record_id"`
	ExternalJobID string    `json:"external_job_id"`
	ContentLength int       `json:"content_length"`
	PageCount     int       `json:"page_count"`
	WordCount     int       `json:"word_count"`
	Duplicate     bool      `json:"duplicate"`
}

// extractionResult is the JSON artifact the external processor leaves in
// the result store.
type extractionResult struct {
	Text  string       `json:"text"`
	Pages []resultPage `json:"pages"`
}

type resultPage struct {
	PageNumber int               `json:"pageNumber"`
	Blocks     []json.RawMessage `json:"blocks"`
}

// Handler ingests job-completion notifications: it resolves the work
// record, fetches and parses the result artifact, persists the
// extraction exactly once, and cleans up the artifact best-effort.
type Handler struct {
	jobs    JobStore
	results ResultStore
	tracker *status.Tracker
	log     *slog.Logger
	opts    Options
}

func NewHandler(jobs JobStore, results ResultStore, tracker *status.Tracker, log *slog.Logger, opts Options) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if opts.ResultPrefix == "" {
		opts.ResultPrefix = "vision-results"
	}
	if opts.DedupeMinChars < 0 {
		opts.DedupeMinChars = 100
	}
	return &Handler{jobs: jobs, results: results, tracker: tracker, log: log, opts: opts}
}

// Process handles one raw push-delivery body. Errors before the record
// update leave the record in its prior state (unless MarkFailedOnError
// is set); errors after it are swallowed because the job is already
// durably complete.
func (h *Handler) Process(ctx context.Context, body []byte) (*Result, error) {
	payload, msg, err := DecodeEnvelope(body)
	if err != nil {
		h.log.Error("webhook.decode.failed", "err", err)
		return nil, err
	}

	ref := payload.JobRef()
	if ref == "" {
		h.log.Error("webhook.decode.failed", "err", "payload carries no job reference")
		return nil, common.InvalidInputError("payload carries no job reference")
	}
	h.log.Info("webhook.received", "job_ref", ref, "message_id", msg.MessageID, "publish_time", msg.PublishTime)

	job, err := h.jobs.GetByExternalJobID(ctx, ref)
	if err != nil {
		h.log.Error("webhook.resolve.failed", "job_ref", ref, "err", err)
		return nil, err
	}
	h.log.Info("webhook.resolve.ok", "job_ref", ref, "job_id", job.ID, "status", job.Status)

	// Fast-path duplicate suppression. Content-based, not delivery-id
	// based: a legitimately short result below the threshold can slip
	// through, the conditional update below is the authoritative guard.
	if job.ContentLength() > h.opts.DedupeMinChars {
		h.log.Info("webhook.duplicate", "job_id", job.ID, "content_length", job.ContentLength())
		return &Result{
			JobID:         job.ID,
			ExternalJobID: ref,
			ContentLength: job.ContentLength(),
			Duplicate:     true,
		}, nil
	}

	res, err := h.ingest(ctx, job, payload)
	if err != nil && h.opts.MarkFailedOnError {
		if markErr := h.jobs.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			h.log.Error("webhook.mark_failed.failed", "job_id", job.ID, "err", markErr)
		}
	}
	return res, err
}

func (h *Handler) ingest(ctx context.Context, job *entity.DocumentJob, payload *CompletionPayload) (*Result, error) {
	ref := payload.JobRef()
	h.tracker.Update(ctx, ref, "locating", "locating result artifact")

	prefix := h.resultPrefix(payload)
	objects, err := h.results.List(ctx, prefix)
	if err != nil {
		h.log.Error("webhook.locate.failed", "job_id", job.ID, "prefix", prefix, "err", err)
		return nil, err
	}

	resultKey := ""
	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, ".json") {
			resultKey = obj.Key
			break
		}
	}
	if resultKey == "" {
		h.log.Error("webhook.locate.failed", "job_id", job.ID, "prefix", prefix, "objects", len(objects))
		return nil, common.NotFoundErrorf("no result file under prefix %q", prefix)
	}
	h.log.Info("webhook.locate.ok", "job_id", job.ID, "result_key", resultKey)

	h.tracker.Update(ctx, ref, "fetching", "downloading result artifact")
	data, err := h.results.Fetch(ctx, resultKey)
	if err != nil {
		h.log.Error("webhook.fetch.failed", "job_id", job.ID, "result_key", resultKey, "err", err)
		return nil, err
	}

	var result extractionResult
	if err := json.Unmarshal(data, &result); err != nil {
		h.log.Error("webhook.parse.failed", "job_id", job.ID, "result_key", resultKey, "err", err)
		return nil, common.InvalidInputErrorf("result artifact is not valid JSON: %v", err)
	}

	wordCount := len(strings.Fields(result.Text))
	pageCount := len(result.Pages)
	meta := map[string]any{
		"word_count":    wordCount,
		"page_count":    pageCount,
		"completed_at":  time.Now().UTC().Format(time.RFC3339),
		"result_object": resultKey,
	}

	h.tracker.Update(ctx, ref, "persisting", "writing extracted content")
	applied, err := h.jobs.CompleteExtraction(ctx, job.ID, result.Text, meta, h.opts.DedupeMinChars)
	if err != nil {
		h.log.Error("webhook.persist.failed", "job_id", job.ID, "err", err)
		return nil, err
	}
	if !applied {
		// A concurrent delivery won the conditional update. The other
		// invocation owns cleanup; report the duplicate as success.
		h.log.Info("webhook.duplicate", "job_id", job.ID, "reason", "conditional update rejected")
		h.tracker.Update(ctx, ref, "complete", "duplicate delivery")
		return &Result{JobID: job.ID, ExternalJobID: ref, Duplicate: true}, nil
	}
	h.log.Info("webhook.persist.ok",
		"job_id", job.ID,
		"content_length", len(result.Text),
		"pages", pageCount,
		"words", wordCount,
	)

	// Best-effort cleanup. The record update above is the source of
	// truth for "done": failures here are logged and swallowed, leftover
	// artifacts are reclaimed by the store's lifecycle policy.
	for _, obj := range objects {
		if err := h.results.Delete(ctx, obj.Key); err != nil {
			h.log.Warn("webhook.cleanup.failed", "job_id", job.ID, "key", obj.Key, "err", err)
		}
	}

	h.tracker.Update(ctx, ref, "complete", "extraction persisted")
	return &Result{
		JobID:         job.ID,
		ExternalJobID: ref,
		ContentLength: len(result.Text),
		PageCount:     pageCount,
		WordCount:     wordCount,
	}, nil
}

// resultPrefix derives where to list result artifacts: a direct location
// hint wins, otherwise <ResultPrefix>/<operation id>/.
func (h *Handler) resultPrefix(payload *CompletionPayload) string {
	if hint := payload.LocationHint(); hint != "" {
		if prefix := prefixFromURI(hint); prefix != "" {
			return prefix
		}
	}
	ref := payload.JobRef()
	opID := ref
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		opID = ref[i+1:]
	}
	return path.Join(h.opts.ResultPrefix, opID) + "/"
}

// prefixFromURI turns a destination URI like gs://bucket/a/b/ into the
// in-bucket prefix a/b/. A bare path is used as-is.
func prefixFromURI(uri string) string {
	rest := uri
	if i := strings.Index(uri, "://"); i >= 0 {
		rest = uri[i+3:]
		// First segment is the bucket name.
		if j := strings.Index(rest, "/"); j >= 0 {
			rest = rest[j+1:]
		} else {
			rest = ""
		}
	}
	return strings.TrimPrefix(rest, "/")
}
