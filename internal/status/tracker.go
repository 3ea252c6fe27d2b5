package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const statusKeyPrefix = "docjob:"

// Entry is the per-job progress snapshot mirrored into Redis for
// dashboards. It is operational telemetry only; the document_jobs row
// stays the source of truth.
type Entry struct {
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker writes best-effort progress entries. A nil Tracker (or one
// built without a Redis client) is a no-op, so call sites never guard.
type Tracker struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func NewTracker(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *Tracker {
	if rdb == nil {
		return nil
	}
	return &Tracker{rdb: rdb, ttl: ttl, log: log}
}

// Update records the current stage for a job reference. Failures are
// logged and swallowed; progress mirroring never fails the handler.
func (t *Tracker) Update(ctx context.Context, jobRef, stage, message string) {
	if t == nil || t.rdb == nil {
		return
	}
	entry := Entry{Stage: stage, Message: message, UpdatedAt: time.Now().UTC()}
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := t.rdb.Set(ctx, statusKeyPrefix+jobRef, payload, t.ttl).Err(); err != nil {
		t.log.Warn("status tracker update failed", "job_ref", jobRef, "stage", stage, "err", err)
	}
}

// Get returns the last recorded entry, or nil when absent.
func (t *Tracker) Get(ctx context.Context, jobRef string) (*Entry, error) {
	if t == nil || t.rdb == nil {
		return nil, nil
	}
	data, err := t.rdb.Get(ctx, statusKeyPrefix+jobRef).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
