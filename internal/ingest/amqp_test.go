package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-ed/docproc/constants"
	"github.com/veritas-ed/docproc/internal/common"
	"github.com/veritas-ed/docproc/internal/entity"
	"github.com/veritas-ed/docproc/internal/storage"
	"github.com/veritas-ed/docproc/internal/webhook"
)

type recordingAcker struct {
	acks     int
	nacks    int
	requeues []bool
}

func (a *recordingAcker) Ack(_ uint64, _ bool) error { a.acks++; return nil }

func (a *recordingAcker) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	a.requeues = append(a.requeues, requeue)
	return nil
}

func (a *recordingAcker) Reject(_ uint64, requeue bool) error {
	a.nacks++
	a.requeues = append(a.requeues, requeue)
	return nil
}

type queueJobStore struct {
	job *entity.DocumentJob
}

func (s *queueJobStore) GetByExternalJobID(_ context.Context, ref string) (*entity.DocumentJob, error) {
	if s.job == nil || s.job.ExternalJobID != ref {
		return nil, common.NotFoundErrorf("no document job for reference %q", ref)
	}
	copied := *s.job
	return &copied, nil
}

func (s *queueJobStore) CompleteExtraction(_ context.Context, _ uuid.UUID, content string, _ map[string]any, _ int) (bool, error) {
	s.job.ExtractedContent = &content
	s.job.Status = constants.JobStatusCompleted
	return true, nil
}

func (s *queueJobStore) MarkFailed(_ context.Context, _ uuid.UUID, _ string) error { return nil }

type queueResultStore struct {
	objects map[string][]byte
	listErr error
}

func (s *queueResultStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var objects []storage.ObjectInfo
	for key, data := range s.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	return objects, nil
}

func (s *queueResultStore) Fetch(_ context.Context, key string) ([]byte, error) {
	return s.objects[key], nil
}

func (s *queueResultStore) Delete(_ context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

func queueEnvelope(t *testing.T, payload map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"data":        base64.StdEncoding.EncodeToString(raw),
			"messageId":   "m-1",
			"publishTime": "2026-01-02T03:04:05Z",
		},
		"subscription": "projects/p/subscriptions/doc-ai",
	})
	require.NoError(t, err)
	return body
}

func queueConsumer(jobs *queueJobStore, results *queueResultStore) *Consumer {
	h := webhook.NewHandler(jobs, results, nil, slog.Default(), webhook.Options{ResultPrefix: "vision-results"})
	return &Consumer{handler: h, log: slog.Default()}
}

func queueDelivery(acker *recordingAcker, body []byte) amqp.Delivery {
	return amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: body}
}

func TestHandleDeliveryAcksSuccess(t *testing.T) {
	job := &entity.DocumentJob{
		ID:            uuid.New(),
		ExternalJobID: "projects/x/operations/op-1",
		Status:        constants.JobStatusProcessing,
		SubmittedAt:   time.Now().UTC(),
	}
	results := &queueResultStore{objects: map[string][]byte{
		"vision-results/op-1/output.json": []byte(`{"text":"hello world"}`),
	}}
	c := queueConsumer(&queueJobStore{job: job}, results)
	acker := &recordingAcker{}

	c.handleDelivery(context.Background(), queueDelivery(acker, queueEnvelope(t, map[string]any{
		"name": job.ExternalJobID,
	})))

	assert.Equal(t, 1, acker.acks)
	assert.Zero(t, acker.nacks)
}

func TestHandleDeliveryAcksDuplicate(t *testing.T) {
	content := strings.Repeat("a", 150)
	job := &entity.DocumentJob{
		ID:               uuid.New(),
		ExternalJobID:    "projects/x/operations/op-2",
		Status:           constants.JobStatusCompleted,
		ExtractedContent: &content,
		SubmittedAt:      time.Now().UTC(),
	}
	c := queueConsumer(&queueJobStore{job: job}, &queueResultStore{objects: map[string][]byte{}})
	acker := &recordingAcker{}

	c.handleDelivery(context.Background(), queueDelivery(acker, queueEnvelope(t, map[string]any{
		"name": job.ExternalJobID,
	})))

	assert.Equal(t, 1, acker.acks, "a duplicate delivery settles with an ack")
	assert.Zero(t, acker.nacks)
}

func TestHandleDeliveryDiscardsMalformed(t *testing.T) {
	c := queueConsumer(&queueJobStore{}, &queueResultStore{objects: map[string][]byte{}})
	acker := &recordingAcker{}

	c.handleDelivery(context.Background(), queueDelivery(acker, []byte(`{"subscription":"s"}`)))

	assert.Zero(t, acker.acks)
	require.Equal(t, 1, acker.nacks)
	assert.False(t, acker.requeues[0], "malformed messages must not be requeued")
}

func TestHandleDeliveryRequeuesUnknownJob(t *testing.T) {
	c := queueConsumer(&queueJobStore{}, &queueResultStore{objects: map[string][]byte{}})
	acker := &recordingAcker{}

	c.handleDelivery(context.Background(), queueDelivery(acker, queueEnvelope(t, map[string]any{
		"name": "projects/x/operations/op-404",
	})))

	assert.Zero(t, acker.acks)
	require.Equal(t, 1, acker.nacks)
	assert.True(t, acker.requeues[0], "a missing record may exist on redelivery")
}

func TestHandleDeliveryRequeuesTransientFailure(t *testing.T) {
	job := &entity.DocumentJob{
		ID:            uuid.New(),
		ExternalJobID: "projects/x/operations/op-3",
		Status:        constants.JobStatusProcessing,
		SubmittedAt:   time.Now().UTC(),
	}
	results := &queueResultStore{objects: map[string][]byte{}, listErr: errors.New("store unavailable")}
	c := queueConsumer(&queueJobStore{job: job}, results)
	acker := &recordingAcker{}

	c.handleDelivery(context.Background(), queueDelivery(acker, queueEnvelope(t, map[string]any{
		"name": job.ExternalJobID,
	})))

	assert.Zero(t, acker.acks)
	require.Equal(t, 1, acker.nacks)
	assert.True(t, acker.requeues[0])
}
