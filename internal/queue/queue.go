// File: internal/queue/queue.go

// Package queue carries MintJob payloads between entry points and the relay worker.
//
// Jobs are pushed on the head of a named list and popped from its tail, so each backend is FIFO.
// Delivery is at-least-once from the producer's side: a popped job that fails is not re-queued
// by this package.
package queue

import (
	"context"
	"time"

	"github.com/ecochain/eco-relayer/internal/config"
	"github.com/ecochain/eco-relayer/internal/metrics"
	"github.com/ecochain/eco-relayer/internal/models"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

// DefaultKey is the list that holds pending mint jobs
const DefaultKey = "minting-jobs"

// Queue is the Mint Job Queue
type Queue interface {
	// Enqueue serializes job and appends it to the list
	Enqueue(ctx context.Context, job *models.MintJob) error
	// DequeueOne pops the oldest job, or returns nil when the list is empty. Backends that
	// support it block up to timeout waiting for a job.
	DequeueOne(ctx context.Context, timeout time.Duration) (*models.MintJob, error)
	// Name identifies the backend in logs and metrics
	Name() string
	Close() error
}

// New picks the backend once from configuration: the managed REST queue when its endpoint and
// token are set, then a self-hosted Redis list, otherwise a queue that fails every call.
func New(cfg config.QueueConfig) (Queue, error) {
	key := cfg.Key
	if key == "" {
		key = DefaultKey
	}

	switch cfg.QueueBackend() {
	case "rest":
		return NewRESTQueue(cfg.RESTURL, cfg.RESTToken, key, cfg.RequestTimeout), nil
	case "redis":
		q, err := NewRedisQueue(cfg.RedisURL, key)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		utils.GetLogger().Warn("No queue backend configured; deferred minting is disabled")
		return NewUnavailableQueue(), nil
	}
}

func decodePayload(payload string) (*models.MintJob, error) {
	job, err := models.DecodeMintJob(payload)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeValidation, "Malformed mint job payload", err)
	}
	return job, nil
}

func encodeJob(job *models.MintJob) (string, error) {
	if err := job.Validate(); err != nil {
		return "", utils.WrapAppError(utils.ErrCodeValidation, "Invalid mint job", err)
	}
	payload, err := job.Encode()
	if err != nil {
		return "", utils.WrapAppError(utils.ErrCodeValidation, "Failed to encode mint job", err)
	}
	return payload, nil
}

// instrumented counts queue operations per backend and outcome
type instrumented struct {
	Queue
	metrics *metrics.PrometheusMetrics
}

// WithMetrics wraps q so every enqueue and dequeue is counted
func WithMetrics(q Queue, m *metrics.PrometheusMetrics) Queue {
	if m == nil {
		return q
	}
	return &instrumented{Queue: q, metrics: m}
}

func (q *instrumented) Enqueue(ctx context.Context, job *models.MintJob) error {
	err := q.Queue.Enqueue(ctx, job)
	q.metrics.RecordQueueOperation(q.Name(), "enqueue", outcome(err))
	return err
}

func (q *instrumented) DequeueOne(ctx context.Context, timeout time.Duration) (*models.MintJob, error) {
	job, err := q.Queue.DequeueOne(ctx, timeout)
	status := outcome(err)
	if err == nil && job == nil {
		status = "empty"
	}
	q.metrics.RecordQueueOperation(q.Name(), "dequeue", status)
	return job, err
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
