// File: internal/queue/unavailable.go
package queue

import (
	"context"
	"time"

	"github.com/ecochain/eco-relayer/internal/models"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

type unavailableQueue struct{}

// NewUnavailableQueue returns a queue whose every call fails with QUEUE_UNAVAILABLE
func NewUnavailableQueue() Queue {
	return unavailableQueue{}
}

func (unavailableQueue) Enqueue(context.Context, *models.MintJob) error {
	return utils.NewAppError(utils.ErrCodeQueueUnavailable, "No queue backend configured")
}

func (unavailableQueue) DequeueOne(context.Context, time.Duration) (*models.MintJob, error) {
	return nil, utils.NewAppError(utils.ErrCodeQueueUnavailable, "No queue backend configured")
}

func (unavailableQueue) Name() string { return "none" }

func (unavailableQueue) Close() error { return nil }
