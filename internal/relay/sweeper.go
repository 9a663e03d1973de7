// File: internal/relay/sweeper.go
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ecochain/eco-relayer/internal/config"
	"github.com/ecochain/eco-relayer/internal/models"
	"github.com/ecochain/eco-relayer/internal/storage"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

// SweepTasks reports what each maintenance task did
type SweepTasks struct {
	StuckOrders    int                   `json:"stuckOrders"`
	RequeuedJobs   int                   `json:"requeuedJobs"`
	ProcessedJobs  int                   `json:"processedJobs"`
	FailedJobs     int                   `json:"failedJobs"`
	CleanedRecords int64                 `json:"cleanedRecords"`
	Stats          *storage.StorageStats `json:"stats,omitempty"`
	Errors         []string              `json:"errors"`
}

// SweepSummary is the result of one daily sweep
type SweepSummary struct {
	Timestamp time.Time  `json:"timestamp"`
	Success   bool       `json:"success"`
	Tasks     SweepTasks `json:"tasks"`
	Message   string     `json:"message"`
}

// Sweeper runs the daily maintenance pass: re-enqueue orders stuck in VERIFIED or MINTING, drain the queue,
// and drop old classifications that never became orders
type Sweeper struct {
	store   storage.Storage
	enqueue func(ctx context.Context, job *models.MintJob) error
	drainer *Drainer
	config  config.RelayConfig
	logger  *logrus.Logger
	now     func() time.Time
}

// NewSweeper creates a sweeper
func NewSweeper(store storage.Storage, orchestrator *Orchestrator, drainer *Drainer, cfg config.RelayConfig) *Sweeper {
	return &Sweeper{
		store:   store,
		enqueue: orchestrator.Enqueue,
		drainer: drainer,
		config:  cfg,
		logger:  utils.GetLogger(),
		now:     time.Now,
	}
}

// Run executes every task. A failing task is recorded in the summary and the rest still run;
// an error is returned only if the context ends the sweep early.
func (s *Sweeper) Run(ctx context.Context) (*SweepSummary, error) {
	s.logger.Info("Starting daily maintenance")
	tasks := SweepTasks{Errors: []string{}}

	s.requeueStuck(ctx, &tasks)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := s.drainer.Drain(ctx, s.config.DrainMaxJobs, "sweep")
	if result != nil {
		tasks.ProcessedJobs = result.Processed
		tasks.FailedJobs = result.Failed
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		tasks.Errors = append(tasks.Errors, fmt.Sprintf("Minting queue processing failed: %v", err))
	}

	maxAge := s.config.ClassificationMaxAge
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	cleaned, err := s.store.DeleteOrphanClassifications(ctx, s.now().Add(-maxAge))
	if err != nil {
		tasks.Errors = append(tasks.Errors, fmt.Sprintf("Cleanup failed: %v", err))
	}
	tasks.CleanedRecords = cleaned

	stats, err := s.store.GetStorageStats(ctx)
	if err != nil {
		tasks.Errors = append(tasks.Errors, fmt.Sprintf("Stats update failed: %v", err))
	}
	tasks.Stats = stats

	summary := &SweepSummary{
		Timestamp: s.now().UTC(),
		Success:   len(tasks.Errors) == 0,
		Tasks:     tasks,
		Message:   "Daily maintenance completed successfully",
	}
	if !summary.Success {
		summary.Message = fmt.Sprintf("Daily maintenance completed with %d errors", len(tasks.Errors))
	}

	s.logger.WithFields(logrus.Fields{
		"stuck":     tasks.StuckOrders,
		"requeued":  tasks.RequeuedJobs,
		"processed": tasks.ProcessedJobs,
		"cleaned":   tasks.CleanedRecords,
		"errors":    len(tasks.Errors),
	}).Info("Daily maintenance completed")

	return summary, nil
}

func (s *Sweeper) requeueStuck(ctx context.Context, tasks *SweepTasks) {
	stuckAfter := s.config.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = 24 * time.Hour
	}
	batch := s.config.StuckBatchSize
	if batch <= 0 {
		batch = 10
	}

	// MINTING orders are included so a mint that landed without its ledger update gets reconciled
	var orders []*models.Order
	for _, status := range []models.Status{models.StatusVerified, models.StatusMinting} {
		found, err := s.store.ListOrdersByStatus(ctx, status, s.now().Add(-stuckAfter), batch)
		if err != nil {
			tasks.Errors = append(tasks.Errors, fmt.Sprintf("Stuck %s order check failed: %v", status, err))
			continue
		}
		orders = append(orders, found...)
	}
	tasks.StuckOrders = len(orders)

	for _, order := range orders {
		details, err := s.store.GetOrderDetails(ctx, order.ID)
		if err != nil {
			tasks.Errors = append(tasks.Errors, fmt.Sprintf("Stuck order %s: %v", order.ID, err))
			continue
		}
		if err := s.enqueue(ctx, NewMintJob(details)); err != nil {
			tasks.Errors = append(tasks.Errors, fmt.Sprintf("Requeue of %s failed: %v", order.ID, err))
			continue
		}
		tasks.RequeuedJobs++
	}

	if len(orders) > 0 {
		s.logger.WithField("count", len(orders)).Warn("Found orders stuck in VERIFIED or MINTING status")
	}
}
