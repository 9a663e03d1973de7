// File: internal/relay/worker.go
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ecochain/eco-relayer/pkg/utils"
)

// WorkerStats holds worker statistics
type WorkerStats struct {
	StartTime     time.Time `json:"start_time"`
	IsRunning     bool      `json:"is_running"`
	JobsProcessed uint64    `json:"jobs_processed"`
	JobsFailed    uint64    `json:"jobs_failed"`
	LastError     string    `json:"last_error,omitempty"`
}

// Worker is the long-running consumer: it pops jobs one at a time and backs off after errors
type Worker struct {
	processor JobProcessor
	backoff   time.Duration
	idle      time.Duration
	logger    *logrus.Logger

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	stats    WorkerStats
}

// NewWorker creates a worker that waits backoff after a failed job
func NewWorker(processor JobProcessor, backoff time.Duration) *Worker {
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &Worker{
		processor: processor,
		backoff:   backoff,
		idle:      time.Second,
		logger:    utils.GetLogger(),
		stopChan:  make(chan struct{}),
	}
}

// Start starts the consume loop
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Worker already running", "")
	}

	w.running = true
	w.stats.StartTime = time.Now()
	w.stats.IsRunning = true

	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.WithField("backoff", w.backoff).Info("Relay worker started")
	return nil
}

// Stop signals the loop and waits for the in-flight job to finish
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.stats.IsRunning = false
	w.mu.Unlock()

	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()

	w.logger.Info("Relay worker stopped")
	return nil
}

// Stats returns worker statistics
func (w *Worker) Stats() WorkerStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Relay worker stopped by context")
			return
		case <-w.stopChan:
			return
		default:
		}

		worked, err := w.processor.ProcessOneFromQueue(ctx)
		w.record(worked, err)

		var wait time.Duration
		switch {
		case err != nil:
			w.logger.WithError(err).Error("Job processing error")
			wait = w.backoff
			if errors.Is(err, utils.ErrQueueUnavailable) {
				wait = 10 * w.backoff
			}
		case !worked:
			// non-blocking backends return immediately when empty
			wait = w.idle
		}

		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-w.stopChan:
				return
			case <-time.After(wait):
			}
		}
	}
}

func (w *Worker) record(worked bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if worked {
		w.stats.JobsProcessed++
	}
	if err != nil {
		if worked {
			w.stats.JobsFailed++
		}
		w.stats.LastError = err.Error()
	}
}
