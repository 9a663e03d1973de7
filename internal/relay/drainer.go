// File: internal/relay/drainer.go
package relay

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"

	"github.com/ecochain/eco-relayer/internal/metrics"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

// DefaultDrainMax bounds one drain run
const DefaultDrainMax = 50

// JobProcessor is what the drainer and worker need from the orchestrator
type JobProcessor interface {
	ProcessOneFromQueue(ctx context.Context) (bool, error)
}

// DrainResult summarizes one drain run
type DrainResult struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Empty     bool     `json:"empty"`
	Errors    []string `json:"errors,omitempty"`
}

// Drainer processes a bounded number of queued jobs, paced so the relay key is not flooded
type Drainer struct {
	processor JobProcessor
	limiter   ratelimit.Limiter
	metrics   *metrics.PrometheusMetrics
	logger    *logrus.Logger
}

// NewDrainer creates a drainer allowing at most jobsPerSecond jobs; zero means unpaced
func NewDrainer(processor JobProcessor, jobsPerSecond int, m *metrics.PrometheusMetrics) *Drainer {
	limiter := ratelimit.NewUnlimited()
	if jobsPerSecond > 0 {
		limiter = ratelimit.New(jobsPerSecond)
	}
	return &Drainer{
		processor: processor,
		limiter:   limiter,
		metrics:   m,
		logger:    utils.GetLogger(),
	}
}

// Drain calls ProcessOneFromQueue up to max times. A failing job is counted and draining
// continues; a queue error ends the run and is returned.
func (d *Drainer) Drain(ctx context.Context, max int, trigger string) (*DrainResult, error) {
	if max <= 0 {
		max = DefaultDrainMax
	}
	d.metrics.RecordDrainRun(trigger)

	result := &DrainResult{}
	for i := 0; i < max; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		d.limiter.Take()

		worked, err := d.processor.ProcessOneFromQueue(ctx)
		if !worked {
			if err != nil {
				d.logger.WithError(err).Warn("Queue drain stopped")
				return result, err
			}
			result.Empty = true
			break
		}

		result.Processed++
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			d.logger.WithError(err).Warn("Queued mint job failed")
		}
	}

	d.logger.WithFields(logrus.Fields{
		"trigger":   trigger,
		"processed": result.Processed,
		"failed":    result.Failed,
		"empty":     result.Empty,
	}).Info("Queue drain finished")

	return result, nil
}
