// File: internal/relay/drainer_test.go
package relay

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecochain/eco-relayer/internal/chain"
	"github.com/ecochain/eco-relayer/internal/config"
	"github.com/ecochain/eco-relayer/internal/models"
	"github.com/ecochain/eco-relayer/internal/queue"
	"github.com/ecochain/eco-relayer/internal/storage/storagetest"
	"github.com/ecochain/eco-relayer/internal/timeline"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

func TestDrainContinuesPastFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	good := h.verifiedOrder(t, 2)
	bad := h.verifiedOrder(t, 0.4)
	later := h.verifiedOrder(t, 3)
	for _, o := range []*models.Order{good, bad, later} {
		require.NoError(t, h.orch.Enqueue(ctx, h.jobFor(t, o.ID)))
	}

	d := NewDrainer(h.orch, 0, h.metrics)
	result, err := d.Drain(ctx, 10, "manual")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 1, result.Failed)
	assert.True(t, result.Empty)
	assert.Len(t, result.Errors, 1)
	assert.Equal(t, models.StatusCompleted, h.order(t, good.ID).Status)
	assert.Equal(t, models.StatusCancelled, h.order(t, bad.ID).Status)
	assert.Equal(t, models.StatusCompleted, h.order(t, later.ID).Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.DrainRunsTotal.WithLabelValues("manual")))
}

func TestDrainSkipsMalformedPayload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.redis.Lpush(queue.DefaultKey, "{not json")
	require.NoError(t, err)
	good := h.verifiedOrder(t, 2)
	require.NoError(t, h.orch.Enqueue(ctx, h.jobFor(t, good.ID)))

	result, err := NewDrainer(h.orch, 0, nil).Drain(ctx, 10, "manual")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, models.StatusCompleted, h.order(t, good.ID).Status)
}

func TestDrainIsBounded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.orch.Enqueue(ctx, h.jobFor(t, h.verifiedOrder(t, 1).ID)))
	}

	result, err := NewDrainer(h.orch, 100, nil).Drain(ctx, 2, "manual")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.False(t, result.Empty)

	items, err := h.redis.List(queue.DefaultKey)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDrainStopsWhenQueueUnavailable(t *testing.T) {
	h := newHarness(t)
	orch := NewOrchestrator(h.chain, queue.NewUnavailableQueue(), h.ledger, timeline.NewRecorder(h.store), nil, 0)

	result, err := NewDrainer(orch, 0, nil).Drain(context.Background(), 5, "manual")
	assert.ErrorIs(t, err, utils.ErrQueueUnavailable)
	assert.Zero(t, result.Processed)
}

func TestSweeper(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stuck := h.verifiedOrder(t, 2.8)
	old := time.Now().UTC().Add(-60 * 24 * time.Hour)
	require.NoError(t, h.store.SaveClassification(ctx, &models.Classification{
		ID: "cls-old", UserID: "u", WasteType: models.WasteGlass, CreatedAt: old,
	}))

	cfg := config.RelayConfig{
		DrainMaxJobs:         50,
		StuckAfter:           24 * time.Hour,
		StuckBatchSize:       10,
		ClassificationMaxAge: 30 * 24 * time.Hour,
	}
	sweeper := NewSweeper(h.store, h.orch, NewDrainer(h.orch, 0, nil), cfg)
	// two days later the order has been VERIFIED for longer than StuckAfter
	sweeper.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	summary, err := sweeper.Run(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Success, summary.Tasks.Errors)
	assert.Equal(t, 1, summary.Tasks.StuckOrders)
	assert.Equal(t, 1, summary.Tasks.RequeuedJobs)
	assert.Equal(t, 1, summary.Tasks.ProcessedJobs)
	assert.Equal(t, int64(1), summary.Tasks.CleanedRecords)
	require.NotNil(t, summary.Tasks.Stats)
	assert.Equal(t, int64(1), summary.Tasks.Stats.OrdersByStatus[models.StatusCompleted])

	assert.Equal(t, models.StatusCompleted, h.order(t, stuck.ID).Status)
}

func TestSweeperReconcilesStaleMinting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// the mint was confirmed but the process stopped before completing the ledger
	order := storagetest.SeedOrder(t, h.store,
		storagetest.WithStatus(models.StatusMinting),
		storagetest.WithEvidence("bafy"),
		storagetest.WithWeights(nil, storagetest.Float(3)))
	receipt, err := h.chain.Mint(ctx, &chain.MintRequest{OrderID: order.ID, Amount: big.NewInt(3)})
	require.NoError(t, err)
	require.NoError(t, timeline.NewRecorder(h.store).Minted(ctx, order.ID, receipt.TxHash.Hex()))

	sweeper := NewSweeper(h.store, h.orch, NewDrainer(h.orch, 0, nil), config.RelayConfig{})
	sweeper.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	summary, err := sweeper.Run(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Success, summary.Tasks.Errors)
	assert.Equal(t, 1, summary.Tasks.StuckOrders)
	assert.Equal(t, 1, summary.Tasks.ProcessedJobs)

	got := h.order(t, order.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, receipt.TxHash.Hex(), *got.TxHash)
	assert.Equal(t, 1, h.chain.mintCount())
}

func TestSweeperCollectsErrors(t *testing.T) {
	h := newHarness(t)
	orch := NewOrchestrator(h.chain, queue.NewUnavailableQueue(), h.ledger, timeline.NewRecorder(h.store), nil, 0)
	h.verifiedOrder(t, 2)

	sweeper := NewSweeper(h.store, orch, NewDrainer(orch, 0, nil), config.RelayConfig{})
	sweeper.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	summary, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Success)
	assert.Len(t, summary.Tasks.Errors, 2, "requeue and drain both fail without a queue")
	assert.Contains(t, summary.Message, "2 errors")
}

// scriptedProcessor replays a fixed sequence of ProcessOneFromQueue results
type scriptedProcessor struct {
	mu      sync.Mutex
	results []error
	calls   int
	done    chan struct{}
}

func (p *scriptedProcessor) ProcessOneFromQueue(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.results) == 0 {
		select {
		case <-p.done:
		default:
			close(p.done)
		}
		return false, nil
	}
	err := p.results[0]
	p.results = p.results[1:]
	return true, err
}

func TestWorker(t *testing.T) {
	utils.InitLogger("error", "text", "stdout", "")
	p := &scriptedProcessor{
		results: []error{nil, utils.NewAppError(utils.ErrCodeChainCall, "boom"), nil},
		done:    make(chan struct{}),
	}
	w := NewWorker(p, 10*time.Millisecond)

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not drain the scripted jobs")
	}
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	stats := w.Stats()
	assert.False(t, stats.IsRunning)
	assert.Equal(t, uint64(3), stats.JobsProcessed)
	assert.Equal(t, uint64(1), stats.JobsFailed)
	assert.Contains(t, stats.LastError, "boom")
}

func TestNewMintJobUsesMeasuredWeight(t *testing.T) {
	h := newHarness(t)
	order := h.verifiedOrder(t, 2.8)

	job := h.jobFor(t, order.ID)
	assert.Equal(t, order.ID, job.OrderID)
	assert.Equal(t, storagetest.UserAddress, job.UserAddress)
	assert.InDelta(t, 2.8, job.WeightKg, 1e-9)
	assert.Equal(t, "plastic", job.WasteType)
}
