// File: internal/timeline/recorder_test.go
package timeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecochain/eco-relayer/internal/models"
	"github.com/ecochain/eco-relayer/internal/storage/storagetest"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New(t)
	order := storagetest.SeedOrder(t, store)

	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewRecorder(store)
	r.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	require.NoError(t, r.Verified(ctx, order, "Green Depot", 2.8))
	require.NoError(t, r.Minting(ctx, order.ID, "0xatt"))
	require.NoError(t, r.Completed(ctx, order.ID, "0xtx", 2.8))

	events, err := r.List(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, models.TimelineVerified, events[0].Type)
	assert.Equal(t, "2.8kg of plastic verified by Green Depot.", events[0].Message)
	assert.Equal(t, models.TimelineMinting, events[1].Type)
	assert.Equal(t, "0xatt", events[1].Metadata["attestationId"])
	assert.Equal(t, models.TimelineCompleted, events[2].Type)
	assert.Equal(t, "0xtx", events[2].Metadata["txHash"])
	assert.Equal(t, 2.8, events[2].Metadata["credits"])
	assert.Equal(t, "2.8 ECO credits have been minted to your wallet.", events[2].Message)

	ids := map[string]bool{}
	for _, e := range events {
		assert.False(t, ids[e.ID], "event ids must be unique")
		ids[e.ID] = true
	}
}

func TestRecorderFailureMetadata(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New(t)
	order := storagetest.SeedOrder(t, store)
	r := NewRecorder(store)

	cause := utils.WrapAppError(utils.ErrCodeChainCall, "mint failed", errors.New("execution reverted"))
	require.NoError(t, r.Failed(ctx, order.ID, cause))
	require.NoError(t, r.Duplicate(ctx, order.ID, "order already minted"))

	events, err := r.List(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)

	byType := map[models.TimelineEventType]*models.TimelineEvent{}
	for _, e := range events {
		byType[e.Type] = e
	}
	failed := byType[models.TimelineCancelled]
	require.NotNil(t, failed)
	assert.Equal(t, utils.ErrCodeChainCall, failed.Metadata["code"])
	assert.Contains(t, failed.Metadata["error"], "execution reverted")
	require.NotNil(t, byType[models.TimelineDuplicate])
}

func TestMintedTxHash(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New(t)
	order := storagetest.SeedOrder(t, store)

	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewRecorder(store)
	r.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	txHash, err := r.MintedTxHash(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, txHash)

	require.NoError(t, r.Minting(ctx, order.ID, "0xatt"))
	require.NoError(t, r.Minted(ctx, order.ID, "0xfirst"))
	require.NoError(t, r.Minted(ctx, order.ID, "0xsecond"))
	require.NoError(t, r.Completed(ctx, order.ID, "0xother", 2))

	txHash, err = r.MintedTxHash(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xsecond", txHash)
}
