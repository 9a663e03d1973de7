// File: internal/timeline/recorder.go
package timeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ecochain/eco-relayer/internal/models"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

// Store is the subset of the ledger store the recorder writes to
type Store interface {
	AppendTimelineEvent(ctx context.Context, event *models.TimelineEvent) error
	GetTimeline(ctx context.Context, orderID string) ([]*models.TimelineEvent, error)
}

// Recorder appends immutable audit events to an order's timeline
type Recorder struct {
	store  Store
	logger *logrus.Logger
	now    func() time.Time
}

// NewRecorder creates a new timeline recorder
func NewRecorder(store Store) *Recorder {
	return &Recorder{
		store:  store,
		logger: utils.GetLogger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Append writes one event with a fresh id and timestamp
func (r *Recorder) Append(ctx context.Context, orderID string, eventType models.TimelineEventType, title, message string, metadata map[string]interface{}) (*models.TimelineEvent, error) {
	event := &models.TimelineEvent{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Type:      eventType,
		Title:     title,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: r.now(),
	}

	if err := r.store.AppendTimelineEvent(ctx, event); err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"type":     eventType,
	}).Debug("Timeline event recorded")

	return event, nil
}

// Verified records a successful facility verification
func (r *Recorder) Verified(ctx context.Context, order *models.Order, facilityName string, weightKg float64) error {
	_, err := r.Append(ctx, order.ID, models.TimelineVerified,
		"Waste Verified",
		fmt.Sprintf("%skg of %s verified by %s.", formatWeight(weightKg), order.WasteType, facilityName),
		nil)
	return err
}

// Minting records that the on-chain mint is in flight
func (r *Recorder) Minting(ctx context.Context, orderID string, attestationID string) error {
	var metadata map[string]interface{}
	if attestationID != "" {
		metadata = map[string]interface{}{"attestationId": attestationID}
	}
	_, err := r.Append(ctx, orderID, models.TimelineMinting,
		"Minting Credits",
		"Processing blockchain transaction to mint eco credits...",
		metadata)
	return err
}

// Minted records the confirmed mint transaction before the ledger is completed. It is what
// MintedTxHash reads back when the ledger has to be reconciled with the chain.
func (r *Recorder) Minted(ctx context.Context, orderID, txHash string) error {
	_, err := r.Append(ctx, orderID, models.TimelineMinted,
		"Mint Confirmed",
		"The mint transaction was confirmed on-chain.",
		map[string]interface{}{"txHash": txHash})
	return err
}

// MintedTxHash returns the most recently confirmed mint transaction for an order, or ""
func (r *Recorder) MintedTxHash(ctx context.Context, orderID string) (string, error) {
	events, err := r.store.GetTimeline(ctx, orderID)
	if err != nil {
		return "", err
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type != models.TimelineMinted {
			continue
		}
		if txHash, ok := events[i].Metadata["txHash"].(string); ok && txHash != "" {
			return txHash, nil
		}
	}
	return "", nil
}

// Completed records minted credits and the transaction that minted them
func (r *Recorder) Completed(ctx context.Context, orderID, txHash string, credits float64) error {
	_, err := r.Append(ctx, orderID, models.TimelineCompleted,
		"Credits Minted",
		fmt.Sprintf("%s ECO credits have been minted to your wallet.", formatWeight(credits)),
		map[string]interface{}{"txHash": txHash, "credits": credits})
	return err
}

// Failed records a processing failure; the order is cancelled alongside it
func (r *Recorder) Failed(ctx context.Context, orderID string, cause error) error {
	_, err := r.Append(ctx, orderID, models.TimelineCancelled,
		"Processing Failed",
		"Failed to mint credits. Please contact support.",
		map[string]interface{}{"error": cause.Error(), "code": utils.ErrorCode(cause)})
	return err
}

// Retried records that a cancelled order was reopened for another attempt
func (r *Recorder) Retried(ctx context.Context, orderID string) error {
	_, err := r.Append(ctx, orderID, models.TimelineRetry,
		"Retrying Mint",
		"Minting will be attempted again.",
		nil)
	return err
}

// Duplicate records a mint the contract rejected as already processed
func (r *Recorder) Duplicate(ctx context.Context, orderID, reason string) error {
	_, err := r.Append(ctx, orderID, models.TimelineDuplicate,
		"Already Minted",
		"Credits for this order were already minted on-chain.",
		map[string]interface{}{"reason": reason})
	return err
}

// List returns an order's timeline, oldest first
func (r *Recorder) List(ctx context.Context, orderID string) ([]*models.TimelineEvent, error) {
	return r.store.GetTimeline(ctx, orderID)
}

func formatWeight(w float64) string {
	return strconv.FormatFloat(w, 'f', -1, 64)
}
