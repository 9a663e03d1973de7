// File: internal/ledger/ledger.go

// Package ledger guards the order lifecycle. Every status write goes through CanTransition and a
// compare-and-set on the stored status, and is paired with a timeline event.
package ledger

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ecochain/eco-relayer/internal/models"
	"github.com/ecochain/eco-relayer/internal/storage"
	"github.com/ecochain/eco-relayer/internal/timeline"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

var otpPattern = regexp.MustCompile(`^\d{6}$`)

// Ledger is the Order Ledger service
type Ledger struct {
	store    storage.Storage
	timeline *timeline.Recorder
	logger   *logrus.Logger
}

// New creates a ledger over store, recording events with recorder
func New(store storage.Storage, recorder *timeline.Recorder) *Ledger {
	return &Ledger{
		store:    store,
		timeline: recorder,
		logger:   utils.GetLogger(),
	}
}

// VerifyRequest is the facility's verification payload
type VerifyRequest struct {
	OTP         string  `json:"otp"`
	EvidenceCID string  `json:"evidenceCID"`
	WeightKg    float64 `json:"actualWeight"`
}

// Validate checks the payload shape before the order is loaded
func (r *VerifyRequest) Validate() error {
	if !otpPattern.MatchString(r.OTP) {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid OTP", "otp must be 6 digits")
	}
	if strings.TrimSpace(r.EvidenceCID) == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Evidence is required", "evidenceCID is empty")
	}
	if r.WeightKg <= 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid weight", "actualWeight must be positive")
	}
	return nil
}

// Get returns an order
func (l *Ledger) Get(ctx context.Context, orderID string) (*models.Order, error) {
	return l.store.GetOrder(ctx, orderID)
}

// Details returns an order with its user, facility and classification
func (l *Ledger) Details(ctx context.Context, orderID string) (*models.OrderDetails, error) {
	return l.store.GetOrderDetails(ctx, orderID)
}

// Verify checks the OTP against the stored hint and moves a pre-VERIFIED order to VERIFIED,
// recording the evidence and measured weight. On any failure the order is left untouched.
func (l *Ledger) Verify(ctx context.Context, orderID string, req *VerifyRequest) (*models.OrderDetails, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	details, err := l.store.GetOrderDetails(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order := details.Order

	if order.OTPHint == "" || !strings.HasSuffix(req.OTP, order.OTPHint) {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid OTP", "otp does not match")
	}
	if !order.Status.BeforeVerified() {
		return nil, utils.NewAppError(utils.ErrCodeInvalidState, "Order cannot be verified",
			fmt.Sprintf("order %s is %s", order.ID, order.Status))
	}

	previous := order.Status
	evidence := strings.TrimSpace(req.EvidenceCID)
	weight := req.WeightKg
	order.Status = models.StatusVerified
	order.EvidenceCID = &evidence
	order.ActualWeight = &weight

	if err := l.store.UpdateOrder(ctx, order, previous); err != nil {
		return nil, err
	}
	if err := l.timeline.Verified(ctx, order, details.Facility.Name, weight); err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"weight_kg": weight,
		"facility":  details.Facility.ID,
	}).Info("Order verified")

	return details, nil
}

// MarkMinting moves a VERIFIED order to MINTING and records the attestation it is minted against
func (l *Ledger) MarkMinting(ctx context.Context, orderID, attestationID string) (*models.Order, error) {
	order, err := l.transition(ctx, orderID, models.StatusMinting, nil)
	if err != nil {
		return nil, err
	}
	if err := l.timeline.Minting(ctx, orderID, attestationID); err != nil {
		return nil, err
	}
	return order, nil
}

// Complete moves a MINTING order to COMPLETED. It is the only writer of txHash and creditsMinted.
func (l *Ledger) Complete(ctx context.Context, orderID, txHash string, credits float64) (*models.Order, error) {
	if txHash == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Transaction hash is required", orderID)
	}

	order, err := l.transition(ctx, orderID, models.StatusCompleted, func(o *models.Order) {
		o.TxHash = &txHash
		o.CreditsMinted = &credits
	})
	if err != nil {
		return nil, err
	}
	if err := l.timeline.Completed(ctx, orderID, txHash, credits); err != nil {
		return nil, err
	}
	return order, nil
}

// Cancel moves a VERIFIED or MINTING order to CANCELLED and records cause on the timeline.
// An order whose status changed underneath is left alone and gets no event.
func (l *Ledger) Cancel(ctx context.Context, orderID string, cause error) (*models.Order, error) {
	order, err := l.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(order.Status, models.StatusCancelled) {
		return nil, utils.NewAppError(utils.ErrCodeInvalidState, "Order cannot be cancelled",
			fmt.Sprintf("order %s is %s", order.ID, order.Status))
	}

	previous := order.Status
	order.Status = models.StatusCancelled
	if err := l.store.UpdateOrder(ctx, order, previous); err != nil {
		return nil, err
	}
	if err := l.timeline.Failed(ctx, orderID, cause); err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"from":     previous,
		"error":    cause.Error(),
	}).Warn("Order cancelled")

	return order, nil
}

// Reopen moves a CANCELLED order back to VERIFIED for another mint attempt. Only orders that were
// verified and never completed can be reopened.
func (l *Ledger) Reopen(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := l.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.StatusCancelled {
		return nil, utils.NewAppError(utils.ErrCodeInvalidState, "Only cancelled orders can be reopened",
			fmt.Sprintf("order %s is %s", order.ID, order.Status))
	}
	if order.EvidenceCID == nil || order.TxHash != nil {
		return nil, utils.NewAppError(utils.ErrCodeInvalidState, "Order was never verified or already minted", order.ID)
	}

	order.Status = models.StatusVerified
	if err := l.store.UpdateOrder(ctx, order, models.StatusCancelled); err != nil {
		return nil, err
	}
	if err := l.timeline.Retried(ctx, orderID); err != nil {
		return nil, err
	}

	l.logger.WithField("order_id", orderID).Info("Cancelled order reopened for retry")
	return order, nil
}

// Timeline returns the order's audit trail
func (l *Ledger) Timeline(ctx context.Context, orderID string) ([]*models.TimelineEvent, error) {
	if _, err := l.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return l.timeline.List(ctx, orderID)
}

func (l *Ledger) transition(ctx context.Context, orderID string, to models.Status, mutate func(*models.Order)) (*models.Order, error) {
	order, err := l.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(order.Status, to) {
		return nil, utils.NewAppError(utils.ErrCodeInvalidState, "Invalid status transition",
			fmt.Sprintf("order %s: %s -> %s", order.ID, order.Status, to))
	}

	previous := order.Status
	order.Status = to
	if mutate != nil {
		mutate(order)
	}
	if err := l.store.UpdateOrder(ctx, order, previous); err != nil {
		return nil, err
	}
	return order, nil
}
