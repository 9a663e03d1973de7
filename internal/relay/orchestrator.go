// File: internal/relay/orchestrator.go

// Package relay turns verified orders into minted credits.
//
// The Orchestrator runs the mint algorithm for one job. The Drainer, Sweeper and Worker feed it
// jobs from the queue. Chain state is the authority on whether an order was minted: isMinted is
// checked before any write, and a contract rejecting a duplicate mint is a benign outcome.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/ecochain/eco-relayer/internal/chain"
	"github.com/ecochain/eco-relayer/internal/ledger"
	"github.com/ecochain/eco-relayer/internal/metrics"
	"github.com/ecochain/eco-relayer/internal/models"
	"github.com/ecochain/eco-relayer/internal/queue"
	"github.com/ecochain/eco-relayer/internal/timeline"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

// Job sources, used as a metrics label
const (
	SourceInline = "inline"
	SourceManual = "manual"
	SourceQueue  = "queue"
)

// Job outcomes
const (
	OutcomeCompleted     = "completed"
	OutcomeAlreadyMinted = "already_minted"
	OutcomeDuplicate     = "duplicate"
	OutcomeConcurrent    = "concurrent"
	OutcomeReconciled    = "reconciled"
	OutcomeUnrecorded    = "minted_unrecorded"
	OutcomeRejected      = "rejected"
	OutcomeFailed        = "failed"
)

// Orchestrator runs mint jobs against the chain and records the result in the ledger
type Orchestrator struct {
	gateway    chain.Gateway
	queue      queue.Queue
	ledger     *ledger.Ledger
	timeline   *timeline.Recorder
	metrics    *metrics.PrometheusMetrics
	logger     *logrus.Logger
	popTimeout time.Duration

	// enqueue the job when an inline attempt fails
	deferOnFailure bool
}

// NewOrchestrator creates an orchestrator. popTimeout bounds a blocking dequeue.
func NewOrchestrator(gateway chain.Gateway, q queue.Queue, l *ledger.Ledger, recorder *timeline.Recorder, m *metrics.PrometheusMetrics, popTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		gateway:    gateway,
		queue:      q,
		ledger:     l,
		timeline:   recorder,
		metrics:    m,
		logger:     utils.GetLogger(),
		popTimeout: popTimeout,
	}
}

// EnableDeferredRetry makes VerifyAndProcess enqueue the job when the inline mint fails
func (o *Orchestrator) EnableDeferredRetry(enabled bool) {
	o.deferOnFailure = enabled
}

// NewMintJob builds the job for an order from its ledger record
func NewMintJob(details *models.OrderDetails) *models.MintJob {
	return &models.MintJob{
		OrderID:     details.Order.ID,
		UserAddress: details.User.Address,
		WeightKg:    details.Order.MintWeight(),
		WasteType:   string(details.Order.WasteType),
	}
}

// ProcessJob mints credits for job. It is safe to call more than once for the same order.
func (o *Orchestrator) ProcessJob(ctx context.Context, job *models.MintJob) error {
	return o.process(ctx, SourceInline, job)
}

func (o *Orchestrator) process(ctx context.Context, source string, job *models.MintJob) error {
	start := time.Now()
	outcome, err := o.run(ctx, job)
	if err != nil && outcome == "" {
		outcome = OutcomeFailed
	}
	o.metrics.RecordJob(source, outcome, time.Since(start))
	return err
}

func (o *Orchestrator) run(ctx context.Context, job *models.MintJob) (string, error) {
	logger := o.logger.WithFields(logrus.Fields{
		"order_id":  job.OrderID,
		"weight_kg": job.WeightKg,
	})

	if err := job.Validate(); err != nil {
		return OutcomeRejected, utils.WrapAppError(utils.ErrCodeValidation, "Invalid mint job", err)
	}

	minted, err := o.gateway.IsMinted(ctx, chain.OrderKeyHash(job.OrderID))
	if err != nil {
		return OutcomeFailed, err
	}
	if minted {
		return o.reconcile(ctx, logger, job)
	}

	details, err := o.ledger.Details(ctx, job.OrderID)
	if err != nil {
		return OutcomeRejected, err
	}
	order := details.Order

	switch {
	case order.Status == models.StatusCompleted:
		return OutcomeRejected, utils.NewAppError(utils.ErrCodeInvalidState, "Order already completed", order.ID)
	case order.Status.BeforeVerified():
		return OutcomeRejected, utils.NewAppError(utils.ErrCodeInvalidState, "Order is not verified",
			fmt.Sprintf("order %s is %s", order.ID, order.Status))
	case order.Status == models.StatusCancelled:
		if order, err = o.ledger.Reopen(ctx, order.ID); err != nil {
			return OutcomeRejected, err
		}
		details.Order = order
	}

	logger.Info("Processing mint job")

	outcome, err := o.mint(ctx, logger, job, details)
	if err == nil {
		return outcome, nil
	}
	if errors.Is(err, utils.ErrInvalidState) {
		// another attempt moved the order first; it owns the outcome
		return o.lostRace(logger, err)
	}
	return o.fail(ctx, logger, job, err)
}

// fail cancels the order after a failed attempt, unless the chain shows it minted anyway
func (o *Orchestrator) fail(ctx context.Context, logger *logrus.Entry, job *models.MintJob, cause error) (string, error) {
	minted, err := o.gateway.IsMinted(ctx, chain.OrderKeyHash(job.OrderID))
	switch {
	case err != nil:
		logger.WithError(err).Error("Could not read mint state; order left for the daily sweep")
	case minted:
		outcome, recErr := o.reconcile(ctx, logger, job)
		if recErr == nil && outcome != OutcomeUnrecorded {
			logger.WithError(cause).Warn("Mint step failed but the order is minted; ledger reconciled")
			return outcome, nil
		}
		logger.WithError(cause).Warn("Order is minted on-chain; not cancelling it")
	default:
		if _, cancelErr := o.ledger.Cancel(ctx, job.OrderID, cause); cancelErr != nil {
			logger.WithError(cancelErr).Error("Failed to cancel order after mint failure")
		}
	}

	logger.WithError(cause).Error("Mint job failed")
	return OutcomeFailed, cause
}

func (o *Orchestrator) lostRace(logger *logrus.Entry, err error) (string, error) {
	if !errors.Is(err, utils.ErrInvalidState) {
		return OutcomeFailed, err
	}
	logger.WithError(err).Info("Order changed by a concurrent attempt, leaving it to that attempt")
	return OutcomeConcurrent, nil
}

// reconcile completes the ledger record of an order the chain already minted, using the
// transaction recorded when the mint was confirmed. Without one the ledger is left unchanged.
func (o *Orchestrator) reconcile(ctx context.Context, logger *logrus.Entry, job *models.MintJob) (string, error) {
	order, err := o.ledger.Get(ctx, job.OrderID)
	if errors.Is(err, utils.ErrNotFound) {
		logger.Info("Order already minted, skipping")
		return OutcomeAlreadyMinted, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}
	if order.Status == models.StatusCompleted || order.Status.BeforeVerified() {
		logger.Info("Order already minted, skipping")
		return OutcomeAlreadyMinted, nil
	}

	txHash, err := o.timeline.MintedTxHash(ctx, order.ID)
	if err != nil {
		return OutcomeFailed, err
	}
	if txHash == "" {
		logger.WithField("status", order.Status).Error("Order is minted on-chain but no confirmed mint transaction is recorded")
		return OutcomeUnrecorded, nil
	}

	if order.Status == models.StatusCancelled {
		if order, err = o.ledger.Reopen(ctx, order.ID); err != nil {
			return o.lostRace(logger, err)
		}
	}
	if order.Status == models.StatusVerified {
		if _, err := o.ledger.MarkMinting(ctx, order.ID, ""); err != nil {
			return o.lostRace(logger, err)
		}
	}
	if _, err := o.ledger.Complete(ctx, order.ID, txHash, job.WeightKg); err != nil {
		return o.lostRace(logger, err)
	}

	logger.WithField("tx_hash", txHash).Warn("Ledger reconciled with an order already minted on-chain")
	return OutcomeReconciled, nil
}

// mint runs the chain steps for a VERIFIED or MINTING order. Errors returned here cancel the
// order unless they are a lost status race or the chain shows the order minted.
func (o *Orchestrator) mint(ctx context.Context, logger *logrus.Entry, job *models.MintJob, details *models.OrderDetails) (string, error) {
	order := details.Order

	amount := chain.MintAmount(job.WeightKg)
	if amount.Sign() == 0 {
		return "", utils.NewAppError(utils.ErrCodeValidation, "Weight is below one whole kilogram",
			fmt.Sprintf("%vkg", job.WeightKg))
	}
	if !utils.IsValidAddress(job.UserAddress) {
		return "", utils.NewAppError(utils.ErrCodeValidation, "Invalid user address", job.UserAddress)
	}
	if !utils.IsValidAddress(details.Facility.EthAddress) {
		return "", utils.NewAppError(utils.ErrCodeValidation, "Invalid facility address", details.Facility.EthAddress)
	}

	attestationID, err := o.gateway.CreateAttestation(ctx, &chain.AttestationRequest{
		OrderID:     order.ID,
		User:        common.HexToAddress(job.UserAddress),
		Facility:    common.HexToAddress(details.Facility.EthAddress),
		WasteType:   job.WasteType,
		Amount:      amount,
		EvidenceCID: evidenceRef(details),
	})
	if errors.Is(err, chain.ErrAttestationExists) {
		logger.Info("Attestation already exists, reusing it")
		attestationID, _, err = o.gateway.LookupAttestation(ctx, order.ID)
	}
	if err != nil {
		return "", err
	}

	if order.Status == models.StatusVerified {
		if _, err := o.ledger.MarkMinting(ctx, order.ID, attestationID.Hex()); err != nil {
			return "", err
		}
	} else if err := o.timeline.Minting(ctx, order.ID, attestationID.Hex()); err != nil {
		return "", err
	}

	receipt, err := o.gateway.Mint(ctx, &chain.MintRequest{
		To:        common.HexToAddress(job.UserAddress),
		OrderID:   order.ID,
		Amount:    amount,
		WasteType: job.WasteType,
	})
	if errors.Is(err, chain.ErrAlreadyMinted) {
		logger.Warn("Mint rejected as duplicate; another attempt already minted this order")
		if recErr := o.timeline.Duplicate(ctx, order.ID, err.Error()); recErr != nil {
			logger.WithError(recErr).Error("Failed to record duplicate mint")
		}
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}
	txHash := receipt.TxHash

	// the credits exist from here on: finish the bookkeeping even if the caller goes away
	ctx = context.WithoutCancel(ctx)
	if err := o.timeline.Minted(ctx, order.ID, txHash.Hex()); err != nil {
		logger.WithError(err).Error("Failed to record confirmed mint transaction")
	}

	o.linkAttestation(ctx, logger, order.ID, txHash)

	if _, err := o.ledger.Complete(ctx, order.ID, txHash.Hex(), job.WeightKg); err != nil {
		return "", err
	}

	logger.WithFields(logrus.Fields{
		"tx_hash": txHash.Hex(),
		"credits": amount.String(),
	}).Info("Credits minted")

	return OutcomeCompleted, nil
}

// linkAttestation marks the order's attestation processed by txHash. The mint has already
// landed, so a failure here is logged and does not fail the job.
func (o *Orchestrator) linkAttestation(ctx context.Context, logger *logrus.Entry, orderID string, txHash common.Hash) {
	attestationID, found, err := o.gateway.LookupAttestation(ctx, orderID)
	if err != nil {
		logger.WithError(err).Error("Failed to look up attestation for minted order; skipping markProcessed")
		return
	}
	if !found {
		logger.Warn("No attestation found for minted order; skipping markProcessed")
		return
	}
	if err := o.gateway.MarkProcessed(ctx, attestationID, txHash); err != nil {
		logger.WithError(err).Error("Failed to mark attestation processed")
	}
}

// ProcessOneFromQueue pops one job and processes it. It reports false when the queue was empty.
// A job that fails is not re-queued.
func (o *Orchestrator) ProcessOneFromQueue(ctx context.Context) (bool, error) {
	job, err := o.queue.DequeueOne(ctx, o.popTimeout)
	if errors.Is(err, utils.ErrValidation) {
		// the payload was popped but cannot be decoded; drop it so it does not block the queue
		o.logger.WithError(err).Error("Dropping malformed mint job")
		o.metrics.RecordJob(SourceQueue, OutcomeRejected, 0)
		return true, err
	}
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	return true, o.process(ctx, SourceQueue, job)
}

// Enqueue defers job to the queue
func (o *Orchestrator) Enqueue(ctx context.Context, job *models.MintJob) error {
	if err := o.queue.Enqueue(ctx, job); err != nil {
		return err
	}
	o.logger.WithField("order_id", job.OrderID).Info("Mint job enqueued")
	return nil
}

// Retry re-runs the mint for one order on request. COMPLETED and not-yet-verified orders are
// rejected; a CANCELLED order is reopened first.
func (o *Orchestrator) Retry(ctx context.Context, orderID string) (*models.OrderDetails, error) {
	details, err := o.ledger.Details(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch status := details.Order.Status; {
	case status == models.StatusCompleted:
		return nil, utils.NewAppError(utils.ErrCodeInvalidState, "Order already completed", orderID)
	case status.BeforeVerified():
		return nil, utils.NewAppError(utils.ErrCodeInvalidState, "Order must be verified before minting",
			fmt.Sprintf("order %s is %s", orderID, status))
	}

	if err := o.process(ctx, SourceManual, NewMintJob(details)); err != nil {
		return nil, err
	}
	return o.ledger.Details(ctx, orderID)
}

// VerifyAndProcess verifies the order and mints inline. A mint failure does not fail the
// verification: it is logged, the order is left cancelled, and the job may be deferred to the queue.
func (o *Orchestrator) VerifyAndProcess(ctx context.Context, orderID string, req *ledger.VerifyRequest) (*models.OrderDetails, error) {
	details, err := o.ledger.Verify(ctx, orderID, req)
	if err != nil {
		return nil, err
	}

	job := NewMintJob(details)
	if err := o.process(ctx, SourceInline, job); err != nil {
		logger := o.logger.WithFields(logrus.Fields{"order_id": orderID, "error": err.Error()})
		logger.Warn("Inline mint failed; order can be retried")

		if o.deferOnFailure && !errors.Is(err, utils.ErrValidation) {
			if qErr := o.Enqueue(ctx, job); qErr != nil {
				logger.WithField("queue_error", qErr.Error()).Warn("Failed to defer mint job")
			}
		}
	}

	if refreshed, err := o.ledger.Details(ctx, orderID); err == nil {
		return refreshed, nil
	}
	return details, nil
}

func evidenceRef(details *models.OrderDetails) string {
	if details.Order.EvidenceCID != nil && *details.Order.EvidenceCID != "" {
		return *details.Order.EvidenceCID
	}
	if details.Classification != nil {
		return details.Classification.ImageCID
	}
	return ""
}
