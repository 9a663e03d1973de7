// File: internal/chain/gateway.go
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/ecochain/eco-relayer/internal/config"
	"github.com/ecochain/eco-relayer/internal/metrics"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

// Gateway exposes the contract operations the relay needs. Every write returns only after the
// transaction is mined, and fails with CHAIN_CALL_FAILURE on revert or confirmation timeout.
type Gateway interface {
	IsMinted(ctx context.Context, orderKey common.Hash) (bool, error)
	CreateAttestation(ctx context.Context, req *AttestationRequest) (common.Hash, error)
	LookupAttestation(ctx context.Context, orderID string) (common.Hash, bool, error)
	Mint(ctx context.Context, req *MintRequest) (*types.Receipt, error)
	MarkProcessed(ctx context.Context, attestationID, txHash common.Hash) error
}

// AttestationRequest describes a verified disposal to attest on-chain
type AttestationRequest struct {
	OrderID     string
	User        common.Address
	Facility    common.Address
	WasteType   string
	Amount      *big.Int
	EvidenceCID string
}

// MintRequest describes a credit mint
type MintRequest struct {
	To        common.Address
	OrderID   string
	Amount    *big.Int
	WasteType string
}

// boundContract is the part of bind.BoundContract the gateway uses
type boundContract interface {
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
}

// EVMGateway implements Gateway over go-ethereum bound contracts
type EVMGateway struct {
	attestations boundContract
	credits      boundContract
	waitMined    func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

	auth                *bind.TransactOpts
	requestTimeout      time.Duration
	confirmationTimeout time.Duration
	gasLimit            uint64

	// one signing key: submissions are serialized so nonces are taken in order
	sendMu sync.Mutex

	metrics *metrics.PrometheusMetrics
	logger  *logrus.Logger
}

// NewEVMGateway binds both contracts on the connection's client and loads the relay key
func NewEVMGateway(conn *Connection, cfg *config.ChainConfig, m *metrics.PrometheusMetrics) (*EVMGateway, error) {
	client := conn.Client()
	if client == nil {
		return nil, utils.NewAppError(utils.ErrCodeConnection, "Chain connection is not established")
	}

	key, err := ParsePrivateKey(cfg.RelayerPrivateKey)
	if err != nil {
		return nil, err
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeConfiguration, "Failed to create transactor", err)
	}

	attestationAddress := common.HexToAddress(cfg.AttestationContract)
	creditAddress := common.HexToAddress(cfg.CreditContract)

	g := &EVMGateway{
		attestations: bind.NewBoundContract(attestationAddress, attestationABI, client, client, client),
		credits:      bind.NewBoundContract(creditAddress, ecoCreditABI, client, client, client),
		waitMined: func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
			return bind.WaitMined(ctx, client, tx)
		},
		auth:                auth,
		requestTimeout:      cfg.RequestTimeout,
		confirmationTimeout: cfg.ConfirmationTimeout,
		gasLimit:            cfg.GasLimit,
		metrics:             m,
		logger:              utils.GetLogger(),
	}

	g.logger.WithFields(logrus.Fields{
		"relayer":     auth.From.Hex(),
		"attestation": attestationAddress.Hex(),
		"credit":      creditAddress.Hex(),
	}).Info("Chain gateway ready")

	return g, nil
}

// ParsePrivateKey decodes a hex secp256k1 key, with or without 0x
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid relayer private key", "key could not be decoded")
	}
	return key, nil
}

// From returns the relay account address
func (g *EVMGateway) From() common.Address {
	return g.auth.From
}

// IsMinted reports whether the credit contract has already minted for orderKey
func (g *EVMGateway) IsMinted(ctx context.Context, orderKey common.Hash) (bool, error) {
	var out []interface{}
	if err := g.call(ctx, g.credits, &out, "isMinted", orderKey); err != nil {
		return false, err
	}
	minted, ok := out[0].(bool)
	if !ok {
		return false, utils.NewAppError(utils.ErrCodeChainCall, "Unexpected isMinted result", fmt.Sprintf("%T", out[0]))
	}
	return minted, nil
}

// LookupAttestation returns the attestation recorded for orderID, if any
func (g *EVMGateway) LookupAttestation(ctx context.Context, orderID string) (common.Hash, bool, error) {
	var out []interface{}
	if err := g.call(ctx, g.attestations, &out, "getAttestationByOrder", orderID); err != nil {
		return common.Hash{}, false, err
	}
	raw, ok := out[0].([32]byte)
	if !ok {
		return common.Hash{}, false, utils.NewAppError(utils.ErrCodeChainCall, "Unexpected getAttestationByOrder result", fmt.Sprintf("%T", out[0]))
	}
	id := common.Hash(raw)
	return id, id != (common.Hash{}), nil
}

// CreateAttestation records the verified disposal and returns its attestation id. Transaction
// return values are not observable, so the id is read back from the registry once mined.
func (g *EVMGateway) CreateAttestation(ctx context.Context, req *AttestationRequest) (common.Hash, error) {
	_, err := g.transact(ctx, g.attestations, "createAttestation",
		req.OrderID, req.User, req.Facility, req.WasteType, req.Amount, req.EvidenceCID)
	if err != nil {
		return common.Hash{}, err
	}

	id, found, err := g.LookupAttestation(ctx, req.OrderID)
	if err != nil {
		return common.Hash{}, err
	}
	if !found {
		g.logger.WithField("order_id", req.OrderID).Warn("Attestation mined but not found in registry")
	}
	return id, nil
}

// Mint mints req.Amount credits to req.To for the order
func (g *EVMGateway) Mint(ctx context.Context, req *MintRequest) (*types.Receipt, error) {
	receipt, err := g.transact(ctx, g.credits, "mint", req.To, req.OrderID, req.Amount, req.WasteType)
	if errors.Is(err, errReverted) {
		// a mined revert carries no reason; a concurrent mint that landed first is the usual cause
		if minted, mErr := g.IsMinted(ctx, OrderKeyHash(req.OrderID)); mErr == nil && minted {
			return nil, utils.WrapAppError(utils.ErrCodeChainCall, "mint rejected as duplicate",
				fmt.Errorf("%w: %v", ErrAlreadyMinted, err))
		}
	}
	if err != nil {
		return nil, err
	}
	g.metrics.RecordCreditsMinted(req.Amount.Uint64())
	return receipt, nil
}

// MarkProcessed links the attestation to the mint transaction
func (g *EVMGateway) MarkProcessed(ctx context.Context, attestationID, txHash common.Hash) error {
	_, err := g.transact(ctx, g.attestations, "markProcessed", attestationID, txHash)
	return err
}

func (g *EVMGateway) call(ctx context.Context, c boundContract, out *[]interface{}, method string, params ...interface{}) error {
	start := time.Now()
	ctx, cancel := g.withTimeout(ctx, g.requestTimeout)
	defer cancel()

	err := c.Call(&bind.CallOpts{Context: ctx}, out, method, params...)
	g.metrics.RecordChainCall(method, status(err), time.Since(start))
	if err != nil {
		return classify(method, err)
	}
	if len(*out) == 0 {
		return utils.NewAppError(utils.ErrCodeChainCall, method+" returned no data")
	}
	return nil
}

func (g *EVMGateway) transact(ctx context.Context, c boundContract, method string, params ...interface{}) (*types.Receipt, error) {
	start := time.Now()
	receipt, err := g.send(ctx, c, method, params...)
	g.metrics.RecordChainCall(method, status(err), time.Since(start))
	return receipt, err
}

func (g *EVMGateway) send(ctx context.Context, c boundContract, method string, params ...interface{}) (*types.Receipt, error) {
	tx, err := g.submit(ctx, c, method, params...)
	if err != nil {
		return nil, classify(method, err)
	}

	logger := g.logger.WithFields(logrus.Fields{"method": method, "tx_hash": tx.Hash().Hex()})
	logger.Debug("Transaction submitted")

	waitCtx, cancel := g.withTimeout(ctx, g.confirmationTimeout)
	defer cancel()

	receipt, err := g.waitMined(waitCtx, tx)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeChainCall,
			fmt.Sprintf("%s not confirmed", method), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, utils.WrapAppError(utils.ErrCodeChainCall,
			fmt.Sprintf("%s reverted", method), fmt.Errorf("%w: %s", errReverted, tx.Hash().Hex()))
	}

	logger.WithField("block", receipt.BlockNumber).Info("Transaction confirmed")
	return receipt, nil
}

func (g *EVMGateway) submit(ctx context.Context, c boundContract, method string, params ...interface{}) (*types.Transaction, error) {
	g.sendMu.Lock()
	defer g.sendMu.Unlock()

	ctx, cancel := g.withTimeout(ctx, g.requestTimeout)
	defer cancel()

	opts := *g.auth
	opts.Context = ctx
	opts.GasLimit = g.gasLimit
	return c.Transact(&opts, method, params...)
}

func (g *EVMGateway) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
