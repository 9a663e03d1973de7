// File: internal/chain/gateway_test.go
package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecochain/eco-relayer/internal/metrics"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

type sentTx struct {
	method string
	params []interface{}
}

// fakeContract answers calls from a table and records transactions
type fakeContract struct {
	results  map[string][]interface{}
	callErr  map[string]error
	sendErr  map[string]error
	sent     []sentTx
	gasLimit uint64
}

func newFakeContract() *fakeContract {
	return &fakeContract{
		results: map[string][]interface{}{},
		callErr: map[string]error{},
		sendErr: map[string]error{},
	}
}

func (f *fakeContract) Call(_ *bind.CallOpts, results *[]interface{}, method string, _ ...interface{}) error {
	if err := f.callErr[method]; err != nil {
		return err
	}
	*results = f.results[method]
	return nil
}

func (f *fakeContract) Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error) {
	if err := f.sendErr[method]; err != nil {
		return nil, err
	}
	f.gasLimit = opts.GasLimit
	f.sent = append(f.sent, sentTx{method: method, params: params})
	return types.NewTx(&types.LegacyTx{Nonce: uint64(len(f.sent)), Data: []byte(method)}), nil
}

// revertError mimics a JSON-RPC error carrying revert data
type revertError struct {
	data string
}

func (e *revertError) Error() string          { return "execution reverted" }
func (e *revertError) ErrorData() interface{} { return e.data }

func encodeRevert(t *testing.T, reason string) string {
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	require.NoError(t, err)
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return hexutil.Encode(append(selector, packed...))
}

func newTestGateway(attestations, credits *fakeContract, receiptStatus uint64) (*EVMGateway, *metrics.PrometheusMetrics) {
	m := metrics.NewPrometheusMetrics(prometheus.NewRegistry())
	return &EVMGateway{
		attestations: attestations,
		credits:      credits,
		waitMined: func(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
			return &types.Receipt{Status: receiptStatus, TxHash: tx.Hash(), BlockNumber: big.NewInt(7)}, nil
		},
		auth:     &bind.TransactOpts{From: common.HexToAddress("0x9999999999999999999999999999999999999999")},
		gasLimit: 500000,
		metrics:  m,
		logger:   utils.GetLogger(),
	}, m
}

func TestMintAmountFloorsToWholeKilograms(t *testing.T) {
	tests := []struct {
		weight float64
		want   int64
	}{
		{2.8, 2},
		{2.0, 2},
		{0.99, 0},
		{0, 0},
		{-3, 0},
		{10000.5, 10000},
	}
	for _, tt := range tests {
		assert.Equal(t, big.NewInt(tt.want), MintAmount(tt.weight), "weight %v", tt.weight)
	}
}

func TestOrderKeyHash(t *testing.T) {
	assert.Equal(t, crypto.Keccak256Hash([]byte("order-1")), OrderKeyHash("order-1"))
	assert.NotEqual(t, OrderKeyHash("order-1"), OrderKeyHash("order-2"))
}

func TestABIsExposeRelayerMethods(t *testing.T) {
	for _, name := range []string{"createAttestation", "markProcessed", "getAttestationByOrder"} {
		_, ok := attestationABI.Methods[name]
		assert.True(t, ok, name)
	}
	for _, name := range []string{"mint", "isMinted"} {
		_, ok := ecoCreditABI.Methods[name]
		assert.True(t, ok, name)
	}
	assert.Equal(t, "createAttestation(string,address,address,string,uint256,string)",
		attestationABI.Methods["createAttestation"].Sig)
}

func TestRevertReason(t *testing.T) {
	assert.Equal(t, "order already minted", RevertReason(&revertError{data: encodeRevert(t, "order already minted")}))
	assert.Equal(t, "bad", RevertReason(errors.New("execution reverted: bad")))
	assert.Equal(t, "", RevertReason(errors.New("connection refused")))
}

func TestClassify(t *testing.T) {
	dup := classify("mint", &revertError{data: encodeRevert(t, "EcoCredit: order already minted")})
	assert.ErrorIs(t, dup, ErrAlreadyMinted)
	assert.ErrorIs(t, dup, utils.ErrChainCall)

	exists := classify("createAttestation", errors.New("execution reverted: attestation exists"))
	assert.ErrorIs(t, exists, ErrAttestationExists)

	other := classify("mint", errors.New("execution reverted: exceeds max credits per order"))
	assert.ErrorIs(t, other, utils.ErrChainCall)
	assert.NotErrorIs(t, other, ErrAlreadyMinted)
	assert.Contains(t, other.Error(), "exceeds max credits per order")
}

func TestGatewayCalls(t *testing.T) {
	attestations, credits := newFakeContract(), newFakeContract()
	g, m := newTestGateway(attestations, credits, types.ReceiptStatusSuccessful)
	ctx := context.Background()

	credits.results["isMinted"] = []interface{}{true}
	minted, err := g.IsMinted(ctx, OrderKeyHash("order-1"))
	require.NoError(t, err)
	assert.True(t, minted)

	attestationID := common.HexToHash("0xaa")
	attestations.results["getAttestationByOrder"] = []interface{}{[32]byte(attestationID)}
	id, found, err := g.LookupAttestation(ctx, "order-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, attestationID, id)

	attestations.results["getAttestationByOrder"] = []interface{}{[32]byte{}}
	_, found, err = g.LookupAttestation(ctx, "order-2")
	require.NoError(t, err)
	assert.False(t, found)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChainCallsTotal.WithLabelValues("isMinted", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChainCallsTotal.WithLabelValues("getAttestationByOrder", "success")))
}

func TestGatewayTransactions(t *testing.T) {
	attestations, credits := newFakeContract(), newFakeContract()
	g, m := newTestGateway(attestations, credits, types.ReceiptStatusSuccessful)
	ctx := context.Background()

	attestationID := common.HexToHash("0xbb")
	attestations.results["getAttestationByOrder"] = []interface{}{[32]byte(attestationID)}

	user := common.HexToAddress("0x1111111111111111111111111111111111111111")
	id, err := g.CreateAttestation(ctx, &AttestationRequest{
		OrderID: "order-1", User: user, Facility: common.HexToAddress("0x22"),
		WasteType: "plastic", Amount: MintAmount(2.8), EvidenceCID: "bafy",
	})
	require.NoError(t, err)
	assert.Equal(t, attestationID, id)
	require.Len(t, attestations.sent, 1)
	assert.Equal(t, big.NewInt(2), attestations.sent[0].params[4])
	assert.Equal(t, uint64(500000), attestations.gasLimit)

	receipt, err := g.Mint(ctx, &MintRequest{To: user, OrderID: "order-1", Amount: MintAmount(2.8), WasteType: "plastic"})
	require.NoError(t, err)
	require.Len(t, credits.sent, 1)
	assert.Equal(t, "mint", credits.sent[0].method)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CreditsMintedTotal))

	require.NoError(t, g.MarkProcessed(ctx, id, receipt.TxHash))
	require.Len(t, attestations.sent, 2)
	assert.Equal(t, receipt.TxHash, attestations.sent[1].params[1])
}

func TestGatewayFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("reverted receipt", func(t *testing.T) {
		credits := newFakeContract()
		credits.results["isMinted"] = []interface{}{false}
		g, _ := newTestGateway(newFakeContract(), credits, types.ReceiptStatusFailed)
		_, err := g.Mint(ctx, &MintRequest{OrderID: "o", Amount: big.NewInt(1)})
		assert.ErrorIs(t, err, utils.ErrChainCall)
		assert.NotErrorIs(t, err, ErrAlreadyMinted)
	})

	t.Run("reverted receipt for a minted order", func(t *testing.T) {
		// both submissions passed gas estimation and the other one was mined first
		credits := newFakeContract()
		credits.results["isMinted"] = []interface{}{true}
		g, m := newTestGateway(newFakeContract(), credits, types.ReceiptStatusFailed)
		_, err := g.Mint(ctx, &MintRequest{OrderID: "o", Amount: big.NewInt(1)})
		assert.ErrorIs(t, err, ErrAlreadyMinted)
		assert.ErrorIs(t, err, utils.ErrChainCall)
		assert.Equal(t, 0.0, testutil.ToFloat64(m.CreditsMintedTotal))
	})

	t.Run("reverted receipt outside mint", func(t *testing.T) {
		credits := newFakeContract()
		credits.results["isMinted"] = []interface{}{true}
		g, _ := newTestGateway(newFakeContract(), credits, types.ReceiptStatusFailed)
		err := g.MarkProcessed(ctx, common.Hash{}, common.Hash{})
		assert.ErrorIs(t, err, utils.ErrChainCall)
		assert.NotErrorIs(t, err, ErrAlreadyMinted)
	})

	t.Run("confirmation timeout", func(t *testing.T) {
		g, _ := newTestGateway(newFakeContract(), newFakeContract(), types.ReceiptStatusSuccessful)
		g.waitMined = func(ctx context.Context, _ *types.Transaction) (*types.Receipt, error) {
			return nil, context.DeadlineExceeded
		}
		err := g.MarkProcessed(ctx, common.Hash{}, common.Hash{})
		assert.ErrorIs(t, err, utils.ErrChainCall)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("duplicate mint", func(t *testing.T) {
		credits := newFakeContract()
		credits.sendErr["mint"] = &revertError{data: encodeRevert(t, "order already minted")}
		g, m := newTestGateway(newFakeContract(), credits, types.ReceiptStatusSuccessful)
		_, err := g.Mint(ctx, &MintRequest{OrderID: "o", Amount: big.NewInt(1)})
		assert.ErrorIs(t, err, ErrAlreadyMinted)
		assert.Equal(t, 0.0, testutil.ToFloat64(m.CreditsMintedTotal))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ChainCallsTotal.WithLabelValues("mint", "error")))
	})

	t.Run("call error", func(t *testing.T) {
		credits := newFakeContract()
		credits.callErr["isMinted"] = errors.New("dial tcp: connection refused")
		g, _ := newTestGateway(newFakeContract(), credits, types.ReceiptStatusSuccessful)
		_, err := g.IsMinted(ctx, common.Hash{})
		assert.ErrorIs(t, err, utils.ErrChainCall)
	})
}

func TestParsePrivateKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	encoded := hexutil.Encode(crypto.FromECDSA(key))

	parsed, err := ParsePrivateKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(parsed.PublicKey))

	_, err = ParsePrivateKey("not-a-key")
	assert.Equal(t, utils.ErrCodeConfiguration, utils.ErrorCode(err))
}
