// File: internal/relay/fake_chain_test.go
package relay

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ecochain/eco-relayer/internal/chain"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

// fakeChain is an in-memory attestation registry and credit token that enforce the same
// per-order uniqueness as the real contracts
type fakeChain struct {
	mu sync.Mutex

	minted       map[common.Hash]*big.Int
	attestations map[string]common.Hash
	processed    map[common.Hash]common.Hash

	mints         int
	attests       int
	staleIsMinted bool

	// failures injected into the next call of each method
	mintErr   error
	attestErr error
	markErr   error

	// the injected mint failure is reported after the mint landed, as a confirmation timeout would
	mintLands bool
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		minted:       map[common.Hash]*big.Int{},
		attestations: map[string]common.Hash{},
		processed:    map[common.Hash]common.Hash{},
	}
}

func (f *fakeChain) IsMinted(_ context.Context, orderKey common.Hash) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.staleIsMinted {
		return false, nil
	}
	_, ok := f.minted[orderKey]
	return ok, nil
}

func (f *fakeChain) CreateAttestation(_ context.Context, req *chain.AttestationRequest) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.attestErr; err != nil {
		f.attestErr = nil
		return common.Hash{}, err
	}
	if _, ok := f.attestations[req.OrderID]; ok {
		return common.Hash{}, utils.WrapAppError(utils.ErrCodeChainCall, "createAttestation rejected as duplicate",
			fmt.Errorf("%w: execution reverted", chain.ErrAttestationExists))
	}
	f.attests++
	id := crypto.Keccak256Hash([]byte("attestation:" + req.OrderID))
	f.attestations[req.OrderID] = id
	return id, nil
}

func (f *fakeChain) LookupAttestation(_ context.Context, orderID string) (common.Hash, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.attestations[orderID]
	return id, ok, nil
}

func (f *fakeChain) Mint(_ context.Context, req *chain.MintRequest) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := chain.OrderKeyHash(req.OrderID)
	if err := f.mintErr; err != nil {
		f.mintErr = nil
		if f.mintLands {
			f.mints++
			f.minted[key] = new(big.Int).Set(req.Amount)
		}
		return nil, err
	}
	if _, ok := f.minted[key]; ok {
		return nil, utils.WrapAppError(utils.ErrCodeChainCall, "mint rejected as duplicate",
			fmt.Errorf("%w: execution reverted", chain.ErrAlreadyMinted))
	}
	f.mints++
	f.minted[key] = new(big.Int).Set(req.Amount)
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      crypto.Keccak256Hash([]byte("mint:" + req.OrderID)),
		BlockNumber: big.NewInt(int64(f.mints)),
	}, nil
}

func (f *fakeChain) MarkProcessed(_ context.Context, attestationID, txHash common.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.markErr; err != nil {
		f.markErr = nil
		return err
	}
	f.processed[attestationID] = txHash
	return nil
}

func (f *fakeChain) mintedAmount(orderID string) *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.minted[chain.OrderKeyHash(orderID)]
}

func (f *fakeChain) mintCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mints
}

// hookedGateway runs a hook before delegating attestation and mint calls, so tests can
// interleave two attempts at chosen points
type hookedGateway struct {
	chain.Gateway
	beforeAttest func()
	beforeMint   func()
}

func (g *hookedGateway) CreateAttestation(ctx context.Context, req *chain.AttestationRequest) (common.Hash, error) {
	if g.beforeAttest != nil {
		g.beforeAttest()
	}
	return g.Gateway.CreateAttestation(ctx, req)
}

func (g *hookedGateway) Mint(ctx context.Context, req *chain.MintRequest) (*types.Receipt, error) {
	if g.beforeMint != nil {
		g.beforeMint()
	}
	return g.Gateway.Mint(ctx, req)
}
