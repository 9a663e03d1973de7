// File: internal/chain/contracts.go
package chain

import (
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ecochain/eco-relayer/pkg/utils"
)

// AttestationRegistryABI is the subset of the attestation registry the relayer calls
const AttestationRegistryABI = `[
	{"type":"function","name":"createAttestation","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"orderId","type":"string"},
		{"name":"user","type":"address"},
		{"name":"facility","type":"address"},
		{"name":"wasteType","type":"string"},
		{"name":"weightKg","type":"uint256"},
		{"name":"imageCID","type":"string"}],
	 "outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"markProcessed","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"attestationId","type":"bytes32"},
		{"name":"txHash","type":"bytes32"}],
	 "outputs":[]},
	{"type":"function","name":"getAttestationByOrder","stateMutability":"view",
	 "inputs":[{"name":"orderId","type":"string"}],
	 "outputs":[{"name":"","type":"bytes32"}]}
]`

// EcoCreditABI is the subset of the credit token the relayer calls
const EcoCreditABI = `[
	{"type":"function","name":"mint","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"to","type":"address"},
		{"name":"orderId","type":"string"},
		{"name":"weightKg","type":"uint256"},
		{"name":"wasteType","type":"string"}],
	 "outputs":[]},
	{"type":"function","name":"isMinted","stateMutability":"view",
	 "inputs":[{"name":"orderKeyHash","type":"bytes32"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

var (
	attestationABI = mustParseABI(AttestationRegistryABI)
	ecoCreditABI   = mustParseABI(EcoCreditABI)
)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}

// OrderKeyHash is the idempotency key the credit contract tracks minted orders by
func OrderKeyHash(orderID string) common.Hash {
	return utils.Keccak256String(orderID)
}

// MintAmount converts a weight to the contract's whole-kilogram unit. Fractions are dropped.
func MintAmount(weightKg float64) *big.Int {
	if weightKg <= 0 || math.IsNaN(weightKg) || math.IsInf(weightKg, 0) {
		return new(big.Int)
	}
	amount, _ := big.NewFloat(math.Floor(weightKg)).Int(nil)
	return amount
}
