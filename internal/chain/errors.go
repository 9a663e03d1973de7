// File: internal/chain/errors.go
package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ecochain/eco-relayer/pkg/utils"
)

var (
	// ErrAlreadyMinted is the credit contract rejecting a second mint for an order
	ErrAlreadyMinted = errors.New("order already minted")
	// ErrAttestationExists is the registry rejecting a second attestation for an order
	ErrAttestationExists = errors.New("attestation already exists")

	errReverted = errors.New("transaction reverted")
)

// RevertReason extracts the Solidity revert reason from err, or returns "" if there is none
func RevertReason(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if encoded, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(encoded); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason
				}
			}
		}
	}

	msg := err.Error()
	if i := strings.Index(msg, "execution reverted:"); i >= 0 {
		return strings.TrimSpace(msg[i+len("execution reverted:"):])
	}
	return ""
}

// classify maps a contract call error to the relayer's taxonomy. Duplicate mints and duplicate
// attestations keep CHAIN_CALL_FAILURE as their code but wrap a sentinel callers can test for.
func classify(method string, err error) error {
	reason := RevertReason(err)
	lower := strings.ToLower(reason + " " + err.Error())

	switch {
	case strings.Contains(lower, "already minted"):
		return utils.WrapAppError(utils.ErrCodeChainCall, method+" rejected as duplicate",
			fmt.Errorf("%w: %v", ErrAlreadyMinted, err))
	case strings.Contains(lower, "attestation exists"), strings.Contains(lower, "already attested"),
		strings.Contains(lower, "attestation already exists"):
		return utils.WrapAppError(utils.ErrCodeChainCall, method+" rejected as duplicate",
			fmt.Errorf("%w: %v", ErrAttestationExists, err))
	}

	message := method + " failed"
	if reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	return utils.WrapAppError(utils.ErrCodeChainCall, message, err)
}
