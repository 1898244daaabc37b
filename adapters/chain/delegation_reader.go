package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/frak-labs/framesession/core"
	"github.com/frak-labs/framesession/internal/eth"
	"github.com/frak-labs/framesession/ports"
)

// DelegationReader reads kernel getExecution records through any contract caller,
// usually an *ethclient.Client.
type DelegationReader struct {
	caller ethereum.ContractCaller
}

// NewDelegationReader creates a new reader
func NewDelegationReader(caller ethereum.ContractCaller) ports.DelegationReader {
	return &DelegationReader{caller: caller}
}

// ReadDelegation returns the execution window of selector on wallet. A wallet
// without code yields nil.
func (r *DelegationReader) ReadDelegation(ctx context.Context, wallet common.Address, selector [4]byte) (*core.InteractionSessionWindow, error) {
	data, err := eth.EncodeGetExecution(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to encode getExecution: %w", err)
	}

	output, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &wallet, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrOnChainRead, err)
	}
	if len(output) == 0 {
		return nil, nil
	}

	detail, err := eth.DecodeGetExecution(output)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrOnChainRead, err)
	}

	return &core.InteractionSessionWindow{
		Executor:   detail.Executor,
		Validator:  detail.Validator,
		ValidAfter: eth.UnixSeconds(detail.ValidAfter),
		ValidUntil: eth.UnixSeconds(detail.ValidUntil),
	}, nil
}
