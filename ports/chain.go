package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/frak-labs/framesession/core"
)

// DelegationReader reads the delegated execution record of a smart account
type DelegationReader interface {
	ReadDelegation(ctx context.Context, wallet common.Address, selector [4]byte) (*core.InteractionSessionWindow, error)
}

// TxSubmitter sends a wallet transaction. Signing happens on the caller's side.
type TxSubmitter interface {
	Submit(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
}
