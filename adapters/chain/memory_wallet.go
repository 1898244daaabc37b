package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/frak-labs/framesession/internal/eth"
)

var (
	errNotSelfCall   = errors.New("kernel calls must target the wallet itself")
	errUnknownWallet = errors.New("unknown wallet")
)

// MemoryWallet is an in-process kernel smart account registry. It answers
// getExecution calls and applies submitted setExecution transactions, which
// makes it usable as both the contract caller of a DelegationReader and a
// ports.TxSubmitter.
type MemoryWallet struct {
	mu          sync.RWMutex
	deployed    map[common.Address]bool
	executions  map[common.Address]map[[4]byte]eth.ExecutionDetail
	submissions []common.Hash
}

// NewMemoryWallet creates a registry with the given deployed wallets
func NewMemoryWallet(wallets ...common.Address) *MemoryWallet {
	w := &MemoryWallet{
		deployed:   make(map[common.Address]bool),
		executions: make(map[common.Address]map[[4]byte]eth.ExecutionDetail),
	}
	for _, wallet := range wallets {
		w.Deploy(wallet)
	}
	return w
}

// Deploy registers a wallet
func (w *MemoryWallet) Deploy(wallet common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deployed[wallet] = true
}

// CallContract implements ethereum.ContractCaller for getExecution calls.
// Undeployed wallets return empty output like an account without code.
func (w *MemoryWallet) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if call.To == nil {
		return nil, fmt.Errorf("missing call target")
	}

	selector, err := eth.DecodeGetExecutionCall(call.Data)
	if err != nil {
		return nil, err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.deployed[*call.To] {
		return nil, nil
	}

	detail, ok := w.executions[*call.To][selector]
	if !ok {
		detail = eth.ExecutionDetail{ValidAfter: new(big.Int), ValidUntil: new(big.Int)}
	}
	return eth.EncodeGetExecutionResult(detail)
}

// Submit applies a setExecution call or an executeBatch of them sent by to
func (w *MemoryWallet) Submit(_ context.Context, to common.Address, data []byte) (common.Hash, error) {
	sets, err := decodeSetExecutions(to, data)
	if err != nil {
		return common.Hash{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.deployed[to] {
		return common.Hash{}, fmt.Errorf("%w: %s", errUnknownWallet, to.Hex())
	}

	executions, ok := w.executions[to]
	if !ok {
		executions = make(map[[4]byte]eth.ExecutionDetail)
		w.executions[to] = executions
	}
	for _, set := range sets {
		executions[set.Selector] = eth.ExecutionDetail{
			ValidAfter: new(big.Int).SetUint64(set.ValidAfter),
			ValidUntil: new(big.Int).SetUint64(set.ValidUntil),
			Executor:   set.Executor,
			Validator:  set.Validator,
		}
	}

	hash := crypto.Keccak256Hash(to.Bytes(), data, big.NewInt(int64(len(w.submissions))).Bytes())
	w.submissions = append(w.submissions, hash)
	return hash, nil
}

// Submissions returns the hashes of every applied transaction
func (w *MemoryWallet) Submissions() []common.Hash {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]common.Hash(nil), w.submissions...)
}

func decodeSetExecutions(to common.Address, data []byte) ([]*eth.SetExecution, error) {
	name, err := eth.MethodName(data)
	if err != nil {
		return nil, err
	}

	switch name {
	case "setExecution":
		set, err := eth.DecodeSetExecution(data)
		if err != nil {
			return nil, err
		}
		return []*eth.SetExecution{set}, nil
	case "executeBatch":
		calls, err := eth.DecodeExecuteBatch(data)
		if err != nil {
			return nil, err
		}
		sets := make([]*eth.SetExecution, 0, len(calls))
		for _, call := range calls {
			if call.To != to {
				return nil, errNotSelfCall
			}
			set, err := eth.DecodeSetExecution(call.Data)
			if err != nil {
				return nil, err
			}
			sets = append(sets, set)
		}
		return sets, nil
	default:
		return nil, fmt.Errorf("unsupported kernel method %s", name)
	}
}
