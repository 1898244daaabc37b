package eth

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Canonical signatures of the delegated interaction entry points.
const (
	SendInteractionSignature  = "sendInteraction((uint256,bytes))"
	SendInteractionsSignature = "sendInteractions((uint256,bytes)[])"
)

var (
	SendInteractionSelector  = Selector(SendInteractionSignature)
	SendInteractionsSelector = Selector(SendInteractionsSignature)

	// enableData handed to the validator when a delegation is set
	defaultEnableData = []byte{0x00}

	// MaxUint48 bounds the kernel ValidAfter / ValidUntil values
	MaxUint48 = uint64(1)<<48 - 1

	errUnknownMethod = errors.New("unknown kernel method")
)

const kernelABIJSON = `[
  {"type":"function","name":"getExecution","stateMutability":"view",
   "inputs":[{"name":"_selector","type":"bytes4"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"validAfter","type":"uint48"},
     {"name":"validUntil","type":"uint48"},
     {"name":"executor","type":"address"},
     {"name":"validator","type":"address"}]}]},
  {"type":"function","name":"setExecution","stateMutability":"payable",
   "inputs":[
     {"name":"_selector","type":"bytes4"},
     {"name":"_executor","type":"address"},
     {"name":"_validator","type":"address"},
     {"name":"_validUntil","type":"uint48"},
     {"name":"_validAfter","type":"uint48"},
     {"name":"_enableData","type":"bytes"}],
   "outputs":[]},
  {"type":"function","name":"executeBatch","stateMutability":"payable",
   "inputs":[{"name":"calls","type":"tuple[]","components":[
     {"name":"to","type":"address"},
     {"name":"value","type":"uint256"},
     {"name":"data","type":"bytes"}]}],
   "outputs":[]}
]`

// KernelABI is the subset of the kernel v2 smart account used here.
var KernelABI = mustParseABI(kernelABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("eth: kernel ABI parsing failed: " + err.Error())
	}
	return parsed
}

// ExecutionDetail mirrors the kernel getExecution tuple.
type ExecutionDetail struct {
	ValidAfter *big.Int
	ValidUntil *big.Int
	Executor   common.Address
	Validator  common.Address
}

// Call is one entry of a kernel executeBatch.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// SetExecution is the decoded form of a setExecution call.
type SetExecution struct {
	Selector   [4]byte
	Executor   common.Address
	Validator  common.Address
	ValidUntil uint64
	ValidAfter uint64
	EnableData []byte
}

// EncodeGetExecution builds the calldata of getExecution(selector).
func EncodeGetExecution(selector [4]byte) ([]byte, error) {
	return KernelABI.Pack("getExecution", selector)
}

// DecodeGetExecution parses the return data of getExecution.
func DecodeGetExecution(output []byte) (*ExecutionDetail, error) {
	values, err := KernelABI.Unpack("getExecution", output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack execution detail: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected execution detail length %d", len(values))
	}

	detail := *abi.ConvertType(values[0], new(ExecutionDetail)).(*ExecutionDetail)
	return &detail, nil
}

// EncodeGetExecutionResult encodes an execution detail the way the kernel returns it.
func EncodeGetExecutionResult(detail ExecutionDetail) ([]byte, error) {
	return KernelABI.Methods["getExecution"].Outputs.Pack(detail)
}

// EncodeSetExecution builds one setExecution call.
func EncodeSetExecution(set SetExecution) ([]byte, error) {
	if set.ValidAfter > MaxUint48 || set.ValidUntil > MaxUint48 {
		return nil, fmt.Errorf("window bound exceeds uint48")
	}
	enableData := set.EnableData
	if enableData == nil {
		enableData = defaultEnableData
	}
	return KernelABI.Pack(
		"setExecution",
		set.Selector,
		set.Executor,
		set.Validator,
		new(big.Int).SetUint64(set.ValidUntil),
		new(big.Int).SetUint64(set.ValidAfter),
		enableData,
	)
}

// EncodeExecuteBatch wraps calls into a single executeBatch.
func EncodeExecuteBatch(calls []Call) ([]byte, error) {
	packed := make([]Call, len(calls))
	for i, call := range calls {
		if call.Value == nil {
			call.Value = new(big.Int)
		}
		packed[i] = call
	}
	return KernelABI.Pack("executeBatch", packed)
}

// DecodeExecuteBatch is the inverse of EncodeExecuteBatch.
func DecodeExecuteBatch(data []byte) ([]Call, error) {
	method, args, err := decodeCall(data)
	if err != nil {
		return nil, err
	}
	if method.Name != "executeBatch" {
		return nil, fmt.Errorf("%w: %s", errUnknownMethod, method.Name)
	}

	calls := *abi.ConvertType(args[0], new([]Call)).(*[]Call)
	return calls, nil
}

// DecodeSetExecution is the inverse of EncodeSetExecution.
func DecodeSetExecution(data []byte) (*SetExecution, error) {
	method, args, err := decodeCall(data)
	if err != nil {
		return nil, err
	}
	if method.Name != "setExecution" {
		return nil, fmt.Errorf("%w: %s", errUnknownMethod, method.Name)
	}

	return &SetExecution{
		Selector:   args[0].([4]byte),
		Executor:   args[1].(common.Address),
		Validator:  args[2].(common.Address),
		ValidUntil: args[3].(*big.Int).Uint64(),
		ValidAfter: args[4].(*big.Int).Uint64(),
		EnableData: args[5].([]byte),
	}, nil
}

// DecodeGetExecutionCall returns the selector queried by a getExecution call.
func DecodeGetExecutionCall(data []byte) ([4]byte, error) {
	method, args, err := decodeCall(data)
	if err != nil {
		return [4]byte{}, err
	}
	if method.Name != "getExecution" {
		return [4]byte{}, fmt.Errorf("%w: %s", errUnknownMethod, method.Name)
	}
	return args[0].([4]byte), nil
}

// MethodName returns the kernel method a calldata targets.
func MethodName(data []byte) (string, error) {
	if len(data) < 4 {
		return "", fmt.Errorf("calldata too short")
	}
	method, err := KernelABI.MethodById(data[:4])
	if err != nil {
		return "", fmt.Errorf("%w: %v", errUnknownMethod, err)
	}
	return method.Name, nil
}

func decodeCall(data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("calldata too short")
	}
	method, err := KernelABI.MethodById(data[:4])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errUnknownMethod, err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unpack %s: %w", method.Name, err)
	}
	return method, args, nil
}

// UnixSeconds converts a kernel uint48 timestamp into a time.
func UnixSeconds(v *big.Int) time.Time {
	if v == nil {
		return time.Unix(0, 0).UTC()
	}
	return time.Unix(v.Int64(), 0).UTC()
}
