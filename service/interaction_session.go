package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/frak-labs/framesession/core"
	"github.com/frak-labs/framesession/internal/eth"
	"github.com/frak-labs/framesession/ports"
)

// SessionState is the lifecycle state of a wallet's interaction session
type SessionState string

const (
	SessionAbsent        SessionState = "absent"
	SessionPendingEnable SessionState = "pending-enable"
	SessionActive        SessionState = "active"
	SessionExpired       SessionState = "expired"
	SessionPendingRevoke SessionState = "pending-revoke"
	SessionRevoked       SessionState = "revoked"
)

var errNoSubmitter = errors.New("no transaction submitter configured")

type cachedWindow struct {
	window *core.InteractionSessionWindow
	readAt time.Time
}

type pendingTx struct {
	enable bool
	hash   common.Hash
}

// InteractionSessions tracks the on-chain delegation that lets the platform
// executor submit interactions for a wallet. The chain is the only source of
// truth: windows are re-read once older than the status TTL.
type InteractionSessions struct {
	reader    ports.DelegationReader
	submitter ports.TxSubmitter
	executor  common.Address
	validator common.Address
	statusTTL time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	cache   map[common.Address]cachedWindow
	pending map[common.Address]pendingTx

	now func() time.Time
}

// NewInteractionSessions creates a tracker for the given delegation addresses.
// submitter may be nil for read-only use.
func NewInteractionSessions(
	reader ports.DelegationReader,
	submitter ports.TxSubmitter,
	executor, validator common.Address,
	statusTTL time.Duration,
	logger *slog.Logger,
) *InteractionSessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &InteractionSessions{
		reader:    reader,
		submitter: submitter,
		executor:  executor,
		validator: validator,
		statusTTL: statusTTL,
		logger:    logger.With("component", "interaction_session"),
		cache:     make(map[common.Address]cachedWindow),
		pending:   make(map[common.Address]pendingTx),
		now:       time.Now,
	}
}

// Status returns the active session of wallet, or nil. Read failures are
// treated as no session.
func (s *InteractionSessions) Status(ctx context.Context, wallet common.Address) *core.InteractionSession {
	window, err := s.window(ctx, wallet)
	if err != nil {
		s.logger.Warn("delegation read failed", "wallet", wallet.Hex(), "error", err)
		return nil
	}
	if !window.ActiveAt(s.now(), s.executor, s.validator) {
		return nil
	}
	return &core.InteractionSession{Start: window.ValidAfter, End: window.ValidUntil}
}

// State derives the lifecycle state from the chain and local pending transactions.
func (s *InteractionSessions) State(ctx context.Context, wallet common.Address) SessionState {
	window, err := s.window(ctx, wallet)
	if err != nil {
		s.logger.Warn("delegation read failed", "wallet", wallet.Hex(), "error", err)
		window = nil
	}
	now := s.now()

	onChain := SessionAbsent
	switch {
	case window.ActiveAt(now, s.executor, s.validator):
		onChain = SessionActive
	case s.expired(window, now):
		onChain = SessionExpired
	case s.revoked(window):
		onChain = SessionRevoked
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.pending[wallet]
	if !ok {
		return onChain
	}
	if tx.enable {
		if onChain == SessionActive {
			delete(s.pending, wallet)
			return SessionActive
		}
		return SessionPendingEnable
	}
	if onChain == SessionActive {
		return SessionPendingRevoke
	}
	delete(s.pending, wallet)
	return onChain
}

// BuildEnableCalldata grants the delegation on both interaction selectors over
// [now, end]. The calldata is an executeBatch the wallet sends to itself.
func (s *InteractionSessions) BuildEnableCalldata(wallet common.Address, end time.Time) ([]byte, error) {
	start := s.now().Unix()
	if end.Unix() <= start {
		return nil, fmt.Errorf("%w: session end %s is not after now", core.ErrInvalidWindow, end.UTC().Format(time.RFC3339))
	}
	if start < 0 || uint64(end.Unix()) > eth.MaxUint48 {
		return nil, fmt.Errorf("%w: bounds out of range", core.ErrInvalidWindow)
	}
	return s.buildBatch(wallet, s.executor, uint64(start), uint64(end.Unix()))
}

// BuildDisableCalldata zeroes the executor and the window while keeping the
// validator, revoking delegated execution whatever the current bounds are.
func (s *InteractionSessions) BuildDisableCalldata(wallet common.Address) ([]byte, error) {
	return s.buildBatch(wallet, common.Address{}, 0, 0)
}

// Open submits the enable calldata and marks the session as pending until the
// chain reports it active.
func (s *InteractionSessions) Open(ctx context.Context, wallet common.Address, end time.Time) (common.Hash, error) {
	data, err := s.BuildEnableCalldata(wallet, end)
	if err != nil {
		return common.Hash{}, err
	}
	return s.submit(ctx, wallet, data, true)
}

// Close submits the disable calldata and marks the session as pending revoke.
func (s *InteractionSessions) Close(ctx context.Context, wallet common.Address) (common.Hash, error) {
	data, err := s.BuildDisableCalldata(wallet)
	if err != nil {
		return common.Hash{}, err
	}
	return s.submit(ctx, wallet, data, false)
}

// Invalidate forgets the cached window of wallet.
func (s *InteractionSessions) Invalidate(wallet common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, wallet)
}

func (s *InteractionSessions) submit(ctx context.Context, wallet common.Address, data []byte, enable bool) (common.Hash, error) {
	if s.submitter == nil {
		return common.Hash{}, errNoSubmitter
	}

	hash, err := s.submitter.Submit(ctx, wallet, data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to submit session transaction: %w", err)
	}

	s.mu.Lock()
	s.pending[wallet] = pendingTx{enable: enable, hash: hash}
	delete(s.cache, wallet)
	s.mu.Unlock()

	s.logger.Info("session transaction submitted", "wallet", wallet.Hex(), "enable", enable, "tx", hash.Hex())
	return hash, nil
}

func (s *InteractionSessions) buildBatch(wallet, executor common.Address, validAfter, validUntil uint64) ([]byte, error) {
	calls := make([]eth.Call, 0, 2)
	for _, selector := range [][4]byte{eth.SendInteractionSelector, eth.SendInteractionsSelector} {
		data, err := eth.EncodeSetExecution(eth.SetExecution{
			Selector:   selector,
			Executor:   executor,
			Validator:  s.validator,
			ValidUntil: validUntil,
			ValidAfter: validAfter,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidWindow, err)
		}
		calls = append(calls, eth.Call{To: wallet, Data: data})
	}

	batch, err := eth.EncodeExecuteBatch(calls)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	return batch, nil
}

func (s *InteractionSessions) window(ctx context.Context, wallet common.Address) (*core.InteractionSessionWindow, error) {
	now := s.now()

	s.mu.Lock()
	cached, ok := s.cache[wallet]
	s.mu.Unlock()
	if ok && now.Sub(cached.readAt) < s.statusTTL {
		return cached.window, nil
	}

	window, err := s.reader.ReadDelegation(ctx, wallet, eth.SendInteractionSelector)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[wallet] = cachedWindow{window: window, readAt: now}
	s.mu.Unlock()
	return window, nil
}

func (s *InteractionSessions) expired(window *core.InteractionSessionWindow, now time.Time) bool {
	return window != nil &&
		window.Executor == s.executor &&
		window.Validator == s.validator &&
		now.After(window.ValidUntil)
}

// revoked matches the record left by BuildDisableCalldata
func (s *InteractionSessions) revoked(window *core.InteractionSessionWindow) bool {
	return window != nil &&
		window.Executor == (common.Address{}) &&
		window.Validator == s.validator &&
		window.Validator != (common.Address{}) &&
		window.ValidUntil.Unix() == 0
}
