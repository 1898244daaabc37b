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
	"github.com/frak-labs/framesession/ports"
)

// RuntimeConfig tunes the components owned by a Runtime
type RuntimeConfig struct {
	// Namespace prefixes every key of the wallet's local store
	Namespace string
	// Referrer of the iframe document, used for the automatic context
	Referrer string

	Executor  common.Address
	Validator common.Address

	HandshakeTTL         time.Duration
	MaxPendingHandshakes int
	PendingQueueCap      int
	ValidateTimeout      time.Duration
	SessionStatusTTL     time.Duration
	BackupTTL            time.Duration
}

// RuntimeDeps are the external collaborators of the wallet runtime
type RuntimeDeps struct {
	Store        ports.Store
	Emitter      ports.Emitter
	Codec        ports.BackupCodec
	Tokens       ports.TokenService
	Interactions ports.InteractionSubmitter
	Delegations  ports.DelegationReader
	Transactions ports.TxSubmitter
}

// Runtime is the wallet iframe process. It owns one instance of every
// component and is the only handle passed to code needing the frame channel.
type Runtime struct {
	Handshake *HandshakeResolver
	Wallet    *WalletStore
	Queue     *PendingQueue
	Backup    *BackupSynchronizer
	Sessions  *InteractionSessions
	Tokens    *TokenResolver

	emitter      ports.Emitter
	interactions ports.InteractionSubmitter
	referrer     string
	logger       *slog.Logger

	// one drain at a time
	drainMu sync.Mutex
	now     func() time.Time
}

// NewRuntime wires the components together.
func NewRuntime(cfg RuntimeConfig, deps RuntimeDeps, logger *slog.Logger) (*Runtime, error) {
	if deps.Store == nil || deps.Emitter == nil || deps.Codec == nil || deps.Tokens == nil {
		return nil, errors.New("runtime requires a store, an emitter, a codec and a token service")
	}
	if logger == nil {
		logger = slog.Default()
	}

	wallet := NewWalletStore(deps.Store, cfg.Namespace)
	handshake := NewHandshakeResolver(deps.Emitter, cfg.HandshakeTTL, cfg.MaxPendingHandshakes, logger)
	queue := NewPendingQueue(wallet, cfg.PendingQueueCap, logger)

	r := &Runtime{
		Handshake:    handshake,
		Wallet:       wallet,
		Queue:        queue,
		Backup:       NewBackupSynchronizer(deps.Codec, deps.Emitter, wallet, queue, handshake, cfg.BackupTTL, logger),
		Tokens:       NewTokenResolver(wallet, deps.Tokens, cfg.ValidateTimeout, logger),
		emitter:      deps.Emitter,
		interactions: deps.Interactions,
		referrer:     cfg.Referrer,
		logger:       logger.With("component", "runtime"),
		now:          time.Now,
	}
	if deps.Delegations != nil {
		r.Sessions = NewInteractionSessions(deps.Delegations, deps.Transactions, cfg.Executor, cfg.Validator, cfg.SessionStatusTTL, logger)
	}

	return r, nil
}

// Start seeds the automatic context from the referrer and opens the handshake.
func (r *Runtime) Start(ctx context.Context) error {
	if r.referrer != "" {
		r.Handshake.SetAutoContext(r.referrer)
	}
	if _, err := r.Handshake.Start(ctx); err != nil && !errors.Is(err, core.ErrHandshakeSaturated) {
		return err
	}
	return nil
}

// Run handles messages until ctx is done or msgs is closed.
func (r *Runtime) Run(ctx context.Context, msgs <-chan core.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := r.Handle(ctx, msg); err != nil {
				r.logger.Warn("failed to handle lifecycle message", "origin", msg.Origin, "error", err)
			}
		}
	}
}

// Handle dispatches a message from the embedding page. Protocol anomalies are
// logged and swallowed; only unexpected event kinds and I/O failures return errors.
func (r *Runtime) Handle(ctx context.Context, msg core.Message) error {
	switch event := msg.Event.(type) {
	case core.HandshakeResponseEvent:
		if !r.Handshake.OnHandshakeResponse(msg) {
			return nil
		}
		if _, ok := r.Handshake.Context(); !ok {
			return nil
		}
		return r.emitter.Emit(ctx, core.ConnectedEvent{})

	case core.RestoreBackupEvent:
		current, ok := r.Handshake.Context()
		if !ok {
			r.logger.Debug("ignoring backup before context", "error", core.ErrContextUnresolved)
			return nil
		}
		err := r.Backup.Restore(ctx, event.Backup, current.ProductID)
		if errors.Is(err, core.ErrInvalidBackup) || errors.Is(err, core.ErrBackupExpired) {
			return nil
		}
		if err != nil {
			return err
		}
		// the parent still holds the replayed interactions until it gets a new backup
		if r.drain(ctx) > 0 {
			return r.pushBackup(ctx)
		}
		return nil

	case core.HeartbeatEvent:
		if r.Handshake.EnsureContext(ctx) {
			return r.emitter.Emit(ctx, core.ConnectedEvent{})
		}
		return nil

	case core.HandshakeEvent, core.DoBackupEvent, core.RemoveBackupEvent, core.ConnectedEvent:
		return fmt.Errorf("%w: %T is not addressed to the wallet", core.ErrUnknownLifecycle, event)

	default:
		return fmt.Errorf("%w: %T", core.ErrUnknownLifecycle, event)
	}
}

// PushInteraction submits an interaction for the current product, or queues it
// when no scoped token can be resolved. It returns the delegation ids of a
// submission and nil ids when the interaction was queued.
func (r *Runtime) PushInteraction(ctx context.Context, interaction, signature []byte) ([]string, error) {
	current, err := r.Handshake.RequireContext()
	if err != nil {
		return nil, err
	}

	pending := core.PendingInteraction{
		ProductID:   current.ProductID,
		Interaction: interaction,
		Signature:   signature,
		Timestamp:   r.now().UTC(),
	}

	sdk, err := r.Tokens.Resolve(ctx)
	if errors.Is(err, core.ErrNoSession) || (err == nil && r.interactions == nil) {
		if err := r.Queue.Enqueue(ctx, pending); err != nil {
			return nil, err
		}
		return nil, r.pushBackup(ctx)
	}
	if err != nil {
		return nil, err
	}

	ids, err := r.interactions.Submit(ctx, sdk.Token, []core.PendingInteraction{pending})
	if err != nil {
		return nil, fmt.Errorf("failed to submit interaction: %w", err)
	}
	return ids, nil
}

// Authenticate stores a freshly acquired session and its signature proof,
// replays the pending queue once and mirrors the new state to the parent.
func (r *Runtime) Authenticate(ctx context.Context, session *core.Session, proof *core.SignatureProof) error {
	if !session.HasToken() {
		return core.ErrNoSession
	}
	if err := r.Wallet.SetSession(ctx, session); err != nil {
		return err
	}
	if proof != nil {
		if err := r.Wallet.SetSignatureProof(ctx, proof); err != nil {
			return err
		}
	}
	r.Tokens.Invalidate()

	r.drain(ctx)
	return r.pushBackup(ctx)
}

// Logout destroys the local session. Pending interactions are kept.
func (r *Runtime) Logout(ctx context.Context) error {
	if err := r.Wallet.Logout(ctx); err != nil {
		return err
	}
	r.Tokens.Invalidate()
	return r.pushBackup(ctx)
}

// SessionStatus returns the interaction session of the logged in wallet.
func (r *Runtime) SessionStatus(ctx context.Context) (*core.InteractionSession, error) {
	if r.Sessions == nil {
		return nil, nil
	}
	session, err := r.Wallet.Session(ctx)
	if err != nil {
		return nil, err
	}
	if !session.HasToken() {
		return nil, core.ErrNoSession
	}
	return r.Sessions.Status(ctx, session.Wallet), nil
}

// WalletReferrer returns the wallet that referred the user to the current
// product. A referral by the logged in wallet itself is ignored.
func (r *Runtime) WalletReferrer(ctx context.Context) (common.Address, bool, error) {
	current, ok := r.Handshake.Context()
	if !ok || current.WalletReferrer == nil {
		return common.Address{}, false, nil
	}
	session, err := r.Wallet.Session(ctx)
	if err != nil {
		return common.Address{}, false, err
	}
	if session.HasToken() && session.Wallet == *current.WalletReferrer {
		return common.Address{}, false, nil
	}
	return *current.WalletReferrer, true, nil
}

// drain replays queued interactions with a scoped token and returns how many
// were submitted. Without a token the queue is left untouched. Interactions
// that cannot be submitted return to the queue.
func (r *Runtime) drain(ctx context.Context) int {
	if r.interactions == nil {
		return 0
	}

	r.drainMu.Lock()
	defer r.drainMu.Unlock()

	queued, err := r.Queue.Items(ctx)
	if err != nil {
		r.logger.Error("failed to load pending interactions", "error", err)
		return 0
	}
	if len(queued) == 0 {
		return 0
	}

	sdk, err := r.Tokens.Resolve(ctx)
	if errors.Is(err, core.ErrNoSession) {
		r.logger.Debug("keeping pending interactions until a session exists", "count", len(queued))
		return 0
	}
	if err != nil {
		r.logger.Error("failed to resolve a token for pending interactions", "error", err)
		return 0
	}

	items, err := r.Queue.Drain(ctx)
	if err != nil {
		r.logger.Error("failed to drain pending interactions", "error", err)
		return 0
	}
	if len(items) == 0 {
		return 0
	}

	var failed []core.PendingInteraction
	if _, err := r.interactions.Submit(ctx, sdk.Token, items); err != nil {
		r.logger.Error("failed to replay pending interactions", "count", len(items), "error", err)
		failed = items
	}

	if err := r.Queue.Settle(ctx, failed); err != nil {
		r.logger.Error("failed to settle pending interactions", "error", err)
	}
	return len(items) - len(failed)
}

func (r *Runtime) pushBackup(ctx context.Context) error {
	if err := r.Backup.Push(ctx, nil); err != nil {
		return fmt.Errorf("failed to push backup: %w", err)
	}
	return nil
}
