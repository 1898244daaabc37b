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

// DefaultBackupTTL is how long the parent may hold a backup
const DefaultBackupTTL = 7 * 24 * time.Hour

// contextSource provides the current resolving context
type contextSource interface {
	Context() (*core.ResolvingContext, bool)
}

// BackupSynchronizer mirrors wallet state to the parent page and restores it.
type BackupSynchronizer struct {
	codec   ports.BackupCodec
	emitter ports.Emitter
	wallet  *WalletStore
	queue   *PendingQueue
	context contextSource
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics

	// serializes restores so a payload is applied as a whole
	mu  sync.Mutex
	now func() time.Time
}

// NewBackupSynchronizer creates a synchronizer. A zero ttl uses DefaultBackupTTL.
func NewBackupSynchronizer(
	codec ports.BackupCodec,
	emitter ports.Emitter,
	wallet *WalletStore,
	queue *PendingQueue,
	resolver contextSource,
	ttl time.Duration,
	logger *slog.Logger,
) *BackupSynchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultBackupTTL
	}
	return &BackupSynchronizer{
		codec:   codec,
		emitter: emitter,
		wallet:  wallet,
		queue:   queue,
		context: resolver,
		ttl:     ttl,
		logger:  logger.With("component", "backup"),
		metrics: newMetrics(),
		now:     time.Now,
	}
}

// Push sends the current state to the parent. productID overrides the product
// of the resolving context; without either Push does nothing. Empty state
// becomes a remove-backup tombstone.
func (b *BackupSynchronizer) Push(ctx context.Context, productID *common.Hash) error {
	target, ok := b.resolveProduct(productID)
	if !ok {
		b.logger.Debug("skipping backup", "error", core.ErrContextUnresolved)
		return nil
	}

	session, err := b.wallet.Session(ctx)
	if err != nil {
		return err
	}
	sdkSession, err := b.wallet.SdkSession(ctx)
	if err != nil {
		return err
	}
	pending, err := b.queue.Items(ctx)
	if err != nil {
		return err
	}

	payload := &core.BackupPayload{
		ProductID:           target,
		SdkSession:          sdkSession,
		PendingInteractions: pending,
		ExpireAt:            b.now().Add(b.ttl).UTC(),
	}
	if session.HasToken() {
		payload.Session = session
	}

	if payload.Empty() {
		record(b.metrics.backups, "removed", 1)
		return b.emitter.Emit(ctx, core.RemoveBackupEvent{})
	}

	blob, err := b.codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}
	if err := b.emitter.Emit(ctx, core.DoBackupEvent{Backup: blob}); err != nil {
		return fmt.Errorf("failed to emit backup: %w", err)
	}

	record(b.metrics.backups, "pushed", 1)
	return nil
}

// Restore applies a backup made for productID. Undecodable, foreign or expired
// backups are discarded and the parent is told to remove them. Applying the
// same backup twice yields the same state as applying it once.
func (b *BackupSynchronizer) Restore(ctx context.Context, backup string, productID common.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	payload, err := b.codec.Decode(backup)
	if err == nil && payload.ProductID != productID {
		err = fmt.Errorf("%w: product mismatch", core.ErrInvalidBackup)
	}
	if err == nil && !payload.ExpireAt.After(b.now()) {
		err = core.ErrBackupExpired
	}
	if err != nil {
		return b.discard(ctx, err)
	}

	prior, err := b.snapshot(ctx)
	if err != nil {
		return err
	}
	if err := b.apply(ctx, payload); err != nil {
		if rollbackErr := b.rollback(ctx, prior); rollbackErr != nil {
			b.logger.Error("failed to roll back partial restore", "error", rollbackErr)
		}
		return err
	}

	record(b.metrics.backups, "restored", 1)
	return nil
}

// walletSnapshot is the state a restore may overwrite
type walletSnapshot struct {
	session    *core.Session
	sdkSession *core.SdkSession
	pending    []core.PendingInteraction
}

func (b *BackupSynchronizer) snapshot(ctx context.Context) (*walletSnapshot, error) {
	session, err := b.wallet.Session(ctx)
	if err != nil {
		return nil, err
	}
	sdkSession, err := b.wallet.SdkSession(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := b.queue.Items(ctx)
	if err != nil {
		return nil, err
	}
	return &walletSnapshot{session: session, sdkSession: sdkSession, pending: pending}, nil
}

func (b *BackupSynchronizer) apply(ctx context.Context, payload *core.BackupPayload) error {
	if payload.Session.HasToken() {
		if err := b.wallet.SetSession(ctx, payload.Session); err != nil {
			return err
		}
	}
	if payload.SdkSession != nil {
		if err := b.wallet.SetSdkSession(ctx, payload.SdkSession); err != nil {
			return err
		}
	}
	return b.queue.Merge(ctx, payload.PendingInteractions)
}

// rollback puts every record back to its snapshot value, attempting all of them
func (b *BackupSynchronizer) rollback(ctx context.Context, prior *walletSnapshot) error {
	return errors.Join(
		b.wallet.SetSession(ctx, prior.session),
		b.wallet.SetSdkSession(ctx, prior.sdkSession),
		b.queue.replace(ctx, prior.pending),
	)
}

func (b *BackupSynchronizer) discard(ctx context.Context, cause error) error {
	outcome := "invalid"
	if errors.Is(cause, core.ErrBackupExpired) {
		outcome = "expired"
	}
	record(b.metrics.backups, outcome, 1)
	b.logger.Warn("discarding backup", "error", cause)

	if err := b.emitter.Emit(ctx, core.RemoveBackupEvent{}); err != nil {
		return fmt.Errorf("failed to emit backup removal: %w", err)
	}
	return cause
}

func (b *BackupSynchronizer) resolveProduct(productID *common.Hash) (common.Hash, bool) {
	if productID != nil {
		return *productID, true
	}
	if b.context == nil {
		return common.Hash{}, false
	}
	current, ok := b.context.Context()
	if !ok {
		return common.Hash{}, false
	}
	return current.ProductID, true
}
