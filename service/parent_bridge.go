package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/frak-labs/framesession/core"
	"github.com/frak-labs/framesession/ports"
)

// ParentBridge is the embedding page half of the frame protocol. It answers
// handshakes and keeps the wallet's backup in the page's own storage.
type ParentBridge struct {
	emitter      ports.Emitter
	store        ports.Store
	currentURL   string
	walletOrigin string
	backupKey    string
	logger       *slog.Logger

	mu        sync.Mutex
	connected bool
}

// NewParentBridge creates a bridge for the page at currentURL. Messages whose
// origin differs from walletOrigin are ignored when walletOrigin is set.
func NewParentBridge(emitter ports.Emitter, store ports.Store, currentURL, walletOrigin string, logger *slog.Logger) *ParentBridge {
	if logger == nil {
		logger = slog.Default()
	}

	backupKey := "backup"
	if derived := DeriveContext(false, currentURL); derived != nil {
		backupKey = BackupKeyFor(derived.ProductID)
	}

	return &ParentBridge{
		emitter:      emitter,
		store:        store,
		currentURL:   currentURL,
		walletOrigin: walletOrigin,
		backupKey:    backupKey,
		logger:       logger.With("component", "parent_bridge"),
	}
}

// BackupKeyFor returns the storage key of a product's backup
func BackupKeyFor(productID common.Hash) string {
	return "backup:" + productID.Hex()
}

// Handle processes one message from the wallet iframe.
func (p *ParentBridge) Handle(ctx context.Context, msg core.Message) error {
	if p.walletOrigin != "" && msg.Origin != p.walletOrigin {
		p.logger.Warn("ignoring message from unexpected origin", "origin", msg.Origin)
		return nil
	}

	switch event := msg.Event.(type) {
	case core.HandshakeEvent:
		return p.emitter.Emit(ctx, core.HandshakeResponseEvent{
			Token:      event.Token,
			CurrentURL: p.currentURL,
		})

	case core.DoBackupEvent:
		if event.Backup == "" {
			return p.removeBackup(ctx)
		}
		if err := p.store.Set(ctx, p.backupKey, []byte(event.Backup), 0); err != nil {
			return fmt.Errorf("failed to store backup: %w", err)
		}
		return nil

	case core.RemoveBackupEvent:
		return p.removeBackup(ctx)

	case core.ConnectedEvent:
		p.mu.Lock()
		p.connected = true
		p.mu.Unlock()
		return p.restore(ctx)

	case core.HandshakeResponseEvent, core.RestoreBackupEvent, core.HeartbeatEvent:
		return fmt.Errorf("%w: %T is not addressed to the page", core.ErrUnknownLifecycle, event)

	default:
		return fmt.Errorf("%w: %T", core.ErrUnknownLifecycle, event)
	}
}

// Heartbeat pings the iframe until it reports connected. It reports whether
// a heartbeat was sent.
func (p *ParentBridge) Heartbeat(ctx context.Context) (bool, error) {
	if p.Connected() {
		return false, nil
	}
	if err := p.emitter.Emit(ctx, core.HeartbeatEvent{}); err != nil {
		return false, err
	}
	return true, nil
}

// Connected reports whether the iframe signalled it is ready
func (p *ParentBridge) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *ParentBridge) restore(ctx context.Context) error {
	blob, err := p.store.Get(ctx, p.backupKey)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load backup: %w", err)
	}
	return p.emitter.Emit(ctx, core.RestoreBackupEvent{Backup: string(blob)})
}

func (p *ParentBridge) removeBackup(ctx context.Context) error {
	if err := p.store.Delete(ctx, p.backupKey); err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	return nil
}
