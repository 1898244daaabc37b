package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/frak-labs/framesession/core"
	"github.com/frak-labs/framesession/ports"
)

const (
	keySession             = "session"
	keySdkSession          = "sdk-session"
	keySignatureProof      = "signature-proof"
	keyPendingInteractions = "pending-interactions"
)

// WalletStore persists the wallet's local state as JSON records in a
// namespaced ports.Store.
type WalletStore struct {
	store     ports.Store
	namespace string
}

// NewWalletStore creates a store whose keys are prefixed with namespace,
// usually the wallet origin.
func NewWalletStore(store ports.Store, namespace string) *WalletStore {
	return &WalletStore{store: store, namespace: namespace}
}

// Namespace returns the key prefix of the store
func (w *WalletStore) Namespace() string {
	return w.namespace
}

func (w *WalletStore) Session(ctx context.Context) (*core.Session, error) {
	return getRecord[core.Session](ctx, w, keySession)
}

func (w *WalletStore) SetSession(ctx context.Context, session *core.Session) error {
	return w.putRecord(ctx, keySession, session)
}

func (w *WalletStore) SdkSession(ctx context.Context) (*core.SdkSession, error) {
	return getRecord[core.SdkSession](ctx, w, keySdkSession)
}

func (w *WalletStore) SetSdkSession(ctx context.Context, session *core.SdkSession) error {
	return w.putRecord(ctx, keySdkSession, session)
}

func (w *WalletStore) SignatureProof(ctx context.Context) (*core.SignatureProof, error) {
	return getRecord[core.SignatureProof](ctx, w, keySignatureProof)
}

func (w *WalletStore) SetSignatureProof(ctx context.Context, proof *core.SignatureProof) error {
	return w.putRecord(ctx, keySignatureProof, proof)
}

// PendingInteractions returns the persisted queue in FIFO order
func (w *WalletStore) PendingInteractions(ctx context.Context) ([]core.PendingInteraction, error) {
	list, err := getRecord[[]core.PendingInteraction](ctx, w, keyPendingInteractions)
	if err != nil || list == nil {
		return nil, err
	}
	return *list, nil
}

// SetPendingInteractions replaces the queue. An empty list deletes the record.
func (w *WalletStore) SetPendingInteractions(ctx context.Context, list []core.PendingInteraction) error {
	if len(list) == 0 {
		return w.putRecord(ctx, keyPendingInteractions, nil)
	}
	return w.putRecord(ctx, keyPendingInteractions, list)
}

// Logout drops the session, the sdk session and the signature proof. Pending
// interactions survive so they can be replayed by the next session.
func (w *WalletStore) Logout(ctx context.Context) error {
	for _, key := range []string{keySession, keySdkSession, keySignatureProof} {
		if err := w.store.Delete(ctx, w.key(key)); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return nil
}

func (w *WalletStore) key(name string) string {
	return w.namespace + ":" + name
}

// putRecord stores value as JSON. A nil value deletes the record.
func (w *WalletStore) putRecord(ctx context.Context, name string, value any) error {
	if isNil(value) {
		if err := w.store.Delete(ctx, w.key(name)); err != nil {
			return fmt.Errorf("failed to delete %s: %w", name, err)
		}
		return nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	if err := w.store.Set(ctx, w.key(name), raw, 0); err != nil {
		return fmt.Errorf("failed to store %s: %w", name, err)
	}
	return nil
}

func getRecord[T any](ctx context.Context, w *WalletStore, name string) (*T, error) {
	raw, err := w.store.Get(ctx, w.key(name))
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", name, err)
	}

	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return &value, nil
}

func isNil(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case *core.Session:
		return v == nil
	case *core.SdkSession:
		return v == nil
	case *core.SignatureProof:
		return v == nil
	}
	return false
}
