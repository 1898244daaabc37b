package framesession

import (
	"context"
	"log/slog"

	"github.com/frak-labs/framesession/config"
	"github.com/frak-labs/framesession/core"
	"github.com/frak-labs/framesession/service"
)

// Client represents the public interface of a wallet frame
type Client interface {
	// Start seeds the automatic context and opens the handshake
	Start(ctx context.Context) error

	// Run handles lifecycle messages from the embedding page until ctx is done
	Run(ctx context.Context, msgs <-chan core.Message) error

	// PushInteraction submits an interaction or queues it until a session exists
	PushInteraction(ctx context.Context, interaction, signature []byte) ([]string, error)

	// Authenticate stores a new session and replays queued interactions
	Authenticate(ctx context.Context, session *core.Session, proof *core.SignatureProof) error

	// Logout destroys the local session, keeping queued interactions
	Logout(ctx context.Context) error

	// SessionStatus returns the on-chain interaction session of the logged in wallet
	SessionStatus(ctx context.Context) (*core.InteractionSession, error)
}

var _ Client = (*service.Runtime)(nil)

// NewClient creates a wallet frame for the page at referrer. namespace keys
// the frame's local store, usually the wallet origin.
func NewClient(cfg config.Config, deps service.RuntimeDeps, namespace, referrer string, logger *slog.Logger) (Client, error) {
	return service.NewRuntime(RuntimeConfig(cfg, namespace, referrer), deps, logger)
}

// RuntimeConfig maps the environment configuration onto runtime settings
func RuntimeConfig(cfg config.Config, namespace, referrer string) service.RuntimeConfig {
	return service.RuntimeConfig{
		Namespace:            namespace,
		Referrer:             referrer,
		Executor:             cfg.Executor,
		Validator:            cfg.Validator,
		HandshakeTTL:         cfg.HandshakeTTL,
		MaxPendingHandshakes: cfg.MaxPendingHandshakes,
		PendingQueueCap:      cfg.PendingQueueCap,
		ValidateTimeout:      cfg.ValidateTimeout,
		SessionStatusTTL:     cfg.SessionStatusTTL,
		BackupTTL:            cfg.BackupTTL,
	}
}
