package core

import "errors"

var (
	// Token errors shared by the backend token service and its clients.
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenInvalidated = errors.New("token has been invalidated")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidChallenge = errors.New("invalid challenge")
	ErrInvalidScope     = errors.New("token scope not allowed")

	// ErrContextUnresolved is returned when no handshake has produced a resolving context yet.
	ErrContextUnresolved = errors.New("no resolving context available")

	// ErrHandshakeRejected is returned for handshake responses carrying an unknown token.
	ErrHandshakeRejected = errors.New("handshake rejected")

	// ErrHandshakeSaturated is returned when too many handshakes are awaiting a response.
	ErrHandshakeSaturated = errors.New("too many pending handshakes")

	// ErrInvalidBackup covers undecodable and tenant-mismatched backups.
	ErrInvalidBackup = errors.New("invalid backup data")

	// ErrBackupExpired is returned when a backup is past its expiry timestamp.
	ErrBackupExpired = errors.New("backup expired")

	// ErrNoSession means every scoped token source was exhausted.
	ErrNoSession = errors.New("no session available")

	// ErrOnChainRead wraps failures reading the delegation record.
	ErrOnChainRead = errors.New("on-chain read failed")

	// ErrInvalidWindow is returned when a session window cannot be encoded.
	ErrInvalidWindow = errors.New("invalid session window")

	// ErrUnknownLifecycle is returned for lifecycle envelopes with an unknown or missing tag.
	ErrUnknownLifecycle = errors.New("unknown lifecycle event")

	// ErrNotFound is returned by stores for missing keys.
	ErrNotFound = errors.New("not found")
)
