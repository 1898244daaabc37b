package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/frak-labs/framesession/core"
	"github.com/frak-labs/framesession/ports"
	"github.com/google/uuid"
)

const challengeMessagePrefix = "Authenticate to the wallet"

// AuthService is the backend issuing wallet sessions and scoped sdk tokens
type AuthService struct {
	tokenizer ports.Tokenizer
	store     ports.RevocationStore
	eventPub  ports.EventPublisher
	logger    *slog.Logger

	challengeTTL time.Duration
	sessionTTL   time.Duration
	sdkTTL       time.Duration
	proofTTL     time.Duration

	now func() time.Time
}

// NewAuthService creates a new authentication service
func NewAuthService(
	tokenizer ports.Tokenizer,
	store ports.RevocationStore,
	eventPub ports.EventPublisher,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		tokenizer:    tokenizer,
		store:        store,
		eventPub:     eventPub,
		logger:       logger.With("component", "auth"),
		challengeTTL: 5 * time.Minute,
		sessionTTL:   7 * 24 * time.Hour,
		sdkTTL:       24 * time.Hour,
		proofTTL:     24 * time.Hour,
		now:          time.Now,
	}
}

// WithTTLs overrides the token lifetimes. Zero values keep the defaults.
func (s *AuthService) WithTTLs(challenge, session, sdk time.Duration) *AuthService {
	if challenge > 0 {
		s.challengeTTL = challenge
	}
	if session > 0 {
		s.sessionTTL = session
	}
	if sdk > 0 {
		s.sdkTTL = sdk
		s.proofTTL = sdk
	}
	return s
}

// CreateChallenge generates a new authentication challenge. It returns the
// challenge token and the message the wallet must sign.
func (s *AuthService) CreateChallenge(address string) (string, string, error) {
	if !common.IsHexAddress(address) {
		return "", "", core.ErrInvalidChallenge
	}

	// Generate random nonce
	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := s.now()
	challenge := &core.Challenge{
		ID:        uuid.New().String(),
		Address:   common.HexToAddress(address).Hex(),
		Nonce:     hex.EncodeToString(nonceBytes),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.challengeTTL),
	}

	token, err := s.tokenizer.ChallengeToToken(challenge)
	if err != nil {
		return "", "", fmt.Errorf("failed to create token: %w", err)
	}

	return token, ChallengeMessage(challenge), nil
}

// Login authenticates a wallet using its signed challenge. A challenge can
// only be used once.
func (s *AuthService) Login(ctx context.Context, challengeToken string, signature []byte, address string) (*core.Session, error) {
	challenge, err := s.tokenizer.TokenToChallenge(challengeToken)
	if err != nil {
		return nil, fmt.Errorf("invalid challenge token: %w", err)
	}
	if !common.IsHexAddress(address) || common.HexToAddress(address).Hex() != challenge.Address {
		return nil, core.ErrInvalidChallenge
	}

	used, err := s.store.IsTokenInvalidated(ctx, challenge.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check challenge: %w", err)
	}
	if used {
		return nil, core.ErrInvalidChallenge
	}

	if err := s.tokenizer.VerifySignature([]byte(ChallengeMessage(challenge)), signature, address); err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}

	if err := s.store.InvalidateToken(ctx, challenge.ID, time.Until(challenge.ExpiresAt)+time.Minute); err != nil {
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}

	return s.issueSession(common.HexToAddress(address))
}

// ValidateSession parses a session token and checks it was not revoked
func (s *AuthService) ValidateSession(ctx context.Context, sessionToken string) (*core.Claims, error) {
	claims, err := s.tokenizer.SessionTokenToClaims(sessionToken)
	if err != nil {
		return nil, err
	}
	if err := s.checkRevoked(ctx, claims.ID); err != nil {
		return nil, err
	}
	return claims, nil
}

// SdkFromSession mints an sdk token scoped to interactions from a full session
func (s *AuthService) SdkFromSession(ctx context.Context, sessionToken string) (*core.SdkSession, error) {
	claims, err := s.ValidateSession(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	return s.issueSdk(claims.ID, claims.Wallet, claims.ExpiresAt)
}

// SdkFromSignature mints an sdk token from a recent signature proof, without
// a session token.
func (s *AuthService) SdkFromSignature(ctx context.Context, proof *core.SignatureProof) (*core.SdkSession, error) {
	wallet, issuedAt, err := ParseChallengeMessage(string(proof.Challenge))
	if err != nil {
		return nil, err
	}
	if wallet != proof.Wallet {
		return nil, core.ErrInvalidChallenge
	}
	if s.now().Sub(issuedAt) > s.proofTTL {
		return nil, core.ErrTokenExpired
	}

	if err := s.tokenizer.VerifySignature(proof.Challenge, proof.Signature, proof.Wallet.Hex()); err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}

	return s.issueSdk(uuid.New().String(), proof.Wallet, s.now().Add(s.sdkTTL))
}

// IsValid reports whether an sdk token is well formed, unexpired and not revoked
func (s *AuthService) IsValid(ctx context.Context, sdkToken string) (bool, error) {
	claims, err := s.tokenizer.SdkTokenToClaims(sdkToken)
	if err != nil {
		return false, nil
	}
	if err := s.checkRevoked(ctx, claims.ID); err != nil {
		if errors.Is(err, core.ErrTokenInvalidated) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Logout revokes a session and every sdk token minted from it
func (s *AuthService) Logout(ctx context.Context, sessionToken string) error {
	claims, err := s.tokenizer.SessionTokenToClaims(sessionToken)
	if err != nil {
		return fmt.Errorf("invalid session token: %w", err)
	}

	// Expired tokens are still recorded so clock skew cannot revive them
	remaining := time.Until(claims.ExpiresAt)
	if remaining < time.Hour {
		remaining = time.Hour
	}

	if err := s.store.InvalidateToken(ctx, claims.ID, remaining); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}

	if err := s.eventPub.PublishLogout(ctx, claims.Wallet.Hex(), claims.ID); err != nil {
		// The token is already invalidated in the store, which is the critical part
		s.logger.Warn("failed to publish logout event", "wallet", claims.Wallet.Hex(), "error", err)
	}

	return nil
}

// PushInteractions publishes interactions authorized by an sdk token and
// returns their delegation ids.
func (s *AuthService) PushInteractions(ctx context.Context, sdkToken string, interactions []core.PendingInteraction) ([]string, error) {
	claims, err := s.tokenizer.SdkTokenToClaims(sdkToken)
	if err != nil {
		return nil, err
	}
	if err := s.checkRevoked(ctx, claims.ID); err != nil {
		return nil, err
	}

	ids, err := s.eventPub.PublishInteractions(ctx, claims.Wallet.Hex(), interactions)
	if err != nil {
		return nil, fmt.Errorf("failed to publish interactions: %w", err)
	}
	return ids, nil
}

func (s *AuthService) issueSession(wallet common.Address) (*core.Session, error) {
	now := s.now()
	claims := &core.Claims{
		ID:        uuid.New().String(),
		Wallet:    wallet,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.sessionTTL),
	}

	token, err := s.tokenizer.ClaimsToSessionToken(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to create session token: %w", err)
	}

	return &core.Session{Token: token, Wallet: wallet, ExpiresAt: claims.ExpiresAt}, nil
}

// issueSdk mints an sdk token sharing id with its parent session so that
// revoking one revokes the other.
func (s *AuthService) issueSdk(id string, wallet common.Address, notAfter time.Time) (*core.SdkSession, error) {
	now := s.now()
	expiresAt := now.Add(s.sdkTTL)
	if notAfter.Before(expiresAt) {
		expiresAt = notAfter
	}

	token, err := s.tokenizer.ClaimsToSdkToken(&core.Claims{
		ID:        id,
		Wallet:    wallet,
		Scope:     core.ScopeInteraction,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sdk token: %w", err)
	}

	return &core.SdkSession{Token: token, ExpiresAt: expiresAt}, nil
}

func (s *AuthService) checkRevoked(ctx context.Context, id string) error {
	invalidated, err := s.store.IsTokenInvalidated(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to check token invalidation: %w", err)
	}
	if invalidated {
		return core.ErrTokenInvalidated
	}
	return nil
}

// ChallengeMessage renders the text signed by the wallet for a challenge
func ChallengeMessage(challenge *core.Challenge) string {
	return fmt.Sprintf("%s\nWallet: %s\nNonce: %s\nIssued At: %s",
		challengeMessagePrefix,
		challenge.Address,
		challenge.Nonce,
		challenge.IssuedAt.UTC().Format(time.RFC3339),
	)
}

// ParseChallengeMessage extracts the wallet and issue time of a message built
// by ChallengeMessage.
func ParseChallengeMessage(message string) (common.Address, time.Time, error) {
	lines := strings.Split(message, "\n")
	if len(lines) != 4 || lines[0] != challengeMessagePrefix {
		return common.Address{}, time.Time{}, core.ErrInvalidChallenge
	}

	wallet, ok := strings.CutPrefix(lines[1], "Wallet: ")
	if !ok || !common.IsHexAddress(wallet) {
		return common.Address{}, time.Time{}, core.ErrInvalidChallenge
	}
	if _, ok := strings.CutPrefix(lines[2], "Nonce: "); !ok {
		return common.Address{}, time.Time{}, core.ErrInvalidChallenge
	}
	rawIssuedAt, ok := strings.CutPrefix(lines[3], "Issued At: ")
	if !ok {
		return common.Address{}, time.Time{}, core.ErrInvalidChallenge
	}
	issuedAt, err := time.Parse(time.RFC3339, rawIssuedAt)
	if err != nil {
		return common.Address{}, time.Time{}, core.ErrInvalidChallenge
	}

	return common.HexToAddress(wallet), issuedAt, nil
}
