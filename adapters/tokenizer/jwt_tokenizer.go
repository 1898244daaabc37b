package tokenizer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/frak-labs/framesession/core"
	"github.com/frak-labs/framesession/internal/eth"
	"github.com/frak-labs/framesession/ports"
	"github.com/golang-jwt/jwt/v5"
)

const (
	AudienceChallenge = "framesession:challenge"
	AudienceSession   = "framesession:session"
	AudienceSdk       = "framesession:sdk"
)

// JWTTokenizer implements the Tokenizer interface using ES256 JWTs
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(signKey *ecdsa.PrivateKey) ports.Tokenizer {
	return &JWTTokenizer{signKey: signKey}
}

// ChallengeToToken converts a Challenge to a JWT token
func (j *JWTTokenizer) ChallengeToToken(challenge *core.Challenge) (string, error) {
	claims := ChallengeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   challenge.Address,
			ID:        challenge.ID,
			ExpiresAt: jwt.NewNumericDate(challenge.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(challenge.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceChallenge},
		},
		Nonce: challenge.Nonce,
	}

	return j.sign(claims)
}

// TokenToChallenge converts a JWT token to a Challenge
func (j *JWTTokenizer) TokenToChallenge(tokenStr string) (*core.Challenge, error) {
	claims := &ChallengeClaims{}
	if err := j.parse(tokenStr, claims, AudienceChallenge); err != nil {
		return nil, err
	}

	return &core.Challenge{
		ID:        claims.ID,
		Address:   claims.Subject,
		Nonce:     claims.Nonce,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// ClaimsToSessionToken issues a full wallet session token
func (j *JWTTokenizer) ClaimsToSessionToken(claims *core.Claims) (string, error) {
	return j.sign(toSessionClaims(claims, AudienceSession, ""))
}

// SessionTokenToClaims parses a full wallet session token
func (j *JWTTokenizer) SessionTokenToClaims(tokenStr string) (*core.Claims, error) {
	claims := &SessionClaims{}
	if err := j.parse(tokenStr, claims, AudienceSession); err != nil {
		return nil, err
	}
	return fromSessionClaims(claims), nil
}

// ClaimsToSdkToken issues an sdk token. The scope is always ScopeInteraction.
func (j *JWTTokenizer) ClaimsToSdkToken(claims *core.Claims) (string, error) {
	return j.sign(toSessionClaims(claims, AudienceSdk, core.ScopeInteraction))
}

// SdkTokenToClaims parses an sdk token and rejects any other scope
func (j *JWTTokenizer) SdkTokenToClaims(tokenStr string) (*core.Claims, error) {
	claims := &SessionClaims{}
	if err := j.parse(tokenStr, claims, AudienceSdk); err != nil {
		return nil, err
	}
	if claims.Scope != core.ScopeInteraction {
		return nil, core.ErrInvalidScope
	}
	return fromSessionClaims(claims), nil
}

// VerifySignature checks an EIP-191 personal signature of message by address
func (j *JWTTokenizer) VerifySignature(message []byte, signature []byte, address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid address %q: %w", address, core.ErrInvalidSignature)
	}

	verified, err := eth.VerifyPersonalSignature(message, signature, common.HexToAddress(address))
	if err != nil {
		return fmt.Errorf("signature verification failed: %v: %w", err, core.ErrInvalidSignature)
	}
	if !verified {
		return core.ErrInvalidSignature
	}

	return nil
}

func (j *JWTTokenizer) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

func (j *JWTTokenizer) parse(tokenStr string, claims jwt.Claims, audience string) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	}, jwt.WithAudience(audience), jwt.WithExpirationRequired())

	if errors.Is(err, jwt.ErrTokenExpired) {
		return core.ErrTokenExpired
	}
	if err != nil {
		return fmt.Errorf("failed to parse token: %v: %w", err, core.ErrInvalidToken)
	}
	if !token.Valid {
		return core.ErrInvalidToken
	}

	return nil
}

func toSessionClaims(claims *core.Claims, audience, scope string) SessionClaims {
	return SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Wallet.Hex(),
			ID:        claims.ID,
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			Audience:  jwt.ClaimStrings{audience},
		},
		Scope: scope,
	}
}

func fromSessionClaims(claims *SessionClaims) *core.Claims {
	return &core.Claims{
		ID:        claims.ID,
		Wallet:    common.HexToAddress(claims.Subject),
		Scope:     claims.Scope,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}
}
