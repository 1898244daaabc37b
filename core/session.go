package core

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ScopeInteraction is the only capability granted to sdk tokens.
const ScopeInteraction = "interaction"

// Session is the full authenticated wallet session
type Session struct {
	Token     string         `json:"token"`
	Wallet    common.Address `json:"wallet"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// HasToken reports whether the session carries a usable token.
func (s *Session) HasToken() bool {
	return s != nil && s.Token != ""
}

// SdkSession is a narrower token limited to ScopeInteraction
type SdkSession struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the sdk session is past its expiry at now.
func (s *SdkSession) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// SignatureProof is the artifact left by the last full authentication. It can be
// exchanged for a fresh sdk session without prompting the user again.
type SignatureProof struct {
	Wallet    common.Address `json:"wallet"`
	Challenge hexutil.Bytes  `json:"challenge"`
	Signature hexutil.Bytes  `json:"signature"`
}

// Challenge represents an authentication challenge
type Challenge struct {
	ID        string    // Unique identifier for the challenge
	Address   string    // Ethereum address of the user
	Nonce     string    // Random nonce to be signed
	IssuedAt  time.Time // When the challenge was created
	ExpiresAt time.Time // When the challenge expires
}

// Claims is the decoded content of a backend issued token
type Claims struct {
	ID        string
	Wallet    common.Address
	Scope     string // empty for full sessions
	IssuedAt  time.Time
	ExpiresAt time.Time
}
