package tokenizer

import "github.com/golang-jwt/jwt/v5"

// ChallengeClaims combines standard claims with challenge-specific ones
type ChallengeClaims struct {
	jwt.RegisteredClaims
	Nonce string `json:"nonce"`
}

// SessionClaims back both full wallet sessions and scoped sdk sessions.
// Scope is empty for full sessions.
type SessionClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}
