package ports

import "github.com/frak-labs/framesession/core"

// Tokenizer converts between domain objects and tokens
type Tokenizer interface {
	// Challenge token operations
	ChallengeToToken(challenge *core.Challenge) (string, error)
	TokenToChallenge(token string) (*core.Challenge, error)

	// Session and scoped token operations
	ClaimsToSessionToken(claims *core.Claims) (string, error)
	SessionTokenToClaims(token string) (*core.Claims, error)
	ClaimsToSdkToken(claims *core.Claims) (string, error)
	SdkTokenToClaims(token string) (*core.Claims, error)

	// Verification helpers
	VerifySignature(message []byte, signature []byte, address string) error
}
