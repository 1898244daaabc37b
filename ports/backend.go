package ports

import (
	"context"

	"github.com/frak-labs/framesession/core"
)

// TokenService is the backend that validates and mints sdk sessions
type TokenService interface {
	Validate(ctx context.Context, sdkToken string) (bool, error)
	Exchange(ctx context.Context, proof *core.SignatureProof) (*core.SdkSession, error)
	Mint(ctx context.Context, session *core.Session) (*core.SdkSession, error)
}

// InteractionSubmitter pushes interactions authorized by an sdk token
type InteractionSubmitter interface {
	Submit(ctx context.Context, sdkToken string, interactions []core.PendingInteraction) ([]string, error)
}
