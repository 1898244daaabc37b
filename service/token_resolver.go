package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/frak-labs/framesession/core"
	"github.com/frak-labs/framesession/ports"
	"golang.org/x/sync/singleflight"
)

// minStaleTime is both the refresh margin before expiry and the floor of the stale time
const minStaleTime = 15 * time.Minute

// tokenTier is one stage of the scoped token fallback chain
type tokenTier int

const (
	tierCached tokenTier = iota
	tierSignature
	tierSession
	tierExhausted
)

func (t tokenTier) next() tokenTier {
	if t >= tierExhausted {
		return tierExhausted
	}
	return t + 1
}

func (t tokenTier) String() string {
	switch t {
	case tierCached:
		return "cached"
	case tierSignature:
		return "signature"
	case tierSession:
		return "session"
	default:
		return "exhausted"
	}
}

type resolved struct {
	session *core.SdkSession
	tier    tokenTier
	staleAt time.Time
}

// DefaultValidateTimeout bounds a remote validation when none is configured
const DefaultValidateTimeout = 5 * time.Second

// TokenResolver obtains a usable scoped token. Tiers are tried in order and the
// first success wins: the cached token if the backend still accepts it, an
// exchange of the last signature proof, then a mint from the full session.
type TokenResolver struct {
	wallet          *WalletStore
	service         ports.TokenService
	validateTimeout time.Duration
	logger          *slog.Logger
	metrics         *metrics

	group singleflight.Group

	mu   sync.Mutex
	memo *resolved

	now func() time.Time
}

// NewTokenResolver creates a resolver. Remote validations are abandoned after
// validateTimeout and count as invalid. A zero timeout uses DefaultValidateTimeout.
func NewTokenResolver(wallet *WalletStore, service ports.TokenService, validateTimeout time.Duration, logger *slog.Logger) *TokenResolver {
	if logger == nil {
		logger = slog.Default()
	}
	if validateTimeout <= 0 {
		validateTimeout = DefaultValidateTimeout
	}
	return &TokenResolver{
		wallet:          wallet,
		service:         service,
		validateTimeout: validateTimeout,
		logger:          logger.With("component", "token_resolver"),
		metrics:         newMetrics(),
		now:             time.Now,
	}
}

// Resolve returns a scoped session or core.ErrNoSession once every tier failed.
// Concurrent calls share a single resolution.
func (r *TokenResolver) Resolve(ctx context.Context) (*core.SdkSession, error) {
	if session, ok := r.fresh(); ok {
		return session, nil
	}

	v, err, _ := r.group.Do(r.wallet.Namespace(), func() (any, error) {
		return r.resolve(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}

	session := *v.(*core.SdkSession)
	return &session, nil
}

// Invalidate drops the memoized result so the next Resolve walks the chain again.
func (r *TokenResolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo = nil
}

func (r *TokenResolver) resolve(ctx context.Context) (*core.SdkSession, error) {
	for tier := tierCached; tier != tierExhausted; tier = tier.next() {
		session, err := r.attempt(ctx, tier)
		if err != nil {
			r.logger.Warn("scoped token tier failed", "tier", tier.String(), "error", err)
			continue
		}
		if session == nil {
			continue
		}

		if tier != tierCached {
			if err := r.wallet.SetSdkSession(ctx, session); err != nil {
				return nil, err
			}
		}
		r.remember(session, tier)
		record(r.metrics.tokens, tier.String(), 1)
		return session, nil
	}

	record(r.metrics.tokens, tierExhausted.String(), 1)
	return nil, core.ErrNoSession
}

// attempt runs a single tier. A nil session without error means the tier had
// nothing to work with.
func (r *TokenResolver) attempt(ctx context.Context, tier tokenTier) (*core.SdkSession, error) {
	switch tier {
	case tierCached:
		return r.fromCache(ctx)
	case tierSignature:
		proof, err := r.wallet.SignatureProof(ctx)
		if err != nil || proof == nil {
			return nil, err
		}
		return r.service.Exchange(ctx, proof)
	case tierSession:
		session, err := r.wallet.Session(ctx)
		if err != nil || !session.HasToken() {
			return nil, err
		}
		return r.service.Mint(ctx, session)
	default:
		return nil, fmt.Errorf("unknown tier %d", tier)
	}
}

func (r *TokenResolver) fromCache(ctx context.Context) (*core.SdkSession, error) {
	cached, err := r.wallet.SdkSession(ctx)
	if err != nil || cached == nil {
		return nil, err
	}
	if cached.Expired(r.now()) {
		return nil, r.wallet.SetSdkSession(ctx, nil)
	}

	validateCtx, cancel := context.WithTimeout(ctx, r.validateTimeout)
	defer cancel()

	valid, err := r.service.Validate(validateCtx, cached.Token)
	if errors.Is(err, context.DeadlineExceeded) {
		r.logger.Warn("sdk token validation timed out", "timeout", r.validateTimeout)
		err = nil
	}
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, r.wallet.SetSdkSession(ctx, nil)
	}
	return cached, nil
}

// remember memoizes session until max(expiresAt - 15min, 15min) from now.
func (r *TokenResolver) remember(session *core.SdkSession, tier tokenTier) {
	now := r.now()
	staleTime := session.ExpiresAt.Sub(now) - minStaleTime
	if staleTime < minStaleTime {
		staleTime = minStaleTime
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo = &resolved{session: session, tier: tier, staleAt: now.Add(staleTime)}
}

func (r *TokenResolver) fresh() (*core.SdkSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.memo == nil || !now.Before(r.memo.staleAt) || r.memo.session.Expired(now) {
		return nil, false
	}
	session := *r.memo.session
	return &session, true
}
