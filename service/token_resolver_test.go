package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/frak-labs/framesession/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resolverFixture struct {
	wallet   *WalletStore
	service  *stubTokenService
	resolver *TokenResolver
	clock    *clock
}

func newResolverFixture(service *stubTokenService) *resolverFixture {
	wallet := newWalletStore()
	c := newClock()
	resolver := NewTokenResolver(wallet, service, 50*time.Millisecond, discardLogger())
	resolver.now = c.Now
	return &resolverFixture{wallet: wallet, service: service, resolver: resolver, clock: c}
}

func (f *resolverFixture) sdk(token string, ttl time.Duration) *core.SdkSession {
	return &core.SdkSession{Token: token, ExpiresAt: f.clock.Now().Add(ttl)}
}

func (f *resolverFixture) seedSession(t *testing.T) {
	t.Helper()
	require.NoError(t, f.wallet.SetSession(context.Background(), &core.Session{
		Token:     "session-token",
		Wallet:    common.HexToAddress("0xaa"),
		ExpiresAt: f.clock.Now().Add(7 * 24 * time.Hour),
	}))
}

func (f *resolverFixture) seedProof(t *testing.T) {
	t.Helper()
	require.NoError(t, f.wallet.SetSignatureProof(context.Background(), &core.SignatureProof{
		Wallet:    common.HexToAddress("0xaa"),
		Challenge: []byte("challenge"),
		Signature: []byte{0x01},
	}))
}

func TestTokenResolverPrefersSignatureOverSession(t *testing.T) {
	ctx := context.Background()
	service := &stubTokenService{}
	f := newResolverFixture(service)
	service.exchange = f.sdk("from-signature", 24*time.Hour)
	service.mint = f.sdk("from-session", 24*time.Hour)
	f.seedSession(t)
	f.seedProof(t)

	session, err := f.resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-signature", session.Token)
	assert.Equal(t, int32(1), service.exchangeCalls.Load())
	assert.Zero(t, service.mintCalls.Load())

	stored, err := f.wallet.SdkSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, service.exchange, stored)
}

func TestTokenResolverUsesValidCachedToken(t *testing.T) {
	ctx := context.Background()
	service := &stubTokenService{valid: true}
	f := newResolverFixture(service)
	require.NoError(t, f.wallet.SetSdkSession(ctx, f.sdk("cached", time.Hour)))
	f.seedProof(t)

	session, err := f.resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cached", session.Token)
	assert.Equal(t, int32(1), service.validateCalls.Load())
	assert.Zero(t, service.exchangeCalls.Load())
}

func TestTokenResolverFallsBackToSession(t *testing.T) {
	ctx := context.Background()
	service := &stubTokenService{valid: false}
	f := newResolverFixture(service)
	service.mint = f.sdk("minted", 24*time.Hour)
	require.NoError(t, f.wallet.SetSdkSession(ctx, f.sdk("revoked", time.Hour)))
	f.seedSession(t)

	session, err := f.resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "minted", session.Token)
	assert.Zero(t, service.exchangeCalls.Load())

	stored, err := f.wallet.SdkSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "minted", stored.Token)
}

func TestTokenResolverFailedExchangeFallsThrough(t *testing.T) {
	ctx := context.Background()
	service := &stubTokenService{}
	f := newResolverFixture(service)
	service.mint = f.sdk("minted", 24*time.Hour)
	f.seedProof(t)
	f.seedSession(t)

	session, err := f.resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "minted", session.Token)
	assert.Equal(t, int32(1), service.exchangeCalls.Load())
	assert.Equal(t, int32(1), service.mintCalls.Load())
}

func TestTokenResolverExhausted(t *testing.T) {
	service := &stubTokenService{}
	f := newResolverFixture(service)

	_, err := f.resolver.Resolve(context.Background())
	require.ErrorIs(t, err, core.ErrNoSession)
	assert.Zero(t, service.validateCalls.Load())
	assert.Zero(t, service.exchangeCalls.Load())
	assert.Zero(t, service.mintCalls.Load())
}

func TestTokenResolverValidateTimeoutCountsAsInvalid(t *testing.T) {
	ctx := context.Background()
	service := &stubTokenService{blockValidate: true}
	f := newResolverFixture(service)
	service.exchange = f.sdk("from-signature", 24*time.Hour)
	require.NoError(t, f.wallet.SetSdkSession(ctx, f.sdk("slow", time.Hour)))
	f.seedProof(t)

	session, err := f.resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-signature", session.Token)
	assert.Equal(t, int32(1), service.validateCalls.Load())
}

func TestTokenResolverSkipsExpiredCache(t *testing.T) {
	ctx := context.Background()
	service := &stubTokenService{valid: true}
	f := newResolverFixture(service)
	require.NoError(t, f.wallet.SetSdkSession(ctx, f.sdk("old", -time.Second)))

	_, err := f.resolver.Resolve(ctx)
	require.ErrorIs(t, err, core.ErrNoSession)
	assert.Zero(t, service.validateCalls.Load())

	stored, err := f.wallet.SdkSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestTokenResolverMemoizesUntilStale(t *testing.T) {
	ctx := context.Background()
	service := &stubTokenService{valid: true}
	f := newResolverFixture(service)
	service.exchange = f.sdk("from-signature", 24*time.Hour)
	f.seedProof(t)

	first, err := f.resolver.Resolve(ctx)
	require.NoError(t, err)

	// callers get copies
	first.Token = "mutated"

	second, err := f.resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-signature", second.Token)
	assert.Equal(t, int32(1), service.exchangeCalls.Load())
	assert.Zero(t, service.validateCalls.Load())

	f.clock.Advance(24*time.Hour - minStaleTime)
	_, err = f.resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), service.validateCalls.Load())
	assert.Equal(t, int32(1), service.exchangeCalls.Load())

	f.resolver.Invalidate()
	_, err = f.resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), service.validateCalls.Load())
}

func TestTokenResolverShortLivedTokenUsesStaleFloor(t *testing.T) {
	ctx := context.Background()
	service := &stubTokenService{valid: true}
	f := newResolverFixture(service)
	service.exchange = f.sdk("short", 20*time.Minute)
	f.seedProof(t)

	_, err := f.resolver.Resolve(ctx)
	require.NoError(t, err)

	f.clock.Advance(minStaleTime - time.Second)
	_, err = f.resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Zero(t, service.validateCalls.Load())

	f.clock.Advance(time.Second)
	_, err = f.resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), service.validateCalls.Load())
}

func TestTokenResolverCoalescesConcurrentCalls(t *testing.T) {
	service := &stubTokenService{valid: true, release: make(chan struct{})}
	f := newResolverFixture(service)
	service.exchange = f.sdk("from-signature", 24*time.Hour)
	f.seedProof(t)

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session, err := f.resolver.Resolve(context.Background())
			errs[i] = err
			if session != nil {
				tokens[i] = session.Token
			}
		}(i)
	}

	require.Eventually(t, func() bool {
		return service.exchangeCalls.Load() == 1
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(service.release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "from-signature", tokens[i])
	}
	assert.Equal(t, int32(1), service.exchangeCalls.Load())
}

func TestTokenTierOrder(t *testing.T) {
	var order []string
	for tier := tierCached; tier != tierExhausted; tier = tier.next() {
		order = append(order, tier.String())
	}
	assert.Equal(t, []string{"cached", "signature", "session"}, order)
	assert.Equal(t, tierExhausted, tierExhausted.next())
}
