package service

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/frak-labs/framesession/adapters/chain"
	"github.com/frak-labs/framesession/adapters/store"
	"github.com/frak-labs/framesession/core"
	"github.com/frak-labs/framesession/internal/eth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shopOrigin = "https://shop.example"

func testRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Namespace:            "https://wallet.example",
		Executor:             testExecutor,
		Validator:            testValidator,
		HandshakeTTL:         10 * time.Second,
		MaxPendingHandshakes: 10,
		PendingQueueCap:      50,
		ValidateTimeout:      50 * time.Millisecond,
		SessionStatusTTL:     0,
		BackupTTL:            DefaultBackupTTL,
	}
}

type runtimeFixture struct {
	runtime   *Runtime
	emitter   *recordingEmitter
	tokens    *stubTokenService
	submitter *recordingSubmitter
}

func newRuntimeFixture(t *testing.T, cfg RuntimeConfig) *runtimeFixture {
	t.Helper()
	f := &runtimeFixture{
		emitter:   &recordingEmitter{},
		tokens:    &stubTokenService{},
		submitter: &recordingSubmitter{},
	}
	runtime, err := NewRuntime(cfg, RuntimeDeps{
		Store:        store.NewMemoryStore(),
		Emitter:      f.emitter,
		Codec:        newCodec(t),
		Tokens:       f.tokens,
		Interactions: f.submitter,
	}, discardLogger())
	require.NoError(t, err)
	f.runtime = runtime
	return f
}

// handshake runs a full handshake answered by shopOrigin
func (f *runtimeFixture) handshake(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.runtime.Start(ctx))

	start, ok := f.emitter.Last().(core.HandshakeEvent)
	require.True(t, ok)
	require.NoError(t, f.runtime.Handle(ctx, core.Message{
		Origin: shopOrigin,
		Event:  core.HandshakeResponseEvent{Token: start.Token, CurrentURL: shopOrigin + "/checkout"},
	}))
}

func (f *runtimeFixture) session() *core.Session {
	return &core.Session{
		Token:     "session-token",
		Wallet:    testWallet,
		ExpiresAt: time.Now().Add(7 * 24 * time.Hour).UTC(),
	}
}

func TestRuntimeRequiresCollaborators(t *testing.T) {
	_, err := NewRuntime(testRuntimeConfig(), RuntimeDeps{}, nil)
	require.Error(t, err)
}

func TestRuntimeHandshakeThenConnected(t *testing.T) {
	f := newRuntimeFixture(t, testRuntimeConfig())
	f.handshake(t)

	events := f.emitter.Events()
	require.Len(t, events, 2)
	assert.IsType(t, core.HandshakeEvent{}, events[0])
	assert.Equal(t, core.ConnectedEvent{}, events[1])

	current, err := f.runtime.Handshake.RequireContext()
	require.NoError(t, err)
	assert.Equal(t, eth.ProductID("shop.example"), current.ProductID)
	assert.Equal(t, shopOrigin, current.Origin)
}

func TestRuntimeRejectedHandshakeStaysSilent(t *testing.T) {
	ctx := context.Background()
	f := newRuntimeFixture(t, testRuntimeConfig())
	require.NoError(t, f.runtime.Start(ctx))
	f.emitter.Reset()

	require.NoError(t, f.runtime.Handle(ctx, core.Message{
		Origin: shopOrigin,
		Event:  core.HandshakeResponseEvent{Token: "forged", CurrentURL: shopOrigin},
	}))
	assert.Empty(t, f.emitter.Events())

	_, err := f.runtime.Handshake.RequireContext()
	require.ErrorIs(t, err, core.ErrContextUnresolved)
}

func TestRuntimePushWithoutContext(t *testing.T) {
	f := newRuntimeFixture(t, testRuntimeConfig())

	_, err := f.runtime.PushInteraction(context.Background(), []byte{0x01}, nil)
	require.ErrorIs(t, err, core.ErrContextUnresolved)
	assert.Empty(t, f.submitter.Batches())
}

func TestRuntimePushQueuesWithoutSession(t *testing.T) {
	ctx := context.Background()
	f := newRuntimeFixture(t, testRuntimeConfig())
	f.handshake(t)

	ids, err := f.runtime.PushInteraction(ctx, []byte{0x01}, []byte{0xff})
	require.NoError(t, err)
	assert.Nil(t, ids)

	items, err := f.runtime.Queue.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, eth.ProductID("shop.example"), items[0].ProductID)
	assert.Equal(t, []byte{0x01}, []byte(items[0].Interaction))

	assert.IsType(t, core.DoBackupEvent{}, f.emitter.Last())
	assert.Empty(t, f.submitter.Batches())
}

func TestRuntimeAuthenticateDrainsQueueOnce(t *testing.T) {
	ctx := context.Background()
	f := newRuntimeFixture(t, testRuntimeConfig())
	f.handshake(t)

	for _, b := range []byte{0x0a, 0x0b} {
		_, err := f.runtime.PushInteraction(ctx, []byte{b}, nil)
		require.NoError(t, err)
	}

	f.tokens.mint = &core.SdkSession{Token: "sdk", ExpiresAt: time.Now().Add(24 * time.Hour)}
	require.NoError(t, f.runtime.Authenticate(ctx, f.session(), nil))

	batches := f.submitter.Batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, []byte{0x0a}, []byte(batches[0][0].Interaction))
	assert.Equal(t, []byte{0x0b}, []byte(batches[0][1].Interaction))

	state, err := f.runtime.Queue.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueEmpty, state)

	// a second authentication has nothing left to replay
	require.NoError(t, f.runtime.Authenticate(ctx, f.session(), nil))
	assert.Len(t, f.submitter.Batches(), 1)
	assert.IsType(t, core.DoBackupEvent{}, f.emitter.Last())
}

func TestRuntimeFailedReplayKeepsQueue(t *testing.T) {
	ctx := context.Background()
	f := newRuntimeFixture(t, testRuntimeConfig())
	f.handshake(t)

	_, err := f.runtime.PushInteraction(ctx, []byte{0x0a}, nil)
	require.NoError(t, err)

	// minting is refused so every tier fails
	require.NoError(t, f.runtime.Authenticate(ctx, f.session(), nil))

	items, err := f.runtime.Queue.Items(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Empty(t, f.submitter.Batches())
}

func TestRuntimePushSubmitsWithToken(t *testing.T) {
	ctx := context.Background()
	f := newRuntimeFixture(t, testRuntimeConfig())
	f.handshake(t)
	f.tokens.mint = &core.SdkSession{Token: "sdk", ExpiresAt: time.Now().Add(24 * time.Hour)}
	require.NoError(t, f.runtime.Authenticate(ctx, f.session(), nil))

	ids, err := f.runtime.PushInteraction(ctx, []byte{0x01}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"delegation-1-0"}, ids)
	assert.Equal(t, []string{"sdk"}, f.submitter.tokens)

	items, err := f.runtime.Queue.Items(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRuntimeAuthenticateRejectsEmptySession(t *testing.T) {
	f := newRuntimeFixture(t, testRuntimeConfig())
	err := f.runtime.Authenticate(context.Background(), &core.Session{}, nil)
	require.ErrorIs(t, err, core.ErrNoSession)
}

func TestRuntimeRestoreIgnoredWithoutContext(t *testing.T) {
	ctx := context.Background()
	f := newRuntimeFixture(t, testRuntimeConfig())

	require.NoError(t, f.runtime.Handle(ctx, core.Message{
		Origin: shopOrigin,
		Event:  core.RestoreBackupEvent{Backup: "whatever"},
	}))
	assert.Empty(t, f.emitter.Events())
}

func TestRuntimeGarbageRestoreIsRemoved(t *testing.T) {
	ctx := context.Background()
	f := newRuntimeFixture(t, testRuntimeConfig())
	f.handshake(t)

	require.NoError(t, f.runtime.Handle(ctx, core.Message{
		Origin: shopOrigin,
		Event:  core.RestoreBackupEvent{Backup: "definitely-not-a-backup"},
	}))
	assert.Equal(t, core.RemoveBackupEvent{}, f.emitter.Last())
}

func TestRuntimeRejectsPageEvents(t *testing.T) {
	f := newRuntimeFixture(t, testRuntimeConfig())
	for _, event := range []core.Event{
		core.HandshakeEvent{Token: "t"},
		core.DoBackupEvent{Backup: "b"},
		core.RemoveBackupEvent{},
		core.ConnectedEvent{},
	} {
		err := f.runtime.Handle(context.Background(), core.Message{Origin: shopOrigin, Event: event})
		require.ErrorIs(t, err, core.ErrUnknownLifecycle)
	}
}

func TestRuntimeLogoutKeepsPending(t *testing.T) {
	ctx := context.Background()
	f := newRuntimeFixture(t, testRuntimeConfig())
	f.handshake(t)

	_, err := f.runtime.PushInteraction(ctx, []byte{0x0a}, nil)
	require.NoError(t, err)
	require.NoError(t, f.runtime.Wallet.SetSession(ctx, f.session()))

	require.NoError(t, f.runtime.Logout(ctx))

	session, err := f.runtime.Wallet.Session(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)

	items, err := f.runtime.Queue.Items(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.IsType(t, core.DoBackupEvent{}, f.emitter.Last())
}

func TestRuntimeLogoutWithNothingLeftRemovesBackup(t *testing.T) {
	ctx := context.Background()
	f := newRuntimeFixture(t, testRuntimeConfig())
	f.handshake(t)
	require.NoError(t, f.runtime.Wallet.SetSession(ctx, f.session()))

	require.NoError(t, f.runtime.Logout(ctx))
	assert.Equal(t, core.RemoveBackupEvent{}, f.emitter.Last())
}

func TestRuntimeHeartbeat(t *testing.T) {
	ctx := context.Background()
	f := newRuntimeFixture(t, testRuntimeConfig())

	// no context yet: a handshake is started but connected is not reported
	require.NoError(t, f.runtime.Handle(ctx, core.Message{Origin: shopOrigin, Event: core.HeartbeatEvent{}}))
	require.Len(t, f.emitter.Events(), 1)
	assert.IsType(t, core.HandshakeEvent{}, f.emitter.Last())

	f.handshake(t)
	f.emitter.Reset()

	require.NoError(t, f.runtime.Handle(ctx, core.Message{Origin: shopOrigin, Event: core.HeartbeatEvent{}}))
	assert.Equal(t, []core.Event{core.ConnectedEvent{}}, f.emitter.Events())
}

func TestRuntimeAutoContextFromReferrer(t *testing.T) {
	ctx := context.Background()
	cfg := testRuntimeConfig()
	cfg.Referrer = "https://shop.example/landing"
	f := newRuntimeFixture(t, cfg)
	require.NoError(t, f.runtime.Start(ctx))

	current, err := f.runtime.Handshake.RequireContext()
	require.NoError(t, err)
	assert.True(t, current.IsAutoContext)

	// an automatic context keeps asking for a confirmed one
	f.emitter.Reset()
	require.NoError(t, f.runtime.Handle(ctx, core.Message{Origin: shopOrigin, Event: core.HeartbeatEvent{}}))
	events := f.emitter.Events()
	require.Len(t, events, 2)
	assert.IsType(t, core.HandshakeEvent{}, events[0])
	assert.Equal(t, core.ConnectedEvent{}, events[1])
}

func TestRuntimeSessionStatus(t *testing.T) {
	ctx := context.Background()

	f := newRuntimeFixture(t, testRuntimeConfig())
	status, err := f.runtime.SessionStatus(ctx)
	require.NoError(t, err)
	assert.Nil(t, status)

	wallet := chain.NewMemoryWallet(testWallet)
	runtime, err := NewRuntime(testRuntimeConfig(), RuntimeDeps{
		Store:        store.NewMemoryStore(),
		Emitter:      &recordingEmitter{},
		Codec:        newCodec(t),
		Tokens:       &stubTokenService{},
		Delegations:  chain.NewDelegationReader(wallet),
		Transactions: wallet,
	}, discardLogger())
	require.NoError(t, err)

	_, err = runtime.SessionStatus(ctx)
	require.ErrorIs(t, err, core.ErrNoSession)

	require.NoError(t, runtime.Wallet.SetSession(ctx, f.session()))
	status, err = runtime.SessionStatus(ctx)
	require.NoError(t, err)
	assert.Nil(t, status)

	end := time.Now().Add(time.Hour)
	_, err = runtime.Sessions.Open(ctx, testWallet, end)
	require.NoError(t, err)

	status, err = runtime.SessionStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, end.Unix(), status.End.Unix())
}

func restoreMessage(backup string) core.Message {
	return core.Message{Origin: shopOrigin, Event: core.RestoreBackupEvent{Backup: backup}}
}

func (f *runtimeFixture) parentBackup(t *testing.T, session *core.Session, pending ...byte) string {
	t.Helper()
	payload := &core.BackupPayload{
		ProductID: eth.ProductID("shop.example"),
		Session:   session,
		ExpireAt:  time.Now().Add(time.Hour).UTC(),
	}
	for _, b := range pending {
		payload.PendingInteractions = append(payload.PendingInteractions, core.PendingInteraction{
			ProductID:   payload.ProductID,
			Interaction: []byte{b},
			Timestamp:   time.Unix(1_700_000_000, 0).UTC(),
		})
	}
	blob, err := newCodec(t).Encode(payload)
	require.NoError(t, err)
	return blob
}

func TestRuntimeRestoreReplaysPendingOnce(t *testing.T) {
	ctx := context.Background()
	f := newRuntimeFixture(t, testRuntimeConfig())
	f.handshake(t)
	f.tokens.mint = &core.SdkSession{Token: "sdk", ExpiresAt: time.Now().Add(24 * time.Hour)}
	f.emitter.Reset()

	require.NoError(t, f.runtime.Handle(ctx, restoreMessage(f.parentBackup(t, f.session(), 0x0a))))
	batches := f.submitter.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, []byte{0x0a}, []byte(batches[0][0].Interaction))

	// the parent replaces its copy with the state left after the replay
	stored, ok := f.emitter.Last().(core.DoBackupEvent)
	require.True(t, ok, "expected do-backup, got %T", f.emitter.Last())
	payload, err := newCodec(t).Decode(stored.Backup)
	require.NoError(t, err)
	assert.Empty(t, payload.PendingInteractions)
	assert.Equal(t, "session-token", payload.Session.Token)

	// a reload hands that copy back and nothing is submitted again
	require.NoError(t, f.runtime.Handle(ctx, restoreMessage(stored.Backup)))
	assert.Len(t, f.submitter.Batches(), 1)
}

func TestRuntimeRestoreWithoutSessionKeepsQueue(t *testing.T) {
	ctx := context.Background()
	f := newRuntimeFixture(t, testRuntimeConfig())
	f.handshake(t)
	f.emitter.Reset()

	require.NoError(t, f.runtime.Handle(ctx, restoreMessage(f.parentBackup(t, nil, 0x0a))))
	assert.Empty(t, f.submitter.Batches())
	assert.Empty(t, f.emitter.Events())
	assert.Zero(t, f.tokens.mintCalls.Load())

	items, err := f.runtime.Queue.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	state, err := f.runtime.Queue.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueBuffering, state)
}

func TestRuntimeZeroConfigUsesDefaults(t *testing.T) {
	ctx := context.Background()
	f := newRuntimeFixture(t, RuntimeConfig{Namespace: "https://wallet.example"})

	for i := 0; i < DefaultMaxPendingHandshakes; i++ {
		require.NoError(t, f.runtime.Start(ctx))
	}
	assert.Len(t, f.emitter.Events(), DefaultMaxPendingHandshakes)
	assert.Equal(t, DefaultMaxPendingHandshakes, f.runtime.Handshake.Pending())

	// a cached token is accepted without waiting on a zero timeout
	f.tokens.valid = true
	require.NoError(t, f.runtime.Wallet.SetSdkSession(ctx, &core.SdkSession{Token: "cached", ExpiresAt: time.Now().Add(time.Hour)}))
	sdk, err := f.runtime.Tokens.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cached", sdk.Token)
	assert.Zero(t, f.tokens.mintCalls.Load())

	for b := 0; b < DefaultPendingQueueCap+1; b++ {
		require.NoError(t, f.runtime.Queue.Enqueue(ctx, interaction(byte(b), time.Now())))
	}
	items, err := f.runtime.Queue.Items(ctx)
	require.NoError(t, err)
	assert.Len(t, items, DefaultPendingQueueCap)
}

func TestRuntimeWalletReferrer(t *testing.T) {
	ctx := context.Background()
	referrer := common.HexToAddress("0x1234567890123456789012345678901234567890")

	cfg := testRuntimeConfig()
	cfg.Referrer = frakContextURL("https://shop.example/landing", referrer)
	f := newRuntimeFixture(t, cfg)

	_, ok, err := f.runtime.WalletReferrer(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.runtime.Start(ctx))
	got, ok, err := f.runtime.WalletReferrer(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, referrer, got)

	// self referral
	session := f.session()
	session.Wallet = referrer
	require.NoError(t, f.runtime.Wallet.SetSession(ctx, session))
	_, ok, err = f.runtime.WalletReferrer(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
