package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/frak-labs/framesession/adapters/codec"
	"github.com/frak-labs/framesession/adapters/store"
	"github.com/frak-labs/framesession/core"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCodec(t *testing.T) *codec.BackupCodec {
	t.Helper()
	c, err := codec.NewBackupCodec(nil)
	require.NoError(t, err)
	return c
}

func newWalletStore() *WalletStore {
	return NewWalletStore(store.NewMemoryStore(), "https://wallet.example")
}

// recordingEmitter keeps every emitted event
type recordingEmitter struct {
	mu     sync.Mutex
	events []core.Event
	err    error
}

func (e *recordingEmitter) Emit(_ context.Context, event core.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, event)
	return nil
}

func (e *recordingEmitter) Events() []core.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]core.Event(nil), e.events...)
}

func (e *recordingEmitter) Last() core.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.events) == 0 {
		return nil
	}
	return e.events[len(e.events)-1]
}

func (e *recordingEmitter) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = nil
}

// pipe delivers events synchronously to the other side of the frame boundary
type pipe struct {
	origin  string
	deliver func(context.Context, core.Message) error
}

func (p *pipe) Emit(ctx context.Context, event core.Event) error {
	return p.deliver(ctx, core.Message{Origin: p.origin, Event: event})
}

// stubTokenService answers the token tiers from canned values
type stubTokenService struct {
	valid         bool
	blockValidate bool
	exchange      *core.SdkSession
	mint          *core.SdkSession
	release       chan struct{}

	validateCalls atomic.Int32
	exchangeCalls atomic.Int32
	mintCalls     atomic.Int32
}

func (s *stubTokenService) Validate(ctx context.Context, _ string) (bool, error) {
	s.validateCalls.Add(1)
	if s.blockValidate {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return s.valid, nil
}

func (s *stubTokenService) Exchange(_ context.Context, _ *core.SignatureProof) (*core.SdkSession, error) {
	s.exchangeCalls.Add(1)
	if s.release != nil {
		<-s.release
	}
	if s.exchange == nil {
		return nil, core.ErrInvalidSignature
	}
	session := *s.exchange
	return &session, nil
}

func (s *stubTokenService) Mint(_ context.Context, _ *core.Session) (*core.SdkSession, error) {
	s.mintCalls.Add(1)
	if s.mint == nil {
		return nil, core.ErrTokenInvalidated
	}
	session := *s.mint
	return &session, nil
}

// recordingSubmitter records interaction batches
type recordingSubmitter struct {
	mu      sync.Mutex
	batches [][]core.PendingInteraction
	tokens  []string
	err     error
}

func (s *recordingSubmitter) Submit(_ context.Context, sdkToken string, interactions []core.PendingInteraction) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.batches = append(s.batches, append([]core.PendingInteraction(nil), interactions...))
	s.tokens = append(s.tokens, sdkToken)

	ids := make([]string, len(interactions))
	for i := range interactions {
		ids[i] = fmt.Sprintf("delegation-%d-%d", len(s.batches), i)
	}
	return ids, nil
}

func (s *recordingSubmitter) Batches() [][]core.PendingInteraction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]core.PendingInteraction(nil), s.batches...)
}

// nullTxSubmitter accepts transactions without applying them
type nullTxSubmitter struct{}

func (nullTxSubmitter) Submit(context.Context, common.Address, []byte) (common.Hash, error) {
	return common.HexToHash("0x01"), nil
}

func interaction(b byte, at time.Time) core.PendingInteraction {
	return core.PendingInteraction{
		ProductID:   common.HexToHash("0xabc"),
		Interaction: []byte{b},
		Timestamp:   at.UTC(),
	}
}

// clock is a settable time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Unix(1_700_000_000, 0).UTC()}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
