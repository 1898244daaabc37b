package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/frak-labs/framesession/core"
	"github.com/frak-labs/framesession/internal/eth"
	"github.com/frak-labs/framesession/ports"
	"github.com/google/uuid"
)

// Defaults applied when a resolver is built with zero limits.
const (
	DefaultHandshakeTTL         = 10 * time.Second
	DefaultMaxPendingHandshakes = 10
)

// HandshakeResolver binds an iframe instance to the product embedding it.
// Only responses echoing a token it issued itself are trusted.
type HandshakeResolver struct {
	emitter ports.Emitter
	logger  *slog.Logger
	metrics *metrics

	ttl      time.Duration
	capacity int

	mu        sync.Mutex
	pending   map[string]time.Time
	current   *core.ResolvingContext
	listeners []func(*core.ResolvingContext)

	now      func() time.Time
	newToken func() string
}

// NewHandshakeResolver creates a resolver emitting handshakes through emitter.
// Pending tokens expire after ttl and at most capacity may be outstanding.
// Zero values use DefaultHandshakeTTL and DefaultMaxPendingHandshakes.
func NewHandshakeResolver(emitter ports.Emitter, ttl time.Duration, capacity int, logger *slog.Logger) *HandshakeResolver {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultHandshakeTTL
	}
	if capacity <= 0 {
		capacity = DefaultMaxPendingHandshakes
	}
	return &HandshakeResolver{
		emitter:  emitter,
		logger:   logger.With("component", "handshake"),
		metrics:  newMetrics(),
		ttl:      ttl,
		capacity: capacity,
		pending:  make(map[string]time.Time),
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

// Start registers a fresh token and asks the parent to echo it back.
func (h *HandshakeResolver) Start(ctx context.Context) (string, error) {
	h.mu.Lock()
	h.purgeLocked()
	if len(h.pending) >= h.capacity {
		h.mu.Unlock()
		h.logger.Warn("skipping handshake, too many pending", "pending", h.capacity)
		record(h.metrics.handshakes, "saturated", 1)
		return "", core.ErrHandshakeSaturated
	}
	token := h.newToken()
	h.pending[token] = h.now()
	h.mu.Unlock()

	if err := h.emitter.Emit(ctx, core.HandshakeEvent{Token: token}); err != nil {
		h.mu.Lock()
		delete(h.pending, token)
		h.mu.Unlock()
		return "", fmt.Errorf("failed to emit handshake: %w", err)
	}

	record(h.metrics.handshakes, "started", 1)
	return token, nil
}

// OnHandshakeResponse validates a parent response. It returns true only when the
// response names a pending token, which is consumed. The context is replaced only
// when the derived one differs.
func (h *HandshakeResolver) OnHandshakeResponse(msg core.Message) bool {
	event, ok := msg.Event.(core.HandshakeResponseEvent)
	if !ok || event.Token == "" {
		h.logger.Warn("ignoring malformed handshake response", "origin", msg.Origin)
		record(h.metrics.handshakes, "rejected", 1)
		return false
	}

	h.mu.Lock()
	h.purgeLocked()
	if _, ok := h.pending[event.Token]; !ok {
		h.mu.Unlock()
		h.logger.Warn("rejecting handshake response", "origin", msg.Origin, "error", core.ErrHandshakeRejected)
		record(h.metrics.handshakes, "rejected", 1)
		return false
	}
	delete(h.pending, event.Token)

	derived := DeriveContext(false, event.CurrentURL, msg.Origin)
	var changed *core.ResolvingContext
	if derived != nil && !h.current.SameAs(derived) {
		h.current = derived
		changed = copyContext(derived)
	}
	listeners := h.listeners
	h.mu.Unlock()

	if derived == nil {
		h.logger.Debug("handshake accepted without usable url", "origin", msg.Origin)
	}
	if changed != nil {
		h.logger.Info("resolving context updated", "product_id", changed.ProductID.Hex(), "origin", changed.Origin)
		for _, fn := range listeners {
			fn(changed)
		}
	}

	record(h.metrics.handshakes, "accepted", 1)
	return true
}

// SetAutoContext derives an initial context from the page referrer. It never
// replaces a context established by a handshake.
func (h *HandshakeResolver) SetAutoContext(referrer string) bool {
	derived := DeriveContext(true, referrer)
	if derived == nil {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil {
		return false
	}
	h.current = derived
	return true
}

// EnsureContext starts a handshake when the context is missing or automatic.
// It reports whether a context was available at call time.
func (h *HandshakeResolver) EnsureContext(ctx context.Context) bool {
	h.mu.Lock()
	current := h.current
	h.mu.Unlock()

	if current != nil && !current.IsAutoContext {
		return true
	}
	if _, err := h.Start(ctx); err != nil {
		h.logger.Debug("handshake not started", "error", err)
	}
	return current != nil
}

// Context returns a copy of the current context, if any.
func (h *HandshakeResolver) Context() (*core.ResolvingContext, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return nil, false
	}
	return copyContext(h.current), true
}

// RequireContext fails fast with core.ErrContextUnresolved when no context exists.
func (h *HandshakeResolver) RequireContext() (*core.ResolvingContext, error) {
	current, ok := h.Context()
	if !ok {
		return nil, core.ErrContextUnresolved
	}
	return current, nil
}

// OnContextChange registers fn, called after each context replacement.
func (h *HandshakeResolver) OnContextChange(fn func(*core.ResolvingContext)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Pending returns the number of outstanding handshake tokens.
func (h *HandshakeResolver) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.purgeLocked()
	return len(h.pending)
}

// IsPending reports whether token is still awaiting a response.
func (h *HandshakeResolver) IsPending(token string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.purgeLocked()
	_, ok := h.pending[token]
	return ok
}

func (h *HandshakeResolver) purgeLocked() {
	now := h.now()
	for token, issuedAt := range h.pending {
		if now.Sub(issuedAt) > h.ttl {
			delete(h.pending, token)
		}
	}
}

// DeriveContext builds a context from the first candidate URL with a host.
// It returns nil when none is usable.
func DeriveContext(isAuto bool, candidates ...string) *core.ResolvingContext {
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		u, err := url.Parse(candidate)
		if err != nil || u.Host == "" {
			continue
		}
		host := strings.ToLower(u.Host)
		return &core.ResolvingContext{
			ProductID:      eth.ProductID(host),
			Origin:         u.Scheme + "://" + host,
			SourceURL:      candidate,
			IsAutoContext:  isAuto,
			WalletReferrer: walletReferrer(u),
		}
	}
	return nil
}

// FrakContextParam is the query parameter carrying the referral context
const FrakContextParam = "fCtx"

// walletReferrer decodes the referring wallet from the fCtx parameter, a
// base64url encoding of the raw address bytes.
func walletReferrer(u *url.URL) *common.Address {
	raw := u.Query().Get(FrakContextParam)
	if raw == "" {
		return nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil || len(decoded) != common.AddressLength {
		return nil
	}
	referrer := common.BytesToAddress(decoded)
	return &referrer
}

func copyContext(c *core.ResolvingContext) *core.ResolvingContext {
	cp := *c
	if c.WalletReferrer != nil {
		referrer := *c.WalletReferrer
		cp.WalletReferrer = &referrer
	}
	return &cp
}
