// Package handoff bridges web-created carts into chat-bound orders through
// one-time start tokens.
package handoff

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bikastore/backend/internal/domain"
)

// Marker prefixes every issued token so the bot can tell a web handoff apart
// from any other /start payload. Telegram caps deep-link payloads at 64
// bytes; marker + 24 hex chars stays well inside that.
const Marker = "web_"

const tokenBytes = 12

// DefaultTTL is how long a customer has to open the chat after checkout.
const DefaultTTL = 30 * time.Minute

// CartPayload is what a token resolves to on claim. OrderID points at the
// order row created by the web endpoint; the cart fields ride along so the
// bot can render a preview without another lookup.
type CartPayload struct {
	OrderID int64
	Game    domain.Game
	Items   []domain.OrderItem
	GameIDs domain.GameIDs
	Total   int64
}

type entry struct {
	payload   CartPayload
	createdAt time.Time
}

// Broker is a process-local, one-time-use token store. Claim is a single
// atomic remove-and-return: under concurrent claims of the same token exactly
// one caller wins and the rest see domain.ErrNotFound.
type Broker struct {
	mu      sync.Mutex
	entries map[string]entry

	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewBroker(ttl time.Duration, now func() time.Time, logger *slog.Logger) *Broker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Broker{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     now,
		logger:  logger,
	}
}

// Issue stores the payload under a fresh random token and returns the token
// with the routing marker prefixed.
func (b *Broker) Issue(payload CartPayload) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate handoff token: %w", err)
	}
	token := Marker + hex.EncodeToString(buf)

	b.mu.Lock()
	b.entries[token] = entry{payload: payload, createdAt: b.now()}
	b.mu.Unlock()

	return token, nil
}

// Claim consumes the token and returns its payload. Unknown, already claimed
// and expired tokens are indistinguishable to the caller: all are
// domain.ErrNotFound.
func (b *Broker) Claim(token string) (CartPayload, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[token]
	if !ok {
		return CartPayload{}, fmt.Errorf("%w: unknown or already claimed token", domain.ErrNotFound)
	}
	delete(b.entries, token)

	if b.now().Sub(e.createdAt) > b.ttl {
		return CartPayload{}, fmt.Errorf("%w: token expired", domain.ErrNotFound)
	}
	return e.payload, nil
}

// Run sweeps expired tokens until ctx is cancelled, bounding memory for
// handoffs that are never claimed.
func (b *Broker) Run(ctx context.Context) {
	ticker := time.NewTicker(b.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := b.sweep(); removed > 0 {
				b.logger.Info("swept expired handoff tokens", "removed", removed)
			}
		}
	}
}

func (b *Broker) sweep() int {
	cutoff := b.now().Add(-b.ttl)

	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for token, e := range b.entries {
		if e.createdAt.Before(cutoff) {
			delete(b.entries, token)
			removed++
		}
	}
	return removed
}
