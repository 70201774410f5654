// Package retention remembers outbound chat message ids so finished orders
// can have their conversational clutter deleted.
package retention

import (
	"context"
	"log/slog"
	"sync"
)

// capPerChat bounds how many message ids are kept per chat; the oldest entry
// is evicted on overflow.
const capPerChat = 50

// Deleter is the single Telegram call purging needs.
type Deleter interface {
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

// Tracker keeps a bounded trailing window of message ids per chat and deletes
// them on request. Deletion is best-effort per message: one failed delete
// never stops the rest, and no failure propagates to the caller.
type Tracker struct {
	mu       sync.Mutex
	messages map[int64][]int64

	deleter Deleter
	logger  *slog.Logger
}

func NewTracker(deleter Deleter, logger *slog.Logger) *Tracker {
	return &Tracker{
		messages: make(map[int64][]int64),
		deleter:  deleter,
		logger:   logger,
	}
}

// Record appends a message id to the chat's window.
func (t *Tracker) Record(chatID, messageID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := append(t.messages[chatID], messageID)
	if len(ids) > capPerChat {
		ids = ids[len(ids)-capPerChat:]
	}
	t.messages[chatID] = ids
}

// Tracked returns how many message ids are currently held for a chat.
func (t *Tracker) Tracked(chatID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages[chatID])
}

// Purge deletes every tracked message for the chat except the most recent
// keepLast. The snapshot of ids to delete is taken under the lock; the remote
// calls happen outside it.
func (t *Tracker) Purge(ctx context.Context, chatID int64, keepLast int) {
	if keepLast < 0 {
		keepLast = 0
	}

	t.mu.Lock()
	ids := t.messages[chatID]
	if len(ids) <= keepLast {
		t.mu.Unlock()
		return
	}
	toDelete := make([]int64, len(ids)-keepLast)
	copy(toDelete, ids[:len(ids)-keepLast])
	kept := make([]int64, keepLast)
	copy(kept, ids[len(ids)-keepLast:])
	t.messages[chatID] = kept
	t.mu.Unlock()

	failed := 0
	for _, messageID := range toDelete {
		if err := t.deleter.DeleteMessage(ctx, chatID, messageID); err != nil {
			failed++
			t.logger.Warn("failed to delete chat message",
				"chat_id", chatID, "message_id", messageID, "error", err)
		}
	}
	t.logger.Info("purged chat messages",
		"chat_id", chatID, "deleted", len(toDelete)-failed, "failed", failed, "kept", keepLast)
}
