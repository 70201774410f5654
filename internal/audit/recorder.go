// Package audit persists the order status event stream into an append-only
// table, giving operators a queryable history of every transition.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bikastore/backend/internal/domain"
)

// Store is the persistence half of the recorder.
type Store interface {
	InsertEvent(ctx context.Context, event domain.OrderStatusEvent) error
}

// Recorder is the Kafka handler: it decodes each payload and writes it to
// the store. Insertion is keyed by event id, so a redelivered message is a
// no-op and the handler is safe to replay.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

func (r *Recorder) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderStatusEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		// A payload that never parses would block the partition forever
		// if returned as an error; log it and move on.
		r.logger.Error("dropping malformed order status event", "error", err)
		return nil
	}

	if err := r.store.InsertEvent(ctx, event); err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}

	r.logger.Info("order status event recorded",
		"event_id", event.EventID, "order_id", event.OrderID, "from", event.From, "to", event.To)
	return nil
}

// PostgresStore writes events to the order_events table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) InsertEvent(ctx context.Context, event domain.OrderStatusEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_events (event_id, order_id, order_code, from_status, to_status, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, event.OrderID, event.OrderCode,
		string(event.From), string(event.To), event.Timestamp,
	)
	return err
}
